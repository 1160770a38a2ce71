// Package sched implements the run queue: a cooperative round-robin
// scheduler with no preemption logic of its own (the trap dispatcher decides
// when to call into it) -- grounded on original_source's src/sched/queue.h/
// .cpp, rewritten over a slice instead of a hand-rolled doubly linked list.
package sched

import "github.com/ngiddings-clone/arm64kernel/internal/proc"

// Scheduler is a FIFO run queue plus the notion of "the process currently
// running", matching original_source's queue class (enqueue/dequeue/
// sched_next/get_cur_process/set_cur_process).
type Scheduler struct {
	runnable []*proc.Process
	current  *proc.Process
}

// New returns an empty scheduler.
func New() *Scheduler {
	return &Scheduler{}
}

// Enqueue appends process to the back of the run queue.
func (s *Scheduler) Enqueue(p *proc.Process) {
	s.runnable = append(s.runnable, p)
}

// Dequeue removes and returns the process at the front of the run queue, or
// nil if it is empty.
func (s *Scheduler) Dequeue() *proc.Process {
	if len(s.runnable) == 0 {
		return nil
	}
	p := s.runnable[0]
	s.runnable = s.runnable[1:]
	return p
}

// Remove pulls the process with the given pid out of the run queue
// entirely (original_source's queue::remove, used when a process is killed
// while still waiting its turn).
func (s *Scheduler) Remove(pid proc.Pid) *proc.Process {
	for i, p := range s.runnable {
		if p.Pid() == pid {
			s.runnable = append(s.runnable[:i], s.runnable[i+1:]...)
			return p
		}
	}
	return nil
}

// Peek returns the process at the front of the run queue without removing
// it, or nil if empty.
func (s *Scheduler) Peek() *proc.Process {
	if len(s.runnable) == 0 {
		return nil
	}
	return s.runnable[0]
}

// SchedNext re-enqueues the currently running process (if any) and pulls
// the next one to run, becoming the new current process. Returns nil if
// there is nothing runnable.
func (s *Scheduler) SchedNext() *proc.Process {
	if s.current != nil {
		s.Enqueue(s.current)
		s.current = nil
	}
	if len(s.runnable) == 0 {
		return nil
	}
	s.current = s.Dequeue()
	return s.current
}

// CurrentProcess returns the process currently scheduled to run.
func (s *Scheduler) CurrentProcess() *proc.Process { return s.current }

// SetCurrentProcess forces the current process without touching the run
// queue (used after teardown, to clear a process the scheduler must no
// longer consider "running").
func (s *Scheduler) SetCurrentProcess(p *proc.Process) { s.current = p }

// Len reports how many processes are waiting in the run queue (not
// counting the current process).
func (s *Scheduler) Len() int { return len(s.runnable) }

// Empty reports whether the run queue has no waiting processes.
func (s *Scheduler) Empty() bool { return len(s.runnable) == 0 }
