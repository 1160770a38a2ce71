package sched

import (
	"testing"

	"github.com/ngiddings-clone/arm64kernel/internal/kctx"
	"github.com/ngiddings-clone/arm64kernel/internal/proc"
)

func newProc(t *testing.T, pid proc.Pid) *proc.Process {
	t.Helper()
	ctx := kctx.NewWithStack(0, make([]byte, 64), 0x7000)
	return proc.New(pid, 0, ctx, nil)
}

func TestSchedNextRotatesRoundRobin(t *testing.T) {
	s := New()
	a := newProc(t, 1)
	b := newProc(t, 2)
	s.Enqueue(a)
	s.Enqueue(b)

	if got := s.SchedNext(); got != a {
		t.Fatalf("first SchedNext = pid %d, want pid %d", got.Pid(), a.Pid())
	}
	if got := s.SchedNext(); got != b {
		t.Fatalf("second SchedNext = pid %d, want pid %d", got.Pid(), b.Pid())
	}
	if got := s.SchedNext(); got != a {
		t.Fatalf("third SchedNext = pid %d, want pid %d (wrapped around)", got.Pid(), a.Pid())
	}
}

func TestSchedNextOnEmptyQueueReturnsNil(t *testing.T) {
	s := New()
	if s.SchedNext() != nil {
		t.Fatalf("SchedNext on an empty scheduler should return nil")
	}
}

func TestRemoveDropsProcessFromQueue(t *testing.T) {
	s := New()
	a := newProc(t, 1)
	b := newProc(t, 2)
	s.Enqueue(a)
	s.Enqueue(b)

	got := s.Remove(1)
	if got != a {
		t.Fatalf("Remove(1) = %v, want process a", got)
	}
	if s.Len() != 1 {
		t.Fatalf("queue length after Remove = %d, want 1", s.Len())
	}
	if s.Peek() != b {
		t.Fatalf("remaining process after Remove = pid %d, want pid %d", s.Peek().Pid(), b.Pid())
	}
}

func TestCurrentProcessSurvivesAcrossSchedNext(t *testing.T) {
	s := New()
	a := newProc(t, 1)
	s.Enqueue(a)
	s.SchedNext()

	if s.CurrentProcess() != a {
		t.Fatalf("CurrentProcess = %v, want process a", s.CurrentProcess())
	}
}
