package netdiag

import (
	"log/slog"
	"testing"

	"github.com/miekg/dns"
)

func queryFor(name string) []byte {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeA)
	b, err := m.Pack()
	if err != nil {
		panic(err)
	}
	return b
}

func TestHandleReturnsNoErrorForExistingPath(t *testing.T) {
	d := New(slog.Default(), func(path string) bool { return path == "/bin/init" })
	resp, err := d.Handle(queryFor("bin.init"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	var m dns.Msg
	if err := m.Unpack(resp); err != nil {
		t.Fatalf("Unpack reply: %v", err)
	}
	if m.Rcode != dns.RcodeSuccess {
		t.Fatalf("Rcode = %d, want RcodeSuccess", m.Rcode)
	}
	if len(m.Answer) != 1 {
		t.Fatalf("Answer = %v, want one A record", m.Answer)
	}
}

func TestHandleReturnsNameErrorForMissingPath(t *testing.T) {
	d := New(slog.Default(), func(path string) bool { return false })
	resp, err := d.Handle(queryFor("no.such.file"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	var m dns.Msg
	if err := m.Unpack(resp); err != nil {
		t.Fatalf("Unpack reply: %v", err)
	}
	if m.Rcode != dns.RcodeNameError {
		t.Fatalf("Rcode = %d, want RcodeNameError", m.Rcode)
	}
}

func TestHandleRejectsNonARecordQueries(t *testing.T) {
	d := New(slog.Default(), func(path string) bool { return true })
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn("bin.init"), dns.TypeMX)
	q, _ := m.Pack()

	resp, err := d.Handle(q)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	var reply dns.Msg
	if err := reply.Unpack(resp); err != nil {
		t.Fatalf("Unpack reply: %v", err)
	}
	if reply.Rcode != dns.RcodeNotImplemented {
		t.Fatalf("Rcode = %d, want RcodeNotImplemented", reply.Rcode)
	}
}
