package ledger

import (
	"strings"
	"testing"
)

func TestBeginReplacesPendingSlot(t *testing.T) {
	l := New()

	first := l.Begin(KindLike, "post-1", nil)
	second := l.Begin(KindLike, "post-1", nil)
	if first == second {
		t.Fatalf("expected distinct provisional ids")
	}
	if l.Len() != 1 {
		t.Fatalf("expected exactly one pending mutation, got %d", l.Len())
	}

	m, ok := l.Pending(KindLike, "post-1")
	if !ok || m.ProvisionalID != second {
		t.Fatalf("expected last writer to own the slot")
	}

	// the replaced entry is gone
	if _, ok := l.Resolve(first); ok {
		t.Fatalf("replaced entry should not resolve")
	}
}

func TestBeginSeparateSlots(t *testing.T) {
	l := New()
	l.Begin(KindLike, "post-1", nil)
	l.Begin(KindComment, "post-1", "text")
	l.Begin(KindLike, "post-2", nil)
	if l.Len() != 3 {
		t.Fatalf("expected three independent slots, got %d", l.Len())
	}
}

func TestResolveRemoves(t *testing.T) {
	l := New()
	id := l.Begin(KindComment, "post-1", "hello")

	m, ok := l.Resolve(id)
	if !ok {
		t.Fatalf("expected to resolve pending mutation")
	}
	if m.Payload != "hello" {
		t.Fatalf("expected payload back for rollback, got %v", m.Payload)
	}
	if l.Len() != 0 {
		t.Fatalf("expected ledger empty after resolve")
	}
	if _, ok := l.Resolve(id); ok {
		t.Fatalf("double resolve should report missing")
	}
}

func TestReconcileIncoming(t *testing.T) {
	l := New()
	l.Begin(KindLike, "post-1", nil)

	if _, ok := l.ReconcileIncoming(KindLike, "post-1"); !ok {
		t.Fatalf("expected reconcile to find pending entry")
	}
	if l.Len() != 0 {
		t.Fatalf("expected pending entry discarded")
	}
	if _, ok := l.ReconcileIncoming(KindLike, "post-1"); ok {
		t.Fatalf("expected no entry on second reconcile")
	}
}

func TestNewProvisionalID(t *testing.T) {
	id := NewProvisionalID()
	if !strings.HasPrefix(id, "temp_") {
		t.Fatalf("expected temp_ prefix, got %q", id)
	}
	if id == NewProvisionalID() {
		t.Fatalf("expected unique provisional ids")
	}
	if !IsProvisional(id) {
		t.Fatalf("expected %q to be provisional", id)
	}
	if IsProvisional("c1") {
		t.Fatalf("backend ids are not provisional")
	}
}
