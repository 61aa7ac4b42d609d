package ledger

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindLike    Kind = "like"
	KindComment Kind = "comment"
	KindMessage Kind = "message"
)

// Mutation is a locally-initiated action awaiting server confirmation.
type Mutation struct {
	ProvisionalID string
	Kind          Kind
	TargetID      string
	Payload       any
	CreatedAt     time.Time
}

type slot struct {
	kind   Kind
	target string
}

// Ledger bridges "user acted" and "server confirmed". At most one
// mutation is pending per (kind, target); beginning a second replaces
// the first rather than queueing a conflicting operation.
type Ledger struct {
	mu      sync.Mutex
	pending map[slot]Mutation
	now     func() time.Time
}

func New() *Ledger {
	return &Ledger{
		pending: map[slot]Mutation{},
		now:     time.Now,
	}
}

// NewProvisionalID returns a client-only id for an entity the backend
// has not yet named.
func NewProvisionalID() string {
	return "temp_" + uuid.NewString()
}

// IsProvisional reports whether an id was minted locally by
// NewProvisionalID rather than assigned by the backend.
func IsProvisional(id string) bool {
	return strings.HasPrefix(id, "temp_")
}

// Begin records a pending mutation and returns its provisional id.
// Last writer wins for the (kind, target) slot.
func (l *Ledger) Begin(kind Kind, targetID string, payload any) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	m := Mutation{
		ProvisionalID: NewProvisionalID(),
		Kind:          kind,
		TargetID:      targetID,
		Payload:       payload,
		CreatedAt:     l.now(),
	}
	l.pending[slot{kind, targetID}] = m
	return m.ProvisionalID
}

// Resolve removes the mutation with the given provisional id. The
// removed entry is returned so that a caller resolving a failure can
// roll its speculative change back. The second return is false when no
// matching entry exists (already reconciled or replaced).
func (l *Ledger) Resolve(provisionalID string) (Mutation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, m := range l.pending {
		if m.ProvisionalID == provisionalID {
			delete(l.pending, key)
			return m, true
		}
	}
	return Mutation{}, false
}

// ReconcileIncoming discards the pending entry for (kind, target) when
// the authoritative echo of our own action arrives over the channel,
// so the optimistic copy and the broadcast never coexist.
func (l *Ledger) ReconcileIncoming(kind Kind, targetID string) (Mutation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := slot{kind, targetID}
	m, ok := l.pending[key]
	if ok {
		delete(l.pending, key)
	}
	return m, ok
}

// Pending reports the outstanding mutation for (kind, target), if any.
func (l *Ledger) Pending(kind Kind, targetID string) (Mutation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.pending[slot{kind, targetID}]
	return m, ok
}

// Len reports how many mutations are outstanding.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}
