package payment

import (
	"fmt"
	"sync"
	"time"
)

// NewReference composes a payment reference from a namespace, a user and a moment.
func NewReference(namespace string, userID int64, at time.Time) string {
	return fmt.Sprintf("%s-%d-%d", namespace, userID, at.UnixNano())
}

// ReferenceGenerator hands out process-unique references. Timestamps are forced to be
// strictly increasing so two calls within the same clock tick still differ.
type ReferenceGenerator struct {
	namespace string
	now       func() time.Time

	mu   sync.Mutex
	last int64
}

// NewReferenceGenerator creates a generator using the wall clock.
func NewReferenceGenerator(namespace string) *ReferenceGenerator {
	return &ReferenceGenerator{namespace: namespace, now: time.Now}
}

// Generate returns a new reference for the user and the time it was stamped with.
func (g *ReferenceGenerator) Generate(userID int64) (string, time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	ts := now.UnixNano()
	if ts <= g.last {
		ts = g.last + 1
		now = time.Unix(0, ts)
	}
	g.last = ts

	return NewReference(g.namespace, userID, now), now
}
