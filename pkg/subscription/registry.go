package subscription

import (
	"context"
	"fmt"
	"sync"
)

// ErrSubscriberIDAlreadyExists rejects a start message reusing the id of a
// still-live subscription on the same connection.
var ErrSubscriberIDAlreadyExists = fmt.Errorf("subscriber id already exists")

// cancellation is one live registry entry. The generation distinguishes
// successive registrations under the same id, so a retiring observer can
// never remove a successor.
type cancellation struct {
	cancel     context.CancelFunc
	generation uint64
}

// subscriptionCancellations is the per-connection registry of live
// operations. The message loop inserts and removes entries, and observers
// retire their own entry on producer exhaustion, so access is guarded.
type subscriptionCancellations struct {
	mu            sync.Mutex
	generation    uint64
	cancellations map[string]cancellation
}

func newSubscriptionCancellations() subscriptionCancellations {
	return subscriptionCancellations{
		cancellations: map[string]cancellation{},
	}
}

// AddWithParent registers id with a context derived from parent and returns
// the registration generation. An id that is currently live is rejected;
// the existing subscription stays untouched.
func (sc *subscriptionCancellations) AddWithParent(id string, parent context.Context) (context.Context, uint64, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if _, ok := sc.cancellations[id]; ok {
		return nil, 0, fmt.Errorf("subscriber for %q: %w", id, ErrSubscriberIDAlreadyExists)
	}

	ctx, cancelFunc := context.WithCancel(parent)
	sc.generation++
	sc.cancellations[id] = cancellation{cancel: cancelFunc, generation: sc.generation}
	return ctx, sc.generation, nil
}

// Cancel releases the producer registered under id and removes the entry.
// It reports whether an entry existed.
func (sc *subscriptionCancellations) Cancel(id string) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	entry, ok := sc.cancellations[id]
	if !ok {
		return false
	}

	entry.cancel()
	delete(sc.cancellations, id)
	return true
}

// CancelGeneration releases the entry under id only while it still belongs
// to the given registration generation. Observers retire their own entry
// with it; against a successor registered under the same id it is a no-op.
func (sc *subscriptionCancellations) CancelGeneration(id string, generation uint64) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	entry, ok := sc.cancellations[id]
	if !ok || entry.generation != generation {
		return false
	}

	entry.cancel()
	delete(sc.cancellations, id)
	return true
}

// CancelAll cancels every live producer. Cancellation only signals the
// producers; waiting for them to finish is the caller's business.
func (sc *subscriptionCancellations) CancelAll() {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	for id, entry := range sc.cancellations {
		entry.cancel()
		delete(sc.cancellations, id)
	}
}

func (sc *subscriptionCancellations) Len() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.cancellations)
}
