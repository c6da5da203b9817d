package dispatch

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/ride-dispatch/internal/geo"
)

// Offer tracks one in-flight request-to-acceptance window: which drivers were
// invited and whether the ride has been claimed. The resolved flag is the
// sole mutual exclusion across concurrently accepting drivers; it is a plain
// compare-and-swap, never a lock held across the state-machine commit.
type Offer struct {
	RideID     string
	Candidates []geo.Candidate

	resolved atomic.Bool
}

func newOffer(rideID string, candidates []geo.Candidate) *Offer {
	return &Offer{RideID: rideID, Candidates: candidates}
}

// TryResolve claims the offer. Only the first caller wins.
func (o *Offer) TryResolve() bool {
	return o.resolved.CompareAndSwap(false, true)
}

// Reopen releases a claim after a failed assignment so the remaining
// candidates can still race for the ride.
func (o *Offer) Reopen() {
	o.resolved.Store(false)
}

func (o *Offer) Resolved() bool { return o.resolved.Load() }

// CandidateIDs returns invited driver ids, excluding the given one.
func (o *Offer) CandidateIDs(except string) []string {
	out := make([]string, 0, len(o.Candidates))
	for _, c := range o.Candidates {
		if c.DriverID == except {
			continue
		}
		out = append(out, c.DriverID)
	}
	return out
}

// offerBook indexes open offers by ride id. Offer state lives inside each
// Offer; the book's lock covers only map membership.
type offerBook struct {
	mu     sync.RWMutex
	offers map[string]*Offer
}

func newOfferBook() *offerBook {
	return &offerBook{offers: make(map[string]*Offer)}
}

func (b *offerBook) put(o *Offer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.offers[o.RideID] = o
}

func (b *offerBook) get(rideID string) (*Offer, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.offers[rideID]
	return o, ok
}

func (b *offerBook) remove(rideID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.offers, rideID)
}

// removeAfter evicts the entry once the grace window for late acceptance
// attempts has passed, keeping the book bounded over process lifetime.
func (b *offerBook) removeAfter(rideID string, d time.Duration) {
	time.AfterFunc(d, func() { b.remove(rideID) })
}

func (b *offerBook) size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.offers)
}
