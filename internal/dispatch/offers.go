package dispatch

import "sync"

// pendingOffer is one ride's outstanding offer round. The winner channel is
// buffered so a resolve never blocks even if the coordinator already moved on.
type pendingOffer struct {
	winner chan uint
	once   sync.Once
}

func (p *pendingOffer) resolve(driverID uint) (won bool) {
	p.once.Do(func() {
		p.winner <- driverID
		won = true
	})
	return won
}

// OfferTracker holds the outstanding offers keyed by ride. All methods are
// safe for concurrent use; Resolve and Invalidate are called from HTTP
// handlers while Dispatch waits on the other side.
type OfferTracker struct {
	mu      sync.Mutex
	pending map[uint]*pendingOffer
}

func NewOfferTracker() *OfferTracker {
	return &OfferTracker{pending: make(map[uint]*pendingOffer)}
}

// open registers an offer round for rideID, replacing any stale one.
func (t *OfferTracker) open(rideID uint) *pendingOffer {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := &pendingOffer{winner: make(chan uint, 1)}
	t.pending[rideID] = p
	return p
}

// close forgets the round once dispatch has settled it.
func (t *OfferTracker) close(rideID uint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, rideID)
}

// Resolve marks driverID the winner of rideID's outstanding offer. Returns
// false when no round is open, or another driver already won it.
func (t *OfferTracker) Resolve(rideID, driverID uint) bool {
	t.mu.Lock()
	p, ok := t.pending[rideID]
	t.mu.Unlock()
	if !ok {
		return false
	}
	return p.resolve(driverID)
}

// Invalidate withdraws rideID's outstanding offer, if any. The sentinel
// driver id 0 tells the waiting dispatcher to stop without a winner.
func (t *OfferTracker) Invalidate(rideID uint) {
	t.mu.Lock()
	p, ok := t.pending[rideID]
	delete(t.pending, rideID)
	t.mu.Unlock()
	if ok {
		p.resolve(0)
	}
}
