package settlement

import (
	"sync"
	"time"
)

// TradeExpired is emitted when a timer-resolved trade reaches its expiry
type TradeExpired struct {
	TradeID string
}

// ExpiryScheduler turns timer expirations into messages instead of
// callbacks: timers never touch shared state, they publish a TradeExpired
// event that the engine consumes under its own locking.
type ExpiryScheduler struct {
	mu          sync.Mutex
	timers      map[string]*time.Timer
	expirations chan TradeExpired
	stopped     bool
}

// NewExpiryScheduler creates a scheduler with a buffered expiration channel
func NewExpiryScheduler() *ExpiryScheduler {
	return &ExpiryScheduler{
		timers:      make(map[string]*time.Timer),
		expirations: make(chan TradeExpired, 128),
	}
}

// Schedule arms a timer that publishes a TradeExpired event after expiry.
// Trades cannot be cancelled, so there is no unschedule operation.
func (s *ExpiryScheduler) Schedule(tradeID string, expiry time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	s.timers[tradeID] = time.AfterFunc(expiry, func() {
		s.mu.Lock()
		delete(s.timers, tradeID)
		stopped := s.stopped
		s.mu.Unlock()

		if !stopped {
			s.expirations <- TradeExpired{TradeID: tradeID}
		}
	})
}

// Expirations returns the channel of expiry events
func (s *ExpiryScheduler) Expirations() <-chan TradeExpired {
	return s.expirations
}

// Stop disarms all timers. The expiration channel stays open so that a
// timer firing concurrently with Stop never sends on a closed channel;
// consumers exit through their own context instead.
func (s *ExpiryScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.stopped = true

	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}
