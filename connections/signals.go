package connections

import (
	"sync"

	"github.com/PipeOpsHQ/rube/platform"
)

// Signals fans connected-account status notifications out to waiters. A
// waiter sees at most the latest undelivered status; publishing never
// blocks.
type Signals struct {
	mu   sync.Mutex
	subs map[string]map[chan platform.ConnectionStatus]struct{}
}

func NewSignals() *Signals {
	return &Signals{subs: make(map[string]map[chan platform.ConnectionStatus]struct{})}
}

// Subscribe registers interest in one account. The returned cancel func
// must be called when the waiter is done.
func (s *Signals) Subscribe(accountID string) (<-chan platform.ConnectionStatus, func()) {
	ch := make(chan platform.ConnectionStatus, 1)
	if s == nil {
		return ch, func() {}
	}
	s.mu.Lock()
	set, ok := s.subs[accountID]
	if !ok {
		set = make(map[chan platform.ConnectionStatus]struct{})
		s.subs[accountID] = set
	}
	set[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if set, ok := s.subs[accountID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(s.subs, accountID)
				}
			}
		})
	}
}

// Publish notifies every waiter of accountID and returns how many there were.
func (s *Signals) Publish(accountID string, status platform.ConnectionStatus) int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.subs[accountID]
	for ch := range set {
		select {
		case ch <- status:
		default:
			// Replace the stale pending status with the newer one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- status:
			default:
			}
		}
	}
	return len(set)
}

// Waiters reports how many subscriptions are open for accountID.
func (s *Signals) Waiters(accountID string) int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[accountID])
}
