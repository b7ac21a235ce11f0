package connector

import "sort"

// subscriptionSet tracks what the session should be subscribed to.
// Pending symbols are sent on the next connect; live ones were acknowledged
// by a successful write on the current session. Not safe for concurrent use.
type subscriptionSet struct {
	pending map[string]struct{}
	live    map[string]struct{}
}

func newSubscriptionSet() *subscriptionSet {
	return &subscriptionSet{
		pending: make(map[string]struct{}),
		live:    make(map[string]struct{}),
	}
}

// reset replaces the set with symbols, all pending
func (s *subscriptionSet) reset(symbols []string) {
	s.pending = make(map[string]struct{}, len(symbols))
	s.live = make(map[string]struct{})
	s.add(symbols)
}

// add queues unknown symbols and returns them
func (s *subscriptionSet) add(symbols []string) []string {
	var added []string
	for _, sym := range symbols {
		if sym == "" {
			continue
		}
		if _, ok := s.pending[sym]; ok {
			continue
		}
		if _, ok := s.live[sym]; ok {
			continue
		}
		s.pending[sym] = struct{}{}
		added = append(added, sym)
	}
	return added
}

// promote marks symbols as live
func (s *subscriptionSet) promote(symbols []string) {
	for _, sym := range symbols {
		if _, ok := s.pending[sym]; !ok {
			continue
		}
		delete(s.pending, sym)
		s.live[sym] = struct{}{}
	}
}

// demote moves every live symbol back to pending after a disconnect
func (s *subscriptionSet) demote() {
	for sym := range s.live {
		s.pending[sym] = struct{}{}
	}
	s.live = make(map[string]struct{})
}

func (s *subscriptionSet) pendingList() []string {
	return sortedKeys(s.pending)
}

func (s *subscriptionSet) liveList() []string {
	return sortedKeys(s.live)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
