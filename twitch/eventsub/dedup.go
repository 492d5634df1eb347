package eventsub

// seenCapacity bounds the duplicate-detection window. Twitch may redeliver
// a message id at any point within roughly the last minute of traffic, so
// the window is sized well past the protocol's at-least-once redelivery
// horizon.
const seenCapacity = 128

// seenSet remembers the most recent message ids in FIFO order. Not safe for
// concurrent use; the session's processor goroutine owns it.
type seenSet struct {
	ids   map[string]struct{}
	order []string
	next  int
}

func newSeenSet() *seenSet {
	return &seenSet{
		ids:   make(map[string]struct{}, seenCapacity),
		order: make([]string, 0, seenCapacity),
	}
}

// Observe records id and reports whether it was already present. Once the
// window is full the oldest id is forgotten.
func (s *seenSet) Observe(id string) (dup bool) {
	if _, ok := s.ids[id]; ok {
		return true
	}
	if len(s.order) < seenCapacity {
		s.order = append(s.order, id)
	} else {
		delete(s.ids, s.order[s.next])
		s.order[s.next] = id
		s.next = (s.next + 1) % seenCapacity
	}
	s.ids[id] = struct{}{}
	return false
}
