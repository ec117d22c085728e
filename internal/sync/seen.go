package sync

// seenSet remembers the last limit ids added, evicting the oldest first.
type seenSet struct {
	limit int
	ids   map[string]struct{}
	ring  []string
	next  int
}

func newSeenSet(limit int) *seenSet {
	return &seenSet{
		limit: limit,
		ids:   make(map[string]struct{}, limit),
		ring:  make([]string, 0, limit),
	}
}

// Add records id and reports whether it was new.
func (s *seenSet) Add(id string) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	if len(s.ring) < s.limit {
		s.ring = append(s.ring, id)
	} else {
		delete(s.ids, s.ring[s.next])
		s.ring[s.next] = id
		s.next = (s.next + 1) % s.limit
	}
	s.ids[id] = struct{}{}
	return true
}

// Len returns how many ids are remembered.
func (s *seenSet) Len() int {
	return len(s.ids)
}
