package attr

// Set holds attribute values keyed by Kind.  Writes to an existing key
// overwrite its value but keep its original position.  The zero value is
// ready to use.  A Set is not safe for concurrent use; its owner provides
// any locking.
type Set struct {
	order  []Kind
	values map[Kind]string
}

// Set stores v under k, truncating it to MaxLen bytes.
func (s *Set) Set(k Kind, v string) {
	if len(v) > MaxLen {
		v = v[:MaxLen]
	}
	if s.values == nil {
		s.values = make(map[Kind]string)
	}
	if _, ok := s.values[k]; !ok {
		s.order = append(s.order, k)
	}
	s.values[k] = v
}

// Get returns the value stored under k, or "" if none.
func (s *Set) Get(k Kind) string {
	return s.values[k]
}

// Lookup returns the value stored under k and whether it was set at all.
func (s *Set) Lookup(k Kind) (string, bool) {
	v, ok := s.values[k]
	return v, ok
}

// Len is the number of distinct kinds stored.
func (s *Set) Len() int { return len(s.order) }

// Kinds lists the stored kinds in order of their first write.
func (s *Set) Kinds() []Kind {
	out := make([]Kind, len(s.order))
	copy(out, s.order)
	return out
}

// Clone returns an independent copy of the set.
func (s *Set) Clone() *Set {
	c := &Set{}
	for _, k := range s.order {
		c.Set(k, s.values[k])
	}
	return c
}
