package message

import "reflect"

// Attributes is the ordered set of attributes carried by a message. It holds
// at most one value per concrete runtime type; pointer and value forms of the
// same struct are distinct types. The zero value is an empty set.
//
// A set belongs to the struct it lives in. Copying a message struct by value
// gives the copy an empty set, and the two never share attributes.
//
// Attributes is not safe for concurrent mutation. The queue runtime must
// confine updates of a given message to a single goroutine, and reads must
// not overlap a write.
type Attributes struct {
	self   *Attributes // set on first write; differs from the receiver in a copy
	order  []reflect.Type
	values map[reflect.Type]Attribute
}

// owned reports whether the state in s was written through s itself rather
// than copied in from another set.
func (s *Attributes) owned() bool {
	return s.self == s
}

// Len returns the number of attributes held.
func (s *Attributes) Len() int {
	if !s.owned() {
		return 0
	}
	return len(s.order)
}

// All returns the attributes in insertion order. The returned slice is a
// copy; modifying it does not affect the set.
func (s *Attributes) All() []Attribute {
	if !s.owned() {
		return []Attribute{}
	}
	out := make([]Attribute, 0, len(s.order))
	for _, t := range s.order {
		out = append(out, s.values[t])
	}
	return out
}

func (s *Attributes) get(t reflect.Type) (Attribute, bool) {
	if !s.owned() {
		return nil, false
	}
	a, ok := s.values[t]
	return a, ok
}

// put replaces any attribute of a's exact type, moving it to the end.
func (s *Attributes) put(a Attribute) {
	if !s.owned() {
		// Zero value or a copy: drop whatever was copied in and start afresh.
		s.self = s
		s.order = nil
		s.values = make(map[reflect.Type]Attribute)
	}
	t := reflect.TypeOf(a)
	if _, ok := s.values[t]; ok {
		for i, existing := range s.order {
			if existing == t {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.order = append(s.order, t)
	s.values[t] = a
}
