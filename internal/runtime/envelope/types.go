package envelope

import "sort"

// EventType tags what happened. The set of types a bus accepts is closed and
// configured at startup.
type EventType string

func (t EventType) String() string { return string(t) }

// TypeSet is an immutable set of accepted event types. The empty set accepts
// every non-empty type.
type TypeSet struct {
	types map[EventType]struct{}
}

// NewTypeSet builds a set from the given types, ignoring empty values.
func NewTypeSet(types ...EventType) TypeSet {
	return TypeSet{}.With(types...)
}

// With returns a new set extended with types.
func (s TypeSet) With(types ...EventType) TypeSet {
	merged := make(map[EventType]struct{}, len(s.types)+len(types))
	for t := range s.types {
		merged[t] = struct{}{}
	}
	for _, t := range types {
		if t == "" {
			continue
		}
		merged[t] = struct{}{}
	}
	return TypeSet{types: merged}
}

// Contains reports whether t is accepted by the set.
func (s TypeSet) Contains(t EventType) bool {
	if t == "" {
		return false
	}
	if s.Empty() {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Empty reports whether the set restricts nothing.
func (s TypeSet) Empty() bool { return len(s.types) == 0 }

// Types returns the members in sorted order.
func (s TypeSet) Types() []EventType {
	out := make([]EventType, 0, len(s.types))
	for t := range s.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
