package internal

// Set is an unordered collection of unique items.
type Set[T comparable] struct {
	items map[T]struct{}
}

func NewSet[T comparable](capacity int) *Set[T] {
	return &Set[T]{items: make(map[T]struct{}, capacity)}
}

// Insert adds item and reports whether it was not already present.
func (s *Set[T]) Insert(item T) bool {
	if _, ok := s.items[item]; ok {
		return false
	}
	s.items[item] = struct{}{}
	return true
}

func (s *Set[T]) Contains(item T) bool {
	_, ok := s.items[item]
	return ok
}

func (s *Set[T]) Len() int {
	return len(s.items)
}
