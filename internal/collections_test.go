package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetInsert(t *testing.T) {
	s := NewSet[string](2)
	assert.True(t, s.Insert("a"))
	assert.True(t, s.Insert("b"))
	assert.False(t, s.Insert("a"))
	assert.Equal(t, 2, s.Len())
}

func TestSetContains(t *testing.T) {
	s := NewSet[int](0)
	assert.False(t, s.Contains(1))
	s.Insert(1)
	assert.True(t, s.Contains(1))
	assert.False(t, s.Contains(2))
}
