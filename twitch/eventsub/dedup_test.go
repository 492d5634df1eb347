package eventsub

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeenSetDetectsDuplicates(t *testing.T) {
	s := newSeenSet()

	assert.False(t, s.Observe("a"))
	assert.False(t, s.Observe("b"))
	assert.True(t, s.Observe("a"))
	assert.True(t, s.Observe("b"))
	assert.False(t, s.Observe("c"))
}

func TestSeenSetEvictsOldest(t *testing.T) {
	s := newSeenSet()

	for i := 0; i < seenCapacity; i++ {
		assert.False(t, s.Observe(fmt.Sprintf("id-%d", i)))
	}
	// window full: every id still present
	assert.True(t, s.Observe("id-0"))

	// one more pushes out the oldest entry, id-0
	assert.False(t, s.Observe("overflow"))
	assert.False(t, s.Observe("id-0"), "evicted id should read as new again")
	assert.True(t, s.Observe("overflow"))
	assert.True(t, s.Observe(fmt.Sprintf("id-%d", seenCapacity-1)))
}
