package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDoublesUpToMax(t *testing.T) {
	bo := newBackoff(time.Second, 10*time.Second)

	for _, want := range []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
	} {
		assert.Equal(t, want, bo.next())
	}

	bo.reset()
	assert.Equal(t, time.Second, bo.next())
}

func TestBackoffDefaults(t *testing.T) {
	bo := newBackoff(0, 0)
	assert.Equal(t, initialBackoff, bo.min)
	assert.Equal(t, maxBackoff, bo.max)
}

func TestBackoffMinAboveDefaultMax(t *testing.T) {
	// a floor above the default cap raises the cap, never the other
	// way around
	bo := newBackoff(2*time.Minute, 0)

	assert.Equal(t, 2*time.Minute, bo.next())
	assert.Equal(t, 2*time.Minute, bo.next())
}
