package session

import "time"

// reconnect backoff bounds, used when config leaves them unset.
const (
	initialBackoff = time.Second
	maxBackoff     = time.Minute
)

// backoff produces doubling reconnect delays up to a maximum.
type backoff struct {
	current time.Duration
	min     time.Duration
	max     time.Duration
}

func newBackoff(min, max time.Duration) *backoff {
	if min <= 0 {
		min = initialBackoff
	}
	if max < min {
		max = maxBackoff
		if max < min {
			max = min
		}
	}
	return &backoff{current: min, min: min, max: max}
}

// next returns the current delay and doubles it for the next call.
func (b *backoff) next() time.Duration {
	d := b.current
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

// reset restarts from the minimum delay.
// Call after a successful resubscribe.
func (b *backoff) reset() {
	b.current = b.min
}
