package session

import (
	"context"
	"time"

	"batlog/pkg/meter"

	"github.com/womat/debug"
)

// Pump turns the session's raw frame queue into decoded readings.
type Pump struct {
	session *Session
}

// NewPump creates a pump for the session.
func NewPump(session *Session) *Pump {
	return &Pump{session: session}
}

// Run is the long-lived acquisition loop: bring the session to
// Subscribed, then decode every inbound frame and deliver each reading
// synchronously, in arrival order, to onReading. Malformed frames are
// data, not faults; they are discarded and the pump keeps going.
// After link loss the session re-enters scanning with doubling backoff
// if config.Reconnect is set, otherwise Run returns ErrLinkLost.
// Run returns the context error on cancellation, releasing the link.
func (p *Pump) Run(ctx context.Context, onReading func(meter.Reading)) error {
	bo := newBackoff(p.session.config.BackoffMin, p.session.config.BackoffMax)

	for {
		if err := p.session.EnsureSubscribed(ctx); err != nil {
			return err
		}
		bo.reset()

		if err := p.consume(ctx, onReading); err != nil {
			return err
		}

		// link lost
		p.session.dropLink()
		if !p.session.config.Reconnect {
			return ErrLinkLost
		}

		delay := bo.next()
		debug.InfoLog.Printf("link lost, rescanning in %v", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// consume drains the frame queue until the link drops (returns nil)
// or ctx is cancelled.
func (p *Pump) consume(ctx context.Context, onReading func(meter.Reading)) error {
	for {
		select {
		case <-ctx.Done():
			_ = p.session.Close()
			return ctx.Err()
		case <-p.session.Lost():
			return nil
		case frame := <-p.session.Frames():
			reading, err := meter.Decode(p.session.config.Variant, frame)
			if err != nil {
				debug.TraceLog.Printf("discarding frame (%d bytes): %v", len(frame), err)
				continue
			}
			onReading(reading)
		}
	}
}
