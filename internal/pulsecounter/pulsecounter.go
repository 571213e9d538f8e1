// Package pulsecounter reconstructs true tick counts from a hardware switch
// counter that wraps at a fixed modulus.
//
// The counter can only see one wrap between two consecutive reads. If the
// hardware wraps more than once between interrupts the extra wraps are lost;
// that is a limit of the hardware. Advance reports it as an
// OverflowAmbiguityError when the gap between reads is long enough for a wrap
// and the reading moved by at least half the modulus. A long gap with a small
// delta is the normal end of a calm spell and is not reported, so a second
// wrap hidden behind a small delta goes unnoticed.
package pulsecounter

import (
	"errors"
	"fmt"
	"time"
)

// DefaultModulus is the wrap point of the expander's 7-bit switch counter.
const DefaultModulus = 128

// ErrOverflowAmbiguity marks reads where the counter may have wrapped more
// than once since the previous read.
var ErrOverflowAmbiguity = errors.New("pulse counter may have wrapped more than once")

// OverflowAmbiguityError carries the details of a suspicious read gap. It
// matches ErrOverflowAmbiguity with errors.Is.
type OverflowAmbiguityError struct {
	Gap       time.Duration // time since the previous read
	WrapAfter time.Duration // shortest time the hardware needs to wrap once
}

func (e *OverflowAmbiguityError) Error() string {
	return fmt.Sprintf("%v: %v since last read, counter can wrap in %v", ErrOverflowAmbiguity, e.Gap, e.WrapAfter)
}

func (e *OverflowAmbiguityError) Unwrap() error {
	return ErrOverflowAmbiguity
}

// Option configures a Counter.
type Option func(*Counter)

// WithMinTickInterval sets the shortest physically possible time between
// two ticks. A zero interval disables ambiguity detection.
func WithMinTickInterval(d time.Duration) Option {
	return func(c *Counter) {
		c.minTick = d
	}
}

// Counter accumulates ticks across hardware wraps for a single channel.
//
// Counter is not safe for concurrent use. The station serialises the
// interrupt path (Advance) and the polling path (Drain) with its bus lock.
type Counter struct {
	modulus       uint32
	minTick       time.Duration
	accumulated   uint64
	lastRaw       uint32
	lastRead      time.Time
	intervalStart time.Time
}

// New creates a Counter for a hardware counter that wraps at modulus, with
// its interval starting at start. A zero modulus selects DefaultModulus.
func New(modulus uint32, start time.Time, opts ...Option) *Counter {
	if modulus == 0 {
		modulus = DefaultModulus
	}
	c := &Counter{
		modulus:       modulus,
		lastRead:      start,
		intervalStart: start,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Modulus returns the hardware wrap point.
func (c *Counter) Modulus() uint32 {
	return c.modulus
}

// Advance folds a raw hardware reading taken at time at into the tally and
// returns the number of ticks it added. A reading lower than the previous
// one is treated as a single wrap. The returned error, if any, is an
// *OverflowAmbiguityError; the tally has still been updated.
func (c *Counter) Advance(raw uint32, at time.Time) (uint32, error) {
	raw %= c.modulus

	var delta uint32
	if raw < c.lastRaw {
		delta = (c.modulus - c.lastRaw) + raw
	} else {
		delta = raw - c.lastRaw
	}

	c.accumulated += uint64(delta)
	c.lastRaw = raw

	var err error
	if c.minTick > 0 && delta >= c.modulus/2 {
		wrapAfter := time.Duration(c.modulus) * c.minTick
		if gap := at.Sub(c.lastRead); gap > wrapAfter {
			err = &OverflowAmbiguityError{Gap: gap, WrapAfter: wrapAfter}
		}
	}
	c.lastRead = at

	return delta, err
}

// Drain returns the ticks accumulated in the current interval and the
// interval's length, then starts a new interval at at. The hardware counter
// is expected to have just been cleared; resyncRaw is its value after the
// clear (normally zero) and becomes the new reference for Advance.
func (c *Counter) Drain(resyncRaw uint32, at time.Time) (uint64, time.Duration) {
	ticks := c.accumulated
	elapsed := at.Sub(c.intervalStart)

	c.accumulated = 0
	c.lastRaw = resyncRaw % c.modulus
	c.lastRead = at
	c.intervalStart = at

	return ticks, elapsed
}

// Elapsed returns how long the current interval has been running at at.
func (c *Counter) Elapsed(at time.Time) time.Duration {
	return at.Sub(c.intervalStart)
}

// Accumulated returns the ticks counted so far in the current interval.
func (c *Counter) Accumulated() uint64 {
	return c.accumulated
}

// LastRaw returns the most recent raw hardware reading.
func (c *Counter) LastRaw() uint32 {
	return c.lastRaw
}

// IntervalStart returns when the current interval began.
func (c *Counter) IntervalStart() time.Time {
	return c.intervalStart
}
