// Package history provides fixed-capacity, time-stamped rolling buffers of
// sensor values along with the statistics the station and its consumers
// compute over them.
//
// Statistical accessors never fail: an empty buffer (or an empty selection)
// yields zero. Only Latest reports ErrEmptyHistory, since a sensor that has
// not reported yet has no "most recent" value to hand out.
package history

import (
	"errors"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/chrissnell/weatherhat/internal/clock"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DefaultDepth is the capacity used when a station does not configure one.
const DefaultDepth = 1200

// ErrEmptyHistory is returned by Latest when no samples have been appended.
var ErrEmptyHistory = errors.New("history is empty")

// Number is the set of value types a Buffer can hold.
type Number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// Sample is a value paired with the time it was captured.
type Sample[T any] struct {
	Value     T         `json:"value" msgpack:"value"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
}

// Option configures a Buffer.
type Option func(*options)

type options struct {
	clock clock.Clock
}

// WithClock sets the time source used to stamp appends and evaluate gusts.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// Buffer is a bounded, oldest-first ring of samples. Appending to a full
// buffer evicts the oldest sample. A Buffer is safe for concurrent use.
type Buffer[T Number] struct {
	mu      sync.RWMutex
	samples []Sample[T]
	head    int // index of the oldest sample
	count   int
	clock   clock.Clock
}

// New creates a Buffer holding at most capacity samples. A capacity below
// one is treated as one.
func New[T Number](capacity int, opts ...Option) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}

	o := options{clock: clock.Real{}}
	for _, opt := range opts {
		opt(&o)
	}

	return &Buffer[T]{
		samples: make([]Sample[T], capacity),
		clock:   o.clock,
	}
}

// Cap returns the buffer's capacity.
func (b *Buffer[T]) Cap() int {
	return len(b.samples)
}

// Len returns the number of samples currently held.
func (b *Buffer[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Append stores v stamped with the buffer clock's current time.
func (b *Buffer[T]) Append(v T) {
	b.AppendAt(v, b.clock.Now())
}

// AppendAt stores v with an explicit timestamp.
func (b *Buffer[T]) AppendAt(v T, ts time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := len(b.samples)
	if b.count < capacity {
		b.samples[(b.head+b.count)%capacity] = Sample[T]{Value: v, Timestamp: ts}
		b.count++
		return
	}

	// Full: overwrite the oldest and move head forward.
	b.samples[b.head] = Sample[T]{Value: v, Timestamp: ts}
	b.head = (b.head + 1) % capacity
}

// Latest returns the most recently appended sample.
func (b *Buffer[T]) Latest() (Sample[T], error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.count == 0 {
		return Sample[T]{}, ErrEmptyHistory
	}
	return b.samples[(b.head+b.count-1)%len(b.samples)], nil
}

// Samples returns a copy of the most recent depth samples, oldest first.
// A depth of zero or less selects every sample; depth is clamped to Len.
func (b *Buffer[T]) Samples(depth int) []Sample[T] {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tail(depth)
}

// History returns a read-only view of the most recent depth samples,
// oldest first. Every range over the returned sequence takes a fresh
// snapshot, so the view can be iterated any number of times.
func (b *Buffer[T]) History(depth int) iter.Seq[Sample[T]] {
	return func(yield func(Sample[T]) bool) {
		for _, s := range b.Samples(depth) {
			if !yield(s) {
				return
			}
		}
	}
}

// tail must be called with mu held.
func (b *Buffer[T]) tail(depth int) []Sample[T] {
	if depth <= 0 || depth > b.count {
		depth = b.count
	}

	out := make([]Sample[T], depth)
	start := b.head + b.count - depth
	for i := range out {
		out[i] = b.samples[(start+i)%len(b.samples)]
	}
	return out
}

func (b *Buffer[T]) values(window int) []float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	tail := b.tail(window)
	vals := make([]float64, len(tail))
	for i, s := range tail {
		vals[i] = float64(s.Value)
	}
	return vals
}

// Average returns the arithmetic mean of the most recent window samples
// (every sample when window <= 0), or zero when the buffer is empty.
func (b *Buffer[T]) Average(window int) float64 {
	vals := b.values(window)
	if len(vals) == 0 {
		return 0
	}
	return stat.Mean(vals, nil)
}

// Min returns the smallest value in the window, or zero when empty.
func (b *Buffer[T]) Min(window int) float64 {
	vals := b.values(window)
	if len(vals) == 0 {
		return 0
	}
	return floats.Min(vals)
}

// Max returns the largest value in the window, or zero when empty.
func (b *Buffer[T]) Max(window int) float64 {
	vals := b.values(window)
	if len(vals) == 0 {
		return 0
	}
	return floats.Max(vals)
}

// Median returns the middle value of the sorted window. For an even number
// of samples the lower of the two middle values is returned. Zero when empty.
func (b *Buffer[T]) Median(window int) float64 {
	vals := b.values(window)
	if len(vals) == 0 {
		return 0
	}
	sort.Float64s(vals)
	return stat.Quantile(0.5, stat.Empirical, vals, nil)
}

// Total returns the sum of the window, or zero when empty.
func (b *Buffer[T]) Total(window int) float64 {
	return floats.Sum(b.values(window))
}

// Gust returns the largest value among samples stamped within window of
// the buffer clock's current time. Zero when no sample qualifies.
func (b *Buffer[T]) Gust(window time.Duration) float64 {
	cutoff := b.clock.Now().Add(-window)

	b.mu.RLock()
	defer b.mu.RUnlock()

	var (
		gust  float64
		found bool
	)
	for _, s := range b.tail(0) {
		if s.Timestamp.Before(cutoff) {
			continue
		}
		if v := float64(s.Value); !found || v > gust {
			gust = v
			found = true
		}
	}
	return gust
}

// Timespan returns the timestamps of the oldest and newest samples.
func (b *Buffer[T]) Timespan() (first, last time.Time, err error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.count == 0 {
		return time.Time{}, time.Time{}, ErrEmptyHistory
	}
	first = b.samples[b.head].Timestamp
	last = b.samples[(b.head+b.count-1)%len(b.samples)].Timestamp
	return first, last, nil
}
