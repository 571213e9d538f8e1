package history

import (
	"iter"
	"math"
	"time"

	"github.com/chrissnell/weatherhat/internal/windvane"
	"gonum.org/v1/gonum/stat"
)

// DefaultGustWindow is the trailing window used to report gusts.
const DefaultGustWindow = 3 * time.Second

// MSToKMPH converts metres/second to kilometres/hour.
func MSToKMPH(ms float64) float64 {
	return ms * 60 * 60 / 1000.0
}

// MSToMPH converts metres/second to miles/hour.
func MSToMPH(ms float64) float64 {
	return MSToKMPH(ms) * 0.621371
}

// SpeedHistory holds wind speeds in metres/second.
type SpeedHistory struct {
	*Buffer[float64]
}

// NewSpeedHistory creates a SpeedHistory of the given capacity.
func NewSpeedHistory(capacity int, opts ...Option) *SpeedHistory {
	return &SpeedHistory{Buffer: New[float64](capacity, opts...)}
}

// LatestKMPH returns the most recent speed in km/h.
func (h *SpeedHistory) LatestKMPH() (float64, error) {
	s, err := h.Latest()
	if err != nil {
		return 0, err
	}
	return MSToKMPH(s.Value), nil
}

// LatestMPH returns the most recent speed in mph.
func (h *SpeedHistory) LatestMPH() (float64, error) {
	s, err := h.Latest()
	if err != nil {
		return 0, err
	}
	return MSToMPH(s.Value), nil
}

// AverageKMPH returns the windowed average in km/h.
func (h *SpeedHistory) AverageKMPH(window int) float64 {
	return MSToKMPH(h.Average(window))
}

// AverageMPH returns the windowed average in mph.
func (h *SpeedHistory) AverageMPH(window int) float64 {
	return MSToMPH(h.Average(window))
}

// GustKMPH returns the gust over window in km/h.
func (h *SpeedHistory) GustKMPH(window time.Duration) float64 {
	return MSToKMPH(h.Gust(window))
}

// GustMPH returns the gust over window in mph.
func (h *SpeedHistory) GustMPH(window time.Duration) float64 {
	return MSToMPH(h.Gust(window))
}

// DirectionHistory holds wind headings in degrees.
//
// Average is, by default, the plain arithmetic mean of the headings. That is
// wrong across north: 350° and 10° average to 180°. It is kept as the default
// so that consumers relying on existing readings see the same numbers;
// construct with WithCircularMean, or call CircularAverage, to average on
// the circle instead.
type DirectionHistory struct {
	*Buffer[float64]
	circular bool
}

// DirectionOption configures a DirectionHistory.
type DirectionOption func(*DirectionHistory)

// WithCircularMean makes Average use the circular mean of the headings.
func WithCircularMean() DirectionOption {
	return func(h *DirectionHistory) {
		h.circular = true
	}
}

// NewDirectionHistory creates a DirectionHistory of the given capacity.
func NewDirectionHistory(capacity int, bufOpts []Option, opts ...DirectionOption) *DirectionHistory {
	h := &DirectionHistory{Buffer: New[float64](capacity, bufOpts...)}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Circular reports whether Average uses the circular mean.
func (h *DirectionHistory) Circular() bool {
	return h.circular
}

// Average returns the windowed mean heading in degrees.
func (h *DirectionHistory) Average(window int) float64 {
	if h.circular {
		return h.CircularAverage(window)
	}
	return h.Buffer.Average(window)
}

// CircularAverage returns the mean heading computed on the unit circle,
// normalised to [0, 360). Zero when empty.
func (h *DirectionHistory) CircularAverage(window int) float64 {
	vals := h.values(window)
	if len(vals) == 0 {
		return 0
	}
	for i, v := range vals {
		vals[i] = v * math.Pi / 180
	}
	deg := math.Mod(stat.CircularMean(vals, nil)*180/math.Pi+360, 360)
	// Rounding can leave a hair under 360 for headings sitting on north.
	if deg > 360-1e-9 {
		deg = 0
	}
	return deg
}

// AverageCompass names the compass bucket of the windowed average.
func (h *DirectionHistory) AverageCompass(window int) string {
	return windvane.DegreesToCardinal(h.Average(window))
}

// LatestCompass names the compass bucket of the most recent heading.
func (h *DirectionHistory) LatestCompass() (string, error) {
	s, err := h.Latest()
	if err != nil {
		return "", err
	}
	return windvane.DegreesToCardinal(s.Value), nil
}

// HistoryCompass is History with every heading mapped to its compass name.
func (h *DirectionHistory) HistoryCompass(depth int) iter.Seq[Sample[string]] {
	return func(yield func(Sample[string]) bool) {
		for s := range h.History(depth) {
			if !yield(Sample[string]{Value: windvane.DegreesToCardinal(s.Value), Timestamp: s.Timestamp}) {
				return
			}
		}
	}
}
