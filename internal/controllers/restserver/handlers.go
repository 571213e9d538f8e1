package restserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/chrissnell/weatherhat/internal/history"
	"github.com/chrissnell/weatherhat/internal/types"
	"github.com/chrissnell/weatherhat/pkg/responseformat"
	"github.com/gorilla/mux"
)

// Handlers contains all HTTP handlers for the REST server
type Handlers struct {
	controller *Controller
	formatter  *responseformat.Formatter
}

// NewHandlers creates a new handlers instance
func NewHandlers(ctrl *Controller, formatter *responseformat.Formatter) *Handlers {
	return &Handlers{
		controller: ctrl,
		formatter:  formatter,
	}
}

// StationInfo describes one running station.
type StationInfo struct {
	Name         string                 `json:"name"`
	Capabilities []string               `json:"capabilities"`
	Settings     *types.StationSettings `json:"settings,omitempty"`
}

// settingsReporter is implemented by stations that can describe their setup.
type settingsReporter interface {
	Settings() types.StationSettings
}

// HistoryResponse is returned by /history/{quantity}.
type HistoryResponse struct {
	Station  string `json:"station"`
	Quantity string `json:"quantity"`
	Samples  any    `json:"samples"`
}

// StatsResponse is returned by /stats/{quantity}.
type StatsResponse struct {
	Station  string    `json:"station"`
	Quantity string    `json:"quantity"`
	Window   int       `json:"window"`
	Count    int       `json:"count"`
	Latest   *float64  `json:"latest,omitempty"`
	Average  float64   `json:"average"`
	Min      float64   `json:"min"`
	Max      float64   `json:"max"`
	Median   float64   `json:"median"`
	Total    float64   `json:"total"`
	First    time.Time `json:"first"`
	Last     time.Time `json:"last"`
}

// WindResponse is returned by /wind. Speeds are in m/s unless suffixed.
type WindResponse struct {
	Station          string  `json:"station"`
	Speed            float64 `json:"speed"`
	SpeedKMPH        float64 `json:"speed_kmph"`
	SpeedMPH         float64 `json:"speed_mph"`
	SpeedAverage     float64 `json:"speed_average"`
	Gust             float64 `json:"gust"`
	GustKMPH         float64 `json:"gust_kmph"`
	GustMPH          float64 `json:"gust_mph"`
	GustWindow       string  `json:"gust_window"`
	Direction        float64 `json:"direction"`
	DirectionAverage float64 `json:"direction_average"`
	CircularAverage  float64 `json:"direction_circular_average"`
	Cardinal         string  `json:"cardinal"`
}

// TemperatureOffset is the body of the temperature calibration endpoints.
type TemperatureOffset struct {
	Station string  `json:"station,omitempty"`
	Offset  float64 `json:"offset"`
}

// GetStations lists the running stations
func (h *Handlers) GetStations(w http.ResponseWriter, req *http.Request) {
	src := h.controller.stations
	names := src.StationNames()
	slices.Sort(names)

	stations := make([]StationInfo, 0, len(names))
	for _, name := range names {
		ws := src.GetStation(name)
		if ws == nil {
			continue
		}
		info := StationInfo{Name: name, Capabilities: []string{}}
		for _, c := range ws.Capabilities().List() {
			info.Capabilities = append(info.Capabilities, c.String())
		}
		if sr, ok := ws.(settingsReporter); ok {
			settings := sr.Settings()
			info.Settings = &settings
		}
		stations = append(stations, info)
	}

	h.write(w, req, stations)
}

// GetLatest returns the station's current reading
func (h *Handlers) GetLatest(w http.ResponseWriter, req *http.Request) {
	s, ok := h.station(w, req)
	if !ok {
		return
	}
	h.write(w, req, s.Snapshot())
}

// GetHistory returns up to ?depth= of the most recent samples of a quantity,
// oldest first. depth 0 or absent returns all of them. For wind_direction,
// ?cardinal=true returns compass points instead of degrees.
func (h *Handlers) GetHistory(w http.ResponseWriter, req *http.Request) {
	s, ok := h.station(w, req)
	if !ok {
		return
	}

	quantity := mux.Vars(req)["quantity"]
	buf, found := s.Quantity(quantity)
	if !found {
		h.error(w, req, http.StatusNotFound, fmt.Sprintf("unknown quantity %q", quantity))
		return
	}

	depth, err := intParam(req, "depth")
	if err != nil {
		h.error(w, req, http.StatusBadRequest, err.Error())
		return
	}

	resp := HistoryResponse{Station: s.StationName(), Quantity: quantity}
	if req.URL.Query().Get("cardinal") == "true" {
		_, dir := s.WindDirection()
		if dir == nil || dir.Buffer != buf {
			h.error(w, req, http.StatusBadRequest, "cardinal is only supported for wind_direction")
			return
		}
		resp.Samples = collect(dir.HistoryCompass(depth))
	} else {
		resp.Samples = collect(buf.History(depth))
	}

	h.write(w, req, resp)
}

// GetStats returns summary statistics over the most recent ?window= samples
// of a quantity. window 0 or absent covers the whole history.
func (h *Handlers) GetStats(w http.ResponseWriter, req *http.Request) {
	s, ok := h.station(w, req)
	if !ok {
		return
	}

	quantity := mux.Vars(req)["quantity"]
	buf, found := s.Quantity(quantity)
	if !found {
		h.error(w, req, http.StatusNotFound, fmt.Sprintf("unknown quantity %q", quantity))
		return
	}

	window, err := intParam(req, "window")
	if err != nil {
		h.error(w, req, http.StatusBadRequest, err.Error())
		return
	}

	count := buf.Len()
	if window > 0 {
		count = min(count, window)
	}

	resp := StatsResponse{
		Station:  s.StationName(),
		Quantity: quantity,
		Window:   window,
		Count:    count,
		Average:  buf.Average(window),
		Min:      buf.Min(window),
		Max:      buf.Max(window),
		Median:   buf.Median(window),
		Total:    buf.Total(window),
	}
	if latest, err := buf.Latest(); err == nil {
		resp.Latest = &latest.Value
	}
	if first, last, err := buf.Timespan(); err == nil {
		resp.First, resp.Last = first, last
	}

	h.write(w, req, resp)
}

// GetWind returns wind speed, gust and direction. ?window= bounds the
// averages in samples and ?gust= is the gust window as a Go duration.
func (h *Handlers) GetWind(w http.ResponseWriter, req *http.Request) {
	s, ok := h.station(w, req)
	if !ok {
		return
	}

	window, err := intParam(req, "window")
	if err != nil {
		h.error(w, req, http.StatusBadRequest, err.Error())
		return
	}

	gustWindow := history.DefaultGustWindow
	if g := req.URL.Query().Get("gust"); g != "" {
		gustWindow, err = time.ParseDuration(g)
		if err != nil || gustWindow <= 0 {
			h.error(w, req, http.StatusBadRequest, fmt.Sprintf("invalid gust window %q", g))
			return
		}
	}

	speed, speeds := s.WindSpeed()
	direction, directions := s.WindDirection()

	resp := WindResponse{
		Station:          s.StationName(),
		Speed:            speed,
		SpeedKMPH:        history.MSToKMPH(speed),
		SpeedMPH:         history.MSToMPH(speed),
		SpeedAverage:     speeds.Average(window),
		Gust:             speeds.Gust(gustWindow),
		GustKMPH:         speeds.GustKMPH(gustWindow),
		GustMPH:          speeds.GustMPH(gustWindow),
		GustWindow:       gustWindow.String(),
		Direction:        direction,
		DirectionAverage: directions.Average(window),
		CircularAverage:  directions.CircularAverage(window),
		Cardinal:         directions.AverageCompass(window),
	}

	h.write(w, req, resp)
}

// GetTemperatureOffset returns the station's temperature calibration
func (h *Handlers) GetTemperatureOffset(w http.ResponseWriter, req *http.Request) {
	s, ok := h.station(w, req)
	if !ok {
		return
	}
	h.write(w, req, TemperatureOffset{Station: s.StationName(), Offset: s.TemperatureOffset()})
}

// PutTemperatureOffset changes the station's temperature calibration. The
// new offset applies from the next sensor update.
func (h *Handlers) PutTemperatureOffset(w http.ResponseWriter, req *http.Request) {
	s, ok := h.station(w, req)
	if !ok {
		return
	}

	var body TemperatureOffset
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, 1<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		h.error(w, req, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if math.IsNaN(body.Offset) || math.IsInf(body.Offset, 0) {
		h.error(w, req, http.StatusBadRequest, "offset must be a finite number")
		return
	}

	s.SetTemperatureOffset(body.Offset)
	h.write(w, req, TemperatureOffset{Station: s.StationName(), Offset: s.TemperatureOffset()})
}

// station resolves ?station= and writes the error response if it can't.
func (h *Handlers) station(w http.ResponseWriter, req *http.Request) (Station, bool) {
	s, err := h.controller.station(req.URL.Query().Get("station"))
	switch {
	case err == nil:
		return s, true
	case errors.Is(err, errStationNotFound):
		h.error(w, req, http.StatusNotFound, err.Error())
	default:
		h.error(w, req, http.StatusBadRequest, err.Error())
	}
	return nil, false
}

func (h *Handlers) write(w http.ResponseWriter, req *http.Request, data any) {
	if err := h.formatter.WriteResponse(w, req, data, nil); err != nil {
		h.controller.logger.Errorf("error writing response for %v: %v", req.URL.Path, err)
	}
}

func (h *Handlers) error(w http.ResponseWriter, req *http.Request, status int, message string) {
	if err := h.formatter.WriteError(w, req, status, message); err != nil {
		h.controller.logger.Errorf("error writing error response for %v: %v", req.URL.Path, err)
	}
}

// intParam parses a non-negative integer query parameter. Absent means 0.
func intParam(req *http.Request, name string) (int, error) {
	v := req.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a non-negative integer", name, v)
	}
	return n, nil
}

// collect is slices.Collect that never returns nil, so empty histories
// encode as [] rather than null.
func collect[T any](seq iter.Seq[T]) []T {
	out := slices.Collect(seq)
	if out == nil {
		out = []T{}
	}
	return out
}
