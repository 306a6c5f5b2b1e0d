// Package connectors holds concrete DataConnector implementations:
// a synthetic in-memory generator, an HTTP-backed "Frost"-style station
// API client, and a geocoding wrapper — grounded respectively on teacher's
// internal/store/memory.go retention idiom and
// internal/weather/providers/{openweather,weatherapi,common}.go's
// resilient-HTTP idiom.
package connectors

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/halvorsveen/rove/internal/dataswitch"
	"github.com/halvorsveen/rove/internal/roveerr"
)

// MemoryConnector serves deterministic, synthetic station data without any
// external dependency. It is registered as the "memory" source and is
// also useful directly in tests. Concurrency-safe by construction: it has
// no mutable state, unlike teacher's store.MemoryStore which needed a
// sync.RWMutex to protect writes.
type MemoryConnector struct {
	// Amplitude/Period shape the synthetic sine-wave series so dip/step
	// tests have something non-trivial to flag.
	Amplitude float64
	Period    time.Duration
	Interval  time.Duration
}

// NewMemoryConnector returns a MemoryConnector with reasonable defaults.
func NewMemoryConnector() *MemoryConnector {
	return &MemoryConnector{
		Amplitude: 5,
		Period:    24 * time.Hour,
		Interval:  10 * time.Minute,
	}
}

func (m *MemoryConnector) seriesValue(t time.Time) float64 {
	phase := float64(t.Unix()%int64(m.Period.Seconds())) / m.Period.Seconds()
	return m.Amplitude * math.Sin(2*math.Pi*phase)
}

// FetchSeries implements dataswitch.DataConnector.
func (m *MemoryConnector) FetchSeries(_ context.Context, tail string, start, end time.Time, leadingPoints int, _ time.Time) (dataswitch.SeriesObs, error) {
	if end.Before(start) {
		return dataswitch.SeriesObs{}, roveerr.New(roveerr.InvalidArgument, "end before start")
	}
	interval := m.Interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	fetchStart := start.Add(-interval * time.Duration(leadingPoints))
	var points []dataswitch.SeriesPoint
	for t := fetchStart; !t.After(end); t = t.Add(interval) {
		v := m.seriesValue(t)
		points = append(points, dataswitch.SeriesPoint{Timestamp: t, Value: &v})
	}

	now := time.Now().UTC()
	return dataswitch.SeriesObs{
		Station:    tail,
		Points:     points,
		Interval:   interval,
		RangeStart: now.Add(-30 * 24 * time.Hour),
		RangeEnd:   now,
	}, nil
}

// FetchSpatial implements dataswitch.DataConnector. tail is a comma
// separated list of "stationId@lat:lon" entries, e.g.
// "s1@59.9:10.7,s2@60.1:10.8"; an empty tail generates a small synthetic
// grid of 9 stations.
func (m *MemoryConnector) FetchSpatial(_ context.Context, tail string, at time.Time, polygon []dataswitch.GeoPoint, _ time.Time) (dataswitch.SpatialObs, error) {
	stations, err := parseStationSpec(tail)
	if err != nil {
		return dataswitch.SpatialObs{}, err
	}
	if len(stations) == 0 {
		stations = syntheticGrid()
	}

	obs := dataswitch.SpatialObs{Timestamp: at}
	for _, st := range stations {
		if len(polygon) >= 3 && !pointInPolygon(st.Location, polygon) {
			continue
		}
		v := m.seriesValue(at) + float64(len(st.StationID))*0.01
		st.Value = &v
		obs.Stations = append(obs.Stations, st)
	}
	return obs, nil
}

func parseStationSpec(tail string) ([]dataswitch.StationReading, error) {
	tail = strings.TrimSpace(tail)
	if tail == "" {
		return nil, nil
	}
	var out []dataswitch.StationReading
	for _, part := range strings.Split(tail, ",") {
		fields := strings.Split(part, "@")
		if len(fields) != 2 {
			return nil, roveerr.New(roveerr.InvalidArgument, "malformed station spec %q", part)
		}
		latlon := strings.Split(fields[1], ":")
		if len(latlon) != 2 {
			return nil, roveerr.New(roveerr.InvalidArgument, "malformed lat:lon in %q", part)
		}
		lat, err := strconv.ParseFloat(latlon[0], 32)
		if err != nil {
			return nil, roveerr.Wrap(roveerr.InvalidArgument, err, "bad latitude in %q", part)
		}
		lon, err := strconv.ParseFloat(latlon[1], 32)
		if err != nil {
			return nil, roveerr.Wrap(roveerr.InvalidArgument, err, "bad longitude in %q", part)
		}
		out = append(out, dataswitch.StationReading{
			StationID: fields[0],
			Location:  dataswitch.GeoPoint{Lat: float32(lat), Lon: float32(lon)},
		})
	}
	return out, nil
}

func syntheticGrid() []dataswitch.StationReading {
	var out []dataswitch.StationReading
	n := 0
	for i := -1; i <= 1; i++ {
		for j := -1; j <= 1; j++ {
			n++
			out = append(out, dataswitch.StationReading{
				StationID: "synthetic-" + strconv.Itoa(n),
				Location:  dataswitch.GeoPoint{Lat: float32(60 + i), Lon: float32(10 + j)},
			})
		}
	}
	return out
}

// pointInPolygon is a standard ray-casting test.
func pointInPolygon(p dataswitch.GeoPoint, polygon []dataswitch.GeoPoint) bool {
	inside := false
	n := len(polygon)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := polygon[i], polygon[j]
		if (a.Lat > p.Lat) != (b.Lat > p.Lat) {
			slope := (p.Lat - a.Lat) / (b.Lat - a.Lat)
			cross := a.Lon + slope*(b.Lon-a.Lon)
			if p.Lon < cross {
				inside = !inside
			}
		}
	}
	return inside
}
