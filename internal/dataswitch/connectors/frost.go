package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/halvorsveen/rove/internal/dataswitch"
	"github.com/halvorsveen/rove/internal/roveerr"
)

// FrostConnector fetches station observations from a MET-Norway-"Frost"-
// shaped HTTP JSON API. Grounded on the teacher's OpenWeatherProvider: same
// resilient-request idiom, same per-connector circuit breaker, the same
// "build request, decode payload, map to domain type" shape — retargeted
// from a single city reading to a station series/spatial slice.
type FrostConnector struct {
	baseURL string
	client  HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

// NewFrostConnector builds a FrostConnector against baseURL (e.g.
// "https://frost.met.no/observations/v0.jsonld").
func NewFrostConnector(httpClient *http.Client, baseURL string) *FrostConnector {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "frost",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})
	return &FrostConnector{
		baseURL: baseURL,
		client: HTTPClientConfig{
			Client:  httpClient,
			Backoff: defaultBackoff(),
		},
		circuit: cb,
	}
}

type frostSeriesPayload struct {
	Data []struct {
		ReferenceTime string `json:"referenceTime"`
		Observations  []struct {
			Value float64 `json:"value"`
		} `json:"observations"`
	} `json:"data"`
}

// FetchSeries implements dataswitch.DataConnector. tail is the Frost station
// id, e.g. "SN18700". The returned SeriesObs leaves RangeStart and RangeEnd
// zero: this connector does not report a station's available bounds.
func (f *FrostConnector) FetchSeries(ctx context.Context, tail string, start, end time.Time, leadingPoints int, _ time.Time) (dataswitch.SeriesObs, error) {
	if tail == "" {
		return dataswitch.SeriesObs{}, roveerr.New(roveerr.InvalidArgument, "frost: empty station id")
	}

	build := func() (*http.Request, error) {
		v := url.Values{}
		v.Set("sources", tail)
		v.Set("referencetime", fmt.Sprintf("%s/%s", start.Format(time.RFC3339), end.Format(time.RFC3339)))
		u := fmt.Sprintf("%s?%s", f.baseURL, v.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}

	resp, err := doStationRequest(ctx, f.client, f.circuit, build)
	if err != nil {
		return dataswitch.SeriesObs{}, roveerr.Wrap(roveerr.DataError, err, "frost: fetch series for %s", tail)
	}
	defer resp.Body.Close()

	var payload frostSeriesPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return dataswitch.SeriesObs{}, roveerr.Wrap(roveerr.DataError, err, "frost: decode series payload for %s", tail)
	}

	var points []dataswitch.SeriesPoint
	for _, row := range payload.Data {
		ts, err := time.Parse(time.RFC3339, row.ReferenceTime)
		if err != nil || len(row.Observations) == 0 {
			continue
		}
		v := row.Observations[0].Value
		points = append(points, dataswitch.SeriesPoint{Timestamp: ts, Value: &v})
	}

	interval := inferInterval(points)
	_ = leadingPoints // Frost serves exactly the requested window; the caller widens start itself.

	return dataswitch.SeriesObs{
		Station:  tail,
		Points:   points,
		Interval: interval,
	}, nil
}

type frostSpatialPayload struct {
	Data []struct {
		SourceID string `json:"sourceId"`
		Geometry struct {
			Coordinates [2]float64 `json:"coordinates"` // [lon, lat]
		} `json:"geometry"`
		Observations []struct {
			Value float64 `json:"value"`
		} `json:"observations"`
	} `json:"data"`
}

// FetchSpatial implements dataswitch.DataConnector. tail is a Frost "sources"
// filter expression, e.g. "SN18700,SN18950" or an empty string for "all
// sources" (left to server-side default filtering).
func (f *FrostConnector) FetchSpatial(ctx context.Context, tail string, at time.Time, polygon []dataswitch.GeoPoint, _ time.Time) (dataswitch.SpatialObs, error) {
	build := func() (*http.Request, error) {
		v := url.Values{}
		if tail != "" {
			v.Set("sources", tail)
		}
		v.Set("referencetime", at.Format(time.RFC3339))
		u := fmt.Sprintf("%s?%s", f.baseURL, v.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}

	resp, err := doStationRequest(ctx, f.client, f.circuit, build)
	if err != nil {
		return dataswitch.SpatialObs{}, roveerr.Wrap(roveerr.DataError, err, "frost: fetch spatial slice")
	}
	defer resp.Body.Close()

	var payload frostSpatialPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return dataswitch.SpatialObs{}, roveerr.Wrap(roveerr.DataError, err, "frost: decode spatial payload")
	}

	obs := dataswitch.SpatialObs{Timestamp: at}
	for _, row := range payload.Data {
		if len(row.Observations) == 0 {
			continue
		}
		loc := dataswitch.GeoPoint{
			Lat: float32(row.Geometry.Coordinates[1]),
			Lon: float32(row.Geometry.Coordinates[0]),
		}
		if len(polygon) >= 3 && !pointInPolygon(loc, polygon) {
			continue
		}
		v := row.Observations[0].Value
		obs.Stations = append(obs.Stations, dataswitch.StationReading{
			StationID: row.SourceID,
			Location:  loc,
			Value:     &v,
		})
	}
	return obs, nil
}

func inferInterval(points []dataswitch.SeriesPoint) time.Duration {
	if len(points) < 2 {
		return time.Hour
	}
	return points[1].Timestamp.Sub(points[0].Timestamp)
}
