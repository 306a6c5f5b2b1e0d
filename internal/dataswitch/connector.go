package dataswitch

import (
	"context"
	"time"
)

// DataConnector is the capability contract an external data source
// implementation must provide (spec.md §4.3, §6). Implementations must be
// safe for concurrent use: the Switch may invoke them concurrently from
// many requests.
type DataConnector interface {
	// FetchSeries returns the time series for tail (the locator's
	// source-specific identifier) over [start, end]. leadingPoints asks the
	// connector to include that many extra points before start so windowed
	// series tests have context (SPEC_FULL.md §4 item 1); it may be 0.
	FetchSeries(ctx context.Context, tail string, start, end time.Time, leadingPoints int, deadline time.Time) (SeriesObs, error)

	// FetchSpatial returns every station reading at time within polygon
	// (nil or empty means no spatial filter — the whole globe).
	FetchSpatial(ctx context.Context, tail string, at time.Time, polygon []GeoPoint, deadline time.Time) (SpatialObs, error)
}
