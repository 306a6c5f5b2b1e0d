// Package harness implements the Test Harness (C4): the uniform
// invocation point that assembles algorithm inputs, calls the registered
// algorithm, and normalizes its output into a SeriesResult/SpatialResult.
// Grounded on the original_source/rove/src/harness.rs dispatch shape
// (match on test name, call the algorithm, zip flags back onto
// timestamps/geopoints) but built around Go function values registered in
// the catalog rather than a string match arm per test.
package harness

import (
	"time"

	"github.com/halvorsveen/rove/internal/catalog"
	"github.com/halvorsveen/rove/internal/dataswitch"
	"github.com/halvorsveen/rove/internal/flag"
	"github.com/halvorsveen/rove/internal/qcalgo"
	"github.com/halvorsveen/rove/internal/roveerr"
)

// SeriesFlagPoint pairs a timestamp with the flag assigned to it.
type SeriesFlagPoint struct {
	Time time.Time
	Flag flag.Flag
}

// SeriesResult is the normalized output of a series test.
type SeriesResult struct {
	TestID catalog.TestId
	Points []SeriesFlagPoint
}

// SpatialFlagPoint pairs a station location with the flag assigned to it.
type SpatialFlagPoint struct {
	Location dataswitch.GeoPoint
	Flag     flag.Flag
}

// SpatialResult is the normalized output of a spatial test.
type SpatialResult struct {
	TestID catalog.TestId
	Points []SpatialFlagPoint
}

// SeriesCache and SpatialCache are the request-scoped, per-TestId result
// caches spec.md §3 names. The scheduler is their sole writer and owns
// them for the lifetime of one run, so no synchronization is needed here
// (spec.md §5: "it owns the RunState exclusively").
type SeriesCache map[catalog.TestId]SeriesResult
type SpatialCache map[catalog.TestId]SpatialResult

// Harness adapts catalog entries to their registered qcalgo function.
type Harness struct {
	cat *catalog.Catalog
}

// New builds a Harness over the given, already-validated Catalog.
func New(cat *catalog.Catalog) *Harness {
	return &Harness{cat: cat}
}

// RunSeries invokes the series algorithm registered for desc against obs.
// leadingPoints is the number of synthetic context points fetched ahead of
// the requested window (SPEC_FULL.md §4 item 1); they are trimmed from the
// emitted result after the algorithm has seen them. parents holds the
// already-computed results of desc's dependencies, available for
// algorithms that want to read a parent's flags — none of the registered
// algorithms currently do (spec.md §9's open question on cross-test flag
// consumption is left undecided until a concrete dependency needs it).
func (h *Harness) RunSeries(desc catalog.TestDescriptor, obs dataswitch.SeriesObs, leadingPoints int, parents SeriesCache) (SeriesResult, error) {
	spec, ok := desc.Algo.(qcalgo.SeriesSpec)
	if !ok {
		return SeriesResult{}, roveerr.New(roveerr.Internal, "test %q has no series algorithm registered", desc.ID)
	}

	flags := spec.Fn(obs, spec.High, spec.Low)
	if len(flags) != len(obs.Points) {
		return SeriesResult{}, roveerr.New(roveerr.Internal, "algorithm for %q returned %d flags for %d points", desc.ID, len(flags), len(obs.Points))
	}

	if leadingPoints < 0 {
		leadingPoints = 0
	}
	if leadingPoints > len(flags) {
		leadingPoints = len(flags)
	}

	points := make([]SeriesFlagPoint, 0, len(flags)-leadingPoints)
	for i := leadingPoints; i < len(flags); i++ {
		points = append(points, SeriesFlagPoint{Time: obs.Points[i].Timestamp, Flag: flags[i]})
	}
	return SeriesResult{TestID: desc.ID, Points: points}, nil
}

// RunSpatial invokes the spatial algorithm registered for desc against obs.
func (h *Harness) RunSpatial(desc catalog.TestDescriptor, obs dataswitch.SpatialObs, parents SpatialCache) (SpatialResult, error) {
	spec, ok := desc.Algo.(qcalgo.SpatialSpec)
	if !ok {
		return SpatialResult{}, roveerr.New(roveerr.Internal, "test %q has no spatial algorithm registered", desc.ID)
	}

	flags := spec.Fn(obs, spec.High, spec.Low)
	if len(flags) != len(obs.Stations) {
		return SpatialResult{}, roveerr.New(roveerr.Internal, "algorithm for %q returned %d flags for %d stations", desc.ID, len(flags), len(obs.Stations))
	}

	points := make([]SpatialFlagPoint, len(flags))
	for i, st := range obs.Stations {
		points[i] = SpatialFlagPoint{Location: st.Location, Flag: flags[i]}
	}
	return SpatialResult{TestID: desc.ID, Points: points}, nil
}
