package harness_test

import (
	"testing"
	"time"

	"github.com/halvorsveen/rove/internal/catalog"
	"github.com/halvorsveen/rove/internal/dataswitch"
	"github.com/halvorsveen/rove/internal/flag"
	"github.com/halvorsveen/rove/internal/harness"
	"github.com/halvorsveen/rove/internal/qcalgo"
)

func TestRunSeriesTrimsLeadingPoints(t *testing.T) {
	h := harness.New(nil)

	desc := catalog.TestDescriptor{
		ID:   "t1",
		Kind: catalog.SeriesTest,
		Algo: qcalgo.SeriesSpec{
			Fn: func(obs dataswitch.SeriesObs, high, low float64) []flag.Flag {
				flags := make([]flag.Flag, len(obs.Points))
				for i := range flags {
					flags[i] = flag.Pass
				}
				return flags
			},
			High: 1, Low: 1, LeadingPoints: 2,
		},
	}

	base := time.Now()
	obs := dataswitch.SeriesObs{}
	for i := 0; i < 5; i++ {
		v := float64(i)
		obs.Points = append(obs.Points, dataswitch.SeriesPoint{Timestamp: base.Add(time.Duration(i) * time.Minute), Value: &v})
	}

	result, err := h.RunSeries(desc, obs, 2, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Points) != 3 {
		t.Fatalf("expected 3 points after trimming 2 leading, got %d", len(result.Points))
	}
	if !result.Points[0].Time.Equal(obs.Points[2].Timestamp) {
		t.Fatalf("expected first emitted point to be the 3rd raw point")
	}
}

func TestRunSeriesRejectsMissingAlgo(t *testing.T) {
	h := harness.New(nil)
	desc := catalog.TestDescriptor{ID: "t1", Kind: catalog.SeriesTest, Algo: "not-a-spec"}
	if _, err := h.RunSeries(desc, dataswitch.SeriesObs{}, 0, nil); err == nil {
		t.Fatal("expected error for missing algorithm")
	}
}

func TestRunSpatialNormalizesPoints(t *testing.T) {
	h := harness.New(nil)
	desc := catalog.TestDescriptor{
		ID:   "s1",
		Kind: catalog.SpatialTest,
		Algo: qcalgo.SpatialSpec{
			Fn: func(obs dataswitch.SpatialObs, high, low float64) []flag.Flag {
				return []flag.Flag{flag.Pass, flag.Fail}
			},
		},
	}
	obs := dataswitch.SpatialObs{Stations: []dataswitch.StationReading{
		{StationID: "a", Location: dataswitch.GeoPoint{Lat: 1, Lon: 2}},
		{StationID: "b", Location: dataswitch.GeoPoint{Lat: 3, Lon: 4}},
	}}
	result, err := h.RunSpatial(desc, obs, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Points) != 2 || result.Points[1].Flag != flag.Fail {
		t.Fatalf("unexpected result: %+v", result)
	}
}
