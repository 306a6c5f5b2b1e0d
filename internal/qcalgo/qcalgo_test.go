package qcalgo_test

import (
	"testing"
	"time"

	"github.com/halvorsveen/rove/internal/dataswitch"
	"github.com/halvorsveen/rove/internal/flag"
	"github.com/halvorsveen/rove/internal/qcalgo"
)

func seriesOf(values ...float64) dataswitch.SeriesObs {
	points := make([]dataswitch.SeriesPoint, len(values))
	base := time.Now()
	for i, v := range values {
		v := v
		points[i] = dataswitch.SeriesPoint{Timestamp: base.Add(time.Duration(i) * time.Minute), Value: &v}
	}
	return dataswitch.SeriesObs{Points: points}
}

func TestDipCheckFlagsDeepDip(t *testing.T) {
	obs := seriesOf(10, 10, 0, 10, 10)
	flags := qcalgo.DipCheck(obs, 5, 2)
	if flags[2] != flag.Fail {
		t.Fatalf("expected Fail at dip point, got %v", flags[2])
	}
	if flags[0] != flag.Pass {
		t.Fatalf("expected Pass at edge point, got %v", flags[0])
	}
}

func TestStepCheckFlagsLargeStep(t *testing.T) {
	obs := seriesOf(0, 0, 100)
	flags := qcalgo.StepCheck(obs, 5, 2)
	if flags[2] != flag.Fail {
		t.Fatalf("expected Fail at step point, got %v", flags[2])
	}
}

func TestRangeCheckFlagsOutOfBounds(t *testing.T) {
	obs := seriesOf(-150, 10, 999)
	flags := qcalgo.RangeCheck(obs, 100, -100)
	if flags[0] != flag.Fail || flags[2] != flag.Fail {
		t.Fatalf("expected edges Fail, got %v", flags)
	}
	if flags[1] != flag.Pass {
		t.Fatalf("expected middle Pass, got %v", flags[1])
	}
}

func TestFreezeCheckFlagsLongRun(t *testing.T) {
	obs := seriesOf(1, 5, 5, 5, 5, 9)
	flags := qcalgo.FreezeCheck(obs, 0, 3)
	for i := 1; i <= 4; i++ {
		if flags[i] != flag.Warn {
			t.Fatalf("expected Warn at index %d, got %v", i, flags[i])
		}
	}
	if flags[0] != flag.Pass || flags[5] != flag.Pass {
		t.Fatalf("expected edges Pass, got %v / %v", flags[0], flags[5])
	}
}

func TestDipCheckMissingDataFlagged(t *testing.T) {
	obs := seriesOf(1, 2, 3)
	obs.Points[1].Value = nil
	flags := qcalgo.DipCheck(obs, 5, 2)
	if flags[1] != flag.DataMissing {
		t.Fatalf("expected DataMissing, got %v", flags[1])
	}
}

func stationsOf(values ...float64) dataswitch.SpatialObs {
	stations := make([]dataswitch.StationReading, len(values))
	for i, v := range values {
		v := v
		stations[i] = dataswitch.StationReading{
			StationID: string(rune('a' + i)),
			Location:  dataswitch.GeoPoint{Lat: float32(60), Lon: float32(10) + float32(i)*0.1},
			Value:     &v,
		}
	}
	return dataswitch.SpatialObs{Stations: stations}
}

func TestBuddyCheckFlagsOutlier(t *testing.T) {
	obs := stationsOf(10, 10, 10, 10, 100)
	flags := qcalgo.BuddyCheck(obs, 3, 1)
	if flags[4] != flag.Fail && flags[4] != flag.Warn {
		t.Fatalf("expected outlier station flagged, got %v", flags[4])
	}
}

func TestBuddyCheckIsolatedWithTooFewNeighbors(t *testing.T) {
	obs := dataswitch.SpatialObs{Stations: []dataswitch.StationReading{
		{StationID: "lonely", Location: dataswitch.GeoPoint{Lat: 60, Lon: 10}, Value: ptr(5)},
		{StationID: "far", Location: dataswitch.GeoPoint{Lat: -60, Lon: -170}, Value: ptr(5)},
	}}
	flags := qcalgo.BuddyCheck(obs, 3, 1)
	if flags[0] != flag.Isolated {
		t.Fatalf("expected Isolated, got %v", flags[0])
	}
}

func ptr(v float64) *float64 { return &v }
