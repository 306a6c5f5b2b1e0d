// Package qcalgo holds the concrete QC algorithm bodies registered in the
// test catalog: the "opaque algorithm" the catalog only ever carries as a
// handle. Grounded on original_source/rove/src/harness.rs's olympian call
// shapes (dip_check, step_check, buddy_check, sct) and reworked from
// sliding-window/rtree calls into plain Go functions over
// dataswitch.SeriesObs / dataswitch.SpatialObs.
package qcalgo

import (
	"math"

	"github.com/halvorsveen/rove/internal/dataswitch"
	"github.com/halvorsveen/rove/internal/flag"
)

// SeriesAlgo flags every point in obs (a slice obtained from a single
// station's observations). High and low are test-specific thresholds.
type SeriesAlgo func(obs dataswitch.SeriesObs, high, low float64) []flag.Flag

// SpatialAlgo flags every station reading in obs.
type SpatialAlgo func(obs dataswitch.SpatialObs, high, low float64) []flag.Flag

// SeriesSpec is the catalog.Algo handle for a series test: the function to
// call plus the thresholds to call it with. spec.md treats the algorithm
// handle as opaque; this is the concrete shape the harness type-asserts it
// into.
type SeriesSpec struct {
	Fn        SeriesAlgo
	High, Low float64
	// LeadingPoints is how many points of context this algorithm needs
	// before the first point it actually flags for the caller (its
	// sliding-window width minus one). Used by the scheduler to compute
	// how far to widen the Data Switch fetch (SPEC_FULL.md §4 item 1).
	LeadingPoints int
}

// SpatialSpec is the catalog.Algo handle for a spatial test.
type SpatialSpec struct {
	Fn        SpatialAlgo
	High, Low float64
}

// DipCheck flags a point Fail if it differs from the average of its two
// neighbors by at least high, Warn if by at least low; a spike above the
// average is flagged the same way as a dip below it. Mirrors
// olympian::dip_check's 3-point sliding window, generalized from a fixed
// window of 3 to the whole series.
func DipCheck(obs dataswitch.SeriesObs, high, low float64) []flag.Flag {
	flags := make([]flag.Flag, len(obs.Points))
	for i := range flags {
		flags[i] = flag.Pass
	}
	for i := 1; i < len(obs.Points)-1; i++ {
		prev, cur, next := obs.Points[i-1].Value, obs.Points[i].Value, obs.Points[i+1].Value
		if prev == nil || cur == nil || next == nil {
			flags[i] = flag.DataMissing
			continue
		}
		avgNeighbors := (*prev + *next) / 2
		dip := avgNeighbors - *cur
		flags[i] = thresholdFlag(dip, high, low)
	}
	return flags
}

// StepCheck flags a point against the magnitude of the step from its
// previous point. Mirrors olympian::step_check's 2-point window.
func StepCheck(obs dataswitch.SeriesObs, high, low float64) []flag.Flag {
	flags := make([]flag.Flag, len(obs.Points))
	if len(flags) == 0 {
		return flags
	}
	flags[0] = flag.Pass
	for i := 1; i < len(obs.Points); i++ {
		prev, cur := obs.Points[i-1].Value, obs.Points[i].Value
		if prev == nil || cur == nil {
			flags[i] = flag.DataMissing
			continue
		}
		step := math.Abs(*cur - *prev)
		flags[i] = thresholdFlag(step, high, low)
	}
	return flags
}

// RangeCheck flags a point Fail if its value is outside [low, high],
// Pass otherwise. high/low are absolute bounds here, not delta thresholds.
func RangeCheck(obs dataswitch.SeriesObs, high, low float64) []flag.Flag {
	flags := make([]flag.Flag, len(obs.Points))
	for i, p := range obs.Points {
		if p.Value == nil {
			flags[i] = flag.DataMissing
			continue
		}
		if *p.Value > high || *p.Value < low {
			flags[i] = flag.Fail
			continue
		}
		flags[i] = flag.Pass
	}
	return flags
}

// FreezeCheck flags a run of minRun (encoded via low, truncated to int)
// or more consecutive identical values as Warn, signalling a stuck sensor.
func FreezeCheck(obs dataswitch.SeriesObs, _ float64, low float64) []flag.Flag {
	flags := make([]flag.Flag, len(obs.Points))
	for i := range flags {
		flags[i] = flag.Pass
	}
	minRun := int(low)
	if minRun < 2 {
		minRun = 2
	}

	runStart := 0
	for i := 1; i <= len(obs.Points); i++ {
		broke := i == len(obs.Points) || !sameValue(obs.Points[i-1].Value, obs.Points[i].Value)
		if broke {
			if i-runStart >= minRun {
				for j := runStart; j < i; j++ {
					if obs.Points[j].Value != nil {
						flags[j] = flag.Warn
					}
				}
			}
			runStart = i
		}
	}
	return flags
}

func sameValue(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func thresholdFlag(magnitude, high, low float64) flag.Flag {
	abs := math.Abs(magnitude)
	switch {
	case abs >= high:
		return flag.Fail
	case abs >= low:
		return flag.Warn
	default:
		return flag.Pass
	}
}

// BuddyCheck flags a station Fail if its value deviates from the mean of
// its spatial neighbors by at least high standard deviations, Warn for
// low. A station with fewer than minNeighbors within radiusKm is Isolated,
// mirroring olympian::buddy_check's num_min/isolated handling.
func BuddyCheck(obs dataswitch.SpatialObs, high, low float64) []flag.Flag {
	const radiusKm = 50.0
	const minNeighbors = 2

	flags := make([]flag.Flag, len(obs.Stations))
	for i, st := range obs.Stations {
		if st.Value == nil {
			flags[i] = flag.DataMissing
			continue
		}
		var neighbors []float64
		for j, other := range obs.Stations {
			if i == j || other.Value == nil {
				continue
			}
			if haversineKm(st.Location, other.Location) <= radiusKm {
				neighbors = append(neighbors, *other.Value)
			}
		}
		if len(neighbors) < minNeighbors {
			flags[i] = flag.Isolated
			continue
		}
		mean, std := meanStd(neighbors)
		if std == 0 {
			if *st.Value == mean {
				flags[i] = flag.Pass
			} else {
				flags[i] = flag.Fail
			}
			continue
		}
		z := math.Abs(*st.Value-mean) / std
		flags[i] = thresholdFlag(z, high, low)
	}
	return flags
}

// SpatialConsistencyCheck (the "sct" equivalent) flags outliers against a
// neighborhood-weighted estimate rather than a flat mean, giving nearer
// stations more influence. Weighting is inverse-distance, a simplification
// of olympian::sct's optimal-interpolation estimate — there is no
// covariance-model dependency in the examples pack to ground a full OI
// implementation on.
func SpatialConsistencyCheck(obs dataswitch.SpatialObs, high, low float64) []flag.Flag {
	const radiusKm = 100.0

	flags := make([]flag.Flag, len(obs.Stations))
	for i, st := range obs.Stations {
		if st.Value == nil {
			flags[i] = flag.DataMissing
			continue
		}
		var weightedSum, weightTotal float64
		var count int
		for j, other := range obs.Stations {
			if i == j || other.Value == nil {
				continue
			}
			d := haversineKm(st.Location, other.Location)
			if d > radiusKm {
				continue
			}
			w := 1 / (1 + d)
			weightedSum += w * *other.Value
			weightTotal += w
			count++
		}
		if count == 0 {
			flags[i] = flag.Isolated
			continue
		}
		estimate := weightedSum / weightTotal
		flags[i] = thresholdFlag(*st.Value-estimate, high, low)
	}
	return flags
}

func meanStd(values []float64) (mean, std float64) {
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	for _, v := range values {
		std += (v - mean) * (v - mean)
	}
	std = math.Sqrt(std / float64(len(values)))
	return mean, std
}

func haversineKm(a, b dataswitch.GeoPoint) float64 {
	const earthRadiusKm = 6371.0
	toRad := func(deg float32) float64 { return float64(deg) * math.Pi / 180 }
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	sinLat, sinLon := math.Sin(dLat/2), math.Sin(dLon/2)
	h := sinLat*sinLat + math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*sinLon*sinLon
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}
