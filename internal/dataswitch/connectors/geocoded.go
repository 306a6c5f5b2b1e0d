package connectors

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/kelvins/geocoder"

	"github.com/halvorsveen/rove/internal/common"
	"github.com/halvorsveen/rove/internal/dataswitch"
	"github.com/halvorsveen/rove/internal/roveerr"
)

// boxHalfWidth is the half-size, in degrees, of the bounding box built
// around a geocoded point when delegating to a backing connector's spatial
// query. Small enough to favor the nearest handful of stations.
const boxHalfWidth = 0.1

// GeocodedConnector lets a locator tail name a place ("Oslo,Norway") rather
// than a raw station id. It resolves the place to a point with
// kelvins/geocoder, builds a small bounding box around it, and delegates
// the actual observation fetch to a backing connector (typically the Frost
// connector). Grounded on the teacher's provider composition in
// cmd/weather-data-aggregation/main.go, which wires several independent
// providers behind one aggregator rather than reimplementing fetch logic
// per provider.
type GeocodedConnector struct {
	backing dataswitch.DataConnector

	mu    sync.Mutex
	cache map[string]geocoder.Location
}

// NewGeocodedConnector builds a GeocodedConnector delegating observation
// fetches to backing. apiKey configures kelvins/geocoder's package-level
// provider key.
func NewGeocodedConnector(backing dataswitch.DataConnector, apiKey string) *GeocodedConnector {
	geocoder.ApiKey = apiKey
	return &GeocodedConnector{
		backing: backing,
		cache:   make(map[string]geocoder.Location),
	}
}

func (g *GeocodedConnector) resolve(place string) (geocoder.Location, error) {
	g.mu.Lock()
	if loc, ok := g.cache[place]; ok {
		g.mu.Unlock()
		return loc, nil
	}
	g.mu.Unlock()

	city, country, err := splitPlace(place)
	if err != nil {
		return geocoder.Location{}, err
	}

	loc, err := geocoder.Geocoding(geocoder.Address{City: city, Country: country})
	if err != nil {
		return geocoder.Location{}, roveerr.Wrap(roveerr.DataError, err, "geocode %q", place)
	}

	g.mu.Lock()
	g.cache[place] = loc
	g.mu.Unlock()
	return loc, nil
}

func splitPlace(place string) (city, country string, err error) {
	if common.HasAny(place, "..", "://") {
		return "", "", roveerr.New(roveerr.InvalidArgument, "geocoded tail %q looks like a path or URL, not a place", place)
	}
	parts := strings.SplitN(place, ",", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return "", "", roveerr.New(roveerr.InvalidArgument, "geocoded tail %q must be \"City,Country\"", place)
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), nil
}

func boundingBox(loc geocoder.Location) []dataswitch.GeoPoint {
	lat, lon := float32(loc.Latitude), float32(loc.Longitude)
	return []dataswitch.GeoPoint{
		{Lat: lat - boxHalfWidth, Lon: lon - boxHalfWidth},
		{Lat: lat - boxHalfWidth, Lon: lon + boxHalfWidth},
		{Lat: lat + boxHalfWidth, Lon: lon + boxHalfWidth},
		{Lat: lat + boxHalfWidth, Lon: lon - boxHalfWidth},
	}
}

func nearestStation(loc geocoder.Location, obs dataswitch.SpatialObs) (dataswitch.StationReading, bool) {
	var best dataswitch.StationReading
	bestDist := -1.0
	for _, st := range obs.Stations {
		d := haversineKm(loc.Latitude, loc.Longitude, float64(st.Location.Lat), float64(st.Location.Lon))
		if bestDist < 0 || d < bestDist {
			best, bestDist = st, d
		}
	}
	return best, bestDist >= 0
}

// FetchSpatial implements dataswitch.DataConnector. tail is "City,Country".
func (g *GeocodedConnector) FetchSpatial(ctx context.Context, tail string, at time.Time, polygon []dataswitch.GeoPoint, deadline time.Time) (dataswitch.SpatialObs, error) {
	loc, err := g.resolve(tail)
	if err != nil {
		return dataswitch.SpatialObs{}, err
	}
	box := boundingBox(loc)
	if len(polygon) >= 3 {
		box = polygon // caller's polygon replaces the geocoded box.
	}
	return g.backing.FetchSpatial(ctx, "", at, box, deadline)
}

// FetchSeries implements dataswitch.DataConnector. It geocodes tail, finds
// the nearest station to that point at start, then delegates the actual
// time series fetch to the backing connector using that station as its
// tail.
func (g *GeocodedConnector) FetchSeries(ctx context.Context, tail string, start, end time.Time, leadingPoints int, deadline time.Time) (dataswitch.SeriesObs, error) {
	loc, err := g.resolve(tail)
	if err != nil {
		return dataswitch.SeriesObs{}, err
	}

	snapshot, err := g.backing.FetchSpatial(ctx, "", start, boundingBox(loc), deadline)
	if err != nil {
		return dataswitch.SeriesObs{}, err
	}
	station, ok := nearestStation(loc, snapshot)
	if !ok {
		return dataswitch.SeriesObs{}, roveerr.New(roveerr.DataError, "no station found near %q", tail)
	}

	return g.backing.FetchSeries(ctx, station.StationID, start, end, leadingPoints, deadline)
}

// haversineKm is only used to rank nearby stations, so double precision
// trig from the standard library is more than enough.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	sinLat, sinLon := math.Sin(dLat/2), math.Sin(dLon/2)
	a := sinLat*sinLat + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*sinLon*sinLon
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
