package dataswitch

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/halvorsveen/rove/internal/pool"
	"github.com/halvorsveen/rove/internal/roveerr"
)

var sourceNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Switch is the process-wide, immutable-after-construction registry of
// DataConnectors, keyed by source name.
type Switch struct {
	connectors map[string]DataConnector
	breakers   map[string]*gobreaker.CircuitBreaker
}

// New builds a Switch from a static source-name -> connector registry.
// The registry, and the Switch itself, are read-only after construction
// (spec.md §5 "Shared resources").
func New(connectors map[string]DataConnector) *Switch {
	breakers := make(map[string]*gobreaker.CircuitBreaker, len(connectors))
	for name := range connectors {
		name := name
		breakers[name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 5,
			Interval:    1 * time.Minute,
			Timeout:     2 * time.Minute,
		})
	}
	return &Switch{connectors: connectors, breakers: breakers}
}

// ParseLocator splits "<source>:<tail>" into its components, per spec.md
// §6's locator syntax.
func ParseLocator(locator string) (source, tail string, err error) {
	idx := strings.IndexByte(locator, ':')
	if idx < 0 {
		return "", "", roveerr.New(roveerr.InvalidLocator, "missing ':' in locator %q", locator)
	}
	source, tail = locator[:idx], locator[idx+1:]
	if !sourceNamePattern.MatchString(source) {
		return "", "", roveerr.New(roveerr.InvalidLocator, "invalid source name %q in locator %q", source, locator)
	}
	if strings.IndexByte(tail, 0) >= 0 {
		return "", "", roveerr.New(roveerr.InvalidLocator, "tail of locator %q contains NUL", locator)
	}
	return source, tail, nil
}

func (s *Switch) resolve(source string) (DataConnector, *gobreaker.CircuitBreaker, error) {
	conn, ok := s.connectors[source]
	if !ok {
		return nil, nil, roveerr.New(roveerr.UnknownSource, "source %q is not registered", source)
	}
	return conn, s.breakers[source], nil
}

func (s *Switch) callWithBreaker(cb *gobreaker.CircuitBreaker, fn func() (any, error)) (any, error) {
	result, err := cb.Execute(fn)
	if err != nil {
		return nil, roveerr.Wrap(roveerr.DataError, err, "connector call failed")
	}
	return result, nil
}

// FetchCache deduplicates observation fetches within a single request, so
// that no (source, tail, window) tuple is fetched twice (spec.md §4.5
// invariant, §8 property 5). It is request-scoped: a fresh FetchCache must
// be created per scheduler run.
type FetchCache struct {
	mu     sync.Mutex
	series map[string]seriesCacheEntry
	spatial map[string]spatialCacheEntry
}

type seriesCacheEntry struct {
	obs SeriesObs
	err error
}

type spatialCacheEntry struct {
	obs SpatialObs
	err error
}

// NewFetchCache creates an empty, request-scoped fetch cache.
func NewFetchCache() *FetchCache {
	return &FetchCache{
		series:  make(map[string]seriesCacheEntry),
		spatial: make(map[string]spatialCacheEntry),
	}
}

func seriesCacheKey(locator string, start, end time.Time, leadingPoints int) string {
	return fmt.Sprintf("series|%s|%d|%d|%d", locator, start.UnixNano(), end.UnixNano(), leadingPoints)
}

func spatialCacheKey(locators []string, at time.Time, polygonKey string) string {
	return fmt.Sprintf("spatial|%s|%d|%s", strings.Join(locators, ","), at.UnixNano(), polygonKey)
}

// FetchSeries parses locator, dispatches to the matching connector through
// its circuit breaker, enforces deadline, and memoizes the result in
// cache for the lifetime of the request. The call is bounded by ioPool,
// the process-wide I/O worker pool (spec.md §5).
func (s *Switch) FetchSeries(ctx context.Context, ioPool *pool.Pool, cache *FetchCache, locator string, start, end time.Time, leadingPoints int, deadline time.Time) (SeriesObs, error) {
	key := seriesCacheKey(locator, start, end, leadingPoints)

	cache.mu.Lock()
	if entry, ok := cache.series[key]; ok {
		cache.mu.Unlock()
		return entry.obs, entry.err
	}
	cache.mu.Unlock()

	source, tail, err := ParseLocator(locator)
	if err != nil {
		return SeriesObs{}, err
	}
	conn, cb, err := s.resolve(source)
	if err != nil {
		return SeriesObs{}, err
	}

	if err := ioPool.Acquire(ctx); err != nil {
		return SeriesObs{}, roveerr.Wrap(roveerr.Cancelled, err, "acquiring io pool slot")
	}
	defer ioPool.Release()

	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	result, execErr := s.callWithBreaker(cb, func() (any, error) {
		return conn.FetchSeries(ctx, tail, start, end, leadingPoints, deadline)
	})

	var obs SeriesObs
	if execErr == nil {
		obs = result.(SeriesObs)
	}

	cache.mu.Lock()
	cache.series[key] = seriesCacheEntry{obs: obs, err: execErr}
	cache.mu.Unlock()

	return obs, execErr
}

// FetchSpatialMerged fetches from every listed locator and merges the
// results, resolving station-id collisions by first-listed-source-wins
// (SPEC_FULL.md §4 item 3 — a deliberate resolution of an Open Question
// left unimplemented upstream in original_source/rove/src/data_switch.rs).
// The per-locator fetches run concurrently, bounded by ioPool, and are
// merged back in the caller's locator order afterward so the precedence
// rule does not depend on fetch completion order.
func (s *Switch) FetchSpatialMerged(ctx context.Context, ioPool *pool.Pool, cache *FetchCache, locators []string, at time.Time, polygon []GeoPoint, deadline time.Time) (SpatialObs, error) {
	if len(locators) == 0 {
		return SpatialObs{}, roveerr.New(roveerr.InvalidArgument, "at least one data locator is required")
	}

	polygonKey := fmt.Sprintf("%v", polygon)
	key := spatialCacheKey(locators, at, polygonKey)

	cache.mu.Lock()
	if entry, ok := cache.spatial[key]; ok {
		cache.mu.Unlock()
		return entry.obs, entry.err
	}
	cache.mu.Unlock()

	results := make([]SpatialObs, len(locators))

	g, gCtx := errgroup.WithContext(ctx)
	for i, locator := range locators {
		i, locator := i, locator
		g.Go(func() error {
			if err := ioPool.Acquire(gCtx); err != nil {
				return err
			}
			defer ioPool.Release()

			source, tail, err := ParseLocator(locator)
			if err != nil {
				return err
			}
			conn, cb, err := s.resolve(source)
			if err != nil {
				return err
			}

			fetchCtx, cancel := context.WithDeadline(gCtx, deadline)
			defer cancel()
			result, execErr := s.callWithBreaker(cb, func() (any, error) {
				return conn.FetchSpatial(fetchCtx, tail, at, polygon, deadline)
			})
			if execErr != nil {
				return execErr
			}
			results[i] = result.(SpatialObs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		cache.mu.Lock()
		cache.spatial[key] = spatialCacheEntry{err: err}
		cache.mu.Unlock()
		return SpatialObs{}, err
	}

	merged := SpatialObs{Timestamp: at}
	seen := make(map[string]struct{})
	for _, obs := range results {
		for _, st := range obs.Stations {
			if _, dup := seen[st.StationID]; dup {
				continue // first-listed source wins
			}
			seen[st.StationID] = struct{}{}
			merged.Stations = append(merged.Stations, st)
		}
	}

	cache.mu.Lock()
	cache.spatial[key] = spatialCacheEntry{obs: merged}
	cache.mu.Unlock()

	return merged, nil
}
