// Package scheduler implements the Scheduler (C5): plans the minimal
// sub-DAG for a request, fetches its observations once, then executes the
// sub-DAG with maximum safe concurrency while streaming results as they
// complete. Grounded on the teacher's concurrent fan-out in
// internal/weather/service.go (FetchAndStore's WaitGroup-based worker
// fan-out, generalized here into a dependency-aware dispatch loop) and,
// for bounded concurrency, the channel-as-semaphore idiom from
// jinterlante1206-AleutianLocal's llm_classifier.go wrapped as
// internal/pool.Pool.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/halvorsveen/rove/internal/catalog"
	"github.com/halvorsveen/rove/internal/dag"
	"github.com/halvorsveen/rove/internal/dataswitch"
	"github.com/halvorsveen/rove/internal/harness"
	"github.com/halvorsveen/rove/internal/pool"
	"github.com/halvorsveen/rove/internal/qcalgo"
	"github.com/halvorsveen/rove/internal/roveerr"
)

// Request names the tests and data a single run must satisfy. Exactly one
// of SeriesLocator or (SpatialLocators, Polygon) is set, mirroring
// spec.md §4.6's two operations.
type Request struct {
	Tests []catalog.TestId

	// Series request fields.
	SeriesLocator string
	Start, End    time.Time

	// Spatial request fields.
	SpatialLocators []string
	At              time.Time
	Polygon         []dataswitch.GeoPoint

	Deadline time.Time
}

// Event is one item of a run's output stream: either a completed test
// result, or — as the final item — a terminal error. A successful run's
// stream ends with no error event at all.
type Event struct {
	Series  *harness.SeriesResult
	Spatial *harness.SpatialResult
	Err     error
}

// Scheduler owns the process-wide resources a run needs: the catalog+DAG,
// the data switch, the harness, and the two worker pools. These are all
// immutable/shared after construction (spec.md §5).
type Scheduler struct {
	cat      *catalog.Catalog
	switcher *dataswitch.Switch
	harness  *harness.Harness
	ioPool   *pool.Pool
	compute  *pool.Pool

	runsStarted   atomic.Int64
	runsFinished  atomic.Int64
	testsInflight atomic.Int64
}

// New builds a Scheduler over shared, process-wide resources.
func New(cat *catalog.Catalog, switcher *dataswitch.Switch, h *harness.Harness, ioPool, computePool *pool.Pool) *Scheduler {
	return &Scheduler{cat: cat, switcher: switcher, harness: h, ioPool: ioPool, compute: computePool}
}

// Stats is a point-in-time snapshot of scheduler throughput, consumed by
// internal/statsjob's periodic report.
type Stats struct {
	RunsStarted   int64
	RunsFinished  int64
	TestsInflight int64
}

// Stats reports the scheduler's current throughput counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		RunsStarted:   s.runsStarted.Load(),
		RunsFinished:  s.runsFinished.Load(),
		TestsInflight: s.testsInflight.Load(),
	}
}

// maxLeadingPoints scans the series tests in subdag for the largest
// LeadingPoints requirement, so the Data Switch fetch can be widened once
// up front (SPEC_FULL.md §4 item 1).
func maxLeadingPoints(cat *catalog.Catalog, subdag *dag.Dag[catalog.TestId]) int {
	max := 0
	for _, n := range subdag.Nodes {
		desc, err := cat.Lookup(n.Elem)
		if err != nil || desc.Kind != catalog.SeriesTest {
			continue
		}
		if spec, ok := desc.Algo.(qcalgo.SeriesSpec); ok && spec.LeadingPoints > max {
			max = spec.LeadingPoints
		}
	}
	return max
}

type runState struct {
	subdag            *dag.Dag[catalog.TestId]
	pending           map[dag.NodeId]struct{}
	inflight          map[dag.NodeId]struct{}
	done              map[dag.NodeId]struct{}
	childrenCompleted map[dag.NodeId]int
}

func newRunState(subdag *dag.Dag[catalog.TestId]) *runState {
	rs := &runState{
		subdag:            subdag,
		pending:           make(map[dag.NodeId]struct{}),
		inflight:          make(map[dag.NodeId]struct{}),
		done:              make(map[dag.NodeId]struct{}),
		childrenCompleted: make(map[dag.NodeId]int),
	}
	for i := range subdag.Nodes {
		rs.pending[dag.NodeId(i)] = struct{}{}
	}
	return rs
}

type completion struct {
	idx     dag.NodeId
	series  *harness.SeriesResult
	spatial *harness.SpatialResult
	err     error
}

// Run validates and plans req, fetches its observations, then executes the
// extracted sub-DAG, sending one Event per completed test on the returned
// channel in causal order (a test's Event never precedes any of its
// dependencies' Events). An unknown test, or a failure to fetch the
// observations, is returned directly as Run's error. Once execution has
// started, the channel is closed after the run ends, successfully or not,
// and a failed run's last Event carries the error.
func (s *Scheduler) Run(ctx context.Context, req Request) (<-chan Event, error) {
	runID := uuid.NewString()

	tests := dedupe(req.Tests)

	subdag, err := s.cat.DAG().Extract(tests)
	if err != nil {
		if unk, ok := asUnknownNode(err); ok {
			return nil, roveerr.New(roveerr.UnknownTest, "test %q is not registered", unk)
		}
		return nil, roveerr.Wrap(roveerr.Internal, err, "extracting sub-dag")
	}

	out := make(chan Event)

	if subdag.Size() == 0 {
		close(out)
		return out, nil
	}

	isSpatial := len(req.SpatialLocators) > 0
	ctx, cancel := context.WithDeadline(ctx, req.Deadline)

	var seriesObs dataswitch.SeriesObs
	var spatialObs dataswitch.SpatialObs
	cache := dataswitch.NewFetchCache()

	if isSpatial {
		spatialObs, err = s.switcher.FetchSpatialMerged(ctx, s.ioPool, cache, req.SpatialLocators, req.At, req.Polygon, req.Deadline)
	} else {
		leading := maxLeadingPoints(s.cat, subdag)
		seriesObs, err = s.switcher.FetchSeries(ctx, s.ioPool, cache, req.SeriesLocator, req.Start, req.End, leading, req.Deadline)
	}
	if err != nil {
		cancel()
		close(out)
		if _, ok := err.(*roveerr.Error); ok {
			return out, err
		}
		return out, roveerr.Wrap(roveerr.DataError, err, "run %s: fetching observations", runID)
	}

	s.runsStarted.Add(1)
	go s.dispatch(ctx, cancel, runID, subdag, seriesObs, spatialObs, out)
	return out, nil
}

func (s *Scheduler) dispatch(ctx context.Context, cancel context.CancelFunc, runID string, subdag *dag.Dag[catalog.TestId], seriesObs dataswitch.SeriesObs, spatialObs dataswitch.SpatialObs, out chan<- Event) {
	defer cancel()
	defer close(out)
	defer s.runsFinished.Add(1)

	rs := newRunState(subdag)
	seriesCache := make(harness.SeriesCache)
	spatialCache := make(harness.SpatialCache)

	results := make(chan completion)

	launch := func(idx dag.NodeId) {
		delete(rs.pending, idx)
		rs.inflight[idx] = struct{}{}
		s.testsInflight.Add(1)
		go s.runOne(ctx, subdag, idx, seriesObs, spatialObs, results)
	}

	for _, idx := range subdag.Roots() {
		launch(idx)
	}

	var terminalErr error
	emitted := 0

	for emitted < subdag.Size() && terminalErr == nil {
		select {
		case <-ctx.Done():
			terminalErr = roveerr.New(roveerr.Cancelled, "run %s: %v", runID, ctx.Err())
		case c := <-results:
			delete(rs.inflight, c.idx)
			s.testsInflight.Add(-1)
			if c.err != nil {
				terminalErr = c.err
				break
			}
			rs.done[c.idx] = struct{}{}

			// Recorded for a parent test to read its dependencies' results
			// (spec.md §9's open question on whether a test sees upstream
			// flags); runOne currently always passes nil parents, so these
			// writes have no reader yet.
			testID := subdag.Elem(c.idx)
			if c.series != nil {
				seriesCache[testID] = *c.series
			}
			if c.spatial != nil {
				spatialCache[testID] = *c.spatial
			}

			select {
			case out <- Event{Series: c.series, Spatial: c.spatial}:
			case <-ctx.Done():
				terminalErr = roveerr.New(roveerr.Cancelled, "run %s: %v", runID, ctx.Err())
			}
			emitted++

			for _, child := range subdag.Children(c.idx) {
				rs.childrenCompleted[child]++
				if rs.childrenCompleted[child] == len(subdag.Parents(child)) {
					launch(child)
				}
			}
		}
	}

	if terminalErr != nil {
		// Drain completions for everything still inflight so their
		// goroutines don't leak, discarding the results (spec.md §5
		// "Cancellation").
		for len(rs.inflight) > 0 {
			c := <-results
			delete(rs.inflight, c.idx)
			s.testsInflight.Add(-1)
		}
		out <- Event{Err: terminalErr}
	}
}

func (s *Scheduler) runOne(ctx context.Context, subdag *dag.Dag[catalog.TestId], idx dag.NodeId, seriesObs dataswitch.SeriesObs, spatialObs dataswitch.SpatialObs, results chan<- completion) {
	testID := subdag.Elem(idx)

	if err := s.compute.Acquire(ctx); err != nil {
		results <- completion{idx: idx, err: roveerr.Wrap(roveerr.Cancelled, err, "acquiring compute pool slot for %s", testID)}
		return
	}
	defer s.compute.Release()

	desc, err := s.cat.Lookup(testID)
	if err != nil {
		results <- completion{idx: idx, err: roveerr.Wrap(roveerr.Internal, err, "test %s vanished from catalog mid-run", testID)}
		return
	}

	if desc.Kind == catalog.SpatialTest {
		r, err := s.harness.RunSpatial(desc, spatialObs, nil)
		if err != nil {
			results <- completion{idx: idx, err: roveerr.WrapTest(string(testID), err)}
			return
		}
		results <- completion{idx: idx, spatial: &r}
		return
	}

	// The shared fetch was widened by the sub-DAG's largest LeadingPoints,
	// so every series test trims that many points, not just its own need.
	leading := maxLeadingPoints(s.cat, subdag)
	r, err := s.harness.RunSeries(desc, seriesObs, leading, nil)
	if err != nil {
		results <- completion{idx: idx, err: roveerr.WrapTest(string(testID), err)}
		return
	}
	results <- completion{idx: idx, series: &r}
}

func dedupe(ids []catalog.TestId) []catalog.TestId {
	seen := make(map[catalog.TestId]struct{}, len(ids))
	out := make([]catalog.TestId, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func asUnknownNode(err error) (catalog.TestId, bool) {
	if unk, ok := err.(dag.ErrUnknownNode[catalog.TestId]); ok {
		return unk.Elem, true
	}
	return "", false
}
