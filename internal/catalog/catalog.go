// Package catalog holds the immutable registry of known QC tests (C1).
package catalog

import (
	"fmt"

	"github.com/halvorsveen/rove/internal/dag"
)

// TestId is a stable string name for a QC test, unique within a Catalog.
type TestId string

// Kind distinguishes tests that operate on a single station's time series
// from tests that operate on a spatial slice across many stations.
type Kind int

const (
	SeriesTest Kind = iota
	SpatialTest
)

func (k Kind) String() string {
	if k == SeriesTest {
		return "SeriesTest"
	}
	return "SpatialTest"
}

// Algo is an opaque handle to the registered algorithm body for a test.
// The catalog never inspects it; the harness is the only consumer.
type Algo any

// TestDescriptor describes one catalog entry.
type TestDescriptor struct {
	ID   TestId
	Kind Kind
	Deps []TestId
	Algo Algo
}

// Entry is the static registration shape used to build a Catalog.
type Entry struct {
	ID   TestId
	Kind Kind
	Deps []TestId
	Algo Algo
}

// Catalog is the process-wide, immutable-after-construction registry of
// test descriptors and the full DAG over them.
type Catalog struct {
	descriptors map[TestId]TestDescriptor
	dag         *dag.Dag[TestId]
}

// ErrNotFound is returned by Lookup for an unregistered test id.
type ErrNotFound struct{ ID TestId }

func (e ErrNotFound) Error() string { return fmt.Sprintf("catalog: test %q not found", e.ID) }

// ErrUnresolvedDependency is returned at construction when a declared
// dependency does not resolve to a registered entry.
type ErrUnresolvedDependency struct {
	ID  TestId
	Dep TestId
}

func (e ErrUnresolvedDependency) Error() string {
	return fmt.Sprintf("catalog: test %q declares unresolved dependency %q", e.ID, e.Dep)
}

// ErrInvalidKindDependency is returned when a series test declares a
// dependency on a spatial test, which spec.md §3 forbids.
type ErrInvalidKindDependency struct {
	ID  TestId
	Dep TestId
}

func (e ErrInvalidKindDependency) Error() string {
	return fmt.Sprintf("catalog: series test %q may not depend on spatial test %q", e.ID, e.Dep)
}

// ErrCyclicCatalog is returned at construction if the declared dependency
// graph contains a cycle.
var ErrCyclicCatalog = fmt.Errorf("catalog: dependency graph contains a cycle")

// New builds an immutable Catalog from a static list of entries,
// validating that every dependency resolves, that series tests only
// depend on series tests, and that the resulting graph is acyclic.
func New(entries []Entry) (*Catalog, error) {
	descriptors := make(map[TestId]TestDescriptor, len(entries))
	for _, e := range entries {
		descriptors[e.ID] = TestDescriptor{ID: e.ID, Kind: e.Kind, Deps: e.Deps, Algo: e.Algo}
	}

	g := dag.New[TestId]()
	for id := range descriptors {
		if _, err := g.AddNode(id); err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
	}

	for _, d := range descriptors {
		for _, dep := range d.Deps {
			depDesc, ok := descriptors[dep]
			if !ok {
				return nil, ErrUnresolvedDependency{ID: d.ID, Dep: dep}
			}
			if d.Kind == SeriesTest && depDesc.Kind == SpatialTest {
				return nil, ErrInvalidKindDependency{ID: d.ID, Dep: dep}
			}
			if err := g.AddEdge(g.IndexLookup[dep], g.IndexLookup[d.ID]); err != nil {
				if err == dag.ErrCycle {
					return nil, ErrCyclicCatalog
				}
				return nil, fmt.Errorf("catalog: %s -> %s: %w", dep, d.ID, err)
			}
		}
	}

	if g.HasCycle() {
		return nil, ErrCyclicCatalog
	}

	return &Catalog{descriptors: descriptors, dag: g}, nil
}

// Lookup returns the descriptor for id, or ErrNotFound.
func (c *Catalog) Lookup(id TestId) (TestDescriptor, error) {
	d, ok := c.descriptors[id]
	if !ok {
		return TestDescriptor{}, ErrNotFound{ID: id}
	}
	return d, nil
}

// DAG returns the full dependency graph underlying the catalog. Callers
// must treat it as read-only; it is shared across all requests.
func (c *Catalog) DAG() *dag.Dag[TestId] {
	return c.dag
}

// Len reports how many tests are registered.
func (c *Catalog) Len() int {
	return len(c.descriptors)
}
