// Package testkit provides in-memory adapters and synthetic study data for
// tests of the app services.
package testkit

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"megstats/domain/cluster"
	"megstats/domain/core"
	"megstats/domain/observation"
	"megstats/domain/run"
	"megstats/ports"

	"gonum.org/v1/gonum/mat"
)

type obsKey struct {
	subject   core.SubjectID
	timepoint core.Timepoint
	condition core.Condition
}

// InMemoryObservationStore implements the observation ports over a map
type InMemoryObservationStore struct {
	mu      sync.RWMutex
	obs     map[obsKey]*observation.Observation
	written map[string]*observation.Observation
	reads   int
}

var (
	_ ports.ObservationReader = (*InMemoryObservationStore)(nil)
	_ ports.ObservationWriter = (*InMemoryObservationStore)(nil)
)

// NewInMemoryObservationStore creates an empty store
func NewInMemoryObservationStore() *InMemoryObservationStore {
	return &InMemoryObservationStore{
		obs:     make(map[obsKey]*observation.Observation),
		written: make(map[string]*observation.Observation),
	}
}

// Put stores a subject observation
func (s *InMemoryObservationStore) Put(o *observation.Observation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obs[obsKey{o.Subject, o.Timepoint, o.Condition}] = o
}

// Delete removes a subject observation
func (s *InMemoryObservationStore) Delete(subject core.SubjectID, tp core.Timepoint, condition core.Condition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.obs, obsKey{subject, tp, condition})
}

func (s *InMemoryObservationStore) ReadObservation(ctx context.Context, subject core.SubjectID, tp core.Timepoint, condition core.Condition) (*observation.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	o, ok := s.obs[obsKey{subject, tp, condition}]
	if !ok {
		return nil, core.NewObservationMissingError(subject, tp, condition, nil)
	}
	cp := *o
	cp.Data = mat.DenseCopyOf(o.Data)
	return &cp, nil
}

func (s *InMemoryObservationStore) WriteObservation(ctx context.Context, path string, obs *observation.Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written[path] = obs
	return nil
}

// Reads returns the number of ReadObservation calls
func (s *InMemoryObservationStore) Reads() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reads
}

// Written returns the paths passed to WriteObservation, sorted
func (s *InMemoryObservationStore) Written() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.written))
	for p := range s.written {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// InMemoryResultStore implements ports.ResultStore over a map
type InMemoryResultStore struct {
	mu      sync.RWMutex
	results map[string]*cluster.Result
	markers map[string]bool
}

var _ ports.ResultStore = (*InMemoryResultStore)(nil)

// NewInMemoryResultStore creates an empty result store
func NewInMemoryResultStore() *InMemoryResultStore {
	return &InMemoryResultStore{
		results: make(map[string]*cluster.Result),
		markers: make(map[string]bool),
	}
}

func (s *InMemoryResultStore) SaveResult(ctx context.Context, stem string, res *cluster.Result) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[stem] = res
	return "mem://" + stem, nil
}

func (s *InMemoryResultStore) LoadResult(ctx context.Context, stem string) (*cluster.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.results[stem]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrClusterResultAbsent, stem)
	}
	return res, nil
}

func (s *InMemoryResultStore) MarkNoSignificant(ctx context.Context, stem string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers[stem] = true
	return "mem://" + stem + "_no_significant_clusters.txt", nil
}

// Marked reports whether the no-significant marker was written for stem
func (s *InMemoryResultStore) Marked(stem string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.markers[stem]
}

// InMemoryLedgerAdapter implements LedgerPort with in-memory storage
type InMemoryLedgerAdapter struct {
	mu        sync.RWMutex
	manifests []*run.Manifest
}

var _ ports.LedgerPort = (*InMemoryLedgerAdapter)(nil)

// NewInMemoryLedgerAdapter creates an empty ledger
func NewInMemoryLedgerAdapter() *InMemoryLedgerAdapter {
	return &InMemoryLedgerAdapter{}
}

func (l *InMemoryLedgerAdapter) Record(ctx context.Context, m *run.Manifest) error {
	if err := m.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.manifests = append(l.manifests, m)
	return nil
}

func (l *InMemoryLedgerAdapter) ListRuns(ctx context.Context, filters ports.RunFilters) ([]*run.Manifest, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*run.Manifest
	for i := len(l.manifests) - 1; i >= 0; i-- {
		m := l.manifests[i]
		if !filters.Match(m) {
			continue
		}
		out = append(out, m)
		if filters.Limit > 0 && len(out) >= filters.Limit {
			break
		}
	}
	return out, nil
}

func (l *InMemoryLedgerAdapter) GetRun(ctx context.Context, runID core.RunID) (*run.Manifest, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, m := range l.manifests {
		if m.RunID == runID {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: run %s", core.ErrNotFound, runID)
}

// TestKit bundles a synthetic study with in-memory adapters
type TestKit struct {
	Generator    *SubjectGenerator
	Observations *InMemoryObservationStore
	Results      *InMemoryResultStore
	Ledger       *InMemoryLedgerAdapter
}

// NewTestKit generates the configured study into fresh in-memory adapters
func NewTestKit(config SubjectGeneratorConfig) *TestKit {
	kit := &TestKit{
		Generator:    NewSubjectGenerator(config),
		Observations: NewInMemoryObservationStore(),
		Results:      NewInMemoryResultStore(),
		Ledger:       NewInMemoryLedgerAdapter(),
	}
	kit.Generator.Generate(kit.Observations)
	return kit
}
