package testkit

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"gorank/adapters/rng"
	"gorank/domain/calib"
	"gorank/domain/core"
	"gorank/domain/expr"
	"gorank/ports"
)

// TestKit provides testing utilities and fixtures
type TestKit struct {
	ledger *InMemoryRunLedger
	store  *InMemoryMatrixStore
}

// NewTestKit creates a new test kit instance
func NewTestKit() *TestKit {
	return &TestKit{
		ledger: NewInMemoryRunLedger(),
		store:  NewInMemoryMatrixStore(),
	}
}

// RNG returns the deterministic stream adapter used in production
func (t *TestKit) RNG() ports.RNGPort {
	return rng.NewAdapter()
}

// RunLedger returns the shared in-memory ledger
func (t *TestKit) RunLedger() *InMemoryRunLedger {
	return t.ledger
}

// MatrixStore returns the shared in-memory container store
func (t *TestKit) MatrixStore() *InMemoryMatrixStore {
	return t.store
}

// SyntheticCounts generates a default-sized synthetic count matrix
func (t *TestKit) SyntheticCounts(seed int64) (*expr.AnnotatedMatrix, error) {
	config := DefaultCountsConfig()
	config.Seed = seed
	return NewCountsGenerator(config).Generate()
}

// InMemoryMatrixStore implements the loader and writer ports with map-backed
// storage so pipeline tests never touch the filesystem
type InMemoryMatrixStore struct {
	matrices map[string]*expr.AnnotatedMatrix
	mu       sync.RWMutex
}

func NewInMemoryMatrixStore() *InMemoryMatrixStore {
	return &InMemoryMatrixStore{
		matrices: make(map[string]*expr.AnnotatedMatrix),
	}
}

// Put seeds the store with a matrix under the given path
func (s *InMemoryMatrixStore) Put(path string, am *expr.AnnotatedMatrix) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matrices[path] = am
}

func (s *InMemoryMatrixStore) Load(ctx context.Context, path string) (*expr.AnnotatedMatrix, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	am, exists := s.matrices[path]
	if !exists {
		return nil, fmt.Errorf("container not found: %s", path)
	}
	return am, nil
}

func (s *InMemoryMatrixStore) Write(ctx context.Context, path string, am *expr.AnnotatedMatrix) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matrices[path] = am
	return nil
}

// InMemoryRunLedger implements RunLedgerPort with in-memory storage
type InMemoryRunLedger struct {
	runs         map[core.RunID]ports.RunRecord
	calibrations map[core.RunID]calib.Model
	mu           sync.RWMutex
}

func NewInMemoryRunLedger() *InMemoryRunLedger {
	return &InMemoryRunLedger{
		runs:         make(map[core.RunID]ports.RunRecord),
		calibrations: make(map[core.RunID]calib.Model),
	}
}

func (l *InMemoryRunLedger) EnsureSchema(ctx context.Context) error {
	return nil
}

func (l *InMemoryRunLedger) SaveRun(ctx context.Context, run ports.RunRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs[run.ID] = run
	return nil
}

func (l *InMemoryRunLedger) SaveCalibration(ctx context.Context, runID core.RunID, model calib.Model) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calibrations[runID] = model
	return nil
}

func (l *InMemoryRunLedger) GetRun(ctx context.Context, id core.RunID) (*ports.RunRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	run, exists := l.runs[id]
	if !exists {
		return nil, core.NewRunNotFoundError(id)
	}
	return &run, nil
}

func (l *InMemoryRunLedger) GetCalibration(ctx context.Context, runID core.RunID) (*calib.Model, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	model, exists := l.calibrations[runID]
	if !exists {
		return nil, core.NewRunNotFoundError(runID)
	}
	return &model, nil
}

func (l *InMemoryRunLedger) ListRuns(ctx context.Context, limit int) ([]ports.RunRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	runs := make([]ports.RunRecord, 0, len(l.runs))
	for _, run := range l.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(a, b int) bool {
		return runs[b].CreatedAt.Before(runs[a].CreatedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// RenderedPlot records one RenderScatter call
type RenderedPlot struct {
	Spec ports.ScatterSpec
	Path string
}

// RecorderPlotter implements ScatterPlotterPort by recording calls instead
// of rendering images
type RecorderPlotter struct {
	Rendered []RenderedPlot
	Err      error
	mu       sync.Mutex
}

func NewRecorderPlotter() *RecorderPlotter {
	return &RecorderPlotter{}
}

func (p *RecorderPlotter) RenderScatter(ctx context.Context, spec ports.ScatterSpec, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Err != nil {
		return p.Err
	}
	p.Rendered = append(p.Rendered, RenderedPlot{Spec: spec, Path: path})
	return nil
}
