package rank

import (
	"context"
	"math/rand"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"gorank/domain/core"
	"gorank/domain/expr"
)

// StreamName labels the RNG streams used for per-row tie shuffling
const StreamName = "rank-row"

// Matrix holds per-cell gene ranks. Entry (i, j) is the position of gene j
// in cell i's descending expression order: 0 is the most expressed gene,
// and every row is a permutation of 0..genes-1.
type Matrix struct {
	CellCount int
	GeneCount int
	Data      []int
}

// NewMatrix allocates a rank matrix for the given shape
func NewMatrix(cells, genes int) *Matrix {
	return &Matrix{
		CellCount: cells,
		GeneCount: genes,
		Data:      make([]int, cells*genes),
	}
}

// At returns the rank of gene j in cell i
func (m *Matrix) At(i, j int) int {
	return m.Data[i*m.GeneCount+j]
}

// Row returns the slice view of cell i's ranks
func (m *Matrix) Row(i int) []int {
	return m.Data[i*m.GeneCount : (i+1)*m.GeneCount]
}

// RNG provides seeded random number generation for deterministic operations.
// It restates ports.RNGPort method for method: declaring it here keeps the
// domain free of port imports, which would cycle (ports -> calib -> rank).
type RNG interface {
	// SeededStream creates a deterministic random number generator for a named operation
	SeededStream(ctx context.Context, name string, seed int64) (*rand.Rand, error)

	// IndexedStream creates a deterministic RNG stream for one element of a
	// named operation, e.g. one matrix row. Streams depend only on the name,
	// index, and base seed, never on scheduling, so parallel callers get
	// identical results for identical inputs.
	IndexedStream(ctx context.Context, name string, index int, baseSeed int64) (*rand.Rand, error)
}

// Transformer computes rank matrices with randomized tie-breaking
type Transformer struct {
	rng     RNG
	seed    int64
	workers int
}

// NewTransformer creates a transformer drawing per-row streams from rng
// under the given base seed
func NewTransformer(rng RNG, seed int64) *Transformer {
	return &Transformer{
		rng:     rng,
		seed:    seed,
		workers: runtime.GOMAXPROCS(0),
	}
}

// WithWorkers bounds the number of rows ranked concurrently
func (t *Transformer) WithWorkers(n int) *Transformer {
	if n > 0 {
		t.workers = n
	}
	return t
}

// Transform ranks every row of m. Per row, the column order is shuffled with
// that row's RNG stream and then stable-sorted by value descending, so genes
// with equal values keep their shuffled order and receive consecutive ranks
// uniformly at random. Zero-count genes are ranked like any other value and
// end up sharing the tail ranks in randomized order.
//
// Rows are ranked concurrently; results do not depend on scheduling because
// each row's stream is derived only from the row index and base seed.
func (t *Transformer) Transform(ctx context.Context, m *expr.Matrix) (*Matrix, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	out := NewMatrix(m.CellCount, m.GeneCount)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(t.workers)
	for i := 0; i < m.CellCount; i++ {
		row := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			stream, err := t.rng.IndexedStream(ctx, StreamName, row, t.seed)
			if err != nil {
				return err
			}
			rankRow(m.Row(row), out.Row(row), stream.Perm(m.GeneCount))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// rankRow writes ranks for one cell. order arrives pre-shuffled; after the
// stable descending sort its position k holds the gene with rank k.
func rankRow(values []float64, ranks []int, order []int) {
	sort.SliceStable(order, func(a, b int) bool {
		return values[order[a]] > values[order[b]]
	})
	for pos, gene := range order {
		ranks[gene] = pos
	}
}

// Validate checks structural integrity of the rank matrix
func (m *Matrix) Validate() error {
	if m == nil || m.CellCount == 0 || m.GeneCount == 0 {
		return core.ErrEmptyMatrix
	}
	if len(m.Data) != m.CellCount*m.GeneCount {
		return core.NewShapeMismatchError("rank buffer", m.CellCount, m.GeneCount, len(m.Data)/m.GeneCount, m.GeneCount)
	}
	return nil
}
