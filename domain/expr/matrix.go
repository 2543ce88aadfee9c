package expr

import (
	"math"

	"gorank/domain/core"
)

// Matrix is a dense cell-by-gene expression matrix. Values live in a single
// row-major buffer so row access is a slice view, not a copy, and the whole
// matrix is one allocation.
type Matrix struct {
	CellCount int
	GeneCount int
	Data      []float64
}

// NewMatrix allocates a zeroed cells-by-genes matrix
func NewMatrix(cells, genes int) *Matrix {
	return &Matrix{
		CellCount: cells,
		GeneCount: genes,
		Data:      make([]float64, cells*genes),
	}
}

// NewMatrixFromRows builds a matrix from per-cell slices
func NewMatrixFromRows(rows [][]float64) (*Matrix, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, core.ErrEmptyMatrix
	}
	genes := len(rows[0])
	m := NewMatrix(len(rows), genes)
	for i, row := range rows {
		if len(row) != genes {
			return nil, core.NewShapeMismatchError("row", len(rows), genes, i, len(row))
		}
		copy(m.Row(i), row)
	}
	return m, nil
}

// At returns the value for cell i, gene j
func (m *Matrix) At(i, j int) float64 {
	return m.Data[i*m.GeneCount+j]
}

// Set writes the value for cell i, gene j
func (m *Matrix) Set(i, j int, v float64) {
	m.Data[i*m.GeneCount+j] = v
}

// Row returns the slice view of cell i. Mutating it mutates the matrix.
func (m *Matrix) Row(i int) []float64 {
	return m.Data[i*m.GeneCount : (i+1)*m.GeneCount]
}

// RowSum returns the total count of cell i
func (m *Matrix) RowSum(i int) float64 {
	sum := 0.0
	for _, v := range m.Row(i) {
		sum += v
	}
	return sum
}

// Clone returns a deep copy
func (m *Matrix) Clone() *Matrix {
	out := NewMatrix(m.CellCount, m.GeneCount)
	copy(out.Data, m.Data)
	return out
}

// SameShape reports whether two matrices have identical dimensions
func (m *Matrix) SameShape(o *Matrix) bool {
	return m.CellCount == o.CellCount && m.GeneCount == o.GeneCount
}

// Validate checks structural integrity of the matrix
func (m *Matrix) Validate() error {
	if m == nil || m.CellCount == 0 || m.GeneCount == 0 {
		return core.ErrEmptyMatrix
	}
	if len(m.Data) != m.CellCount*m.GeneCount {
		return core.NewShapeMismatchError("matrix buffer", m.CellCount, m.GeneCount, len(m.Data)/maxInt(m.GeneCount, 1), m.GeneCount)
	}
	return nil
}

// CheckFinite scans the matrix for NaN or infinite entries. The stage name
// is carried into the error so failures point at the producing step.
func (m *Matrix) CheckFinite(stage string) error {
	for i := 0; i < m.CellCount; i++ {
		for j, v := range m.Row(i) {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return core.NewNonFiniteError(stage, i, j)
			}
		}
	}
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
