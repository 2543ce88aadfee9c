package expr

import (
	"gorank/domain/core"
)

// CellMeta holds per-cell annotations alongside the matrix rows
type CellMeta struct {
	ID            string  `json:"id"`
	GenesDetected int     `json:"genes_detected"`
	TotalCounts   float64 `json:"total_counts"`
	MitoPercent   float64 `json:"mito_percent"`
}

// GeneMeta holds per-gene annotations alongside the matrix columns
type GeneMeta struct {
	Name          string `json:"name"`
	CellsDetected int    `json:"cells_detected"`
}

// AnnotatedMatrix couples an expression matrix with cell and gene metadata.
// Metadata slice lengths always match the matrix shape.
type AnnotatedMatrix struct {
	Counts *Matrix
	Cells  []CellMeta
	Genes  []GeneMeta
}

// Validate checks the matrix and that metadata lengths match its shape
func (am *AnnotatedMatrix) Validate() error {
	if am == nil || am.Counts == nil {
		return core.ErrEmptyMatrix
	}
	if err := am.Counts.Validate(); err != nil {
		return err
	}
	if len(am.Cells) != am.Counts.CellCount {
		return core.NewShapeMismatchError("cell metadata", am.Counts.CellCount, 1, len(am.Cells), 1)
	}
	if len(am.Genes) != am.Counts.GeneCount {
		return core.NewShapeMismatchError("gene metadata", am.Counts.GeneCount, 1, len(am.Genes), 1)
	}
	return nil
}

// GeneNames returns the gene name column in matrix order
func (am *AnnotatedMatrix) GeneNames() []string {
	names := make([]string, len(am.Genes))
	for i, g := range am.Genes {
		names[i] = g.Name
	}
	return names
}

// SelectCells returns a new annotated matrix keeping only the given cell
// indices, in the order provided
func (am *AnnotatedMatrix) SelectCells(keep []int) *AnnotatedMatrix {
	out := &AnnotatedMatrix{
		Counts: NewMatrix(len(keep), am.Counts.GeneCount),
		Cells:  make([]CellMeta, len(keep)),
		Genes:  append([]GeneMeta(nil), am.Genes...),
	}
	for newRow, oldRow := range keep {
		copy(out.Counts.Row(newRow), am.Counts.Row(oldRow))
		out.Cells[newRow] = am.Cells[oldRow]
	}
	return out
}

// SelectGenes returns a new annotated matrix keeping only the given gene
// indices, in the order provided
func (am *AnnotatedMatrix) SelectGenes(keep []int) *AnnotatedMatrix {
	out := &AnnotatedMatrix{
		Counts: NewMatrix(am.Counts.CellCount, len(keep)),
		Cells:  append([]CellMeta(nil), am.Cells...),
		Genes:  make([]GeneMeta, len(keep)),
	}
	for newCol, oldCol := range keep {
		out.Genes[newCol] = am.Genes[oldCol]
		for i := 0; i < am.Counts.CellCount; i++ {
			out.Counts.Set(i, newCol, am.Counts.At(i, oldCol))
		}
	}
	return out
}
