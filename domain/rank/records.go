package rank

import (
	"math"

	"gorank/domain/core"
	"gorank/domain/expr"
)

// RecordTable is the flattened (cell, gene) observation table feeding
// calibration. Columns are parallel slices; row k describes one matrix entry
// whose raw count was non-zero.
type RecordTable struct {
	RawCount     []float64
	NormCount    []float64
	Rank         []int
	LogNormCount []float64
	LogRank      []float64
}

// Len returns the number of records
func (t *RecordTable) Len() int {
	return len(t.RawCount)
}

// Assemble flattens the raw matrix, normalized matrix, and rank matrix into
// the record table. Entries with a raw count of zero are dropped here, after
// ranking: the rank matrix was computed over all genes, so the surviving
// records keep the ranks they earned against the full gene set.
func Assemble(raw, norm *expr.Matrix, ranks *Matrix) (*RecordTable, error) {
	if err := raw.Validate(); err != nil {
		return nil, err
	}
	if !raw.SameShape(norm) {
		return nil, core.NewShapeMismatchError("normalized matrix", raw.CellCount, raw.GeneCount, norm.CellCount, norm.GeneCount)
	}
	if ranks.CellCount != raw.CellCount || ranks.GeneCount != raw.GeneCount {
		return nil, core.NewShapeMismatchError("rank matrix", raw.CellCount, raw.GeneCount, ranks.CellCount, ranks.GeneCount)
	}

	kept := 0
	for _, v := range raw.Data {
		if v != 0 {
			kept++
		}
	}

	table := &RecordTable{
		RawCount:     make([]float64, 0, kept),
		NormCount:    make([]float64, 0, kept),
		Rank:         make([]int, 0, kept),
		LogNormCount: make([]float64, 0, kept),
		LogRank:      make([]float64, 0, kept),
	}

	for i := 0; i < raw.CellCount; i++ {
		rawRow := raw.Row(i)
		normRow := norm.Row(i)
		rankRow := ranks.Row(i)
		for j, rawCount := range rawRow {
			if rawCount == 0 {
				continue
			}
			logNorm := math.Log10(1 + normRow[j])
			logRank := math.Log10(1 + float64(rankRow[j]))
			if math.IsNaN(logNorm) || math.IsInf(logNorm, 0) || math.IsNaN(logRank) || math.IsInf(logRank, 0) {
				return nil, core.NewNonFiniteError("record assembly", i, j)
			}
			table.RawCount = append(table.RawCount, rawCount)
			table.NormCount = append(table.NormCount, normRow[j])
			table.Rank = append(table.Rank, rankRow[j])
			table.LogNormCount = append(table.LogNormCount, logNorm)
			table.LogRank = append(table.LogRank, logRank)
		}
	}
	return table, nil
}
