package qc

import (
	"fmt"
	"strings"

	"github.com/montanaflynn/stats"

	"gorank/domain/core"
	"gorank/domain/expr"
)

// Thresholds holds the quality-control cutoffs applied before normalization
type Thresholds struct {
	MinGenesPerCell int     // keep cells with at least this many detected genes
	MinCellsPerGene int     // keep genes detected in at least this many cells
	MaxGenesPerCell int     // drop cells detecting this many genes or more
	MaxMitoPercent  float64 // drop cells at or above this mitochondrial share
	MitoPrefix      string  // gene name prefix marking mitochondrial genes
}

// DefaultThresholds returns the standard single-cell QC cutoffs
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinGenesPerCell: 200,
		MinCellsPerGene: 3,
		MaxGenesPerCell: 2500,
		MaxMitoPercent:  20,
		MitoPrefix:      "MT-",
	}
}

// Summary captures the distribution of a per-cell QC metric
type Summary struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Report describes what filtering removed and the metric distributions
// observed before the per-cell metric filters ran
type Report struct {
	CellsBefore int `json:"cells_before"`
	CellsAfter  int `json:"cells_after"`
	GenesBefore int `json:"genes_before"`
	GenesAfter  int `json:"genes_after"`

	RemovedLowGeneCells  int `json:"removed_low_gene_cells"`
	RemovedRareGenes     int `json:"removed_rare_genes"`
	RemovedHighGeneCells int `json:"removed_high_gene_cells"`
	RemovedHighMitoCells int `json:"removed_high_mito_cells"`

	GenesDetected Summary `json:"genes_detected"`
	TotalCounts   Summary `json:"total_counts"`
	MitoPercent   Summary `json:"mito_percent"`
}

// Filter applies the QC pipeline in order: low-gene cells, rare genes,
// metric annotation, then the high-gene and high-mito cell cutoffs. The
// returned matrix carries refreshed cell and gene metadata. Filtering away
// every cell or every gene is an error, since downstream stages need a
// non-empty matrix.
func Filter(am *expr.AnnotatedMatrix, th Thresholds) (*expr.AnnotatedMatrix, *Report, error) {
	if err := am.Validate(); err != nil {
		return nil, nil, err
	}

	report := &Report{
		CellsBefore: am.Counts.CellCount,
		GenesBefore: am.Counts.GeneCount,
	}

	// Pass 1: cells with enough detected genes.
	keepCells := make([]int, 0, am.Counts.CellCount)
	for i := 0; i < am.Counts.CellCount; i++ {
		if detectedGenes(am.Counts.Row(i)) >= th.MinGenesPerCell {
			keepCells = append(keepCells, i)
		}
	}
	report.RemovedLowGeneCells = am.Counts.CellCount - len(keepCells)
	if len(keepCells) == 0 {
		return nil, nil, fmt.Errorf("%w: every cell fell below %d detected genes", core.ErrEmptyMatrix, th.MinGenesPerCell)
	}
	filtered := am.SelectCells(keepCells)

	// Pass 2: genes detected in enough cells.
	keepGenes := make([]int, 0, filtered.Counts.GeneCount)
	for j := 0; j < filtered.Counts.GeneCount; j++ {
		cells := cellsDetecting(filtered.Counts, j)
		if cells >= th.MinCellsPerGene {
			keepGenes = append(keepGenes, j)
		}
	}
	report.RemovedRareGenes = filtered.Counts.GeneCount - len(keepGenes)
	if len(keepGenes) == 0 {
		return nil, nil, fmt.Errorf("%w: every gene was detected in fewer than %d cells", core.ErrEmptyMatrix, th.MinCellsPerGene)
	}
	filtered = filtered.SelectGenes(keepGenes)

	// Pass 3: annotate per-cell metrics on the reduced matrix.
	annotate(filtered, th.MitoPrefix)
	report.GenesDetected = summarize(collect(filtered, func(c expr.CellMeta) float64 { return float64(c.GenesDetected) }))
	report.TotalCounts = summarize(collect(filtered, func(c expr.CellMeta) float64 { return c.TotalCounts }))
	report.MitoPercent = summarize(collect(filtered, func(c expr.CellMeta) float64 { return c.MitoPercent }))

	// Pass 4: metric cutoffs.
	keepCells = keepCells[:0]
	for i, meta := range filtered.Cells {
		switch {
		case meta.GenesDetected >= th.MaxGenesPerCell:
			report.RemovedHighGeneCells++
		case meta.MitoPercent >= th.MaxMitoPercent:
			report.RemovedHighMitoCells++
		default:
			keepCells = append(keepCells, i)
		}
	}
	if len(keepCells) == 0 {
		return nil, nil, fmt.Errorf("%w: metric cutoffs removed every cell", core.ErrEmptyMatrix)
	}
	filtered = filtered.SelectCells(keepCells)

	report.CellsAfter = filtered.Counts.CellCount
	report.GenesAfter = filtered.Counts.GeneCount
	return filtered, report, nil
}

// Annotate computes per-cell QC metrics in place without filtering, for
// callers that skip QC but still want metadata in the output container
func Annotate(am *expr.AnnotatedMatrix, mitoPrefix string) {
	annotate(am, mitoPrefix)
}

func annotate(am *expr.AnnotatedMatrix, mitoPrefix string) {
	mito := make([]bool, am.Counts.GeneCount)
	for j, g := range am.Genes {
		mito[j] = strings.HasPrefix(g.Name, mitoPrefix)
	}

	for i := range am.Cells {
		row := am.Counts.Row(i)
		detected := 0
		total := 0.0
		mitoTotal := 0.0
		for j, v := range row {
			if v != 0 {
				detected++
			}
			total += v
			if mito[j] {
				mitoTotal += v
			}
		}
		am.Cells[i].GenesDetected = detected
		am.Cells[i].TotalCounts = total
		if total > 0 {
			am.Cells[i].MitoPercent = 100 * mitoTotal / total
		} else {
			am.Cells[i].MitoPercent = 0
		}
	}

	for j := range am.Genes {
		am.Genes[j].CellsDetected = cellsDetecting(am.Counts, j)
	}
}

func detectedGenes(row []float64) int {
	n := 0
	for _, v := range row {
		if v != 0 {
			n++
		}
	}
	return n
}

func cellsDetecting(m *expr.Matrix, gene int) int {
	n := 0
	for i := 0; i < m.CellCount; i++ {
		if m.At(i, gene) != 0 {
			n++
		}
	}
	return n
}

func collect(am *expr.AnnotatedMatrix, metric func(expr.CellMeta) float64) []float64 {
	values := make([]float64, len(am.Cells))
	for i, c := range am.Cells {
		values[i] = metric(c)
	}
	return values
}

func summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}
	mean, _ := stats.Mean(values)
	median, _ := stats.Median(values)
	min, _ := stats.Min(values)
	max, _ := stats.Max(values)
	return Summary{Mean: mean, Median: median, Min: min, Max: max}
}
