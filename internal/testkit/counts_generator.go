package testkit

import (
	"fmt"
	"math"
	"math/rand"

	"gorank/domain/expr"
)

// CountsGeneratorConfig configures the synthetic count matrix generator
type CountsGeneratorConfig struct {
	CellCount        int     `json:"cell_count"`
	GeneCount        int     `json:"gene_count"`
	MitoGeneCount    int     `json:"mito_gene_count"`
	HousekeepingRank int     `json:"housekeeping_rank"`
	DropoutRate      float64 `json:"dropout_rate"`
	Seed             int64   `json:"seed"`
}

// DefaultCountsConfig returns sensible defaults for synthetic expression data
func DefaultCountsConfig() CountsGeneratorConfig {
	return CountsGeneratorConfig{
		CellCount:        200,
		GeneCount:        400,
		MitoGeneCount:    13,
		HousekeepingRank: 8,
		DropoutRate:      0.35,
		Seed:             42,
	}
}

// Housekeeping gene names cycled through the highest-expressed columns
var housekeepingNames = []string{
	"ACTB", "GAPDH", "MALAT1", "B2M", "TMSB4X", "EEF1A1", "RPL13A", "RPS18",
}

// CountsGenerator produces realistic synthetic single-cell count matrices:
// a handful of highly expressed housekeeping genes, a mitochondrial block,
// a long tail of low expressors, and dropout zeros throughout.
type CountsGenerator struct {
	config CountsGeneratorConfig
	rng    *rand.Rand
}

// NewCountsGenerator creates a new counts generator
func NewCountsGenerator(config CountsGeneratorConfig) *CountsGenerator {
	return &CountsGenerator{
		config: config,
		rng:    rand.New(rand.NewSource(config.Seed)),
	}
}

// Generate builds the annotated count matrix
func (g *CountsGenerator) Generate() (*expr.AnnotatedMatrix, error) {
	if g.config.CellCount <= 0 || g.config.GeneCount <= 0 {
		return nil, fmt.Errorf("counts generator needs positive dimensions, got %dx%d",
			g.config.CellCount, g.config.GeneCount)
	}

	am := &expr.AnnotatedMatrix{
		Counts: expr.NewMatrix(g.config.CellCount, g.config.GeneCount),
		Cells:  make([]expr.CellMeta, g.config.CellCount),
		Genes:  make([]expr.GeneMeta, g.config.GeneCount),
	}

	weights := make([]float64, g.config.GeneCount)
	for j := range am.Genes {
		am.Genes[j] = expr.GeneMeta{Name: g.geneName(j)}
		weights[j] = g.geneWeight(j)
	}

	for i := 0; i < g.config.CellCount; i++ {
		am.Cells[i] = expr.CellMeta{ID: fmt.Sprintf("CELL_%05d", i+1)}
		row := am.Counts.Row(i)
		for j, weight := range weights {
			if g.rng.Float64() < g.config.DropoutRate {
				continue
			}
			row[j] = math.Floor(weight * g.rng.ExpFloat64())
		}
	}

	return am, nil
}

// geneName assigns the mitochondrial block first, then housekeeping names,
// then a numbered long tail
func (g *CountsGenerator) geneName(j int) string {
	switch {
	case j < g.config.MitoGeneCount:
		return fmt.Sprintf("MT-G%02d", j+1)
	case j < g.config.MitoGeneCount+g.config.HousekeepingRank:
		k := j - g.config.MitoGeneCount
		name := housekeepingNames[k%len(housekeepingNames)]
		if k >= len(housekeepingNames) {
			name = fmt.Sprintf("%s-L%d", name, k/len(housekeepingNames))
		}
		return name
	default:
		return fmt.Sprintf("G%04d", j+1)
	}
}

// geneWeight sets expected expression: housekeeping genes dominate,
// mitochondrial genes sit in the middle, the tail decays exponentially
func (g *CountsGenerator) geneWeight(j int) float64 {
	switch {
	case j < g.config.MitoGeneCount:
		return 8
	case j < g.config.MitoGeneCount+g.config.HousekeepingRank:
		return 40
	default:
		tail := float64(j-g.config.MitoGeneCount-g.config.HousekeepingRank) / float64(g.config.GeneCount)
		return 12*math.Exp(-4*tail) + 0.5
	}
}
