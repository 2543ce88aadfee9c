package testkit

import (
	"math"
	"strings"
	"testing"

	"gorank/domain/expr"
)

func TestGenerateShapeAndNames(t *testing.T) {
	config := DefaultCountsConfig()
	am, err := NewCountsGenerator(config).Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if am.Counts.CellCount != config.CellCount || am.Counts.GeneCount != config.GeneCount {
		t.Fatalf("Expected %dx%d matrix, got %dx%d",
			config.CellCount, config.GeneCount, am.Counts.CellCount, am.Counts.GeneCount)
	}
	if err := am.Validate(); err != nil {
		t.Fatalf("Generated matrix failed validation: %v", err)
	}

	mito := 0
	for _, gene := range am.Genes {
		if strings.HasPrefix(gene.Name, "MT-") {
			mito++
		}
	}
	if mito != config.MitoGeneCount {
		t.Errorf("Expected %d mitochondrial genes, got %d", config.MitoGeneCount, mito)
	}

	if am.Genes[config.MitoGeneCount].Name != "ACTB" {
		t.Errorf("Expected first housekeeping gene ACTB, got %s", am.Genes[config.MitoGeneCount].Name)
	}
	if am.Cells[0].ID != "CELL_00001" {
		t.Errorf("Unexpected first cell ID: %s", am.Cells[0].ID)
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	config := DefaultCountsConfig()
	first, err := NewCountsGenerator(config).Generate()
	if err != nil {
		t.Fatalf("First generate failed: %v", err)
	}
	second, err := NewCountsGenerator(config).Generate()
	if err != nil {
		t.Fatalf("Second generate failed: %v", err)
	}

	for k := range first.Counts.Data {
		if first.Counts.Data[k] != second.Counts.Data[k] {
			t.Fatalf("Same seed produced different counts at offset %d", k)
		}
	}
}

func TestGenerateCountsAreRealistic(t *testing.T) {
	am, err := NewCountsGenerator(DefaultCountsConfig()).Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	zeros := 0
	for _, v := range am.Counts.Data {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("Generated count %g is not a valid count", v)
		}
		if v != math.Floor(v) {
			t.Fatalf("Generated count %g is not integral", v)
		}
		if v == 0 {
			zeros++
		}
	}
	if zeros == 0 {
		t.Error("Expected dropout zeros in synthetic counts")
	}
	if zeros == len(am.Counts.Data) {
		t.Error("Synthetic matrix is all zeros")
	}

	// Housekeeping columns should out-express the tail on average
	config := DefaultCountsConfig()
	houseMean := columnMean(am, config.MitoGeneCount)
	tailMean := columnMean(am, config.GeneCount-1)
	if houseMean <= tailMean {
		t.Errorf("Housekeeping mean %.2f should exceed tail mean %.2f", houseMean, tailMean)
	}
}

func TestGenerateRejectsBadDimensions(t *testing.T) {
	config := DefaultCountsConfig()
	config.CellCount = 0
	if _, err := NewCountsGenerator(config).Generate(); err == nil {
		t.Error("Expected error for zero cell count")
	}
}

func columnMean(am *expr.AnnotatedMatrix, col int) float64 {
	sum := 0.0
	for i := 0; i < am.Counts.CellCount; i++ {
		sum += am.Counts.At(i, col)
	}
	return sum / float64(am.Counts.CellCount)
}
