package qc

import (
	"math"
	"testing"

	"gorank/domain/core"
	"gorank/domain/expr"
)

func testMatrix(t *testing.T) *expr.AnnotatedMatrix {
	t.Helper()
	counts, err := expr.NewMatrixFromRows([][]float64{
		{1, 2, 3, 4, 5}, // healthy cell
		{0, 1, 0, 0, 0}, // too few detected genes
		{5, 5, 0, 0, 0}, // half its counts are mitochondrial
		{0, 1, 1, 0, 1}, // healthy cell
	})
	if err != nil {
		t.Fatalf("building test matrix: %v", err)
	}
	return &expr.AnnotatedMatrix{
		Counts: counts,
		Cells: []expr.CellMeta{
			{ID: "cellA"}, {ID: "cellB"}, {ID: "cellC"}, {ID: "cellD"},
		},
		Genes: []expr.GeneMeta{
			{Name: "MT-CO1"}, {Name: "ACTB"}, {Name: "GAPDH"}, {Name: "CD3E"}, {Name: "MALAT1"},
		},
	}
}

func testThresholds() Thresholds {
	return Thresholds{
		MinGenesPerCell: 2,
		MinCellsPerGene: 2,
		MaxGenesPerCell: 5,
		MaxMitoPercent:  50,
		MitoPrefix:      "MT-",
	}
}

func TestFilterRemovesCellsAndGenes(t *testing.T) {
	out, report, err := Filter(testMatrix(t), testThresholds())
	if err != nil {
		t.Fatalf("Filter failed: %v", err)
	}

	if report.CellsBefore != 4 || report.GenesBefore != 5 {
		t.Errorf("Before counts wrong: %+v", report)
	}
	if report.RemovedLowGeneCells != 1 {
		t.Errorf("Expected 1 low-gene cell removed, got %d", report.RemovedLowGeneCells)
	}
	if report.RemovedRareGenes != 1 {
		t.Errorf("Expected 1 rare gene removed, got %d", report.RemovedRareGenes)
	}
	if report.RemovedHighMitoCells != 1 {
		t.Errorf("Expected 1 high-mito cell removed, got %d", report.RemovedHighMitoCells)
	}

	if out.Counts.CellCount != 2 || out.Counts.GeneCount != 4 {
		t.Fatalf("Expected 2x4 after QC, got %dx%d", out.Counts.CellCount, out.Counts.GeneCount)
	}
	if out.Cells[0].ID != "cellA" || out.Cells[1].ID != "cellD" {
		t.Errorf("Wrong surviving cells: %+v", out.Cells)
	}
	for _, g := range out.Genes {
		if g.Name == "CD3E" {
			t.Error("Rare gene CD3E should have been removed")
		}
	}
}

func TestFilterAnnotatesSurvivors(t *testing.T) {
	out, _, err := Filter(testMatrix(t), testThresholds())
	if err != nil {
		t.Fatalf("Filter failed: %v", err)
	}

	// cellA keeps counts [1 2 3 5] after CD3E is removed.
	a := out.Cells[0]
	if a.GenesDetected != 4 {
		t.Errorf("cellA genes detected: expected 4, got %d", a.GenesDetected)
	}
	if a.TotalCounts != 11 {
		t.Errorf("cellA total counts: expected 11, got %f", a.TotalCounts)
	}
	wantMito := 100.0 / 11.0
	if math.Abs(a.MitoPercent-wantMito) > 1e-9 {
		t.Errorf("cellA mito percent: expected %f, got %f", wantMito, a.MitoPercent)
	}
}

func TestFilterHighGeneCutoff(t *testing.T) {
	th := testThresholds()
	th.MaxGenesPerCell = 4 // cellA detects exactly 4 genes post-filter

	out, report, err := Filter(testMatrix(t), th)
	if err != nil {
		t.Fatalf("Filter failed: %v", err)
	}
	if report.RemovedHighGeneCells != 1 {
		t.Errorf("Expected 1 high-gene cell removed, got %d", report.RemovedHighGeneCells)
	}
	if out.Counts.CellCount != 1 || out.Cells[0].ID != "cellD" {
		t.Errorf("Expected only cellD to survive, got %+v", out.Cells)
	}
}

func TestFilterEverythingRemovedFails(t *testing.T) {
	th := testThresholds()
	th.MinGenesPerCell = 100

	_, _, err := Filter(testMatrix(t), th)
	if !core.IsInvalidInput(err) {
		t.Errorf("Expected invalid input when QC removes every cell, got %v", err)
	}
}

func TestFilterReportSummaries(t *testing.T) {
	_, report, err := Filter(testMatrix(t), testThresholds())
	if err != nil {
		t.Fatalf("Filter failed: %v", err)
	}

	// Summaries cover the three metric-annotated cells (A, C, D).
	if report.MitoPercent.Max != 50 {
		t.Errorf("Expected max mito percent 50, got %f", report.MitoPercent.Max)
	}
	if report.TotalCounts.Max != 11 {
		t.Errorf("Expected max total counts 11, got %f", report.TotalCounts.Max)
	}
	if report.GenesDetected.Min != 2 {
		t.Errorf("Expected min genes detected 2, got %f", report.GenesDetected.Min)
	}
}

func TestAnnotateWithoutFiltering(t *testing.T) {
	am := testMatrix(t)
	Annotate(am, "MT-")

	if am.Cells[1].GenesDetected != 1 {
		t.Errorf("cellB genes detected: expected 1, got %d", am.Cells[1].GenesDetected)
	}
	if am.Cells[2].MitoPercent != 50 {
		t.Errorf("cellC mito percent: expected 50, got %f", am.Cells[2].MitoPercent)
	}
	if am.Genes[1].CellsDetected != 4 {
		t.Errorf("ACTB cells detected: expected 4, got %d", am.Genes[1].CellsDetected)
	}
}
