package app

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gorank/domain/calib"
	"gorank/domain/core"
	"gorank/domain/expr"
	"gorank/domain/qc"
	"gorank/domain/sentence"
	"gorank/internal/testkit"
)

const fixturePath = "mem://counts"

// pipelineFixture is a 5x5 count matrix where QC with the test thresholds
// keeps exactly cells c0, c3, c4 and drops gene RPL7:
//   - c2 detects one gene and falls below the minimum
//   - RPL7 is only detected in c1
//   - c1 then detects all four remaining genes and hits the maximum
func pipelineFixture(t *testing.T) *expr.AnnotatedMatrix {
	t.Helper()
	counts, err := expr.NewMatrixFromRows([][]float64{
		{4, 0, 4, 2, 0},
		{1, 2, 3, 4, 5},
		{0, 1, 0, 0, 0},
		{2, 0, 3, 1, 0},
		{0, 3, 1, 2, 0},
	})
	if err != nil {
		t.Fatalf("Fixture matrix failed: %v", err)
	}

	names := []string{"ACTB", "CD3E", "GAPDH", "MALAT1", "RPL7"}
	am := &expr.AnnotatedMatrix{
		Counts: counts,
		Cells:  make([]expr.CellMeta, 5),
		Genes:  make([]expr.GeneMeta, 5),
	}
	for i := range am.Cells {
		am.Cells[i] = expr.CellMeta{ID: []string{"c0", "c1", "c2", "c3", "c4"}[i]}
	}
	for j, name := range names {
		am.Genes[j] = expr.GeneMeta{Name: name}
	}
	return am
}

func fixtureRequest(outputDir string) PipelineRequest {
	req := DefaultPipelineRequest(fixturePath, outputDir)
	req.Seed = 7
	req.SubsampleSize = 100
	req.PlotSampleSize = 100
	req.QC = qc.Thresholds{
		MinGenesPerCell: 2,
		MinCellsPerGene: 2,
		MaxGenesPerCell: 4,
		MaxMitoPercent:  50,
		MitoPrefix:      "MT-",
	}
	req.NormalizationTarget = 10
	return req
}

type pipelineHarness struct {
	service *PipelineService
	kit     *testkit.TestKit
	plotter *testkit.RecorderPlotter
}

func newHarness(t *testing.T) *pipelineHarness {
	t.Helper()
	kit := testkit.NewTestKit()
	kit.MatrixStore().Put(fixturePath, pipelineFixture(t))
	plotter := testkit.NewRecorderPlotter()
	service := NewPipelineService(kit.MatrixStore(), kit.MatrixStore(), plotter, kit.RNG(), kit.RunLedger())
	return &pipelineHarness{service: service, kit: kit, plotter: plotter}
}

func TestPipelineRunEndToEnd(t *testing.T) {
	h := newHarness(t)
	outDir := t.TempDir()
	ctx := context.Background()

	result, err := h.service.Run(ctx, fixtureRequest(outDir))
	if err != nil {
		t.Fatalf("Pipeline run failed: %v", err)
	}

	if result.Cells != 3 || result.Genes != 4 {
		t.Errorf("Expected 3x4 filtered matrix, got %dx%d", result.Cells, result.Genes)
	}
	if result.Records != 9 {
		t.Errorf("Expected 9 nonzero records, got %d", result.Records)
	}
	if result.RunID == "" || result.Fingerprint == "" {
		t.Error("Run ID and fingerprint must be set")
	}
	if result.QC.RemovedLowGeneCells != 1 || result.QC.RemovedRareGenes != 1 || result.QC.RemovedHighGeneCells != 1 {
		t.Errorf("Unexpected QC removals: %+v", result.QC)
	}

	kinds := map[core.ArtifactKind]int{}
	for _, artifact := range result.Artifacts {
		kinds[artifact.Kind]++
	}
	if kinds[core.ArtifactMatrix] != 1 || kinds[core.ArtifactMetrics] != 1 ||
		kinds[core.ArtifactPlot] != 2 || kinds[core.ArtifactSentences] != 3 ||
		kinds[core.ArtifactReport] != 1 {
		t.Errorf("Unexpected artifact kinds: %v", kinds)
	}

	// The emitted container holds log10(1+normalized) values with metadata
	container, err := h.kit.MatrixStore().Load(ctx, filepath.Join(outDir, PreprocessedDirName))
	if err != nil {
		t.Fatalf("Preprocessed container missing: %v", err)
	}
	if container.Cells[0].ID != "c0" || container.Cells[1].ID != "c3" {
		t.Errorf("Container cell order wrong: %s, %s", container.Cells[0].ID, container.Cells[1].ID)
	}
	// c0 normalized row is [4, 0, 4, 2] at target 10
	if got := container.Counts.At(0, 0); math.Abs(got-math.Log10(5)) > 1e-12 {
		t.Errorf("Expected log10(5) at (0,0), got %g", got)
	}

	// Metrics CSV round-trips to the exact fitted model
	metricsFile, err := os.Open(filepath.Join(outDir, calib.MetricsFileName))
	if err != nil {
		t.Fatalf("Metrics CSV missing: %v", err)
	}
	defer metricsFile.Close()
	parsed, err := calib.ReadCSV(metricsFile)
	if err != nil {
		t.Fatalf("Metrics CSV unreadable: %v", err)
	}
	if *parsed != result.Model {
		t.Errorf("Metrics CSV drifted from fitted model:\n got %+v\nwant %+v", *parsed, result.Model)
	}

	if _, err := os.Stat(filepath.Join(outDir, ReportName)); err != nil {
		t.Errorf("Report missing: %v", err)
	}
	reportBytes, _ := os.ReadFile(filepath.Join(outDir, ReportName))
	if !strings.Contains(string(reportBytes), "## Calibration") {
		t.Error("Report is missing the calibration section")
	}
}

func TestPipelinePlots(t *testing.T) {
	h := newHarness(t)

	result, err := h.service.Run(context.Background(), fixtureRequest(t.TempDir()))
	if err != nil {
		t.Fatalf("Pipeline run failed: %v", err)
	}

	if len(h.plotter.Rendered) != 2 {
		t.Fatalf("Expected 2 rendered plots, got %d", len(h.plotter.Rendered))
	}

	rankPlot := h.plotter.Rendered[0]
	if filepath.Base(rankPlot.Path) != RankPlotName {
		t.Errorf("Unexpected first plot path: %s", rankPlot.Path)
	}
	if rankPlot.Spec.Title != "Log Rank vs Log Expression" ||
		rankPlot.Spec.XLabel != "Gene Log Rank" ||
		rankPlot.Spec.YLabel != "Gene Log Expression" {
		t.Errorf("Rank plot labels wrong: %+v", rankPlot.Spec)
	}
	if len(rankPlot.Spec.Points) != result.Records {
		t.Errorf("Rank plot should carry all %d records, got %d", result.Records, len(rankPlot.Spec.Points))
	}
	if rankPlot.Spec.Line == nil || rankPlot.Spec.Line.Slope != result.Model.Slope {
		t.Error("Rank plot must overlay the fitted line")
	}

	reconPlot := h.plotter.Rendered[1]
	if filepath.Base(reconPlot.Path) != ReconstructionPlotName {
		t.Errorf("Unexpected second plot path: %s", reconPlot.Path)
	}
	if reconPlot.Spec.Title != "Ground Truth Expression vs Reconstruction from Rank" ||
		reconPlot.Spec.XLabel != "Ground Truth Expression" ||
		reconPlot.Spec.YLabel != "Reconstructed Expression from Log Rank" {
		t.Errorf("Reconstruction plot labels wrong: %+v", reconPlot.Spec)
	}
	if reconPlot.Spec.Line == nil || reconPlot.Spec.Line.Slope != 1 || reconPlot.Spec.Line.Intercept != 0 {
		t.Error("Reconstruction plot must overlay the identity line")
	}
}

func TestPipelineSentenceSplits(t *testing.T) {
	h := newHarness(t)
	outDir := t.TempDir()
	req := fixtureRequest(outDir)

	if _, err := h.service.Run(context.Background(), req); err != nil {
		t.Fatalf("Pipeline run failed: %v", err)
	}

	// 3 kept cells at 80/10/10 cut to 2 train, 0 valid, 1 test
	counts := map[string]int{"train": 2, "valid": 0, "test": 1}
	var lines []string
	for split, want := range counts {
		path := filepath.Join(outDir, sentence.FileName(split, req.SpeciesTag))
		content, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("Sentence file %s missing: %v", path, err)
		}
		got := nonEmptyLines(string(content))
		if len(got) != want {
			t.Errorf("Expected %d sentences in %s, got %d", want, split, len(got))
		}
		lines = append(lines, got...)
	}

	// c3 and c4 have unique rank orders; c0 ties ACTB/GAPDH at the top
	allowed := map[string]bool{
		"ACTB GAPDH MALAT1": true,
		"GAPDH ACTB MALAT1": true,
		"CD3E MALAT1 GAPDH": true,
	}
	c4Seen := 0
	for _, line := range lines {
		if !allowed[line] {
			t.Errorf("Unexpected sentence %q", line)
		}
		if line == "CD3E MALAT1 GAPDH" {
			c4Seen++
		}
	}
	if len(lines) != 3 {
		t.Fatalf("Expected 3 sentences total, got %d", len(lines))
	}
	if c4Seen != 1 {
		t.Errorf("Cell c4's sentence should appear exactly once, saw %d", c4Seen)
	}
}

func TestPipelineRecordsRunInLedger(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := fixtureRequest(t.TempDir())

	result, err := h.service.Run(ctx, req)
	if err != nil {
		t.Fatalf("Pipeline run failed: %v", err)
	}

	run, err := h.kit.RunLedger().GetRun(ctx, result.RunID)
	if err != nil {
		t.Fatalf("Run not recorded: %v", err)
	}
	if run.Cells != 3 || run.Genes != 4 || run.Seed != 7 {
		t.Errorf("Ledger run row wrong: %+v", run)
	}
	if run.Fingerprint != result.Fingerprint {
		t.Error("Ledger fingerprint differs from result")
	}
	if run.Config["threshold"] != req.Threshold {
		t.Errorf("Ledger config missing threshold, got %v", run.Config["threshold"])
	}

	model, err := h.kit.RunLedger().GetCalibration(ctx, result.RunID)
	if err != nil {
		t.Fatalf("Calibration not recorded: %v", err)
	}
	if *model != result.Model {
		t.Error("Ledger calibration differs from result")
	}
}

func TestPipelineIsDeterministic(t *testing.T) {
	ctx := context.Background()

	run := func(outDir string) (*PipelineResult, string) {
		h := newHarness(t)
		result, err := h.service.Run(ctx, fixtureRequest(outDir))
		if err != nil {
			t.Fatalf("Pipeline run failed: %v", err)
		}
		train, err := os.ReadFile(filepath.Join(outDir, "train_human.txt"))
		if err != nil {
			t.Fatalf("Train file missing: %v", err)
		}
		return result, string(train)
	}

	first, firstTrain := run(t.TempDir())
	second, secondTrain := run(t.TempDir())

	if first.Model != second.Model {
		t.Errorf("Same seed produced different models:\n%+v\n%+v", first.Model, second.Model)
	}
	if first.Fingerprint != second.Fingerprint {
		t.Error("Same inputs produced different fingerprints")
	}
	if firstTrain != secondTrain {
		t.Errorf("Same seed produced different train splits:\n%q\n%q", firstTrain, secondTrain)
	}
	if first.RunID == second.RunID {
		t.Error("Each run must get a fresh run ID")
	}
}

func TestPipelineMissingInput(t *testing.T) {
	kit := testkit.NewTestKit()
	service := NewPipelineService(kit.MatrixStore(), kit.MatrixStore(), testkit.NewRecorderPlotter(), kit.RNG(), nil)

	_, err := service.Run(context.Background(), fixtureRequest(t.TempDir()))
	if err == nil {
		t.Fatal("Expected error for missing input container")
	}
	if !strings.Contains(err.Error(), "load") {
		t.Errorf("Error should name the load stage: %v", err)
	}
}

func TestPipelineZeroSumRowSurfaces(t *testing.T) {
	kit := testkit.NewTestKit()
	counts, err := expr.NewMatrixFromRows([][]float64{
		{0, 0, 0},
		{5, 3, 1},
		{2, 4, 6},
	})
	if err != nil {
		t.Fatalf("Fixture failed: %v", err)
	}
	am := &expr.AnnotatedMatrix{
		Counts: counts,
		Cells:  []expr.CellMeta{{ID: "z"}, {ID: "a"}, {ID: "b"}},
		Genes:  []expr.GeneMeta{{Name: "g1"}, {Name: "g2"}, {Name: "g3"}},
	}
	kit.MatrixStore().Put(fixturePath, am)
	service := NewPipelineService(kit.MatrixStore(), kit.MatrixStore(), testkit.NewRecorderPlotter(), kit.RNG(), nil)

	req := fixtureRequest(t.TempDir())
	req.QC = qc.Thresholds{MinGenesPerCell: 0, MinCellsPerGene: 1, MaxGenesPerCell: 10, MaxMitoPercent: 100, MitoPrefix: "MT-"}

	_, err = service.Run(context.Background(), req)
	if err == nil {
		t.Fatal("Expected zero-sum row to fail normalization")
	}
	if !core.IsInvalidInput(err) {
		t.Errorf("Zero-sum failure should classify as invalid input: %v", err)
	}
}

func TestPipelinePlotFailureAborts(t *testing.T) {
	h := newHarness(t)
	h.plotter.Err = errors.New("render exploded")

	_, err := h.service.Run(context.Background(), fixtureRequest(t.TempDir()))
	if err == nil {
		t.Fatal("Expected plot failure to abort the run")
	}
	if !strings.Contains(err.Error(), "artifacts") {
		t.Errorf("Error should name the artifacts stage: %v", err)
	}
}

func TestPipelineValidatesRequest(t *testing.T) {
	h := newHarness(t)

	req := fixtureRequest(t.TempDir())
	req.InputPath = " "
	if _, err := h.service.Run(context.Background(), req); err == nil {
		t.Error("Expected error for blank input path")
	}

	req = fixtureRequest(t.TempDir())
	req.Fractions = sentence.Fractions{Train: 0.5, Valid: 0.1, Test: 0.1}
	if _, err := h.service.Run(context.Background(), req); err == nil {
		t.Error("Expected error for fractions that do not sum to 1")
	}
}

func nonEmptyLines(content string) []string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
