package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorank/domain/calib"
	"gorank/domain/core"
	"gorank/domain/expr"
	"gorank/domain/qc"
	"gorank/domain/rank"
	"gorank/domain/sentence"
	"gorank/internal"
	"gorank/internal/errors"
	"gorank/ports"
)

// Artifact file names written into the output directory
const (
	PreprocessedDirName      = "preprocessed_matrix"
	PreprocessedWorkbookName = "preprocessed_matrix.xlsx"
	RankPlotName             = "plot_log_rank_vs_log_expr.png"
	ReconstructionPlotName   = "plot_gt_expr_vs_reconstructed_expr_from_rank.png"
	ReportName               = "report.md"

	// PlotSampleStreamName seeds the per-plot point subsampling streams
	PlotSampleStreamName = "plot-sample"
)

// PipelineService runs the full rank transformation pipeline: load, subsample,
// QC, normalize, rank, calibrate, and emit artifacts
type PipelineService struct {
	loader  ports.MatrixLoaderPort
	writer  ports.MatrixWriterPort
	plotter ports.ScatterPlotterPort
	rng     ports.RNGPort
	ledger  ports.RunLedgerWriterPort
	logger  *internal.Logger
}

// NewPipelineService creates a pipeline service. A nil ledger disables run
// recording.
func NewPipelineService(
	loader ports.MatrixLoaderPort,
	writer ports.MatrixWriterPort,
	plotter ports.ScatterPlotterPort,
	rng ports.RNGPort,
	ledger ports.RunLedgerWriterPort,
) *PipelineService {
	return &PipelineService{
		loader:  loader,
		writer:  writer,
		plotter: plotter,
		rng:     rng,
		ledger:  ledger,
		logger:  internal.DefaultLogger,
	}
}

// PipelineRequest defines the inputs for one deterministic pipeline run
type PipelineRequest struct {
	InputPath           string
	OutputDir           string
	SpeciesTag          string
	Seed                int64
	SubsampleSize       int
	PlotSampleSize      int
	Workers             int
	QC                  qc.Thresholds
	NormalizationTarget float64
	Threshold           float64
	Fractions           sentence.Fractions
}

// DefaultPipelineRequest returns a request with the standard settings
func DefaultPipelineRequest(inputPath, outputDir string) PipelineRequest {
	return PipelineRequest{
		InputPath:           inputPath,
		OutputDir:           outputDir,
		SpeciesTag:          "human",
		Seed:                42,
		SubsampleSize:       10000,
		PlotSampleSize:      10000,
		QC:                  qc.DefaultThresholds(),
		NormalizationTarget: expr.DefaultNormalizationTarget,
		Threshold:           calib.DefaultThreshold,
		Fractions:           sentence.DefaultFractions(),
	}
}

// FingerprintMap returns the settings that determine run outputs, used for
// the run fingerprint and the ledger config column
func (req PipelineRequest) FingerprintMap() map[string]interface{} {
	return map[string]interface{}{
		"species_tag":        req.SpeciesTag,
		"subsample_size":     req.SubsampleSize,
		"plot_sample_size":   req.PlotSampleSize,
		"min_genes_per_cell": req.QC.MinGenesPerCell,
		"min_cells_per_gene": req.QC.MinCellsPerGene,
		"max_genes_per_cell": req.QC.MaxGenesPerCell,
		"max_mito_percent":   req.QC.MaxMitoPercent,
		"mito_prefix":        req.QC.MitoPrefix,
		"norm_target":        req.NormalizationTarget,
		"threshold":          req.Threshold,
		"train_fraction":     req.Fractions.Train,
		"valid_fraction":     req.Fractions.Valid,
		"test_fraction":      req.Fractions.Test,
	}
}

// StageTiming records how long one pipeline stage took
type StageTiming struct {
	Stage      string `json:"stage"`
	DurationMs int64  `json:"duration_ms"`
}

// PipelineResult contains the complete output of a pipeline run
type PipelineResult struct {
	RunID       core.RunID       `json:"run_id"`
	Fingerprint core.Fingerprint `json:"fingerprint"`
	Model       calib.Model      `json:"model"`
	QC          *qc.Report       `json:"qc"`
	Cells       int              `json:"cells"`
	Genes       int              `json:"genes"`
	Records     int              `json:"records"`
	Artifacts   []core.Artifact  `json:"artifacts"`
	Timings     []StageTiming    `json:"timings"`
	RuntimeMs   int64            `json:"runtime_ms"`
}

// Run executes the pipeline end to end and writes all artifacts
func (s *PipelineService) Run(ctx context.Context, req PipelineRequest) (*PipelineResult, error) {
	startTime := time.Now()

	if strings.TrimSpace(req.InputPath) == "" {
		return nil, errors.InvalidInput("input path is required")
	}
	if strings.TrimSpace(req.OutputDir) == "" {
		return nil, errors.InvalidInput("output directory is required")
	}
	if err := req.Fractions.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid split fractions")
	}

	result := &PipelineResult{RunID: core.NewRunID()}
	var timings []StageTiming

	var am *expr.AnnotatedMatrix
	if err := s.runStage(&timings, "load", func() error {
		var err error
		am, err = s.loader.Load(ctx, req.InputPath)
		return err
	}); err != nil {
		return nil, err
	}
	s.logger.Info("Loaded %d cells x %d genes from %s", am.Counts.CellCount, am.Counts.GeneCount, req.InputPath)

	if err := s.runStage(&timings, "subsample", func() error {
		stream, err := s.rng.SeededStream(ctx, expr.SubsampleStreamName, req.Seed)
		if err != nil {
			return err
		}
		am, err = expr.SubsampleCells(am, req.SubsampleSize, stream)
		return err
	}); err != nil {
		return nil, err
	}

	var filtered *expr.AnnotatedMatrix
	var report *qc.Report
	if err := s.runStage(&timings, "qc", func() error {
		var err error
		filtered, report, err = qc.Filter(am, req.QC)
		return err
	}); err != nil {
		return nil, err
	}
	s.logger.Info("QC kept %d of %d cells and %d of %d genes",
		report.CellsAfter, report.CellsBefore, report.GenesAfter, report.GenesBefore)

	var norm *expr.Matrix
	if err := s.runStage(&timings, "normalize", func() error {
		var err error
		norm, err = expr.Normalize(filtered.Counts, req.NormalizationTarget)
		return err
	}); err != nil {
		return nil, err
	}

	var ranks *rank.Matrix
	if err := s.runStage(&timings, "rank", func() error {
		transformer := rank.NewTransformer(s.rng, req.Seed)
		if req.Workers > 0 {
			transformer = transformer.WithWorkers(req.Workers)
		}
		var err error
		ranks, err = transformer.Transform(ctx, norm)
		return err
	}); err != nil {
		return nil, err
	}

	var table *rank.RecordTable
	if err := s.runStage(&timings, "assemble", func() error {
		var err error
		table, err = rank.Assemble(filtered.Counts, norm, ranks)
		return err
	}); err != nil {
		return nil, err
	}

	var model *calib.Model
	if err := s.runStage(&timings, "fit", func() error {
		var err error
		model, err = calib.Fit(table, req.Threshold)
		if err != nil {
			return errors.CalibrationFailed(err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	s.logger.Info("Calibration fit: slope=%.4f intercept=%.4f R^2=%.4f", model.Slope, model.Intercept, model.RSquared)

	fingerprint := core.ComputeFingerprint(
		filtered.Counts.CellCount, filtered.Counts.GeneCount, req.Seed, req.FingerprintMap())

	result.Fingerprint = fingerprint
	result.Model = *model
	result.QC = report
	result.Cells = filtered.Counts.CellCount
	result.Genes = filtered.Counts.GeneCount
	result.Records = table.Len()

	if err := s.runStage(&timings, "artifacts", func() error {
		return s.writeArtifacts(ctx, req, result, filtered, norm, ranks, table, *model)
	}); err != nil {
		return nil, err
	}

	if s.ledger != nil {
		if err := s.runStage(&timings, "ledger", func() error {
			return s.recordRun(ctx, req, result)
		}); err != nil {
			return nil, err
		}
	}

	result.Timings = timings
	result.RuntimeMs = time.Since(startTime).Milliseconds()
	s.logger.Info("Pipeline run %s finished in %dms with %d artifacts",
		result.RunID, result.RuntimeMs, len(result.Artifacts))

	return result, nil
}

// runStage times one pipeline stage and tags its failure with the stage name
func (s *PipelineService) runStage(timings *[]StageTiming, name string, fn func() error) error {
	start := time.Now()
	if err := fn(); err != nil {
		return errors.PipelineFailed(name, err)
	}
	elapsed := time.Since(start).Milliseconds()
	*timings = append(*timings, StageTiming{Stage: name, DurationMs: elapsed})
	s.logger.Debug("Stage %s completed in %dms", name, elapsed)
	return nil
}

// writeArtifacts persists the transformed container, metrics CSV, diagnostic
// plots, sentence splits, and the run report
func (s *PipelineService) writeArtifacts(
	ctx context.Context,
	req PipelineRequest,
	result *PipelineResult,
	filtered *expr.AnnotatedMatrix,
	norm *expr.Matrix,
	ranks *rank.Matrix,
	table *rank.RecordTable,
	model calib.Model,
) error {
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	logNorm, err := expr.Log10p(norm)
	if err != nil {
		return err
	}
	containerPath := s.containerPath(req)
	container := &expr.AnnotatedMatrix{Counts: logNorm, Cells: filtered.Cells, Genes: filtered.Genes}
	if err := s.writer.Write(ctx, containerPath, container); err != nil {
		return errors.ArtifactFailed(containerPath, err)
	}
	result.Artifacts = append(result.Artifacts, newArtifact(core.ArtifactMatrix, containerPath))

	metricsPath := filepath.Join(req.OutputDir, calib.MetricsFileName)
	if err := s.writeMetrics(metricsPath, model); err != nil {
		return errors.ArtifactFailed(metricsPath, err)
	}
	result.Artifacts = append(result.Artifacts, newArtifact(core.ArtifactMetrics, metricsPath))

	if err := s.writePlots(ctx, req, result, table, model); err != nil {
		return err
	}

	if err := s.writeSentences(ctx, req, result, filtered, ranks); err != nil {
		return err
	}

	reportPath := filepath.Join(req.OutputDir, ReportName)
	if err := os.WriteFile(reportPath, []byte(s.buildReport(req, result)), 0o644); err != nil {
		return errors.ArtifactFailed(reportPath, err)
	}
	result.Artifacts = append(result.Artifacts, newArtifact(core.ArtifactReport, reportPath))

	return nil
}

// containerPath mirrors the input container family: workbook in, workbook out
func (s *PipelineService) containerPath(req PipelineRequest) string {
	if strings.EqualFold(filepath.Ext(req.InputPath), ".xlsx") {
		return filepath.Join(req.OutputDir, PreprocessedWorkbookName)
	}
	return filepath.Join(req.OutputDir, PreprocessedDirName)
}

func (s *PipelineService) writeMetrics(path string, model calib.Model) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := model.WriteCSV(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// writePlots renders the two diagnostic scatters over a capped point sample
func (s *PipelineService) writePlots(
	ctx context.Context,
	req PipelineRequest,
	result *PipelineResult,
	table *rank.RecordTable,
	model calib.Model,
) error {
	plots := []struct {
		index int
		name  string
		spec  func(idx []int) ports.ScatterSpec
	}{
		{
			index: 0,
			name:  RankPlotName,
			spec: func(idx []int) ports.ScatterSpec {
				points := make([]ports.ScatterPoint, len(idx))
				for k, i := range idx {
					points[k] = ports.ScatterPoint{X: table.LogRank[i], Y: table.LogNormCount[i]}
				}
				return ports.ScatterSpec{
					Title:  "Log Rank vs Log Expression",
					XLabel: "Gene Log Rank",
					YLabel: "Gene Log Expression",
					Points: points,
					Line:   &ports.LineOverlay{Slope: model.Slope, Intercept: model.Intercept},
				}
			},
		},
		{
			index: 1,
			name:  ReconstructionPlotName,
			spec: func(idx []int) ports.ScatterSpec {
				points := make([]ports.ScatterPoint, len(idx))
				for k, i := range idx {
					points[k] = ports.ScatterPoint{X: table.LogNormCount[i], Y: model.Reconstruct(table.LogRank[i])}
				}
				return ports.ScatterSpec{
					Title:  "Ground Truth Expression vs Reconstruction from Rank",
					XLabel: "Ground Truth Expression",
					YLabel: "Reconstructed Expression from Log Rank",
					Points: points,
					Line:   &ports.LineOverlay{Slope: 1, Intercept: 0},
				}
			},
		},
	}

	size := minInt(req.PlotSampleSize, table.Len())
	for _, plot := range plots {
		stream, err := s.rng.IndexedStream(ctx, PlotSampleStreamName, plot.index, req.Seed)
		if err != nil {
			return err
		}
		idx := stream.Perm(table.Len())[:size]

		path := filepath.Join(req.OutputDir, plot.name)
		if err := s.plotter.RenderScatter(ctx, plot.spec(idx), path); err != nil {
			return errors.ArtifactFailed(path, err)
		}
		result.Artifacts = append(result.Artifacts, newArtifact(core.ArtifactPlot, path))
	}
	return nil
}

// writeSentences builds per-cell gene sentences and writes the split files
func (s *PipelineService) writeSentences(
	ctx context.Context,
	req PipelineRequest,
	result *PipelineResult,
	filtered *expr.AnnotatedMatrix,
	ranks *rank.Matrix,
) error {
	sentences, err := sentence.Build(filtered, ranks)
	if err != nil {
		return err
	}

	stream, err := s.rng.SeededStream(ctx, sentence.StreamName, req.Seed)
	if err != nil {
		return err
	}
	split, err := sentence.SplitCells(len(sentences), req.Fractions, stream)
	if err != nil {
		return err
	}

	partitions := []struct {
		name    string
		indices []int
	}{
		{"train", split.Train},
		{"valid", split.Valid},
		{"test", split.Test},
	}
	for _, part := range partitions {
		path := filepath.Join(req.OutputDir, sentence.FileName(part.name, req.SpeciesTag))
		if err := writeLines(path, sentence.ForSplit(sentences, part.indices)); err != nil {
			return errors.ArtifactFailed(path, err)
		}
		result.Artifacts = append(result.Artifacts, newArtifact(core.ArtifactSentences, path))
	}
	return nil
}

// recordRun stores the audit row and fitted model in the run ledger
func (s *PipelineService) recordRun(ctx context.Context, req PipelineRequest, result *PipelineResult) error {
	run := ports.RunRecord{
		ID:          result.RunID,
		CreatedAt:   core.Now(),
		InputPath:   req.InputPath,
		OutputDir:   req.OutputDir,
		Cells:       result.Cells,
		Genes:       result.Genes,
		Seed:        req.Seed,
		Fingerprint: result.Fingerprint,
		Config:      req.FingerprintMap(),
	}
	if err := s.ledger.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("failed to save run record: %w", err)
	}
	if err := s.ledger.SaveCalibration(ctx, result.RunID, result.Model); err != nil {
		return fmt.Errorf("failed to save calibration: %w", err)
	}
	return nil
}

// buildReport renders the markdown run report
func (s *PipelineService) buildReport(req PipelineRequest, result *PipelineResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Rank Calibration Run\n\n")
	fmt.Fprintf(&b, "- Run ID: `%s`\n", result.RunID)
	fmt.Fprintf(&b, "- Fingerprint: `%s`\n", result.Fingerprint)
	fmt.Fprintf(&b, "- Input: `%s`\n", req.InputPath)
	fmt.Fprintf(&b, "- Seed: %d\n", req.Seed)
	fmt.Fprintf(&b, "- Completed: %s\n\n", core.Now())

	fmt.Fprintf(&b, "## Quality Control\n\n")
	fmt.Fprintf(&b, "| | Before | After |\n|---|---|---|\n")
	fmt.Fprintf(&b, "| Cells | %d | %d |\n", result.QC.CellsBefore, result.QC.CellsAfter)
	fmt.Fprintf(&b, "| Genes | %d | %d |\n\n", result.QC.GenesBefore, result.QC.GenesAfter)
	fmt.Fprintf(&b, "Removed %d low-gene cells, %d rare genes, %d high-gene cells, %d high-mito cells.\n\n",
		result.QC.RemovedLowGeneCells, result.QC.RemovedRareGenes,
		result.QC.RemovedHighGeneCells, result.QC.RemovedHighMitoCells)

	fmt.Fprintf(&b, "## Calibration\n\n")
	fmt.Fprintf(&b, "%d log-expression records, threshold %g.\n\n", result.Records, req.Threshold)
	fmt.Fprintf(&b, "| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Slope | %.6f |\n", result.Model.Slope)
	fmt.Fprintf(&b, "| Intercept | %.6f |\n", result.Model.Intercept)
	fmt.Fprintf(&b, "| R^2 | %.6f |\n", result.Model.RSquared)
	fmt.Fprintf(&b, "| Pearson r | %.6f (p=%.3g) |\n", result.Model.PearsonR, result.Model.PearsonP)
	fmt.Fprintf(&b, "| Spearman r | %.6f (p=%.3g) |\n\n", result.Model.SpearmanR, result.Model.SpearmanP)

	fmt.Fprintf(&b, "## Artifacts\n\n")
	for _, artifact := range result.Artifacts {
		fmt.Fprintf(&b, "- %s: `%s`\n", artifact.Kind, filepath.Base(artifact.Path))
	}

	return b.String()
}

func newArtifact(kind core.ArtifactKind, path string) core.Artifact {
	return core.Artifact{
		ID:        core.NewID(),
		Kind:      kind,
		Path:      path,
		CreatedAt: core.Now(),
	}
}

func writeLines(path string, lines []string) error {
	content := ""
	if len(lines) > 0 {
		content = strings.Join(lines, "\n") + "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
