package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"gorank/adapters/plotpng"
	"gorank/adapters/postgres"
	"gorank/adapters/rng"
	"gorank/adapters/tabular"
	"gorank/app"
	"gorank/domain/qc"
	"gorank/domain/sentence"
	"gorank/internal/config"
	"gorank/ports"
	"gorank/ui"
)

const version = "0.3.0"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	rootCmd := &cobra.Command{
		Use:   "gorank-cli",
		Short: "Rank transformation and calibration for cell sentence corpora",
	}

	rootCmd.AddCommand(
		newTransformCmd(),
		newServeCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newTransformCmd() *cobra.Command {
	var (
		input     string
		output    string
		species   string
		seed      int64
		subsample int
		threshold float64
		workers   int
	)

	cmd := &cobra.Command{
		Use:   "transform [container]",
		Short: "Run the full preprocessing and calibration pipeline",
		Long: `Run the complete pipeline on a count container: subsample cells, apply
QC filters, normalize, rank-transform every cell, fit the rank-to-expression
line, and write all artifacts to the output directory.

The container is either a directory holding matrix.csv with cells.csv and
genes.csv sidecars, or an .xlsx workbook with matrix, cells, and genes sheets.
Flags override the matching environment variables; unset flags keep them.

Example: gorank-cli transform pbmc_counts.xlsx --output out --seed 42`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			if len(args) > 0 {
				cfg.IO.InputPath = args[0]
			}
			flags := cmd.Flags()
			if flags.Changed("input") {
				cfg.IO.InputPath = input
			}
			if flags.Changed("output") {
				cfg.IO.OutputDir = output
			}
			if flags.Changed("species") {
				cfg.IO.SpeciesTag = species
			}
			if flags.Changed("seed") {
				cfg.Sampling.Seed = seed
			}
			if flags.Changed("subsample") {
				cfg.Sampling.SubsampleSize = subsample
			}
			if flags.Changed("threshold") {
				cfg.Calibration.Threshold = threshold
			}
			if flags.Changed("workers") {
				cfg.Sampling.Workers = workers
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if cfg.IO.InputPath == "" {
				return fmt.Errorf("no count container given: pass a path argument or set INPUT_PATH")
			}

			return runTransform(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "Count container path (overrides INPUT_PATH)")
	cmd.Flags().StringVar(&output, "output", "out", "Output directory for run artifacts")
	cmd.Flags().StringVar(&species, "species", "human", "Species tag used in sentence file names")
	cmd.Flags().Int64Var(&seed, "seed", 42, "Random seed for deterministic operations")
	cmd.Flags().IntVar(&subsample, "subsample", 10000, "Cell count cap applied before QC")
	cmd.Flags().Float64Var(&threshold, "threshold", 3, "Log rank cutoff for the calibration fit")
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent rank workers (0 = GOMAXPROCS)")

	return cmd
}

func runTransform(ctx context.Context, cfg *config.Config) error {
	ledger, closeLedger, err := openLedger(ctx, cfg.Ledger.DatabaseURL)
	if err != nil {
		return err
	}
	defer closeLedger()

	service := app.NewPipelineService(
		tabular.NewReader(),
		tabular.NewWriter(),
		plotpng.NewPlotter(),
		rng.NewAdapter(),
		ledger,
	)

	result, err := service.Run(ctx, pipelineRequest(cfg))
	if err != nil {
		return fmt.Errorf("transform failed: %w", err)
	}

	printResult(result, cfg)
	return nil
}

func newServeCmd() *cobra.Command {
	var (
		dir  string
		addr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a run's artifacts over HTTP",
		Long: `Start the read-only viewer over an output directory: the rendered run
report, calibration metrics as JSON, and the diagnostic plots. When
DATABASE_URL is set the run history endpoints come up as well.

Example: gorank-cli serve --dir out --addr localhost:8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("dir") {
				cfg.IO.OutputDir = dir
			}
			if addr == "" {
				addr = ":" + cfg.Server.Port
			}

			ledger, closeLedger, err := openLedger(cmd.Context(), cfg.Ledger.DatabaseURL)
			if err != nil {
				return err
			}
			defer closeLedger()

			viewer := ui.NewApp(ui.Config{
				OutputDir: cfg.IO.OutputDir,
				Ledger:    ledger,
			})
			return viewer.Start(addr)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "out", "Run output directory to serve")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default \":$PORT\")")

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the gorank version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gorank-cli %s\n", version)
		},
	}
}

// openLedger connects the Postgres run ledger when a DSN is configured.
// Without one the pipeline runs unrecorded and history endpoints stay off.
func openLedger(ctx context.Context, dsn string) (ports.RunLedgerPort, func(), error) {
	if dsn == "" {
		return nil, func() {}, nil
	}

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to run ledger database: %w", err)
	}
	ledger := postgres.NewRunLedger(db)
	if err := ledger.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to prepare run ledger schema: %w", err)
	}
	return ledger, func() { db.Close() }, nil
}

func pipelineRequest(cfg *config.Config) app.PipelineRequest {
	return app.PipelineRequest{
		InputPath:      cfg.IO.InputPath,
		OutputDir:      cfg.IO.OutputDir,
		SpeciesTag:     cfg.IO.SpeciesTag,
		Seed:           cfg.Sampling.Seed,
		SubsampleSize:  cfg.Sampling.SubsampleSize,
		PlotSampleSize: cfg.Sampling.PlotSampleSize,
		Workers:        cfg.Sampling.Workers,
		QC: qc.Thresholds{
			MinGenesPerCell: cfg.QC.MinGenesPerCell,
			MinCellsPerGene: cfg.QC.MinCellsPerGene,
			MaxGenesPerCell: cfg.QC.MaxGenesPerCell,
			MaxMitoPercent:  cfg.QC.MaxMitoPercent,
			MitoPrefix:      cfg.QC.MitoPrefix,
		},
		NormalizationTarget: cfg.Transform.NormalizationTarget,
		Threshold:           cfg.Calibration.Threshold,
		Fractions: sentence.Fractions{
			Train: cfg.Splits.Train,
			Valid: cfg.Splits.Valid,
			Test:  cfg.Splits.Test,
		},
	}
}

func printResult(result *app.PipelineResult, cfg *config.Config) {
	fmt.Printf("\n=== TRANSFORM RESULTS ===\n")
	fmt.Printf("Run ID: %s\n", result.RunID)
	fmt.Printf("Fingerprint: %s\n", result.Fingerprint)
	fmt.Printf("Matrix: %d cells x %d genes (%d nonzero records)\n",
		result.Cells, result.Genes, result.Records)
	fmt.Printf("Runtime: %dms\n", result.RuntimeMs)

	fmt.Printf("\n=== QUALITY CONTROL ===\n")
	fmt.Printf("Cells: %d -> %d\n", result.QC.CellsBefore, result.QC.CellsAfter)
	fmt.Printf("Genes: %d -> %d\n", result.QC.GenesBefore, result.QC.GenesAfter)
	fmt.Printf("Removed: %d low-gene cells, %d rare genes, %d high-gene cells, %d high-mito cells\n",
		result.QC.RemovedLowGeneCells, result.QC.RemovedRareGenes,
		result.QC.RemovedHighGeneCells, result.QC.RemovedHighMitoCells)

	fmt.Printf("\n=== CALIBRATION (log rank < %g) ===\n", result.Model.Threshold)
	fmt.Printf("Slope:      %.6f\n", result.Model.Slope)
	fmt.Printf("Intercept:  %.6f\n", result.Model.Intercept)
	fmt.Printf("R^2:        %.6f\n", result.Model.RSquared)
	fmt.Printf("Pearson r:  %.6f (p=%.3g)\n", result.Model.PearsonR, result.Model.PearsonP)
	fmt.Printf("Spearman r: %.6f (p=%.3g)\n", result.Model.SpearmanR, result.Model.SpearmanP)

	fmt.Printf("\n=== STAGE TIMINGS ===\n")
	for _, timing := range result.Timings {
		fmt.Printf("%-10s %dms\n", timing.Stage, timing.DurationMs)
	}

	fmt.Printf("\n=== ARTIFACTS (%s) ===\n", cfg.IO.OutputDir)
	for _, artifact := range result.Artifacts {
		fmt.Printf("%-10s %s\n", artifact.Kind, filepath.Base(artifact.Path))
	}

	fmt.Printf("\n✅ TRANSFORM COMPLETED\n")
	fmt.Printf("Rerun with --seed %d on the same container to reproduce it bit for bit.\n",
		cfg.Sampling.Seed)
}
