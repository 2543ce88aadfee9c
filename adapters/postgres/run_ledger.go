package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"gorank/domain/calib"
	"gorank/domain/core"
	"gorank/ports"
)

// runLedger implements the RunLedgerPort interface
type runLedger struct {
	db *sqlx.DB
}

// NewRunLedger creates a new Postgres-backed run ledger
func NewRunLedger(db *sqlx.DB) ports.RunLedgerPort {
	return &runLedger{db: db}
}

// EnsureSchema creates the ledger tables when they do not exist yet
func (r *runLedger) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id UUID PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL,
			input_path TEXT NOT NULL,
			output_dir TEXT NOT NULL,
			cells INTEGER NOT NULL,
			genes INTEGER NOT NULL,
			seed BIGINT NOT NULL,
			fingerprint TEXT NOT NULL,
			config JSONB NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS calibrations (
			run_id UUID PRIMARY KEY REFERENCES runs(id) ON DELETE CASCADE,
			threshold DOUBLE PRECISION NOT NULL,
			slope DOUBLE PRECISION NOT NULL,
			intercept DOUBLE PRECISION NOT NULL,
			r_squared DOUBLE PRECISION NOT NULL,
			pearson_r DOUBLE PRECISION NOT NULL,
			pearson_p DOUBLE PRECISION NOT NULL,
			spearman_r DOUBLE PRECISION NOT NULL,
			spearman_p DOUBLE PRECISION NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure ledger schema: %w", err)
		}
	}
	return nil
}

// SaveRun inserts a run record into the ledger
func (r *runLedger) SaveRun(ctx context.Context, run ports.RunRecord) error {
	configJSON, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal run config: %w", err)
	}

	query := `INSERT INTO runs (
		id, created_at, input_path, output_dir, cells, genes, seed, fingerprint, config
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9
	)`

	_, err = r.db.ExecContext(ctx, query,
		run.ID, run.CreatedAt.Time(), run.InputPath, run.OutputDir,
		run.Cells, run.Genes, run.Seed, run.Fingerprint, configJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// SaveCalibration stores the fitted model for a run
func (r *runLedger) SaveCalibration(ctx context.Context, runID core.RunID, model calib.Model) error {
	query := `INSERT INTO calibrations (
		run_id, threshold, slope, intercept, r_squared, pearson_r, pearson_p, spearman_r, spearman_p
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9
	)
	ON CONFLICT (run_id) DO UPDATE SET
		threshold = EXCLUDED.threshold, slope = EXCLUDED.slope, intercept = EXCLUDED.intercept,
		r_squared = EXCLUDED.r_squared, pearson_r = EXCLUDED.pearson_r, pearson_p = EXCLUDED.pearson_p,
		spearman_r = EXCLUDED.spearman_r, spearman_p = EXCLUDED.spearman_p`

	_, err := r.db.ExecContext(ctx, query,
		runID, model.Threshold, model.Slope, model.Intercept, model.RSquared,
		model.PearsonR, model.PearsonP, model.SpearmanR, model.SpearmanP,
	)
	if err != nil {
		return fmt.Errorf("failed to save calibration: %w", err)
	}
	return nil
}

// GetRun retrieves a run record by its ID
func (r *runLedger) GetRun(ctx context.Context, id core.RunID) (*ports.RunRecord, error) {
	query := `SELECT id, created_at, input_path, output_dir, cells, genes, seed, fingerprint, config
	FROM runs WHERE id = $1`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.NewRunNotFoundError(id)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// GetCalibration retrieves the fitted model for a run
func (r *runLedger) GetCalibration(ctx context.Context, runID core.RunID) (*calib.Model, error) {
	query := `SELECT threshold, slope, intercept, r_squared, pearson_r, pearson_p, spearman_r, spearman_p
	FROM calibrations WHERE run_id = $1`

	var model calib.Model
	err := r.db.QueryRowContext(ctx, query, runID).Scan(
		&model.Threshold, &model.Slope, &model.Intercept, &model.RSquared,
		&model.PearsonR, &model.PearsonP, &model.SpearmanR, &model.SpearmanP,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.NewRunNotFoundError(runID)
		}
		return nil, fmt.Errorf("failed to get calibration: %w", err)
	}
	return &model, nil
}

// ListRuns retrieves the most recent runs, newest first
func (r *runLedger) ListRuns(ctx context.Context, limit int) ([]ports.RunRecord, error) {
	query := `SELECT id, created_at, input_path, output_dir, cells, genes, seed, fingerprint, config
	FROM runs ORDER BY created_at DESC LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []ports.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*ports.RunRecord, error) {
	var run ports.RunRecord
	var createdAt sql.NullTime
	var configJSON []byte

	err := row.Scan(
		&run.ID, &createdAt, &run.InputPath, &run.OutputDir,
		&run.Cells, &run.Genes, &run.Seed, &run.Fingerprint, &configJSON,
	)
	if err != nil {
		return nil, err
	}

	if createdAt.Valid {
		run.CreatedAt = core.NewTimestamp(createdAt.Time)
	}
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &run.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run config: %w", err)
		}
	}
	return &run, nil
}
