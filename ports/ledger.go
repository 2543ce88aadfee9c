package ports

import (
	"context"

	"gorank/domain/calib"
	"gorank/domain/core"
)

// RunRecord is the audit row stored for every pipeline run
type RunRecord struct {
	ID          core.RunID             `json:"id"`
	CreatedAt   core.Timestamp         `json:"created_at"`
	InputPath   string                 `json:"input_path"`
	OutputDir   string                 `json:"output_dir"`
	Cells       int                    `json:"cells"`
	Genes       int                    `json:"genes"`
	Seed        int64                  `json:"seed"`
	Fingerprint core.Fingerprint       `json:"fingerprint"`
	Config      map[string]interface{} `json:"config"`
}

// RunLedgerWriterPort provides append-only write access to the run ledger
type RunLedgerWriterPort interface {
	SaveRun(ctx context.Context, run RunRecord) error
	SaveCalibration(ctx context.Context, runID core.RunID, model calib.Model) error
}

// RunLedgerReaderPort provides read-only access to recorded runs
type RunLedgerReaderPort interface {
	GetRun(ctx context.Context, id core.RunID) (*RunRecord, error)
	GetCalibration(ctx context.Context, runID core.RunID) (*calib.Model, error)
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
}

// RunLedgerPort combines read and write access plus schema bootstrap
type RunLedgerPort interface {
	RunLedgerWriterPort
	RunLedgerReaderPort

	// EnsureSchema creates the ledger tables when missing
	EnsureSchema(ctx context.Context) error
}
