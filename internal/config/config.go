package config

import (
	"math"
	"os"
	"strconv"

	"gorank/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	IO          IOConfig
	Sampling    SamplingConfig
	QC          QCConfig
	Transform   TransformConfig
	Calibration CalibrationConfig
	Splits      SplitConfig
	Ledger      LedgerConfig
	Server      ServerConfig
}

// IOConfig holds input and output locations
type IOConfig struct {
	InputPath  string
	OutputDir  string
	SpeciesTag string
}

// SamplingConfig holds seeding and sampling settings
type SamplingConfig struct {
	Seed           int64
	SubsampleSize  int
	PlotSampleSize int
	Workers        int
}

// QCConfig holds cell and gene quality filter thresholds
type QCConfig struct {
	MinGenesPerCell int
	MinCellsPerGene int
	MaxGenesPerCell int
	MaxMitoPercent  float64
	MitoPrefix      string
}

// TransformConfig holds normalization settings
type TransformConfig struct {
	NormalizationTarget float64
}

// CalibrationConfig holds model fit settings
type CalibrationConfig struct {
	Threshold float64
}

// SplitConfig holds the train/valid/test fractions
type SplitConfig struct {
	Train float64
	Valid float64
	Test  float64
}

// LedgerConfig holds run ledger settings. An empty URL disables the ledger.
type LedgerConfig struct {
	DatabaseURL string
}

// ServerConfig holds artifact viewer settings
type ServerConfig struct {
	Port string
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := &Config{
		IO: IOConfig{
			InputPath:  getEnvOrDefault("INPUT_PATH", ""),
			OutputDir:  getEnvOrDefault("OUTPUT_DIR", "out"),
			SpeciesTag: getEnvOrDefault("SPECIES_TAG", "human"),
		},
		Sampling: SamplingConfig{
			Seed:           int64(getEnvIntOrDefault("RANDOM_SEED", 42)),
			SubsampleSize:  getEnvIntOrDefault("NUM_SUBSAMPLE", 10000),
			PlotSampleSize: getEnvIntOrDefault("PLOT_SAMPLE_SIZE", 10000),
			Workers:        getEnvIntOrDefault("RANK_WORKERS", 0),
		},
		QC: QCConfig{
			MinGenesPerCell: getEnvIntOrDefault("MIN_GENES_PER_CELL", 200),
			MinCellsPerGene: getEnvIntOrDefault("MIN_CELLS_PER_GENE", 3),
			MaxGenesPerCell: getEnvIntOrDefault("MAX_GENES_PER_CELL", 2500),
			MaxMitoPercent:  getEnvFloatOrDefault("MAX_MITO_PERCENT", 20),
			MitoPrefix:      getEnvOrDefault("MITO_PREFIX", "MT-"),
		},
		Transform: TransformConfig{
			NormalizationTarget: getEnvFloatOrDefault("NORM_TARGET", 10000),
		},
		Calibration: CalibrationConfig{
			Threshold: getEnvFloatOrDefault("CALIBRATION_THRESHOLD", 3),
		},
		Splits: SplitConfig{
			Train: getEnvFloatOrDefault("TRAIN_FRACTION", 0.8),
			Valid: getEnvFloatOrDefault("VALID_FRACTION", 0.1),
			Test:  getEnvFloatOrDefault("TEST_FRACTION", 0.1),
		},
		Ledger: LedgerConfig{
			DatabaseURL: getEnvOrDefault("DATABASE_URL", ""),
		},
		Server: ServerConfig{
			Port: getEnvOrDefault("PORT", "8080"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}

	return config, nil
}

// Validate checks cross-field constraints. It runs inside Load and again
// after CLI flags overlay the environment values.
func (c *Config) Validate() error {
	if c.Sampling.SubsampleSize <= 0 {
		return errors.ConfigInvalid("NUM_SUBSAMPLE must be positive")
	}
	if c.Sampling.PlotSampleSize <= 0 {
		return errors.ConfigInvalid("PLOT_SAMPLE_SIZE must be positive")
	}
	if c.Sampling.Workers < 0 {
		return errors.ConfigInvalid("RANK_WORKERS cannot be negative")
	}
	if c.QC.MinGenesPerCell < 0 || c.QC.MinCellsPerGene < 0 {
		return errors.ConfigInvalid("QC minimum thresholds cannot be negative")
	}
	if c.QC.MaxGenesPerCell <= c.QC.MinGenesPerCell {
		return errors.ConfigInvalid("MAX_GENES_PER_CELL must exceed MIN_GENES_PER_CELL")
	}
	if c.QC.MaxMitoPercent <= 0 || c.QC.MaxMitoPercent > 100 {
		return errors.ConfigInvalid("MAX_MITO_PERCENT must be in (0, 100]")
	}
	if c.Transform.NormalizationTarget <= 0 {
		return errors.ConfigInvalid("NORM_TARGET must be positive")
	}
	if c.Calibration.Threshold <= 0 {
		return errors.ConfigInvalid("CALIBRATION_THRESHOLD must be positive")
	}
	if c.Splits.Train < 0 || c.Splits.Valid < 0 || c.Splits.Test < 0 {
		return errors.ConfigInvalid("split fractions cannot be negative")
	}
	if sum := c.Splits.Train + c.Splits.Valid + c.Splits.Test; math.Abs(sum-1) > 1e-9 {
		return errors.ConfigInvalid("split fractions must sum to 1")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
