package calib

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// MetricsFileName is the CSV artifact the fitted model is persisted to
const MetricsFileName = "transformation_metrics_and_parameters.csv"

// Model holds the fitted rank-to-expression calibration line and the
// reconstruction quality metrics computed over the full record table
type Model struct {
	Threshold float64 `json:"threshold"`
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
	RSquared  float64 `json:"r_squared"`
	PearsonR  float64 `json:"pearson_r_statistic"`
	PearsonP  float64 `json:"pearson_r_p_value"`
	SpearmanR float64 `json:"spearman_r_statistic"`
	SpearmanP float64 `json:"spearman_r_p_value"`
}

// Reconstruct predicts log expression from a log rank using the fitted line
func (m Model) Reconstruct(logRank float64) float64 {
	return m.Slope*logRank + m.Intercept
}

// csvHeader matches the original metrics artifact column names
var csvHeader = []string{
	"threshold",
	"slope",
	"intercept",
	"R^2",
	"Pearson_R_statistic",
	"Pearson_R_p_value",
	"Spearman_R_statistic",
	"Spearman_R_p_value",
}

// WriteCSV writes the model as a header plus exactly one data row
func (m Model) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("writing metrics header: %w", err)
	}
	row := []string{
		formatFloat(m.Threshold),
		formatFloat(m.Slope),
		formatFloat(m.Intercept),
		formatFloat(m.RSquared),
		formatFloat(m.PearsonR),
		formatFloat(m.PearsonP),
		formatFloat(m.SpearmanR),
		formatFloat(m.SpearmanP),
	}
	if err := cw.Write(row); err != nil {
		return fmt.Errorf("writing metrics row: %w", err)
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses a metrics CSV produced by WriteCSV
func ReadCSV(r io.Reader) (*Model, error) {
	cr := csv.NewReader(r)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading metrics csv: %w", err)
	}
	if len(records) != 2 {
		return nil, fmt.Errorf("metrics csv must have a header and one row, got %d rows", len(records))
	}

	byName := make(map[string]string, len(records[0]))
	for i, name := range records[0] {
		if i < len(records[1]) {
			byName[name] = records[1][i]
		}
	}

	model := &Model{}
	fields := []struct {
		name string
		dst  *float64
	}{
		{"threshold", &model.Threshold},
		{"slope", &model.Slope},
		{"intercept", &model.Intercept},
		{"R^2", &model.RSquared},
		{"Pearson_R_statistic", &model.PearsonR},
		{"Pearson_R_p_value", &model.PearsonP},
		{"Spearman_R_statistic", &model.SpearmanR},
		{"Spearman_R_p_value", &model.SpearmanP},
	}
	for _, f := range fields {
		raw, ok := byName[f.name]
		if !ok {
			return nil, fmt.Errorf("metrics csv missing column %q", f.name)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("metrics csv column %q: %w", f.name, err)
		}
		*f.dst = v
	}
	return model, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
