package tabular

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"gorank/domain/core"
	"gorank/domain/expr"
)

// Container file and sheet names shared by the reader and writer
const (
	MatrixFileName = "matrix.csv"
	CellsFileName  = "cells.csv"
	GenesFileName  = "genes.csv"

	MatrixSheet = "matrix"
	CellsSheet  = "cells"
	GenesSheet  = "genes"
)

// Reader loads annotated matrix containers. Three path shapes are accepted:
// a directory holding matrix.csv, a bare .csv matrix file, or an .xlsx
// workbook with a matrix sheet.
type Reader struct{}

// NewReader creates a container reader
func NewReader() *Reader {
	return &Reader{}
}

// Load reads the container at path into an annotated matrix
func (r *Reader) Load(ctx context.Context, path string) (*expr.AnnotatedMatrix, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("container not found: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("stat container: %w", err)
	}

	start := time.Now()
	var rows [][]string
	switch {
	case info.IsDir():
		rows, err = readCSVRows(filepath.Join(path, MatrixFileName))
	case strings.EqualFold(filepath.Ext(path), ".xlsx"):
		rows, err = readSheetRows(path, MatrixSheet)
	case strings.EqualFold(filepath.Ext(path), ".csv"):
		rows, err = readCSVRows(path)
	default:
		return nil, fmt.Errorf("unsupported container type: %s", path)
	}
	if err != nil {
		return nil, err
	}
	log.Printf("[Tabular] Container read in %.2fms (%d rows): %s",
		float64(time.Since(start).Nanoseconds())/1e6, len(rows), path)

	return parseMatrixRows(rows)
}

func readCSVRows(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file %s: %w", path, err)
	}
	return rows, nil
}

func readSheetRows(path, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}
	return rows, nil
}

// parseMatrixRows converts header + data rows into the annotated matrix.
// The first header cell is a corner label; the rest are gene names. Each
// data row starts with the cell ID.
func parseMatrixRows(rows [][]string) (*expr.AnnotatedMatrix, error) {
	if len(rows) < 2 || len(rows[0]) < 2 {
		return nil, fmt.Errorf("%w: container needs a gene header and at least one cell row", core.ErrEmptyMatrix)
	}

	geneNames := makeUniqueNames(rows[0][1:])
	genes := len(geneNames)

	am := &expr.AnnotatedMatrix{
		Counts: expr.NewMatrix(len(rows)-1, genes),
		Cells:  make([]expr.CellMeta, len(rows)-1),
		Genes:  make([]expr.GeneMeta, genes),
	}
	for j, name := range geneNames {
		am.Genes[j] = expr.GeneMeta{Name: name}
	}

	for i, row := range rows[1:] {
		if len(row) != genes+1 {
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", core.ErrShapeMismatch, i+1, len(row), genes+1)
		}
		am.Cells[i] = expr.CellMeta{ID: row[0]}
		dst := am.Counts.Row(i)
		for j, raw := range row[1:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: cell %q, gene %q: cannot parse %q as a count",
					core.ErrInvalidInput, row[0], geneNames[j], raw)
			}
			dst[j] = v
		}
	}

	if err := am.Counts.CheckFinite("container load"); err != nil {
		return nil, err
	}
	return am, nil
}

// makeUniqueNames suffixes duplicate gene names with _1, _2, ... in
// first-seen order so every column is addressable by name
func makeUniqueNames(names []string) []string {
	out := make([]string, len(names))
	seen := make(map[string]int, len(names))
	for i, name := range names {
		name = strings.TrimSpace(name)
		count, dup := seen[name]
		if !dup {
			seen[name] = 1
			out[i] = name
			continue
		}
		candidate := fmt.Sprintf("%s_%d", name, count)
		for {
			if _, taken := seen[candidate]; !taken {
				break
			}
			count++
			candidate = fmt.Sprintf("%s_%d", name, count)
		}
		seen[name] = count + 1
		seen[candidate] = 1
		out[i] = candidate
	}
	return out
}
