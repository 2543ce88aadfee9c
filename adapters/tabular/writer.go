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

	"gorank/domain/expr"
)

// Writer persists annotated matrix containers. A path ending in .xlsx
// produces a workbook with matrix, cells and genes sheets; any other path
// becomes a directory holding matrix.csv plus the two metadata sidecars.
type Writer struct{}

// NewWriter creates a container writer
func NewWriter() *Writer {
	return &Writer{}
}

// Write persists the annotated matrix to path
func (w *Writer) Write(ctx context.Context, path string, am *expr.AnnotatedMatrix) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := am.Validate(); err != nil {
		return err
	}

	start := time.Now()
	var err error
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		err = writeWorkbook(path, am)
	} else {
		err = writeCSVDir(path, am)
	}
	if err != nil {
		return err
	}
	log.Printf("[Tabular] Container written in %.2fms (%d cells x %d genes): %s",
		float64(time.Since(start).Nanoseconds())/1e6, am.Counts.CellCount, am.Counts.GeneCount, path)
	return nil
}

func writeCSVDir(dir string, am *expr.AnnotatedMatrix) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create container directory: %w", err)
	}
	if err := writeCSVFile(filepath.Join(dir, MatrixFileName), matrixRows(am)); err != nil {
		return err
	}
	if err := writeCSVFile(filepath.Join(dir, CellsFileName), cellRows(am.Cells)); err != nil {
		return err
	}
	return writeCSVFile(filepath.Join(dir, GenesFileName), geneRows(am.Genes))
}

func writeCSVFile(path string, rows [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	for _, row := range rows {
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func writeWorkbook(path string, am *expr.AnnotatedMatrix) error {
	f := excelize.NewFile()
	defer f.Close()

	sheets := []struct {
		name string
		rows [][]string
	}{
		{MatrixSheet, matrixRows(am)},
		{CellsSheet, cellRows(am.Cells)},
		{GenesSheet, geneRows(am.Genes)},
	}
	for _, sheet := range sheets {
		if _, err := f.NewSheet(sheet.name); err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", sheet.name, err)
		}
		for r, row := range sheet.rows {
			for c, value := range row {
				cell, err := excelize.CoordinatesToCellName(c+1, r+1)
				if err != nil {
					return fmt.Errorf("failed to map cell coordinates: %w", err)
				}
				if err := f.SetCellValue(sheet.name, cell, value); err != nil {
					return fmt.Errorf("failed to set cell value: %w", err)
				}
			}
		}
	}

	// Drop the default sheet so the workbook opens on the matrix
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to remove default sheet: %w", err)
	}
	index, err := f.GetSheetIndex(MatrixSheet)
	if err != nil {
		return fmt.Errorf("failed to locate matrix sheet: %w", err)
	}
	f.SetActiveSheet(index)

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

func matrixRows(am *expr.AnnotatedMatrix) [][]string {
	rows := make([][]string, 0, am.Counts.CellCount+1)
	header := make([]string, am.Counts.GeneCount+1)
	header[0] = "cell_id"
	for j, gene := range am.Genes {
		header[j+1] = gene.Name
	}
	rows = append(rows, header)

	for i, cell := range am.Cells {
		row := make([]string, am.Counts.GeneCount+1)
		row[0] = cell.ID
		for j, v := range am.Counts.Row(i) {
			row[j+1] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		rows = append(rows, row)
	}
	return rows
}

func cellRows(cells []expr.CellMeta) [][]string {
	rows := make([][]string, 0, len(cells)+1)
	rows = append(rows, []string{"cell_id", "genes_detected", "total_counts", "mito_percent"})
	for _, cell := range cells {
		rows = append(rows, []string{
			cell.ID,
			strconv.Itoa(cell.GenesDetected),
			strconv.FormatFloat(cell.TotalCounts, 'g', -1, 64),
			strconv.FormatFloat(cell.MitoPercent, 'g', -1, 64),
		})
	}
	return rows
}

func geneRows(genes []expr.GeneMeta) [][]string {
	rows := make([][]string, 0, len(genes)+1)
	rows = append(rows, []string{"gene", "cells_detected"})
	for _, gene := range genes {
		rows = append(rows, []string{gene.Name, strconv.Itoa(gene.CellsDetected)})
	}
	return rows
}
