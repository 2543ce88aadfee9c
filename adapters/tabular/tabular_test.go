package tabular

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorank/domain/core"
	"gorank/domain/expr"
)

func fixtureMatrix(t *testing.T) *expr.AnnotatedMatrix {
	t.Helper()
	counts, err := expr.NewMatrixFromRows([][]float64{
		{1.5, 0, 7},
		{0.25, 2, 0},
	})
	require.NoError(t, err)
	return &expr.AnnotatedMatrix{
		Counts: counts,
		Cells: []expr.CellMeta{
			{ID: "AAACCTG", GenesDetected: 2, TotalCounts: 8.5, MitoPercent: 17.6},
			{ID: "AAACGGG", GenesDetected: 2, TotalCounts: 2.25, MitoPercent: 0},
		},
		Genes: []expr.GeneMeta{
			{Name: "MT-CO1", CellsDetected: 2},
			{Name: "ACTB", CellsDetected: 1},
			{Name: "GAPDH", CellsDetected: 1},
		},
	}
}

func assertSameMatrix(t *testing.T, want, got *expr.AnnotatedMatrix) {
	t.Helper()
	require.Equal(t, want.Counts.CellCount, got.Counts.CellCount)
	require.Equal(t, want.Counts.GeneCount, got.Counts.GeneCount)
	assert.Equal(t, want.Counts.Data, got.Counts.Data)
	for i := range want.Cells {
		assert.Equal(t, want.Cells[i].ID, got.Cells[i].ID)
	}
	assert.Equal(t, want.GeneNames(), got.GeneNames())
}

func TestCSVDirectoryRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "container")
	ctx := context.Background()
	am := fixtureMatrix(t)

	require.NoError(t, NewWriter().Write(ctx, dir, am))
	for _, name := range []string{MatrixFileName, CellsFileName, GenesFileName} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, "expected %s in container directory", name)
	}

	got, err := NewReader().Load(ctx, dir)
	require.NoError(t, err)
	assertSameMatrix(t, am, got)
}

func TestWorkbookRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "container.xlsx")
	ctx := context.Background()
	am := fixtureMatrix(t)

	require.NoError(t, NewWriter().Write(ctx, path, am))
	got, err := NewReader().Load(ctx, path)
	require.NoError(t, err)
	assertSameMatrix(t, am, got)
}

func TestLoadBareCSVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matrix.csv")
	content := "cell_id,ACTB,GAPDH\nc1,3,0\nc2,0,12.5\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	got, err := NewReader().Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"ACTB", "GAPDH"}, got.GeneNames())
	assert.Equal(t, "c1", got.Cells[0].ID)
	assert.Equal(t, 12.5, got.Counts.At(1, 1))
}

func TestDuplicateGeneNamesGetSuffixed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matrix.csv")
	content := "cell_id,ACTB,ACTB,ACTB,ACTB_1\nc1,1,2,3,4\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	got, err := NewReader().Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"ACTB", "ACTB_1", "ACTB_2", "ACTB_1_1"}, got.GeneNames())
}

func TestLoadRejectsMalformedCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matrix.csv")
	content := "cell_id,ACTB,GAPDH\nc1,3,many\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := NewReader().Load(context.Background(), path)
	require.Error(t, err)
	assert.True(t, core.IsInvalidInput(err))
	assert.Contains(t, err.Error(), "c1")
	assert.Contains(t, err.Error(), "GAPDH")
}

func TestLoadRejectsRaggedRow(t *testing.T) {
	// csv.Reader enforces the field count itself, so the shape error
	// surfaces as a parse failure before our own check runs
	path := filepath.Join(t.TempDir(), "matrix.csv")
	content := "cell_id,ACTB,GAPDH\nc1,3\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := NewReader().Load(context.Background(), path)
	require.Error(t, err)
}

func TestLoadRejectsHeaderOnlyContainer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matrix.csv")
	require.NoError(t, os.WriteFile(path, []byte("cell_id,ACTB\n"), 0o644))

	_, err := NewReader().Load(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrEmptyMatrix)
}

func TestLoadMissingContainer(t *testing.T) {
	_, err := NewReader().Load(context.Background(), filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "container not found")
}

func TestLoadRejectsUnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matrix.parquet")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, err := NewReader().Load(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported container type")
}

func TestSidecarsCarryAnnotations(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "container")
	require.NoError(t, NewWriter().Write(context.Background(), dir, fixtureMatrix(t)))

	file, err := os.Open(filepath.Join(dir, CellsFileName))
	require.NoError(t, err)
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"cell_id", "genes_detected", "total_counts", "mito_percent"}, rows[0])
	assert.Equal(t, []string{"AAACCTG", "2", "8.5", "17.6"}, rows[1])

	file2, err := os.Open(filepath.Join(dir, GenesFileName))
	require.NoError(t, err)
	defer file2.Close()

	geneRows, err := csv.NewReader(file2).ReadAll()
	require.NoError(t, err)
	require.Len(t, geneRows, 4)
	assert.Equal(t, []string{"MT-CO1", "2"}, geneRows[1])
}
