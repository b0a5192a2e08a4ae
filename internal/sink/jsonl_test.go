package sink

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pricewatchbd/crawler/internal/record"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	return lines
}

func TestExportWritesOneJSONObjectPerLine(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC)
	s, err := NewExport(dir, "startech_products", now, zap.NewNop())
	require.NoError(t, err)

	price := 18500.0
	require.NoError(t, s.Write(record.Product{
		URL:          "https://www.startech.com.bd/a",
		Name:         "A",
		Price:        &price,
		Availability: record.InStock,
	}))
	require.NoError(t, s.Write(record.Product{
		URL:          "https://www.startech.com.bd/b",
		Name:         "B",
		Availability: record.OutOfStock,
	}))
	require.NoError(t, s.Close())

	require.Equal(t, filepath.Join(dir, "startech_products_export_2026-08-29_10-30-00.jl"), s.Path())
	require.Equal(t, 2, s.Written())

	lines := readLines(t, s.Path())
	require.Len(t, lines, 2)

	var first record.Product
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.Equal(t, "A", first.Name)
	require.NotNil(t, first.Price)

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	require.Nil(t, second["price"], "absent price serializes as null")
	require.Nil(t, second["specifications"], "absent specifications serialize as null")
}

func TestExportFilenamesNeverCollideAcrossRuns(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first, err := NewExport(dir, "job", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), zap.NewNop())
	require.NoError(t, err)
	second, err := NewExport(dir, "job", time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC), zap.NewNop())
	require.NoError(t, err)
	require.NotEqual(t, first.Path(), second.Path())
	require.NoError(t, first.Close())
	require.NoError(t, second.Close())
}

func TestUnserializableRecordIsDroppedNotFatal(t *testing.T) {
	t.Parallel()

	s, err := NewExport(t.TempDir(), "job", time.Now(), zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.Write(map[string]any{"bad": func() {}}),
		"serialization failure must not be fatal")
	require.NoError(t, s.Write(record.Category{CategoryName: "X", CategoryURL: "https://x/"}))
	require.NoError(t, s.Close())

	require.Len(t, readLines(t, s.Path()), 1, "only the good record lands on disk")
	require.Equal(t, 1, s.Written())
}

func TestCategoryFileIsOverwrittenPerRun(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := NewCategoryFile(dir, "ryans", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Write(record.Category{CategoryName: "Old", CategoryURL: "https://www.ryans.com/category/old"}))
	require.NoError(t, s.Close())

	s, err = NewCategoryFile(dir, "ryans", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Write(record.Category{CategoryName: "New", CategoryURL: "https://www.ryans.com/category/new"}))
	require.NoError(t, s.Close())

	lines := readLines(t, CategoryFilePath(dir, "ryans"))
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], "New")
}

func TestReadCategories(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := CategoryFilePath(dir, "ryans")
	content := `{"category_name":"Laptop","category_url":"https://www.ryans.com/category/laptop"}
not json at all
{"category_name":"","category_url":"https://www.ryans.com/category/empty-name"}
{"category_name":"Elsewhere","category_url":"https://evil.example.com/category/x"}

{"category_name":"Desktop","category_url":"https://www.ryans.com/category/desktop"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cats, err := ReadCategories(path, "https://www.ryans.com/category/", zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, []record.Category{
		{CategoryName: "Laptop", CategoryURL: "https://www.ryans.com/category/laptop"},
		{CategoryName: "Desktop", CategoryURL: "https://www.ryans.com/category/desktop"},
	}, cats, "malformed, incomplete, and off-site lines are skipped")
}

func TestReadCategoriesMissingFileFailsFast(t *testing.T) {
	t.Parallel()

	_, err := ReadCategories(filepath.Join(t.TempDir(), "absent.jl"), "", zap.NewNop())
	require.Error(t, err)
}
