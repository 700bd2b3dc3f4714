package ledger

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeContent(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}

func sampleRecord(path string) Record {
	return Record{
		ResourceID:  "GDX/fact_sheet",
		URL:         "http://example.com/gdx.pdf",
		LocalPath:   path,
		FileSize:    512,
		SHA256:      "ab12",
		ContentType: "application/pdf",
		CompletedAt: time.Now().UTC(),
	}
}

func TestPutThenSatisfied(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "gdx.pdf")

	writeContent(t, path, 512)

	l := New()
	require.NoError(t, l.Put(ctx, sampleRecord(path)))

	rec, ok := l.Satisfied(ctx, "GDX/fact_sheet", path)
	require.True(t, ok)
	assert.Equal(t, int64(512), rec.FileSize)
	assert.Equal(t, "ab12", rec.SHA256)

	// The document must live next to the content.
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)

	var onDisk map[string]Record
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Contains(t, onDisk, "GDX/fact_sheet")
}

func TestSatisfiedSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "gdx.pdf")

	writeContent(t, path, 512)
	require.NoError(t, New().Put(ctx, sampleRecord(path)))

	// Fresh instance, cold cache: must read the document back.
	_, ok := New().Satisfied(ctx, "GDX/fact_sheet", path)
	assert.True(t, ok)
}

func TestSatisfiedDetectsMissingOrTruncatedFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "gdx.pdf")

	writeContent(t, path, 512)

	l := New()
	require.NoError(t, l.Put(ctx, sampleRecord(path)))

	require.NoError(t, os.WriteFile(path, make([]byte, 100), 0o644))
	_, ok := l.Satisfied(ctx, "GDX/fact_sheet", path)
	assert.False(t, ok, "truncated file must not satisfy")

	require.NoError(t, os.Remove(path))
	_, ok = l.Satisfied(ctx, "GDX/fact_sheet", path)
	assert.False(t, ok, "deleted file must not satisfy")
}

func TestUnknownResourceNotSatisfied(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "gdx.pdf")

	_, ok := New().Satisfied(ctx, "GDX/fact_sheet", path)
	assert.False(t, ok)
}

func TestPutOverwritesPriorRecord(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "gdx.pdf")

	writeContent(t, path, 512)

	l := New()
	require.NoError(t, l.Put(ctx, sampleRecord(path)))

	updated := sampleRecord(path)
	updated.FileSize = 1024
	updated.SHA256 = "cd34"
	require.NoError(t, l.Put(ctx, updated))

	writeContent(t, path, 1024)

	rec, ok := l.Satisfied(ctx, "GDX/fact_sheet", path)
	require.True(t, ok)
	assert.Equal(t, int64(1024), rec.FileSize)
	assert.Equal(t, "cd34", rec.SHA256)

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)

	var onDisk map[string]Record
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Len(t, onDisk, 1, "overwrite must not grow the document")
}

func TestCorruptedDocumentDegradesToEmpty(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "gdx.pdf")

	writeContent(t, path, 512)
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("{not json"), 0o644))

	l := New()

	_, ok := l.Satisfied(ctx, "GDX/fact_sheet", path)
	assert.False(t, ok)

	// Writes still work after the corrupted read.
	require.NoError(t, l.Put(ctx, sampleRecord(path)))

	_, ok = l.Satisfied(ctx, "GDX/fact_sheet", path)
	assert.True(t, ok)
}

func TestRecordsScopedPerDirectory(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	gdx := filepath.Join(root, "GDX", "fact_sheet.pdf")
	moat := filepath.Join(root, "MOAT", "fact_sheet.pdf")
	writeContent(t, gdx, 10)
	writeContent(t, moat, 20)

	l := New()

	recA := sampleRecord(gdx)
	recA.FileSize = 10
	require.NoError(t, l.Put(ctx, recA))

	recB := sampleRecord(moat)
	recB.ResourceID = "MOAT/fact_sheet"
	recB.FileSize = 20
	require.NoError(t, l.Put(ctx, recB))

	assert.FileExists(t, filepath.Join(root, "GDX", FileName))
	assert.FileExists(t, filepath.Join(root, "MOAT", FileName))

	_, ok := l.Satisfied(ctx, "GDX/fact_sheet", gdx)
	assert.True(t, ok)
	_, ok = l.Satisfied(ctx, "MOAT/fact_sheet", moat)
	assert.True(t, ok)

	// IDs do not leak across directories.
	_, ok = l.Satisfied(ctx, "MOAT/fact_sheet", gdx)
	assert.False(t, ok)
}
