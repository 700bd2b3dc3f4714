package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoadManifest(t *testing.T) {
	path := writeManifest(t, `
documents:
  - resource_id: GDX-001
    url: https://docs.example.com/reports/q1.pdf
  - resource_id: GDX-002
    url: https://docs.example.com/reports/q2.pdf
    path: reports/2026/q2.pdf
    sha256: 5891b5b522d5df086d0ff0b110fbd9d21bb4fc7163af34d08286a2e846f6be03
`)

	m, err := Load(path)

	require.NoError(t, err)
	require.Len(t, m.Entries, 2)
	assert.Equal(t, "GDX-001", m.Entries[0].ResourceID)
	assert.Equal(t, "reports/2026/q2.pdf", m.Entries[1].Path)
	assert.NotEmpty(t, m.Entries[1].SHA256)
}

func TestLoadManifestErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "no documents",
			content: "documents: []\n",
			wantErr: "lists no documents",
		},
		{
			name:    "not yaml",
			content: "{{{{",
			wantErr: "failed to parse manifest",
		},
		{
			name: "missing resource id",
			content: `
documents:
  - url: https://docs.example.com/a.pdf
`,
			wantErr: "missing resource_id",
		},
		{
			name: "missing url",
			content: `
documents:
  - resource_id: GDX-001
`,
			wantErr: "missing url",
		},
		{
			name: "path traversal",
			content: `
documents:
  - resource_id: GDX-001
    url: https://docs.example.com/a.pdf
    path: ../../etc/passwd
`,
			wantErr: "escapes the target directory",
		},
		{
			name: "derived path traversal",
			content: `
documents:
  - resource_id: ../evil
    url: https://docs.example.com/
`,
			wantErr: "escapes the target directory",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeManifest(t, tc.content))

			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadManifestMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read manifest")
}

func TestRequests(t *testing.T) {
	m := &Manifest{Entries: []Entry{
		{ResourceID: "GDX-001", URL: "https://docs.example.com/reports/q1.pdf"},
		{ResourceID: "GDX-002", URL: "https://docs.example.com/download?id=77", Path: "archive/q2.pdf", SHA256: "abc"},
		{ResourceID: "GDX-003", URL: "https://docs.example.com/"},
		{ResourceID: "GDX-004", URL: "https://docs.example.com/.."},
	}}

	reqs := m.Requests("/data/docs")

	require.Len(t, reqs, 4)

	assert.Equal(t, filepath.Join("/data/docs", "q1.pdf"), reqs[0].LocalPath, "defaults to the url basename")
	assert.Equal(t, filepath.Join("/data/docs", "archive", "q2.pdf"), reqs[1].LocalPath)
	assert.Equal(t, "abc", reqs[1].ExpectedSHA256)
	assert.Equal(t, filepath.Join("/data/docs", "GDX-003"), reqs[2].LocalPath, "falls back to the resource id")
	assert.Equal(t, filepath.Join("/data/docs", "GDX-004"), reqs[3].LocalPath, "a dot-dot basename never becomes a file name")
}
