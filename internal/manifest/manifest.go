// Package manifest loads the batch description file: which documents to
// fetch and where to put them.
package manifest

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/italolelis/batch_downloader/internal/transfer"
	"gopkg.in/yaml.v3"
)

// Entry is one document in the manifest. Path is relative to the target
// directory and defaults to the URL basename when empty.
type Entry struct {
	ResourceID string `yaml:"resource_id"`
	URL        string `yaml:"url"`
	Path       string `yaml:"path,omitempty"`
	SHA256     string `yaml:"sha256,omitempty"`
}

// Manifest describes one batch of documents.
type Manifest struct {
	Entries []Entry `yaml:"documents"`
}

// Load reads and validates the manifest at manifestPath.
func Load(manifestPath string) (*Manifest, error) {
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", manifestPath, err)
	}

	var m Manifest

	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", manifestPath, err)
	}

	if len(m.Entries) == 0 {
		return nil, fmt.Errorf("manifest %s lists no documents", manifestPath)
	}

	for i, e := range m.Entries {
		if e.ResourceID == "" {
			return nil, fmt.Errorf("manifest entry %d: missing resource_id", i)
		}

		if e.URL == "" {
			return nil, fmt.Errorf("manifest entry %d (%s): missing url", i, e.ResourceID)
		}

		// The effective path, explicit or derived, must stay inside the
		// target directory.
		if rel := e.relativePath(); filepath.IsAbs(rel) || hasDotDot(rel) {
			return nil, fmt.Errorf("manifest entry %d (%s): path %q escapes the target directory", i, e.ResourceID, rel)
		}
	}

	return &m, nil
}

// Requests converts the manifest into transfer requests rooted at targetDir.
// Path containment is enforced by Load.
func (m *Manifest) Requests(targetDir string) []transfer.Request {
	reqs := make([]transfer.Request, 0, len(m.Entries))

	for _, e := range m.Entries {
		reqs = append(reqs, transfer.Request{
			URL:            e.URL,
			LocalPath:      filepath.Join(targetDir, filepath.FromSlash(e.relativePath())),
			ResourceID:     e.ResourceID,
			ExpectedSHA256: e.SHA256,
		})
	}

	return reqs
}

// relativePath is where the document lands relative to the target directory:
// the explicit path when set, otherwise a name derived from the URL.
func (e Entry) relativePath() string {
	if e.Path != "" {
		return e.Path
	}

	return fileNameFromURL(e.URL, e.ResourceID)
}

// fileNameFromURL extracts a usable file name from the URL path, falling
// back to the resource id for URLs without one.
func fileNameFromURL(rawURL, resourceID string) string {
	u, err := url.Parse(rawURL)
	if err == nil {
		if base := path.Base(u.Path); base != "." && base != ".." && base != "/" && base != "" {
			return base
		}
	}

	return resourceID
}

func hasDotDot(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part == ".." {
			return true
		}
	}

	return false
}
