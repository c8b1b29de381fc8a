package fetch

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
)

// Completeness markers a rendered product page must carry: the embedded
// state blob and the inventory table.
var (
	stateMarker = []byte("__NEXT_DATA__")
	tableMarker = []byte("<table")
)

// VerifyReport summarizes one completeness scan.
type VerifyReport struct {
	Scanned int
	Removed int
	// RemovedPaths lists pruned files relative to the HTML directory.
	RemovedPaths []string
}

// Verify scans every persisted page and prunes the ones that rendered
// incompletely (truncated, missing the state blob or the inventory table) so
// the next fetch pass downloads them again.
func (f *Fetcher) Verify() (*VerifyReport, error) {
	report := &VerifyReport{}
	htmlDir := f.cfg.HTMLDir()

	pattern := filepath.Join(htmlDir, "*", "*.html")
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("scan pages: %w", err)
	}

	for _, path := range paths {
		report.Scanned++

		reason, err := f.checkPage(path)
		if err != nil {
			return report, err
		}
		if reason == "" {
			continue
		}

		if err := os.Remove(path); err != nil {
			return report, fmt.Errorf("prune incomplete page %s: %w", path, err)
		}
		rel, relErr := filepath.Rel(htmlDir, path)
		if relErr != nil {
			rel = path
		}
		report.Removed++
		report.RemovedPaths = append(report.RemovedPaths, rel)
		f.logger.Warn("pruned incomplete page", "page", rel, "reason", reason)
	}

	f.logger.Info("page verification finished", "scanned", report.Scanned, "removed", report.Removed)
	return report, nil
}

// checkPage returns a non-empty reason when the page is incomplete.
func (f *Fetcher) checkPage(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read page %s: %w", path, err)
	}

	switch {
	case len(data) < f.cfg.MinPageBytes:
		return fmt.Sprintf("truncated: %d bytes", len(data)), nil
	case !bytes.Contains(data, stateMarker):
		return "missing state blob", nil
	case !bytes.Contains(data, tableMarker):
		return "missing inventory table", nil
	}
	return "", nil
}
