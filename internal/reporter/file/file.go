// Package file writes the end-of-test summary to disk.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"yqhp/load-engine/internal/reporter/summary"
)

// Format selects the file content.
type Format string

const (
	// FormatCSV writes the metric,value,unit table.
	FormatCSV Format = "csv"
	// FormatText writes the human readable report.
	FormatText Format = "text"
)

// Reporter writes one summary file.
type Reporter struct {
	path   string
	format Format
}

// NewCSVReporter creates a reporter writing the CSV summary to path.
func NewCSVReporter(path string) *Reporter {
	return &Reporter{path: path, format: FormatCSV}
}

// NewTextReporter creates a reporter writing the text summary to path.
func NewTextReporter(path string) *Reporter {
	return &Reporter{path: path, format: FormatText}
}

// Name returns the reporter name.
func (r *Reporter) Name() string {
	return string(r.format) + "-file"
}

// Path returns the output file path.
func (r *Reporter) Path() string {
	return r.path
}

// Report renders s and replaces the file atomically.
func (r *Reporter) Report(_ context.Context, s *summary.Summary) error {
	var content string
	switch r.format {
	case FormatText:
		content = summary.RenderText(s)
	default:
		content = summary.RenderCSV(s)
	}
	return writeFileAtomic(r.path, []byte(content))
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
