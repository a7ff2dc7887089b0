// Package console prints the end-of-test summary to a terminal.
package console

import (
	"context"
	"io"
	"os"

	"yqhp/load-engine/internal/reporter/summary"
)

// Reporter writes the text summary to a writer, stdout by default.
type Reporter struct {
	w    io.Writer
	opts summary.TextOptions
}

// New creates a console reporter. A nil writer means os.Stdout.
func New(w io.Writer, opts ...summary.TextOptions) *Reporter {
	if w == nil {
		w = os.Stdout
	}
	r := &Reporter{w: w}
	if len(opts) > 0 {
		r.opts = opts[0]
	}
	return r
}

// Name returns the reporter name.
func (r *Reporter) Name() string {
	return "console"
}

// Report writes the rendered text.
func (r *Reporter) Report(_ context.Context, s *summary.Summary) error {
	_, err := io.WriteString(r.w, summary.RenderText(s, r.opts))
	return err
}
