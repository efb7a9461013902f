// Package progress renders search statistics.
package progress

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/screa/vanity-miner/internal/logger"
	"github.com/screa/vanity-miner/pkg/types"
)

// Line formats stats as a one-line summary
func Line(s types.Stats) string {
	line := fmt.Sprintf("Attempts: %d | Rate: %.0f/s | Time: %.1fs | Addresses: %d/%d",
		s.Attempts, s.Rate(), s.Elapsed.Seconds(), s.Found, s.Target)
	if s.Duplicates > 0 {
		line += fmt.Sprintf(" | Duplicates: %d", s.Duplicates)
	}
	if s.Failures > 0 {
		line += fmt.Sprintf(" | Save errors: %d", s.Failures)
	}
	return line
}

// Bar draws a single updating status line on a terminal
type Bar struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

// NewBar creates a bar writing to w
func NewBar(w io.Writer) *Bar {
	bar := progressbar.NewOptions64(
		-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("Searching"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("keys"),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
	)
	return &Bar{w: w, bar: bar}
}

func (b *Bar) Report(s types.Stats) {
	b.bar.Describe(fmt.Sprintf("Addresses %d/%d | %.0f/s | %s", s.Found, s.Target, s.Rate(), s.Elapsed.Truncate(100*time.Millisecond)))
	_ = b.bar.Set64(int64(s.Attempts))
}

func (b *Bar) Finish(s types.Stats) {
	b.Report(s)
	_ = b.bar.Finish()
	fmt.Fprintln(b.w)
}

// Log writes a progress line through the logger on every report
type Log struct {
	logger *logger.Logger
}

// NewLog creates a logging reporter
func NewLog(l *logger.Logger) *Log {
	return &Log{logger: l}
}

func (r *Log) Report(s types.Stats) {
	r.logger.Printf("Progress: %s", Line(s))
}

func (r *Log) Finish(s types.Stats) {
	r.logger.Printf("Finished: %s", Line(s))
}
