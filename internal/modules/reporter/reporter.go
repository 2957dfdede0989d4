// Package reporter renders the event stream of a download run for a
// terminal.
//
// Status lines go to one writer, the progress bar to another:
//
//	Downloading image 1/3...
//	Successfully saved: 1.png
//	Downloading image 2/3...
//	Download failed (link 2): bad status: 404 Not Found
//	...
//	Download completed! Successfully downloaded 2/3 images
//	Images saved to: /opt/mdimage/image
package reporter

import (
	"fmt"
	"io"
	"math"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"mdimage/internal/models"
)

// Options configures a Reporter.
type Options struct {
	// Output receives status lines.
	Output io.Writer

	// ProgressOutput receives the progress bar. Nil disables the bar.
	ProgressOutput io.Writer
}

// Reporter consumes events and writes them for a human.
type Reporter struct {
	opts   Options
	bar    *progressbar.ProgressBar
	logger *zap.Logger
}

// New creates a Reporter.
func New(opts Options, logger *zap.Logger) *Reporter {
	if opts.Output == nil {
		opts.Output = io.Discard
	}

	r := &Reporter{opts: opts, logger: logger}
	if opts.ProgressOutput != nil {
		r.bar = progressbar.NewOptions(100,
			progressbar.OptionSetWriter(opts.ProgressOutput),
			progressbar.OptionSetDescription("downloading"),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
	}
	return r
}

// Consume drains events until the channel is closed and returns the
// summary carried by the final event.
func (r *Reporter) Consume(events <-chan models.Event) (models.Summary, bool) {
	var summary models.Summary
	var done bool
	for e := range events {
		r.Handle(e)
		if e.Kind == models.EventSummary {
			summary = e.Summary
			done = true
		}
	}
	return summary, done
}

// Handle renders a single event.
func (r *Reporter) Handle(e models.Event) {
	if e.Kind == models.EventProgress {
		r.setProgress(e.Progress)
		return
	}

	if e.Kind == models.EventSummary {
		r.finishBar()
		fmt.Fprintln(r.opts.Output)
	}
	fmt.Fprintln(r.opts.Output, e.String())
}

func (r *Reporter) setProgress(progress float64) {
	if r.bar == nil {
		return
	}
	if err := r.bar.Set(int(math.Round(progress))); err != nil {
		r.logger.Debug("progress bar update failed", zap.Error(err))
	}
}

func (r *Reporter) finishBar() {
	if r.bar == nil {
		return
	}
	if err := r.bar.Finish(); err != nil {
		r.logger.Debug("progress bar finish failed", zap.Error(err))
	}
}
