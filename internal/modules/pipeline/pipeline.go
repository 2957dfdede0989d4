package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mdimage/internal/models"
	"mdimage/internal/modules/persistence"
)

const defaultDelay = 100 * time.Millisecond

var (
	// ErrNoLinks is returned when a run is requested for an empty link list.
	ErrNoLinks = errors.New("no image links to download")
	// ErrRunInProgress is returned when a run is requested while another is active.
	ErrRunInProgress = errors.New("a download run is already in progress")
)

// Fetcher retrieves the body behind a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// Persister stores one item under a file name.
type Persister interface {
	Persist(filename string, body io.Reader) (int64, error)
}

// PersisterFactory returns the Persister for a destination directory.
type PersisterFactory func(destDir string) Persister

// Options tunes a Pipeline.
type Options struct {
	// Delay is the pause after each item. Zero disables pacing.
	Delay time.Duration
}

// DefaultOptions returns the pacing applied when nothing is configured.
func DefaultOptions() Options {
	return Options{Delay: defaultDelay}
}

// Pipeline downloads a link list strictly sequentially and reports each
// step as an Event.
type Pipeline struct {
	fetcher      Fetcher
	newPersister PersisterFactory
	opts         Options
	logger       *zap.Logger
	running      atomic.Bool
}

// New creates a new Pipeline.
//
// Parameters:
//   - fetcher: Retrieves each URL.
//   - newPersister: Builds the Persister for a run's destination directory.
//   - opts: Pacing options.
//   - logger: Logger for pipeline-wide logging.
//
// Returns:
//   - A pointer to a new Pipeline instance.
func New(fetcher Fetcher, newPersister PersisterFactory, opts Options, logger *zap.Logger) *Pipeline {
	if opts.Delay < 0 {
		opts.Delay = 0
	}
	return &Pipeline{
		fetcher:      fetcher,
		newPersister: newPersister,
		opts:         opts,
		logger:       logger,
	}
}

// Start runs the pipeline in a background goroutine.
//
// The returned channel delivers every event of the run in order and is
// closed after the summary event.
//
// Parameters:
//   - ctx: Values are kept; cancellation does not interrupt a started run.
//   - run: Links and destination of the run. Links must not be modified until
//     the channel is closed.
//
// Returns:
//   - The event channel.
//   - ErrNoLinks or ErrRunInProgress if the run could not be started.
func (p *Pipeline) Start(ctx context.Context, run models.RunContext) (<-chan models.Event, error) {
	if !run.Links.HasLinks() {
		return nil, ErrNoLinks
	}
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}

	events := make(chan models.Event, 50)
	go func() {
		defer close(events)
		defer p.running.Store(false)
		p.run(ctx, run, events)
	}()
	return events, nil
}

// Run executes one download run synchronously, sending events to the given
// channel. The channel is not closed.
//
// Parameters:
//   - ctx: Values are kept; cancellation does not interrupt a started run.
//   - run: Links and destination of the run.
//   - events: Receives every event of the run. It must be drained by the caller.
//
// Returns:
//   - The run summary.
//   - ErrNoLinks or ErrRunInProgress if the run could not be started.
func (p *Pipeline) Run(ctx context.Context, run models.RunContext, events chan<- models.Event) (models.Summary, error) {
	if !run.Links.HasLinks() {
		return models.Summary{}, ErrNoLinks
	}
	if !p.running.CompareAndSwap(false, true) {
		return models.Summary{}, ErrRunInProgress
	}
	defer p.running.Store(false)
	return p.run(ctx, run, events), nil
}

func (p *Pipeline) run(ctx context.Context, run models.RunContext, events chan<- models.Event) models.Summary {
	ctx = context.WithoutCancel(ctx)
	runID := uuid.NewString()
	logger := p.logger.With(zap.String("run_id", runID))
	persister := p.newPersister(run.DestDir)
	total := len(run.Links)
	successCount := 0

	emit := func(e models.Event) {
		e.RunID = runID
		e.Total = total
		events <- e
	}

	logger.Info("starting download run",
		zap.Int("total", total),
		zap.String("dest_dir", run.DestDir))

	for i, link := range run.Links {
		index := i + 1
		emit(models.Event{Kind: models.EventStarted, Index: index, URL: link})

		result := p.downloadOne(ctx, persister, index, link)
		if result.Outcome == models.OutcomeSuccess {
			successCount++
			logger.Info("image saved",
				zap.Int("index", index),
				zap.String("url", link),
				zap.String("file", result.Filename),
				zap.Int64("bytes", result.Bytes))
			emit(models.Event{Kind: models.EventSuccess, Index: index, URL: link, Filename: result.Filename})
		} else {
			logger.Warn("download failed",
				zap.Int("index", index),
				zap.String("url", link),
				zap.Error(result.Err))
			emit(models.Event{Kind: models.EventFailure, Index: index, URL: link, Err: result.Err})
		}

		emit(models.Event{Kind: models.EventProgress, Index: index, Progress: float64(index) / float64(total) * 100})

		if p.opts.Delay > 0 {
			time.Sleep(p.opts.Delay)
		}
	}

	summary := models.Summary{
		SuccessCount: successCount,
		Total:        total,
		DestDir:      run.DestDir,
	}
	emit(models.Event{Kind: models.EventProgress, Index: total, Progress: 100})
	emit(models.Event{Kind: models.EventSummary, Index: total, Summary: summary})

	logger.Info("download run completed",
		zap.Int("successful", successCount),
		zap.Int("failed", total-successCount))
	return summary
}

// downloadOne fetches and stores a single item. Every fault, panics
// included, becomes a failure result.
func (p *Pipeline) downloadOne(ctx context.Context, persister Persister, index int, link string) (result models.DownloadResult) {
	result = models.DownloadResult{Index: index, URL: link, Outcome: models.OutcomeFailure}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic while downloading",
				zap.Int("index", index),
				zap.Any("recover", r),
				zap.String("stack", string(debug.Stack())))
			result = models.DownloadResult{
				Index:   index,
				URL:     link,
				Outcome: models.OutcomeFailure,
				Err:     fmt.Errorf("unexpected panic: %v", r),
			}
		}
	}()

	body, err := p.fetcher.Fetch(ctx, link)
	if err != nil {
		result.Err = err
		return result
	}
	defer body.Close()

	filename := persistence.Filename(index, link)
	n, err := persister.Persist(filename, body)
	if err != nil {
		result.Err = err
		return result
	}

	result.Outcome = models.OutcomeSuccess
	result.Filename = filename
	result.Bytes = n
	return result
}
