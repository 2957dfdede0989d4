package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"mdimage/internal/models"
	"mdimage/internal/modules/persistence"
)

// mockFetcher serves the URL itself as the body, failing for URLs in fail
// and panicking for URLs in panics.
type mockFetcher struct {
	fail   map[string]bool
	panics map[string]bool
	gate   chan struct{}
	calls  []string
}

func (m *mockFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	if m.gate != nil {
		<-m.gate
	}
	m.calls = append(m.calls, url)
	if m.panics[url] {
		panic("boom")
	}
	if m.fail[url] {
		return nil, errors.New("bad status: 404 Not Found")
	}
	return io.NopCloser(strings.NewReader("data:" + url)), nil
}

func newTestPipeline(t *testing.T, fetcher Fetcher) *Pipeline {
	logger := zaptest.NewLogger(t)
	return New(fetcher, func(dir string) Persister {
		return persistence.New(dir, 0, logger)
	}, Options{}, logger)
}

func runAndCollect(t *testing.T, p *Pipeline, run models.RunContext) (models.Summary, []models.Event) {
	t.Helper()
	events := make(chan models.Event, 4*len(run.Links)+2)
	summary, err := p.Run(context.Background(), run, events)
	require.NoError(t, err)
	close(events)

	var got []models.Event
	for e := range events {
		got = append(got, e)
	}
	return summary, got
}

func TestPipeline_Run_AllSucceed(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "image")
	links := models.LinkList{"http://x/i.PNG", "http://y/noext", "http://z/a.svg"}
	p := newTestPipeline(t, &mockFetcher{})

	summary, events := runAndCollect(t, p, models.RunContext{Links: links, DestDir: dir})

	assert.Equal(t, models.Summary{SuccessCount: 3, Total: 3, DestDir: dir}, summary)
	for _, name := range []string{"1.png", "2.jpg", "3.jpg"} {
		assert.FileExists(t, filepath.Join(dir, name))
	}

	data, err := os.ReadFile(filepath.Join(dir, "1.png"))
	require.NoError(t, err)
	assert.Equal(t, "data:http://x/i.PNG", string(data))

	kinds := make([]models.EventKind, 0, len(events))
	for _, e := range events {
		kinds = append(kinds, e.Kind)
		assert.Equal(t, 3, e.Total)
		assert.NotEmpty(t, e.RunID)
	}
	assert.Equal(t, []models.EventKind{
		models.EventStarted, models.EventSuccess, models.EventProgress,
		models.EventStarted, models.EventSuccess, models.EventProgress,
		models.EventStarted, models.EventSuccess, models.EventProgress,
		models.EventProgress, models.EventSummary,
	}, kinds)
	assert.Equal(t, summary, events[len(events)-1].Summary)
}

func TestPipeline_Run_OneFailure(t *testing.T) {
	dir := t.TempDir()
	links := models.LinkList{"http://a/1.png", "http://b/2.gif", "http://c/3.jpeg", "http://d/4.webp"}
	fetcher := &mockFetcher{fail: map[string]bool{"http://b/2.gif": true}}
	p := newTestPipeline(t, fetcher)

	summary, events := runAndCollect(t, p, models.RunContext{Links: links, DestDir: dir})

	assert.Equal(t, 3, summary.SuccessCount)
	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, []string(links), fetcher.calls)

	files, err := filepath.Glob(filepath.Join(dir, "*"))
	require.NoError(t, err)
	assert.Len(t, files, 3)
	assert.NoFileExists(t, filepath.Join(dir, "2.gif"))

	var failures []models.Event
	for _, e := range events {
		if e.Kind == models.EventFailure {
			failures = append(failures, e)
		}
	}
	require.Len(t, failures, 1)
	assert.Equal(t, 2, failures[0].Index)
	assert.Equal(t, "Download failed (link 2): bad status: 404 Not Found", failures[0].String())
}

func TestPipeline_Run_AllFail(t *testing.T) {
	links := models.LinkList{"u1", "u2"}
	p := newTestPipeline(t, &mockFetcher{fail: map[string]bool{"u1": true, "u2": true}})

	summary, events := runAndCollect(t, p, models.RunContext{Links: links, DestDir: t.TempDir()})

	assert.Equal(t, 0, summary.SuccessCount)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, models.EventSummary, events[len(events)-1].Kind)
	assert.Equal(t, 100.0, events[len(events)-2].Progress)
}

func TestPipeline_Run_Progress(t *testing.T) {
	links := models.LinkList{"u1", "u2", "u3"}
	p := newTestPipeline(t, &mockFetcher{fail: map[string]bool{"u2": true}})

	_, events := runAndCollect(t, p, models.RunContext{Links: links, DestDir: t.TempDir()})

	var progress []float64
	for _, e := range events {
		if e.Kind == models.EventProgress {
			progress = append(progress, e.Progress)
		}
	}
	require.Len(t, progress, 4)
	assert.InDelta(t, 100.0/3, progress[0], 1e-9)
	assert.InDelta(t, 200.0/3, progress[1], 1e-9)
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i], progress[i-1])
	}
	assert.Equal(t, 100.0, progress[len(progress)-1])
}

func TestPipeline_Run_NoLinks(t *testing.T) {
	p := newTestPipeline(t, &mockFetcher{})
	events := make(chan models.Event, 1)

	_, err := p.Run(context.Background(), models.RunContext{DestDir: t.TempDir()}, events)
	assert.ErrorIs(t, err, ErrNoLinks)
	assert.Empty(t, events)

	_, err = p.Start(context.Background(), models.RunContext{Links: models.LinkList{}})
	assert.ErrorIs(t, err, ErrNoLinks)
}

func TestPipeline_Run_OverwritesPreviousRun(t *testing.T) {
	dir := t.TempDir()
	links := models.LinkList{"http://a/1.png", "http://b/2.png"}
	p := newTestPipeline(t, &mockFetcher{})

	runAndCollect(t, p, models.RunContext{Links: links, DestDir: dir})

	second := models.LinkList{"http://c/3.png", "http://d/4.png"}
	summary, _ := runAndCollect(t, p, models.RunContext{Links: second, DestDir: dir})
	assert.Equal(t, 2, summary.SuccessCount)

	data, err := os.ReadFile(filepath.Join(dir, "1.png"))
	require.NoError(t, err)
	assert.Equal(t, "data:http://c/3.png", string(data))
}

func TestPipeline_Run_FilesystemErrorIsPerItem(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "image")
	require.NoError(t, os.WriteFile(blocker, []byte("not a dir"), 0644))

	p := newTestPipeline(t, &mockFetcher{})
	summary, events := runAndCollect(t, p, models.RunContext{
		Links:   models.LinkList{"u1", "u2"},
		DestDir: filepath.Join(blocker, "sub"),
	})

	assert.Equal(t, 0, summary.SuccessCount)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, models.EventSummary, events[len(events)-1].Kind)
}

func TestPipeline_Run_PanicIsPerItem(t *testing.T) {
	dir := t.TempDir()
	p := newTestPipeline(t, &mockFetcher{panics: map[string]bool{"http://a/1.png": true}})

	summary, _ := runAndCollect(t, p, models.RunContext{
		Links:   models.LinkList{"http://a/1.png", "http://b/2.png"},
		DestDir: dir,
	})

	assert.Equal(t, 1, summary.SuccessCount)
	assert.FileExists(t, filepath.Join(dir, "2.png"))
}

func TestPipeline_Start(t *testing.T) {
	dir := t.TempDir()
	fetcher := &mockFetcher{gate: make(chan struct{})}
	p := newTestPipeline(t, fetcher)
	run := models.RunContext{Links: models.LinkList{"http://a/1.png", "http://b/2.png"}, DestDir: dir}

	ctx, cancel := context.WithCancel(context.Background())
	events, err := p.Start(ctx, run)
	require.NoError(t, err)

	_, err = p.Start(context.Background(), run)
	assert.ErrorIs(t, err, ErrRunInProgress)
	_, err = p.Run(context.Background(), run, make(chan models.Event, 16))
	assert.ErrorIs(t, err, ErrRunInProgress)

	// A started run is not interrupted by cancellation.
	cancel()
	close(fetcher.gate)

	var last models.Event
	count := 0
	for e := range events {
		last = e
		count++
	}
	assert.Equal(t, 8, count)
	assert.Equal(t, models.EventSummary, last.Kind)
	assert.Equal(t, 2, last.Summary.SuccessCount)

	// The guard is released once the channel is closed.
	events, err = p.Start(context.Background(), run)
	require.NoError(t, err)
	for range events {
	}
}

func TestPipeline_Delay(t *testing.T) {
	logger := zap.NewNop()
	p := New(&mockFetcher{}, func(dir string) Persister {
		return persistence.New(dir, 0, logger)
	}, Options{Delay: 20 * time.Millisecond}, logger)

	start := time.Now()
	events := make(chan models.Event, 16)
	_, err := p.Run(context.Background(), models.RunContext{Links: models.LinkList{"u1", "u2"}, DestDir: t.TempDir()}, events)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestNew_NegativeDelay(t *testing.T) {
	p := New(&mockFetcher{}, nil, Options{Delay: -time.Second}, zap.NewNop())
	assert.Equal(t, time.Duration(0), p.opts.Delay)
	assert.Equal(t, defaultDelay, DefaultOptions().Delay)
}
