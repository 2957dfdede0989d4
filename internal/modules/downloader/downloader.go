package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds connecting, waiting for headers and every gap
// between body reads.
const DefaultTimeout = 10 * time.Second

var (
	// ErrBadStatus is returned when the server answers with a non-2xx status.
	ErrBadStatus = errors.New("bad status")
	// ErrIdleTimeout is returned by body reads when no data arrived within the timeout.
	ErrIdleTimeout = errors.New("read timed out")
)

// HTTPDownloader fetches one URL at a time. The response body is handed
// to the caller unread so it can be streamed to disk.
type HTTPDownloader struct {
	client  *http.Client
	timeout time.Duration
	logger  *zap.Logger
}

// New creates an HTTPDownloader. timeout bounds the connect, the wait for
// response headers and each gap between body reads; a slow body that keeps
// delivering data is never cut off. A non-positive timeout selects
// DefaultTimeout.
func New(timeout time.Duration, logger *zap.Logger) *HTTPDownloader {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		IdleConnTimeout:       90 * time.Second,
	}
	return &HTTPDownloader{
		client:  &http.Client{Transport: transport},
		timeout: timeout,
		logger:  logger,
	}
}

// Fetch issues a GET for url. On success the caller must close the
// returned body.
func (d *HTTPDownloader) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel(nil)
		return nil, fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		cancel(nil)
		return nil, fmt.Errorf("download failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		cancel(nil)
		return nil, fmt.Errorf("%w: %s", ErrBadStatus, resp.Status)
	}

	d.logger.Debug("response received",
		zap.String("url", url),
		zap.Int("status", resp.StatusCode),
		zap.Int64("content_length", resp.ContentLength),
		zap.Duration("duration", time.Since(start)))
	return newIdleTimeoutBody(ctx, cancel, resp.Body, d.timeout), nil
}

// idleTimeoutBody aborts the request when a single Read waits longer than
// timeout. The timer restarts after every Read.
type idleTimeoutBody struct {
	ctx     context.Context
	cancel  context.CancelCauseFunc
	body    io.ReadCloser
	timer   *time.Timer
	timeout time.Duration
}

func newIdleTimeoutBody(ctx context.Context, cancel context.CancelCauseFunc, body io.ReadCloser, timeout time.Duration) *idleTimeoutBody {
	return &idleTimeoutBody{
		ctx:     ctx,
		cancel:  cancel,
		body:    body,
		timeout: timeout,
		timer: time.AfterFunc(timeout, func() {
			cancel(ErrIdleTimeout)
		}),
	}
}

func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && errors.Is(context.Cause(b.ctx), ErrIdleTimeout) {
		return n, fmt.Errorf("%w: no data for %s", ErrIdleTimeout, b.timeout)
	}
	if err == nil {
		b.timer.Reset(b.timeout)
	}
	return n, err
}

func (b *idleTimeoutBody) Close() error {
	b.timer.Stop()
	err := b.body.Close()
	b.cancel(nil)
	return err
}
