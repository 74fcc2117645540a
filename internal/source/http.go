package source

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/nishisan-dev/egd/internal/config"
	"github.com/nishisan-dev/egd/internal/egderr"
)

// userAgent identifies every EGD fetch request (spec.md §4.5).
const userAgent = "EGD-Go/1.0"

// fetchTimeout is the per-chunk ceiling on a URL fetch; receiving any
// byte resets it, so a long streaming response never trips a false
// timeout (spec.md §4.5).
const fetchTimeout = 60 * time.Second

func newHTTPClient(insecureTLS bool) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	// No overall client Timeout: the reset-on-first-byte ceiling is
	// enforced by resettingReader below, wrapping the response body.
	return &http.Client{Transport: transport}
}

// fetchURL issues the configured GET, optionally prefetching a warm-up
// URL first, and reads the body under a reset-on-first-byte ceiling.
func fetchURL(ctx context.Context, cfg config.SourceConfig, client *http.Client) ([]byte, error) {
	if cfg.Prefetch != "" {
		if err := prefetch(ctx, client, cfg.Prefetch); err != nil {
			return nil, egderr.Temp("source", "PREFETCH_FAILED", "prefetch request failed", err)
		}
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		return nil, egderr.Perm("source", "URL_BUILD_REQUEST", "building request", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, egderr.Temp("source", "URL_FETCH", "issuing request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, egderr.Temp("source", "URL_SERVER_ERROR", fmt.Sprintf("server returned %d", resp.StatusCode), nil)
	}
	if resp.StatusCode >= 400 {
		return nil, egderr.Perm("source", "URL_CLIENT_ERROR", fmt.Sprintf("server returned %d", resp.StatusCode), nil)
	}

	reader := newResettingReader(resp.Body, fetchTimeout, cancel)

	var body io.Reader = newThrottledReader(fetchCtx, reader, cfg.MaxReadRateRaw)
	if cfg.Size > 0 {
		body = io.LimitReader(body, cfg.Size)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, egderr.Temp("source", "URL_READ", "reading response body", err)
	}

	if cfg.MinSize > 0 && int64(len(data)) < cfg.MinSize {
		return nil, egderr.Temp("source", "URL_SHORT_RESPONSE",
			fmt.Sprintf("response %d bytes shorter than min_size %d", len(data), cfg.MinSize), nil)
	}

	return data, nil
}

func prefetch(ctx context.Context, client *http.Client, url string) error {
	prefetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(prefetchCtx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// resettingReader wraps a response body so that the ceiling on the read
// is reset to a fresh window every time any bytes arrive, instead of
// being an overall deadline (spec.md §4.5, REDESIGN FLAGS: "coroutine/
// async fetch semantics"). It cancels the owning context, not the
// connection directly, so Read returns ctx.Err() through the body.
type resettingReader struct {
	body     io.ReadCloser
	reset    chan struct{}
	timeout  time.Duration
	done     chan struct{}
	doneOnce sync.Once
}

func newResettingReader(body io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) *resettingReader {
	r := &resettingReader{
		body:    body,
		reset:   make(chan struct{}, 1),
		timeout: timeout,
		done:    make(chan struct{}),
	}
	go r.watch(cancel)
	return r
}

func (r *resettingReader) watch(cancel context.CancelFunc) {
	timer := time.NewTimer(r.timeout)
	defer timer.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-timer.C:
			cancel()
			return
		case <-r.reset:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(r.timeout)
		}
	}
}

func (r *resettingReader) Read(p []byte) (int, error) {
	n, err := r.body.Read(p)
	if n > 0 {
		select {
		case r.reset <- struct{}{}:
		default:
		}
	}
	if err != nil {
		r.doneOnce.Do(func() { close(r.done) })
	}
	return n, err
}
