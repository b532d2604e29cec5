package feeds

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// maxBodyBytes caps a feed download; the biggest public blocklists are in
// the tens of megabytes.
const maxBodyBytes = 64 << 20

// Getter fetches a feed body. Tests substitute a fake.
type Getter interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Fetcher downloads feed bodies over HTTP with exponential-backoff retries.
// Client errors (4xx) are permanent; server and transport errors retry
// until the elapsed budget runs out.
type Fetcher struct {
	client     *http.Client
	maxElapsed time.Duration
}

func NewFetcher(requestTimeout, maxElapsed time.Duration) *Fetcher {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	if maxElapsed <= 0 {
		maxElapsed = 2 * time.Minute
	}
	return &Fetcher{
		client:     &http.Client{Timeout: requestTimeout},
		maxElapsed: maxElapsed,
	}
}

func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var body []byte

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return backoff.Permanent(fmt.Errorf("feed returned %s", resp.Status))
		default:
			return fmt.Errorf("feed returned %s", resp.Status)
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
		if err != nil {
			return err
		}
		if len(data) > maxBodyBytes {
			return backoff.Permanent(fmt.Errorf("feed body exceeds %d bytes", maxBodyBytes))
		}
		body = data
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = f.maxElapsed
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, fmt.Errorf("fetching feed %s: %w", url, err)
	}
	return body, nil
}
