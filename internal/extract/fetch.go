package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/TobiSchelling/docpipe/internal/model"
	"github.com/TobiSchelling/docpipe/internal/retry"
)

const maxBodyBytes = 10 << 20 // 10 MiB download cap

// HTTPError is a non-2xx response from a document source.
type HTTPError struct {
	StatusCode int
	RetryAfter time.Duration // parsed Retry-After header, 0 if absent
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// ClassifyFetchError maps download errors onto the retry taxonomy:
// 429 waits the indicated hint, 5xx and transport errors retry with
// backoff, 4xx fails immediately.
func ClassifyFetchError(err error) retry.Classification {
	var herr *HTTPError
	if !errors.As(err, &herr) {
		// Transport-level failure (timeout, connection reset).
		return retry.Classification{Class: retry.Transient}
	}
	switch {
	case herr.StatusCode == http.StatusTooManyRequests:
		return retry.Classification{Class: retry.RateLimited, Wait: herr.RetryAfter}
	case herr.StatusCode >= 500:
		return retry.Classification{Class: retry.Transient}
	default:
		return retry.Classification{Class: retry.Permanent}
	}
}

// Fetcher downloads raw documents over HTTP or from the local filesystem.
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a Fetcher with the given request timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// Fetch downloads the document at sourceURL. file:// URLs and bare paths
// are read from disk.
func (f *Fetcher) Fetch(ctx context.Context, sourceURL string) (*model.Document, error) {
	u, err := url.Parse(sourceURL)
	if err != nil || u.Scheme == "" || u.Scheme == "file" {
		path := sourceURL
		if u != nil && u.Scheme == "file" {
			path = u.Path
		}
		body, rerr := os.ReadFile(path)
		if rerr != nil {
			return nil, fmt.Errorf("reading local document: %w", rerr)
		}
		return &model.Document{URL: sourceURL, Body: body}, nil
	}

	req, err := http.NewRequestWithContext(ctx, "GET", sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "docpipe/1.0 (document extraction)")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", sourceURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	return &model.Document{URL: sourceURL, Body: body}, nil
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
