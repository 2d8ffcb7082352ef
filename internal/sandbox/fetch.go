package sandbox

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Fetcher performs the network transfer behind the sandboxed fetch
// primitive. Permission and budget checks happen before Fetch is called.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

const defaultFetchBodyCap = 4 << 20 // 4MB

// HTTPFetcher is the default Fetcher: a plain GET with a capped response
// body.
type HTTPFetcher struct {
	Client  *http.Client
	MaxBody int64
}

// NewHTTPFetcher returns a fetcher with a 30s client timeout and the
// default body cap.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{
		Client:  &http.Client{Timeout: 30 * time.Second},
		MaxBody: defaultFetchBodyCap,
	}
}

// Fetch GETs the URL and returns the response body as a string. Non-2xx
// statuses are errors.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", rawURL, err)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}

	limit := f.MaxBody
	if limit <= 0 {
		limit = defaultFetchBodyCap
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	return string(body), nil
}

// hostOf extracts the bare host from a URL or host[:port] string for
// permission checks.
func hostOf(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		return u.Hostname()
	}
	if host, _, err := net.SplitHostPort(raw); err == nil {
		return host
	}
	if strings.HasPrefix(raw, "[") && strings.HasSuffix(raw, "]") {
		return raw[1 : len(raw)-1]
	}
	if i := strings.IndexAny(raw, "/?#"); i >= 0 {
		raw = raw[:i]
	}
	return raw
}
