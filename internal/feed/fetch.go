package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var ErrFetch = errors.New("feed fetch failed")

// maxFeedBytes bounds how much of a feed body is read; external calendar
// feeds are small and anything larger is suspect.
const maxFeedBytes = 8 << 20

// Fetcher retrieves external calendar feed bodies over HTTP. One fetch
// failure is isolated to its listing; the scheduler decides what to do
// with the error.
type Fetcher struct {
	client *http.Client
}

func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Fetcher{
		client: &http.Client{Timeout: timeout},
	}
}

// Fetch downloads a single feed URL and returns its body.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("%w: empty url", ErrFetch)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Join(ErrFetch, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Join(ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrFetch, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, errors.Join(ErrFetch, err)
	}
	return body, nil
}

// RedactURL hides the path and query of a feed URL for logging; feed
// URLs routinely embed access tokens.
func RedactURL(u string) string {
	i := strings.Index(u, "://")
	if i == -1 {
		return "feed://...(redacted)"
	}
	rest := u[i+3:]
	j := strings.IndexByte(rest, '/')
	if j == -1 {
		return u
	}
	return u[:i+3+j] + "/...(redacted)"
}
