package gridfeed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	ErrRequest = errors.New("error making feed request")
	ErrStatus  = errors.New("error status from feed")
)

const maxFeedBody = 4 << 20

// Downloader fetches feed documents over HTTP.
type Downloader struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
}

func NewDownloader(client *http.Client, timeout time.Duration) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Downloader{
		client:    client,
		timeout:   timeout,
		userAgent: "currentcost-livedata/1.0",
	}
}

// Get returns the body of url. Non-200 responses wrap ErrStatus.
func (d *Downloader) Get(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequest, err)
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: got %d", ErrStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read feed body: %w", err)
	}
	return body, nil
}
