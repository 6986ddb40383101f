// Package httpsrc implements an HTTP(S)-backed source with retry/backoff for
// transient fetch failures. It is intended for pulling extracts published at
// stable URLs; the retry budget covers flaky networks, not missing objects.
package httpsrc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Remote is an HTTP source for one URL.
type Remote struct {
	url    string
	client *http.Client

	// MaxRetries bounds retry attempts after the initial request.
	MaxRetries int
}

// NewRemote returns a Remote source for url. timeout applies per request;
// zero means 30s.
func NewRemote(url string, timeout time.Duration) *Remote {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Remote{
		url:        url,
		client:     &http.Client{Timeout: timeout},
		MaxRetries: 3,
	}
}

// Name returns the bound URL.
func (r *Remote) Name() string { return r.url }

// Open fetches the URL and returns the response body. 5xx responses and
// transport errors are retried with exponential backoff; 4xx responses fail
// immediately since retrying cannot help.
func (r *Remote) Open(ctx context.Context) (io.ReadCloser, error) {
	var body io.ReadCloser

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := r.client.Do(req)
		if err != nil {
			return err
		}
		switch {
		case resp.StatusCode == http.StatusOK:
			body = resp.Body
			return nil
		case resp.StatusCode >= 500:
			resp.Body.Close()
			return fmt.Errorf("fetch %s: %s", r.url, resp.Status)
		default:
			resp.Body.Close()
			return backoff.Permanent(fmt.Errorf("fetch %s: %s", r.url, resp.Status))
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.MaxRetries)), ctx))
	if err != nil {
		return nil, err
	}
	return body, nil
}
