// Package httpc provides a shared HTTP client with sensible defaults.
// Use this instead of http.DefaultClient to ensure timeouts are set.
package httpc

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"time"

	"github.com/visagelabs/go-visage/internal/log"
)

// Default timeouts for HTTP operations.
const (
	DefaultTimeout         = 30 * time.Second
	DefaultConnectTimeout  = 10 * time.Second
	DefaultKeepAlive       = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second

	// BeaconTimeout bounds fire-and-forget requests so an abandoned
	// termination call cannot outlive process shutdown by much.
	BeaconTimeout = 3 * time.Second
)

// Client is a shared HTTP client with production-ready defaults.
// Use this instead of http.DefaultClient.
var Client = NewClient(DefaultTimeout)

// beaconClient is a short-timeout client for fire-and-forget delivery.
var beaconClient = NewClient(BeaconTimeout)

// NewClient creates a new HTTP client with the specified timeout.
// For most cases, use the shared Client variable instead.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   DefaultConnectTimeout,
				KeepAlive: DefaultKeepAlive,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       DefaultIdleConnTimeout,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// Do performs an HTTP request with the shared client.
func Do(req *http.Request) (*http.Response, error) {
	return Client.Do(req)
}

// Post performs an HTTP POST with the shared client.
func Post(ctx context.Context, url, contentType string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return Client.Do(req)
}

// SendBeacon fires a POST without waiting for the result. It is the
// delivery primitive for cleanup paths that must not block: the request
// runs on its own goroutine with a short timeout and failures are only
// logged. The returned channel closes when the attempt finishes, which
// tests and shutdown hooks may wait on.
func SendBeacon(url, contentType string, body []byte) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		logger := log.With("httpc")
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			logger.Warn().Err(err).Str("url", url).Msg("beacon request build failed")
			return
		}
		req.Header.Set("Content-Type", contentType)
		resp, err := beaconClient.Do(req)
		if err != nil {
			logger.Warn().Err(err).Str("url", url).Msg("beacon send failed")
			return
		}
		resp.Body.Close()
	}()
	return done
}
