// Package backend is the client for the trusted backend proxy. The proxy
// holds provider credentials; this client only ever sees session tokens and
// SDP payloads.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/visagelabs/go-visage/internal/httpc"
	"github.com/visagelabs/go-visage/internal/log"
	"github.com/visagelabs/go-visage/internal/observability"
)

// Sentinel errors for the backend package.
var (
	// ErrTokenFetchFailed indicates the avatar token request did not return 2xx.
	ErrTokenFetchFailed = errors.New("backend: avatar token fetch failed")

	// ErrSignalingExchangeFailed indicates the SDP offer/answer exchange failed.
	ErrSignalingExchangeFailed = errors.New("backend: signaling exchange failed")

	// ErrMalformedAnswer indicates the proxy reported success but returned
	// no answer SDP.
	ErrMalformedAnswer = errors.New("backend: signaling answer missing sdp")
)

// Proxy endpoint paths.
const (
	tokenPath     = "/api/avatar/token"
	terminatePath = "/api/avatar/stop"
	offerPath     = "/api/voice/offer"
)

// TokenResponse carries a fresh avatar session grant.
type TokenResponse struct {
	SessionID    string `json:"sessionId"`
	SessionToken string `json:"sessionToken"`
}

// offerRequest is the signaling exchange request body.
type offerRequest struct {
	SDP string `json:"sdp"`
}

// offerResponse is the signaling exchange response envelope.
type offerResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    *struct {
		SDP string `json:"sdp"`
	} `json:"data,omitempty"`
}

// terminateRequest is the avatar termination request body.
type terminateRequest struct {
	SessionID string `json:"sessionId"`
}

// Client talks to the backend proxy.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a proxy client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    httpc.Client,
	}
}

// FetchAvatarToken requests a fresh avatar session grant. Any non-2xx
// response is a hard failure.
func (c *Client) FetchAvatarToken(ctx context.Context) (TokenResponse, error) {
	var tok TokenResponse

	resp, err := httpc.Post(ctx, c.baseURL+tokenPath, "application/json", nil)
	if err != nil {
		return tok, fmt.Errorf("%w: %v", ErrTokenFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return tok, fmt.Errorf("%w: status %d", ErrTokenFetchFailed, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return tok, fmt.Errorf("%w: decode: %v", ErrTokenFetchFailed, err)
	}
	if tok.SessionID == "" || tok.SessionToken == "" {
		return tok, fmt.Errorf("%w: incomplete grant", ErrTokenFetchFailed)
	}
	return tok, nil
}

// ExchangeSDP posts the local offer and returns the remote answer SDP.
// A success envelope without an answer is itself an error.
func (c *Client) ExchangeSDP(ctx context.Context, offerSDP string) (string, error) {
	body, err := json.Marshal(offerRequest{SDP: offerSDP})
	if err != nil {
		return "", fmt.Errorf("%w: marshal: %v", ErrSignalingExchangeFailed, err)
	}

	start := time.Now()
	resp, err := httpc.Post(ctx, c.baseURL+offerPath, "application/json", body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSignalingExchangeFailed, err)
	}
	defer resp.Body.Close()
	observability.RecordSignalingLatency(time.Since(start))

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read: %v", ErrSignalingExchangeFailed, err)
	}

	var env offerResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrSignalingExchangeFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 || !env.Success {
		msg := env.Message
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return "", fmt.Errorf("%w: %s", ErrSignalingExchangeFailed, msg)
	}

	if env.Data == nil || env.Data.SDP == "" {
		return "", ErrMalformedAnswer
	}
	return env.Data.SDP, nil
}

// TerminateAvatarSession asks the proxy to stop the remote avatar session.
// Callers on cleanup paths log the returned error and continue; it is never
// a reason to abort sibling cleanup steps.
func (c *Client) TerminateAvatarSession(ctx context.Context, sessionID string) error {
	body, err := json.Marshal(terminateRequest{SessionID: sessionID})
	if err != nil {
		return fmt.Errorf("backend: marshal terminate: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+terminatePath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("backend: build terminate: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend: terminate: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("backend: terminate: status %d", resp.StatusCode)
	}
	return nil
}

// TerminateAvatarSessionAsync fires the termination request without waiting.
// This is the delivery used by process-unload cleanup, where blocking on the
// network would stall shutdown. The returned channel closes when the attempt
// finishes.
func (c *Client) TerminateAvatarSessionAsync(sessionID string) <-chan struct{} {
	body, err := json.Marshal(terminateRequest{SessionID: sessionID})
	if err != nil {
		logger := log.With("backend")
		logger.Warn().Err(err).Msg("marshal async terminate")
		done := make(chan struct{})
		close(done)
		return done
	}
	return httpc.SendBeacon(c.baseURL+terminatePath, "application/json", body)
}
