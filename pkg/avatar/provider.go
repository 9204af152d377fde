// Package avatar manages the rendered avatar session: acquiring short-lived
// credentials, driving the vendor session through a provider adapter, feeding
// it speech audio, and guaranteeing sessions are terminated on every exit
// path including process crashes.
package avatar

import (
	"context"
	"errors"

	"github.com/visagelabs/go-visage/pkg/lifecycle"
)

// Sentinel errors for the avatar package.
var (
	// ErrNotInitialized indicates a speak or interrupt call with no live session.
	ErrNotInitialized = errors.New("avatar: session not initialized")

	// ErrProviderConnectFailed indicates the vendor session could not be
	// established with the granted credentials.
	ErrProviderConnectFailed = errors.New("avatar: provider connect failed")
)

// Credentials are the short-lived grant used to open a provider session.
// The token never touches the vendor API key, which stays on the proxy.
type Credentials struct {
	SessionID    string
	SessionToken string
}

// VideoSink receives the rendered avatar media once the provider reports its
// stream ready. Implementations hand the stream to a player, recorder, or
// frontend.
type VideoSink interface {
	// Attach is called with the provider's playable stream locator.
	Attach(streamURL string) error
}

// Provider is the vendor session adapter. Implementations wrap a concrete
// avatar vendor SDK or wire protocol; the controller stays vendor-neutral.
type Provider interface {
	// Start opens the vendor session with the given grant. Listeners must
	// already be attached so no early event is lost.
	Start(ctx context.Context, creds Credentials) error

	// Stop closes the vendor session. Safe to call on a dead session.
	Stop() error

	// Attach hands the rendered stream to the sink. Only valid once the
	// stream-ready event has fired.
	Attach(sink VideoSink) error

	// Repeat makes the avatar speak the given text verbatim.
	Repeat(text string) error

	// SpeakAudio feeds one base64 PCM16 chunk into the avatar's speech input.
	SpeakAudio(chunk string) error

	// Interrupt cuts off in-progress avatar speech.
	Interrupt() error

	// Event listeners. Attach before Start.
	OnStateChange(fn func(state lifecycle.State))
	OnStreamReady(fn func())
	OnSpeakStarted(fn func())
	OnSpeakEnded(fn func())
	OnDisconnected(fn func(reason string))
	OnError(fn func(err error))
}
