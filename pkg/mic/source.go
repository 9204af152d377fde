// Package mic owns the microphone device stream and its lifecycle: capture,
// mute, and the per-frame pipeline that converts device audio into the wire
// format before handing it to the registered callback.
package mic

import (
	"context"
	"errors"
)

// Sentinel errors for the mic package.
var (
	// ErrPermissionDenied indicates the user or OS refused microphone access.
	ErrPermissionDenied = errors.New("mic: permission denied")

	// ErrDeviceUnavailable indicates no usable capture device was found.
	ErrDeviceUnavailable = errors.New("mic: device unavailable")

	// ErrNotCapturing indicates an operation that needs an active capture.
	ErrNotCapturing = errors.New("mic: not capturing")
)

// Frame is a fixed-size block of interleaved float samples straight off the
// device, at the device's rate and channel count. Frames are transient and
// never persisted.
type Frame struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Source captures audio from a microphone or other input device. Device
// acquisition requests mono audio with echo cancellation, noise suppression,
// and auto gain where the platform supports those constraints.
type Source interface {
	// Start begins capture. Failures are classified as ErrPermissionDenied
	// or ErrDeviceUnavailable where the platform allows telling them apart.
	Start(ctx context.Context) error

	// Stop halts capture. Safe to call multiple times.
	Stop() error

	// Read returns the next frame, blocking until one is available.
	// Returns io.EOF after Stop.
	Read(ctx context.Context) (Frame, error)

	// SampleRate returns the device capture rate in Hz.
	SampleRate() int

	// Channels returns the device channel count.
	Channels() int
}
