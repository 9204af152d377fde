package mic

import (
	"context"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/visagelabs/go-visage/internal/log"
	"github.com/visagelabs/go-visage/pkg/audio"
)

const (
	cmdSampleRate = 48000
	cmdChannels   = 1
	cmdFrameMs    = 20
)

// CmdSource captures audio by running a recorder process (arecord on Linux)
// and reading raw little-endian PCM16 from its stdout. It avoids a cgo audio
// dependency at the cost of requiring the recorder binary on the host.
type CmdSource struct {
	device string
	logger zerolog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	running bool
}

// NewCmdSource creates a command-backed capture source. device is the ALSA
// device name; empty selects the default device.
func NewCmdSource(device string) *CmdSource {
	return &CmdSource{
		device: device,
		logger: log.With("mic-cmd"),
	}
}

// Start implements Source.
func (s *CmdSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	device := s.device
	if device == "" {
		device = "default"
	}

	path, err := exec.LookPath("arecord")
	if err != nil {
		return ErrDeviceUnavailable
	}

	cmd := exec.Command(path,
		"-D", device,
		"-f", "S16_LE",
		"-r", strconv.Itoa(cmdSampleRate),
		"-c", strconv.Itoa(cmdChannels),
		"-t", "raw",
		"-q",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return ErrDeviceUnavailable
	}
	if err := cmd.Start(); err != nil {
		return ErrDeviceUnavailable
	}

	s.cmd = cmd
	s.stdout = stdout
	s.running = true
	s.logger.Info().Str("device", device).Msg("recorder started")
	return nil
}

// Stop implements Source.
func (s *CmdSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false

	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
		s.cmd.Wait()
	}
	s.cmd = nil
	s.stdout = nil
	return nil
}

// Read implements Source. It blocks until one full frame arrives; io.EOF is
// returned after Stop or when the recorder process exits.
func (s *CmdSource) Read(ctx context.Context) (Frame, error) {
	s.mu.Lock()
	stdout := s.stdout
	running := s.running
	s.mu.Unlock()

	if !running || stdout == nil {
		return Frame{}, io.EOF
	}

	frameBytes := cmdSampleRate * cmdFrameMs / 1000 * cmdChannels * 2
	buf := make([]byte, frameBytes)
	if _, err := io.ReadFull(stdout, buf); err != nil {
		return Frame{}, io.EOF
	}

	samples := audio.SamplesToFloat(audio.BytesToSamples(buf))
	return Frame{Samples: samples, SampleRate: cmdSampleRate, Channels: cmdChannels}, nil
}

// SampleRate implements Source.
func (s *CmdSource) SampleRate() int { return cmdSampleRate }

// Channels implements Source.
func (s *CmdSource) Channels() int { return cmdChannels }

var _ Source = (*CmdSource)(nil)
