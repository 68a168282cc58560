package recording

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tdu-cpslab/volp/internal/audio"
	"github.com/tdu-cpslab/volp/internal/clock"
	"github.com/tdu-cpslab/volp/internal/sink"
)

// State represents the current recording state
type State int

const (
	// Idle means not recording
	Idle State = iota
	// Recording means currently recording audio
	Recording
	// Processing means the stream is stopping and the file is being finalized
	Processing
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Recording:
		return "Recording"
	case Processing:
		return "Processing"
	default:
		return "Unknown"
	}
}

// ErrBusy is returned by Start while another capture is in progress
var ErrBusy = errors.New("recorder busy")

// Config holds configuration for the recorder
type Config struct {
	// MaxDuration caps a single capture; zero disables the cap
	MaxDuration time.Duration
	Clock       clock.Clock
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		MaxDuration: 10 * time.Minute,
		Clock:       clock.Real(),
	}
}

// Recorder runs one capture at a time against an audio driver
type Recorder struct {
	state       State
	driver      audio.AudioDriver
	maxDuration time.Duration
	clock       clock.Clock
	mu          sync.Mutex
}

// Handle identifies a running capture
type Handle struct {
	buf     *sink.CaptureBuffer
	stream  audio.Stream
	started time.Time
}

// Result describes a finalized capture
type Result struct {
	Path     string
	Bytes    int64
	Samples  int64
	Dropped  int64
	Duration time.Duration
}

// New creates a new recorder
func New(driver audio.AudioDriver, config Config) *Recorder {
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Recorder{
		state:       Idle,
		driver:      driver,
		maxDuration: config.MaxDuration,
		clock:       clk,
	}
}

// Start opens an input stream bound to buf and starts it
func (r *Recorder) Start(cfg audio.Config, buf *sink.CaptureBuffer) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Idle {
		return nil, fmt.Errorf("%w (current state: %s)", ErrBusy, r.state)
	}

	stream, err := r.driver.OpenInput(cfg, buf)
	if err != nil {
		return nil, err
	}

	started := r.clock.Now()
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, err
	}

	r.state = Recording
	return &Handle{buf: buf, stream: stream, started: started}, nil
}

// Stop stops the stream and finalizes the buffer
func (r *Recorder) Stop(h *Handle) (Result, error) {
	r.mu.Lock()
	if r.state != Recording {
		state := r.state
		r.mu.Unlock()
		return Result{}, fmt.Errorf("not recording (current state: %s)", state)
	}
	r.state = Processing
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.state = Idle
		r.mu.Unlock()
	}()

	duration := r.clock.Now().Sub(h.started)

	// The file is finalized even when the stream refuses to stop
	stopErr := h.stream.Stop()
	closeErr := h.stream.Close()
	size, finalizeErr := h.buf.Finalize()

	result := Result{
		Path:     h.buf.Path(),
		Bytes:    size,
		Samples:  h.buf.Samples(),
		Dropped:  h.buf.Dropped(),
		Duration: duration,
	}

	switch {
	case finalizeErr != nil:
		return result, finalizeErr
	case stopErr != nil:
		return result, stopErr
	default:
		return result, closeErr
	}
}

// State returns the current recording state
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Record captures into path until gate returns.
// The capture is stopped and finalized even when the gate fails.
func (r *Recorder) Record(ctx context.Context, cfg audio.Config, path string, gate Gate) (Result, error) {
	buf, err := sink.Create(path, cfg.Format())
	if err != nil {
		return Result{}, err
	}

	h, err := r.Start(cfg, buf)
	if err != nil {
		buf.Finalize()
		os.Remove(path)
		return Result{}, err
	}

	waitErr := r.wait(ctx, gate)

	result, err := r.Stop(h)
	if waitErr != nil {
		return result, waitErr
	}
	return result, err
}

// wait runs gate, cutting it short once maxDuration elapses
func (r *Recorder) wait(ctx context.Context, gate Gate) error {
	if r.maxDuration <= 0 {
		return gate.Wait(ctx)
	}

	gateCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-r.clock.After(r.maxDuration):
			cancel()
		case <-gateCtx.Done():
		}
	}()

	err := gate.Wait(gateCtx)
	if err != nil && ctx.Err() == nil && gateCtx.Err() != nil {
		// Capped at maxDuration
		return nil
	}
	return err
}
