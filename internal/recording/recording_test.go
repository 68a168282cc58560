package recording

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tdu-cpslab/volp/internal/audio"
	"github.com/tdu-cpslab/volp/internal/fault"
	"github.com/tdu-cpslab/volp/internal/sink"
)

// fakeClock advances by d on every After and fires immediately
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps int
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps++
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

// fakeDriver delivers a fixed number of samples synchronously on Start
type fakeDriver struct {
	samples  int
	openErr  error
	startErr error
	opened   int
}

func (d *fakeDriver) ListDevices() ([]audio.Device, error) {
	return []audio.Device{{ID: 0, Name: "fake", IsDefault: true, Channels: 1, Rate: 44100}}, nil
}

func (d *fakeDriver) OpenInput(config audio.Config, w audio.FrameWriter) (audio.Stream, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	d.opened++
	return &fakeStream{driver: d, config: config, w: w}, nil
}

func (d *fakeDriver) Close() error { return nil }

type fakeStream struct {
	driver  *fakeDriver
	config  audio.Config
	w       audio.FrameWriter
	stopped bool
	closed  bool
}

func (s *fakeStream) Start() error {
	if s.driver.startErr != nil {
		return s.driver.startErr
	}
	const chunk = 1024
	remaining := s.driver.samples
	for remaining > 0 {
		n := chunk
		if remaining < n {
			n = remaining
		}
		switch s.config.SampleType {
		case audio.Int32:
			s.w.WriteInt32(make([]int32, n))
		default:
			s.w.WriteFloat32(make([]float32, n))
		}
		remaining -= n
	}
	return nil
}

func (s *fakeStream) Stop() error {
	s.stopped = true
	return nil
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

type sequenceInput struct {
	mu     sync.Mutex
	levels []bool
	reads  int
}

func (in *sequenceInput) IsActive() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.reads >= len(in.levels) {
		return false
	}
	v := in.levels[in.reads]
	in.reads++
	return v
}

type blockingGate struct{}

func (blockingGate) Wait(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.MaxDuration != 10*time.Minute {
		t.Errorf("Expected MaxDuration 10m, got %v", config.MaxDuration)
	}
	if config.Clock == nil {
		t.Error("Expected a default clock")
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{Idle, "Idle"},
		{Recording, "Recording"},
		{Processing, "Processing"},
		{State(42), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := tt.state.String()
			if result != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestRecord_TimerGate(t *testing.T) {
	clk := newFakeClock()
	driver := &fakeDriver{samples: 132300}
	r := New(driver, Config{Clock: clk})

	path := filepath.Join(t.TempDir(), "sound", "timer.wav")
	result, err := r.Record(context.Background(), audio.DefaultConfig(), path, TimerGate{Duration: 3 * time.Second, Clock: clk})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	if result.Samples != 132300 {
		t.Errorf("Expected 132300 samples, got %d", result.Samples)
	}
	if result.Bytes != 44+132300*2 {
		t.Errorf("Expected %d bytes, got %d", 44+132300*2, result.Bytes)
	}
	if result.Duration != 3*time.Second {
		t.Errorf("Expected 3s duration, got %v", result.Duration)
	}
	if result.Path != path {
		t.Errorf("Expected path %s, got %s", path, result.Path)
	}
	if r.State() != Idle {
		t.Errorf("Expected Idle after Record, got %s", r.State())
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Recorded file missing: %v", err)
	}
	if info.Size() != result.Bytes {
		t.Errorf("File size %d does not match result %d", info.Size(), result.Bytes)
	}
}

func TestRecord_Int32(t *testing.T) {
	clk := newFakeClock()
	r := New(&fakeDriver{samples: 4410}, Config{Clock: clk})

	config := audio.DefaultConfig()
	config.SampleType = audio.Int32

	result, err := r.Record(context.Background(), config, filepath.Join(t.TempDir(), "int.wav"), TimerGate{Clock: clk})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if result.Samples != 4410 {
		t.Errorf("Expected 4410 samples, got %d", result.Samples)
	}
}

func TestRecord_HoldGateStopsOnRelease(t *testing.T) {
	clk := newFakeClock()
	r := New(&fakeDriver{samples: 100}, Config{Clock: clk})
	input := &sequenceInput{levels: []bool{true, true, true, false, true}}

	gate := HoldGate{Input: input, Interval: 100 * time.Millisecond, Clock: clk}
	result, err := r.Record(context.Background(), audio.DefaultConfig(), filepath.Join(t.TempDir(), "hold.wav"), gate)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	if input.reads != 4 {
		t.Errorf("Expected the gate to stop at the first inactive sample (4 reads), got %d", input.reads)
	}
	if result.Duration != 300*time.Millisecond {
		t.Errorf("Expected 300ms duration, got %v", result.Duration)
	}
}

func TestRecord_GateErrorStillFinalizes(t *testing.T) {
	r := New(&fakeDriver{samples: 2048}, Config{Clock: newFakeClock()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	path := filepath.Join(t.TempDir(), "cancelled.wav")
	result, err := r.Record(ctx, audio.DefaultConfig(), path, blockingGate{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}

	if result.Samples != 2048 {
		t.Errorf("Expected 2048 samples, got %d", result.Samples)
	}
	if result.Bytes != 44+2048*2 {
		t.Errorf("Expected finalized file of %d bytes, got %d", 44+2048*2, result.Bytes)
	}
	if r.State() != Idle {
		t.Errorf("Expected Idle, got %s", r.State())
	}
}

func TestRecord_MaxDuration(t *testing.T) {
	clk := newFakeClock()
	r := New(&fakeDriver{samples: 10}, Config{MaxDuration: time.Minute, Clock: clk})

	result, err := r.Record(context.Background(), audio.DefaultConfig(), filepath.Join(t.TempDir(), "capped.wav"), blockingGate{})
	if err != nil {
		t.Fatalf("Expected capped capture to succeed, got %v", err)
	}
	if result.Samples != 10 {
		t.Errorf("Expected 10 samples, got %d", result.Samples)
	}
}

func TestRecord_DeviceUnavailable(t *testing.T) {
	openErr := fault.Errorf(fault.DeviceUnavailable, "audio.open", "no default input device")
	driver := &fakeDriver{openErr: openErr}
	r := New(driver, Config{Clock: newFakeClock()})

	path := filepath.Join(t.TempDir(), "missing.wav")
	_, err := r.Record(context.Background(), audio.DefaultConfig(), path, TimerGate{Clock: newFakeClock()})
	if !errors.Is(err, fault.ErrDeviceUnavailable) {
		t.Fatalf("Expected DeviceUnavailable, got %v", err)
	}

	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Errorf("Expected no file to be left behind, stat returned %v", statErr)
	}
	if r.State() != Idle {
		t.Errorf("Expected Idle, got %s", r.State())
	}
}

func TestStart_RejectsOverlap(t *testing.T) {
	r := New(&fakeDriver{}, Config{Clock: newFakeClock()})
	dir := t.TempDir()

	first, err := sink.Create(filepath.Join(dir, "a.wav"), audio.DefaultConfig().Format())
	if err != nil {
		t.Fatal(err)
	}
	h, err := r.Start(audio.DefaultConfig(), first)
	if err != nil {
		t.Fatalf("First Start failed: %v", err)
	}

	second, err := sink.Create(filepath.Join(dir, "b.wav"), audio.DefaultConfig().Format())
	if err != nil {
		t.Fatal(err)
	}
	defer second.Finalize()

	if _, err := r.Start(audio.DefaultConfig(), second); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy, got %v", err)
	}

	if _, err := r.Stop(h); err != nil {
		t.Errorf("Stop failed: %v", err)
	}

	if _, err := r.Stop(h); err == nil {
		t.Error("Expected second Stop to fail")
	}
}

func TestStart_StreamStartFailure(t *testing.T) {
	startErr := fault.Errorf(fault.DeviceUnavailable, "audio.start", "device unplugged")
	r := New(&fakeDriver{startErr: startErr}, Config{Clock: newFakeClock()})

	buf, err := sink.Create(filepath.Join(t.TempDir(), "c.wav"), audio.DefaultConfig().Format())
	if err != nil {
		t.Fatal(err)
	}
	defer buf.Finalize()

	if _, err := r.Start(audio.DefaultConfig(), buf); !errors.Is(err, fault.ErrDeviceUnavailable) {
		t.Errorf("Expected DeviceUnavailable, got %v", err)
	}
	if r.State() != Idle {
		t.Errorf("Expected Idle, got %s", r.State())
	}
}

func TestHoldGate_Cancelled(t *testing.T) {
	input := &sequenceInput{levels: []bool{true, true, true}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := HoldGate{Input: input, Clock: newFakeClock()}.Wait(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestTimerGate_DefaultDuration(t *testing.T) {
	clk := newFakeClock()
	start := clk.Now()

	if err := (TimerGate{Clock: clk}).Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if elapsed := clk.Now().Sub(start); elapsed != DefaultTimerDuration {
		t.Errorf("Expected %v, got %v", DefaultTimerDuration, elapsed)
	}
}
