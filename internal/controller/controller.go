// Package controller runs the record-upload-notify cycle: it waits on the
// trigger, captures into a WAV file, stores it and publishes the link.
package controller

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/tdu-cpslab/volp/internal/audio"
	"github.com/tdu-cpslab/volp/internal/clock"
	"github.com/tdu-cpslab/volp/internal/fault"
	"github.com/tdu-cpslab/volp/internal/logger"
	"github.com/tdu-cpslab/volp/internal/metrics"
	"github.com/tdu-cpslab/volp/internal/recording"
	"github.com/tdu-cpslab/volp/internal/telemetry"
	"github.com/tdu-cpslab/volp/internal/trigger"
	"github.com/tdu-cpslab/volp/internal/upload"
)

// State represents where the loop is in a cycle
type State int

const (
	StateIdle State = iota
	StateRecording
	StateStoring
	StatePublishing
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateStoring:
		return "storing"
	case StatePublishing:
		return "publishing"
	default:
		return "unknown"
	}
}

// ArtifactName derives the WAV file name from the capture start time
func ArtifactName(t time.Time) string {
	return t.Format("2006-01-02-15-04-05") + ".wav"
}

// Recorder captures audio into a file until the gate returns
type Recorder interface {
	Record(ctx context.Context, cfg audio.Config, path string, gate recording.Gate) (recording.Result, error)
}

// Publisher sends one message and waits for it to leave the client
type Publisher interface {
	Publish(ctx context.Context, msg telemetry.Message) error
}

// Config holds control loop configuration
type Config struct {
	SoundDir     string
	Audio        audio.Config
	PollInterval time.Duration // trigger sampling interval
	Duration     time.Duration // fixed capture length for RunOnce
	Topic        string
	StageTimeout time.Duration // deadline for store and publish; zero disables it
	ExitOnError  bool
	Clock        clock.Clock
}

// DefaultConfig returns the default control loop configuration
func DefaultConfig() Config {
	return Config{
		SoundDir:     "./sound",
		Audio:        audio.DefaultConfig(),
		PollInterval: recording.DefaultHoldInterval,
		Duration:     recording.DefaultTimerDuration,
		Topic:        telemetry.DefaultTopic,
		StageTimeout: 2 * time.Minute,
		Clock:        clock.Real(),
	}
}

// Deps are the collaborators a Loop drives
type Deps struct {
	Trigger   trigger.Input
	Indicator trigger.Output
	Recorder  Recorder
	Store     upload.Store
	Publisher Publisher
	Metrics   *metrics.Metrics
	Logger    *logger.Logger
	// OnPublished is called with each link after it has been sent
	OnPublished func(link string)
}

// Status is a snapshot of the loop for the status API
type Status struct {
	State        string    `json:"state"`
	Cycles       int64     `json:"cycles"`
	Failures     int64     `json:"failures"`
	LastArtifact string    `json:"last_artifact,omitempty"`
	LastLink     string    `json:"last_link,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	LastCycle    time.Time `json:"last_cycle"`
}

// Loop is the control loop
type Loop struct {
	config Config
	deps   Deps
	clock  clock.Clock
	log    *logger.Logger

	mu     sync.Mutex
	state  State
	status Status
}

// New creates a control loop
func New(config Config, deps Deps) *Loop {
	if config.PollInterval <= 0 {
		config.PollInterval = recording.DefaultHoldInterval
	}
	if config.Duration <= 0 {
		config.Duration = recording.DefaultTimerDuration
	}
	if config.Topic == "" {
		config.Topic = telemetry.DefaultTopic
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	if deps.Indicator == nil {
		deps.Indicator = trigger.NopOutput{}
	}
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Loop{
		config: config,
		deps:   deps,
		clock:  clk,
		log:    log,
	}
}

// Run waits for the trigger and runs a cycle on every press.
// It returns nil once ctx is done, or the first cycle error with ExitOnError.
func (l *Loop) Run(ctx context.Context) error {
	l.setIndicator(false)

	for {
		if ctx.Err() != nil {
			return nil
		}

		if !l.deps.Trigger.IsActive() {
			if err := clock.Sleep(ctx, l.clock, l.config.PollInterval); err != nil {
				return nil
			}
			continue
		}

		gate := recording.HoldGate{
			Input:    l.deps.Trigger,
			Interval: l.config.PollInterval,
			Clock:    l.clock,
		}
		if err := l.cycle(ctx, gate); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if l.config.ExitOnError {
				return err
			}
		}

		if err := l.awaitRelease(ctx); err != nil {
			return nil
		}
	}
}

// awaitRelease re-arms the loop only once the trigger has been released,
// so a held trigger starts at most one cycle
func (l *Loop) awaitRelease(ctx context.Context) error {
	for l.deps.Trigger.IsActive() {
		if err := clock.Sleep(ctx, l.clock, l.config.PollInterval); err != nil {
			return err
		}
	}
	return nil
}

// RunOnce runs a single cycle with a fixed capture duration
func (l *Loop) RunOnce(ctx context.Context) error {
	l.setIndicator(false)
	return l.cycle(ctx, recording.TimerGate{Duration: l.config.Duration, Clock: l.clock})
}

// Status returns a snapshot of the loop
func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.status
	s.State = l.state.String()
	return s
}

// cycle runs capture, store and publish once
func (l *Loop) cycle(ctx context.Context, gate recording.Gate) error {
	l.setIndicator(true)
	defer l.setIndicator(false)
	defer l.setState(StateIdle)

	started := l.clock.Now()
	name := ArtifactName(started)
	path := filepath.Join(l.config.SoundDir, name)

	l.setState(StateRecording)
	l.log.Info("Recording started: %s", path)
	result, err := l.deps.Recorder.Record(ctx, l.config.Audio, path, gate)
	l.deps.Metrics.ObserveStage(metrics.StageCapture, l.clock.Now().Sub(started))
	if err != nil {
		return l.fail(metrics.StageCapture, name, err)
	}
	l.deps.Metrics.ObserveCapture(result.Samples, result.Dropped, result.Bytes)
	l.log.Info("Recording finished: %d samples, %d bytes, %v", result.Samples, result.Bytes, result.Duration)
	if result.Dropped > 0 {
		l.log.Warn("Dropped %d frames while the sink was busy", result.Dropped)
	}

	l.setState(StateStoring)
	link, err := l.store(ctx, path, name)
	if err != nil {
		return l.fail(metrics.StageStore, name, err)
	}
	l.log.Info("Stored %s: %s", name, link)

	l.setState(StatePublishing)
	if err := l.publish(ctx, link); err != nil {
		return l.fail(metrics.StagePublish, name, err)
	}
	l.log.Info("Published link on %s", l.config.Topic)

	l.deps.Metrics.CycleSucceeded()
	l.mu.Lock()
	l.status.Cycles++
	l.status.LastArtifact = name
	l.status.LastLink = link
	l.status.LastError = ""
	l.status.LastCycle = started
	l.mu.Unlock()

	if l.deps.OnPublished != nil {
		l.deps.OnPublished(link)
	}
	return nil
}

func (l *Loop) store(ctx context.Context, path, name string) (string, error) {
	ctx, cancel := l.stageContext(ctx)
	defer cancel()

	started := l.clock.Now()
	defer func() { l.deps.Metrics.ObserveStage(metrics.StageStore, l.clock.Now().Sub(started)) }()

	return l.deps.Store.Store(ctx, path, name)
}

func (l *Loop) publish(ctx context.Context, link string) error {
	msg, err := telemetry.NewLinkMessage(l.config.Topic, link)
	if err != nil {
		return fault.New(fault.TelemetryFailure, "telemetry.encode", err)
	}

	ctx, cancel := l.stageContext(ctx)
	defer cancel()

	started := l.clock.Now()
	defer func() { l.deps.Metrics.ObserveStage(metrics.StagePublish, l.clock.Now().Sub(started)) }()

	return l.deps.Publisher.Publish(ctx, msg)
}

func (l *Loop) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.config.StageTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, l.config.StageTimeout)
}

// fail records a stage failure and returns it tagged with the stage
func (l *Loop) fail(stage, name string, err error) error {
	kind := fault.KindOf(err)
	if errors.Is(err, context.Canceled) {
		l.log.Info("Cycle for %s cancelled during %s", name, stage)
	} else {
		l.log.Error("Cycle for %s failed during %s (%s): %v", name, stage, kind, err)
		l.deps.Metrics.CycleFailed(kind)
		l.mu.Lock()
		l.status.Failures++
		l.mu.Unlock()
	}

	l.mu.Lock()
	l.status.LastArtifact = name
	l.status.LastError = err.Error()
	l.mu.Unlock()

	return fault.New(kind, stage, err)
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *Loop) setIndicator(on bool) {
	if err := l.deps.Indicator.Set(on); err != nil {
		l.log.Warn("Failed to set indicator: %v", err)
	}
}
