// Package telemetry broadcasts shareable links to subscribers over MQTT.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tdu-cpslab/volp/internal/clock"
	"github.com/tdu-cpslab/volp/internal/fault"
)

// DefaultTopic is where links are published
const DefaultTopic = "volp/share/link"

// State represents the publisher state
type State int

const (
	// Idle means no publish is in progress
	Idle State = iota
	// Connecting means the broker session is being opened
	Connecting
	// Publishing means the message was handed to the session and the sent event is awaited
	Publishing
	// Confirmed means the last message was sent
	Confirmed
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Connecting:
		return "Connecting"
	case Publishing:
		return "Publishing"
	case Confirmed:
		return "Confirmed"
	default:
		return "Unknown"
	}
}

// EventKind classifies a session event
type EventKind int

const (
	// EventSent means a publish left the client
	EventSent EventKind = iota
	// EventError means a publish failed
	EventError
)

// Event is reported by a Session after each publish
type Event struct {
	Kind  EventKind
	Topic string
	Err   error
}

// Message is a single telemetry publication
type Message struct {
	Topic   string
	Payload []byte
}

type linkPayload struct {
	Link string `json:"link"`
}

// NewLinkMessage builds the {"link":"<url>"} message.
// HTML escaping is disabled so query strings survive byte-for-byte.
func NewLinkMessage(topic, link string) (Message, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(linkPayload{Link: link}); err != nil {
		return Message{}, err
	}
	return Message{Topic: topic, Payload: bytes.TrimRight(buf.Bytes(), "\n")}, nil
}

// ParseLinkMessage extracts the link from a received payload
func ParseLinkMessage(payload []byte) (string, error) {
	var p linkPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", fmt.Errorf("malformed link payload: %w", err)
	}
	if p.Link == "" {
		return "", fmt.Errorf("payload has no link")
	}
	return p.Link, nil
}

// Session is one open broker connection
type Session interface {
	// Publish hands payload to the client; completion is reported on Events
	Publish(topic string, payload []byte) error

	// Events reports the outcome of each publish
	Events() <-chan Event

	// Disconnect closes the session after waiting up to quiesce for in-flight work
	Disconnect(quiesce time.Duration)
}

// Dialer opens broker sessions
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// Config holds publisher configuration
type Config struct {
	// AckTimeout bounds the wait for the sent event
	AckTimeout time.Duration
	// GracePeriod keeps a successful session open before disconnecting
	GracePeriod time.Duration
	Clock       clock.Clock
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		AckTimeout:  30 * time.Second,
		GracePeriod: 10 * time.Second,
		Clock:       clock.Real(),
	}
}

const disconnectQuiesce = 250 * time.Millisecond

// Publisher opens a session per message and waits for it to be sent
type Publisher struct {
	dialer      Dialer
	ackTimeout  time.Duration
	gracePeriod time.Duration
	clock       clock.Clock

	mu        sync.Mutex
	state     State
	wg        sync.WaitGroup
	closing   chan struct{}
	closeOnce sync.Once
}

// New creates a new publisher
func New(dialer Dialer, config Config) *Publisher {
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	ack := config.AckTimeout
	if ack <= 0 {
		ack = DefaultConfig().AckTimeout
	}
	return &Publisher{
		dialer:      dialer,
		ackTimeout:  ack,
		gracePeriod: config.GracePeriod,
		clock:       clk,
		state:       Idle,
		closing:     make(chan struct{}),
	}
}

// State returns the current publisher state
func (p *Publisher) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Publisher) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Publish sends msg once and returns after the session reports it sent
func (p *Publisher) Publish(ctx context.Context, msg Message) error {
	p.setState(Connecting)

	sess, err := p.dialer.Dial(ctx)
	if err != nil {
		p.setState(Idle)
		return fault.New(fault.TelemetryFailure, "telemetry.connect", err)
	}

	p.setState(Publishing)

	if err := sess.Publish(msg.Topic, msg.Payload); err != nil {
		sess.Disconnect(0)
		p.setState(Idle)
		return fault.New(fault.TelemetryFailure, "telemetry.publish", err)
	}

	if err := p.awaitSent(ctx, sess, msg.Topic); err != nil {
		sess.Disconnect(0)
		p.setState(Idle)
		return err
	}

	p.setState(Confirmed)

	p.wg.Add(1)
	go p.linger(sess)

	return nil
}

// awaitSent polls the session events until topic is reported sent
func (p *Publisher) awaitSent(ctx context.Context, sess Session, topic string) error {
	timeout := p.clock.After(p.ackTimeout)
	events := sess.Events()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return fault.Errorf(fault.TelemetryFailure, "telemetry.ack", "session closed before %s was sent", topic)
			}
			switch ev.Kind {
			case EventSent:
				if ev.Topic == topic {
					return nil
				}
			case EventError:
				return fault.New(fault.TelemetryFailure, "telemetry.ack", ev.Err)
			}
		case <-timeout:
			return fault.Errorf(fault.TelemetryFailure, "telemetry.ack", "no send confirmation for %s within %v", topic, p.ackTimeout)
		case <-ctx.Done():
			return fault.New(fault.TelemetryFailure, "telemetry.ack", ctx.Err())
		}
	}
}

// linger keeps a confirmed session open for the grace period
func (p *Publisher) linger(sess Session) {
	defer p.wg.Done()

	if p.gracePeriod > 0 {
		select {
		case <-p.clock.After(p.gracePeriod):
		case <-p.closing:
		}
	}
	sess.Disconnect(disconnectQuiesce)
}

// Close cuts pending grace periods short and waits for their sessions to disconnect
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() { close(p.closing) })
	p.wg.Wait()
	return nil
}
