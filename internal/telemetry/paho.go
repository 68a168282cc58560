package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// DefaultPort is the MQTT-over-TLS port
const DefaultPort = 8883

// PahoConfig holds broker connection settings
type PahoConfig struct {
	Endpoint       string
	Port           int
	ClientID       string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	TLS            *tls.Config
}

// DefaultPahoConfig returns the default connection settings
func DefaultPahoConfig() PahoConfig {
	return PahoConfig{
		Port:           DefaultPort,
		KeepAlive:      5 * time.Second,
		ConnectTimeout: 10 * time.Second,
	}
}

// LoadTLSConfig builds a mutual-TLS config from PEM files
func LoadTLSConfig(certFile, keyFile, caFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	caPEM, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read root CA: %w", err)
	}
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no certificates found in %s", caFile)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      roots,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// PahoDialer opens sessions with the Eclipse Paho client
type PahoDialer struct {
	config PahoConfig
}

// NewPahoDialer creates a dialer
func NewPahoDialer(config PahoConfig) *PahoDialer {
	return &PahoDialer{config: config}
}

// BrokerURL returns the ssl:// URL of the broker
func (d *PahoDialer) BrokerURL() string {
	port := d.config.Port
	if port == 0 {
		port = DefaultPort
	}
	return fmt.Sprintf("ssl://%s:%d", d.config.Endpoint, port)
}

func (d *PahoDialer) clientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(d.BrokerURL())
	opts.SetClientID(d.config.ClientID)
	opts.SetTLSConfig(d.config.TLS)
	opts.SetKeepAlive(d.config.KeepAlive)
	opts.SetConnectTimeout(d.config.ConnectTimeout)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetCleanSession(true)
	return opts
}

// connect opens a client, giving up when ctx is done
func (d *PahoDialer) connect(ctx context.Context, opts *mqtt.ClientOptions) (mqtt.Client, error) {
	if d.config.Endpoint == "" {
		return nil, errors.New("broker endpoint is not configured")
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", d.BrokerURL(), err)
		}
	case <-ctx.Done():
		client.Disconnect(0)
		return nil, ctx.Err()
	}
	return client, nil
}

// Dial implements Dialer
func (d *PahoDialer) Dial(ctx context.Context) (Session, error) {
	sess := &pahoSession{events: make(chan Event, 8)}

	opts := d.clientOptions()
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		sess.emit(Event{Kind: EventError, Err: fmt.Errorf("connection lost: %w", err)})
	})

	client, err := d.connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	sess.client = client
	return sess, nil
}

// Watch subscribes to topic and calls fn with every link received until ctx is done
func (d *PahoDialer) Watch(ctx context.Context, topic string, fn func(link string, err error)) error {
	client, err := d.connect(ctx, d.clientOptions())
	if err != nil {
		return err
	}
	defer client.Disconnect(uint(disconnectQuiesce.Milliseconds()))

	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		fn(ParseLinkMessage(msg.Payload()))
	})
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	<-ctx.Done()
	return nil
}

// pahoSession turns publish tokens into session events
type pahoSession struct {
	client mqtt.Client
	events chan Event
}

func (s *pahoSession) Publish(topic string, payload []byte) error {
	if !s.client.IsConnected() {
		return errors.New("not connected")
	}

	token := s.client.Publish(topic, 0, false, payload)
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			s.emit(Event{Kind: EventError, Topic: topic, Err: err})
			return
		}
		s.emit(Event{Kind: EventSent, Topic: topic})
	}()
	return nil
}

func (s *pahoSession) Events() <-chan Event {
	return s.events
}

func (s *pahoSession) Disconnect(quiesce time.Duration) {
	s.client.Disconnect(uint(quiesce.Milliseconds()))
}

// emit never blocks; nobody reads events after the publisher has its answer
func (s *pahoSession) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}
