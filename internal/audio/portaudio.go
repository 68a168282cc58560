package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/tdu-cpslab/volp/internal/fault"
)

// PortAudioDriver implements AudioDriver using PortAudio
type PortAudioDriver struct {
	mu          sync.Mutex
	streams     map[*portAudioStream]struct{}
	initialized bool
}

// NewPortAudioDriver creates a new PortAudio driver
func NewPortAudioDriver() (*PortAudioDriver, error) {
	// Initialize PortAudio
	if err := portaudio.Initialize(); err != nil {
		return nil, fault.New(fault.DeviceUnavailable, "audio.init", fmt.Errorf("failed to initialize PortAudio: %w", err))
	}

	return &PortAudioDriver{
		streams:     make(map[*portAudioStream]struct{}),
		initialized: true,
	}, nil
}

// ListDevices returns a list of available audio input devices
func (d *PortAudioDriver) ListDevices() ([]Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	defaultInput, err := portaudio.DefaultInputDevice()
	if err != nil {
		// If we can't get the default device, continue without marking any as default
		defaultInput = nil
	}

	var result []Device
	for i, dev := range devices {
		// Only include devices with input channels
		if dev.MaxInputChannels > 0 {
			isDefault := false
			if defaultInput != nil && dev.Name == defaultInput.Name {
				isDefault = true
			}

			result = append(result, Device{
				ID:        i,
				Name:      dev.Name,
				IsDefault: isDefault,
				Channels:  dev.MaxInputChannels,
				Rate:      dev.DefaultSampleRate,
			})
		}
	}

	return result, nil
}

// OpenInput opens an input stream on the configured device.
// Frames are delivered to w from PortAudio's callback thread.
func (d *PortAudioDriver) OpenInput(config Config, w FrameWriter) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return nil, fault.Errorf(fault.DeviceUnavailable, "audio.open", "driver not initialized")
	}

	device, err := resolveDevice(config.DeviceID)
	if err != nil {
		return nil, fault.New(fault.DeviceUnavailable, "audio.open", err)
	}

	// Validate device has input channels
	if device.MaxInputChannels <= 0 {
		return nil, fault.Errorf(fault.DeviceUnavailable, "audio.open",
			"selected device '%s' (ID: %d) has no input channels (output-only device)", device.Name, config.DeviceID)
	}

	// Set latency
	var latency time.Duration
	switch config.Latency {
	case LowLatency:
		latency = device.DefaultLowInputLatency
	default:
		latency = device.DefaultHighInputLatency
	}

	framesPerBuffer := config.FramesPerBuffer
	if framesPerBuffer <= 0 {
		framesPerBuffer = portaudio.FramesPerBufferUnspecified
	}

	// Create stream parameters
	streamParams := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: config.Channels,
			Latency:  latency,
		},
		SampleRate:      float64(config.SampleRate),
		FramesPerBuffer: framesPerBuffer,
	}

	var callback interface{}
	switch config.SampleType {
	case Float32:
		callback = func(in []float32) { w.WriteFloat32(in) }
	case Int32:
		callback = func(in []int32) { w.WriteInt32(in) }
	default:
		return nil, fault.Errorf(fault.FormatRejected, "audio.open", "unsupported sample type: %v", config.SampleType)
	}

	if err := portaudio.IsFormatSupported(streamParams, callback); err != nil {
		return nil, fault.New(fault.FormatRejected, "audio.open",
			fmt.Errorf("device '%s' rejected %d ch / %d Hz / %s: %w", device.Name, config.Channels, config.SampleRate, config.SampleType, err))
	}

	// Open stream
	stream, err := portaudio.OpenStream(streamParams, callback)
	if err != nil {
		return nil, fault.New(fault.FormatRejected, "audio.open", fmt.Errorf("failed to open stream: %w", err))
	}

	s := &portAudioStream{driver: d, stream: stream}
	d.streams[s] = struct{}{}
	return s, nil
}

// resolveDevice returns the default input device for -1, or the device at id
func resolveDevice(id int) (*portaudio.DeviceInfo, error) {
	if id == -1 {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default input device: %w", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	if id < 0 || id >= len(devices) {
		return nil, fmt.Errorf("invalid device ID: %d", id)
	}

	return devices[id], nil
}

// Close releases all resources
func (d *PortAudioDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return nil
	}

	// Close streams the caller forgot about
	for s := range d.streams {
		s.stream.Stop()
		s.stream.Close()
	}
	d.streams = make(map[*portAudioStream]struct{})

	// Terminate PortAudio
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}

	d.initialized = false
	return nil
}

// portAudioStream wraps a PortAudio stream for the Stream interface
type portAudioStream struct {
	driver  *PortAudioDriver
	stream  *portaudio.Stream
	running bool
}

func (s *portAudioStream) Start() error {
	if err := s.stream.Start(); err != nil {
		return fault.New(fault.DeviceUnavailable, "audio.start", fmt.Errorf("failed to start stream: %w", err))
	}
	s.running = true
	return nil
}

func (s *portAudioStream) Stop() error {
	if !s.running {
		return nil
	}
	if err := s.stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop stream: %w", err)
	}
	s.running = false
	return nil
}

func (s *portAudioStream) Close() error {
	s.driver.mu.Lock()
	delete(s.driver.streams, s)
	s.driver.mu.Unlock()

	if err := s.stream.Close(); err != nil {
		return fmt.Errorf("failed to close stream: %w", err)
	}
	return nil
}
