package audio

import "fmt"

// Device represents an audio input device
type Device struct {
	ID        int
	Name      string
	IsDefault bool
	Channels  int
	Rate      float64
}

// LatencyMode defines the latency priority
type LatencyMode int

const (
	// LowLatency prioritizes low latency (real-time)
	LowLatency LatencyMode = iota
	// HighStability prioritizes stability (larger buffer)
	HighStability
)

// SampleType is the native sample representation requested from the device
type SampleType int

const (
	// Float32 delivers frames as []float32 in [-1.0, 1.0]
	Float32 SampleType = iota
	// Int32 delivers frames as full-scale []int32
	Int32
)

// String returns the string representation of the sample type
func (t SampleType) String() string {
	switch t {
	case Float32:
		return "float32"
	case Int32:
		return "int32"
	default:
		return "unknown"
	}
}

// ParseSampleType converts a config string into a SampleType
func ParseSampleType(s string) (SampleType, error) {
	switch s {
	case "", "float32":
		return Float32, nil
	case "int32":
		return Int32, nil
	default:
		return Float32, fmt.Errorf("unsupported sample type: %q", s)
	}
}

// BitsPerSample is the only bit depth the recorder persists.
// The storage service only plays back signed 16-bit PCM.
const BitsPerSample = 16

// Format describes the persisted container format
type Format struct {
	Channels      int
	SampleRate    int
	BitsPerSample int
}

// Validate checks the format against what the WAV writer accepts
func (f Format) Validate() error {
	if f.Channels <= 0 {
		return fmt.Errorf("invalid channel count: %d", f.Channels)
	}
	if f.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", f.SampleRate)
	}
	if f.BitsPerSample != BitsPerSample {
		return fmt.Errorf("unsupported bits per sample: %d (only signed 16-bit PCM is stored)", f.BitsPerSample)
	}
	return nil
}

// Config holds audio configuration
type Config struct {
	DeviceID        int
	SampleRate      int
	Channels        int
	Latency         LatencyMode
	SampleType      SampleType
	FramesPerBuffer int
}

// DefaultConfig returns the default audio configuration
// Sample rate: 44.1kHz
// Channels: 1 (mono)
// Latency: HighStability
func DefaultConfig() Config {
	return Config{
		DeviceID:        -1, // -1 means use default device
		SampleRate:      44100,
		Channels:        1,
		Latency:         HighStability,
		SampleType:      Float32,
		FramesPerBuffer: 1024,
	}
}

// Format returns the container format recorded with this configuration
func (c Config) Format() Format {
	return Format{
		Channels:      c.Channels,
		SampleRate:    c.SampleRate,
		BitsPerSample: BitsPerSample,
	}
}

// FrameWriter receives frames from the hardware callback.
// Implementations must not block.
type FrameWriter interface {
	WriteFloat32(frame []float32) bool
	WriteInt32(frame []int32) bool
}

// Stream is an opened input stream bound to a FrameWriter
type Stream interface {
	// Start begins delivering frames to the writer
	Start() error

	// Stop halts frame delivery
	Stop() error

	// Close releases the stream
	Close() error
}

// AudioDriver is the interface for audio input
// This abstraction keeps PortAudio out of the recording and control code
type AudioDriver interface {
	// ListDevices returns a list of available audio input devices
	ListDevices() ([]Device, error)

	// OpenInput opens an input stream that delivers frames to w
	OpenInput(config Config, w FrameWriter) (Stream, error)

	// Close releases all resources
	Close() error
}
