// Package sink persists captured frames into a WAV file.
//
// A CaptureBuffer is shared between two contexts: the audio callback, which
// must never block, and the control goroutine, which finalizes the file.
// Writers take the lock with TryLock and drop the frame on contention;
// Finalize takes it unconditionally.
package sink

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tdu-cpslab/volp/internal/audio"
	"github.com/tdu-cpslab/volp/internal/fault"
)

// wavFormatPCM is the WAVE_FORMAT_PCM tag
const wavFormatPCM = 1

// writeBufferSize holds roughly 0.7 s of mono 44.1 kHz audio
const writeBufferSize = 64 * 1024

// bufferedFile batches encoder writes in memory and flushes before every
// seek, so the header patch in Finalize sees all audio data
type bufferedFile struct {
	file *os.File
	w    *bufio.Writer
}

func newBufferedFile(file *os.File) *bufferedFile {
	return &bufferedFile{file: file, w: bufio.NewWriterSize(file, writeBufferSize)}
}

func (f *bufferedFile) Write(p []byte) (int, error) {
	return f.w.Write(p)
}

func (f *bufferedFile) Seek(offset int64, whence int) (int64, error) {
	if err := f.w.Flush(); err != nil {
		return 0, err
	}
	return f.file.Seek(offset, whence)
}

// Flush writes any buffered data to the file
func (f *bufferedFile) Flush() error {
	return f.w.Flush()
}

type state int

const (
	stateOpen state = iota
	stateFinalized
)

// CaptureBuffer is a WAV file being filled by a capture callback
type CaptureBuffer struct {
	mu     sync.Mutex
	state  state
	path   string
	format audio.Format
	file   *os.File
	out    *bufferedFile
	enc    *wav.Encoder
	pcm    []int16
	buf    *goaudio.IntBuffer
	size   int64
	err    error // first write error; the buffer stops accepting frames after it

	samples atomic.Int64
	dropped atomic.Int64
}

// Create opens path for writing and returns an open CaptureBuffer
func Create(path string, format audio.Format) (*CaptureBuffer, error) {
	if err := format.Validate(); err != nil {
		return nil, fault.New(fault.FormatRejected, "sink.create", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fault.New(fault.IOFailure, "sink.create", fmt.Errorf("failed to create sound directory: %w", err))
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fault.New(fault.IOFailure, "sink.create", fmt.Errorf("failed to create %s: %w", path, err))
	}

	out := newBufferedFile(file)
	return &CaptureBuffer{
		state:  stateOpen,
		path:   path,
		format: format,
		file:   file,
		out:    out,
		enc:    wav.NewEncoder(out, format.SampleRate, format.BitsPerSample, format.Channels, wavFormatPCM),
		pcm:    make([]int16, 0, 4096),
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
			Data:           make([]int, 0, 4096),
			SourceBitDepth: format.BitsPerSample,
		},
	}, nil
}

// WriteFloat32 converts and appends a float32 frame.
// It returns false if the frame was dropped or the buffer no longer accepts frames.
func (b *CaptureBuffer) WriteFloat32(frame []float32) bool {
	if !b.mu.TryLock() {
		b.dropped.Add(1)
		return false
	}
	defer b.mu.Unlock()

	if !b.acceptingLocked() {
		return false
	}
	b.pcm = audio.Float32ToInt16(b.pcm, frame)
	return b.appendLocked()
}

// WriteInt32 converts and appends an int32 frame.
// It returns false if the frame was dropped or the buffer no longer accepts frames.
func (b *CaptureBuffer) WriteInt32(frame []int32) bool {
	if !b.mu.TryLock() {
		b.dropped.Add(1)
		return false
	}
	defer b.mu.Unlock()

	if !b.acceptingLocked() {
		return false
	}
	b.pcm = audio.Int32ToInt16(b.pcm, frame)
	return b.appendLocked()
}

func (b *CaptureBuffer) acceptingLocked() bool {
	return b.state == stateOpen && b.err == nil
}

// appendLocked encodes b.pcm as one whole frame
func (b *CaptureBuffer) appendLocked() bool {
	if len(b.pcm) == 0 {
		return true
	}

	data := b.buf.Data[:0]
	for _, v := range b.pcm {
		data = append(data, int(v))
	}
	b.buf.Data = data

	if err := b.enc.Write(b.buf); err != nil {
		b.err = err
		return false
	}
	b.samples.Add(int64(len(b.pcm)))
	return true
}

// Finalize patches the WAV header, flushes, syncs and closes the file and
// returns its size.
// Calling it again returns the same result.
func (b *CaptureBuffer) Finalize() (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateFinalized {
		if b.err != nil {
			return 0, fault.New(fault.IOFailure, "sink.finalize", b.err)
		}
		return b.size, nil
	}
	b.state = stateFinalized

	if b.err != nil {
		b.file.Close()
		return 0, fault.New(fault.IOFailure, "sink.finalize", fmt.Errorf("write abandoned: %w", b.err))
	}

	// The encoder emits the header on the first Write
	if b.samples.Load() == 0 {
		b.buf.Data = b.buf.Data[:0]
		if err := b.enc.Write(b.buf); err != nil {
			b.err = err
		}
	}

	if b.err == nil {
		if err := b.enc.Close(); err != nil {
			b.err = fmt.Errorf("failed to finalize WAV header: %w", err)
		}
	}

	if b.err == nil {
		if err := b.out.Flush(); err != nil {
			b.err = fmt.Errorf("failed to flush %s: %w", b.path, err)
		} else if err := b.file.Sync(); err != nil {
			b.err = fmt.Errorf("failed to sync %s: %w", b.path, err)
		}
	}

	if err := b.file.Close(); err != nil && b.err == nil {
		b.err = fmt.Errorf("failed to close %s: %w", b.path, err)
	}

	if b.err != nil {
		return 0, fault.New(fault.IOFailure, "sink.finalize", b.err)
	}

	info, err := os.Stat(b.path)
	if err != nil {
		b.err = err
		return 0, fault.New(fault.IOFailure, "sink.finalize", err)
	}
	b.size = info.Size()
	return b.size, nil
}

// Path returns the file path
func (b *CaptureBuffer) Path() string {
	return b.path
}

// Format returns the persisted format
func (b *CaptureBuffer) Format() audio.Format {
	return b.format
}

// Samples returns the number of samples written so far
func (b *CaptureBuffer) Samples() int64 {
	return b.samples.Load()
}

// Dropped returns the number of frames dropped because the lock was busy
func (b *CaptureBuffer) Dropped() int64 {
	return b.dropped.Load()
}
