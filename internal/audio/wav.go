package audio

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
)

const wavHeaderSize = 44

// WAVWriter appends raw PCM to a scratch file while a capture is live. The
// RIFF header depends on the total data length, so a placeholder is written up
// front and patched once in Finalize.
type WAVWriter struct {
	mu         sync.Mutex
	f          *os.File
	path       string
	sampleRate int
	channels   int
	dataLen    uint32
	closed     bool
}

func NewWAVWriter(path string, sampleRate, channels int) (*WAVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create scratch file: %w", err)
	}

	if _, err := f.Write(make([]byte, wavHeaderSize)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("reserve header: %w", err)
	}

	return &WAVWriter{
		f:          f,
		path:       path,
		sampleRate: sampleRate,
		channels:   channels,
	}, nil
}

func (w *WAVWriter) Path() string {
	return w.path
}

func (w *WAVWriter) BytesWritten() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return int(w.dataLen)
}

// WritePCM appends 16-bit little-endian PCM bytes.
func (w *WAVWriter) WritePCM(pcm []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("wav writer closed")
	}
	n, err := w.f.Write(pcm)
	w.dataLen += uint32(n)
	if err != nil {
		return fmt.Errorf("append pcm: %w", err)
	}
	return nil
}

// Finalize patches the header with the real lengths and closes the file,
// leaving a container playable by a standard decoder. Returns the file path.
func (w *WAVWriter) Finalize() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return w.path, nil
	}
	w.closed = true

	header := buildWAVHeader(w.sampleRate, w.channels, w.dataLen)
	if _, err := w.f.WriteAt(header, 0); err != nil {
		w.f.Close()
		return "", fmt.Errorf("write header: %w", err)
	}
	if err := w.f.Close(); err != nil {
		return "", fmt.Errorf("close scratch file: %w", err)
	}
	return w.path, nil
}

// Discard closes and removes the scratch file. Safe to call more than once.
func (w *WAVWriter) Discard() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		w.f.Close()
	}
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func buildWAVHeader(sampleRate, channels int, dataLen uint32) []byte {
	const bitsPerSample = 16

	byteRate := uint32(sampleRate * channels * bitsPerSample / 8)
	blockAlign := uint16(channels * bitsPerSample / 8)

	h := make([]byte, wavHeaderSize)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], 36+dataLen)
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(h[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:32], byteRate)
	binary.LittleEndian.PutUint16(h[32:34], blockAlign)
	binary.LittleEndian.PutUint16(h[34:36], uint16(bitsPerSample))
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], dataLen)
	return h
}

// EncodeWAV wraps a PCM buffer in a WAV container in memory. The polling
// uploader uses it to ship the accumulated segment as a single payload.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	header := buildWAVHeader(sampleRate, channels, uint32(len(pcm)))
	out := make([]byte, 0, len(header)+len(pcm))
	out = append(out, header...)
	return append(out, pcm...)
}
