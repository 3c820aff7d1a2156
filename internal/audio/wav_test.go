package audio

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func TestWAVWriter_FinalizeWritesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.wav")
	w, err := NewWAVWriter(path, StreamSampleRate, 1)
	if err != nil {
		t.Fatalf("NewWAVWriter failed: %v", err)
	}

	pcm := make([]byte, 4800)
	if err := w.WritePCM(pcm); err != nil {
		t.Fatalf("WritePCM failed: %v", err)
	}

	out, err := w.Finalize()
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if out != path {
		t.Errorf("expected path %s, got %s", path, out)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read finalized file: %v", err)
	}
	if len(data) != wavHeaderSize+len(pcm) {
		t.Fatalf("expected %d bytes, got %d", wavHeaderSize+len(pcm), len(data))
	}

	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Error("missing RIFF/WAVE magic")
	}
	if got := binary.LittleEndian.Uint32(data[24:28]); got != StreamSampleRate {
		t.Errorf("expected sample rate %d, got %d", StreamSampleRate, got)
	}
	if got := binary.LittleEndian.Uint32(data[40:44]); got != uint32(len(pcm)) {
		t.Errorf("expected data length %d, got %d", len(pcm), got)
	}
}

func TestWAVWriter_FinalizeIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.wav")
	w, err := NewWAVWriter(path, StreamSampleRate, 1)
	if err != nil {
		t.Fatalf("NewWAVWriter failed: %v", err)
	}
	if _, err := w.Finalize(); err != nil {
		t.Fatalf("first Finalize failed: %v", err)
	}
	if _, err := w.Finalize(); err != nil {
		t.Fatalf("second Finalize should be a no-op, got %v", err)
	}
}

func TestWAVWriter_WriteAfterFinalizeFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.wav")
	w, _ := NewWAVWriter(path, StreamSampleRate, 1)
	w.Finalize()
	if err := w.WritePCM([]byte{0, 0}); err == nil {
		t.Error("WritePCM after Finalize should fail")
	}
}

func TestWAVWriter_Discard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.wav")
	w, _ := NewWAVWriter(path, StreamSampleRate, 1)
	w.WritePCM([]byte{1, 2, 3, 4})

	if err := w.Discard(); err != nil {
		t.Fatalf("Discard failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("scratch file should be removed")
	}

	// Idempotent.
	if err := w.Discard(); err != nil {
		t.Errorf("second Discard should be a no-op, got %v", err)
	}
}

func TestEncodeWAV(t *testing.T) {
	pcm := make([]byte, 100)
	out := EncodeWAV(pcm, 24000, 1)

	if len(out) != wavHeaderSize+100 {
		t.Fatalf("expected %d bytes, got %d", wavHeaderSize+100, len(out))
	}
	if got := binary.LittleEndian.Uint32(out[4:8]); got != 36+100 {
		t.Errorf("expected RIFF size %d, got %d", 36+100, got)
	}
	if got := binary.LittleEndian.Uint16(out[22:24]); got != 1 {
		t.Errorf("expected mono, got %d channels", got)
	}
}

func TestWAVWriter_BytesWritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.wav")
	w, _ := NewWAVWriter(path, StreamSampleRate, 1)
	defer w.Discard()

	w.WritePCM(make([]byte, 240))
	w.WritePCM(make([]byte, 240))
	if w.BytesWritten() != 480 {
		t.Errorf("expected 480 bytes written, got %d", w.BytesWritten())
	}
}
