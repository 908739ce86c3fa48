package audio

import (
	"encoding/binary"
	"os"
	"testing"
)

func TestWAVSink_WritesValidFile(t *testing.T) {
	dir := t.TempDir()

	sink, err := NewWAVSink(dir, 16000)
	if err != nil {
		t.Fatalf("NewWAVSink failed: %v", err)
	}

	pcm := make([]byte, 3200) // 100ms at 16kHz PCM16
	for i := range pcm {
		pcm[i] = byte(i)
	}
	if _, err := sink.Write(pcm); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(sink.Path())
	if err != nil {
		t.Fatalf("Failed to read recording: %v", err)
	}

	if len(data) != wavHeaderSize+len(pcm) {
		t.Fatalf("Expected %d bytes, got %d", wavHeaderSize+len(pcm), len(data))
	}

	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Error("Missing RIFF/WAVE magic")
	}

	if got := binary.LittleEndian.Uint32(data[4:8]); got != uint32(36+len(pcm)) {
		t.Errorf("Expected RIFF size %d, got %d", 36+len(pcm), got)
	}
	if got := binary.LittleEndian.Uint32(data[24:28]); got != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", got)
	}
	if got := binary.LittleEndian.Uint16(data[22:24]); got != 1 {
		t.Errorf("Expected mono, got %d channels", got)
	}
	if got := binary.LittleEndian.Uint32(data[40:44]); got != uint32(len(pcm)) {
		t.Errorf("Expected data size %d, got %d", len(pcm), got)
	}
}

func TestWAVSink_InvalidSampleRate(t *testing.T) {
	if _, err := NewWAVSink(t.TempDir(), 0); err == nil {
		t.Error("Expected error for zero sample rate")
	}
}
