package audio

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const wavHeaderSize = 44

// WAVSink streams PCM-16 mono audio into a WAV file. It is used as the
// chunker's best-effort recording tee: the header is written up front with
// zero sizes and patched on Close once the data length is known.
type WAVSink struct {
	file       *os.File
	sampleRate int
	dataBytes  uint32
}

// NewWAVSink creates a timestamped recording file inside dir
func NewWAVSink(dir string, sampleRate int) (*WAVSink, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recording directory: %w", err)
	}

	name := fmt.Sprintf("recording_%s.wav", time.Now().Format("20060102_150405"))
	file, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("failed to create recording file: %w", err)
	}

	sink := &WAVSink{file: file, sampleRate: sampleRate}
	if err := sink.writeHeader(); err != nil {
		file.Close()
		return nil, err
	}
	return sink, nil
}

// Write appends raw PCM-16 bytes to the recording
func (s *WAVSink) Write(p []byte) (int, error) {
	n, err := s.file.Write(p)
	s.dataBytes += uint32(n)
	return n, err
}

// Path returns the recording file path
func (s *WAVSink) Path() string {
	return s.file.Name()
}

// Close patches the RIFF and data chunk sizes and closes the file
func (s *WAVSink) Close() error {
	if err := s.patchSizes(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

func (s *WAVSink) writeHeader() error {
	numChannels := uint16(1)    // Mono
	bitsPerSample := uint16(16) // 16-bit PCM

	header := make([]byte, 0, wavHeaderSize)
	header = append(header, 'R', 'I', 'F', 'F')
	header = binary.LittleEndian.AppendUint32(header, 0) // Patched on Close
	header = append(header, 'W', 'A', 'V', 'E')
	header = append(header, 'f', 'm', 't', ' ')
	header = binary.LittleEndian.AppendUint32(header, 16) // PCM subchunk size
	header = binary.LittleEndian.AppendUint16(header, 1)  // PCM format
	header = binary.LittleEndian.AppendUint16(header, numChannels)
	header = binary.LittleEndian.AppendUint32(header, uint32(s.sampleRate))
	header = binary.LittleEndian.AppendUint32(header, uint32(s.sampleRate)*uint32(numChannels)*uint32(bitsPerSample)/8)
	header = binary.LittleEndian.AppendUint16(header, numChannels*bitsPerSample/8)
	header = binary.LittleEndian.AppendUint16(header, bitsPerSample)
	header = append(header, 'd', 'a', 't', 'a')
	header = binary.LittleEndian.AppendUint32(header, 0) // Patched on Close

	_, err := s.file.Write(header)
	return err
}

func (s *WAVSink) patchSizes() error {
	riffSize := make([]byte, 4)
	binary.LittleEndian.PutUint32(riffSize, 36+s.dataBytes)
	if _, err := s.file.WriteAt(riffSize, 4); err != nil {
		return fmt.Errorf("failed to patch RIFF size: %w", err)
	}

	dataSize := make([]byte, 4)
	binary.LittleEndian.PutUint32(dataSize, s.dataBytes)
	if _, err := s.file.WriteAt(dataSize, 40); err != nil {
		return fmt.Errorf("failed to patch data size: %w", err)
	}
	return nil
}
