package tts

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// audioSink receives little-endian PCM16 chunks for one utterance.
type audioSink interface {
	Write(pcm []byte) error
	Close() error
}

type discardSink struct{}

func (discardSink) Write([]byte) error { return nil }
func (discardSink) Close() error       { return nil }

// wavSink records synthesized audio to <dir>/<utterance id>.wav.
type wavSink struct {
	file     *os.File
	enc      *wav.Encoder
	format   *audio.Format
	leftover []byte
}

func newSink(dir, id string, sampleRate, channels int) (audioSink, error) {
	if dir == "" {
		return discardSink{}, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	file, err := os.Create(filepath.Join(dir, id+".wav"))
	if err != nil {
		return nil, fmt.Errorf("create wav file: %w", err)
	}
	return &wavSink{
		file:   file,
		enc:    wav.NewEncoder(file, sampleRate, 16, channels, 1),
		format: &audio.Format{NumChannels: channels, SampleRate: sampleRate},
	}, nil
}

func (w *wavSink) Write(pcm []byte) error {
	if len(w.leftover) > 0 {
		pcm = append(w.leftover, pcm...)
		w.leftover = nil
	}
	if len(pcm)%2 != 0 {
		w.leftover = []byte{pcm[len(pcm)-1]}
		pcm = pcm[:len(pcm)-1]
	}
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	if err := w.enc.Write(&audio.IntBuffer{Format: w.format, Data: samples, SourceBitDepth: 16}); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	return nil
}

func (w *wavSink) Close() error {
	if err := w.enc.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return w.file.Close()
}
