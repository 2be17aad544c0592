package tts

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
)

func TestWAVSinkWritesPCM(t *testing.T) {
	dir := t.TempDir()
	sink, err := newSink(dir, "utt-1", 16000, 1)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	pcm := make([]byte, 320)
	for i := 0; i < 160; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(i*10)))
	}
	// odd split exercises sample reassembly across chunks
	if err := sink.Write(pcm[:101]); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := sink.Write(pcm[101:]); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "utt-1.wav"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		t.Fatal("expected valid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(buf.Data) != 160 {
		t.Fatalf("expected 160 samples, got %d", len(buf.Data))
	}
	if buf.Data[10] != 100 {
		t.Fatalf("unexpected sample value %d", buf.Data[10])
	}
	if dec.SampleRate != 16000 {
		t.Fatalf("unexpected sample rate %d", dec.SampleRate)
	}
}

func TestSinkDiscardsWithoutDirectory(t *testing.T) {
	sink, err := newSink("", "utt", 16000, 1)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	if _, ok := sink.(discardSink); !ok {
		t.Fatalf("expected discard sink, got %T", sink)
	}
}
