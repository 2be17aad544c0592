package stt

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-speech/internal/speech"
)

// mockRecognizer "hears" a fixed phrase, streaming it word by word as interim
// results followed by one final result. An empty phrase yields no-speech.
type mockRecognizer struct {
	words   []string
	perWord time.Duration

	mu   sync.Mutex
	stop chan struct{}
	once *sync.Once
}

func NewMockRecognizer(phrase string, perWord time.Duration) Recognizer {
	if perWord <= 0 {
		perWord = 150 * time.Millisecond
	}
	return &mockRecognizer{words: strings.Fields(phrase), perWord: perWord}
}

func (m *mockRecognizer) Start(ctx context.Context, req Request, emit speech.Emitter) error {
	stop := make(chan struct{})
	once := &sync.Once{}
	m.mu.Lock()
	m.stop, m.once = stop, once
	m.mu.Unlock()

	go m.listen(ctx, req, stop, emit)
	return nil
}

func (m *mockRecognizer) listen(ctx context.Context, req Request, stop <-chan struct{}, emit speech.Emitter) {
	defer emit(speech.Ended{})
	emit(speech.Started{})

	wait := func() bool {
		select {
		case <-ctx.Done():
			return false
		case <-stop:
			return false
		case <-time.After(m.perWord):
			return true
		}
	}

	if len(m.words) == 0 {
		if wait() {
			emit(speech.Failure{Code: speech.CodeNoSpeech})
		}
		return
	}
	for i := range m.words {
		if !wait() {
			return
		}
		if req.Interim && i < len(m.words)-1 {
			emit(speech.Result{Segments: []speech.Segment{{Text: strings.Join(m.words[:i+1], " ")}}})
		}
	}
	emit(speech.Result{Segments: []speech.Segment{{Text: strings.Join(m.words, " "), Final: true}}})
	if req.Continuous {
		select {
		case <-ctx.Done():
		case <-stop:
		}
	}
}

func (m *mockRecognizer) Stop() {
	m.mu.Lock()
	stop, once := m.stop, m.once
	m.mu.Unlock()
	if stop != nil {
		once.Do(func() { close(stop) })
	}
}
