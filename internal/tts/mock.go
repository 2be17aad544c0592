package tts

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-speech/internal/speech"
)

const minMockDuration = 50 * time.Millisecond

// mockSynth pretends to speak for a duration proportional to the word count
// and rate. It produces no audio.
type mockSynth struct {
	voices       []Voice
	wordDuration time.Duration

	mu      sync.Mutex
	current *playback
}

type playback struct {
	pause  chan bool
	cancel chan struct{}
	done   chan struct{}
	once   sync.Once
}

func NewMockSynth(voices []Voice, wordDuration time.Duration) Synthesizer {
	if wordDuration <= 0 {
		wordDuration = 250 * time.Millisecond
	}
	return &mockSynth{voices: append([]Voice(nil), voices...), wordDuration: wordDuration}
}

func (m *mockSynth) Speak(ctx context.Context, u Utterance, emit speech.Emitter) error {
	p := &playback{
		pause:  make(chan bool),
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}
	m.mu.Lock()
	prev := m.current
	m.current = p
	m.mu.Unlock()
	if prev != nil {
		prev.stop()
	}

	go m.play(ctx, p, m.duration(u), emit)
	return nil
}

func (m *mockSynth) duration(u Utterance) time.Duration {
	words := len(strings.Fields(u.Text))
	rate := u.Rate
	if rate <= 0 {
		rate = 1
	}
	d := time.Duration(float64(time.Duration(words)*m.wordDuration) / rate)
	if d < minMockDuration {
		d = minMockDuration
	}
	return d
}

func (m *mockSynth) play(ctx context.Context, p *playback, remaining time.Duration, emit speech.Emitter) {
	defer close(p.done)
	defer m.release(p)

	emit(speech.Started{})
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	startedAt := time.Now()
	paused := false

	for {
		select {
		case <-ctx.Done():
			emit(speech.Failure{Code: speech.CodeInterrupted})
			return
		case <-p.cancel:
			emit(speech.Failure{Code: speech.CodeInterrupted})
			return
		case pause := <-p.pause:
			if pause && !paused {
				timer.Stop()
				remaining -= time.Since(startedAt)
				paused = true
			} else if !pause && paused {
				startedAt = time.Now()
				timer.Reset(remaining)
				paused = false
			}
		case <-timer.C:
			emit(speech.Ended{})
			return
		}
	}
}

func (m *mockSynth) release(p *playback) {
	m.mu.Lock()
	if m.current == p {
		m.current = nil
	}
	m.mu.Unlock()
}

func (m *mockSynth) active() *playback {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *mockSynth) Voices(context.Context) ([]Voice, error) {
	return append([]Voice(nil), m.voices...), nil
}

func (m *mockSynth) Cancel() {
	if p := m.active(); p != nil {
		p.stop()
	}
}

func (m *mockSynth) Pause() {
	if p := m.active(); p != nil {
		p.signal(true)
	}
}

func (m *mockSynth) Resume() {
	if p := m.active(); p != nil {
		p.signal(false)
	}
}

func (p *playback) stop() {
	p.once.Do(func() { close(p.cancel) })
}

func (p *playback) signal(pause bool) {
	select {
	case p.pause <- pause:
	case <-p.done:
	}
}
