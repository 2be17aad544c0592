package tts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-speech/internal/speech"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeSynth struct {
	mu          sync.Mutex
	voices      []Voice
	emptyCalls  int
	voicesCalls int
	speakErr    error
	spoken      []Utterance
	emitters    []speech.Emitter
	cancels     int
	pauses      int
	resumes     int
}

func (f *fakeSynth) Speak(_ context.Context, u Utterance, emit speech.Emitter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.speakErr != nil {
		return f.speakErr
	}
	f.spoken = append(f.spoken, u)
	f.emitters = append(f.emitters, emit)
	return nil
}

func (f *fakeSynth) Voices(context.Context) ([]Voice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.voicesCalls++
	if f.voicesCalls <= f.emptyCalls {
		return nil, nil
	}
	return append([]Voice(nil), f.voices...), nil
}

func (f *fakeSynth) Cancel() { f.mu.Lock(); f.cancels++; f.mu.Unlock() }
func (f *fakeSynth) Pause()  { f.mu.Lock(); f.pauses++; f.mu.Unlock() }
func (f *fakeSynth) Resume() { f.mu.Lock(); f.resumes++; f.mu.Unlock() }

func (f *fakeSynth) emit(i int, ev speech.Event) {
	f.mu.Lock()
	emit := f.emitters[i]
	f.mu.Unlock()
	emit(ev)
}

func (f *fakeSynth) counts() (spoken, cancels int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.spoken), f.cancels
}

var testVoices = []Voice{
	{ID: "en-US-standard", Label: "English (US)", Language: "en-US", Default: true},
	{ID: "fr-FR-standard", Label: "Français", Language: "fr-FR"},
}

func newTestSession(synth Synthesizer, opts ...Option) *Session {
	opts = append([]Option{WithLogger(newLogger()), WithVoicesWait(0)}, opts...)
	return NewSession(synth, opts...)
}

func waitOutcome(t *testing.T, ch <-chan Outcome) Outcome {
	t.Helper()
	select {
	case o, ok := <-ch:
		if !ok {
			t.Fatal("outcome channel closed without outcome")
		}
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outcome")
	}
	return Outcome{}
}

func TestConfigureClampsParameters(t *testing.T) {
	s := newTestSession(&fakeSynth{voices: testVoices})
	req := Request{Text: "Hello", Rate: 15, Pitch: -1, Volume: 2}
	if err := s.Configure(context.Background(), req); err != nil {
		t.Fatalf("configure: %v", err)
	}
	u, ok := s.Utterance()
	if !ok {
		t.Fatal("expected configured utterance")
	}
	if u.Rate != 10 || u.Pitch != 0 || u.Volume != 1 {
		t.Fatalf("expected clamped 10/0/1, got %v/%v/%v", u.Rate, u.Pitch, u.Volume)
	}
	if u.Language != DefaultLanguage {
		t.Fatalf("expected default language, got %q", u.Language)
	}

	if err := s.Configure(context.Background(), Request{Text: "Hello", Rate: 0.01, Pitch: 3, Volume: -0.5}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	u, _ = s.Utterance()
	if u.Rate != MinRate || u.Pitch != MaxPitch || u.Volume != MinVolume {
		t.Fatalf("expected clamped 0.1/2/0, got %v/%v/%v", u.Rate, u.Pitch, u.Volume)
	}
}

func TestConfigureRejectsEmptyText(t *testing.T) {
	s := newTestSession(&fakeSynth{})
	err := s.Configure(context.Background(), NewRequest("   "))
	if !errors.Is(err, speech.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestStartWithoutTextFailsBeforePlatformCall(t *testing.T) {
	synth := &fakeSynth{}
	s := newTestSession(synth)
	if _, err := s.Start(context.Background()); !errors.Is(err, speech.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if spoken, _ := synth.counts(); spoken != 0 {
		t.Fatalf("expected no platform call, got %d", spoken)
	}
	if s.State() != speech.StateIdle {
		t.Fatalf("expected idle, got %s", s.State())
	}
}

func TestConfigureResolvesVoice(t *testing.T) {
	s := newTestSession(&fakeSynth{voices: testVoices})
	cases := map[string]string{
		"fr-FR-standard": "fr-FR-standard",
		"français":       "fr-FR-standard",
		"missing":        "en-US-standard",
		"":               "en-US-standard",
	}
	for want, expected := range cases {
		req := NewRequest("Hello")
		req.Voice = want
		if err := s.Configure(context.Background(), req); err != nil {
			t.Fatalf("configure: %v", err)
		}
		u, _ := s.Utterance()
		if u.Voice.ID != expected {
			t.Fatalf("voice %q: expected %q, got %q", want, expected, u.Voice.ID)
		}
	}
}

func TestCompletedFiresExactlyOnce(t *testing.T) {
	synth := &fakeSynth{voices: testVoices}
	s := newTestSession(synth)
	if err := s.Configure(context.Background(), NewRequest("Hello")); err != nil {
		t.Fatalf("configure: %v", err)
	}
	ch, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if s.State() != speech.StateActive {
		t.Fatalf("expected active, got %s", s.State())
	}
	synth.emit(0, speech.Started{})
	synth.emit(0, speech.Ended{})
	synth.emit(0, speech.Ended{})
	synth.emit(0, speech.Failure{Code: "synthesis-failed"})

	o := waitOutcome(t, ch)
	if !o.Completed() {
		t.Fatalf("expected completed, got %v", o.Err)
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected exactly one outcome")
	}
	if s.State() != speech.StateCompleted {
		t.Fatalf("expected completed state, got %s", s.State())
	}
}

func TestStartCancelsActiveRunOnce(t *testing.T) {
	synth := &fakeSynth{voices: testVoices}
	s := newTestSession(synth)
	_ = s.Configure(context.Background(), NewRequest("first"))
	first, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("start first: %v", err)
	}
	_ = s.Configure(context.Background(), NewRequest("second"))
	second, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("start second: %v", err)
	}

	o := waitOutcome(t, first)
	if !o.Completed() {
		t.Fatalf("expected cancelled run to complete, got %v", o.Err)
	}
	if spoken, cancels := synth.counts(); spoken != 2 || cancels != 1 {
		t.Fatalf("expected 2 speaks and 1 cancel, got %d and %d", spoken, cancels)
	}

	synth.emit(0, speech.Ended{})
	if s.State() != speech.StateActive {
		t.Fatalf("late event from cancelled run must not end the new run, state %s", s.State())
	}

	synth.emit(1, speech.Ended{})
	if o := waitOutcome(t, second); !o.Completed() {
		t.Fatalf("expected second completed, got %v", o.Err)
	}
}

func TestCancelCompletesRegardlessOfProgress(t *testing.T) {
	synth := &fakeSynth{}
	s := newTestSession(synth)
	_ = s.Configure(context.Background(), NewRequest("Hello"))
	ch, _ := s.Start(context.Background())
	s.Cancel()
	if o := waitOutcome(t, ch); !o.Completed() {
		t.Fatalf("expected completed, got %v", o.Err)
	}
	s.Cancel()
	if _, cancels := synth.counts(); cancels != 1 {
		t.Fatalf("expected one platform cancel, got %d", cancels)
	}
}

func TestPlatformErrorFails(t *testing.T) {
	synth := &fakeSynth{}
	s := newTestSession(synth)
	_ = s.Configure(context.Background(), NewRequest("Hello"))
	ch, _ := s.Start(context.Background())
	synth.emit(0, speech.Failure{Code: "synthesis-failed"})
	o := waitOutcome(t, ch)
	if speech.KindOf(o.Err) != speech.KindUnknown || speech.CodeOf(o.Err) != "synthesis-failed" {
		t.Fatalf("expected unknown(synthesis-failed), got %v", o.Err)
	}
	if s.State() != speech.StateFailed {
		t.Fatalf("expected failed, got %s", s.State())
	}
}

func TestTimeoutFailsRun(t *testing.T) {
	synth := &fakeSynth{}
	s := newTestSession(synth, WithTimeout(30*time.Millisecond))
	_ = s.Configure(context.Background(), NewRequest("Hello"))
	ch, _ := s.Start(context.Background())
	o := waitOutcome(t, ch)
	if !errors.Is(o.Err, speech.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", o.Err)
	}
	if _, cancels := synth.counts(); cancels != 1 {
		t.Fatalf("expected platform cancel after timeout, got %d", cancels)
	}
}

func TestTimeoutClearedOnCompletion(t *testing.T) {
	synth := &fakeSynth{}
	s := newTestSession(synth, WithTimeout(40*time.Millisecond))
	_ = s.Configure(context.Background(), NewRequest("Hello"))
	ch, _ := s.Start(context.Background())
	synth.emit(0, speech.Ended{})
	if o := waitOutcome(t, ch); !o.Completed() {
		t.Fatalf("expected completed, got %v", o.Err)
	}
	time.Sleep(100 * time.Millisecond)
	if s.State() != speech.StateCompleted {
		t.Fatalf("expected completed after watchdog window, got %s", s.State())
	}
	if _, cancels := synth.counts(); cancels != 0 {
		t.Fatalf("expected no late cancel, got %d", cancels)
	}
}

func TestSpeakStartsItsOwnUtterance(t *testing.T) {
	synth := &fakeSynth{voices: testVoices}
	s := newTestSession(synth)

	req := Request{Text: "Bonjour", Voice: "Français", Language: "fr-FR", Rate: 1, Pitch: 1, Volume: 1}
	u, ch, err := s.Speak(context.Background(), req)
	if err != nil {
		t.Fatalf("speak: %v", err)
	}
	if u.ID == "" || u.Text != "Bonjour" || u.Voice.ID != "fr-FR-standard" {
		t.Fatalf("unexpected utterance %+v", u)
	}
	synth.emit(0, speech.Ended{})
	if o := waitOutcome(t, ch); o.SessionID != u.ID || !o.Completed() {
		t.Fatalf("unexpected outcome %+v", o)
	}

	if _, _, err := s.Speak(context.Background(), NewRequest("  ")); !errors.Is(err, speech.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if spoken, _ := synth.counts(); spoken != 1 {
		t.Fatalf("rejected request reached the platform: %d", spoken)
	}
}

// watchdogSynth holds the first Cancel until release closes and logs the
// order of platform calls.
type watchdogSynth struct {
	fakeSynth
	entered chan struct{}
	release chan struct{}
	held    bool
	calls   []string
}

func (w *watchdogSynth) Speak(ctx context.Context, u Utterance, emit speech.Emitter) error {
	w.mu.Lock()
	w.calls = append(w.calls, "speak:"+u.Text)
	w.mu.Unlock()
	return w.fakeSynth.Speak(ctx, u, emit)
}

func (w *watchdogSynth) Cancel() {
	w.mu.Lock()
	first := !w.held
	w.held = true
	w.mu.Unlock()

	name := "cancel"
	if first {
		close(w.entered)
		<-w.release
		name = "watchdog-cancel"
	}
	w.mu.Lock()
	w.calls = append(w.calls, name)
	w.mu.Unlock()
	w.fakeSynth.Cancel()
}

func (w *watchdogSynth) log() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.calls...)
}

func TestTimeoutCancelDoesNotReachNextRun(t *testing.T) {
	synth := &watchdogSynth{fakeSynth: fakeSynth{voices: testVoices}, entered: make(chan struct{}), release: make(chan struct{})}
	s := newTestSession(synth, WithTimeout(20*time.Millisecond))

	_, first, err := s.Speak(context.Background(), NewRequest("first"))
	if err != nil {
		t.Fatalf("speak: %v", err)
	}
	select {
	case <-synth.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog never cancelled")
	}

	next := make(chan (<-chan Outcome), 1)
	go func() {
		_, ch, err := s.Speak(context.Background(), NewRequest("second"))
		if err != nil {
			t.Errorf("speak second: %v", err)
		}
		next <- ch
	}()
	time.Sleep(30 * time.Millisecond)
	close(synth.release)

	if o := waitOutcome(t, first); !errors.Is(o.Err, speech.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", o.Err)
	}
	select {
	case <-next:
	case <-time.After(2 * time.Second):
		t.Fatal("second run never started")
	}
	want := []string{"speak:first", "watchdog-cancel", "speak:second"}
	if calls := synth.log(); len(calls) < len(want) || !reflect.DeepEqual(calls[:len(want)], want) {
		t.Fatalf("unexpected platform calls %v", calls)
	}
}

func TestPauseResumeOnlyWhileActive(t *testing.T) {
	synth := &fakeSynth{}
	s := newTestSession(synth)
	s.Pause()
	s.Resume()
	_ = s.Configure(context.Background(), NewRequest("Hello"))
	ch, _ := s.Start(context.Background())
	s.Pause()
	s.Resume()
	synth.emit(0, speech.Ended{})
	waitOutcome(t, ch)
	s.Pause()

	synth.mu.Lock()
	defer synth.mu.Unlock()
	if synth.pauses != 1 || synth.resumes != 1 {
		t.Fatalf("expected 1 pause and 1 resume, got %d and %d", synth.pauses, synth.resumes)
	}
}

func TestVoicesRetriesUntilPopulated(t *testing.T) {
	synth := &fakeSynth{voices: testVoices, emptyCalls: 2}
	s := NewSession(synth, WithLogger(newLogger()), WithVoicesWait(time.Second))
	voices, err := s.Voices(context.Background())
	if err != nil {
		t.Fatalf("voices: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("expected 2 voices, got %d", len(voices))
	}
	if _, err := s.Voices(context.Background()); err != nil {
		t.Fatalf("voices: %v", err)
	}
	synth.mu.Lock()
	defer synth.mu.Unlock()
	if synth.voicesCalls != 3 {
		t.Fatalf("expected cached list after 3 loads, got %d calls", synth.voicesCalls)
	}
}

func TestVoicesGivesUpAfterWait(t *testing.T) {
	synth := &fakeSynth{}
	s := NewSession(synth, WithLogger(newLogger()), WithVoicesWait(150*time.Millisecond))
	start := time.Now()
	voices, err := s.Voices(context.Background())
	if err != nil {
		t.Fatalf("voices: %v", err)
	}
	if len(voices) != 0 {
		t.Fatalf("expected no voices, got %v", voices)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("voice wait exceeded bound: %s", elapsed)
	}
}

func TestUnsupportedSynthFailsWithCapabilityUnavailable(t *testing.T) {
	s := newTestSession(NewUnsupportedSynth())
	if err := s.Configure(context.Background(), NewRequest("Hello")); err != nil {
		t.Fatalf("configure: %v", err)
	}
	ch, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	o := waitOutcome(t, ch)
	if !errors.Is(o.Err, speech.ErrCapabilityUnavailable) {
		t.Fatalf("expected capability unavailable, got %v", o.Err)
	}
}
