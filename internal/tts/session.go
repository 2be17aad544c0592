package tts

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-speech/internal/speech"
)

// DefaultVoicesWait is how long Voices keeps polling an empty voice list.
const DefaultVoicesWait = time.Second

const voicesPollInterval = 100 * time.Millisecond

// Outcome is the terminal notification of one Start. Err is nil when the
// utterance completed or was cancelled.
type Outcome struct {
	SessionID string
	Err       error
}

func (o Outcome) Completed() bool { return o.Err == nil }

type Option func(*Session)

func WithTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithVoicesWait(d time.Duration) Option {
	return func(s *Session) {
		if d >= 0 {
			s.voicesWait = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// Session drives speech output on one Synthesizer. At most one run is active
// at a time; starting another cancels the previous run first.
type Session struct {
	synth      Synthesizer
	logger     *slog.Logger
	timeout    time.Duration
	voicesWait time.Duration

	ctl sync.Mutex

	mu        sync.Mutex
	state     speech.State
	utterance *Utterance
	current   *run

	voicesMu sync.Mutex
	voices   []Voice
}

type run struct {
	id       string
	done     chan Outcome
	timer    *time.Timer
	timedOut error
	finished bool
}

func NewSession(synth Synthesizer, opts ...Option) *Session {
	s := &Session{
		synth:      synth,
		logger:     slog.Default(),
		timeout:    speech.DefaultTimeout,
		voicesWait: DefaultVoicesWait,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "tts-session"))
	return s
}

// Configure validates req and prepares it for the next Start. Numeric fields
// are clamped into range rather than rejected.
func (s *Session) Configure(ctx context.Context, req Request) error {
	u, err := s.prepare(ctx, req)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.utterance = &u
	s.mu.Unlock()
	return nil
}

// Speak configures req and starts it in one step, so concurrent callers each
// speak their own text. The returned utterance carries the run's session ID.
func (s *Session) Speak(ctx context.Context, req Request) (Utterance, <-chan Outcome, error) {
	u, err := s.prepare(ctx, req)
	if err != nil {
		return Utterance{}, nil, err
	}

	s.ctl.Lock()
	defer s.ctl.Unlock()

	s.mu.Lock()
	s.utterance = &u
	s.mu.Unlock()
	started, done := s.start(ctx, u)
	return started, done, nil
}

func (s *Session) prepare(ctx context.Context, req Request) (Utterance, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Utterance{}, speech.Errorf(speech.KindInvalidArgument, "text must not be empty")
	}
	u := Utterance{
		Text:     req.Text,
		Language: strings.TrimSpace(req.Language),
		Rate:     clamp(req.Rate, MinRate, MaxRate),
		Pitch:    clamp(req.Pitch, MinPitch, MaxPitch),
		Volume:   clamp(req.Volume, MinVolume, MaxVolume),
	}
	if u.Language == "" {
		u.Language = DefaultLanguage
	}

	voices, err := s.Voices(ctx)
	if err != nil {
		s.logger.Debug("voice list unavailable, using platform default", slogError(err))
	}
	u.Voice = resolveVoice(voices, req.Voice)
	if req.Voice != "" && u.Voice.ID != req.Voice && !strings.EqualFold(u.Voice.Label, req.Voice) {
		s.logger.Info("requested voice not found, using default", slog.String("voice", req.Voice), slog.String("resolved", u.Voice.ID))
	}
	return u, nil
}

// Utterance returns the currently configured utterance.
func (s *Session) Utterance() (Utterance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.utterance == nil {
		return Utterance{}, false
	}
	return *s.utterance, true
}

// Start speaks the configured utterance. It returns immediately; the returned
// channel receives exactly one Outcome and is then closed.
func (s *Session) Start(ctx context.Context) (<-chan Outcome, error) {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	s.mu.Lock()
	if s.utterance == nil || strings.TrimSpace(s.utterance.Text) == "" {
		s.mu.Unlock()
		return nil, speech.Errorf(speech.KindInvalidArgument, "no utterance configured")
	}
	u := *s.utterance
	s.mu.Unlock()

	_, done := s.start(ctx, u)
	return done, nil
}

// start cancels any active run and speaks u. The caller holds s.ctl.
func (s *Session) start(ctx context.Context, u Utterance) (Utterance, <-chan Outcome) {
	s.mu.Lock()
	prev := s.current
	s.mu.Unlock()

	if prev != nil {
		s.synth.Cancel()
		s.finish(prev, nil)
	}

	u.ID = uuid.NewString()
	r := &run{id: u.ID, done: make(chan Outcome, 1)}

	s.mu.Lock()
	s.current = r
	s.state = speech.StateActive
	r.timer = time.AfterFunc(s.timeout, func() { s.expire(r) })
	s.mu.Unlock()

	s.logger.Debug("speaking", slog.String("session_id", r.id), slog.String("voice", u.Voice.ID), slog.Float64("rate", u.Rate))
	if err := s.synth.Speak(ctx, u, func(ev speech.Event) { s.handle(r, ev) }); err != nil {
		s.finish(r, asSpeechError(err))
	}
	return u, r.done
}

// Cancel stops the active run, which then completes.
func (s *Session) Cancel() {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	s.mu.Lock()
	r := s.current
	s.mu.Unlock()
	if r == nil {
		return
	}
	s.synth.Cancel()
	s.finish(r, nil)
}

func (s *Session) Pause() {
	if s.State() == speech.StateActive {
		s.synth.Pause()
	}
}

func (s *Session) Resume() {
	if s.State() == speech.StateActive {
		s.synth.Resume()
	}
}

func (s *Session) State() speech.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Voices returns the platform voice list. Platforms may populate the list
// lazily, so an empty answer is retried until the voices wait elapses.
func (s *Session) Voices(ctx context.Context) ([]Voice, error) {
	s.voicesMu.Lock()
	defer s.voicesMu.Unlock()
	if len(s.voices) > 0 {
		return append([]Voice(nil), s.voices...), nil
	}

	deadline := time.Now().Add(s.voicesWait)
	for {
		voices, err := s.synth.Voices(ctx)
		if err != nil {
			return nil, err
		}
		if len(voices) > 0 {
			s.voices = voices
			return append([]Voice(nil), voices...), nil
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(voicesPollInterval):
		}
	}
}

func (s *Session) handle(r *run, ev speech.Event) {
	switch e := ev.(type) {
	case speech.Started:
		s.logger.Debug("synthesis started", slog.String("session_id", r.id))
	case speech.Ended:
		s.finish(r, nil)
	case speech.Failure:
		switch e.Code {
		case speech.CodeInterrupted, speech.CodeCanceled:
			s.finish(r, nil)
		default:
			s.finish(r, speech.Classify(e.Code))
		}
	case speech.Result:
		// synthesis backends do not report transcripts
	default:
		s.logger.Warn("unexpected synthesis event", slog.String("session_id", r.id))
	}
}

// expire fails r with a timeout. Events the cancel provokes still resolve to
// the timeout. Holding s.ctl keeps the cancel from reaching a newer run.
func (s *Session) expire(r *run) {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	s.mu.Lock()
	if r.finished || s.current != r {
		s.mu.Unlock()
		return
	}
	r.timedOut = speech.Errorf(speech.KindTimeout, "no terminal event within %s", s.timeout)
	s.mu.Unlock()

	s.synth.Cancel()
	s.finish(r, nil)
}

// finish delivers the single outcome of r. It reports false when r had
// already finished.
func (s *Session) finish(r *run, err error) bool {
	s.mu.Lock()
	if r.finished {
		s.mu.Unlock()
		return false
	}
	r.finished = true
	if r.timedOut != nil {
		err = r.timedOut
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	if s.current == r {
		s.current = nil
		if err != nil {
			s.state = speech.StateFailed
		} else {
			s.state = speech.StateCompleted
		}
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("speech output failed", slog.String("session_id", r.id), slogError(err))
	} else {
		s.logger.Debug("speech output completed", slog.String("session_id", r.id))
	}
	r.done <- Outcome{SessionID: r.id, Err: err}
	close(r.done)
	return true
}

func resolveVoice(voices []Voice, want string) Voice {
	want = strings.TrimSpace(want)
	if want != "" {
		for _, v := range voices {
			if v.ID == want {
				return v
			}
		}
		for _, v := range voices {
			if strings.EqualFold(v.Label, want) || strings.EqualFold(v.ID, want) {
				return v
			}
		}
	}
	for _, v := range voices {
		if v.Default {
			return v
		}
	}
	return Voice{}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(math.Max(v, lo), hi)
}

func asSpeechError(err error) error {
	if speech.KindOf(err) == speech.KindUnknown && speech.CodeOf(err) == "" {
		return &speech.Error{Kind: speech.KindUnknown, Code: speech.CodeSynthesisFailed, Err: err}
	}
	return err
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
