package stt

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-speech/internal/speech"
)

type Option func(*Session)

func WithTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
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

// Session drives speech recognition on one Recognizer. Only one listening run
// may be active; a second Start is rejected until the first one ends.
type Session struct {
	rec     Recognizer
	logger  *slog.Logger
	timeout time.Duration

	ctl sync.Mutex

	mu        sync.Mutex
	state     speech.State
	current   *run
	last      *Transcript
	onPartial []func(string)
	onFinal   []func(string)
}

type run struct {
	id         string
	req        Request
	done       chan Result
	timer      *time.Timer
	transcript *Transcript
	timedOut   bool
	finished   bool
}

func NewSession(rec Recognizer, opts ...Option) *Session {
	s := &Session{
		rec:     rec,
		logger:  slog.Default(),
		timeout: speech.DefaultTimeout,
		last:    &Transcript{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "stt-session"))
	return s
}

// OnPartialResult registers fn for every interim update.
func (s *Session) OnPartialResult(fn func(text string)) {
	s.mu.Lock()
	s.onPartial = append(s.onPartial, fn)
	s.mu.Unlock()
}

// OnFinalResult registers fn for every final segment.
func (s *Session) OnFinalResult(fn func(text string)) {
	s.mu.Lock()
	s.onFinal = append(s.onFinal, fn)
	s.mu.Unlock()
}

// Start begins listening and returns immediately. The channel receives exactly
// one Result and is then closed.
func (s *Session) Start(ctx context.Context, req Request) (<-chan Result, error) {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	if strings.TrimSpace(req.Language) == "" {
		req.Language = DefaultLanguage
	}

	s.mu.Lock()
	if s.current != nil {
		s.mu.Unlock()
		return nil, speech.Errorf(speech.KindAlreadyActive, "a listening session is already active")
	}
	r := &run{
		id:         uuid.NewString(),
		req:        req,
		done:       make(chan Result, 1),
		transcript: &Transcript{},
	}
	s.current = r
	s.last = r.transcript
	s.state = speech.StateActive
	r.timer = time.AfterFunc(s.timeout, func() { s.expire(r) })
	s.mu.Unlock()

	s.logger.Debug("listening", slog.String("session_id", r.id), slog.String("language", req.Language), slog.Bool("continuous", req.Continuous))
	if err := s.rec.Start(ctx, req, func(ev speech.Event) { s.handle(r, ev) }); err != nil {
		err = classifyStartError(err)
		s.abort(r)
		return nil, err
	}
	return r.done, nil
}

// Stop ends the active session. It is safe to call at any time.
func (s *Session) Stop() {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	s.mu.Lock()
	r := s.current
	s.mu.Unlock()
	if r == nil {
		return
	}
	s.rec.Stop()
	s.finish(r, Result{})
}

func (s *Session) State() speech.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transcript renders the transcript of the current or most recent session.
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last.Render()
}

func (s *Session) handle(r *run, ev speech.Event) {
	switch e := ev.(type) {
	case speech.Started:
		s.logger.Debug("recognition started", slog.String("session_id", r.id))
	case speech.Result:
		s.deliver(r, e.Segments)
	case speech.Failure:
		err := speech.Classify(e.Code)
		if err.Kind == speech.KindNoSpeech {
			s.finish(r, Result{NoSpeech: true})
			return
		}
		s.finish(r, Result{Err: err})
	case speech.Ended:
		s.finish(r, Result{})
	default:
		s.logger.Warn("unexpected recognition event", slog.String("session_id", r.id))
	}
}

// deliver applies one platform batch: finals first, then the batch's interim
// text.
func (s *Session) deliver(r *run, segments []speech.Segment) {
	var finals, interim []string
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if seg.Final {
			finals = append(finals, text)
		} else {
			interim = append(interim, text)
		}
	}

	s.mu.Lock()
	if r.finished {
		s.mu.Unlock()
		return
	}
	for _, text := range finals {
		r.transcript.AppendFinal(text)
	}
	autoStop := len(finals) > 0 && !r.req.Continuous
	partial := strings.Join(interim, " ")
	if !autoStop {
		r.transcript.SetInterim(partial)
	}
	onFinal := append(([]func(string))(nil), s.onFinal...)
	onPartial := append(([]func(string))(nil), s.onPartial...)
	s.mu.Unlock()

	for _, text := range finals {
		for _, fn := range onFinal {
			fn(text)
		}
	}
	if autoStop {
		s.rec.Stop()
		s.finish(r, Result{})
		return
	}
	if partial != "" && r.req.Interim {
		for _, fn := range onPartial {
			fn(partial)
		}
	}
}

// expire force-stops r. Holding s.ctl keeps the stop from reaching a newer
// run.
func (s *Session) expire(r *run) {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	s.mu.Lock()
	if r.finished || s.current != r {
		s.mu.Unlock()
		return
	}
	r.timedOut = true
	s.mu.Unlock()

	s.logger.Info("listening timed out", slog.String("session_id", r.id), slog.Duration("timeout", s.timeout))
	s.rec.Stop()
	s.finish(r, Result{})
}

func (s *Session) abort(r *run) {
	s.mu.Lock()
	r.finished = true
	r.timer.Stop()
	if s.current == r {
		s.current = nil
		s.state = speech.StateFailed
	}
	s.mu.Unlock()
	close(r.done)
}

func (s *Session) finish(r *run, res Result) bool {
	s.mu.Lock()
	if r.finished {
		s.mu.Unlock()
		return false
	}
	r.finished = true
	r.timer.Stop()
	r.transcript.ClearInterim()
	res.SessionID = r.id
	res.TimedOut = r.timedOut
	res.Transcript = r.transcript.Final()
	if res.NoSpeech && res.Transcript == "" {
		res.Transcript = NoSpeechTranscript
	}
	if s.current == r {
		s.current = nil
		if res.Err != nil {
			s.state = speech.StateFailed
		} else {
			s.state = speech.StateCompleted
		}
	}
	s.mu.Unlock()

	switch {
	case res.Err != nil:
		s.logger.Warn("speech input failed", slog.String("session_id", r.id), slogError(res.Err))
	case res.NoSpeech:
		s.logger.Info("no speech detected", slog.String("session_id", r.id))
	default:
		s.logger.Debug("speech input completed", slog.String("session_id", r.id), slog.Bool("timed_out", res.TimedOut))
	}
	r.done <- res
	close(r.done)
	return true
}

func classifyStartError(err error) error {
	if speech.KindOf(err) != speech.KindUnknown {
		return err
	}
	if code := speech.CodeOf(err); code != "" {
		return speech.Classify(code)
	}
	return &speech.Error{Kind: speech.KindUnknown, Err: err}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
