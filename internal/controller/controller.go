// Package controller is the boundary the user-facing surfaces talk to. It owns
// one output and one input session and switches between speaking and
// listening.
package controller

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-speech/internal/platform"
	"github.com/loqalabs/loqa-speech/internal/speech"
	"github.com/loqalabs/loqa-speech/internal/stt"
	"github.com/loqalabs/loqa-speech/internal/tts"
)

const instrumentation = "github.com/loqalabs/loqa-speech/internal/controller"

// Session kinds reported to the Recorder.
const (
	KindOutput = "output"
	KindInput  = "input"
)

// Terminal statuses reported to the Recorder.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusNoSpeech  = "no_speech"
	StatusTimeout   = "timeout"
)

// Mode is what the controller is currently doing.
type Mode int

const (
	ModeIdle Mode = iota
	ModeSpeaking
	ModeListening
)

func (m Mode) String() string {
	switch m {
	case ModeSpeaking:
		return "speaking"
	case ModeListening:
		return "listening"
	default:
		return "idle"
	}
}

// Record summarizes one finished session.
type Record struct {
	SessionID  string
	Kind       string
	Language   string
	Status     string
	Transcript string
	Err        error
	StartedAt  time.Time
	EndedAt    time.Time
}

// Recorder receives a Record for every session that reached a terminal state.
type Recorder interface {
	Record(ctx context.Context, rec Record)
}

// Defaults fill in request fields callers leave empty.
type Defaults struct {
	Voice         string
	Language      string
	InputLanguage string
}

// Voice is the listVoices view of a platform voice.
type Voice struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Language  string `json:"language"`
	IsDefault bool   `json:"is_default"`
}

type Option func(*options)

type options struct {
	logger     *slog.Logger
	recorder   Recorder
	timeout    time.Duration
	voicesWait time.Duration
	defaults   Defaults
}

func WithLogger(l *slog.Logger) Option   { return func(o *options) { o.logger = l } }
func WithRecorder(r Recorder) Option     { return func(o *options) { o.recorder = r } }
func WithTimeout(d time.Duration) Option { return func(o *options) { o.timeout = d } }
func WithDefaults(d Defaults) Option     { return func(o *options) { o.defaults = d } }

func WithVoicesWait(d time.Duration) Option {
	return func(o *options) { o.voicesWait = d }
}

type Controller struct {
	backend  *platform.Backend
	output   *tts.Session
	input    *stt.Session
	recorder Recorder
	defaults Defaults
	logger   *slog.Logger

	tracer    trace.Tracer
	sessions  metric.Int64Counter
	durations metric.Float64Histogram

	mu        sync.Mutex
	speaking  int
	listening *InputHandle
}

func New(backend *platform.Backend, opts ...Option) *Controller {
	o := options{
		logger:     slog.Default(),
		timeout:    speech.DefaultTimeout,
		voicesWait: tts.DefaultVoicesWait,
	}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With(slog.String("component", "controller"))

	c := &Controller{
		backend:  backend,
		recorder: o.recorder,
		defaults: o.defaults,
		logger:   logger,
		tracer:   otel.Tracer(instrumentation),
		output: tts.NewSession(backend.Synthesizer(),
			tts.WithTimeout(o.timeout),
			tts.WithVoicesWait(o.voicesWait),
			tts.WithLogger(o.logger)),
		input: stt.NewSession(backend.Recognizer(),
			stt.WithTimeout(o.timeout),
			stt.WithLogger(o.logger)),
	}
	c.input.OnPartialResult(c.dispatchPartial)
	c.input.OnFinalResult(c.dispatchFinal)
	c.registerMetrics()
	return c
}

func (c *Controller) registerMetrics() {
	meter := otel.Meter(instrumentation)
	var err error
	c.sessions, err = meter.Int64Counter("loqa.speech.sessions",
		metric.WithDescription("Speech sessions by kind and terminal status"))
	if err != nil {
		c.logger.Warn("failed to register session counter", slogError(err))
	}
	c.durations, err = meter.Float64Histogram("loqa.speech.session.duration",
		metric.WithDescription("Speech session duration"),
		metric.WithUnit("s"))
	if err != nil {
		c.logger.Warn("failed to register duration histogram", slogError(err))
	}
}

// Capabilities reports what the host platform supports.
func (c *Controller) Capabilities() (output, input bool) {
	return c.backend.HasOutput(), c.backend.HasInput()
}

func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.listening != nil:
		return ModeListening
	case c.speaking > 0:
		return ModeSpeaking
	default:
		return ModeIdle
	}
}

// RunOutput speaks req and blocks until the utterance completes or fails. Any
// active listening session is stopped first. Validation and capability
// errors are returned directly; the terminal result is in the Outcome.
func (c *Controller) RunOutput(ctx context.Context, req tts.Request) (tts.Outcome, error) {
	ctx, span := c.tracer.Start(ctx, "controller.run_output")
	defer span.End()

	if !c.backend.HasOutput() {
		err := speech.Unavailable("speech synthesis")
		recordSpanError(span, err)
		return tts.Outcome{}, err
	}
	if strings.TrimSpace(req.Voice) == "" {
		req.Voice = c.defaults.Voice
	}
	if strings.TrimSpace(req.Language) == "" {
		req.Language = c.defaults.Language
	}

	c.stopListening()

	started := time.Now()
	u, done, err := c.output.Speak(ctx, req)
	if err != nil {
		recordSpanError(span, err)
		return tts.Outcome{}, err
	}
	span.SetAttributes(attribute.String("speech.voice", u.Voice.ID), attribute.String("speech.language", u.Language))
	c.mu.Lock()
	c.speaking++
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.speaking--
		c.mu.Unlock()
	}()

	var out tts.Outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		c.output.Cancel()
		out = <-done
	}

	rec := Record{
		SessionID: out.SessionID,
		Kind:      KindOutput,
		Language:  u.Language,
		Status:    statusOf(out.Err),
		Err:       out.Err,
		StartedAt: started,
		EndedAt:   time.Now(),
	}
	span.SetAttributes(attribute.String("speech.session_id", out.SessionID), attribute.String("speech.status", rec.Status))
	if out.Err != nil {
		recordSpanError(span, out.Err)
	}
	c.finished(ctx, rec)
	return out, nil
}

// CancelOutput stops whatever is being spoken.
func (c *Controller) CancelOutput() { c.output.Cancel() }

func (c *Controller) PauseOutput()  { c.output.Pause() }
func (c *Controller) ResumeOutput() { c.output.Resume() }

// RunInput starts listening and returns immediately. onPartial and onFinal
// receive transcript text in platform order; onError receives the failure of
// a session that started but did not finish cleanly. Any of them may be nil.
// Without input capability RunInput fails at once and the recognizer is never
// touched.
func (c *Controller) RunInput(ctx context.Context, req stt.Request, onPartial, onFinal func(string), onError func(error)) (*InputHandle, error) {
	if !c.backend.HasInput() {
		return nil, speech.Unavailable("speech recognition")
	}
	if strings.TrimSpace(req.Language) == "" {
		req.Language = c.defaults.InputLanguage
	}

	h := &InputHandle{
		c:         c,
		onPartial: onPartial,
		onFinal:   onFinal,
		onError:   onError,
		done:      make(chan stt.Result, 1),
		started:   time.Now(),
		language:  req.Language,
	}

	c.mu.Lock()
	if c.listening != nil {
		c.mu.Unlock()
		return nil, speech.Errorf(speech.KindAlreadyActive, "a listening session is already active")
	}
	c.listening = h
	c.mu.Unlock()

	c.output.Cancel()

	ctx, span := c.tracer.Start(ctx, "controller.run_input",
		trace.WithAttributes(attribute.String("speech.language", req.Language), attribute.Bool("speech.continuous", req.Continuous)))
	results, err := c.input.Start(ctx, req)
	if err != nil {
		c.release(h)
		recordSpanError(span, err)
		span.End()
		c.finished(ctx, Record{Kind: KindInput, Language: req.Language, Status: statusOf(err), Err: err, StartedAt: h.started, EndedAt: time.Now()})
		return nil, err
	}

	go func() {
		defer span.End()
		res := <-results
		c.release(h)

		rec := Record{
			SessionID:  res.SessionID,
			Kind:       KindInput,
			Language:   req.Language,
			Transcript: res.Transcript,
			Err:        res.Err,
			StartedAt:  h.started,
			EndedAt:    time.Now(),
		}
		switch {
		case res.Err != nil:
			rec.Status = statusOf(res.Err)
			recordSpanError(span, res.Err)
		case res.NoSpeech:
			rec.Status = StatusNoSpeech
		case res.TimedOut:
			rec.Status = StatusTimeout
		default:
			rec.Status = StatusCompleted
		}
		span.SetAttributes(attribute.String("speech.session_id", res.SessionID), attribute.String("speech.status", rec.Status))
		c.finished(context.WithoutCancel(ctx), rec)

		if res.Err != nil && h.onError != nil {
			h.onError(res.Err)
		}
		h.done <- res
		close(h.done)
	}()
	return h, nil
}

// ListVoices returns the platform voices.
func (c *Controller) ListVoices(ctx context.Context) ([]Voice, error) {
	if !c.backend.HasOutput() {
		return nil, speech.Unavailable("speech synthesis")
	}
	voices, err := c.output.Voices(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Voice, 0, len(voices))
	for _, v := range voices {
		out = append(out, Voice{ID: v.ID, Label: v.Label, Language: v.Language, IsDefault: v.Default})
	}
	return out, nil
}

// Transcript renders the transcript of the current or last listening session.
func (c *Controller) Transcript() string { return c.input.Transcript() }

// Close stops any activity.
func (c *Controller) Close() {
	c.stopListening()
	c.output.Cancel()
}

func (c *Controller) stopListening() {
	c.mu.Lock()
	h := c.listening
	c.mu.Unlock()
	if h != nil {
		h.Stop()
	}
}

func (c *Controller) release(h *InputHandle) {
	c.mu.Lock()
	if c.listening == h {
		c.listening = nil
	}
	c.mu.Unlock()
}

func (c *Controller) dispatchPartial(text string) {
	c.mu.Lock()
	h := c.listening
	c.mu.Unlock()
	if h != nil && h.onPartial != nil {
		h.onPartial(text)
	}
}

func (c *Controller) dispatchFinal(text string) {
	c.mu.Lock()
	h := c.listening
	c.mu.Unlock()
	if h != nil && h.onFinal != nil {
		h.onFinal(text)
	}
}

func (c *Controller) finished(ctx context.Context, rec Record) {
	attrs := metric.WithAttributes(attribute.String("kind", rec.Kind), attribute.String("status", rec.Status))
	if c.sessions != nil {
		c.sessions.Add(ctx, 1, attrs)
	}
	if c.durations != nil && !rec.StartedAt.IsZero() {
		c.durations.Record(ctx, rec.EndedAt.Sub(rec.StartedAt).Seconds(), attrs)
	}
	if c.recorder != nil {
		c.recorder.Record(ctx, rec)
	}
}

// InputHandle controls one listening session started by RunInput.
type InputHandle struct {
	c         *Controller
	onPartial func(string)
	onFinal   func(string)
	onError   func(error)
	done      chan stt.Result
	started   time.Time
	language  string
}

// Stop ends the session. Calling it after the session ended is a no-op.
func (h *InputHandle) Stop() {
	h.c.mu.Lock()
	active := h.c.listening == h
	h.c.mu.Unlock()
	if active {
		h.c.input.Stop()
	}
}

// Done receives the session Result once and is then closed.
func (h *InputHandle) Done() <-chan stt.Result { return h.done }

func (h *InputHandle) Language() string { return h.language }

func statusOf(err error) string {
	switch {
	case err == nil:
		return StatusCompleted
	case speech.KindOf(err) == speech.KindTimeout:
		return StatusTimeout
	default:
		return StatusFailed
	}
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
