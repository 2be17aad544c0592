// Package httpapi exposes the controller over HTTP and a websocket transcript
// stream.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/loqalabs/loqa-speech/internal/controller"
	"github.com/loqalabs/loqa-speech/internal/speech"
	"github.com/loqalabs/loqa-speech/internal/tts"
)

const maxBodyBytes = 64 << 10

type Server struct {
	ctl      *controller.Controller
	ready    func() bool
	metrics  http.Handler
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

type Option func(*Server)

// WithReadiness sets the probe behind /readyz.
func WithReadiness(fn func() bool) Option { return func(s *Server) { s.ready = fn } }

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option { return func(s *Server) { s.metrics = h } }

func New(ctl *controller.Controller, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		ctl:    ctl,
		ready:  func() bool { return true },
		logger: logger.With(slog.String("component", "httpapi")),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/text-to-speech", s.handleTextToSpeech)
		r.Post("/speak", s.handleSpeak)
		r.Get("/voices", s.handleVoices)
		r.Get("/languages", s.handleLanguages)
		r.Get("/listen", s.handleListen)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

// handleTextToSpeech validates and echoes the request. It does not synthesize.
func (s *Server) handleTextToSpeech(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Text is required"})
		return
	}
	voice := r.URL.Query().Get("voice")
	if voice == "" {
		voice = "default"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Text received",
		"text":    body.Text,
		"voice":   voice,
	})
}

type speakRequest struct {
	Text     string   `json:"text"`
	Voice    string   `json:"voice"`
	Language string   `json:"language"`
	Rate     *float64 `json:"rate"`
	Pitch    *float64 `json:"pitch"`
	Volume   *float64 `json:"volume"`
}

func (b speakRequest) request() tts.Request {
	req := tts.NewRequest(b.Text)
	req.Voice = b.Voice
	req.Language = b.Language
	if b.Rate != nil {
		req.Rate = *b.Rate
	}
	if b.Pitch != nil {
		req.Pitch = *b.Pitch
	}
	if b.Volume != nil {
		req.Volume = *b.Volume
	}
	return req
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var body speakRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}

	out, err := s.ctl.RunOutput(r.Context(), body.request())
	if err != nil {
		writeError(w, err)
		return
	}
	if out.Err != nil {
		s.logger.Warn("speak failed", slog.String("session_id", out.SessionID), slogError(out.Err))
		writeJSON(w, statusFor(out.Err), map[string]any{
			"session_id": out.SessionID,
			"status":     "failed",
			"error":      string(speech.KindOf(out.Err)),
			"message":    speech.UserMessage(out.Err),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": out.SessionID, "status": "completed"})
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	voices, err := s.ctl.ListVoices(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if voices == nil {
		voices = []controller.Voice{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"voices": voices})
}

func (s *Server) handleLanguages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"languages": s.ctl.ListLanguages()})
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]any{
		"error":   string(speech.KindOf(err)),
		"message": speech.UserMessage(err),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, speech.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, speech.ErrCapabilityUnavailable):
		return http.StatusNotImplemented
	case errors.Is(err, speech.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, speech.ErrAlreadyActive):
		return http.StatusConflict
	case errors.Is(err, speech.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
