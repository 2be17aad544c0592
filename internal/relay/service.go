// Package relay carries speak and listen requests between the NATS bus and
// the controller.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-speech/internal/bus"
	"github.com/loqalabs/loqa-speech/internal/controller"
	"github.com/loqalabs/loqa-speech/internal/protocol"
	"github.com/loqalabs/loqa-speech/internal/speech"
	"github.com/loqalabs/loqa-speech/internal/stt"
	"github.com/loqalabs/loqa-speech/internal/tts"
)

const statusRetention = 24 * time.Hour

// Config tunes the relay. Continuous and Interim apply to listen requests that
// leave them unset. A non-empty Stream keeps the status and done subjects in a
// JetStream stream of that name.
type Config struct {
	Stream     string
	Continuous bool
	Interim    bool
}

type Service struct {
	bus    *bus.Client
	ctl    *controller.Controller
	cfg    Config
	subs   []*nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger

	mu        sync.Mutex
	listeners map[string]*controller.InputHandle
	ready     bool
}

func NewService(parent context.Context, cfg Config, busClient *bus.Client, ctl *controller.Controller, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		bus:       busClient,
		ctl:       ctl,
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		logger:    log.With(slog.String("component", "relay")),
		listeners: make(map[string]*controller.InputHandle),
	}
}

func (s *Service) Start() error {
	if s.cfg.Stream != "" {
		subjects := []string{protocol.SubjectOutputStatus, protocol.SubjectInputDone}
		if err := s.bus.EnsureStream(s.cfg.Stream, subjects, statusRetention); err != nil {
			return err
		}
	}
	handlers := map[string]nats.MsgHandler{
		protocol.SubjectOutputRequest: s.handleSpeak,
		protocol.SubjectInputStart:    s.handleListen,
		protocol.SubjectInputStop:     s.handleStop,
	}
	for subject, handler := range handlers {
		sub, err := s.bus.Conn().Subscribe(subject, handler)
		if err != nil {
			s.unsubscribe()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
	return nil
}

func (s *Service) Close() {
	s.cancel()
	s.unsubscribe()

	s.mu.Lock()
	handles := make([]*controller.InputHandle, 0, len(s.listeners))
	for _, h := range s.listeners {
		handles = append(handles, h)
	}
	s.ready = false
	s.mu.Unlock()
	for _, h := range handles {
		h.Stop()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready && s.bus.Healthy()
}

func (s *Service) unsubscribe() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
}

func (s *Service) handleSpeak(msg *nats.Msg) {
	var req protocol.SpeakRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode speak request", slogError(err))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		status := protocol.OutputStatus{RequestID: req.RequestID, Status: controller.StatusCompleted}
		out, err := s.ctl.RunOutput(s.ctx, speakRequest(req))
		if err == nil {
			err = out.Err
		}
		status.SessionID = out.SessionID
		if err != nil {
			status.Status = controller.StatusFailed
			status.Error = string(speech.KindOf(err))
			status.Message = speech.UserMessage(err)
		}
		status.Timestamp = time.Now().UTC()

		data := s.publish(protocol.SubjectOutputStatus, status)
		if msg.Reply != "" && data != nil {
			if err := msg.Respond(data); err != nil {
				s.logger.Warn("failed to reply to speak request", slogError(err))
			}
		}
	}()
}

func speakRequest(req protocol.SpeakRequest) tts.Request {
	out := tts.NewRequest(req.Text)
	out.Voice = req.Voice
	out.Language = req.Language
	if req.Rate != nil {
		out.Rate = *req.Rate
	}
	if req.Pitch != nil {
		out.Pitch = *req.Pitch
	}
	if req.Volume != nil {
		out.Volume = *req.Volume
	}
	return out
}

func (s *Service) handleListen(msg *nats.Msg) {
	var req protocol.ListenRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode listen request", slogError(err))
		return
	}
	transcript := func(partial bool) func(string) {
		subject := protocol.SubjectInputFinal
		if partial {
			subject = protocol.SubjectInputPartial
		}
		return func(text string) {
			s.publish(subject, protocol.Transcript{
				RequestID: req.RequestID,
				Text:      text,
				Partial:   partial,
				Timestamp: time.Now().UTC(),
			})
		}
	}

	listen := stt.Request{Language: req.Language, Continuous: s.cfg.Continuous, Interim: s.cfg.Interim}
	if req.Continuous != nil {
		listen.Continuous = *req.Continuous
	}
	if req.Interim != nil {
		listen.Interim = *req.Interim
	}
	h, err := s.ctl.RunInput(s.ctx, listen, transcript(true), transcript(false), nil)
	if err != nil {
		s.publish(protocol.SubjectInputDone, protocol.ListenDone{
			RequestID: req.RequestID,
			Error:     string(speech.KindOf(err)),
			Message:   speech.UserMessage(err),
			Timestamp: time.Now().UTC(),
		})
		return
	}

	s.mu.Lock()
	s.listeners[req.RequestID] = h
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res := <-h.Done()

		s.mu.Lock()
		if s.listeners[req.RequestID] == h {
			delete(s.listeners, req.RequestID)
		}
		s.mu.Unlock()

		done := protocol.ListenDone{
			RequestID:  req.RequestID,
			SessionID:  res.SessionID,
			Transcript: res.Transcript,
			NoSpeech:   res.NoSpeech,
			TimedOut:   res.TimedOut,
			Timestamp:  time.Now().UTC(),
		}
		if res.Err != nil {
			done.Error = string(speech.KindOf(res.Err))
			done.Message = speech.UserMessage(res.Err)
		}
		s.publish(protocol.SubjectInputDone, done)
	}()
}

func (s *Service) handleStop(msg *nats.Msg) {
	var req protocol.ListenStop
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode listen stop", slogError(err))
		return
	}
	s.mu.Lock()
	h := s.listeners[req.RequestID]
	s.mu.Unlock()
	if h == nil {
		s.logger.Debug("stop for unknown listen request", slog.String("request_id", req.RequestID))
		return
	}
	h.Stop()
}

func (s *Service) publish(subject string, v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("failed to marshal message", slog.String("subject", subject), slogError(err))
		return nil
	}
	if err := s.bus.Conn().Publish(subject, data); err != nil {
		s.logger.Warn("failed to publish message", slog.String("subject", subject), slogError(err))
	}
	return data
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
