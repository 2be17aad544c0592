package runtime

import (
	"context"
	"encoding/json"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-speech/internal/controller"
	"github.com/loqalabs/loqa-speech/internal/eventstore"
	"github.com/loqalabs/loqa-speech/internal/speech"
)

// storeRecorder writes finished sessions to the event store. Failures are
// logged and never reach the session.
type storeRecorder struct {
	store  *eventstore.Store
	logger *slog.Logger
}

type outcomePayload struct {
	Transcript string `json:"transcript,omitempty"`
	Error      string `json:"error,omitempty"`
	Code       string `json:"code,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

func newStoreRecorder(store *eventstore.Store, logger *slog.Logger) *storeRecorder {
	return &storeRecorder{store: store, logger: logger.With(slog.String("component", "session-recorder"))}
}

func (r *storeRecorder) Record(ctx context.Context, rec controller.Record) {
	if rec.SessionID == "" {
		return
	}
	if err := r.store.AppendSession(ctx, rec.SessionID, rec.Kind, rec.Language); err != nil {
		r.logger.Warn("failed to record session", slog.String("session_id", rec.SessionID), slogError(err))
		return
	}

	var traceID string
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	events := []eventstore.Event{{SessionID: rec.SessionID, TraceID: traceID, Type: eventstore.TypeStarted, CreatedAt: rec.StartedAt.UTC()}}
	payload := outcomePayload{
		Transcript: rec.Transcript,
		DurationMS: rec.EndedAt.Sub(rec.StartedAt).Milliseconds(),
	}
	if rec.Err != nil {
		payload.Error = string(speech.KindOf(rec.Err))
		payload.Code = speech.CodeOf(rec.Err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Warn("failed to encode session outcome", slogError(err))
	}
	events = append(events, eventstore.Event{
		SessionID: rec.SessionID,
		TraceID:   traceID,
		Type:      eventType(rec.Status),
		Payload:   data,
		CreatedAt: rec.EndedAt.UTC(),
	})

	for _, evt := range events {
		if err := r.store.AppendEvent(ctx, evt); err != nil {
			r.logger.Warn("failed to record session event", slog.String("session_id", rec.SessionID), slog.String("type", evt.Type), slogError(err))
			return
		}
	}
}

func eventType(status string) string {
	switch status {
	case controller.StatusFailed:
		return eventstore.TypeFailed
	case controller.StatusNoSpeech:
		return eventstore.TypeNoSpeech
	case controller.StatusTimeout:
		return eventstore.TypeTimeout
	default:
		return eventstore.TypeCompleted
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
