package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loqalabs/loqa-speech/internal/controller"
	"github.com/loqalabs/loqa-speech/internal/platform"
	"github.com/loqalabs/loqa-speech/internal/stt"
	"github.com/loqalabs/loqa-speech/internal/tts"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestServer(t *testing.T, backend *platform.Backend, opts ...Option) *httptest.Server {
	t.Helper()
	ctl := controller.New(backend, controller.WithLogger(newLogger()), controller.WithVoicesWait(0))
	t.Cleanup(ctl.Close)
	srv := httptest.NewServer(New(ctl, newLogger(), opts...).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func mockBackend(phrase string) *platform.Backend {
	voices := []tts.Voice{
		{ID: "en-US-standard", Label: "English (US)", Language: "en-US", Default: true},
		{ID: "de-DE-standard", Label: "Deutsch", Language: "de-DE"},
	}
	return platform.New(tts.NewMockSynth(voices, 5*time.Millisecond), stt.NewMockRecognizer(phrase, 5*time.Millisecond))
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealthAndReady(t *testing.T) {
	var ready atomic.Bool
	srv := newTestServer(t, mockBackend(""), WithReadiness(ready.Load))

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before ready, got %d", resp.StatusCode)
	}

	ready.Store(true)
	resp, err = http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 when ready, got %d", resp.StatusCode)
	}
}

func TestMetricsMounted(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	srv := newTestServer(t, mockBackend(""), WithMetrics(metrics))

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "# metrics" {
		t.Fatalf("unexpected metrics body %q", body)
	}
}

func TestTextToSpeechEcho(t *testing.T) {
	srv := newTestServer(t, mockBackend(""))

	resp, err := http.Post(srv.URL+"/api/text-to-speech?voice=nova", "application/json", strings.NewReader(`{"text":"hello"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["text"] != "hello" || body["voice"] != "nova" {
		t.Fatalf("unexpected echo %v", body)
	}
}

func TestTextToSpeechRequiresText(t *testing.T) {
	srv := newTestServer(t, mockBackend(""))

	resp, err := http.Post(srv.URL+"/api/text-to-speech", "application/json", strings.NewReader(`{"text":"   "}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if body := decodeBody(t, resp); body["error"] != "Text is required" {
		t.Fatalf("unexpected error body %v", body)
	}
}

func TestSpeak(t *testing.T) {
	srv := newTestServer(t, mockBackend(""))

	resp, err := http.Post(srv.URL+"/api/speak", "application/json", strings.NewReader(`{"text":"hi there","rate":15}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["status"] != "completed" || body["session_id"] == "" {
		t.Fatalf("unexpected speak body %v", body)
	}
}

func TestSpeakErrors(t *testing.T) {
	srv := newTestServer(t, mockBackend(""))

	resp, err := http.Post(srv.URL+"/api/speak", "application/json", strings.NewReader(`{"text":""}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if body := decodeBody(t, resp); body["error"] != "invalid_argument" {
		t.Fatalf("unexpected error body %v", body)
	}

	unsupported := newTestServer(t, platform.Unsupported())
	resp, err = http.Post(unsupported.URL+"/api/speak", "application/json", strings.NewReader(`{"text":"hello"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["error"] != "capability_unavailable" || body["message"] == "" {
		t.Fatalf("unexpected error body %v", body)
	}
}

func TestVoicesAndLanguages(t *testing.T) {
	srv := newTestServer(t, mockBackend(""))

	resp, err := http.Get(srv.URL + "/api/voices")
	if err != nil {
		t.Fatalf("voices: %v", err)
	}
	var voices struct {
		Voices []controller.Voice `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&voices); err != nil {
		t.Fatalf("decode voices: %v", err)
	}
	resp.Body.Close()
	if len(voices.Voices) != 2 || !voices.Voices[0].IsDefault {
		t.Fatalf("unexpected voices %+v", voices.Voices)
	}

	resp, err = http.Get(srv.URL + "/api/languages")
	if err != nil {
		t.Fatalf("languages: %v", err)
	}
	var langs struct {
		Languages []controller.Language `json:"languages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&langs); err != nil {
		t.Fatalf("decode languages: %v", err)
	}
	resp.Body.Close()
	if len(langs.Languages) == 0 || langs.Languages[0].Tag != "en-US" {
		t.Fatalf("unexpected languages %+v", langs.Languages)
	}
}

func dialListen(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/listen"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) ServerFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame ServerFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func TestListenStreamsTranscript(t *testing.T) {
	srv := newTestServer(t, mockBackend("hello world"))
	conn := dialListen(t, srv)

	if err := conn.WriteJSON(ClientFrame{Type: FrameStart, Interim: true}); err != nil {
		t.Fatalf("write start: %v", err)
	}

	var types []string
	var final, done ServerFrame
	for {
		frame := readFrame(t, conn)
		types = append(types, frame.Type)
		if frame.Type == FrameFinal {
			final = frame
		}
		if frame.Type == FrameDone {
			done = frame
			break
		}
	}
	want := []string{FramePartial, FrameFinal, FrameDone}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("expected frames %v, got %v", want, types)
	}
	if final.Text != "hello world" || done.Transcript != "hello world" || done.SessionID == "" {
		t.Fatalf("unexpected frames final=%+v done=%+v", final, done)
	}
}

func TestListenStopContinuous(t *testing.T) {
	srv := newTestServer(t, mockBackend("keep going"))
	conn := dialListen(t, srv)

	if err := conn.WriteJSON(ClientFrame{Type: FrameStart, Continuous: true}); err != nil {
		t.Fatalf("write start: %v", err)
	}
	if frame := readFrame(t, conn); frame.Type != FrameFinal {
		t.Fatalf("expected final frame, got %+v", frame)
	}
	if err := conn.WriteJSON(ClientFrame{Type: FrameStop}); err != nil {
		t.Fatalf("write stop: %v", err)
	}
	frame := readFrame(t, conn)
	if frame.Type != FrameDone || frame.Transcript != "keep going" {
		t.Fatalf("expected done frame, got %+v", frame)
	}
}

func TestListenWithoutCapability(t *testing.T) {
	srv := newTestServer(t, platform.Unsupported())
	conn := dialListen(t, srv)

	if err := conn.WriteJSON(ClientFrame{Type: FrameStart}); err != nil {
		t.Fatalf("write start: %v", err)
	}
	frame := readFrame(t, conn)
	if frame.Type != FrameError || frame.Error != "capability_unavailable" {
		t.Fatalf("expected capability error frame, got %+v", frame)
	}
}

func TestListenRejectsBadFrames(t *testing.T) {
	srv := newTestServer(t, mockBackend(""))
	conn := dialListen(t, srv)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if frame := readFrame(t, conn); frame.Type != FrameError {
		t.Fatalf("expected error frame, got %+v", frame)
	}
	if err := conn.WriteJSON(ClientFrame{Type: "dance"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if frame := readFrame(t, conn); frame.Type != FrameError {
		t.Fatalf("expected error frame, got %+v", frame)
	}
}
