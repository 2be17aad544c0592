package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/loqalabs/loqa-speech/internal/controller"
	"github.com/loqalabs/loqa-speech/internal/speech"
	"github.com/loqalabs/loqa-speech/internal/stt"
)

// Frame types on the /api/listen socket.
const (
	FrameStart   = "start"
	FrameStop    = "stop"
	FramePartial = "partial"
	FrameFinal   = "final"
	FrameError   = "error"
	FrameDone    = "done"
)

// ClientFrame is sent by the browser.
type ClientFrame struct {
	Type       string `json:"type"`
	Language   string `json:"language,omitempty"`
	Continuous bool   `json:"continuous,omitempty"`
	Interim    bool   `json:"interim,omitempty"`
}

// ServerFrame is sent to the browser.
type ServerFrame struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id,omitempty"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	NoSpeech   bool   `json:"no_speech,omitempty"`
	TimedOut   bool   `json:"timed_out,omitempty"`
	Error      string `json:"error,omitempty"`
	Message    string `json:"message,omitempty"`
}

type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(frame ServerFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(frame)
}

func errorFrame(err error) ServerFrame {
	return ServerFrame{Type: FrameError, Error: string(speech.KindOf(err)), Message: speech.UserMessage(err)}
}

func (s *Server) handleListen(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxBodyBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ws := &wsConn{conn: conn}
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		handle *controller.InputHandle
	)
	stop := func() {
		mu.Lock()
		h := handle
		mu.Unlock()
		if h != nil {
			h.Stop()
		}
	}
	defer wg.Wait()
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("listen socket closed", slogError(err))
			}
			return
		}
		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			_ = ws.send(ServerFrame{Type: FrameError, Error: string(speech.KindInvalidArgument), Message: "invalid frame"})
			continue
		}

		switch frame.Type {
		case FrameStart:
			req := stt.Request{Language: frame.Language, Continuous: frame.Continuous, Interim: frame.Interim}
			h, err := s.ctl.RunInput(ctx, req,
				func(text string) { _ = ws.send(ServerFrame{Type: FramePartial, Text: text}) },
				func(text string) { _ = ws.send(ServerFrame{Type: FrameFinal, Text: text}) },
				func(err error) { _ = ws.send(errorFrame(err)) },
			)
			if err != nil {
				_ = ws.send(errorFrame(err))
				continue
			}
			mu.Lock()
			handle = h
			mu.Unlock()

			wg.Add(1)
			go func() {
				defer wg.Done()
				res := <-h.Done()
				mu.Lock()
				if handle == h {
					handle = nil
				}
				mu.Unlock()
				_ = ws.send(ServerFrame{
					Type:       FrameDone,
					SessionID:  res.SessionID,
					Transcript: res.Transcript,
					NoSpeech:   res.NoSpeech,
					TimedOut:   res.TimedOut,
				})
			}()
		case FrameStop:
			stop()
		default:
			_ = ws.send(ServerFrame{Type: FrameError, Error: string(speech.KindInvalidArgument), Message: "unknown frame type " + frame.Type})
		}
	}
}
