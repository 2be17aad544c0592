package tts

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-speech/internal/speech"
)

// execSynth drives an external synthesis command. The command reads one JSON
// request on stdin and writes JSON lines of base64 PCM on stdout. Invoked with
// --list-voices it prints the voice catalog as a JSON array.
type execSynth struct {
	cmd        []string
	sampleRate int
	channels   int
	outputDir  string
	logger     *slog.Logger

	mu      sync.Mutex
	current *execPlayback
}

type execRequest struct {
	Text       string  `json:"text"`
	Voice      string  `json:"voice,omitempty"`
	Language   string  `json:"language"`
	Rate       float64 `json:"rate"`
	Pitch      float64 `json:"pitch"`
	Volume     float64 `json:"volume"`
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
}

type execResponse struct {
	PCMBase64 string `json:"pcm_base64"`
	Final     bool   `json:"final"`
	Error     string `json:"error"`
}

type execPlayback struct {
	cancel context.CancelFunc
	gate   *pauseGate
}

func NewExecSynth(command string, sampleRate, channels int, outputDir string, logger *slog.Logger) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &execSynth{
		cmd:        args,
		sampleRate: sampleRate,
		channels:   channels,
		outputDir:  outputDir,
		logger:     logger.With(slog.String("component", "tts-exec")),
	}, nil
}

func (e *execSynth) Speak(ctx context.Context, u Utterance, emit speech.Emitter) error {
	data, err := json.Marshal(execRequest{
		Text:       u.Text,
		Voice:      u.Voice.ID,
		Language:   u.Language,
		Rate:       u.Rate,
		Pitch:      u.Pitch,
		Volume:     u.Volume,
		SampleRate: e.sampleRate,
		Channels:   e.channels,
	})
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, e.cmd[0], e.cmd[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return err
	}
	sink, err := newSink(e.outputDir, u.ID, e.sampleRate, e.channels)
	if err != nil {
		cancel()
		return err
	}
	if err := cmd.Start(); err != nil {
		cancel()
		_ = sink.Close()
		return &speech.Error{Kind: speech.KindCapabilityUnavailable, Code: speech.CodeNotSupported, Err: err}
	}

	p := &execPlayback{cancel: cancel, gate: newPauseGate()}
	e.mu.Lock()
	prev := e.current
	e.current = p
	e.mu.Unlock()
	if prev != nil {
		prev.stop()
	}

	go func() {
		defer cancel()
		defer e.release(p)
		defer func() {
			if err := sink.Close(); err != nil {
				e.logger.Warn("failed to close audio sink", slogError(err))
			}
		}()

		if _, err := stdin.Write(data); err != nil {
			_ = cmd.Wait()
			emit(speech.Failure{Code: speech.CodeSynthesisFailed})
			return
		}
		stdin.Close()
		emit(speech.Started{})

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var resp execResponse
			if err := json.Unmarshal(line, &resp); err != nil {
				e.logger.Warn("invalid tts response line", slogError(err))
				continue
			}
			if resp.Error != "" {
				cancel()
				_ = cmd.Wait()
				emit(speech.Failure{Code: resp.Error})
				return
			}
			if resp.PCMBase64 != "" {
				pcm, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
				if err != nil {
					e.logger.Warn("invalid tts pcm payload", slogError(err))
					continue
				}
				if !p.gate.wait() {
					break
				}
				if err := sink.Write(pcm); err != nil {
					e.logger.Warn("failed to write audio", slogError(err))
				}
			}
			if resp.Final {
				break
			}
		}
		err := cmd.Wait()
		switch {
		case runCtx.Err() != nil:
			emit(speech.Failure{Code: speech.CodeInterrupted})
		case err != nil:
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				e.logger.Warn("tts command failed", slog.Int("exit_code", exitErr.ExitCode()))
			}
			emit(speech.Failure{Code: speech.CodeSynthesisFailed})
		default:
			emit(speech.Ended{})
		}
	}()
	return nil
}

func (e *execSynth) Voices(ctx context.Context) ([]Voice, error) {
	args := append(append([]string{}, e.cmd[1:]...), "--list-voices")
	out, err := exec.CommandContext(ctx, e.cmd[0], args...).Output()
	if err != nil {
		return nil, fmt.Errorf("list voices: %w", err)
	}
	var voices []Voice
	if err := json.Unmarshal(out, &voices); err != nil {
		return nil, fmt.Errorf("decode voices: %w", err)
	}
	return voices, nil
}

func (e *execSynth) release(p *execPlayback) {
	e.mu.Lock()
	if e.current == p {
		e.current = nil
	}
	e.mu.Unlock()
}

func (e *execSynth) active() *execPlayback {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

func (e *execSynth) Cancel() {
	if p := e.active(); p != nil {
		p.stop()
	}
}

func (e *execSynth) Pause() {
	if p := e.active(); p != nil {
		p.gate.pause()
	}
}

func (e *execSynth) Resume() {
	if p := e.active(); p != nil {
		p.gate.resume()
	}
}

func (p *execPlayback) stop() {
	p.cancel()
	p.gate.close()
}

// pauseGate holds audio delivery while paused.
type pauseGate struct {
	mu     sync.Mutex
	cond   *sync.Cond
	paused bool
	closed bool
}

func newPauseGate() *pauseGate {
	g := &pauseGate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// wait blocks while paused and reports false once the gate is closed.
func (g *pauseGate) wait() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.paused && !g.closed {
		g.cond.Wait()
	}
	return !g.closed
}

func (g *pauseGate) pause() {
	g.mu.Lock()
	g.paused = true
	g.mu.Unlock()
}

func (g *pauseGate) resume() {
	g.mu.Lock()
	g.paused = false
	g.mu.Unlock()
	g.cond.Broadcast()
}

func (g *pauseGate) close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.cond.Broadcast()
}
