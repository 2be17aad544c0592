package stt

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-speech/internal/config"
	"github.com/loqalabs/loqa-speech/internal/speech"
)

// execRecognizer runs an external capture command that prints one JSON event
// per line:
//
//	{"type":"start"}
//	{"type":"result","segments":[{"text":"hello","final":false}]}
//	{"type":"error","code":"not-allowed"}
//	{"type":"end"}
type execRecognizer struct {
	cmd    []string
	cfg    config.STTConfig
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

type execEvent struct {
	Type     string           `json:"type"`
	Segments []speech.Segment `json:"segments"`
	Code     string           `json:"code"`
}

func NewExecRecognizer(cfg config.STTConfig, logger *slog.Logger) (Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &execRecognizer{cmd: args, cfg: cfg, logger: logger.With(slog.String("component", "stt-exec"))}, nil
}

func (r *execRecognizer) Start(ctx context.Context, req Request, emit speech.Emitter) error {
	language := req.Language
	if language == "" {
		language = r.cfg.Language
	}
	cmdArgs := append([]string{}, r.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--language", language)
	if req.Continuous {
		cmdArgs = append(cmdArgs, "--continuous")
	}
	if req.Interim {
		cmdArgs = append(cmdArgs, "--interim")
	}

	runCtx, cancel := context.WithCancel(ctx)
	command := exec.CommandContext(runCtx, r.cmd[0], cmdArgs...)
	stdout, err := command.StdoutPipe()
	if err != nil {
		cancel()
		return err
	}
	if err := command.Start(); err != nil {
		cancel()
		return &speech.Error{Kind: speech.KindCapabilityUnavailable, Code: speech.CodeNotSupported, Err: err}
	}

	r.mu.Lock()
	prev := r.cancel
	r.cancel = cancel
	r.mu.Unlock()
	if prev != nil {
		prev()
	}

	go func() {
		defer cancel()
		ended := false
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var evt execEvent
			if err := json.Unmarshal(line, &evt); err != nil {
				r.logger.Warn("invalid stt event line", slogError(err))
				continue
			}
			switch evt.Type {
			case "start":
				emit(speech.Started{})
			case "result":
				emit(speech.Result{Segments: evt.Segments})
			case "error":
				emit(speech.Failure{Code: evt.Code})
			case "end":
				ended = true
				emit(speech.Ended{})
			default:
				r.logger.Warn("unknown stt event type", slog.String("type", evt.Type))
			}
		}
		if err := command.Wait(); err != nil && runCtx.Err() == nil {
			r.logger.Warn("stt command exited with error", slogError(err))
			emit(speech.Failure{Code: "process-exited"})
		}
		if !ended {
			emit(speech.Ended{})
		}
	}()
	return nil
}

func (r *execRecognizer) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
