// Package platform selects the speech backends once at startup and records
// which capabilities the host actually has.
package platform

import (
	"log/slog"
	"os/exec"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-speech/internal/config"
	"github.com/loqalabs/loqa-speech/internal/stt"
	"github.com/loqalabs/loqa-speech/internal/tts"
)

// Backend bundles the output and input halves of the host. Missing
// capabilities are backed by stubs that fail with CapabilityUnavailable.
type Backend struct {
	synth  tts.Synthesizer
	rec    stt.Recognizer
	output bool
	input  bool
}

// New builds a Backend from explicit parts. A nil part is replaced by the
// unsupported stub.
func New(synth tts.Synthesizer, rec stt.Recognizer) *Backend {
	b := &Backend{synth: synth, rec: rec, output: synth != nil, input: rec != nil}
	if synth == nil {
		b.synth = tts.NewUnsupportedSynth()
	}
	if rec == nil {
		b.rec = stt.NewUnsupportedRecognizer()
	}
	return b
}

// Unsupported returns a Backend with neither capability.
func Unsupported() *Backend { return New(nil, nil) }

func (b *Backend) HasOutput() bool              { return b.output }
func (b *Backend) HasInput() bool               { return b.input }
func (b *Backend) Synthesizer() tts.Synthesizer { return b.synth }
func (b *Backend) Recognizer() stt.Recognizer   { return b.rec }

// Probe inspects the configuration and host once and returns the Backend.
func Probe(cfg config.Config, logger *slog.Logger) *Backend {
	log := logger.With(slog.String("component", "platform"))

	var synth tts.Synthesizer
	if cfg.TTS.Enabled {
		switch cfg.TTS.Mode {
		case "mock":
			synth = tts.NewMockSynth(VoicesFromConfig(cfg.TTS.Voices), 0)
		case "exec":
			if commandAvailable(cfg.TTS.Command) {
				s, err := tts.NewExecSynth(cfg.TTS.Command, cfg.TTS.SampleRate, cfg.TTS.Channels, cfg.TTS.OutputDir, logger)
				if err != nil {
					log.Warn("tts exec backend unavailable", slog.String("error", err.Error()))
				} else {
					synth = s
				}
			} else {
				log.Warn("tts command not found", slog.String("command", cfg.TTS.Command))
			}
		}
	}

	var rec stt.Recognizer
	if cfg.STT.Enabled {
		switch cfg.STT.Mode {
		case "mock":
			rec = stt.NewMockRecognizer(cfg.STT.MockPhrase, time.Duration(cfg.STT.MockWordMS)*time.Millisecond)
		case "exec":
			if commandAvailable(cfg.STT.Command) {
				r, err := stt.NewExecRecognizer(cfg.STT, logger)
				if err != nil {
					log.Warn("stt exec backend unavailable", slog.String("error", err.Error()))
				} else {
					rec = r
				}
			} else {
				log.Warn("stt command not found", slog.String("command", cfg.STT.Command))
			}
		}
	}

	b := New(synth, rec)
	log.Info("speech capabilities probed",
		slog.Bool("output", b.HasOutput()),
		slog.String("output_mode", cfg.TTS.Mode),
		slog.Bool("input", b.HasInput()),
		slog.String("input_mode", cfg.STT.Mode))
	return b
}

// VoicesFromConfig converts the configured catalog.
func VoicesFromConfig(voices []config.VoiceConfig) []tts.Voice {
	out := make([]tts.Voice, 0, len(voices))
	for _, v := range voices {
		label := v.Label
		if label == "" {
			label = v.ID
		}
		out = append(out, tts.Voice{ID: v.ID, Label: label, Language: v.Language, Default: v.Default})
	}
	return out
}

func commandAvailable(command string) bool {
	args, err := shellwords.Parse(command)
	if err != nil || len(args) == 0 {
		return false
	}
	_, err = exec.LookPath(args[0])
	return err == nil
}
