package tts

import (
	"context"

	"github.com/loqalabs/loqa-speech/internal/speech"
)

// Parameter ranges accepted by synthesis backends.
const (
	MinRate   = 0.1
	MaxRate   = 10.0
	MinPitch  = 0.0
	MaxPitch  = 2.0
	MinVolume = 0.0
	MaxVolume = 1.0

	DefaultLanguage = "en-US"
)

// Voice describes a synthesis voice offered by the platform.
type Voice struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Language string `json:"language"`
	Default  bool   `json:"is_default"`
}

// Request is what a caller asks to have spoken. Use NewRequest to get the
// neutral rate, pitch and volume.
type Request struct {
	Text     string  `json:"text"`
	Voice    string  `json:"voice,omitempty"`
	Language string  `json:"language,omitempty"`
	Rate     float64 `json:"rate"`
	Pitch    float64 `json:"pitch"`
	Volume   float64 `json:"volume"`
}

func NewRequest(text string) Request {
	return Request{Text: text, Language: DefaultLanguage, Rate: 1, Pitch: 1, Volume: 1}
}

// Utterance is a validated request bound to a resolved voice. A zero Voice
// means the platform default.
type Utterance struct {
	ID       string
	Text     string
	Voice    Voice
	Language string
	Rate     float64
	Pitch    float64
	Volume   float64
}

// Synthesizer is the speech output half of the host platform. Speak returns
// once synthesis has been handed to the platform; progress arrives through
// emit. Cancel, Pause and Resume act on whatever is currently speaking.
type Synthesizer interface {
	Speak(ctx context.Context, u Utterance, emit speech.Emitter) error
	Voices(ctx context.Context) ([]Voice, error)
	Cancel()
	Pause()
	Resume()
}
