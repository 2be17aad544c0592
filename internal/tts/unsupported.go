package tts

import (
	"context"

	"github.com/loqalabs/loqa-speech/internal/speech"
)

// unsupportedSynth stands in for hosts without speech synthesis.
type unsupportedSynth struct{}

func NewUnsupportedSynth() Synthesizer { return unsupportedSynth{} }

func (unsupportedSynth) Speak(context.Context, Utterance, speech.Emitter) error {
	return speech.Unavailable("speech synthesis")
}

func (unsupportedSynth) Voices(context.Context) ([]Voice, error) {
	return nil, speech.Unavailable("speech synthesis")
}

func (unsupportedSynth) Cancel() {}
func (unsupportedSynth) Pause()  {}
func (unsupportedSynth) Resume() {}
