package stt

import (
	"context"

	"github.com/loqalabs/loqa-speech/internal/speech"
)

// unsupportedRecognizer stands in for hosts without speech recognition.
type unsupportedRecognizer struct{}

func NewUnsupportedRecognizer() Recognizer { return unsupportedRecognizer{} }

func (unsupportedRecognizer) Start(context.Context, Request, speech.Emitter) error {
	return speech.Unavailable("speech recognition")
}

func (unsupportedRecognizer) Stop() {}
