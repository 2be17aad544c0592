package stt

import (
	"context"

	"github.com/loqalabs/loqa-speech/internal/speech"
)

const DefaultLanguage = "en-US"

// NoSpeechTranscript is the transcript of a session that heard nothing.
const NoSpeechTranscript = "[no speech detected]"

// Request configures one listening session. When Continuous is false the
// session stops itself after the first final segment.
type Request struct {
	Language   string `json:"language"`
	Continuous bool   `json:"continuous"`
	Interim    bool   `json:"interim"`
}

// Result is the terminal outcome of one listening session. Listening into
// silence is not a failure: NoSpeech is set and Err stays nil.
type Result struct {
	SessionID  string
	Transcript string
	NoSpeech   bool
	TimedOut   bool
	Err        error
}

func (r Result) Failed() bool { return r.Err != nil }

// Recognizer is the speech input half of the host platform. Start returns once
// capture has begun; results arrive through emit until Ended.
type Recognizer interface {
	Start(ctx context.Context, req Request, emit speech.Emitter) error
	Stop()
}
