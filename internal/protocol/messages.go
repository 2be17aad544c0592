package protocol

import "time"

// SpeakRequest asks the daemon to speak text. Unset numeric fields take the
// neutral value 1.
type SpeakRequest struct {
	RequestID string   `json:"request_id"`
	Text      string   `json:"text"`
	Voice     string   `json:"voice,omitempty"`
	Language  string   `json:"language,omitempty"`
	Rate      *float64 `json:"rate,omitempty"`
	Pitch     *float64 `json:"pitch,omitempty"`
	Volume    *float64 `json:"volume,omitempty"`
}

// OutputStatus reports the terminal state of a SpeakRequest.
type OutputStatus struct {
	RequestID string    `json:"request_id"`
	SessionID string    `json:"session_id,omitempty"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ListenRequest starts a listening session. Unset flags take the daemon's
// configured defaults.
type ListenRequest struct {
	RequestID  string `json:"request_id"`
	Language   string `json:"language,omitempty"`
	Continuous *bool  `json:"continuous,omitempty"`
	Interim    *bool  `json:"interim,omitempty"`
}

// ListenStop ends the listening session started by RequestID.
type ListenStop struct {
	RequestID string `json:"request_id"`
}

// Transcript represents recognized text broadcast on the bus.
type Transcript struct {
	RequestID string    `json:"request_id"`
	Text      string    `json:"text"`
	Partial   bool      `json:"partial"`
	Timestamp time.Time `json:"timestamp"`
}

// ListenDone reports the terminal state of a listening session.
type ListenDone struct {
	RequestID  string    `json:"request_id"`
	SessionID  string    `json:"session_id,omitempty"`
	Transcript string    `json:"transcript"`
	NoSpeech   bool      `json:"no_speech,omitempty"`
	TimedOut   bool      `json:"timed_out,omitempty"`
	Error      string    `json:"error,omitempty"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	SubjectOutputRequest = "speech.output.request"
	SubjectOutputStatus  = "speech.output.status"
	SubjectInputStart    = "speech.input.start"
	SubjectInputStop     = "speech.input.stop"
	SubjectInputPartial  = "speech.input.partial"
	SubjectInputFinal    = "speech.input.final"
	SubjectInputDone     = "speech.input.done"
)
