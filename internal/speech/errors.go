package speech

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies session failures.
type Kind string

const (
	KindInvalidArgument       Kind = "invalid_argument"
	KindCapabilityUnavailable Kind = "capability_unavailable"
	KindPermissionDenied      Kind = "permission_denied"
	KindNoSpeech              Kind = "no_speech"
	KindMicrophoneUnavailable Kind = "microphone_unavailable"
	KindTimeout               Kind = "timeout"
	KindAlreadyActive         Kind = "already_active"
	KindUnknown               Kind = "unknown"
)

// Error is the typed failure returned by sessions and backends. Code holds the
// raw platform error code when one exists.
type Error struct {
	Kind Kind
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Code != "" {
		b.WriteString("(")
		b.WriteString(e.Code)
		b.WriteString(")")
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so callers can compare against the
// exported sentinels with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

var (
	ErrInvalidArgument       = &Error{Kind: KindInvalidArgument}
	ErrCapabilityUnavailable = &Error{Kind: KindCapabilityUnavailable}
	ErrPermissionDenied      = &Error{Kind: KindPermissionDenied}
	ErrNoSpeech              = &Error{Kind: KindNoSpeech}
	ErrMicrophoneUnavailable = &Error{Kind: KindMicrophoneUnavailable}
	ErrTimeout               = &Error{Kind: KindTimeout}
	ErrAlreadyActive         = &Error{Kind: KindAlreadyActive}
	ErrUnknown               = &Error{Kind: KindUnknown}
)

// Errorf builds an *Error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Unavailable reports a missing host capability such as "speech synthesis".
func Unavailable(capability string) *Error {
	return &Error{Kind: KindCapabilityUnavailable, Msg: capability + " is not supported on this host"}
}

// Platform error codes reported by recognition and synthesis engines.
const (
	CodeNoSpeech           = "no-speech"
	CodeAudioCapture       = "audio-capture"
	CodeNotAllowed         = "not-allowed"
	CodeServiceNotAllowed  = "service-not-allowed"
	CodeSynthesisFailed    = "synthesis-failed"
	CodeInterrupted        = "interrupted"
	CodeCanceled           = "canceled"
	CodeNotSupported       = "not-supported"
	CodeNetwork            = "network"
	CodeLanguageNotSupport = "language-not-supported"
)

// Classify maps a platform error code onto the taxonomy.
func Classify(code string) *Error {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case CodeNoSpeech:
		return &Error{Kind: KindNoSpeech, Code: code}
	case CodeAudioCapture:
		return &Error{Kind: KindMicrophoneUnavailable, Code: code}
	case CodeNotAllowed, CodeServiceNotAllowed:
		return &Error{Kind: KindPermissionDenied, Code: code}
	case CodeNotSupported:
		return &Error{Kind: KindCapabilityUnavailable, Code: code}
	default:
		return &Error{Kind: KindUnknown, Code: code}
	}
}

// KindOf returns the kind carried by err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf returns the platform code carried by err, if any.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage renders err as text a person can act on.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case KindCapabilityUnavailable:
		return "Speech features are not available here. Try a host with speech synthesis and recognition support."
	case KindPermissionDenied:
		return "Microphone access was denied. Allow microphone access and try again."
	case KindMicrophoneUnavailable:
		return "No microphone was found. Connect a microphone and try again."
	case KindNoSpeech:
		return "No speech was detected. Try speaking closer to the microphone."
	case KindInvalidArgument:
		return "Enter some text to speak."
	case KindTimeout:
		return "The speech session took too long and was stopped."
	case KindAlreadyActive:
		return "Listening is already in progress."
	default:
		if code := CodeOf(err); code != "" {
			return "Speech error: " + code
		}
		return "Speech error: " + err.Error()
	}
}
