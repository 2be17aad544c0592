package speech

// Event is emitted by a platform backend while a session runs. The concrete
// types are Started, Result, Failure and Ended.
type Event interface {
	event()
}

// Started signals that the platform began producing or capturing audio.
type Started struct{}

// Segment is one transcript fragment inside a Result batch.
type Segment struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// Result carries the transcript segments of a single platform batch in the
// order the platform reported them.
type Result struct {
	Segments []Segment
}

// Failure carries a platform error code such as "no-speech" or "not-allowed".
type Failure struct {
	Code string
}

// Ended signals that the platform finished, either naturally or after a stop.
type Ended struct{}

func (Started) event() {}
func (Result) event()  {}
func (Failure) event() {}
func (Ended) event()   {}

// Emitter receives platform events for one session run.
type Emitter func(Event)
