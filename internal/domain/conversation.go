package domain

import "time"

// EventKind classifies inbound front-end events.
type EventKind string

const (
	EventStart  EventKind = "start"
	EventText   EventKind = "text"
	EventSelect EventKind = "select"
	EventCancel EventKind = "cancel"
	EventResume EventKind = "resume"
	EventHelp   EventKind = "help"
)

// Event is one inbound delivery from the front end. ID identifies the delivery so
// that re-deliveries can be dropped; Chat identifies the conversation (and session).
type Event struct {
	ID     string
	Chat   string
	Kind   EventKind
	Text   string
	Choice string
}

// Option is a discrete choice offered to the operator.
type Option struct {
	Label string
	Data  string
}

// Document is a file sent to the operator.
type Document struct {
	Name    string
	Body    []byte
	Caption string
}

// Message is an outbound send. Options are laid out one row per slice.
type Message struct {
	Text     string
	Options  [][]Option
	Document *Document
}

// Progress is a liveness update for a long-running stage.
type Progress struct {
	Stage   string
	Detail  string
	Elapsed time.Duration
	Done    bool
}

// Text builds a plain outbound message.
func Text(s string) Message {
	return Message{Text: s}
}
