package stream

import (
	"encoding/json"

	"github.com/go-go-golems/vivarium/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type EventType string

const (
	MessageStartType      EventType = "message_start"
	ContentBlockDeltaType EventType = "content_block_delta"
	ErrorType             EventType = "error"
)

type DeltaType string

const (
	TextDeltaType DeltaType = "text_delta"
)

// StreamEvent is the closed set of things a stream can tell the exchange.
// Consumers switch over MessageStart, ContentDelta, Done, StreamError and
// Unknown.
type StreamEvent interface {
	zerolog.LogObjectMarshaler
	isStreamEvent()
}

type MessageStart struct {
	Role  conversation.Role
	ID    string
	Usage *conversation.TokenUsage
}

type ContentDelta struct {
	Text string
}

type Done struct{}

// StreamError is an error frame the server sends in place of further content
// when the upstream completion failed.
type StreamError struct {
	Type    string
	Message string
}

// Unknown is any frame whose type we don't act on.
type Unknown struct {
	Type EventType
}

func (MessageStart) isStreamEvent() {}
func (ContentDelta) isStreamEvent() {}
func (Done) isStreamEvent()         {}
func (StreamError) isStreamEvent()  {}
func (Unknown) isStreamEvent()      {}

func (m MessageStart) MarshalZerologObject(e *zerolog.Event) {
	e.Str("event", string(MessageStartType))
	e.Str("role", string(m.Role))
	e.Str("id", m.ID)
	if m.Usage != nil {
		e.Object("usage", m.Usage)
	}
}

func (c ContentDelta) MarshalZerologObject(e *zerolog.Event) {
	e.Str("event", string(ContentBlockDeltaType))
	e.Int("length", len(c.Text))
}

func (Done) MarshalZerologObject(e *zerolog.Event) {
	e.Str("event", "done")
}

func (s StreamError) MarshalZerologObject(e *zerolog.Event) {
	e.Str("event", string(ErrorType))
	e.Str("type", s.Type)
	e.Str("message", s.Message)
}

func (u Unknown) MarshalZerologObject(e *zerolog.Event) {
	e.Str("event", "unknown")
	e.Str("type", string(u.Type))
}

func (s StreamError) Error() string {
	if s.Type == "" {
		return "stream error: " + s.Message
	}
	return "stream error (" + s.Type + "): " + s.Message
}

// frame is the wire shape of a single data payload.
type frame struct {
	Type    EventType     `json:"type"`
	Message *frameMessage `json:"message,omitempty"`
	Delta   *frameDelta   `json:"delta,omitempty"`
	Error   *frameError   `json:"error,omitempty"`
}

type frameMessage struct {
	ID    string                   `json:"id"`
	Role  conversation.Role        `json:"role"`
	Usage *conversation.TokenUsage `json:"usage,omitempty"`
}

type frameDelta struct {
	Type DeltaType       `json:"type"`
	Text json.RawMessage `json:"text,omitempty"`
}

type frameError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Interpret maps one data payload to a StreamEvent. It only fails when the
// payload is not valid JSON; shapes it doesn't recognize become Unknown.
func Interpret(payload []byte) (StreamEvent, error) {
	var f frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return nil, errors.Wrap(err, "could not parse frame")
	}

	switch f.Type {
	case MessageStartType:
		// the server also sends bare message_start frames before usage is known
		if f.Message == nil {
			return Unknown{Type: f.Type}, nil
		}
		return MessageStart{
			Role:  f.Message.Role,
			ID:    f.Message.ID,
			Usage: f.Message.Usage,
		}, nil

	case ContentBlockDeltaType:
		if f.Delta == nil || f.Delta.Type != TextDeltaType {
			return Unknown{Type: f.Type}, nil
		}
		if len(f.Delta.Text) == 0 || f.Delta.Text[0] != '"' {
			return Unknown{Type: f.Type}, nil
		}
		var text string
		if err := json.Unmarshal(f.Delta.Text, &text); err != nil {
			return Unknown{Type: f.Type}, nil
		}
		return ContentDelta{Text: text}, nil

	case ErrorType:
		ret := StreamError{}
		if f.Error != nil {
			ret.Type = f.Error.Type
			ret.Message = f.Error.Message
		}
		return ret, nil

	default:
		return Unknown{Type: f.Type}, nil
	}
}
