package events

import (
	"encoding/json"

	"github.com/go-go-golems/vivarium/pkg/conversation"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type EventType string

const (
	// EventTypeStart is published once the optimistic messages are in place
	// and the request is about to go out.
	EventTypeStart             EventType = "start"
	EventTypePartialCompletion EventType = "partial"
	EventTypeFinal             EventType = "final"
	EventTypeError             EventType = "error"
	EventTypeInterrupt         EventType = "interrupt"
	EventTypeStateChanged      EventType = "state-changed"
	EventTypeReconciled        EventType = "reconciled"
)

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

// EventMetadata identifies the exchange an event belongs to.
type EventMetadata struct {
	ID                 uuid.UUID                `json:"event_id" yaml:"event_id"`
	ConversationID     string                   `json:"conversation_id,omitempty" yaml:"conversation_id,omitempty"`
	ExchangeID         string                   `json:"exchange_id,omitempty" yaml:"exchange_id,omitempty"`
	UserMessageID      string                   `json:"user_message_id,omitempty" yaml:"user_message_id,omitempty"`
	AssistantMessageID string                   `json:"assistant_message_id,omitempty" yaml:"assistant_message_id,omitempty"`
	Usage              *conversation.TokenUsage `json:"usage,omitempty" yaml:"usage,omitempty"`
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("event_id", em.ID.String())
	if em.ConversationID != "" {
		e.Str("conversation_id", em.ConversationID)
	}
	if em.ExchangeID != "" {
		e.Str("exchange_id", em.ExchangeID)
	}
	if em.UserMessageID != "" {
		e.Str("user_message_id", em.UserMessageID)
	}
	if em.AssistantMessageID != "" {
		e.Str("assistant_message_id", em.AssistantMessageID)
	}
	if em.Usage != nil {
		e.Object("usage", em.Usage)
	}
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta"`

	// raw JSON when the event was decoded by NewEventFromJson
	payload []byte
}

func newEventImpl(t EventType, metadata EventMetadata) EventImpl {
	if metadata.ID == uuid.Nil {
		metadata.ID = uuid.New()
	}
	return EventImpl{Type_: t, Metadata_: metadata}
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

var _ Event = &EventImpl{}

type EventStart struct {
	EventImpl
}

func NewStartEvent(metadata EventMetadata) *EventStart {
	return &EventStart{EventImpl: newEventImpl(EventTypeStart, metadata)}
}

// EventPartialCompletion carries one text delta and the full text so far.
type EventPartialCompletion struct {
	EventImpl
	Delta      string `json:"delta"`
	Completion string `json:"completion"`
}

func NewPartialCompletionEvent(metadata EventMetadata, delta string, completion string) *EventPartialCompletion {
	return &EventPartialCompletion{
		EventImpl:  newEventImpl(EventTypePartialCompletion, metadata),
		Delta:      delta,
		Completion: completion,
	}
}

type EventFinal struct {
	EventImpl
	Text string `json:"text"`
}

func NewFinalEvent(metadata EventMetadata, text string) *EventFinal {
	return &EventFinal{
		EventImpl: newEventImpl(EventTypeFinal, metadata),
		Text:      text,
	}
}

type EventError struct {
	EventImpl
	ErrorString string `json:"error_string"`
}

func NewErrorEvent(metadata EventMetadata, err error) *EventError {
	return &EventError{
		EventImpl:   newEventImpl(EventTypeError, metadata),
		ErrorString: err.Error(),
	}
}

// EventInterrupt reports a cancelled exchange. Text is what had streamed in
// before the cancellation; it is not kept.
type EventInterrupt struct {
	EventImpl
	Text string `json:"text"`
}

func NewInterruptEvent(metadata EventMetadata, text string) *EventInterrupt {
	return &EventInterrupt{
		EventImpl: newEventImpl(EventTypeInterrupt, metadata),
		Text:      text,
	}
}

type EventStateChanged struct {
	EventImpl
	From string `json:"from"`
	To   string `json:"to"`
}

func NewStateChangedEvent(metadata EventMetadata, from string, to string) *EventStateChanged {
	return &EventStateChanged{
		EventImpl: newEventImpl(EventTypeStateChanged, metadata),
		From:      from,
		To:        to,
	}
}

// EventReconciled is published after the follow-up fetch. Found is false
// when the service didn't return the assistant message.
type EventReconciled struct {
	EventImpl
	Found bool `json:"found"`
}

func NewReconciledEvent(metadata EventMetadata, found bool) *EventReconciled {
	return &EventReconciled{
		EventImpl: newEventImpl(EventTypeReconciled, metadata),
		Found:     found,
	}
}

var (
	_ Event = &EventStart{}
	_ Event = &EventPartialCompletion{}
	_ Event = &EventFinal{}
	_ Event = &EventError{}
	_ Event = &EventInterrupt{}
	_ Event = &EventStateChanged{}
	_ Event = &EventReconciled{}
)

func (e EventPartialCompletion) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("delta", e.Delta).Int("completion_length", len(e.Completion))
}

func (e EventFinal) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Int("length", len(e.Text))
}

func (e EventError) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("error", e.ErrorString)
}

func (e EventInterrupt) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Int("length", len(e.Text))
}

func (e EventStateChanged) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("from", e.From).Str("to", e.To)
}

func (e EventReconciled) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Bool("found", e.Found)
}

// NewEventFromJson decodes an event published through a WatermillSink back
// into its concrete type. Unknown types come back as *EventImpl.
func NewEventFromJson(b []byte) (Event, error) {
	var e *EventImpl
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, errors.Wrap(err, "could not decode event")
	}
	if e == nil {
		return nil, errors.New("empty event payload")
	}
	e.payload = b

	var (
		ret Event
		ok  bool
	)
	switch e.Type_ {
	case EventTypeStart:
		ret, ok = typed[EventStart](e)
	case EventTypePartialCompletion:
		ret, ok = typed[EventPartialCompletion](e)
	case EventTypeFinal:
		ret, ok = typed[EventFinal](e)
	case EventTypeError:
		ret, ok = typed[EventError](e)
	case EventTypeInterrupt:
		ret, ok = typed[EventInterrupt](e)
	case EventTypeStateChanged:
		ret, ok = typed[EventStateChanged](e)
	case EventTypeReconciled:
		ret, ok = typed[EventReconciled](e)
	default:
		return e, nil
	}
	if !ok {
		return nil, errors.Errorf("could not decode %s event", e.Type_)
	}
	return ret, nil
}

// typed decodes e's payload as *T and keeps the payload on it.
func typed[T any, PT interface {
	*T
	Event
	setPayload([]byte)
}](e Event) (Event, bool) {
	ret, ok := ToTypedEvent[T](e)
	if !ok || ret == nil {
		return nil, false
	}
	pt := PT(ret)
	pt.setPayload(e.Payload())
	return pt, true
}

func (e *EventImpl) setPayload(b []byte) {
	e.payload = b
}

func ToTypedEvent[T any](e Event) (*T, bool) {
	var ret *T
	err := json.Unmarshal(e.Payload(), &ret)
	if err != nil {
		return nil, false
	}

	return ret, true
}
