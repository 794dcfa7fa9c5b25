package conversation

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

type ContentType string

const (
	ContentTypeText  ContentType = "text"
	ContentTypeImage ContentType = "image"
)

// ContentBlock is a single typed block of a message's content.
//
// Text blocks always serialize their text field, even when empty, so that an
// assistant placeholder round-trips as `{"type":"text","text":""}`. Blocks of
// a type we don't know are kept verbatim and re-emitted as received.
type ContentBlock struct {
	Type    ContentType `json:"type"`
	Text    string      `json:"text"`
	ImageID string      `json:"image_id,omitempty"`

	raw json.RawMessage
}

func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Type: ContentTypeText, Text: text}
}

func NewImageBlock(imageID string) ContentBlock {
	return ContentBlock{Type: ContentTypeImage, ImageID: imageID}
}

func (c ContentBlock) MarshalJSON() ([]byte, error) {
	switch c.Type {
	case ContentTypeText:
		return json.Marshal(struct {
			Type ContentType `json:"type"`
			Text string      `json:"text"`
		}{c.Type, c.Text})
	case ContentTypeImage:
		return json.Marshal(struct {
			Type    ContentType `json:"type"`
			ImageID string      `json:"image_id"`
		}{c.Type, c.ImageID})
	default:
		if len(c.raw) > 0 {
			return c.raw, nil
		}
		return json.Marshal(struct {
			Type ContentType `json:"type"`
		}{c.Type})
	}
}

func (c *ContentBlock) UnmarshalJSON(b []byte) error {
	var aux struct {
		Type    ContentType `json:"type"`
		Text    *string     `json:"text"`
		ImageID string      `json:"image_id"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return errors.Wrap(err, "could not decode content block")
	}
	if aux.Type == "" {
		return errors.New("content block is missing a type")
	}

	*c = ContentBlock{Type: aux.Type, ImageID: aux.ImageID}
	if aux.Text != nil {
		c.Text = *aux.Text
	}
	if aux.Type != ContentTypeText && aux.Type != ContentTypeImage {
		c.raw = append(json.RawMessage(nil), b...)
	}
	return nil
}

// TokenUsage mirrors the token accounting the remote service attaches to
// assistant messages. Every field is optional on the wire.
type TokenUsage struct {
	InputTokens              *int `json:"input_tokens,omitempty" yaml:"input_tokens,omitempty"`
	OutputTokens             *int `json:"output_tokens,omitempty" yaml:"output_tokens,omitempty"`
	CacheCreationInputTokens *int `json:"cache_creation_input_tokens,omitempty" yaml:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     *int `json:"cache_read_input_tokens,omitempty" yaml:"cache_read_input_tokens,omitempty"`
}

func (u TokenUsage) MarshalZerologObject(e *zerolog.Event) {
	if u.InputTokens != nil {
		e.Int("input_tokens", *u.InputTokens)
	}
	if u.OutputTokens != nil {
		e.Int("output_tokens", *u.OutputTokens)
	}
	if u.CacheCreationInputTokens != nil {
		e.Int("cache_creation_input_tokens", *u.CacheCreationInputTokens)
	}
	if u.CacheReadInputTokens != nil {
		e.Int("cache_read_input_tokens", *u.CacheReadInputTokens)
	}
}

var _ zerolog.LogObjectMarshaler = TokenUsage{}

// MessageImage references an image uploaded alongside a user message.
type MessageImage struct {
	ID        string `json:"id" yaml:"id"`
	Filename  string `json:"filename" yaml:"filename"`
	MediaType string `json:"media_type" yaml:"media_type"`
}

type Message struct {
	ID                 string         `json:"id,omitempty"`
	Role               Role           `json:"role"`
	Content            []ContentBlock `json:"content"`
	Images             []MessageImage `json:"images,omitempty"`
	Timestamp          *time.Time     `json:"timestamp,omitempty"`
	Cache              bool           `json:"cache"`
	AssistantMessageID string         `json:"assistant_message_id,omitempty"`
	Usage              *TokenUsage    `json:"usage,omitempty"`
}

type MessageOption func(*Message)

func WithTime(t time.Time) MessageOption {
	return func(m *Message) {
		m.Timestamp = &t
	}
}

func WithImages(images ...MessageImage) MessageOption {
	return func(m *Message) {
		m.Images = append(m.Images, images...)
	}
}

func WithCache(cache bool) MessageOption {
	return func(m *Message) {
		m.Cache = cache
	}
}

func WithAssistantMessageID(id string) MessageOption {
	return func(m *Message) {
		m.AssistantMessageID = id
	}
}

func NewTextMessage(id string, role Role, text string, options ...MessageOption) *Message {
	ret := &Message{
		ID:      id,
		Role:    role,
		Content: []ContentBlock{NewTextBlock(text)},
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Text joins the message's text blocks with blank lines, the way transcripts
// render multi-block messages.
func (m *Message) Text() string {
	parts := make([]string, 0, len(m.Content))
	for _, c := range m.Content {
		if c.Type == ContentTypeText {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

func (m *Message) MarshalZerologObject(e *zerolog.Event) {
	e.Str("id", m.ID)
	e.Str("role", string(m.Role))
	e.Int("content_blocks", len(m.Content))
	if len(m.Images) > 0 {
		e.Int("images", len(m.Images))
	}
	if m.Cache {
		e.Bool("cache", true)
	}
	if m.Usage != nil {
		e.Object("usage", m.Usage)
	}
}

var _ zerolog.LogObjectMarshaler = (*Message)(nil)
