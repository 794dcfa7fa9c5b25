// Package transcript renders a conversation's messages in the export formats
// the conversation service understands, plus yaml.
package transcript

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/go-go-golems/vivarium/pkg/conversation"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatShareGPT Format = "sharegpt"
	FormatAlpaca   Format = "alpaca"
	FormatYAML     Format = "yaml"
)

func Formats() []Format {
	return []Format{FormatMarkdown, FormatShareGPT, FormatAlpaca, FormatYAML}
}

func ParseFormat(s string) (Format, error) {
	for _, f := range Formats() {
		if string(f) == strings.ToLower(s) {
			return f, nil
		}
	}
	return "", errors.Errorf("unsupported transcript format %q", s)
}

const (
	DefaultAssistantPrefix = "Assistant"
	DefaultUserPrefix      = "User"
)

// Options only apply to markdown. A nil prefix means the default, an empty
// one renders the message without a prefix.
type Options struct {
	AssistantPrefix *string
	UserPrefix      *string
}

func (o Options) prefixes() (string, string) {
	assistant, user := DefaultAssistantPrefix, DefaultUserPrefix
	if o.AssistantPrefix != nil {
		assistant = *o.AssistantPrefix
	}
	if o.UserPrefix != nil {
		user = *o.UserPrefix
	}
	return assistant, user
}

func Render(w io.Writer, format Format, messages []*conversation.Message, opts Options) error {
	switch format {
	case FormatMarkdown, "":
		_, err := io.WriteString(w, Markdown(messages, opts))
		return errors.Wrap(err, "could not write transcript")
	case FormatShareGPT:
		return writeJSON(w, ShareGPT(messages))
	case FormatAlpaca:
		return writeJSON(w, Alpaca(messages))
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(YAMLMessages(messages)); err != nil {
			return errors.Wrap(err, "could not encode yaml transcript")
		}
		return errors.Wrap(enc.Close(), "could not encode yaml transcript")
	default:
		return errors.Errorf("unsupported transcript format %q", format)
	}
}

func RenderString(format Format, messages []*conversation.Message, opts Options) (string, error) {
	buf := &bytes.Buffer{}
	if err := Render(buf, format, messages, opts); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Markdown renders one paragraph per message, prefixed with a bold role name.
//
// With the default assistant prefix, assistant messages that already start
// with a bold name ("**Name**: ") are left unprefixed, so group
// conversations keep their speaker names.
func Markdown(messages []*conversation.Message, opts Options) string {
	assistantPrefix, userPrefix := opts.prefixes()

	var lines []string
	for _, m := range messages {
		text := m.Text()
		prefix := ""
		switch m.Role {
		case conversation.RoleAssistant:
			if assistantPrefix != "" && (assistantPrefix != DefaultAssistantPrefix || !hasNamePrefix(text)) {
				prefix = assistantPrefix
			}
		case conversation.RoleUser:
			prefix = userPrefix
		case conversation.RoleSystem:
		}

		if prefix != "" {
			lines = append(lines, "**"+prefix+"**: "+text, "")
		} else {
			lines = append(lines, text, "")
		}
	}
	return strings.Join(lines, "\n")
}

func hasNamePrefix(text string) bool {
	firstLine, _, _ := strings.Cut(text, "\n")
	return strings.HasPrefix(text, "**") && strings.Contains(firstLine, "**: ")
}

type ShareGPTTurn struct {
	From  string `json:"from"`
	Value string `json:"value"`
}

type ShareGPTConversation struct {
	Conversations []ShareGPTTurn `json:"conversations"`
}

// ShareGPT groups messages into conversations that each end with an
// assistant reply.
func ShareGPT(messages []*conversation.Message) []ShareGPTConversation {
	ret := []ShareGPTConversation{}
	var current []ShareGPTTurn
	for _, m := range messages {
		from := "assistant"
		if m.Role == conversation.RoleUser {
			from = "human"
		}
		current = append(current, ShareGPTTurn{From: from, Value: m.Text()})
		if m.Role == conversation.RoleAssistant {
			ret = append(ret, ShareGPTConversation{Conversations: current})
			current = nil
		}
	}
	if len(current) > 0 {
		ret = append(ret, ShareGPTConversation{Conversations: current})
	}
	return ret
}

type AlpacaEntry struct {
	Instruction string     `json:"instruction"`
	Input       string     `json:"input"`
	Output      string     `json:"output"`
	History     [][]string `json:"history"`
}

// Alpaca turns each user message into an instruction whose output is the
// following reply, carrying the previous pairs as history.
func Alpaca(messages []*conversation.Message) []AlpacaEntry {
	ret := []AlpacaEntry{}
	history := [][]string{}
	for _, m := range messages {
		text := m.Text()
		if m.Role == conversation.RoleUser {
			ret = append(ret, AlpacaEntry{
				Instruction: text,
				History:     append([][]string{}, history...),
			})
			continue
		}
		if len(ret) == 0 {
			continue
		}
		last := &ret[len(ret)-1]
		last.Output = text
		history = append(history, []string{last.Instruction, text})
	}
	return ret
}

type YAMLMessage struct {
	ID     string                   `yaml:"id,omitempty"`
	Role   conversation.Role        `yaml:"role"`
	Text   string                   `yaml:"text"`
	Images []string                 `yaml:"images,omitempty"`
	Cache  bool                     `yaml:"cache,omitempty"`
	Usage  *conversation.TokenUsage `yaml:"usage,omitempty"`
}

func YAMLMessages(messages []*conversation.Message) []YAMLMessage {
	ret := make([]YAMLMessage, 0, len(messages))
	for _, m := range messages {
		ym := YAMLMessage{
			ID:    m.ID,
			Role:  m.Role,
			Text:  m.Text(),
			Cache: m.Cache,
			Usage: m.Usage,
		}
		for _, img := range m.Images {
			ym.Images = append(ym.Images, img.Filename)
		}
		ret = append(ret, ym)
	}
	return ret
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return errors.Wrap(enc.Encode(v), "could not encode transcript")
}

const (
	BeginGroupConversation = "[BEGIN GROUP CONVERSATION]"
	EndGroupConversation   = "[END GROUP CONVERSATION]"
)

// SystemPromptContent wraps a transcript for use as a system prompt. When
// existing already holds a wrapped transcript the new one is inserted before
// its end marker; otherwise the wrapped transcript is appended to it.
func SystemPromptContent(existing string, transcript string) string {
	if existing == "" {
		return BeginGroupConversation + "\n\n" + transcript + "\n\n" + EndGroupConversation
	}
	if strings.Contains(existing, BeginGroupConversation) && strings.Contains(existing, EndGroupConversation) {
		end := strings.LastIndex(existing, EndGroupConversation)
		return strings.TrimRight(existing[:end], " \t\r\n") + "\n\n" + transcript + "\n\n" + existing[end:]
	}
	return existing + "\n\n" + BeginGroupConversation + "\n\n" + transcript + "\n\n" + EndGroupConversation
}
