package transcript

import (
	"encoding/json"
	"testing"

	"github.com/go-go-golems/vivarium/pkg/conversation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func msgs() []*conversation.Message {
	return []*conversation.Message{
		conversation.NewTextMessage("u1", conversation.RoleUser, "hello"),
		conversation.NewTextMessage("a1", conversation.RoleAssistant, "hi there"),
		conversation.NewTextMessage("u2", conversation.RoleUser, "how are you?"),
		conversation.NewTextMessage("a2", conversation.RoleAssistant, "**Mira**: splendid\nthanks"),
	}
}

func strPtr(s string) *string {
	return &s
}

func TestMarkdownDefaults(t *testing.T) {
	got := Markdown(msgs(), Options{})
	want := "**User**: hello\n\n" +
		"**Assistant**: hi there\n\n" +
		"**User**: how are you?\n\n" +
		"**Mira**: splendid\nthanks\n"
	assert.Equal(t, want, got)
}

func TestMarkdownCustomPrefixes(t *testing.T) {
	got := Markdown(msgs(), Options{AssistantPrefix: strPtr("Bot"), UserPrefix: strPtr("")})
	want := "hello\n\n" +
		"**Bot**: hi there\n\n" +
		"how are you?\n\n" +
		"**Bot**: **Mira**: splendid\nthanks\n"
	assert.Equal(t, want, got)
}

func TestMarkdownEmpty(t *testing.T) {
	assert.Equal(t, "", Markdown(nil, Options{}))
}

func TestShareGPTGroupsByReply(t *testing.T) {
	in := append(msgs(), conversation.NewTextMessage("u3", conversation.RoleUser, "dangling"))
	got := ShareGPT(in)
	require.Len(t, got, 3)
	assert.Equal(t, []ShareGPTTurn{{"human", "hello"}, {"assistant", "hi there"}}, got[0].Conversations)
	assert.Equal(t, []ShareGPTTurn{{"human", "dangling"}}, got[2].Conversations)
}

func TestAlpacaHistory(t *testing.T) {
	got := Alpaca(msgs())
	require.Len(t, got, 2)
	assert.Equal(t, AlpacaEntry{Instruction: "hello", Output: "hi there", History: [][]string{}}, got[0])
	assert.Equal(t, "how are you?", got[1].Instruction)
	assert.Equal(t, [][]string{{"hello", "hi there"}}, got[1].History)
}

func TestRenderJSONFormats(t *testing.T) {
	s, err := RenderString(FormatAlpaca, msgs(), Options{})
	require.NoError(t, err)
	var entries []AlpacaEntry
	require.NoError(t, json.Unmarshal([]byte(s), &entries))
	assert.Len(t, entries, 2)

	s, err = RenderString(FormatShareGPT, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, "[]\n", s)
}

func TestRenderYAML(t *testing.T) {
	in := msgs()[:2]
	in[1].Usage = &conversation.TokenUsage{InputTokens: intPtr(5)}
	s, err := RenderString(FormatYAML, in, Options{})
	require.NoError(t, err)

	var out []YAMLMessage
	require.NoError(t, yaml.Unmarshal([]byte(s), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "hi there", out[1].Text)
	require.NotNil(t, out[1].Usage)
	assert.Equal(t, 5, *out[1].Usage.InputTokens)
}

func intPtr(i int) *int {
	return &i
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("ShareGPT")
	require.NoError(t, err)
	assert.Equal(t, FormatShareGPT, f)

	_, err = ParseFormat("html")
	assert.Error(t, err)
}

func TestSystemPromptContent(t *testing.T) {
	assert.Equal(t,
		"[BEGIN GROUP CONVERSATION]\n\nT\n\n[END GROUP CONVERSATION]",
		SystemPromptContent("", "T"))

	assert.Equal(t,
		"You are kind.\n\n[BEGIN GROUP CONVERSATION]\n\nT\n\n[END GROUP CONVERSATION]",
		SystemPromptContent("You are kind.", "T"))

	existing := "Intro\n\n[BEGIN GROUP CONVERSATION]\n\nold\n\n[END GROUP CONVERSATION]"
	assert.Equal(t,
		"Intro\n\n[BEGIN GROUP CONVERSATION]\n\nold\n\nnew\n\n[END GROUP CONVERSATION]",
		SystemPromptContent(existing, "new"))
}
