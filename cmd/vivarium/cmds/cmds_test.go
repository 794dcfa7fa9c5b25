package cmds

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-go-golems/vivarium/pkg/client/clienttest"
	"github.com/go-go-golems/vivarium/pkg/conversation"
	"github.com/go-go-golems/vivarium/pkg/exchange"
	"github.com/go-go-golems/vivarium/pkg/settings"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withServer(t *testing.T) *clienttest.Server {
	t.Helper()
	srv := clienttest.NewServer()
	t.Cleanup(srv.Close)
	viper.Reset()
	viper.Set(settings.FlagBaseURL, srv.BaseURL())
	t.Cleanup(viper.Reset)
	return srv
}

func run(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSchemaCommand(t *testing.T) {
	out, err := run(t, NewSchemaCommand(), "message")
	require.NoError(t, err)
	assert.Contains(t, out, `"assistant_message_id"`)
	assert.Contains(t, out, `"properties"`)

	_, err = run(t, NewSchemaCommand(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metadata")
}

func TestTranscriptCommandRendersLocally(t *testing.T) {
	srv := withServer(t)
	srv.AddConversation(conversation.ConversationMetadata{ID: "c1", Name: "first"},
		conversation.NewTextMessage("u1", conversation.RoleUser, "hi"),
		conversation.NewTextMessage("a1", conversation.RoleAssistant, "hello there"),
	)

	out, err := run(t, NewTranscriptCommand(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "**User**: hi\n\n**Assistant**: hello there\n", out)

	out, err = run(t, NewTranscriptCommand(), "c1", "--user-prefix", "Me")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "**Me**: hi"), out)

	_, err = run(t, NewTranscriptCommand(), "c1", "--format", "docx")
	assert.Error(t, err)
}

func TestTranscriptCommandNeedsConversation(t *testing.T) {
	withServer(t)
	_, err := run(t, NewTranscriptCommand())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conversation given")
}

func TestTagsListMatch(t *testing.T) {
	srv := withServer(t)
	srv.AddConversation(conversation.ConversationMetadata{ID: "c1", Tags: []string{"work", "wiki"}})
	srv.AddConversation(conversation.ConversationMetadata{ID: "c2", Tags: []string{"home"}})

	out, err := run(t, NewTagsCommand(), "list", "--match", "w*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"work", "wiki"}, strings.Fields(out))

	out, err = run(t, NewTagsCommand(), "list", "--local")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"home", "work", "wiki"}, strings.Fields(out))
}

func TestConversationsDeleteNeedsConfirmation(t *testing.T) {
	srv := withServer(t)
	srv.AddConversation(conversation.ConversationMetadata{ID: "c1"})

	if !isatty.IsTerminal(os.Stdin.Fd()) {
		_, err := run(t, NewConversationsCommand(), "delete", "c1")
		require.Error(t, err)
	}

	_, err := run(t, NewConversationsCommand(), "delete", "c1", "--yes")
	require.NoError(t, err)

	out, err := run(t, NewConversationsCommand(), "list")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestConfigInit(t *testing.T) {
	withServer(t)
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	_, err := run(t, NewConfigCommand(), "init", "--path", path)
	require.NoError(t, err)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "base-url: ")

	_, err = run(t, NewConfigCommand(), "init", "--path", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")

	_, err = run(t, NewConfigCommand(), "init", "--path", path, "--force")
	assert.NoError(t, err)
}

func TestOpenFiles(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cat.png")
	require.NoError(t, os.WriteFile(p, []byte("png"), 0o600))

	req := &exchange.SendRequest{Text: "look"}
	closeAll, err := openFiles([]string{p}, req)
	require.NoError(t, err)
	defer closeAll()
	require.Len(t, req.Files, 1)
	assert.Equal(t, "cat.png", req.Files[0].Name)

	_, err = openFiles([]string{filepath.Join(dir, "missing.png")}, &exchange.SendRequest{})
	assert.Error(t, err)
}

func TestConversationArg(t *testing.T) {
	cs := settings.NewClientSettings()
	_, err := conversationArg(nil, cs)
	assert.Error(t, err)

	cs.ConversationID = "configured"
	id, err := conversationArg(nil, cs)
	require.NoError(t, err)
	assert.Equal(t, "configured", id)

	id, err = conversationArg([]string{"given"}, cs)
	require.NoError(t, err)
	assert.Equal(t, "given", id)
}

func TestReplDispatchesLines(t *testing.T) {
	type sent struct{ text, persona string }
	var got []sent
	send := func(text string, persona string) error {
		got = append(got, sent{text, persona})
		return nil
	}

	in := strings.NewReader("hello\n\n  /persona bob \nsecond\n/quit\nnever\n")
	require.NoError(t, repl(context.Background(), in, "alice", send))
	assert.Equal(t, []sent{
		{"hello", "alice"},
		{"", "bob"},
		{"second", "alice"},
	}, got)
}

func TestReplStopsOnSendError(t *testing.T) {
	boom := assert.AnError
	err := repl(context.Background(), strings.NewReader("a\nb\n"), "", func(string, string) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}
