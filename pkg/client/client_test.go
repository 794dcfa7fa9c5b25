package client_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-go-golems/vivarium/pkg/client"
	"github.com/go-go-golems/vivarium/pkg/client/clienttest"
	"github.com/go-go-golems/vivarium/pkg/conversation"
	"github.com/go-go-golems/vivarium/pkg/transcript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, srv *clienttest.Server) *client.Client {
	t.Helper()
	c, err := client.New(srv.BaseURL())
	require.NoError(t, err)
	return c
}

func TestParseBaseURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		opts    client.BaseURLOptions
		want    string
		wantErr bool
	}{
		{"https", "https://chat.example.com/api/", client.BaseURLOptions{}, "https://chat.example.com/api", false},
		{"http refused", "http://chat.example.com/api", client.BaseURLOptions{}, "", true},
		{"http allowed", "http://chat.example.com/api", client.BaseURLOptions{AllowHTTP: true}, "http://chat.example.com/api", false},
		{"localhost refused", "https://localhost:8000/api", client.BaseURLOptions{}, "", true},
		{"loopback refused", "https://127.0.0.1/api", client.BaseURLOptions{}, "", true},
		{"private refused", "https://10.1.2.3/api", client.BaseURLOptions{}, "", true},
		{"local allowed", "http://localhost:8000/api", client.BaseURLOptions{AllowHTTP: true, AllowLocalNetworks: true}, "http://localhost:8000/api", false},
		{"unspecified", "https://0.0.0.0/api", client.BaseURLOptions{AllowLocalNetworks: true}, "", true},
		{"scheme", "ftp://chat.example.com", client.BaseURLOptions{}, "", true},
		{"no host", "https:///api", client.BaseURLOptions{}, "", true},
		{"query", "https://chat.example.com/api?x=1", client.BaseURLOptions{}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := client.ParseBaseURL(tt.raw, tt.opts)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, u.String())
		})
	}
}

func TestNewDefaultsToLocalService(t *testing.T) {
	c, err := client.New("")
	require.NoError(t, err)
	assert.Equal(t, client.DefaultBaseURL, c.BaseURL())

	_, err = client.New("http://localhost:8000/api", client.WithBaseURLOptions(client.BaseURLOptions{}))
	assert.Error(t, err)
}

func TestInferImageType(t *testing.T) {
	tests := []struct {
		name      string
		mediaType string
		ext       string
	}{
		{"photo.jpg", "image/jpeg", ".jpg"},
		{"photo.JPEG", "image/jpeg", ".jpg"},
		{"shot.png", "image/png", ".png"},
		{"anim.webp", "image/webp", ".webp"},
		{"scan.tiff", "image/jpeg", ".jpg"},
		{"noext", "image/jpeg", ".jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mediaType, ext := client.InferImageType(tt.name)
			assert.Equal(t, tt.mediaType, mediaType)
			assert.Equal(t, tt.ext, ext)
		})
	}

	f := client.File{ID: "img-1", Name: "photo.bin", MediaType: "image/png"}
	assert.Equal(t, conversation.MessageImage{ID: "img-1", Filename: "img-1.png", MediaType: "image/png"}, f.Image())
}

func TestSendMessageMultipart(t *testing.T) {
	srv := clienttest.NewServer()
	defer srv.Close()
	srv.AddConversation(conversation.ConversationMetadata{ID: "c1", Name: "first"})
	srv.Enqueue(clienttest.Script{Chunks: []string{
		clienttest.DeltaFrame("hi"),
		clienttest.DoneFrame(),
	}})

	c := newClient(t, srv)
	body, err := c.SendMessage(context.Background(), "c1", client.SendMessageRequest{
		ID:                 "u1",
		AssistantMessageID: "a1",
		Content:            []conversation.ContentBlock{conversation.NewTextBlock("hello")},
		Cache:              true,
		TargetPersona:      "p1",
		Files: []client.File{
			{ID: "img-1", Name: "cat.png", Data: bytes.NewReader([]byte("png-bytes"))},
		},
	})
	require.NoError(t, err)
	b, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, body.Close())
	assert.Contains(t, string(b), `"text":"hi"`)
	assert.Contains(t, string(b), "data: [DONE]")

	sends := srv.Sends()
	require.Len(t, sends, 1)
	s := sends[0]
	assert.Equal(t, "u1", s.ID)
	assert.Equal(t, "a1", s.AssistantMessageID)
	assert.True(t, s.Cache)
	assert.Equal(t, "p1", s.TargetPersona)
	assert.Equal(t, []conversation.ContentBlock{conversation.NewTextBlock("hello")}, s.Content)
	require.Len(t, s.Files, 1)
	assert.Equal(t, clienttest.RecordedFile{Filename: "img-1.png", ContentType: "image/png", Size: 9}, s.Files[0])
}

func TestSendMessageEmptyContentIsList(t *testing.T) {
	srv := clienttest.NewServer()
	defer srv.Close()
	srv.AddConversation(conversation.ConversationMetadata{ID: "c1"})

	c := newClient(t, srv)
	body, err := c.SendMessage(context.Background(), "c1", client.SendMessageRequest{
		ID:                 "u1",
		AssistantMessageID: "a1",
		TargetPersona:      "p1",
	})
	require.NoError(t, err)
	_ = body.Close()

	sends := srv.Sends()
	require.Len(t, sends, 1)
	assert.NotNil(t, sends[0].Content)
	assert.Empty(t, sends[0].Content)
	assert.False(t, sends[0].Cache)
}

func TestSendMessageHTTPError(t *testing.T) {
	srv := clienttest.NewServer()
	defer srv.Close()
	srv.AddConversation(conversation.ConversationMetadata{ID: "c1"})
	srv.Enqueue(clienttest.Script{Status: http.StatusInternalServerError, Detail: "upstream exploded"})

	c := newClient(t, srv)
	_, err := c.SendMessage(context.Background(), "c1", client.SendMessageRequest{ID: "u1", AssistantMessageID: "a1"})
	require.Error(t, err)

	var httpErr *client.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)
	assert.Equal(t, "upstream exploded", httpErr.Detail)
	assert.Contains(t, err.Error(), "upstream exploded")
}

func TestHTTPErrorWithoutDetail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("bad gateway\n"))
	}))
	defer server.Close()

	c, err := client.New(server.URL)
	require.NoError(t, err)
	_, err = c.ListConversations(context.Background())
	require.Error(t, err)
	assert.True(t, strings.HasSuffix(err.Error(), "502: bad gateway"), err.Error())
	assert.False(t, client.IsNotFound(err))
}

func TestConversationLifecycle(t *testing.T) {
	srv := clienttest.NewServer()
	defer srv.Close()
	c := newClient(t, srv)
	ctx := context.Background()

	created, err := c.CreateConversation(ctx, client.MetadataCreate{ID: "c1", Name: "Research", Tags: []string{"proj-a"}})
	require.NoError(t, err)
	assert.Equal(t, "Research", created.Name)

	_, err = c.AddTag(ctx, "c1", "proj b/2")
	require.NoError(t, err)
	tags, err := c.ListTags(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"proj b/2", "proj-a"}, tags)

	byTag, err := c.ConversationsByTag(ctx, "proj b/2")
	require.NoError(t, err)
	require.Len(t, byTag, 1)

	meta, err := c.RemoveTag(ctx, "c1", "proj-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"proj b/2"}, meta.Tags)

	meta.Name = "Renamed"
	updated, err := c.UpdateMetadata(ctx, "c1", client.UpdateFromMetadata(*meta))
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)

	id, err := c.AddCachedMessage(ctx, "c1", client.CachedMessage{
		ID:                 "m1",
		AssistantMessageID: "a1",
		Content:            []conversation.ContentBlock{conversation.NewTextBlock("big context")},
		Cache:              true,
	})
	require.NoError(t, err)
	assert.Equal(t, "m1", id)

	msgs, err := c.ToggleMessageCache(ctx, "c1", "m1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].Cache)

	cloned, err := c.CloneConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed [CLONE]", cloned.Name)

	text, err := c.GetTranscript(ctx, "c1", client.TranscriptOptions{Format: transcript.FormatMarkdown})
	require.NoError(t, err)
	assert.Contains(t, text, "**User**: big context")

	msgs, err = c.DeleteMessage(ctx, "c1", "m1")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	_, err = c.DeleteMessage(ctx, "c1", "m1")
	assert.True(t, client.IsNotFound(err))

	require.NoError(t, c.DeleteConversation(ctx, "c1"))
	_, err = c.GetMetadata(ctx, "c1")
	assert.True(t, client.IsNotFound(err))

	list, err := c.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, cloned.ID, list[0].ID)
}

func TestSystemPrompts(t *testing.T) {
	srv := clienttest.NewServer()
	defer srv.Close()
	c := newClient(t, srv)
	ctx := context.Background()

	p, err := c.CreateSystemPrompt(ctx, client.SystemPromptCreate{Name: "terse", Content: "Be brief."})
	require.NoError(t, err)

	name := "very terse"
	updated, err := c.UpdateSystemPrompt(ctx, p.ID, client.SystemPromptUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "very terse", updated.Name)
	assert.Equal(t, "Be brief.", updated.Content)

	list, err := c.ListSystemPrompts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, c.DeleteSystemPrompt(ctx, p.ID))
	_, err = c.GetSystemPrompt(ctx, p.ID)
	assert.True(t, client.IsNotFound(err))
}

func TestGetImageAfterUpload(t *testing.T) {
	srv := clienttest.NewServer()
	defer srv.Close()
	srv.AddConversation(conversation.ConversationMetadata{ID: "c1"})
	c := newClient(t, srv)
	ctx := context.Background()

	body, err := c.SendMessage(ctx, "c1", client.SendMessageRequest{
		ID:                 "u1",
		AssistantMessageID: "a1",
		Content:            []conversation.ContentBlock{conversation.NewTextBlock("look")},
		Files:              []client.File{{ID: "img-1", Name: "x.webp", Data: strings.NewReader("RIFF")}},
	})
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()

	data, contentType, err := c.GetImage(ctx, "c1", "img-1")
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(data))
	assert.Equal(t, "image/webp", contentType)
}

func TestFilterByTagGlob(t *testing.T) {
	list := []conversation.ConversationMetadata{
		{ID: "a", Tags: []string{"proj-alpha", "draft"}},
		{ID: "b", Tags: []string{"personal"}},
		{ID: "c", Tags: []string{"proj-beta"}},
		{ID: "d"},
	}

	got, err := client.FilterByTagGlob(list, "proj-*")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "c", got[1].ID)

	got, err = client.FilterByTagGlob(list, "")
	require.NoError(t, err)
	assert.Len(t, got, 4)

	got, err = client.FilterByTagGlob(list, "nothing*")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRateLimitHonoursContext(t *testing.T) {
	srv := clienttest.NewServer()
	defer srv.Close()
	c, err := client.New(srv.BaseURL(), client.WithRateLimit(0.001, 1))
	require.NoError(t, err)

	_, err = c.ListConversations(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.ListConversations(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}
