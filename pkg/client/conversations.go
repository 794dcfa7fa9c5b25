package client

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/go-go-golems/vivarium/pkg/conversation"
	"github.com/go-go-golems/vivarium/pkg/transcript"
	"github.com/mb0/glob"
	"github.com/pkg/errors"
)

type MetadataCreate struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	SystemPromptID *string  `json:"system_prompt_id,omitempty"`
	Model          *string  `json:"model,omitempty"`
	MaxTokens      *int     `json:"max_tokens,omitempty"`
	Tags           []string `json:"tags"`
	PersonaName    *string  `json:"persona_name,omitempty"`
	UserName       *string  `json:"user_name,omitempty"`
}

// MetadataUpdate replaces the editable fields of a conversation. Name is
// required by the service.
type MetadataUpdate struct {
	Name           string   `json:"name"`
	SystemPromptID *string  `json:"system_prompt_id"`
	Model          *string  `json:"model,omitempty"`
	MaxTokens      *int     `json:"max_tokens,omitempty"`
	Tags           []string `json:"tags"`
	AudioEnabled   bool     `json:"audio_enabled"`
	VoiceID        *string  `json:"voice_id"`
	PersonaName    *string  `json:"persona_name"`
	UserName       *string  `json:"user_name"`
}

// UpdateFromMetadata builds an update that keeps every editable field of meta.
func UpdateFromMetadata(meta conversation.ConversationMetadata) MetadataUpdate {
	ret := MetadataUpdate{
		Name:           meta.Name,
		SystemPromptID: meta.SystemPromptID,
		Tags:           meta.Tags,
		AudioEnabled:   meta.AudioEnabled,
		VoiceID:        meta.VoiceID,
		PersonaName:    meta.PersonaName,
		UserName:       meta.UserName,
	}
	if meta.Model != "" {
		model := meta.Model
		ret.Model = &model
	}
	if meta.MaxTokens != 0 {
		maxTokens := meta.MaxTokens
		ret.MaxTokens = &maxTokens
	}
	if ret.Tags == nil {
		ret.Tags = []string{}
	}
	return ret
}

// CachedMessage is a user message stored without triggering a completion.
type CachedMessage struct {
	ID                 string                      `json:"id"`
	AssistantMessageID string                      `json:"assistant_message_id"`
	Content            []conversation.ContentBlock `json:"content"`
	Cache              bool                        `json:"cache"`
}

func (c *Client) ListConversations(ctx context.Context) ([]conversation.ConversationMetadata, error) {
	var ret []conversation.ConversationMetadata
	if err := c.do(ctx, http.MethodGet, c.endpoint(nil, "conversations"), nil, &ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *Client) CreateConversation(ctx context.Context, create MetadataCreate) (*conversation.ConversationMetadata, error) {
	if create.Tags == nil {
		create.Tags = []string{}
	}
	ret := &conversation.ConversationMetadata{}
	if err := c.do(ctx, http.MethodPost, c.endpoint(nil, "conversations"), create, ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *Client) GetMetadata(ctx context.Context, conversationID string) (*conversation.ConversationMetadata, error) {
	ret := &conversation.ConversationMetadata{}
	if err := c.do(ctx, http.MethodGet, c.endpoint(nil, "conversations", conversationID, "metadata"), nil, ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *Client) UpdateMetadata(ctx context.Context, conversationID string, update MetadataUpdate) (*conversation.ConversationMetadata, error) {
	if update.Tags == nil {
		update.Tags = []string{}
	}
	ret := &conversation.ConversationMetadata{}
	if err := c.do(ctx, http.MethodPut, c.endpoint(nil, "conversations", conversationID, "metadata"), update, ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodDelete, c.endpoint(nil, "conversations", conversationID), nil, nil)
}

// CloneConversation copies a conversation under a new id; messages get new
// ids as well.
func (c *Client) CloneConversation(ctx context.Context, conversationID string) (*conversation.ConversationMetadata, error) {
	ret := &conversation.ConversationMetadata{}
	if err := c.do(ctx, http.MethodPost, c.endpoint(nil, "conversations", conversationID, "clone"), nil, ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]*conversation.Message, error) {
	var ret []*conversation.Message
	if err := c.do(ctx, http.MethodGet, c.endpoint(nil, "conversations", conversationID, "messages"), nil, &ret); err != nil {
		return nil, err
	}
	return ret, nil
}

// UpdateMessage replaces a stored message and returns the full list.
func (c *Client) UpdateMessage(ctx context.Context, conversationID string, m *conversation.Message) ([]*conversation.Message, error) {
	if m == nil || m.ID == "" {
		return nil, errors.New("message to update needs an id")
	}
	var ret []*conversation.Message
	target := c.endpoint(nil, "conversations", conversationID, "messages", m.ID)
	if err := c.do(ctx, http.MethodPut, target, m, &ret); err != nil {
		return nil, err
	}
	return ret, nil
}

// DeleteMessage removes a message (and its images) and returns the remaining
// list.
func (c *Client) DeleteMessage(ctx context.Context, conversationID string, messageID string) ([]*conversation.Message, error) {
	var ret []*conversation.Message
	target := c.endpoint(nil, "conversations", conversationID, "messages", messageID)
	if err := c.do(ctx, http.MethodDelete, target, nil, &ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *Client) ToggleMessageCache(ctx context.Context, conversationID string, messageID string) ([]*conversation.Message, error) {
	var ret []*conversation.Message
	target := c.endpoint(nil, "conversations", conversationID, "messages", messageID, "cache")
	if err := c.do(ctx, http.MethodPost, target, nil, &ret); err != nil {
		return nil, err
	}
	return ret, nil
}

// AddCachedMessage stores a cached user message and returns its id. The
// service rejects messages whose Cache flag is false.
func (c *Client) AddCachedMessage(ctx context.Context, conversationID string, m CachedMessage) (string, error) {
	if m.Content == nil {
		m.Content = []conversation.ContentBlock{}
	}
	var id string
	if err := c.do(ctx, http.MethodPost, c.endpoint(nil, "conversations", conversationID, "cached-message"), m, &id); err != nil {
		return "", err
	}
	return id, nil
}

type TranscriptOptions struct {
	Format transcript.Format
	// A nil prefix leaves the service default, an empty one omits it.
	AssistantPrefix *string
	UserPrefix      *string
}

func (o TranscriptOptions) query() url.Values {
	q := url.Values{}
	if o.Format != "" {
		q.Set("format", string(o.Format))
	}
	if o.AssistantPrefix != nil {
		q.Set("assistant_prefix", *o.AssistantPrefix)
	}
	if o.UserPrefix != nil {
		q.Set("user_prefix", *o.UserPrefix)
	}
	return q
}

// GetTranscript returns the transcript rendered by the service.
func (c *Client) GetTranscript(ctx context.Context, conversationID string, opts TranscriptOptions) (string, error) {
	var ret string
	target := c.endpoint(opts.query(), "conversations", conversationID, "transcript")
	if err := c.do(ctx, http.MethodGet, target, nil, &ret); err != nil {
		return "", err
	}
	return ret, nil
}

// SystemPromptFromTranscript asks the service to turn the conversation into
// a system prompt with the conversation's id.
func (c *Client) SystemPromptFromTranscript(ctx context.Context, conversationID string, name string, opts TranscriptOptions) (*SystemPrompt, error) {
	q := opts.query()
	q.Del("format")
	q.Set("name", name)
	ret := &SystemPrompt{}
	target := c.endpoint(q, "conversations", conversationID, "system-prompt-from-transcript")
	if err := c.do(ctx, http.MethodPost, target, nil, ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *Client) AddTag(ctx context.Context, conversationID string, tag string) (*conversation.ConversationMetadata, error) {
	ret := &conversation.ConversationMetadata{}
	if err := c.do(ctx, http.MethodPost, c.endpoint(nil, "conversations", conversationID, "tags", tag), nil, ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *Client) RemoveTag(ctx context.Context, conversationID string, tag string) (*conversation.ConversationMetadata, error) {
	ret := &conversation.ConversationMetadata{}
	if err := c.do(ctx, http.MethodDelete, c.endpoint(nil, "conversations", conversationID, "tags", tag), nil, ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *Client) ListTags(ctx context.Context) ([]string, error) {
	var ret []string
	if err := c.do(ctx, http.MethodGet, c.endpoint(nil, "conversations", "tags"), nil, &ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *Client) ConversationsByTag(ctx context.Context, tag string) ([]conversation.ConversationMetadata, error) {
	var ret []conversation.ConversationMetadata
	if err := c.do(ctx, http.MethodGet, c.endpoint(nil, "conversations", "tags", tag), nil, &ret); err != nil {
		return nil, err
	}
	return ret, nil
}

// GetImage downloads an uploaded image and returns it with its content type.
func (c *Client) GetImage(ctx context.Context, conversationID string, imageID string) ([]byte, string, error) {
	target := c.endpoint(nil, "conversations", conversationID, "images", imageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", errors.Wrap(err, "could not create image request")
	}
	if err := c.wait(ctx); err != nil {
		return nil, "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", errors.Wrapf(err, "GET %s", target)
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", newHTTPError(req, resp)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", errors.Wrap(err, "could not read image")
	}
	return b, resp.Header.Get("Content-Type"), nil
}

// FilterByTagGlob keeps the conversations that have at least one tag matching
// the shell glob pattern. An empty pattern keeps everything.
func FilterByTagGlob(list []conversation.ConversationMetadata, pattern string) ([]conversation.ConversationMetadata, error) {
	if pattern == "" {
		return list, nil
	}
	ret := []conversation.ConversationMetadata{}
	for _, meta := range list {
		for _, tag := range meta.Tags {
			matching, err := glob.Match(pattern, tag)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid tag pattern %q", pattern)
			}
			if matching {
				ret = append(ret, meta)
				break
			}
		}
	}
	return ret, nil
}
