package client

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

type SystemPrompt struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Content     string    `json:"content" yaml:"content"`
	Description *string   `json:"description,omitempty" yaml:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
	IsCached    bool      `json:"is_cached" yaml:"is_cached"`
}

func (p SystemPrompt) MarshalZerologObject(e *zerolog.Event) {
	e.Str("id", p.ID)
	e.Str("name", p.Name)
	e.Int("length", len(p.Content))
	e.Bool("is_cached", p.IsCached)
}

type SystemPromptCreate struct {
	Name        string  `json:"name"`
	Content     string  `json:"content"`
	Description *string `json:"description,omitempty"`
	IsCached    bool    `json:"is_cached"`
}

// SystemPromptUpdate only changes the fields that are set.
type SystemPromptUpdate struct {
	Name        *string `json:"name,omitempty"`
	Content     *string `json:"content,omitempty"`
	Description *string `json:"description,omitempty"`
	IsCached    *bool   `json:"is_cached,omitempty"`
}

func (c *Client) ListSystemPrompts(ctx context.Context) ([]SystemPrompt, error) {
	var ret []SystemPrompt
	if err := c.do(ctx, http.MethodGet, c.endpoint(nil, "system-prompts"), nil, &ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *Client) GetSystemPrompt(ctx context.Context, id string) (*SystemPrompt, error) {
	ret := &SystemPrompt{}
	if err := c.do(ctx, http.MethodGet, c.endpoint(nil, "system-prompts", id), nil, ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *Client) CreateSystemPrompt(ctx context.Context, create SystemPromptCreate) (*SystemPrompt, error) {
	ret := &SystemPrompt{}
	if err := c.do(ctx, http.MethodPost, c.endpoint(nil, "system-prompts"), create, ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *Client) UpdateSystemPrompt(ctx context.Context, id string, update SystemPromptUpdate) (*SystemPrompt, error) {
	ret := &SystemPrompt{}
	if err := c.do(ctx, http.MethodPut, c.endpoint(nil, "system-prompts", id), update, ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *Client) DeleteSystemPrompt(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.endpoint(nil, "system-prompts", id), nil, nil)
}
