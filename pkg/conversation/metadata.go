package conversation

import (
	"sort"
	"sync"
	"time"

	"github.com/huandu/go-clone"
	"github.com/rs/zerolog"
)

// ConversationMetadata is the summary record of a conversation as kept by
// the conversation list.
//
// MessageCount is a cached aggregate maintained incrementally alongside the
// message store. It is not a recount of the store and may legitimately differ
// from it (system prompt pseudo-messages are not counted, for example).
type ConversationMetadata struct {
	ID             string    `json:"id" yaml:"id"`
	Name           string    `json:"name" yaml:"name"`
	SystemPromptID *string   `json:"system_prompt_id,omitempty" yaml:"system_prompt_id,omitempty"`
	Model          string    `json:"model,omitempty" yaml:"model,omitempty"`
	MaxTokens      int       `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	MessageCount   int       `json:"message_count" yaml:"message_count"`
	Tags           []string  `json:"tags" yaml:"tags"`
	CreatedAt      time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	UpdatedAt      time.Time `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
	AudioEnabled   bool      `json:"audio_enabled" yaml:"audio_enabled"`
	VoiceID        *string   `json:"voice_id,omitempty" yaml:"voice_id,omitempty"`
	PersonaName    *string   `json:"persona_name,omitempty" yaml:"persona_name,omitempty"`
	UserName       *string   `json:"user_name,omitempty" yaml:"user_name,omitempty"`
}

func (m ConversationMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("id", m.ID)
	e.Str("name", m.Name)
	e.Int("message_count", m.MessageCount)
	if len(m.Tags) > 0 {
		e.Strs("tags", m.Tags)
	}
}

func (m ConversationMetadata) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ApplyMessageDelta returns meta with its message count moved by delta,
// clamped at zero.
func ApplyMessageDelta(meta ConversationMetadata, delta int) ConversationMetadata {
	meta.MessageCount += delta
	if meta.MessageCount < 0 {
		meta.MessageCount = 0
	}
	return meta
}

// RestoreMessageCount resets the message count to a previously captured value.
func RestoreMessageCount(meta ConversationMetadata, count int) ConversationMetadata {
	if count < 0 {
		count = 0
	}
	meta.MessageCount = count
	return meta
}

// MetadataList is the caller-owned list of conversation metadata records
// shared between conversation panels.
//
// Every write is an id-keyed replace, so panels working on different
// conversations never overwrite each other's records. Two panels editing the
// same id still race: the last write wins.
type MetadataList struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]ConversationMetadata
}

func NewMetadataList(items ...ConversationMetadata) *MetadataList {
	ret := &MetadataList{byID: map[string]ConversationMetadata{}}
	for _, item := range items {
		ret.Put(item)
	}
	return ret
}

// Put inserts or replaces the record with meta's id. New ids go to the end.
func (l *MetadataList) Put(meta ConversationMetadata) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.byID[meta.ID]; !ok {
		l.order = append(l.order, meta.ID)
	}
	l.byID[meta.ID] = cloneMetadata(meta)
}

// SetAll replaces the whole list, keeping the given order.
func (l *MetadataList) SetAll(items []ConversationMetadata) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.order = l.order[:0]
	l.byID = make(map[string]ConversationMetadata, len(items))
	for _, item := range items {
		if _, ok := l.byID[item.ID]; !ok {
			l.order = append(l.order, item.ID)
		}
		l.byID[item.ID] = cloneMetadata(item)
	}
}

func (l *MetadataList) Get(id string) (ConversationMetadata, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	meta, ok := l.byID[id]
	if !ok {
		return ConversationMetadata{}, false
	}
	return cloneMetadata(meta), true
}

// UpdateMetadata applies f to the record with the given id under the list's
// lock and stores the result. It reports false when the id is unknown.
func (l *MetadataList) UpdateMetadata(
	id string,
	f func(ConversationMetadata) ConversationMetadata,
) (ConversationMetadata, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	meta, ok := l.byID[id]
	if !ok {
		return ConversationMetadata{}, false
	}
	updated := f(cloneMetadata(meta))
	updated.ID = id
	l.byID[id] = updated
	return cloneMetadata(updated), true
}

func (l *MetadataList) Remove(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.byID[id]; !ok {
		return false
	}
	delete(l.byID, id)
	for i, oid := range l.order {
		if oid == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	return true
}

func (l *MetadataList) List() []ConversationMetadata {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ret := make([]ConversationMetadata, 0, len(l.order))
	for _, id := range l.order {
		ret = append(ret, cloneMetadata(l.byID[id]))
	}
	return ret
}

// Tags returns the sorted set of tags used across all records.
func (l *MetadataList) Tags() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	seen := map[string]struct{}{}
	for _, meta := range l.byID {
		for _, t := range meta.Tags {
			seen[t] = struct{}{}
		}
	}
	ret := make([]string, 0, len(seen))
	for t := range seen {
		ret = append(ret, t)
	}
	sort.Strings(ret)
	return ret
}

func cloneMetadata(meta ConversationMetadata) ConversationMetadata {
	return clone.Clone(meta).(ConversationMetadata)
}
