// Package clienttest provides an in-memory conversation service for tests.
package clienttest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-go-golems/vivarium/pkg/client"
	"github.com/go-go-golems/vivarium/pkg/conversation"
	"github.com/google/uuid"
)

// Script decides how the server answers one send.
type Script struct {
	// Status other than 0 or 200 fails the send with a detail body.
	Status int
	Detail string
	// Chunks are written and flushed one at a time.
	Chunks []string
	// Hold, when set, is received from before writing Chunks[HoldAt].
	Hold   <-chan struct{}
	HoldAt int
	// Reply is stored as the persisted assistant message once all chunks
	// were written.
	Reply *conversation.Message
}

type RecordedFile struct {
	Filename    string
	ContentType string
	Size        int
}

type RecordedSend struct {
	ConversationID     string
	ID                 string
	AssistantMessageID string
	Content            []conversation.ContentBlock
	Cache              bool
	TargetPersona      string
	Files              []RecordedFile
}

type storedImage struct {
	data        []byte
	contentType string
}

type Server struct {
	*httptest.Server

	mu            sync.Mutex
	conversations map[string]*conversation.ConversationMetadata
	order         []string
	messages      map[string][]*conversation.Message
	prompts       map[string]*client.SystemPrompt
	images        map[string]storedImage
	sends         []RecordedSend
	scripts       []Script

	// FailListMessages makes GET .../messages return 500.
	FailListMessages atomic.Bool
}

func NewServer() *Server {
	ret := &Server{
		conversations: map[string]*conversation.ConversationMetadata{},
		messages:      map[string][]*conversation.Message{},
		prompts:       map[string]*client.SystemPrompt{},
		images:        map[string]storedImage{},
	}
	ret.Server = httptest.NewServer(http.HandlerFunc(ret.serve))
	return ret
}

// BaseURL is the value to pass to client.New.
func (s *Server) BaseURL() string {
	return s.URL + "/api"
}

func (s *Server) AddConversation(meta conversation.ConversationMetadata, messages ...*conversation.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if meta.Tags == nil {
		meta.Tags = []string{}
	}
	if _, ok := s.conversations[meta.ID]; !ok {
		s.order = append(s.order, meta.ID)
	}
	s.conversations[meta.ID] = &meta
	s.messages[meta.ID] = append([]*conversation.Message{}, messages...)
}

func (s *Server) AddSystemPrompt(p client.SystemPrompt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts[p.ID] = &p
}

// Enqueue adds scripts consumed by subsequent sends, in order. Without a
// script a send streams an empty reply.
func (s *Server) Enqueue(scripts ...Script) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts = append(s.scripts, scripts...)
}

func (s *Server) Sends() []RecordedSend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedSend{}, s.sends...)
}

func (s *Server) StoredMessages(conversationID string) []*conversation.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*conversation.Message{}, s.messages[conversationID]...)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	p := strings.TrimPrefix(r.URL.EscapedPath(), "/api/")
	var parts []string
	for _, seg := range strings.Split(strings.Trim(p, "/"), "/") {
		unescaped, err := url.PathUnescape(seg)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "bad path")
			return
		}
		parts = append(parts, unescaped)
	}
	if len(parts) == 0 {
		writeDetail(w, http.StatusNotFound, "Not Found")
		return
	}

	switch parts[0] {
	case "conversations":
		s.serveConversations(w, r, parts[1:])
	case "system-prompts":
		s.servePrompts(w, r, parts[1:])
	default:
		writeDetail(w, http.StatusNotFound, "Not Found")
	}
}

func (s *Server) serveConversations(w http.ResponseWriter, r *http.Request, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		s.mu.Lock()
		ret := []conversation.ConversationMetadata{}
		for _, id := range s.order {
			ret = append(ret, *s.conversations[id])
		}
		s.mu.Unlock()
		writeJSON(w, ret)

	case len(parts) == 0 && r.Method == http.MethodPost:
		var create client.MetadataCreate
		if !readJSON(w, r, &create) {
			return
		}
		meta := conversation.ConversationMetadata{
			ID:             create.ID,
			Name:           create.Name,
			SystemPromptID: create.SystemPromptID,
			Model:          "claude-3-5-sonnet-20241022",
			MaxTokens:      8192,
			Tags:           create.Tags,
			PersonaName:    create.PersonaName,
			UserName:       create.UserName,
			CreatedAt:      time.Now().UTC(),
			UpdatedAt:      time.Now().UTC(),
		}
		if create.Model != nil {
			meta.Model = *create.Model
		}
		if create.MaxTokens != nil {
			meta.MaxTokens = *create.MaxTokens
		}
		s.AddConversation(meta)
		writeJSON(w, meta)

	case len(parts) == 1 && parts[0] == "tags" && r.Method == http.MethodGet:
		s.mu.Lock()
		seen := map[string]struct{}{}
		for _, meta := range s.conversations {
			for _, t := range meta.Tags {
				seen[t] = struct{}{}
			}
		}
		s.mu.Unlock()
		ret := []string{}
		for t := range seen {
			ret = append(ret, t)
		}
		sort.Strings(ret)
		writeJSON(w, ret)

	case len(parts) == 2 && parts[0] == "tags" && r.Method == http.MethodGet:
		s.mu.Lock()
		ret := []conversation.ConversationMetadata{}
		for _, id := range s.order {
			if s.conversations[id].HasTag(parts[1]) {
				ret = append(ret, *s.conversations[id])
			}
		}
		s.mu.Unlock()
		writeJSON(w, ret)

	case len(parts) >= 1:
		s.serveConversation(w, r, parts[0], parts[1:])

	default:
		writeDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	}
}

func (s *Server) serveConversation(w http.ResponseWriter, r *http.Request, id string, parts []string) {
	s.mu.Lock()
	meta, ok := s.conversations[id]
	s.mu.Unlock()
	if !ok {
		writeDetail(w, http.StatusNotFound, "Conversation not found")
		return
	}

	route := strings.Join(parts, "/")
	switch {
	case route == "" && r.Method == http.MethodDelete:
		s.mu.Lock()
		delete(s.conversations, id)
		delete(s.messages, id)
		for i, oid := range s.order {
			if oid == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		writeJSON(w, nil)

	case route == "metadata" && r.Method == http.MethodGet:
		s.mu.Lock()
		ret := *meta
		s.mu.Unlock()
		writeJSON(w, ret)

	case route == "metadata" && r.Method == http.MethodPut:
		var update client.MetadataUpdate
		if !readJSON(w, r, &update) {
			return
		}
		s.mu.Lock()
		meta.Name = update.Name
		meta.SystemPromptID = update.SystemPromptID
		if update.Model != nil {
			meta.Model = *update.Model
		}
		if update.MaxTokens != nil {
			meta.MaxTokens = *update.MaxTokens
		}
		meta.Tags = update.Tags
		meta.AudioEnabled = update.AudioEnabled
		meta.VoiceID = update.VoiceID
		meta.PersonaName = update.PersonaName
		meta.UserName = update.UserName
		meta.UpdatedAt = time.Now().UTC()
		ret := *meta
		s.mu.Unlock()
		writeJSON(w, ret)

	case route == "clone" && r.Method == http.MethodPost:
		s.mu.Lock()
		clone := *meta
		clone.ID = uuid.NewString()
		clone.Name = meta.Name + " [CLONE]"
		clone.Tags = append([]string{}, meta.Tags...)
		var msgs []*conversation.Message
		for _, m := range s.messages[id] {
			cp := *m
			cp.ID = uuid.NewString()
			msgs = append(msgs, &cp)
		}
		clone.MessageCount = len(msgs)
		s.mu.Unlock()
		s.AddConversation(clone, msgs...)
		writeJSON(w, clone)

	case route == "messages" && r.Method == http.MethodGet:
		if s.FailListMessages.Load() {
			writeDetail(w, http.StatusInternalServerError, "storage unavailable")
			return
		}
		writeJSON(w, s.StoredMessages(id))

	case route == "messages" && r.Method == http.MethodPost:
		s.serveSend(w, r, id)

	case len(parts) == 2 && parts[0] == "messages" && r.Method == http.MethodPut:
		var m conversation.Message
		if !readJSON(w, r, &m) {
			return
		}
		s.mu.Lock()
		found := false
		for i, old := range s.messages[id] {
			if old.ID == parts[1] {
				s.messages[id][i] = &m
				found = true
				break
			}
		}
		s.mu.Unlock()
		if !found {
			writeDetail(w, http.StatusNotFound, "Message not found")
			return
		}
		writeJSON(w, s.StoredMessages(id))

	case len(parts) == 2 && parts[0] == "messages" && r.Method == http.MethodDelete:
		s.mu.Lock()
		found := false
		kept := []*conversation.Message{}
		for _, m := range s.messages[id] {
			if m.ID == parts[1] {
				found = true
				continue
			}
			kept = append(kept, m)
		}
		if found {
			s.messages[id] = kept
			meta.MessageCount = len(kept)
		}
		s.mu.Unlock()
		if !found {
			writeDetail(w, http.StatusNotFound, "Message not found")
			return
		}
		writeJSON(w, kept)

	case len(parts) == 3 && parts[0] == "messages" && parts[2] == "cache" && r.Method == http.MethodPost:
		s.mu.Lock()
		found := false
		for _, m := range s.messages[id] {
			if m.ID == parts[1] {
				m.Cache = !m.Cache
				found = true
			}
		}
		s.mu.Unlock()
		if !found {
			writeDetail(w, http.StatusNotFound, "Message not found")
			return
		}
		writeJSON(w, s.StoredMessages(id))

	case route == "cached-message" && r.Method == http.MethodPost:
		var m client.CachedMessage
		if !readJSON(w, r, &m) {
			return
		}
		if !m.Cache {
			writeDetail(w, http.StatusBadRequest, "This endpoint only accepts cached messages")
			return
		}
		s.mu.Lock()
		s.messages[id] = append(s.messages[id], &conversation.Message{
			ID:                 m.ID,
			Role:               conversation.RoleUser,
			Content:            m.Content,
			Cache:              true,
			AssistantMessageID: m.AssistantMessageID,
		})
		meta.MessageCount = len(s.messages[id])
		s.mu.Unlock()
		writeJSON(w, m.ID)

	case route == "transcript" && r.Method == http.MethodGet:
		var lines []string
		for _, m := range s.StoredMessages(id) {
			lines = append(lines, fmt.Sprintf("**%s**: %s", rolePrefixes[m.Role], m.Text()), "")
		}
		writeJSON(w, strings.Join(lines, "\n"))

	case route == "system-prompt-from-transcript" && r.Method == http.MethodPost:
		p := client.SystemPrompt{
			ID:      id,
			Name:    r.URL.Query().Get("name"),
			Content: "[BEGIN GROUP CONVERSATION]\n\n[END GROUP CONVERSATION]",
		}
		s.AddSystemPrompt(p)
		writeJSON(w, p)

	case len(parts) == 2 && parts[0] == "tags" && (r.Method == http.MethodPost || r.Method == http.MethodDelete):
		s.mu.Lock()
		if r.Method == http.MethodPost && !meta.HasTag(parts[1]) {
			meta.Tags = append(meta.Tags, parts[1])
		}
		if r.Method == http.MethodDelete {
			kept := []string{}
			for _, t := range meta.Tags {
				if t != parts[1] {
					kept = append(kept, t)
				}
			}
			meta.Tags = kept
		}
		ret := *meta
		s.mu.Unlock()
		writeJSON(w, ret)

	case len(parts) == 2 && parts[0] == "images" && r.Method == http.MethodGet:
		s.mu.Lock()
		var image *storedImage
		for k, v := range s.images {
			if strings.HasPrefix(k, id+"/"+parts[1]+".") {
				v := v
				image = &v
				break
			}
		}
		s.mu.Unlock()
		if image == nil {
			writeDetail(w, http.StatusNotFound, "Image not found")
			return
		}
		w.Header().Set("Content-Type", image.contentType)
		_, _ = w.Write(image.data)

	default:
		writeDetail(w, http.StatusNotFound, "Not Found")
	}
}

func (s *Server) serveSend(w http.ResponseWriter, r *http.Request, id string) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	send := RecordedSend{
		ConversationID:     id,
		ID:                 r.FormValue("id"),
		AssistantMessageID: r.FormValue("assistant_message_id"),
		Cache:              r.FormValue("cache") == "true",
		TargetPersona:      r.FormValue("target_persona"),
	}
	if err := json.Unmarshal([]byte(r.FormValue("content")), &send.Content); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "content is not a JSON list")
		return
	}

	var images []conversation.MessageImage
	if r.MultipartForm != nil {
		for _, fh := range r.MultipartForm.File["files"] {
			f, err := fh.Open()
			if err != nil {
				writeDetail(w, http.StatusBadRequest, err.Error())
				return
			}
			data, _ := io.ReadAll(f)
			_ = f.Close()
			send.Files = append(send.Files, RecordedFile{
				Filename:    fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Size:        len(data),
			})
			stem := strings.TrimSuffix(fh.Filename, path.Ext(fh.Filename))
			images = append(images, conversation.MessageImage{
				ID:        stem,
				Filename:  fh.Filename,
				MediaType: fh.Header.Get("Content-Type"),
			})
			s.mu.Lock()
			s.images[id+"/"+fh.Filename] = storedImage{data: data, contentType: fh.Header.Get("Content-Type")}
			s.mu.Unlock()
		}
	}

	s.mu.Lock()
	s.sends = append(s.sends, send)
	script := Script{Chunks: []string{"data: [DONE]\n\n"}}
	if len(s.scripts) > 0 {
		script = s.scripts[0]
		s.scripts = s.scripts[1:]
	}
	s.mu.Unlock()

	if script.Status != 0 && script.Status != http.StatusOK {
		writeDetail(w, script.Status, script.Detail)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}
	for i, chunk := range script.Chunks {
		if script.Hold != nil && i == script.HoldAt {
			select {
			case <-script.Hold:
			case <-r.Context().Done():
				return
			}
		}
		if _, err := io.WriteString(w, chunk); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(send.Content) > 0 {
		s.messages[id] = append(s.messages[id], &conversation.Message{
			ID:                 send.ID,
			Role:               conversation.RoleUser,
			Content:            send.Content,
			Images:             images,
			Cache:              send.Cache,
			AssistantMessageID: send.AssistantMessageID,
		})
	}
	if script.Reply != nil {
		s.messages[id] = append(s.messages[id], script.Reply)
	}
	if meta, ok := s.conversations[id]; ok {
		meta.MessageCount = len(s.messages[id])
	}
}

func (s *Server) servePrompts(w http.ResponseWriter, r *http.Request, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		s.mu.Lock()
		ret := []client.SystemPrompt{}
		for _, p := range s.prompts {
			ret = append(ret, *p)
		}
		s.mu.Unlock()
		sort.Slice(ret, func(i, j int) bool { return ret[i].ID < ret[j].ID })
		writeJSON(w, ret)

	case len(parts) == 0 && r.Method == http.MethodPost:
		var create client.SystemPromptCreate
		if !readJSON(w, r, &create) {
			return
		}
		p := client.SystemPrompt{
			ID:          uuid.NewString(),
			Name:        create.Name,
			Content:     create.Content,
			Description: create.Description,
			IsCached:    create.IsCached,
		}
		s.AddSystemPrompt(p)
		writeJSON(w, p)

	case len(parts) == 1:
		s.mu.Lock()
		p, ok := s.prompts[parts[0]]
		s.mu.Unlock()
		if !ok {
			writeDetail(w, http.StatusNotFound, "System prompt not found")
			return
		}
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, p)
		case http.MethodPut:
			var update client.SystemPromptUpdate
			if !readJSON(w, r, &update) {
				return
			}
			s.mu.Lock()
			if update.Name != nil {
				p.Name = *update.Name
			}
			if update.Content != nil {
				p.Content = *update.Content
			}
			if update.Description != nil {
				p.Description = update.Description
			}
			if update.IsCached != nil {
				p.IsCached = *update.IsCached
			}
			ret := *p
			s.mu.Unlock()
			writeJSON(w, ret)
		case http.MethodDelete:
			s.mu.Lock()
			delete(s.prompts, parts[0])
			s.mu.Unlock()
			writeJSON(w, nil)
		default:
			writeDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		}

	default:
		writeDetail(w, http.StatusNotFound, "Not Found")
	}
}

var rolePrefixes = map[conversation.Role]string{
	conversation.RoleUser:      "User",
	conversation.RoleAssistant: "Assistant",
	conversation.RoleSystem:    "System",
}

func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}
