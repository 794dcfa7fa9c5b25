package conversation

import (
	"sync"

	"github.com/huandu/go-clone"
	"github.com/rs/zerolog/log"
)

// Store is the ordered, in-memory list of messages of one open conversation.
//
// All mutations are keyed by message id, never by index, so that a rollback
// removes exactly the messages it appended even if the list changed in
// between. Readers always get deep copies.
type Store struct {
	mu       sync.RWMutex
	messages []*Message
}

func NewStore(messages ...*Message) *Store {
	ret := &Store{}
	ret.Append(messages...)
	return ret
}

func (s *Store) Append(messages ...*Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range messages {
		if m == nil {
			continue
		}
		log.Trace().Object("message", m).Int("position", len(s.messages)).Msg("appending message")
		s.messages = append(s.messages, cloneMessage(m))
	}
}

// Replace swaps the whole list, e.g. after fetching the conversation from the
// source of truth.
func (s *Store) Replace(messages []*Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = make([]*Message, 0, len(messages))
	for _, m := range messages {
		if m != nil {
			s.messages = append(s.messages, cloneMessage(m))
		}
	}
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Messages returns a deep copy of the current list.
func (s *Store) Messages() []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ret := make([]*Message, len(s.messages))
	for i, m := range s.messages {
		ret[i] = cloneMessage(m)
	}
	return ret
}

func (s *Store) Get(id string) (*Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.indexOf(id); i >= 0 {
		return cloneMessage(s.messages[i]), true
	}
	return nil, false
}

func (s *Store) Last() (*Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.messages) == 0 {
		return nil, false
	}
	return cloneMessage(s.messages[len(s.messages)-1]), true
}

// Update applies f to the message with the given id in place. f may change
// the message id; later lookups must use the new one.
func (s *Store) Update(id string, f func(m *Message)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	f(s.messages[i])
	return true
}

// RemoveByID removes every message whose id is in ids and returns how many
// were removed. Unknown ids are ignored.
func (s *Store) RemoveByID(ids ...string) int {
	if len(ids) == 0 {
		return 0
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.messages[:0]
	removed := 0
	for _, m := range s.messages {
		if _, ok := drop[m.ID]; ok {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	// clear the tail so dropped messages can be collected
	for i := len(kept); i < len(s.messages); i++ {
		s.messages[i] = nil
	}
	s.messages = kept
	return removed
}

func (s *Store) indexOf(id string) int {
	for i, m := range s.messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func cloneMessage(m *Message) *Message {
	return clone.Clone(m).(*Message)
}
