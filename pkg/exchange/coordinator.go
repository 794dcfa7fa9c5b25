package exchange

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-go-golems/vivarium/pkg/client"
	"github.com/go-go-golems/vivarium/pkg/conversation"
	"github.com/go-go-golems/vivarium/pkg/events"
	"github.com/go-go-golems/vivarium/pkg/stream"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrExchangeInFlight is returned by Send, Load and DeleteMessage while an
// exchange is outstanding. Nothing was changed.
var ErrExchangeInFlight = errors.New("an exchange is already in flight")

// Transport is the part of the remote service a Coordinator talks to.
// *client.Client implements it.
type Transport interface {
	SendMessage(ctx context.Context, conversationID string, req client.SendMessageRequest) (io.ReadCloser, error)
	ListMessages(ctx context.Context, conversationID string) ([]*conversation.Message, error)
	DeleteMessage(ctx context.Context, conversationID string, messageID string) ([]*conversation.Message, error)
}

var _ Transport = (*client.Client)(nil)

// SendRequest is one user send. Either Text or TargetPersonaID must be set.
type SendRequest struct {
	Text            string
	TargetPersonaID string
	// Files without an ID get one from the coordinator's IDGenerator.
	Files []client.File
}

// Coordinator runs the exchanges of one open conversation: it updates the
// Message Store optimistically, streams the reply into it, and rolls back on
// failure or cancellation.
type Coordinator struct {
	conversationID string
	transport      Transport
	store          *conversation.Store
	metadata       *conversation.MetadataList
	sinks          []events.EventSink
	ids            IDGenerator
	cache          bool
	now            func() time.Time

	loading atomic.Bool

	mu    sync.Mutex
	state State
	token *CancelToken
}

type Option func(*Coordinator)

// WithMetadata keeps message_count of the conversation in list in step with
// the Message Store.
func WithMetadata(list *conversation.MetadataList) Option {
	return func(c *Coordinator) {
		c.metadata = list
	}
}

func WithEventSinks(sinks ...events.EventSink) Option {
	return func(c *Coordinator) {
		c.sinks = append(c.sinks, sinks...)
	}
}

func WithIDGenerator(ids IDGenerator) Option {
	return func(c *Coordinator) {
		c.ids = ids
	}
}

// WithCache sets the cache hint sent with every user message.
func WithCache(cache bool) Option {
	return func(c *Coordinator) {
		c.cache = cache
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

func New(conversationID string, transport Transport, store *conversation.Store, options ...Option) (*Coordinator, error) {
	if conversationID == "" {
		return nil, errors.New("conversation id is required")
	}
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	if store == nil {
		store = conversation.NewStore()
	}
	ret := &Coordinator{
		conversationID: conversationID,
		transport:      transport,
		store:          store,
		ids:            UUIDGenerator{},
		now:            time.Now,
	}
	for _, o := range options {
		o(ret)
	}
	return ret, nil
}

func (c *Coordinator) ConversationID() string {
	return c.conversationID
}

func (c *Coordinator) Store() *conversation.Store {
	return c.store
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Loading reports whether an exchange is in flight.
func (c *Coordinator) Loading() bool {
	return c.loading.Load()
}

// Cancel interrupts the exchange in flight, if any.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token == nil {
		log.Debug().Str("conversation_id", c.conversationID).Msg("nothing to cancel")
		return
	}
	log.Debug().Str("conversation_id", c.conversationID).Msg("cancelling exchange")
	token.Cancel()
}

// exchange is the bookkeeping of one Send, dropped once it resolves.
type exchange struct {
	ctx                context.Context
	id                 string
	userMessageID      string
	assistantMessageID string
	token              *CancelToken

	// taken before the optimistic append
	snapshotCount int
	hasSnapshot   bool
	appended      int

	text strings.Builder
}

func (e *exchange) metadata(conversationID string) events.EventMetadata {
	return events.EventMetadata{
		ConversationID:     conversationID,
		ExchangeID:         e.id,
		UserMessageID:      e.userMessageID,
		AssistantMessageID: e.assistantMessageID,
	}
}

// appendedIDs are the ids of the messages this exchange added to the store.
func (e *exchange) appendedIDs() []string {
	ret := []string{e.assistantMessageID}
	if e.userMessageID != "" {
		ret = append(ret, e.userMessageID)
	}
	return ret
}

// Send runs one exchange to completion on the calling goroutine.
//
// It returns nil on success and on cancellation. Transport failures, error
// frames and non-2xx responses roll the store back and are returned.
func (c *Coordinator) Send(ctx context.Context, req SendRequest) error {
	if req.Text == "" && req.TargetPersonaID == "" {
		log.Debug().Str("conversation_id", c.conversationID).Msg("ignoring empty send")
		return nil
	}
	if !c.loading.CompareAndSwap(false, true) {
		log.Debug().Str("conversation_id", c.conversationID).Msg("send while an exchange is in flight")
		return ErrExchangeInFlight
	}
	defer c.loading.Store(false)

	ex := &exchange{
		ctx:   ctx,
		id:    newExchangeID(),
		token: NewCancelToken(ctx),
	}
	c.mu.Lock()
	c.token = ex.token
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.token = nil
		c.mu.Unlock()
		ex.token.release()
	}()

	c.transition(ex, InputSend)

	sendReq := c.appendOptimistic(ex, req)
	c.publish(ex, events.NewStartEvent(ex.metadata(c.conversationID)))

	body, err := c.transport.SendMessage(ex.token.Context(), c.conversationID, sendReq)
	if err != nil {
		if ex.token.Cancelled() {
			return c.interrupted(ex)
		}
		return c.fail(ex, errors.Wrap(err, "could not send message"))
	}
	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(body)

	c.transition(ex, InputResponse)

	if err := c.readStream(ex, body); err != nil {
		if errors.Is(err, ErrCancelled) {
			return c.interrupted(ex)
		}
		return c.fail(ex, err)
	}

	c.publish(ex, events.NewFinalEvent(ex.metadata(c.conversationID), ex.text.String()))
	c.transition(ex, InputDone)

	found := c.reconcile(ex)
	c.transition(ex, InputReconciled)

	meta := ex.metadata(c.conversationID)
	if m, ok := c.store.Get(ex.assistantMessageID); ok {
		meta.Usage = m.Usage
	}
	c.publish(ex, events.NewReconciledEvent(meta, found))

	log.Debug().
		Str("conversation_id", c.conversationID).
		Str("exchange_id", ex.id).
		Str("assistant_message_id", ex.assistantMessageID).
		Int("length", ex.text.Len()).
		Msg("exchange complete")
	return nil
}

// appendOptimistic adds the user message (if there is text) and the
// assistant placeholder, syncs message_count and returns the request to send.
func (c *Coordinator) appendOptimistic(ex *exchange, req SendRequest) client.SendMessageRequest {
	// the service wants a user message id even when no user message is sent
	userMessageID := c.ids.NewID()
	ex.assistantMessageID = c.ids.NewID()

	files := make([]client.File, len(req.Files))
	for i, f := range req.Files {
		if f.ID == "" {
			f.ID = c.ids.NewID()
		}
		files[i] = f
	}

	ret := client.SendMessageRequest{
		ID:                 userMessageID,
		AssistantMessageID: ex.assistantMessageID,
		Cache:              c.cache,
		TargetPersona:      req.TargetPersonaID,
		Files:              files,
	}

	if c.metadata != nil {
		if meta, ok := c.metadata.Get(c.conversationID); ok {
			ex.snapshotCount = meta.MessageCount
			ex.hasSnapshot = true
		}
	}

	now := c.now()
	var toAppend []*conversation.Message
	if req.Text != "" {
		ex.userMessageID = userMessageID
		ret.Content = []conversation.ContentBlock{conversation.NewTextBlock(req.Text)}

		images := make([]conversation.MessageImage, 0, len(files))
		for _, f := range files {
			images = append(images, f.Image())
		}
		toAppend = append(toAppend, conversation.NewTextMessage(
			ex.userMessageID, conversation.RoleUser, req.Text,
			conversation.WithTime(now),
			conversation.WithImages(images...),
			conversation.WithCache(c.cache),
			conversation.WithAssistantMessageID(ex.assistantMessageID),
		))
	}
	toAppend = append(toAppend, conversation.NewTextMessage(
		ex.assistantMessageID, conversation.RoleAssistant, "",
		conversation.WithTime(now),
	))

	c.store.Append(toAppend...)
	ex.appended = len(toAppend)
	c.syncMetadata("optimistic append", func(m conversation.ConversationMetadata) conversation.ConversationMetadata {
		return conversation.ApplyMessageDelta(m, ex.appended)
	})

	return ret
}

// readStream applies stream events to the assistant message until [DONE]
// or the end of the body.
func (c *Coordinator) readStream(ex *exchange, body io.Reader) error {
	reader := stream.NewReader(body, stream.WithInterrupt(ex.token.Err))

	for {
		ev, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		switch ev_ := ev.(type) {
		case stream.MessageStart:
			if ev_.Role != conversation.RoleAssistant {
				log.Warn().
					Str("conversation_id", c.conversationID).
					Object("event", ev_).
					Msg("message_start for a non-assistant role")
				continue
			}
			c.store.Update(ex.assistantMessageID, func(m *conversation.Message) {
				if ev_.ID != "" {
					m.ID = ev_.ID
				}
				m.Usage = ev_.Usage
			})
			if ev_.ID != "" {
				ex.assistantMessageID = ev_.ID
			}

		case stream.ContentDelta:
			ex.text.WriteString(ev_.Text)
			completion := ex.text.String()
			c.store.Update(ex.assistantMessageID, func(m *conversation.Message) {
				m.Content = []conversation.ContentBlock{conversation.NewTextBlock(completion)}
			})
			c.publish(ex, events.NewPartialCompletionEvent(ex.metadata(c.conversationID), ev_.Text, completion))

		case stream.Done:
			return nil

		case stream.StreamError:
			return errors.Wrap(ev_, "service reported an error")

		case stream.Unknown:
			log.Debug().Object("event", ev_).Msg("ignoring stream event")
		}
	}
}

// reconcile copies the usage the service recorded for the reply onto the
// assistant message. Failures are logged and otherwise ignored.
func (c *Coordinator) reconcile(ex *exchange) bool {
	msgs, err := c.transport.ListMessages(ex.ctx, c.conversationID)
	if err != nil {
		log.Warn().Err(err).
			Str("conversation_id", c.conversationID).
			Str("exchange_id", ex.id).
			Msg("could not reconcile reply")
		return false
	}
	for _, m := range msgs {
		if m == nil || m.ID != ex.assistantMessageID {
			continue
		}
		if m.Usage != nil {
			usage := *m.Usage
			c.store.Update(ex.assistantMessageID, func(local *conversation.Message) {
				local.Usage = &usage
			})
		}
		return true
	}
	log.Debug().
		Str("conversation_id", c.conversationID).
		Str("assistant_message_id", ex.assistantMessageID).
		Msg("reply not found while reconciling")
	return false
}

// fail removes every message the exchange appended and restores
// message_count.
func (c *Coordinator) fail(ex *exchange, err error) error {
	removed := c.store.RemoveByID(ex.appendedIDs()...)
	if ex.hasSnapshot {
		c.syncMetadata("rollback", func(m conversation.ConversationMetadata) conversation.ConversationMetadata {
			return conversation.RestoreMessageCount(m, ex.snapshotCount)
		})
	}
	log.Error().Err(err).
		Str("conversation_id", c.conversationID).
		Str("exchange_id", ex.id).
		Int("removed", removed).
		Msg("exchange failed")

	c.transition(ex, InputFailed)
	c.publish(ex, events.NewErrorEvent(ex.metadata(c.conversationID), err))
	return err
}

// interrupted removes the assistant message only; the user message stays.
func (c *Coordinator) interrupted(ex *exchange) error {
	if c.store.RemoveByID(ex.assistantMessageID) > 0 {
		c.syncMetadata("cancel", func(m conversation.ConversationMetadata) conversation.ConversationMetadata {
			return conversation.ApplyMessageDelta(m, -1)
		})
	}
	log.Info().
		Str("conversation_id", c.conversationID).
		Str("exchange_id", ex.id).
		Int("length", ex.text.Len()).
		Msg("exchange cancelled")

	c.transition(ex, InputCancelled)
	c.publish(ex, events.NewInterruptEvent(ex.metadata(c.conversationID), ex.text.String()))
	return nil
}

// Load replaces the store with the service's message list.
func (c *Coordinator) Load(ctx context.Context) error {
	if !c.loading.CompareAndSwap(false, true) {
		return ErrExchangeInFlight
	}
	defer c.loading.Store(false)

	msgs, err := c.transport.ListMessages(ctx, c.conversationID)
	if err != nil {
		return errors.Wrapf(err, "could not load conversation %s", c.conversationID)
	}
	c.store.Replace(msgs)
	log.Debug().Str("conversation_id", c.conversationID).Int("messages", len(msgs)).Msg("loaded conversation")
	return nil
}

// DeleteMessage deletes a message on the service, then locally, and
// decrements message_count.
func (c *Coordinator) DeleteMessage(ctx context.Context, messageID string) error {
	if !c.loading.CompareAndSwap(false, true) {
		return ErrExchangeInFlight
	}
	defer c.loading.Store(false)

	if _, err := c.transport.DeleteMessage(ctx, c.conversationID, messageID); err != nil {
		return errors.Wrapf(err, "could not delete message %s", messageID)
	}
	if c.store.RemoveByID(messageID) > 0 {
		c.syncMetadata("delete", func(m conversation.ConversationMetadata) conversation.ConversationMetadata {
			return conversation.ApplyMessageDelta(m, -1)
		})
	}
	return nil
}

func (c *Coordinator) syncMetadata(reason string, f func(conversation.ConversationMetadata) conversation.ConversationMetadata) {
	if c.metadata == nil {
		return
	}
	meta, ok := c.metadata.UpdateMetadata(c.conversationID, f)
	if !ok {
		log.Debug().Str("conversation_id", c.conversationID).Str("reason", reason).Msg("conversation not in metadata list")
		return
	}
	log.Trace().
		Str("conversation_id", c.conversationID).
		Str("reason", reason).
		Int("message_count", meta.MessageCount).
		Msg("synced message count")
}

func (c *Coordinator) transition(ex *exchange, in Input) {
	c.mu.Lock()
	from := c.state
	to, err := Transition(from, in)
	if err != nil {
		c.mu.Unlock()
		log.Error().Err(err).Str("exchange_id", ex.id).Msg("ignoring transition")
		return
	}
	c.state = to
	c.mu.Unlock()

	log.Debug().
		Str("conversation_id", c.conversationID).
		Str("exchange_id", ex.id).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("exchange state changed")
	c.publish(ex, events.NewStateChangedEvent(ex.metadata(c.conversationID), from.String(), to.String()))
}

func (c *Coordinator) publish(ex *exchange, e events.Event) {
	events.PublishEventToContext(ex.ctx, e, c.sinks...)
}
