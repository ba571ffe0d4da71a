package history

import (
	"context"
	"sync"
	"time"

	"github.com/chatdeskhq/chatdesk/internal/bus"
	"github.com/chatdeskhq/chatdesk/internal/coordinator"
	"github.com/chatdeskhq/chatdesk/internal/expiry"
	"github.com/chatdeskhq/chatdesk/internal/store"
	intsync "github.com/chatdeskhq/chatdesk/internal/sync"
	"go.uber.org/zap"
)

// Persister mirrors engine mutations into the archive. It subscribes
// to the engine's derived events and writes through, so the archive is
// eventually consistent with the in-memory store without the store
// knowing the archive exists.
//
// The bus drops events when a subscriber falls behind, so the event
// feed alone cannot guarantee convergence. A periodic Resync pass
// rewrites the archive from store state and repairs anything a dropped
// event left stale.
type Persister struct {
	db     *DB
	store  *store.Store
	bus    *bus.Bus
	logger *zap.Logger
	resync time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewPersister creates a persister. resync is the period of the
// background reconciliation pass; non-positive disables it.
func NewPersister(db *DB, s *store.Store, b *bus.Bus, resync time.Duration, logger *zap.Logger) *Persister {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Persister{db: db, store: s, bus: b, resync: resync, logger: logger}
}

// Start subscribes to engine events. Start and Stop are safe to call
// from different goroutines.
func (p *Persister) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()
	msgCh, unsubMsg := p.bus.Subscribe("message.", 256)
	convCh, unsubConv := p.bus.Subscribe("conversation.", 256)
	contactCh, unsubContact := p.bus.Subscribe("contact.", 256)

	var tick <-chan time.Time
	if p.resync > 0 {
		ticker := time.NewTicker(p.resync)
		tick = ticker.C
		go func() {
			<-ctx.Done()
			ticker.Stop()
		}()
	}

	go func() {
		defer unsubMsg()
		defer unsubConv()
		defer unsubContact()
		for {
			select {
			case evt := <-msgCh:
				p.handle(evt)
			case evt := <-convCh:
				p.handle(evt)
			case evt := <-contactCh:
				p.handle(evt)
			case <-tick:
				if err := p.Resync(ctx); err != nil {
					p.logger.Error("archive resync failed", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the persister loop.
func (p *Persister) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Resync writes the full store state through to the archive and prunes
// archived messages the store no longer holds, repairing any divergence
// caused by events lost to subscriber backpressure.
func (p *Persister) Resync(ctx context.Context) error {
	for _, c := range p.store.Contacts() {
		if err := p.db.UpsertContact(c); err != nil {
			return err
		}
	}
	for _, v := range p.store.Conversations() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.db.UpsertConversation(v.Conversation); err != nil {
			return err
		}
		msgs, err := p.store.Messages(v.Conversation.ID)
		if err != nil {
			continue
		}
		live := make(map[string]struct{}, len(msgs))
		for _, m := range msgs {
			live[m.ID] = struct{}{}
			if err := p.db.UpsertMessage(m); err != nil {
				return err
			}
		}
		archived, err := p.db.FetchMessages(ctx, v.Conversation.ID)
		if err != nil {
			return err
		}
		for _, m := range archived {
			if _, ok := live[m.ID]; ok {
				continue
			}
			if err := p.db.DeleteMessage(m.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Persister) handle(evt bus.Event) {
	switch evt.Kind {
	case "message.queued":
		if q, ok := evt.Payload.(coordinator.Queued); ok {
			p.persistMessage(q.Message.ID)
		}
	case "message.appended":
		if id, ok := evt.Payload.(string); ok {
			p.persistMessage(id)
		}
	case "message.reconciled":
		if rec, ok := evt.Payload.(intsync.Reconciled); ok {
			if err := p.db.DeleteMessage(rec.TempID); err != nil {
				p.logger.Error("failed to drop temp message", zap.Error(err), zap.String("temp_id", rec.TempID))
			}
			p.persistMessage(rec.MessageID)
		}
	case "message.status_changed", "message.reacted", "message.failed":
		if id, ok := evt.Payload.(string); ok {
			p.persistMessage(id)
		}
	case "message.deleted":
		if id, ok := evt.Payload.(string); ok {
			if err := p.db.DeleteMessage(id); err != nil {
				p.logger.Error("failed to delete archived message", zap.Error(err), zap.String("msg_id", id))
			}
		}
	case "message.expired":
		if exp, ok := evt.Payload.(expiry.Expired); ok {
			for _, id := range exp.MessageIDs {
				if err := p.db.DeleteMessage(id); err != nil {
					p.logger.Error("failed to delete expired message", zap.Error(err), zap.String("msg_id", id))
				}
			}
		}
	case "conversation.read":
		if convID, ok := evt.Payload.(string); ok {
			msgs, err := p.store.Messages(convID)
			if err != nil {
				return
			}
			for _, m := range msgs {
				if m.FromMe {
					continue
				}
				if err := p.db.UpsertMessage(m); err != nil {
					p.logger.Error("failed to archive message", zap.Error(err), zap.String("msg_id", m.ID))
				}
			}
		}
	case "conversation.tagged":
		if convID, ok := evt.Payload.(string); ok {
			p.persistConversation(convID)
		}
	case "contact.updated":
		if contactID, ok := evt.Payload.(string); ok {
			p.persistContact(contactID)
		}
	}
}

// persistMessage writes a message and its owning conversation/contact,
// which may themselves be new (lazily created on first message).
func (p *Persister) persistMessage(msgID string) {
	m, err := p.store.Message(msgID)
	if err != nil {
		// Already deleted or expired between event and write.
		return
	}
	p.persistConversation(m.ConversationID)
	if err := p.db.UpsertMessage(m); err != nil {
		p.logger.Error("failed to archive message", zap.Error(err), zap.String("msg_id", msgID))
	}
}

func (p *Persister) persistConversation(convID string) {
	cv, err := p.store.Conversation(convID)
	if err != nil {
		return
	}
	if contact, err := p.store.Contact(cv.ContactID); err == nil {
		if err := p.db.UpsertContact(contact); err != nil {
			p.logger.Error("failed to archive contact", zap.Error(err), zap.String("contact_id", contact.ID))
		}
	}
	if err := p.db.UpsertConversation(cv); err != nil {
		p.logger.Error("failed to archive conversation", zap.Error(err), zap.String("conversation_id", convID))
	}
}

func (p *Persister) persistContact(contactID string) {
	c, err := p.store.Contact(contactID)
	if err != nil {
		return
	}
	if err := p.db.UpsertContact(c); err != nil {
		p.logger.Error("failed to archive contact", zap.Error(err), zap.String("contact_id", contactID))
	}
}
