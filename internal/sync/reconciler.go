// Package sync merges realtime events from the messaging backend into
// the in-memory store without violating its ordering and idempotence
// guarantees.
package sync

import (
	"context"
	"errors"
	stdsync "sync"
	"time"

	"github.com/chatdeskhq/chatdesk/internal/backend"
	"github.com/chatdeskhq/chatdesk/internal/bus"
	"github.com/chatdeskhq/chatdesk/internal/expiry"
	"github.com/chatdeskhq/chatdesk/internal/model"
	"github.com/chatdeskhq/chatdesk/internal/store"
	"go.uber.org/zap"
)

// Reconciled is the payload of message.reconciled events: the temp id
// a send was queued under and the server id it resolved to.
type Reconciled struct {
	TempID         string
	MessageID      string
	ConversationID string
}

// Reconciler is the single consumer of inbound realtime events. It
// subscribes to "rt." events on the bus and applies them to the store
// one at a time, so events for one conversation are never interleaved.
// It is the only component that calls store.Reconcile.
type Reconciler struct {
	store   *store.Store
	sweeper *expiry.Sweeper
	bus     *bus.Bus
	logger  *zap.Logger

	mu     stdsync.Mutex
	cancel context.CancelFunc
}

// NewReconciler creates a reconciler. sweeper may be nil when
// disappearing messages are off entirely.
func NewReconciler(s *store.Store, sweeper *expiry.Sweeper, b *bus.Bus, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{store: s, sweeper: sweeper, bus: b, logger: logger}
}

// Start subscribes to inbound realtime events on the bus. Start and
// Stop are safe to call from different goroutines.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	ch, unsub := r.bus.Subscribe("rt.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				r.Apply(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the consumer loop.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Apply handles one realtime event. Exported so tests and synchronous
// callers can drive the reconciler without the bus loop.
func (r *Reconciler) Apply(evt bus.Event) {
	switch evt.Kind {
	case backend.KindMessageCreated:
		if p, ok := evt.Payload.(backend.MessageCreated); ok {
			r.applyCreated(p)
		}
	case backend.KindSendAck:
		if p, ok := evt.Payload.(backend.SendAck); ok {
			r.applyAck(p)
		}
	case backend.KindSendFailed:
		if p, ok := evt.Payload.(backend.SendFailed); ok {
			r.applyFailed(p)
		}
	case backend.KindStatusChanged:
		if p, ok := evt.Payload.(backend.StatusChanged); ok {
			r.applyStatus(p)
		}
	case backend.KindReactionAdded:
		if p, ok := evt.Payload.(backend.ReactionAdded); ok {
			r.applyReaction(p)
		}
	case backend.KindConversationTagged:
		if p, ok := evt.Payload.(backend.ConversationTagged); ok {
			r.applyTagged(p)
		}
	}
}

func (r *Reconciler) applyCreated(p backend.MessageCreated) {
	msg := p.Message
	if msg.ConversationID == "" {
		if _, err := r.store.Contact(p.ContactID); err != nil {
			// First contact with this sender: register a minimal
			// contact so the conversation has an owner.
			r.store.UpsertContact(&model.Contact{
				ID:   p.ContactID,
				Name: msg.SenderName,
				Type: model.ChatLead,
			})
		}
		cv, err := r.store.EnsureConversation(p.ContactID)
		if err != nil {
			r.logger.Error("failed to resolve conversation", zap.Error(err), zap.String("contact_id", p.ContactID))
			return
		}
		msg.ConversationID = cv.ID
	}

	stored, err := r.store.Append(msg)
	if err != nil {
		r.logger.Error("failed to append inbound message", zap.Error(err), zap.String("msg_id", msg.ID))
		return
	}
	r.afterMutation(stored.ConversationID, "message.appended", stored.ID)
}

func (r *Reconciler) applyAck(p backend.SendAck) {
	confirmed, err := r.store.Reconcile(p.TempID, p.Message)
	if errors.Is(err, store.ErrNotFound) {
		// The server echo beat the optimistic insert, or the temp entry
		// is gone. Appending dedupes by server id either way.
		confirmed, err = r.store.Append(p.Message)
	}
	if err != nil {
		r.logger.Error("failed to reconcile send", zap.Error(err), zap.String("temp_id", p.TempID))
		return
	}
	if r.sweeper != nil {
		r.sweeper.SweepConversation(confirmed.ConversationID, time.Now())
	}
	if r.bus != nil {
		r.bus.Publish(bus.Emit("message.reconciled", Reconciled{
			TempID:         p.TempID,
			MessageID:      confirmed.ID,
			ConversationID: confirmed.ConversationID,
		}))
	}
}

func (r *Reconciler) applyFailed(p backend.SendFailed) {
	err := r.store.UpdateStatus(p.TempID, model.StatusError)
	if err != nil {
		// A duplicate failure report, or the message was already
		// reconciled or deleted. Not an error under at-least-once
		// delivery.
		r.logger.Debug("ignoring stale send failure", zap.Error(err), zap.String("temp_id", p.TempID))
		return
	}
	r.logger.Warn("send failed", zap.String("temp_id", p.TempID), zap.String("reason", p.Reason))
	r.publish("message.failed", p.TempID)
}

func (r *Reconciler) applyStatus(p backend.StatusChanged) {
	err := r.store.UpdateStatus(p.MessageID, p.Status)
	switch {
	case errors.Is(err, store.ErrInvalidTransition):
		// Late or duplicated receipt arriving after a further status;
		// the forward-only rule makes dropping it safe.
		r.logger.Debug("ignoring stale status event", zap.String("msg_id", p.MessageID), zap.String("status", string(p.Status)))
	case err != nil:
		r.logger.Warn("status event for unknown message", zap.Error(err), zap.String("msg_id", p.MessageID))
	default:
		r.publish("message.status_changed", p.MessageID)
	}
}

func (r *Reconciler) applyReaction(p backend.ReactionAdded) {
	if err := r.store.AddReaction(p.MessageID, p.Reaction); err != nil {
		r.logger.Warn("reaction for unknown message", zap.Error(err), zap.String("msg_id", p.MessageID))
		return
	}
	r.publish("message.reacted", p.MessageID)
}

func (r *Reconciler) applyTagged(p backend.ConversationTagged) {
	if err := r.store.TagConversation(p.ConversationID, p.Tag); err != nil {
		r.logger.Warn("tag for unknown conversation", zap.Error(err), zap.String("conversation_id", p.ConversationID))
		return
	}
	r.publish("conversation.tagged", p.ConversationID)
}

// afterMutation sweeps the touched conversation so an expired message
// is never observable, then announces the mutation.
func (r *Reconciler) afterMutation(convID, kind, msgID string) {
	if r.sweeper != nil {
		r.sweeper.SweepConversation(convID, time.Now())
	}
	r.publish(kind, msgID)
}

func (r *Reconciler) publish(kind, id string) {
	if r.bus != nil {
		r.bus.Publish(bus.Emit(kind, id))
	}
}
