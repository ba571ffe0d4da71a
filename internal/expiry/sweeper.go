// Package expiry implements disappearing messages: a per-conversation
// policy that removes messages older than a configured timeout.
package expiry

import (
	"context"
	"sync"
	"time"

	"github.com/chatdeskhq/chatdesk/internal/bus"
	"github.com/chatdeskhq/chatdesk/internal/model"
	"github.com/chatdeskhq/chatdesk/internal/store"
	"go.uber.org/zap"
)

// Policy is the disappearing-message setting for one conversation.
type Policy struct {
	Enabled bool
	Timeout time.Duration
}

// Sweeper removes expired messages. Sweeps are idempotent: sweeping
// twice at the same instant leaves the same surviving set. The
// coordinator and reconciler invoke SweepConversation synchronously
// after every relevant mutation; Start additionally runs a periodic
// background sweep as a safety net.
type Sweeper struct {
	store  *store.Store
	bus    *bus.Bus
	logger *zap.Logger

	mu       sync.RWMutex
	policies map[string]Policy
	fallback Policy

	grace    time.Duration
	interval time.Duration
	cancel   context.CancelFunc
}

// Expired is the payload of message.expired events.
type Expired struct {
	ConversationID string
	MessageIDs     []string
}

// NewSweeper creates a sweeper with the given default policy. grace is
// the minimum age below which an in-flight (sending) message is never
// swept; interval is the background sweep period.
func NewSweeper(s *store.Store, b *bus.Bus, fallback Policy, grace, interval time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		store:    s,
		bus:      b,
		logger:   logger,
		policies: make(map[string]Policy),
		fallback: fallback,
		grace:    grace,
		interval: interval,
	}
}

// SetPolicy overrides the policy for one conversation.
func (sw *Sweeper) SetPolicy(convID string, p Policy) {
	sw.mu.Lock()
	sw.policies[convID] = p
	sw.mu.Unlock()
}

// PolicyFor returns the effective policy for a conversation.
func (sw *Sweeper) PolicyFor(convID string) Policy {
	sw.mu.RLock()
	defer sw.mu.RUnlock()
	if p, ok := sw.policies[convID]; ok {
		return p
	}
	return sw.fallback
}

// Sweep expires messages in every conversation with an enabled policy.
func (sw *Sweeper) Sweep(now time.Time) {
	for _, v := range sw.store.Conversations() {
		sw.SweepConversation(v.Conversation.ID, now)
	}
}

// SweepConversation expires every message older than the conversation's
// timeout. In-flight sends younger than the grace period survive even
// past the cutoff, so a message is never expired out from under an
// unconfirmed send.
func (sw *Sweeper) SweepConversation(convID string, now time.Time) {
	p := sw.PolicyFor(convID)
	if !p.Enabled {
		return
	}
	msgs, err := sw.store.Messages(convID)
	if err != nil {
		return
	}

	cutoff := now.Add(-p.Timeout)
	var expired []string
	for _, m := range msgs {
		if !m.Timestamp.Before(cutoff) {
			continue
		}
		if m.Status == model.StatusSending && now.Sub(m.Timestamp) < sw.grace {
			continue
		}
		if err := sw.store.Remove(m.ID); err == nil {
			expired = append(expired, m.ID)
		}
	}
	if len(expired) == 0 {
		return
	}

	sw.logger.Info("messages expired",
		zap.String("conversation_id", convID),
		zap.Int("count", len(expired)))
	if sw.bus != nil {
		sw.bus.Publish(bus.Emit("message.expired", Expired{
			ConversationID: convID,
			MessageIDs:     expired,
		}))
	}
}

// Start begins the periodic background sweep. A non-positive interval
// disables the loop; reactive sweeps still run. Start and Stop are
// safe to call from different goroutines.
func (sw *Sweeper) Start(ctx context.Context) {
	if sw.interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	sw.mu.Lock()
	sw.cancel = cancel
	sw.mu.Unlock()
	go sw.loop(ctx)
}

// Stop cancels the background sweep.
func (sw *Sweeper) Stop() {
	sw.mu.Lock()
	cancel := sw.cancel
	sw.cancel = nil
	sw.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (sw *Sweeper) loop(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sw.Sweep(time.Now())
		case <-ctx.Done():
			return
		}
	}
}
