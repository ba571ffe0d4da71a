// Package dispatch drains queued optimistic messages and hands them to
// the conversation backend. Outcomes come back as rt.* events, so the
// reconciler applies confirmations the same way it applies any other
// realtime event.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/chatdeskhq/chatdesk/internal/backend"
	"github.com/chatdeskhq/chatdesk/internal/bus"
	"github.com/chatdeskhq/chatdesk/internal/coordinator"
	"github.com/chatdeskhq/chatdesk/internal/model"
	"go.uber.org/zap"
)

// Dispatcher subscribes to message.queued events and sends each
// message via the backend. Sends are sequential: per-conversation
// ordering at the transport follows queue order.
type Dispatcher struct {
	backend backend.MessageSender
	bus     *bus.Bus
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
}

// DefaultSendTimeout bounds a single send attempt when no timeout is
// given.
const DefaultSendTimeout = 30 * time.Second

// New creates a dispatcher. timeout bounds a single send attempt; zero
// means DefaultSendTimeout.
func New(be backend.MessageSender, b *bus.Bus, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &Dispatcher{backend: be, bus: b, logger: logger, timeout: timeout}
}

// Start begins consuming queued messages. Start and Stop are safe to
// call from different goroutines.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()
	ch, unsub := d.bus.Subscribe("message.queued", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				if q, ok := evt.Payload.(coordinator.Queued); ok {
					d.send(ctx, q)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the dispatcher loop.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (d *Dispatcher) send(ctx context.Context, q coordinator.Queued) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	res, err := d.backend.SendMessage(ctx, q.ConversationID, q.Message)
	if err != nil {
		d.logger.Error("send failed",
			zap.Error(err),
			zap.String("temp_id", q.Message.ID),
			zap.String("conversation_id", q.ConversationID))
		d.bus.Publish(bus.Emit(backend.KindSendFailed, backend.SendFailed{
			TempID: q.Message.ID,
			Reason: err.Error(),
		}))
		return
	}

	// q.Message is the enqueue-time snapshot; the ack carries its own
	// copy so the payload stays immutable on the bus.
	confirmed := *q.Message.Clone()
	confirmed.ID = res.ServerID
	confirmed.Status = res.Status
	if confirmed.Status == "" {
		confirmed.Status = model.StatusSent
	}
	d.logger.Info("message sent",
		zap.String("temp_id", q.Message.ID),
		zap.String("server_id", res.ServerID))
	d.bus.Publish(bus.Emit(backend.KindSendAck, backend.SendAck{
		TempID:  q.Message.ID,
		Message: &confirmed,
	}))
}
