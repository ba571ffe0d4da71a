package sync

import (
	"context"
	stdsync "sync"
	"testing"
	"time"

	"github.com/chatdeskhq/chatdesk/internal/backend"
	"github.com/chatdeskhq/chatdesk/internal/bus"
	"github.com/chatdeskhq/chatdesk/internal/model"
	"github.com/chatdeskhq/chatdesk/internal/store"
)

func testStore(t *testing.T) (*store.Store, string) {
	t.Helper()
	s := store.New()
	s.UpsertContact(&model.Contact{ID: "alice", Name: "Alice", Type: model.ChatClient})
	cv, err := s.EnsureConversation("alice")
	if err != nil {
		t.Fatal(err)
	}
	return s, cv.ID
}

func inbound(id, convID string, tsMillis int64) *model.Message {
	return &model.Message{
		ID:             id,
		ConversationID: convID,
		Timestamp:      time.UnixMilli(tsMillis).UTC(),
		Type:           model.TypeText,
		Body:           "hello",
		SenderID:       "alice",
		SenderName:     "Alice",
		Status:         model.StatusDelivered,
	}
}

func TestMessageCreatedAppends(t *testing.T) {
	s, convID := testStore(t)
	r := NewReconciler(s, nil, nil, nil)

	r.Apply(bus.Emit(backend.KindMessageCreated, backend.MessageCreated{
		ContactID: "alice",
		Message:   inbound("srv-1", convID, 1000),
	}))

	msgs, err := s.Messages(convID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ID != "srv-1" {
		t.Fatalf("got %d messages, want srv-1", len(msgs))
	}
}

func TestDuplicateDeliveryIsNoOp(t *testing.T) {
	s, convID := testStore(t)
	r := NewReconciler(s, nil, nil, nil)

	evt := bus.Emit(backend.KindMessageCreated, backend.MessageCreated{
		ContactID: "alice",
		Message:   inbound("srv-1", convID, 1000),
	})
	r.Apply(evt)
	r.Apply(evt)

	msgs, _ := s.Messages(convID)
	if len(msgs) != 1 {
		t.Errorf("got %d messages, want 1 (at-least-once dedupe)", len(msgs))
	}
}

func TestMessageFromUnknownContactCreatesConversation(t *testing.T) {
	s, _ := testStore(t)
	r := NewReconciler(s, nil, nil, nil)

	msg := inbound("srv-9", "", 1000)
	msg.SenderID = "stranger"
	msg.SenderName = "Stranger"
	r.Apply(bus.Emit(backend.KindMessageCreated, backend.MessageCreated{
		ContactID: "stranger",
		Message:   msg,
	}))

	cv, err := s.ConversationByContact("stranger")
	if err != nil {
		t.Fatal(err)
	}
	msgs, _ := s.Messages(cv.ID)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	c, err := s.Contact("stranger")
	if err != nil {
		t.Fatal(err)
	}
	if c.Name != "Stranger" {
		t.Errorf("stub contact name = %q, want Stranger", c.Name)
	}
}

func TestSendAckReconciles(t *testing.T) {
	s, convID := testStore(t)
	r := NewReconciler(s, nil, nil, nil)

	temp := inbound("temp-1", convID, 1000)
	temp.FromMe = true
	temp.Status = model.StatusSending
	if _, err := s.Append(temp); err != nil {
		t.Fatal(err)
	}

	server := inbound("srv-1", convID, 1200)
	server.FromMe = true
	server.Status = model.StatusSent
	r.Apply(bus.Emit(backend.KindSendAck, backend.SendAck{TempID: "temp-1", Message: server}))

	msgs, _ := s.Messages(convID)
	if len(msgs) != 1 || msgs[0].ID != "srv-1" {
		t.Fatalf("messages = %d, want reconciled srv-1", len(msgs))
	}
	if msgs[0].Status != model.StatusSent {
		t.Errorf("status = %s, want sent", msgs[0].Status)
	}
}

func TestSendAckForUnknownTempFallsBackToAppend(t *testing.T) {
	s, convID := testStore(t)
	r := NewReconciler(s, nil, nil, nil)

	server := inbound("srv-1", convID, 1000)
	server.FromMe = true
	server.Status = model.StatusSent
	r.Apply(bus.Emit(backend.KindSendAck, backend.SendAck{TempID: "never-existed", Message: server}))

	msgs, _ := s.Messages(convID)
	if len(msgs) != 1 || msgs[0].ID != "srv-1" {
		t.Fatalf("fallback append failed: %d messages", len(msgs))
	}

	// The same ack redelivered changes nothing.
	r.Apply(bus.Emit(backend.KindSendAck, backend.SendAck{TempID: "never-existed", Message: server}))
	msgs, _ = s.Messages(convID)
	if len(msgs) != 1 {
		t.Errorf("got %d messages after redelivered ack, want 1", len(msgs))
	}
}

func TestSendFailedMarksError(t *testing.T) {
	s, convID := testStore(t)
	r := NewReconciler(s, nil, nil, nil)

	temp := inbound("temp-1", convID, 1000)
	temp.FromMe = true
	temp.Status = model.StatusSending
	if _, err := s.Append(temp); err != nil {
		t.Fatal(err)
	}

	r.Apply(bus.Emit(backend.KindSendFailed, backend.SendFailed{TempID: "temp-1", Reason: "network"}))

	m, _ := s.Message("temp-1")
	if m.Status != model.StatusError {
		t.Errorf("status = %s, want error", m.Status)
	}
}

func TestStaleStatusEventSwallowed(t *testing.T) {
	s, convID := testStore(t)
	r := NewReconciler(s, nil, nil, nil)

	msg := inbound("srv-1", convID, 1000)
	msg.FromMe = true
	msg.Status = model.StatusRead
	if _, err := s.Append(msg); err != nil {
		t.Fatal(err)
	}

	// A late delivery receipt after the read receipt must not error or
	// move the status backwards.
	r.Apply(bus.Emit(backend.KindStatusChanged, backend.StatusChanged{
		MessageID: "srv-1",
		Status:    model.StatusDelivered,
	}))

	m, _ := s.Message("srv-1")
	if m.Status != model.StatusRead {
		t.Errorf("status = %s, want read (stale event ignored)", m.Status)
	}
}

func TestReactionAndTagEvents(t *testing.T) {
	s, convID := testStore(t)
	r := NewReconciler(s, nil, nil, nil)

	if _, err := s.Append(inbound("srv-1", convID, 1000)); err != nil {
		t.Fatal(err)
	}

	r.Apply(bus.Emit(backend.KindReactionAdded, backend.ReactionAdded{
		MessageID: "srv-1",
		Reaction:  model.Reaction{UserID: "u1", Emoji: "👍"},
	}))
	r.Apply(bus.Emit(backend.KindConversationTagged, backend.ConversationTagged{
		ConversationID: convID,
		Tag:            "vip",
	}))

	m, _ := s.Message("srv-1")
	if len(m.Reactions) != 1 {
		t.Errorf("got %d reactions, want 1", len(m.Reactions))
	}
	cv, _ := s.Conversation(convID)
	if !cv.HasTag("vip") {
		t.Error("conversation not tagged")
	}
}

// TestBusSubscription verifies the reconciler consumes rt.* events off
// the bus and republishes derived message.* events.
func TestBusSubscription(t *testing.T) {
	s, convID := testStore(t)
	b := bus.New()
	r := NewReconciler(s, nil, b, nil)

	out, unsub := b.Subscribe("message.", 10)
	defer unsub()

	r.Start(context.Background())
	defer r.Stop()

	b.Publish(bus.Emit(backend.KindMessageCreated, backend.MessageCreated{
		ContactID: "alice",
		Message:   inbound("srv-1", convID, 1000),
	}))

	select {
	case evt := <-out:
		if evt.Kind != "message.appended" {
			t.Errorf("kind = %q, want message.appended", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message.appended")
	}

	msgs, _ := s.Messages(convID)
	if len(msgs) != 1 {
		t.Errorf("got %d messages, want 1", len(msgs))
	}
}

func TestReconcilerStartStopFromDifferentGoroutines(t *testing.T) {
	s, _ := testStore(t)
	b := bus.New()
	r := NewReconciler(s, nil, b, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg stdsync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Start(ctx)
		}()
		go func() {
			defer wg.Done()
			r.Stop()
		}()
	}
	wg.Wait()
	r.Stop()
}
