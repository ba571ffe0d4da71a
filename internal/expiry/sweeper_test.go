package expiry

import (
	"context"
	"sync"
	"testing"
	"time"

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

func appendAt(t *testing.T, s *store.Store, convID, id string, ts time.Time, status model.Status) {
	t.Helper()
	_, err := s.Append(&model.Message{
		ID:             id,
		ConversationID: convID,
		Timestamp:      ts,
		Type:           model.TypeText,
		Status:         status,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	s, convID := testStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	appendAt(t, s, convID, "old", now.Add(-3*time.Hour), model.StatusRead)
	appendAt(t, s, convID, "recent", now.Add(-time.Hour), model.StatusRead)
	appendAt(t, s, convID, "fresh", now, model.StatusDelivered)

	sw := NewSweeper(s, nil, Policy{Enabled: true, Timeout: 2 * time.Hour}, 30*time.Second, time.Minute, nil)
	sw.Sweep(now)

	msgs, _ := s.Messages(convID)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].ID != "recent" || msgs[1].ID != "fresh" {
		t.Errorf("survivors = [%s %s], want [recent fresh]", msgs[0].ID, msgs[1].ID)
	}

	// Second sweep at the same instant changes nothing.
	sw.Sweep(now)
	msgs, _ = s.Messages(convID)
	if len(msgs) != 2 {
		t.Errorf("got %d messages after second sweep, want 2 (idempotent)", len(msgs))
	}
}

func TestSweepDisabledDoesNothing(t *testing.T) {
	s, convID := testStore(t)
	now := time.Now().UTC()
	appendAt(t, s, convID, "ancient", now.Add(-100*time.Hour), model.StatusRead)

	sw := NewSweeper(s, nil, Policy{Enabled: false, Timeout: time.Hour}, 30*time.Second, time.Minute, nil)
	sw.Sweep(now)

	msgs, _ := s.Messages(convID)
	if len(msgs) != 1 {
		t.Errorf("got %d messages, want 1 (policy disabled)", len(msgs))
	}
}

func TestSweepSparesInFlightSends(t *testing.T) {
	s, convID := testStore(t)
	now := time.Now().UTC()

	// Expired by the cutoff but still inside the send grace window.
	appendAt(t, s, convID, "inflight", now.Add(-2*time.Minute), model.StatusSending)
	// In-flight but older than the grace window: swept.
	appendAt(t, s, convID, "stuck", now.Add(-time.Hour), model.StatusSending)

	sw := NewSweeper(s, nil, Policy{Enabled: true, Timeout: time.Minute}, 5*time.Minute, time.Minute, nil)
	sw.SweepConversation(convID, now)

	msgs, _ := s.Messages(convID)
	if len(msgs) != 1 || msgs[0].ID != "inflight" {
		t.Fatalf("got %d messages, want only inflight", len(msgs))
	}
}

func TestPerConversationPolicyOverride(t *testing.T) {
	s, convID := testStore(t)
	now := time.Now().UTC()
	appendAt(t, s, convID, "m1", now.Add(-3*time.Hour), model.StatusRead)

	sw := NewSweeper(s, nil, Policy{Enabled: false}, 30*time.Second, time.Minute, nil)
	sw.SetPolicy(convID, Policy{Enabled: true, Timeout: time.Hour})

	if p := sw.PolicyFor(convID); !p.Enabled {
		t.Fatal("override not applied")
	}
	if p := sw.PolicyFor("other"); p.Enabled {
		t.Fatal("fallback policy leaked an override")
	}

	sw.Sweep(now)
	msgs, _ := s.Messages(convID)
	if len(msgs) != 0 {
		t.Errorf("got %d messages, want 0", len(msgs))
	}
}

func TestSweepPublishesExpiredEvent(t *testing.T) {
	s, convID := testStore(t)
	b := bus.New()
	ch, unsub := b.Subscribe("message.expired", 10)
	defer unsub()

	now := time.Now().UTC()
	appendAt(t, s, convID, "m1", now.Add(-3*time.Hour), model.StatusRead)

	sw := NewSweeper(s, b, Policy{Enabled: true, Timeout: time.Hour}, 30*time.Second, time.Minute, nil)
	sw.SweepConversation(convID, now)

	select {
	case evt := <-ch:
		payload, ok := evt.Payload.(Expired)
		if !ok || payload.ConversationID != convID || len(payload.MessageIDs) != 1 {
			t.Errorf("payload = %+v, want one expired id in %s", evt.Payload, convID)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message.expired event")
	}
}

func TestSweeperStartStopFromDifferentGoroutines(t *testing.T) {
	s, _ := testStore(t)
	sw := NewSweeper(s, nil, Policy{}, 30*time.Second, time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sw.Start(ctx)
		}()
		go func() {
			defer wg.Done()
			sw.Stop()
		}()
	}
	wg.Wait()
	sw.Stop()
}

func TestBackgroundSweepStartStop(t *testing.T) {
	s, convID := testStore(t)
	now := time.Now().UTC()
	appendAt(t, s, convID, "m1", now.Add(-3*time.Hour), model.StatusRead)

	sw := NewSweeper(s, nil, Policy{Enabled: true, Timeout: time.Hour}, 30*time.Second, 10*time.Millisecond, nil)
	sw.Start(context.Background())
	defer sw.Stop()

	deadline := time.After(time.Second)
	for {
		msgs, _ := s.Messages(convID)
		if len(msgs) == 0 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("background sweep never removed the expired message")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
