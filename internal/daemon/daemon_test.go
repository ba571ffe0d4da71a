package daemon

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/chatdeskhq/chatdesk/internal/backend"
	"github.com/chatdeskhq/chatdesk/internal/bus"
	"github.com/chatdeskhq/chatdesk/internal/coordinator"
	"github.com/chatdeskhq/chatdesk/internal/dispatch"
	"github.com/chatdeskhq/chatdesk/internal/expiry"
	"github.com/chatdeskhq/chatdesk/internal/grouping"
	"github.com/chatdeskhq/chatdesk/internal/history"
	"github.com/chatdeskhq/chatdesk/internal/lock"
	"github.com/chatdeskhq/chatdesk/internal/model"
	"github.com/chatdeskhq/chatdesk/internal/store"
	intsync "github.com/chatdeskhq/chatdesk/internal/sync"
)

// fakeSender confirms every send with a sequential server id.
type fakeSender struct {
	mu   sync.Mutex
	next int
}

func (f *fakeSender) SendMessage(_ context.Context, _ string, _ *model.Message) (backend.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	return backend.SendResult{ServerID: fmt.Sprintf("srv-%d", f.next), Status: model.StatusSent}, nil
}

type engine struct {
	db    *history.DB
	store *store.Store
	bus   *bus.Bus
	coord *coordinator.Coordinator
}

// startEngine wires the full engine against a temp archive, the way
// the fx module does, and tears it down with the test.
func startEngine(t *testing.T) *engine {
	t.Helper()
	tmpDir := t.TempDir()

	lk, err := lock.Acquire(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = lk.Release() })

	db, err := history.Open(filepath.Join(tmpDir, "archive.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	s := store.New()
	b := bus.New()
	sweeper := expiry.NewSweeper(s, b, expiry.Policy{}, 30*time.Second, 0, nil)
	coord := coordinator.New(s, sweeper, b, "op-1", "Operator", grouping.Options{}, nil)
	reconciler := intsync.NewReconciler(s, sweeper, b, nil)
	persister := history.NewPersister(db, s, b, 0, nil)
	dispatcher := dispatch.New(&fakeSender{}, b, time.Second, nil)

	ctx := context.Background()
	persister.Start(ctx)
	reconciler.Start(ctx)
	dispatcher.Start(ctx)
	t.Cleanup(func() {
		dispatcher.Stop()
		reconciler.Stop()
		persister.Stop()
	})

	return &engine{db: db, store: s, bus: b, coord: coord}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

// TestSendRoundTrip drives an optimistic send through the whole
// pipeline: coordinator queues, dispatcher sends, reconciler swaps the
// temp id for the server id, persister mirrors the result into the
// archive.
func TestSendRoundTrip(t *testing.T) {
	e := startEngine(t)

	e.store.UpsertContact(&model.Contact{ID: "c1", Name: "Alice", Type: model.ChatClient})
	temp, err := e.coord.SendToContact("c1", "hello there", model.TypeText, nil)
	if err != nil {
		t.Fatal(err)
	}
	if temp.Status != model.StatusSending {
		t.Fatalf("optimistic status = %q, want sending", temp.Status)
	}

	convID := temp.ConversationID
	waitFor(t, func() bool {
		msgs, err := e.store.Messages(convID)
		return err == nil && len(msgs) == 1 && msgs[0].ID == "srv-1" && msgs[0].Status == model.StatusSent
	})

	// The confirmed message keeps the optimistic slot.
	msgs, _ := e.store.Messages(convID)
	if msgs[0].Body != "hello there" || !msgs[0].FromMe {
		t.Errorf("confirmed message lost content: %+v", msgs[0])
	}
	if msgs[0].Seq != temp.Seq {
		t.Errorf("confirmed Seq = %d, want %d (position preserved)", msgs[0].Seq, temp.Seq)
	}

	// Archive holds only the confirmed row.
	waitFor(t, func() bool {
		archived, err := e.db.FetchMessages(context.Background(), convID)
		return err == nil && len(archived) == 1 && archived[0].ID == "srv-1"
	})
}

// TestConcurrentReceiptsDuringSends drives many optimistic sends while
// other goroutines mutate status and reactions on the same messages.
// The dispatcher and persister read queued snapshots concurrently, so
// none of them may observe a store write in progress.
func TestConcurrentReceiptsDuringSends(t *testing.T) {
	e := startEngine(t)

	e.store.UpsertContact(&model.Contact{ID: "c1", Name: "Alice", Type: model.ChatClient})
	cv, err := e.store.EnsureConversation("c1")
	if err != nil {
		t.Fatal(err)
	}

	const n = 30
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		msg, err := e.coord.SendMessage(cv.ID, fmt.Sprintf("note %d", i), model.TypeText, nil)
		if err != nil {
			t.Fatal(err)
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			// Receipts race the dispatch of the same message. Errors
			// are expected once the temp id has been reconciled away.
			_ = e.store.UpdateStatus(id, model.StatusDelivered)
			_ = e.coord.AddReaction(id, "👍")
		}(msg.ID)
	}
	wg.Wait()

	waitFor(t, func() bool {
		msgs, err := e.store.Messages(cv.ID)
		if err != nil || len(msgs) != n {
			return false
		}
		for _, m := range msgs {
			if m.Status == model.StatusSending {
				return false
			}
		}
		return true
	})
}

// TestInboundRoundTrip feeds a realtime inbound message and verifies it
// lands in both the store and the archive, with the conversation
// created lazily.
func TestInboundRoundTrip(t *testing.T) {
	e := startEngine(t)

	e.bus.Publish(bus.Emit(backend.KindMessageCreated, backend.MessageCreated{
		ContactID: "c9",
		Message: &model.Message{
			ID:         "m-in-1",
			Timestamp:  time.Now(),
			SenderID:   "c9",
			SenderName: "New Lead",
			Body:       "hi, is this the sales team?",
			Type:       model.TypeText,
			Status:     model.StatusDelivered,
		},
	}))

	var convID string
	waitFor(t, func() bool {
		cv, err := e.store.ConversationByContact("c9")
		if err != nil {
			return false
		}
		convID = cv.ID
		msgs, err := e.store.Messages(convID)
		return err == nil && len(msgs) == 1
	})

	waitFor(t, func() bool {
		archived, err := e.db.FetchMessages(context.Background(), convID)
		return err == nil && len(archived) == 1 && archived[0].ID == "m-in-1"
	})

	contacts, err := e.db.FetchContacts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(contacts) != 1 || contacts[0].ID != "c9" {
		t.Fatalf("stub contact not archived: %v", contacts)
	}
}

// TestRestartRehydratesFromArchive persists through one engine, then
// hydrates a fresh store from the same archive.
func TestRestartRehydratesFromArchive(t *testing.T) {
	e := startEngine(t)

	e.store.UpsertContact(&model.Contact{ID: "c1", Name: "Alice", Type: model.ChatClient})
	temp, err := e.coord.SendToContact("c1", "survive a restart", model.TypeText, nil)
	if err != nil {
		t.Fatal(err)
	}
	convID := temp.ConversationID

	waitFor(t, func() bool {
		archived, err := e.db.FetchMessages(context.Background(), convID)
		return err == nil && len(archived) == 1 && archived[0].ID == "srv-1"
	})

	fresh := store.New()
	if err := e.db.Hydrate(context.Background(), fresh); err != nil {
		t.Fatal(err)
	}
	msgs, err := fresh.Messages(convID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Body != "survive a restart" {
		t.Fatalf("rehydrated messages = %v", msgs)
	}
	if _, err := fresh.Contact("c1"); err != nil {
		t.Errorf("contact not rehydrated: %v", err)
	}
}
