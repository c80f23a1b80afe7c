package bridge

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nugget/subzero/internal/opstate"
)

func testStateStore(t *testing.T) *StateStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	s, err := opstate.NewStoreDB(db)
	if err != nil {
		t.Fatalf("NewStoreDB: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewStateStore(s)
}

func TestStateStore_RoundTrip(t *testing.T) {
	s := testStateStore(t)
	ctx := context.Background()

	if got, err := s.LoadQueue(ctx); err != nil || got != nil {
		t.Fatalf("empty LoadQueue = %v, %v", got, err)
	}

	queued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	want := []PendingPrompt{
		{ID: "a", Prompt: "check the weather", QueuedAt: queued},
		{ID: "b", Prompt: "@tool web_search query=\"go\"", QueuedAt: queued.Add(time.Second)},
	}
	if err := s.SaveQueue(ctx, want); err != nil {
		t.Fatal(err)
	}
	got, err := s.LoadQueue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[1].Prompt != want[1].Prompt || !got[0].QueuedAt.Equal(queued) {
		t.Errorf("LoadQueue = %+v", got)
	}

	if err := s.SaveQueue(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.LoadQueue(ctx); len(got) != 0 {
		t.Errorf("after clear = %+v", got)
	}
}

func TestStateStore_BridgeRestart(t *testing.T) {
	store := testStateStore(t)
	a := newFakeAgent(true)

	b := New(a, Config{Logger: quietLogger(), Store: store}, Handlers{})
	disconnect(t, b, a)
	b.Send("survives restart", nil)
	if err := b.Close(context.Background()); err != nil {
		t.Fatal(err)
	}

	next := newTestBridge(t, a, nil, Config{Store: store})
	if n, err := next.Restore(context.Background()); err != nil || n != 1 {
		t.Fatalf("Restore = %d, %v", n, err)
	}
	if q := next.Queue(); len(q) != 1 || q[0] != "survives restart" {
		t.Errorf("queue = %v", q)
	}
}
