package events

import (
	"context"
	"testing"
	"time"

	"taskline/internal/db"
	"taskline/internal/migrate"
	"taskline/internal/notify"
	"taskline/internal/repo"
)

func TestWriterStoresAndPublishes(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if _, err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := repo.Repo{DB: conn}
	hub := NewHub()
	ch, cancel := hub.Subscribe(4)
	defer cancel()
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	w := Writer{Store: store, Now: func() time.Time { return ts }, Sink: hub}

	err = w.Emit(context.Background(), notify.Event{
		Name: notify.TaskUpdated, EntityKind: "task", EntityID: "t1", ActorID: "u1",
		Payload: map[string]any{"action": "created", "taskId": "t1"},
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	select {
	case e := <-ch:
		if e.ID == 0 || e.Type != notify.TaskUpdated || e.EntityID != "t1" {
			t.Fatalf("unexpected published event %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatalf("event not published")
	}
	stored, err := store.EventsAfter(context.Background(), 10, 0)
	if err != nil || len(stored) != 1 {
		t.Fatalf("stored events: %v %v", stored, err)
	}
	if stored[0].Payload["action"] != "created" || !stored[0].TS.Equal(ts) {
		t.Fatalf("unexpected stored event %+v", stored[0])
	}
}

func TestHubCloseDisconnects(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe(1)
	if hub.Subscribers() != 1 {
		t.Fatalf("expected one subscriber")
	}
	hub.Close()
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed")
	}
	cancel()
	late, _ := hub.Subscribe(1)
	if _, ok := <-late; ok {
		t.Fatalf("subscribe after close should yield a closed channel")
	}
}
