package events

import (
	"context"
	"fmt"
	"time"

	"taskline/internal/domain"
	"taskline/internal/notify"
	"taskline/internal/repo"
)

// Sink receives every event after it has been stored.
type Sink interface {
	Publish(e domain.Event)
}

// Writer records emitted notifications in the event log.
type Writer struct {
	Store repo.EventStore
	Now   func() time.Time
	Sink  Sink
}

func (w Writer) Emit(ctx context.Context, ev notify.Event) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	e := domain.Event{
		TS:         now().UTC(),
		Type:       ev.Name,
		EntityKind: ev.EntityKind,
		EntityID:   ev.EntityID,
		ActorID:    ev.ActorID,
		Payload:    ev.Payload,
	}
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	id, err := w.Store.AppendEvent(ctx, e)
	if err != nil {
		return fmt.Errorf("append %s event: %w", ev.Name, err)
	}
	e.ID = id
	if w.Sink != nil {
		w.Sink.Publish(e)
	}
	return nil
}
