package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/engine/consistency"
	"taskline/internal/events"
)

const streamHeartbeat = 25 * time.Second

func registerConsistency(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "consistency-status",
		Method:      http.MethodGet,
		Path:        "/consistency",
		Summary:     "Tasks whose project back-references await repair",
		Errors:      writeErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ConsistencyResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pending, err := e.ConsistencyStatus(actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ConsistencyResponse `json:"body"`
		}{Body: ConsistencyResponse{Pending: pending}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "consistency-reconcile",
		Method:      http.MethodPost,
		Path:        "/consistency/reconcile",
		Summary:     "Run a full back-reference sweep",
		Errors:      writeErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body consistency.Report `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rep, err := e.Reconcile(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body consistency.Report `json:"body"`
		}{Body: rep}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine, hub *events.Hub) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Page through the change log",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		After int64 `query:"after"`
		Limit int   `query:"limit" default:"100"`
	}) (*struct {
		Body EventList `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListEvents(ctx, actor, input.After, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		resp := EventList{Items: items}
		if n := len(items); n > 0 {
			resp.NextCursor = items[n-1].ID
		}
		return &struct {
			Body EventList `json:"body"`
		}{Body: resp}, nil
	})

	if hub == nil {
		return
	}
	sse.Register(api, huma.Operation{
		OperationID: "stream-events",
		Method:      http.MethodGet,
		Path:        "/events/stream",
		Summary:     "Live change notifications",
	}, map[string]any{
		"event": domain.Event{},
		"error": apiErrorBody{},
	}, func(ctx context.Context, input *struct {
		After       int64 `query:"after"`
		LastEventID int64 `header:"Last-Event-ID"`
	}, send sse.Sender) {
		// subscribe before replaying so nothing written in between is lost
		live, unsubscribe := hub.Subscribe(128)
		defer unsubscribe()

		fail := func(err error) {
			se := handleError(err)
			if ae, ok := se.(*apiError); ok {
				_ = send.Data(ae.Body)
			}
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			fail(authErr)
			return
		}
		cursor := input.After
		if input.LastEventID > cursor {
			cursor = input.LastEventID
		}
		for {
			backlog, err := e.ListEvents(ctx, actor, cursor, 100)
			if err != nil {
				fail(err)
				return
			}
			for _, ev := range backlog {
				if err := send(sse.Message{ID: int(ev.ID), Data: ev}); err != nil {
					return
				}
				cursor = ev.ID
			}
			if len(backlog) < 100 {
				break
			}
		}

		heartbeat := time.NewTicker(streamHeartbeat)
		defer heartbeat.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				// re-check so a deactivated actor is disconnected
				fresh, err := e.ActorFor(ctx, actor.ID)
				if err == nil {
					_, err = e.Me(fresh)
				}
				if err != nil {
					fail(err)
					return
				}
			case ev, ok := <-live:
				if !ok {
					return
				}
				if ev.ID <= cursor {
					continue
				}
				if err := send(sse.Message{ID: int(ev.ID), Data: ev}); err != nil {
					return
				}
				cursor = ev.ID
			}
		}
	})
}
