package app

import (
	"context"
	"testing"
	"time"

	"taskline/internal/config"
	"taskline/internal/engine"
	"taskline/internal/logging"
	"taskline/internal/notify"
)

var seedTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func openTestApp(t *testing.T) *App {
	t.Helper()
	a, err := Open(context.Background(), t.TempDir(), config.Default(), logging.Discard())
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestSeedIsIdempotent(t *testing.T) {
	a := openTestApp(t)
	ctx := context.Background()
	res, err := Seed(ctx, a.Store, a.Config, "s3cret", seedTime)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if !res.AdminCreated || res.AdminPassword != "" {
		t.Fatalf("unexpected first seed %+v", res)
	}
	want := []string{"Super Admin", "Manager", "Member"}
	if len(res.RolesCreated) != len(want) {
		t.Fatalf("roles created %v, want %v", res.RolesCreated, want)
	}
	for i := range want {
		if res.RolesCreated[i] != want[i] {
			t.Fatalf("roles created %v, want %v", res.RolesCreated, want)
		}
	}

	again, err := Seed(ctx, a.Store, a.Config, "other", seedTime)
	if err != nil {
		t.Fatalf("reseed: %v", err)
	}
	if again.AdminCreated || len(again.RolesCreated) != 0 || again.AdminID != res.AdminID {
		t.Fatalf("reseed changed state: %+v", again)
	}
	perms, err := a.Store.ListPermissions(ctx)
	if err != nil || len(perms) != res.Permissions {
		t.Fatalf("permissions %d %v", len(perms), err)
	}

	actor, err := a.Engine.Login(ctx, a.Config.Seed.AdminEmail, "s3cret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	s, err := a.Engine.Me(actor)
	if err != nil || !s.SuperAdmin {
		t.Fatalf("admin should resolve as super admin: %+v %v", s, err)
	}
	if _, err := a.Engine.Login(ctx, a.Config.Seed.AdminEmail, "other"); err != engine.ErrInvalidCredentials {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
}

func TestSeedGeneratesAdminPassword(t *testing.T) {
	a := openTestApp(t)
	ctx := context.Background()
	res, err := Seed(ctx, a.Store, a.Config, "", seedTime)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if len(res.AdminPassword) != 24 {
		t.Fatalf("expected generated password, got %q", res.AdminPassword)
	}
	if _, err := a.Engine.Login(ctx, a.Config.Seed.AdminEmail, res.AdminPassword); err != nil {
		t.Fatalf("login with generated password: %v", err)
	}
}

func TestEmittedEventsAreLoggedAndPublished(t *testing.T) {
	a := openTestApp(t)
	ctx := context.Background()
	if _, err := Seed(ctx, a.Store, a.Config, "pw", seedTime); err != nil {
		t.Fatalf("seed: %v", err)
	}
	actor, err := a.Engine.Login(ctx, a.Config.Seed.AdminEmail, "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	ch, cancel := a.Hub.Subscribe(8)
	defer cancel()

	task, err := a.Engine.CreateTask(ctx, actor, engine.TaskCreateOptions{Title: "Wire the app"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	select {
	case ev := <-ch:
		if ev.Type != notify.TaskUpdated || ev.EntityID != task.ID || ev.ID == 0 {
			t.Fatalf("unexpected live event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no live event")
	}
	stored, err := a.Store.EventsAfter(ctx, 10, 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(stored) != 1 || stored[0].Payload["action"] != "created" {
		t.Fatalf("unexpected event log %+v", stored)
	}
}

func TestStartAndClose(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.SMTP.Enabled = true
	enabled := false
	cfg.Notifications.Webhooks = []config.Webhook{{URL: "http://127.0.0.1:1/hook", Enabled: &enabled}}
	a, err := Open(context.Background(), t.TempDir(), cfg, logging.Discard())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if a.Mailer == nil || a.Webhooks == nil {
		t.Fatalf("expected mailer and webhook dispatcher")
	}
	a.Start(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("close: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("close did not return")
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
