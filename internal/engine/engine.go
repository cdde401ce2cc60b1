// Package engine is the task lifecycle service: it combines access policy,
// state validation and back-reference maintenance for every write.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"taskline/internal/blob"
	"taskline/internal/config"
	"taskline/internal/domain"
	"taskline/internal/engine/auth"
	"taskline/internal/engine/consistency"
	"taskline/internal/notify"
	"taskline/internal/repo"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrConflict            = errors.New("conflict")
	ErrInvalid             = errors.New("invalid request")
	ErrInvalidCredentials  = errors.New("invalid credentials")
)

// NotFoundError names the missing entity.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// UpstreamError wraps a storage or collaborator failure. It is retryable.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstreamUnavailable }

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

type Engine struct {
	Store       repo.Store
	Policy      auth.Policy
	Consistency *consistency.Coordinator
	Notifier    notify.Notifier
	Blobs       blob.Store
	Config      *config.Config
	Log         logrus.FieldLogger
	Now         func() time.Time
}

func New(store repo.Store, cfg *config.Config, log logrus.FieldLogger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return Engine{
		Store:       store,
		Policy:      auth.Policy{ProjectTeamVisibility: cfg.Access.ProjectTeamVisibility},
		Consistency: consistency.New(store, log.WithField("component", "consistency")),
		Notifier:    notify.Nop{},
		Config:      cfg,
		Log:         log,
		Now:         time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) log() logrus.FieldLogger {
	if e.Log == nil {
		return logrus.StandardLogger()
	}
	return e.Log
}

func (e Engine) cfg() *config.Config {
	if e.Config == nil {
		return config.Default()
	}
	return e.Config
}

// storeErr maps repository failures onto the engine taxonomy.
func storeErr(op, kind, id string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repo.ErrNotFound):
		return &NotFoundError{Kind: kind, ID: id}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return &UpstreamError{Op: op, Err: err}
}

// subject resolves the actor snapshot, failing closed.
func (e Engine) subject(a domain.Actor) (auth.Subject, error) {
	return auth.ResolveActive(a)
}

// emit delivers a notification. Failures are logged and never returned.
func (e Engine) emit(ctx context.Context, ev notify.Event) {
	if e.Notifier == nil {
		return
	}
	if err := e.Notifier.Emit(context.WithoutCancel(ctx), ev); err != nil {
		e.log().WithFields(logrus.Fields{
			"event":     ev.Name,
			"entity_id": ev.EntityID,
			"actor_id":  ev.ActorID,
		}).WithError(err).Warn("notification failed")
	}
}

// repair absorbs back-reference failures; the coordinator has already queued the task.
func (e Engine) repair(op, taskID string, err error) {
	if err == nil {
		return
	}
	entry := e.log().WithFields(logrus.Fields{"op": op, "task_id": taskID})
	if errors.Is(err, consistency.ErrRepairNeeded) {
		entry.Debug("back-reference repair deferred")
		return
	}
	entry.WithError(err).Warn("back-reference update failed")
}

// pageBounds normalizes 1-indexed paging against the configured limits.
func (e Engine) pageBounds(page, limit int) (int, int, int) {
	c := e.cfg()
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = c.Pagination.DefaultLimit
	}
	if limit < 1 {
		limit = 10
	}
	if c.Pagination.MaxLimit > 0 && limit > c.Pagination.MaxLimit {
		limit = c.Pagination.MaxLimit
	}
	return page, limit, (page - 1) * limit
}

func totalPages(total, limit int) int {
	if total == 0 || limit < 1 {
		return 0
	}
	return (total + limit - 1) / limit
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
