package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"

	"github.com/google/uuid"

	"taskline/internal/domain"
	"taskline/internal/engine/auth"
	"taskline/internal/engine/consistency"
	"taskline/internal/repo"
)

func (e Engine) requireSuperAdmin(actor domain.Actor) (auth.Subject, error) {
	s, err := e.subject(actor)
	if err != nil {
		return auth.Subject{}, err
	}
	if !s.SuperAdmin {
		return auth.Subject{}, auth.ForbiddenError{Reason: auth.ReasonSuperAdmin}
	}
	return s, nil
}

// ConsistencyStatus lists tasks whose back-references are awaiting repair.
func (e Engine) ConsistencyStatus(actor domain.Actor) ([]consistency.PendingRepair, error) {
	if _, err := e.requireSuperAdmin(actor); err != nil {
		return nil, err
	}
	return e.Consistency.Pending(), nil
}

// Reconcile runs a full back-reference sweep.
func (e Engine) Reconcile(ctx context.Context, actor domain.Actor) (consistency.Report, error) {
	s, err := e.requireSuperAdmin(actor)
	if err != nil {
		return consistency.Report{}, err
	}
	rep, err := e.Consistency.ReconcileAll(ctx)
	e.log().WithField("actor_id", s.ActorID).WithField("added", rep.Added).
		WithField("removed", rep.Removed).WithField("cleared", rep.Cleared).Info("manual reconciliation")
	if err != nil {
		return rep, &UpstreamError{Op: "reconcile", Err: err}
	}
	return rep, nil
}

// ListEvents pages through the change log for task managers.
func (e Engine) ListEvents(ctx context.Context, actor domain.Actor, after int64, limit int) ([]domain.Event, error) {
	s, err := e.subject(actor)
	if err != nil {
		return nil, err
	}
	if !e.Policy.IsManager(s) {
		return nil, auth.ForbiddenError{Permission: string(auth.EditTask), Reason: auth.ReasonPermission}
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	evs, err := e.Store.EventsAfter(ctx, limit, after)
	if err != nil {
		return nil, storeErr("list events", "event", "", err)
	}
	return evs, nil
}

// CreateAPIKey issues a key for the actor. The plaintext is returned once.
func (e Engine) CreateAPIKey(ctx context.Context, actor domain.Actor, name string) (domain.APIKey, string, error) {
	s, err := e.subject(actor)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	secret := "tl_" + hex.EncodeToString(buf)
	k := domain.APIKey{ID: uuid.NewString(), UserID: s.ActorID, Name: name, KeyHash: repo.HashAPIKey(secret), CreatedAt: e.now()}
	if err := e.Store.InsertAPIKey(ctx, k); err != nil {
		return domain.APIKey{}, "", storeErr("insert api key", "api key", k.ID, err)
	}
	return k, secret, nil
}

// ActorForAPIKey resolves the owner of a presented key.
func (e Engine) ActorForAPIKey(ctx context.Context, secret string) (domain.Actor, error) {
	k, err := e.Store.GetAPIKeyByHash(ctx, repo.HashAPIKey(secret))
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Actor{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.Actor{}, storeErr("get api key", "api key", "", err)
	}
	return e.ActorFor(ctx, k.UserID)
}
