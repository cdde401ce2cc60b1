package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"taskline/internal/blob"
	"taskline/internal/domain"
	"taskline/internal/engine/auth"
	"taskline/internal/engine/taskstate"
	"taskline/internal/notify"
	"taskline/internal/repo"
)

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	Title            string
	Description      string
	TaskStatus       string
	CompletionStatus string
	StartDate        *time.Time
	EndDate          *time.Time
	Notes            string
	ProjectID        string
	AssignedTo       string
	IsActive         *bool
	Images           []string
	Videos           []string
	Attachments      []string
}

// TaskUpdateOptions is a partial update. Nil fields keep their stored value;
// an empty ProjectID or AssignedTo clears the reference.
type TaskUpdateOptions struct {
	Title            *string
	Description      *string
	TaskStatus       *string
	CompletionStatus *string
	StartDate        *time.Time
	ClearStartDate   bool
	EndDate          *time.Time
	ClearEndDate     bool
	Notes            *string
	ProjectID        *string
	AssignedTo       *string
	IsActive         *bool
}

type TaskQuery struct {
	Page             int
	Limit            int
	Search           string
	TaskStatus       string
	CompletionStatus string
	ProjectID        string
	IncludeInactive  bool
}

type TaskPage struct {
	Items       []domain.Task `json:"items"`
	TotalItems  int           `json:"totalItems"`
	CurrentPage int           `json:"currentPage"`
	TotalPages  int           `json:"totalPages"`
}

func (e Engine) CreateTask(ctx context.Context, actor domain.Actor, opts TaskCreateOptions) (domain.Task, error) {
	s, err := e.subject(actor)
	if err != nil {
		return domain.Task{}, err
	}
	if err := e.Policy.Require(s, auth.CreateTask); err != nil {
		return domain.Task{}, err
	}
	var assignee *domain.Actor
	if opts.AssignedTo != "" {
		a, err := e.ActorFor(ctx, opts.AssignedTo)
		if err != nil {
			return domain.Task{}, err
		}
		if !e.Policy.CanAssign(s, a) {
			return domain.Task{}, auth.ForbiddenError{Reason: auth.ReasonSuperAdmin}
		}
		assignee = &a
	}
	now := e.now()
	t := domain.Task{
		ID:               uuid.NewString(),
		Title:            strings.TrimSpace(opts.Title),
		Description:      opts.Description,
		TaskStatus:       opts.TaskStatus,
		CompletionStatus: opts.CompletionStatus,
		StartDate:        opts.StartDate,
		EndDate:          opts.EndDate,
		Notes:            opts.Notes,
		Images:           dedupe(opts.Images),
		Videos:           dedupe(opts.Videos),
		Attachments:      dedupe(opts.Attachments),
		IsActive:         true,
		ProjectID:        opts.ProjectID,
		AssignedTo:       opts.AssignedTo,
		CreatedBy:        s.ActorID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if t.TaskStatus == "" {
		t.TaskStatus = domain.TaskOpen
	}
	if t.CompletionStatus == "" {
		t.CompletionStatus = domain.CompletionPending
	}
	if opts.IsActive != nil {
		t.IsActive = *opts.IsActive
	}
	if t.Title == "" {
		return domain.Task{}, &taskstate.ValidationError{Rule: taskstate.RuleTitleRequired, Message: "title is required"}
	}
	if err := taskstate.Validate(taskstate.Of(t)); err != nil {
		return domain.Task{}, err
	}
	if t.ProjectID != "" {
		if _, err := e.Store.GetProject(ctx, t.ProjectID); err != nil {
			return domain.Task{}, storeErr("get project", "project", t.ProjectID, err)
		}
	}
	if err := e.Store.InsertTask(ctx, t); err != nil {
		return domain.Task{}, storeErr("insert task", "task", t.ID, err)
	}
	if t.ProjectID != "" {
		e.repair("relink", t.ID, e.Consistency.Relink(ctx, t.ID, "", t.ProjectID))
	}
	e.emit(ctx, taskChanged("created", t.ID, s.ActorID))
	if assignee != nil {
		e.emit(ctx, assignment(t, *assignee, s.ActorID))
	}
	return t, nil
}

func (e Engine) GetTask(ctx context.Context, actor domain.Actor, id string) (domain.Task, error) {
	s, err := e.subject(actor)
	if err != nil {
		return domain.Task{}, err
	}
	t, err := e.Store.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, storeErr("get task", "task", id, err)
	}
	vis, err := e.visibility(ctx, s)
	if err != nil {
		return domain.Task{}, err
	}
	switch {
	case vis.Tier == auth.TierNone:
		return domain.Task{}, auth.ForbiddenError{Permission: string(auth.ViewTask), Reason: auth.ReasonPermission}
	case !vis.Match(t), !t.IsActive && !e.Policy.IsManager(s):
		if e.cfg().Access.ConcealHiddenTasks {
			return domain.Task{}, &NotFoundError{Kind: "task", ID: id}
		}
		return domain.Task{}, auth.ForbiddenError{Reason: auth.ReasonNotVisible}
	}
	return t, nil
}

// maxWriteAttempts bounds the read-merge-write loop on a contended task.
const maxWriteAttempts = 5

// UpdateTask merges opts into the current document and writes it back with a
// revision check. A concurrent write makes it re-read, re-merge and re-validate.
func (e Engine) UpdateTask(ctx context.Context, actor domain.Actor, id string, opts TaskUpdateOptions) (domain.Task, error) {
	s, err := e.subject(actor)
	if err != nil {
		return domain.Task{}, err
	}
	for attempt := 1; ; attempt++ {
		old, t, assignee, err := e.mergeTaskUpdate(ctx, s, id, opts)
		if err != nil {
			return domain.Task{}, err
		}
		err = e.Store.UpdateTask(ctx, t)
		if errors.Is(err, repo.ErrStale) {
			if attempt < maxWriteAttempts {
				e.log().WithFields(logrus.Fields{"task_id": id, "attempt": attempt}).Debug("task changed underneath update, retrying")
				continue
			}
			return domain.Task{}, conflict("task %s is being modified concurrently", id)
		}
		if err != nil {
			return domain.Task{}, storeErr("update task", "task", id, err)
		}
		t.Revision++
		if t.ProjectID != old.ProjectID {
			e.repair("relink", t.ID, e.Consistency.Relink(ctx, t.ID, old.ProjectID, t.ProjectID))
		}
		e.emit(ctx, taskChanged("updated", t.ID, s.ActorID))
		if assignee != nil {
			e.emit(ctx, assignment(t, *assignee, s.ActorID))
		}
		return t, nil
	}
}

// mergeTaskUpdate reads the task, checks the actor may edit it and returns the
// stored snapshot with the validated prospective state.
func (e Engine) mergeTaskUpdate(ctx context.Context, s auth.Subject, id string, opts TaskUpdateOptions) (domain.Task, domain.Task, *domain.Actor, error) {
	old, err := e.Store.GetTask(ctx, id)
	if err != nil {
		return old, old, nil, storeErr("get task", "task", id, err)
	}
	if !e.Policy.CanEditTask(s, old) {
		return old, old, nil, auth.ForbiddenError{Permission: string(auth.EditTask), Reason: auth.ReasonPermission}
	}
	t := applyTaskUpdate(old, opts)
	if t.Title == "" {
		return old, t, nil, &taskstate.ValidationError{Rule: taskstate.RuleTitleRequired, Message: "title must not be blank"}
	}
	var assignee *domain.Actor
	if t.AssignedTo != old.AssignedTo && t.AssignedTo != "" {
		a, err := e.ActorFor(ctx, t.AssignedTo)
		if err != nil {
			return old, t, nil, err
		}
		if !e.Policy.CanAssign(s, a) {
			return old, t, nil, auth.ForbiddenError{Reason: auth.ReasonSuperAdmin}
		}
		assignee = &a
	}
	if err := taskstate.Validate(taskstate.Of(t)); err != nil {
		return old, t, nil, err
	}
	if t.ProjectID != old.ProjectID && t.ProjectID != "" {
		if _, err := e.Store.GetProject(ctx, t.ProjectID); err != nil {
			return old, t, nil, storeErr("get project", "project", t.ProjectID, err)
		}
	}
	t.UpdatedAt = e.now()
	return old, t, assignee, nil
}

// applyTaskUpdate overlays opts on the stored task, producing the prospective state.
func applyTaskUpdate(t domain.Task, opts TaskUpdateOptions) domain.Task {
	if opts.Title != nil {
		t.Title = strings.TrimSpace(*opts.Title)
	}
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if opts.TaskStatus != nil {
		t.TaskStatus = *opts.TaskStatus
	}
	if opts.CompletionStatus != nil {
		t.CompletionStatus = *opts.CompletionStatus
	}
	if opts.ClearStartDate {
		t.StartDate = nil
	} else if opts.StartDate != nil {
		t.StartDate = opts.StartDate
	}
	if opts.ClearEndDate {
		t.EndDate = nil
	} else if opts.EndDate != nil {
		t.EndDate = opts.EndDate
	}
	if opts.Notes != nil {
		t.Notes = *opts.Notes
	}
	if opts.ProjectID != nil {
		t.ProjectID = *opts.ProjectID
	}
	if opts.AssignedTo != nil {
		t.AssignedTo = *opts.AssignedTo
	}
	if opts.IsActive != nil {
		t.IsActive = *opts.IsActive
	}
	return t
}

// DeleteTask removes the task document, then its back-references.
func (e Engine) DeleteTask(ctx context.Context, actor domain.Actor, id string) error {
	s, err := e.subject(actor)
	if err != nil {
		return err
	}
	if err := e.Policy.Require(s, auth.DeleteTask); err != nil {
		return err
	}
	t, err := e.Store.GetTask(ctx, id)
	if err != nil {
		return storeErr("get task", "task", id, err)
	}
	if err := e.Store.DeleteTask(ctx, id); err != nil {
		return storeErr("delete task", "task", id, err)
	}
	e.repair("unlink", id, e.Consistency.Unlink(ctx, id, t.ProjectID))
	e.emit(ctx, taskChanged("deleted", id, s.ActorID))
	return nil
}

func (e Engine) ListTasks(ctx context.Context, actor domain.Actor, q TaskQuery) (TaskPage, error) {
	s, err := e.subject(actor)
	if err != nil {
		return TaskPage{}, err
	}
	page, limit, offset := e.pageBounds(q.Page, q.Limit)
	empty := TaskPage{Items: []domain.Task{}, CurrentPage: page}
	vis, err := e.visibility(ctx, s)
	if err != nil {
		return TaskPage{}, err
	}
	if vis.Tier == auth.TierNone {
		return empty, nil
	}
	f := repo.TaskFilter{
		Search:           strings.TrimSpace(q.Search),
		TaskStatus:       q.TaskStatus,
		CompletionStatus: q.CompletionStatus,
		ProjectID:        q.ProjectID,
		IncludeInactive:  q.IncludeInactive && e.Policy.IsManager(s),
	}
	if vis.Tier == auth.TierOwn {
		f.Restrict = &repo.Restriction{AssigneeID: vis.ActorID, ProjectIDs: vis.ProjectIDs}
	}
	if q.ProjectID != "" {
		p, err := e.Store.GetProject(ctx, q.ProjectID)
		if errors.Is(err, repo.ErrNotFound) {
			return empty, nil
		}
		if err != nil {
			return TaskPage{}, storeErr("get project", "project", q.ProjectID, err)
		}
		if !e.Policy.CanViewProject(s, p) {
			return empty, nil
		}
	}
	total, err := e.Store.CountTasks(ctx, f)
	if err != nil {
		return TaskPage{}, storeErr("count tasks", "task", "", err)
	}
	f.Offset, f.Limit = offset, limit
	items, err := e.Store.FindTasks(ctx, f)
	if err != nil {
		return TaskPage{}, storeErr("find tasks", "task", "", err)
	}
	return TaskPage{Items: items, TotalItems: total, CurrentPage: page, TotalPages: totalPages(total, limit)}, nil
}

// visibility builds the read filter for s, loading team projects only when needed.
func (e Engine) visibility(ctx context.Context, s auth.Subject) (auth.Visibility, error) {
	var teams []string
	if e.Policy.ProjectTeamVisibility && !e.Policy.IsManager(s) && s.Permissions.Has(auth.ViewTask) {
		ids, err := e.Store.ProjectIDsForMember(ctx, s.ActorID)
		if err != nil {
			return auth.Visibility{}, storeErr("project membership", "project", "", err)
		}
		teams = ids
	}
	return e.Policy.TaskVisibility(s, teams), nil
}

// AttachMedia stores data in the blob store and appends its URL to the task.
func (e Engine) AttachMedia(ctx context.Context, actor domain.Actor, taskID, kind, filename, contentType string, data []byte) (domain.Task, blob.Object, error) {
	s, err := e.subject(actor)
	if err != nil {
		return domain.Task{}, blob.Object{}, err
	}
	t, err := e.Store.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, blob.Object{}, storeErr("get task", "task", taskID, err)
	}
	if !e.Policy.CanEditTask(s, t) {
		return domain.Task{}, blob.Object{}, auth.ForbiddenError{Permission: string(auth.EditTask), Reason: auth.ReasonPermission}
	}
	if t.Media(kind) == nil {
		return domain.Task{}, blob.Object{}, invalid("unknown media kind %q", kind)
	}
	if len(data) == 0 {
		return domain.Task{}, blob.Object{}, invalid("empty upload")
	}
	if e.Blobs == nil {
		return domain.Task{}, blob.Object{}, &UpstreamError{Op: "store media", Err: errors.New("no blob store configured")}
	}
	obj, err := e.Blobs.Put(ctx, filename, contentType, data)
	if errors.Is(err, blob.ErrTooLarge) {
		return domain.Task{}, blob.Object{}, invalid("upload exceeds size limit")
	}
	if err != nil {
		return domain.Task{}, blob.Object{}, &UpstreamError{Op: "store media", Err: err}
	}
	for attempt := 1; ; attempt++ {
		t, err = e.Store.GetTask(ctx, taskID)
		if err != nil {
			return domain.Task{}, blob.Object{}, storeErr("get task", "task", taskID, err)
		}
		if !e.Policy.CanEditTask(s, t) {
			return domain.Task{}, blob.Object{}, auth.ForbiddenError{Permission: string(auth.EditTask), Reason: auth.ReasonPermission}
		}
		list := t.Media(kind)
		*list = dedupe(append(*list, obj.URL))
		t.UpdatedAt = e.now()
		err = e.Store.UpdateTask(ctx, t)
		if errors.Is(err, repo.ErrStale) && attempt < maxWriteAttempts {
			continue
		}
		if errors.Is(err, repo.ErrStale) {
			e.log().WithFields(logrus.Fields{"task_id": taskID, "url": obj.URL}).Warn("media stored but task kept changing")
			return domain.Task{}, blob.Object{}, conflict("task %s is being modified concurrently", taskID)
		}
		if err != nil {
			return domain.Task{}, blob.Object{}, storeErr("update task", "task", taskID, err)
		}
		t.Revision++
		break
	}
	e.emit(ctx, taskChanged("updated", t.ID, s.ActorID))
	return t, obj, nil
}

func taskChanged(action, taskID, actorID string) notify.Event {
	return notify.Event{
		Name:       notify.TaskUpdated,
		EntityKind: "task",
		EntityID:   taskID,
		ActorID:    actorID,
		Payload:    map[string]any{"action": action, "taskId": taskID},
	}
}

func assignment(t domain.Task, assignee domain.Actor, by string) notify.Event {
	return notify.Event{
		Name:       notify.TaskAssigned,
		EntityKind: "task",
		EntityID:   t.ID,
		ActorID:    by,
		Payload: map[string]any{
			"taskId":        t.ID,
			"title":         t.Title,
			"assigneeId":    assignee.ID,
			"assigneeEmail": assignee.Email,
			"assigneeName":  assignee.Name,
			"assignedBy":    by,
		},
	}
}
