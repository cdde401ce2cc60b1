package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"taskline/internal/domain"
	"taskline/internal/engine/auth"
	"taskline/internal/notify"
	"taskline/internal/repo"
)

type ProjectCreateOptions struct {
	Name        string
	Description string
	Deadline    *time.Time
	Status      string
	Team        []string
}

type ProjectUpdateOptions struct {
	Name          *string
	Description   *string
	Deadline      *time.Time
	ClearDeadline bool
	Status        *string
	Team          *[]string
}

type ProjectQuery struct {
	Page   int
	Limit  int
	Search string
	Status string
}

type ProjectPage struct {
	Items       []domain.Project `json:"items"`
	TotalItems  int              `json:"totalItems"`
	CurrentPage int              `json:"currentPage"`
	TotalPages  int              `json:"totalPages"`
}

func validProjectStatus(s string) bool {
	return s == domain.ProjectActive || s == domain.ProjectInactive
}

// checkTeam verifies every member exists and returns the deduplicated team.
func (e Engine) checkTeam(ctx context.Context, team []string) ([]string, error) {
	team = dedupe(team)
	for _, id := range team {
		if _, err := e.Store.GetUser(ctx, id); err != nil {
			return nil, storeErr("get user", "user", id, err)
		}
	}
	return team, nil
}

func (e Engine) CreateProject(ctx context.Context, actor domain.Actor, opts ProjectCreateOptions) (domain.Project, error) {
	s, err := e.subject(actor)
	if err != nil {
		return domain.Project{}, err
	}
	if err := e.Policy.Require(s, auth.CreateProject); err != nil {
		return domain.Project{}, err
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return domain.Project{}, invalid("project name is required")
	}
	status := opts.Status
	if status == "" {
		status = domain.ProjectActive
	}
	if !validProjectStatus(status) {
		return domain.Project{}, invalid("unknown project status %q", status)
	}
	team, err := e.checkTeam(ctx, opts.Team)
	if err != nil {
		return domain.Project{}, err
	}
	now := e.now()
	p := domain.Project{
		ID:          uuid.NewString(),
		Name:        name,
		Description: opts.Description,
		Deadline:    opts.Deadline,
		Status:      status,
		Team:        team,
		Tasks:       []string{},
		CreatedBy:   s.ActorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Store.InsertProject(ctx, p); err != nil {
		return domain.Project{}, storeErr("insert project", "project", p.ID, err)
	}
	e.emit(ctx, projectChanged("created", p.ID, s.ActorID))
	return p, nil
}

func (e Engine) GetProject(ctx context.Context, actor domain.Actor, id string) (domain.Project, error) {
	s, err := e.subject(actor)
	if err != nil {
		return domain.Project{}, err
	}
	p, err := e.Store.GetProject(ctx, id)
	if err != nil {
		return domain.Project{}, storeErr("get project", "project", id, err)
	}
	if !e.Policy.CanViewProject(s, p) {
		return domain.Project{}, auth.ForbiddenError{Reason: auth.ReasonNotVisible}
	}
	return p, nil
}

func (e Engine) UpdateProject(ctx context.Context, actor domain.Actor, id string, opts ProjectUpdateOptions) (domain.Project, error) {
	s, err := e.subject(actor)
	if err != nil {
		return domain.Project{}, err
	}
	if err := e.Policy.Require(s, auth.EditProject); err != nil {
		return domain.Project{}, err
	}
	p, err := e.Store.GetProject(ctx, id)
	if err != nil {
		return domain.Project{}, storeErr("get project", "project", id, err)
	}
	if opts.Name != nil {
		p.Name = strings.TrimSpace(*opts.Name)
		if p.Name == "" {
			return domain.Project{}, invalid("project name must not be blank")
		}
	}
	if opts.Description != nil {
		p.Description = *opts.Description
	}
	if opts.ClearDeadline {
		p.Deadline = nil
	} else if opts.Deadline != nil {
		p.Deadline = opts.Deadline
	}
	if opts.Status != nil {
		if !validProjectStatus(*opts.Status) {
			return domain.Project{}, invalid("unknown project status %q", *opts.Status)
		}
		p.Status = *opts.Status
	}
	if opts.Team != nil {
		if p.Team, err = e.checkTeam(ctx, *opts.Team); err != nil {
			return domain.Project{}, err
		}
	}
	p.UpdatedAt = e.now()
	if err := e.Store.UpdateProject(ctx, p); err != nil {
		return domain.Project{}, storeErr("update project", "project", id, err)
	}
	e.emit(ctx, projectChanged("updated", p.ID, s.ActorID))
	return p, nil
}

// DeleteProject removes the project and detaches every task that referenced it.
// Tasks survive without a project.
func (e Engine) DeleteProject(ctx context.Context, actor domain.Actor, id string) error {
	s, err := e.subject(actor)
	if err != nil {
		return err
	}
	if err := e.Policy.Require(s, auth.DeleteProject); err != nil {
		return err
	}
	if err := e.Store.DeleteProject(ctx, id); err != nil {
		return storeErr("delete project", "project", id, err)
	}
	n, err := e.Consistency.DetachProject(ctx, id)
	if err != nil {
		e.log().WithFields(logrus.Fields{"project_id": id, "detached": n}).WithError(err).Warn("deleted project left task references behind")
	}
	e.log().WithField("project_id", id).WithField("detached", n).Info("project deleted")
	e.emit(ctx, projectChanged("deleted", id, s.ActorID))
	return nil
}

// ListProjects returns every project to holders of View Project and the
// actor's own team projects to everyone else.
func (e Engine) ListProjects(ctx context.Context, actor domain.Actor, q ProjectQuery) (ProjectPage, error) {
	s, err := e.subject(actor)
	if err != nil {
		return ProjectPage{}, err
	}
	page, limit, offset := e.pageBounds(q.Page, q.Limit)
	f := repo.ProjectFilter{Search: strings.TrimSpace(q.Search), Status: q.Status}
	if !e.Policy.CanViewAllProjects(s) {
		f.MemberID = s.ActorID
	}
	total, err := e.Store.CountProjects(ctx, f)
	if err != nil {
		return ProjectPage{}, storeErr("count projects", "project", "", err)
	}
	f.Offset, f.Limit = offset, limit
	items, err := e.Store.FindProjects(ctx, f)
	if err != nil {
		return ProjectPage{}, storeErr("find projects", "project", "", err)
	}
	return ProjectPage{Items: items, TotalItems: total, CurrentPage: page, TotalPages: totalPages(total, limit)}, nil
}

func projectChanged(action, projectID, actorID string) notify.Event {
	return notify.Event{
		Name:       notify.ProjectUpdated,
		EntityKind: "project",
		EntityID:   projectID,
		ActorID:    actorID,
		Payload:    map[string]any{"action": action, "projectId": projectID},
	}
}
