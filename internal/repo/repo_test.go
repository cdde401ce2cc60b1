package repo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/migrate"
	"taskline/internal/repo"
)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if _, err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

var base = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func task(id string, offset int) domain.Task {
	return domain.Task{
		ID:               id,
		Title:            "Task " + id,
		TaskStatus:       domain.TaskOpen,
		CompletionStatus: domain.CompletionPending,
		IsActive:         true,
		CreatedBy:        "u-admin",
		CreatedAt:        base.Add(time.Duration(offset) * time.Minute),
		UpdatedAt:        base.Add(time.Duration(offset) * time.Minute),
	}
}

func TestTaskRoundTripAndNotFound(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	start := base.Add(24 * time.Hour)
	tk := task("t1", 0)
	tk.StartDate = &start
	tk.Images = []string{"http://blob/a.png"}
	tk.ProjectID = "p1"
	tk.AssignedTo = "u1"
	if err := r.InsertTask(ctx, tk); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := r.InsertTask(ctx, tk); !errors.Is(err, repo.ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	got, err := r.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.StartDate == nil || !got.StartDate.Equal(start) || got.EndDate != nil {
		t.Fatalf("dates not preserved: %+v", got)
	}
	if len(got.Images) != 1 || len(got.Videos) != 0 || got.Videos == nil {
		t.Fatalf("media not preserved: %+v", got)
	}
	if got.ProjectID != "p1" || got.AssignedTo != "u1" || !got.IsActive {
		t.Fatalf("refs not preserved: %+v", got)
	}
	if _, err := r.GetTask(ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := r.UpdateTask(ctx, task("missing", 0)); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found on update, got %v", err)
	}
}

func TestFindTasksFiltersAndOrder(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	a := task("a", 1)
	a.Title = "Write release NOTES"
	a.AssignedTo = "u1"
	b := task("b", 2)
	b.Description = "100% done_ish"
	b.ProjectID = "p1"
	c := task("c", 3)
	c.TaskStatus = domain.TaskClosed
	c.CompletionStatus = domain.CompletionCompleted
	d := task("d", 4)
	d.IsActive = false
	for _, tk := range []domain.Task{a, b, c, d} {
		if err := r.InsertTask(ctx, tk); err != nil {
			t.Fatalf("insert %s: %v", tk.ID, err)
		}
	}

	all, err := r.FindTasks(ctx, repo.TaskFilter{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(all) != 3 || all[0].ID != "c" || all[2].ID != "a" {
		t.Fatalf("expected active tasks newest first, got %v", ids(all))
	}
	if n, _ := r.CountTasks(ctx, repo.TaskFilter{IncludeInactive: true}); n != 4 {
		t.Fatalf("expected 4 including inactive, got %d", n)
	}

	res, _ := r.FindTasks(ctx, repo.TaskFilter{Search: "notes"})
	if len(res) != 1 || res[0].ID != "a" {
		t.Fatalf("search by title failed: %v", ids(res))
	}
	res, _ = r.FindTasks(ctx, repo.TaskFilter{Search: "100%"})
	if len(res) != 1 || res[0].ID != "b" {
		t.Fatalf("search with wildcard characters failed: %v", ids(res))
	}
	res, _ = r.FindTasks(ctx, repo.TaskFilter{TaskStatus: domain.TaskClosed})
	if len(res) != 1 || res[0].ID != "c" {
		t.Fatalf("status filter failed: %v", ids(res))
	}

	res, _ = r.FindTasks(ctx, repo.TaskFilter{Restrict: &repo.Restriction{AssigneeID: "u1"}})
	if len(res) != 1 || res[0].ID != "a" {
		t.Fatalf("restriction by assignee failed: %v", ids(res))
	}
	res, _ = r.FindTasks(ctx, repo.TaskFilter{Restrict: &repo.Restriction{AssigneeID: "u1", ProjectIDs: []string{"p1"}}})
	if len(res) != 2 {
		t.Fatalf("restriction by project failed: %v", ids(res))
	}

	page, _ := r.FindTasks(ctx, repo.TaskFilter{Limit: 2, Offset: 2})
	if len(page) != 1 || page[0].ID != "a" {
		t.Fatalf("pagination failed: %v", ids(page))
	}
}

func TestProjectTaskSetSemantics(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	p := domain.Project{ID: "p1", Name: "Apollo", Status: domain.ProjectActive, Team: []string{"u1", "u2"}, CreatedAt: base, UpdatedAt: base}
	if err := r.InsertProject(ctx, p); err != nil {
		t.Fatalf("insert project: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := r.AddProjectTask(ctx, "p1", "t1"); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if err := r.AddProjectTask(ctx, "p1", "t2"); err != nil {
		t.Fatalf("add: %v", err)
	}
	got, err := r.GetProject(ctx, "p1")
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if len(got.Tasks) != 2 || got.Tasks[0] != "t1" || got.Tasks[1] != "t2" {
		t.Fatalf("expected [t1 t2], got %v", got.Tasks)
	}
	if len(got.Team) != 2 {
		t.Fatalf("team not stored: %v", got.Team)
	}
	for i := 0; i < 2; i++ {
		if err := r.RemoveProjectTask(ctx, "p1", "t1"); err != nil {
			t.Fatalf("remove: %v", err)
		}
	}
	if err := r.RemoveProjectTask(ctx, "nope", "t1"); err != nil {
		t.Fatalf("remove from unknown project should succeed: %v", err)
	}
	if err := r.AddProjectTask(ctx, "nope", "t1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("add to unknown project should be not found, got %v", err)
	}
	listing, _ := r.ProjectsListingTask(ctx, "t2")
	if len(listing) != 1 || listing[0] != "p1" {
		t.Fatalf("unexpected listing %v", listing)
	}

	got.Name = "Apollo 2"
	got.Team = []string{"u3"}
	got.Tasks = nil
	if err := r.UpdateProject(ctx, got); err != nil {
		t.Fatalf("update project: %v", err)
	}
	got, _ = r.GetProject(ctx, "p1")
	if got.Name != "Apollo 2" || len(got.Team) != 1 || len(got.Tasks) != 1 {
		t.Fatalf("update should replace team and keep tasks: %+v", got)
	}
	mine, _ := r.ProjectIDsForMember(ctx, "u3")
	if len(mine) != 1 {
		t.Fatalf("member lookup failed: %v", mine)
	}
	if n, _ := r.CountProjects(ctx, repo.ProjectFilter{MemberID: "u1"}); n != 0 {
		t.Fatalf("removed member still counted")
	}
}

func TestClearTaskProjectIsConditional(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	tk := task("t1", 0)
	tk.ProjectID = "p2"
	if err := r.InsertTask(ctx, tk); err != nil {
		t.Fatalf("insert: %v", err)
	}
	cleared, err := r.ClearTaskProject(ctx, "t1", "p1", base)
	if err != nil || cleared {
		t.Fatalf("should not clear a different project: %v %v", cleared, err)
	}
	cleared, err = r.ClearTaskProject(ctx, "t1", "p2", base)
	if err != nil || !cleared {
		t.Fatalf("expected clear: %v %v", cleared, err)
	}
	got, _ := r.GetTask(ctx, "t1")
	if got.ProjectID != "" {
		t.Fatalf("project not cleared: %q", got.ProjectID)
	}
}

func TestUpdateTaskIsCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	if err := r.InsertTask(ctx, task("t1", 0)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	a, _ := r.GetTask(ctx, "t1")
	b := a
	a.ProjectID = "p2"
	if err := r.UpdateTask(ctx, a); err != nil {
		t.Fatalf("update: %v", err)
	}
	b.Title = "stale write"
	if err := r.UpdateTask(ctx, b); !errors.Is(err, repo.ErrStale) {
		t.Fatalf("expected stale, got %v", err)
	}
	got, _ := r.GetTask(ctx, "t1")
	if got.ProjectID != "p2" || got.Title != a.Title || got.Revision != a.Revision+1 {
		t.Fatalf("stale write leaked: %+v", got)
	}
	if _, err := r.ClearTaskProject(ctx, "t1", "p2", base); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got.Title = "after clear"
	if err := r.UpdateTask(ctx, got); !errors.Is(err, repo.ErrStale) {
		t.Fatalf("clear must bump the revision, got %v", err)
	}
}

func TestRolesCaseInsensitiveAndEvents(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	role := domain.Role{ID: "r1", Name: "Super Admin", Status: domain.StatusActive, Permissions: []string{"Edit Task", "Create Task"}, CreatedAt: base, UpdatedAt: base}
	if err := r.InsertRole(ctx, role); err != nil {
		t.Fatalf("insert role: %v", err)
	}
	dup := role
	dup.ID = "r2"
	dup.Name = "super admin"
	if err := r.InsertRole(ctx, dup); !errors.Is(err, repo.ErrDuplicate) {
		t.Fatalf("expected duplicate role, got %v", err)
	}
	got, err := r.GetRoleByName(ctx, "SUPER ADMIN")
	if err != nil || got.ID != "r1" || len(got.Permissions) != 2 {
		t.Fatalf("lookup by folded name failed: %+v %v", got, err)
	}

	id, err := r.AppendEvent(ctx, domain.Event{TS: base, Type: "taskUpdated", EntityKind: "task", EntityID: "t1", Payload: map[string]any{"action": "created"}})
	if err != nil || id == 0 {
		t.Fatalf("append: %d %v", id, err)
	}
	evts, err := r.EventsAfter(ctx, 10, 0)
	if err != nil || len(evts) != 1 || evts[0].Payload["action"] != "created" {
		t.Fatalf("events after: %+v %v", evts, err)
	}
	if latest, _ := r.LatestEventID(ctx); latest != id {
		t.Fatalf("latest id %d want %d", latest, id)
	}
}

func ids(ts []domain.Task) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.ID)
	}
	return out
}
