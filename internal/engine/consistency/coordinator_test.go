package consistency_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/engine/consistency"
	"taskline/internal/logging"
	"taskline/internal/migrate"
	"taskline/internal/repo"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

// flakyStore fails AddProjectTask while failAdds is positive and
// TaskIDsByProject while failLists is positive.
type flakyStore struct {
	repo.Repo
	mu        sync.Mutex
	failAdds  int
	failLists int
}

func (f *flakyStore) TaskIDsByProject(ctx context.Context, projectID string) ([]string, error) {
	f.mu.Lock()
	if f.failLists > 0 {
		f.failLists--
		f.mu.Unlock()
		return nil, errors.New("store unavailable")
	}
	f.mu.Unlock()
	return f.Repo.TaskIDsByProject(ctx, projectID)
}

func (f *flakyStore) AddProjectTask(ctx context.Context, projectID, taskID string) error {
	f.mu.Lock()
	if f.failAdds > 0 {
		f.failAdds--
		f.mu.Unlock()
		return errors.New("store unavailable")
	}
	f.mu.Unlock()
	return f.Repo.AddProjectTask(ctx, projectID, taskID)
}

type env struct {
	ctx   context.Context
	store *flakyStore
	coord *consistency.Coordinator
}

func newEnv(t *testing.T) env {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if _, err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := &flakyStore{Repo: repo.Repo{DB: conn}}
	coord := consistency.New(store, logging.Discard())
	coord.Now = func() time.Time { return now }
	e := env{ctx: context.Background(), store: store, coord: coord}
	for _, id := range []string{"p1", "p2", "p3"} {
		if err := store.InsertProject(e.ctx, domain.Project{ID: id, Name: id, Status: domain.ProjectActive, CreatedAt: now, UpdatedAt: now}); err != nil {
			t.Fatalf("insert project: %v", err)
		}
	}
	return e
}

func (e env) task(t *testing.T, id, project string) {
	t.Helper()
	err := e.store.InsertTask(e.ctx, domain.Task{
		ID: id, Title: id, TaskStatus: domain.TaskOpen, CompletionStatus: domain.CompletionPending,
		IsActive: true, ProjectID: project, CreatedBy: "u", CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("insert task: %v", err)
	}
}

func (e env) setProject(t *testing.T, id, project string) {
	t.Helper()
	tk, err := e.store.GetTask(e.ctx, id)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	tk.ProjectID = project
	if err := e.store.UpdateTask(e.ctx, tk); err != nil {
		t.Fatalf("update task: %v", err)
	}
}

func (e env) tasksOf(t *testing.T, project string) []string {
	t.Helper()
	p, err := e.store.GetProject(e.ctx, project)
	if err != nil {
		t.Fatalf("get project %s: %v", project, err)
	}
	return p.Tasks
}

func count(list []string, v string) int {
	n := 0
	for _, s := range list {
		if s == v {
			n++
		}
	}
	return n
}

func TestRelinkMovesAndIsIdempotent(t *testing.T) {
	e := newEnv(t)
	e.task(t, "t1", "p1")
	if err := e.coord.Relink(e.ctx, "t1", "", "p1"); err != nil {
		t.Fatalf("link: %v", err)
	}
	e.setProject(t, "t1", "p2")
	for i := 0; i < 3; i++ {
		if err := e.coord.Relink(e.ctx, "t1", "p1", "p2"); err != nil {
			t.Fatalf("relink %d: %v", i, err)
		}
		if got := e.tasksOf(t, "p1"); count(got, "t1") != 0 {
			t.Fatalf("p1 still lists t1: %v", got)
		}
		if got := e.tasksOf(t, "p2"); count(got, "t1") != 1 {
			t.Fatalf("p2 should list t1 exactly once: %v", got)
		}
	}
}

func TestRelinkLosingWriterDoesNotLeaveStaleEntry(t *testing.T) {
	e := newEnv(t)
	// a concurrent writer already moved the task to p3
	e.task(t, "t1", "p3")
	if err := e.coord.Relink(e.ctx, "t1", "p1", "p2"); err != nil {
		t.Fatalf("relink: %v", err)
	}
	if got := e.tasksOf(t, "p2"); count(got, "t1") != 0 {
		t.Fatalf("stale entry survived in p2: %v", got)
	}
	if got := e.tasksOf(t, "p3"); count(got, "t1") != 1 {
		t.Fatalf("authoritative project missing entry: %v", got)
	}
}

func TestRelinkToDeletedProjectClearsReference(t *testing.T) {
	e := newEnv(t)
	e.task(t, "t1", "gone")
	if err := e.coord.Relink(e.ctx, "t1", "", "gone"); err != nil {
		t.Fatalf("relink: %v", err)
	}
	tk, _ := e.store.GetTask(e.ctx, "t1")
	if tk.ProjectID != "" {
		t.Fatalf("dangling project reference kept: %q", tk.ProjectID)
	}
}

func TestRelinkFailureQueuesRepair(t *testing.T) {
	e := newEnv(t)
	e.task(t, "t1", "p1")
	e.store.failAdds = 1
	err := e.coord.Relink(e.ctx, "t1", "", "p1")
	if !errors.Is(err, consistency.ErrRepairNeeded) {
		t.Fatalf("expected repair needed, got %v", err)
	}
	var rn *consistency.RepairNeededError
	if !errors.As(err, &rn) || rn.TaskID != "t1" {
		t.Fatalf("expected RepairNeededError for t1, got %v", err)
	}
	tk, _ := e.store.GetTask(e.ctx, "t1")
	if tk.ProjectID != "p1" {
		t.Fatalf("authoritative write must survive: %q", tk.ProjectID)
	}
	pending := e.coord.Pending()
	if len(pending) != 1 || pending[0].TaskID != "t1" {
		t.Fatalf("expected t1 pending, got %+v", pending)
	}
	rep, err := e.coord.DrainPending(e.ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if rep.Added != 1 || len(e.coord.Pending()) != 0 {
		t.Fatalf("drain did not repair: %+v pending=%v", rep, e.coord.Pending())
	}
	if got := e.tasksOf(t, "p1"); count(got, "t1") != 1 {
		t.Fatalf("p1 should list t1: %v", got)
	}
}

func TestUnlinkRemovesEveryListing(t *testing.T) {
	e := newEnv(t)
	_ = e.store.AddProjectTask(e.ctx, "p1", "t1")
	_ = e.store.AddProjectTask(e.ctx, "p2", "t1")
	if err := e.coord.Unlink(e.ctx, "t1", "p1"); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	if len(e.tasksOf(t, "p1")) != 0 || len(e.tasksOf(t, "p2")) != 0 {
		t.Fatalf("deleted task still listed")
	}
}

func TestDetachProjectClearsTasks(t *testing.T) {
	e := newEnv(t)
	e.task(t, "t1", "p1")
	e.task(t, "t2", "p1")
	e.task(t, "t3", "p2")
	if err := e.store.DeleteProject(e.ctx, "p1"); err != nil {
		t.Fatalf("delete project: %v", err)
	}
	n, err := e.coord.DetachProject(e.ctx, "p1")
	if err != nil || n != 2 {
		t.Fatalf("detach: %d %v", n, err)
	}
	for _, id := range []string{"t1", "t2"} {
		tk, err := e.store.GetTask(e.ctx, id)
		if err != nil {
			t.Fatalf("task %s must survive: %v", id, err)
		}
		if tk.ProjectID != "" {
			t.Fatalf("task %s still references deleted project", id)
		}
	}
	tk, _ := e.store.GetTask(e.ctx, "t3")
	if tk.ProjectID != "p2" {
		t.Fatalf("unrelated task touched")
	}
}

func TestDetachListingFailureIsQueued(t *testing.T) {
	e := newEnv(t)
	e.task(t, "t1", "p1")
	if err := e.store.DeleteProject(e.ctx, "p1"); err != nil {
		t.Fatalf("delete project: %v", err)
	}
	e.store.failLists = 1
	if _, err := e.coord.DetachProject(e.ctx, "p1"); !errors.Is(err, consistency.ErrRepairNeeded) {
		t.Fatalf("expected repair needed, got %v", err)
	}
	if got := e.coord.PendingDetaches(); len(got) != 1 || got[0] != "p1" {
		t.Fatalf("detach not queued: %v", got)
	}
	rep, err := e.coord.DrainPending(e.ctx)
	if err != nil || rep.Cleared != 1 {
		t.Fatalf("drain: %+v %v", rep, err)
	}
	if got := e.coord.PendingDetaches(); len(got) != 0 {
		t.Fatalf("detach still queued: %v", got)
	}
	tk, _ := e.store.GetTask(e.ctx, "t1")
	if tk.ProjectID != "" {
		t.Fatalf("task still references deleted project")
	}
}

func TestReconcileAllRepairsDrift(t *testing.T) {
	e := newEnv(t)
	// t1 is missing from p1 and stale in p2, ghost no longer exists, t2 points at a deleted project
	e.task(t, "t1", "p1")
	_ = e.store.AddProjectTask(e.ctx, "p2", "t1")
	_ = e.store.AddProjectTask(e.ctx, "p3", "ghost")
	e.task(t, "t2", "vanished")

	rep, err := e.coord.ReconcileAll(e.ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if rep.Added != 1 || rep.Removed != 2 || rep.Cleared != 1 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if got := e.tasksOf(t, "p1"); count(got, "t1") != 1 {
		t.Fatalf("p1: %v", got)
	}
	if len(e.tasksOf(t, "p2")) != 0 || len(e.tasksOf(t, "p3")) != 0 {
		t.Fatalf("stale entries survived")
	}
	again, err := e.coord.ReconcileAll(e.ctx)
	if err != nil || again.Changed() {
		t.Fatalf("second pass should be clean: %+v %v", again, err)
	}
}

func TestRunDrainsPending(t *testing.T) {
	e := newEnv(t)
	e.task(t, "t1", "p1")
	e.store.failAdds = 1
	_ = e.coord.Relink(e.ctx, "t1", "", "p1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.coord.Run(ctx, 5*time.Millisecond, 0)
	deadline := time.Now().Add(2 * time.Second)
	for len(e.coord.Pending()) > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("pending repair not drained")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := e.tasksOf(t, "p1"); count(got, "t1") != 1 {
		t.Fatalf("p1: %v", got)
	}
}
