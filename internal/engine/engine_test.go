package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskline/internal/blob"
	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/engine/auth"
	"taskline/internal/engine/taskstate"
	"taskline/internal/logging"
	"taskline/internal/migrate"
	"taskline/internal/notify"
	"taskline/internal/repo"
)

var clock = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type testEnv struct {
	Engine  engine.Engine
	Ctx     context.Context
	Store   repo.Repo
	Events  *notify.Recorder
	Admin   domain.Actor
	Manager domain.Actor
	Viewer  domain.Actor
	Other   domain.Actor
}

func newTestEnv(t *testing.T, tweak ...func(*config.Config)) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	for _, fn := range tweak {
		fn(cfg)
	}
	store := repo.Repo{DB: conn}
	eng := engine.New(store, cfg, logging.Discard())
	eng.Now = func() time.Time { return clock }
	rec := notify.NewRecorder(64)
	eng.Notifier = rec
	eng.Blobs = blob.Dir{Root: dir + "/media", BaseURL: "/media"}
	env := testEnv{Engine: eng, Ctx: ctx, Store: store, Events: rec}

	all := make([]string, 0, len(auth.Catalog))
	for _, p := range auth.Catalog {
		all = append(all, string(p))
	}
	env.role(t, "r-admin", auth.SuperAdminRole)
	env.role(t, "r-manager", "Manager",
		"Create Task", "Edit Task", "Delete Task", "View Task",
		"Create Project", "Edit Project", "Delete Project", "View Project",
		"Create Role", "Edit Role", "Delete Role", "Create User", "Edit User")
	env.role(t, "r-viewer", "Viewer", "View Task")
	env.Admin = env.user(t, "u-admin", "r-admin")
	env.Manager = env.user(t, "u-manager", "r-manager")
	env.Viewer = env.user(t, "u-viewer", "r-viewer")
	env.Other = env.user(t, "u-other", "r-viewer")
	return env
}

func (env testEnv) role(t *testing.T, id, name string, perms ...string) {
	t.Helper()
	r := domain.Role{ID: id, Name: name, Status: domain.StatusActive, Permissions: perms, CreatedAt: clock, UpdatedAt: clock}
	if err := env.Store.InsertRole(env.Ctx, r); err != nil {
		t.Fatalf("insert role %s: %v", name, err)
	}
}

func (env testEnv) user(t *testing.T, id, roleID string) domain.Actor {
	t.Helper()
	u := domain.User{ID: id, Name: id, Email: id + "@example.com", Status: domain.StatusActive, RoleID: roleID, CreatedAt: clock, UpdatedAt: clock}
	if err := env.Store.InsertUser(env.Ctx, u); err != nil {
		t.Fatalf("insert user %s: %v", id, err)
	}
	a, err := env.Engine.ActorFor(env.Ctx, id)
	if err != nil {
		t.Fatalf("actor %s: %v", id, err)
	}
	return a
}

func (env testEnv) project(t *testing.T, name string, team ...string) domain.Project {
	t.Helper()
	p, err := env.Engine.CreateProject(env.Ctx, env.Manager, engine.ProjectCreateOptions{Name: name, Team: team})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func (env testEnv) task(t *testing.T, opts engine.TaskCreateOptions) domain.Task {
	t.Helper()
	tk, err := env.Engine.CreateTask(env.Ctx, env.Manager, opts)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return tk
}

func ptr[T any](v T) *T { return &v }

func ruleOf(err error) string {
	var ve *taskstate.ValidationError
	if errors.As(err, &ve) {
		return ve.Rule
	}
	return ""
}

func reasonOf(err error) string {
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return fe.Code()
	}
	return ""
}

func ids(tasks []domain.Task) map[string]bool {
	out := map[string]bool{}
	for _, t := range tasks {
		out[t.ID] = true
	}
	return out
}

func TestSuperAdminBypassesPermissions(t *testing.T) {
	env := newTestEnv(t)
	tk, err := env.Engine.CreateTask(env.Ctx, env.Admin, engine.TaskCreateOptions{Title: "admin work"})
	if err != nil {
		t.Fatalf("super admin create: %v", err)
	}
	if err := env.Engine.DeleteTask(env.Ctx, env.Admin, tk.ID); err != nil {
		t.Fatalf("super admin delete: %v", err)
	}
}

func TestViewerSeesOnlyAssignedTasks(t *testing.T) {
	env := newTestEnv(t)
	x := env.task(t, engine.TaskCreateOptions{Title: "X", AssignedTo: env.Viewer.ID})
	env.task(t, engine.TaskCreateOptions{Title: "Y", AssignedTo: env.Other.ID})
	env.task(t, engine.TaskCreateOptions{Title: "Z"})

	page, err := env.Engine.ListTasks(env.Ctx, env.Viewer, engine.TaskQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != x.ID || page.TotalItems != 1 {
		t.Fatalf("viewer should see exactly X, got %+v", page)
	}
	if _, err := env.Engine.GetTask(env.Ctx, env.Other, x.ID); reasonOf(err) != auth.ReasonNotVisible {
		t.Fatalf("expected not_visible, got %v", err)
	}
	all, _ := env.Engine.ListTasks(env.Ctx, env.Manager, engine.TaskQuery{})
	if all.TotalItems != 3 {
		t.Fatalf("manager should see all tasks, got %d", all.TotalItems)
	}
}

func TestProjectTeamVisibilityToggle(t *testing.T) {
	for _, enabled := range []bool{false, true} {
		env := newTestEnv(t, func(c *config.Config) { c.Access.ProjectTeamVisibility = enabled })
		p := env.project(t, "Apollo", env.Viewer.ID)
		team := env.task(t, engine.TaskCreateOptions{Title: "team task", ProjectID: p.ID})
		page, err := env.Engine.ListTasks(env.Ctx, env.Viewer, engine.TaskQuery{})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if got := ids(page.Items)[team.ID]; got != enabled {
			t.Fatalf("team visibility=%v but listed=%v", enabled, got)
		}
	}
}

func TestNoViewPermissionYieldsEmptyPage(t *testing.T) {
	env := newTestEnv(t)
	env.role(t, "r-none", "Nobody")
	nobody := env.user(t, "u-none", "r-none")
	env.task(t, engine.TaskCreateOptions{Title: "secret", AssignedTo: nobody.ID})
	page, err := env.Engine.ListTasks(env.Ctx, nobody, engine.TaskQuery{})
	if err != nil || len(page.Items) != 0 || page.TotalItems != 0 {
		t.Fatalf("expected empty page, got %+v %v", page, err)
	}
}

func TestInactiveActorFailsClosed(t *testing.T) {
	env := newTestEnv(t)
	inactive := env.Manager
	inactive.Status = domain.StatusInactive
	_, err := env.Engine.CreateTask(env.Ctx, inactive, engine.TaskCreateOptions{Title: "nope"})
	if reasonOf(err) != auth.ReasonInactive {
		t.Fatalf("expected actor_inactive, got %v", err)
	}
	dangling := env.Manager
	dangling.Role = nil
	if _, err := env.Engine.ListTasks(env.Ctx, dangling, engine.TaskQuery{}); reasonOf(err) != auth.ReasonRoleNotFound {
		t.Fatalf("expected role_not_found, got %v", err)
	}
}

func TestCreateRejectsOpenCompleted(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateTask(env.Ctx, env.Manager, engine.TaskCreateOptions{
		Title: "bad", TaskStatus: domain.TaskOpen, CompletionStatus: domain.CompletionCompleted,
	})
	if ruleOf(err) != taskstate.RuleInvalidStatusCombo {
		t.Fatalf("expected invalid_status_combo, got %v", err)
	}
	page, _ := env.Engine.ListTasks(env.Ctx, env.Manager, engine.TaskQuery{})
	if page.TotalItems != 0 {
		t.Fatalf("rejected task was persisted")
	}
}

func TestPartialUpdateCannotBypassValidation(t *testing.T) {
	env := newTestEnv(t)
	tk := env.task(t, engine.TaskCreateOptions{Title: "t"})
	cases := []struct {
		name string
		opts engine.TaskUpdateOptions
	}{
		{"completion only", engine.TaskUpdateOptions{CompletionStatus: ptr(domain.CompletionCompleted)}},
		{"close only", engine.TaskUpdateOptions{TaskStatus: ptr(domain.TaskClosed)}},
		{"cancel only", engine.TaskUpdateOptions{CompletionStatus: ptr(domain.CompletionCancelled)}},
	}
	for _, tc := range cases {
		if _, err := env.Engine.UpdateTask(env.Ctx, env.Manager, tk.ID, tc.opts); ruleOf(err) != taskstate.RuleInvalidStatusCombo {
			t.Fatalf("%s: expected invalid_status_combo, got %v", tc.name, err)
		}
	}
	closed, err := env.Engine.UpdateTask(env.Ctx, env.Manager, tk.ID, engine.TaskUpdateOptions{
		TaskStatus: ptr(domain.TaskClosed), CompletionStatus: ptr(domain.CompletionCompleted),
	})
	if err != nil || closed.TaskStatus != domain.TaskClosed {
		t.Fatalf("closing with both fields should pass: %v", err)
	}
	if _, err := env.Engine.UpdateTask(env.Ctx, env.Manager, tk.ID, engine.TaskUpdateOptions{TaskStatus: ptr(domain.TaskInProgress)}); ruleOf(err) != taskstate.RuleInvalidStatusCombo {
		t.Fatalf("reopening without resetting completion must fail, got %v", err)
	}
}

func TestDateRangeOnCreateAndUpdate(t *testing.T) {
	env := newTestEnv(t)
	start := clock.Add(48 * time.Hour)
	end := clock.Add(24 * time.Hour)
	_, err := env.Engine.CreateTask(env.Ctx, env.Manager, engine.TaskCreateOptions{Title: "t", StartDate: &start, EndDate: &end})
	if ruleOf(err) != taskstate.RuleInvalidDateRange {
		t.Fatalf("create: expected invalid_date_range, got %v", err)
	}
	tk := env.task(t, engine.TaskCreateOptions{Title: "t", StartDate: &start})
	_, err = env.Engine.UpdateTask(env.Ctx, env.Manager, tk.ID, engine.TaskUpdateOptions{EndDate: &end})
	if ruleOf(err) != taskstate.RuleInvalidDateRange {
		t.Fatalf("update: expected invalid_date_range, got %v", err)
	}
}

func TestAssigneeMayEditOwnTask(t *testing.T) {
	env := newTestEnv(t)
	mine := env.task(t, engine.TaskCreateOptions{Title: "mine", AssignedTo: env.Viewer.ID})
	theirs := env.task(t, engine.TaskCreateOptions{Title: "theirs", AssignedTo: env.Other.ID})
	if _, err := env.Engine.UpdateTask(env.Ctx, env.Viewer, mine.ID, engine.TaskUpdateOptions{TaskStatus: ptr(domain.TaskInProgress)}); err != nil {
		t.Fatalf("assignee edit: %v", err)
	}
	_, err := env.Engine.UpdateTask(env.Ctx, env.Viewer, theirs.ID, engine.TaskUpdateOptions{Notes: ptr("hi")})
	if reasonOf(err) != auth.ReasonPermission {
		t.Fatalf("expected permission_required, got %v", err)
	}
}

func TestAssignmentGuard(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateTask(env.Ctx, env.Manager, engine.TaskCreateOptions{Title: "t", AssignedTo: env.Admin.ID})
	if reasonOf(err) != auth.ReasonSuperAdmin {
		t.Fatalf("create: expected super_admin_required, got %v", err)
	}
	tk := env.task(t, engine.TaskCreateOptions{Title: "t"})
	_, err = env.Engine.UpdateTask(env.Ctx, env.Manager, tk.ID, engine.TaskUpdateOptions{AssignedTo: ptr(env.Admin.ID)})
	if reasonOf(err) != auth.ReasonSuperAdmin {
		t.Fatalf("update: expected super_admin_required, got %v", err)
	}
	if _, err := env.Engine.UpdateTask(env.Ctx, env.Admin, tk.ID, engine.TaskUpdateOptions{AssignedTo: ptr(env.Admin.ID)}); err != nil {
		t.Fatalf("super admin may assign to super admin: %v", err)
	}
	if _, err := env.Engine.UpdateTask(env.Ctx, env.Manager, tk.ID, engine.TaskUpdateOptions{AssignedTo: ptr("ghost")}); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected not found for unknown assignee, got %v", err)
	}
}

func TestProjectMoveKeepsBackReferences(t *testing.T) {
	env := newTestEnv(t)
	p1 := env.project(t, "P1")
	p2 := env.project(t, "P2")
	tk := env.task(t, engine.TaskCreateOptions{Title: "t", ProjectID: p1.ID})
	if _, err := env.Engine.UpdateTask(env.Ctx, env.Manager, tk.ID, engine.TaskUpdateOptions{ProjectID: ptr(p2.ID)}); err != nil {
		t.Fatalf("move: %v", err)
	}
	g1, _ := env.Store.GetProject(env.Ctx, p1.ID)
	g2, _ := env.Store.GetProject(env.Ctx, p2.ID)
	if len(g1.Tasks) != 0 || len(g2.Tasks) != 1 || g2.Tasks[0] != tk.ID {
		t.Fatalf("back-references wrong: p1=%v p2=%v", g1.Tasks, g2.Tasks)
	}
	if _, err := env.Engine.UpdateTask(env.Ctx, env.Manager, tk.ID, engine.TaskUpdateOptions{ProjectID: ptr("")}); err != nil {
		t.Fatalf("clear project: %v", err)
	}
	g2, _ = env.Store.GetProject(env.Ctx, p2.ID)
	if len(g2.Tasks) != 0 {
		t.Fatalf("cleared task still listed: %v", g2.Tasks)
	}
}

func TestDeleteProjectDetachesTasks(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, "P")
	t1 := env.task(t, engine.TaskCreateOptions{Title: "t1", ProjectID: p.ID})
	t2 := env.task(t, engine.TaskCreateOptions{Title: "t2", ProjectID: p.ID})
	if err := env.Engine.DeleteProject(env.Ctx, env.Manager, p.ID); err != nil {
		t.Fatalf("delete project: %v", err)
	}
	for _, id := range []string{t1.ID, t2.ID} {
		tk, err := env.Engine.GetTask(env.Ctx, env.Manager, id)
		if err != nil {
			t.Fatalf("task %s lost: %v", id, err)
		}
		if tk.ProjectID != "" {
			t.Fatalf("task %s still references deleted project", id)
		}
	}
}

func TestDeleteTaskRemovesListing(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, "P")
	tk := env.task(t, engine.TaskCreateOptions{Title: "t", ProjectID: p.ID})
	if err := env.Engine.DeleteTask(env.Ctx, env.Viewer, tk.ID); reasonOf(err) != auth.ReasonPermission {
		t.Fatalf("viewer delete should be denied, got %v", err)
	}
	if err := env.Engine.DeleteTask(env.Ctx, env.Manager, tk.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, _ := env.Store.GetProject(env.Ctx, p.ID)
	if len(got.Tasks) != 0 {
		t.Fatalf("deleted task still listed: %v", got.Tasks)
	}
	if _, err := env.Engine.GetTask(env.Ctx, env.Manager, tk.ID); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListPaginationAndFilters(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 12; i++ {
		env.Engine.Now = func() time.Time { return clock.Add(time.Duration(i) * time.Minute) }
		title := "chore"
		if i%3 == 0 {
			title = "Write REPORT"
		}
		env.task(t, engine.TaskCreateOptions{Title: title})
	}
	page, err := env.Engine.ListTasks(env.Ctx, env.Manager, engine.TaskQuery{Page: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 2 || page.TotalItems != 12 || page.TotalPages != 2 || page.CurrentPage != 2 {
		t.Fatalf("unexpected page %+v", page)
	}
	first, _ := env.Engine.ListTasks(env.Ctx, env.Manager, engine.TaskQuery{Limit: 1})
	if !first.Items[0].CreatedAt.Equal(clock.Add(11 * time.Minute)) {
		t.Fatalf("expected newest first, got %v", first.Items[0].CreatedAt)
	}
	search, _ := env.Engine.ListTasks(env.Ctx, env.Manager, engine.TaskQuery{Search: "report"})
	if search.TotalItems != 4 {
		t.Fatalf("search matched %d", search.TotalItems)
	}
	capped, _ := env.Engine.ListTasks(env.Ctx, env.Manager, engine.TaskQuery{Limit: 1000})
	if capped.TotalPages != 1 || len(capped.Items) != 12 {
		t.Fatalf("cap: %+v", capped)
	}
	none, _ := env.Engine.ListTasks(env.Ctx, env.Manager, engine.TaskQuery{ProjectID: "missing"})
	if len(none.Items) != 0 {
		t.Fatalf("unknown project filter should be empty")
	}
}

func TestSoftHiddenTasks(t *testing.T) {
	env := newTestEnv(t)
	tk := env.task(t, engine.TaskCreateOptions{Title: "t", AssignedTo: env.Viewer.ID})
	if _, err := env.Engine.UpdateTask(env.Ctx, env.Manager, tk.ID, engine.TaskUpdateOptions{IsActive: ptr(false)}); err != nil {
		t.Fatalf("hide: %v", err)
	}
	viewer, _ := env.Engine.ListTasks(env.Ctx, env.Viewer, engine.TaskQuery{IncludeInactive: true})
	if viewer.TotalItems != 0 {
		t.Fatalf("viewer must not see hidden tasks")
	}
	manager, _ := env.Engine.ListTasks(env.Ctx, env.Manager, engine.TaskQuery{IncludeInactive: true})
	if manager.TotalItems != 1 {
		t.Fatalf("manager should see hidden task with IncludeInactive")
	}
}

func TestNotifications(t *testing.T) {
	env := newTestEnv(t)
	tk := env.task(t, engine.TaskCreateOptions{Title: "t"})
	env.Events.Drain()
	if _, err := env.Engine.UpdateTask(env.Ctx, env.Manager, tk.ID, engine.TaskUpdateOptions{AssignedTo: ptr(env.Viewer.ID)}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	evs := env.Events.Drain()
	if len(evs) != 2 || evs[0].Name != notify.TaskUpdated || evs[1].Name != notify.TaskAssigned {
		t.Fatalf("unexpected events %+v", evs)
	}
	if evs[1].Payload["assigneeEmail"] != env.Viewer.Email || evs[0].Payload["action"] != "updated" {
		t.Fatalf("unexpected payloads %+v", evs)
	}

	env.Engine.Notifier = notify.Func(func(context.Context, notify.Event) error { return errors.New("relay down") })
	if _, err := env.Engine.UpdateTask(env.Ctx, env.Manager, tk.ID, engine.TaskUpdateOptions{AssignedTo: ptr(env.Other.ID)}); err != nil {
		t.Fatalf("notifier failure must not fail the update: %v", err)
	}
}

func TestAttachMedia(t *testing.T) {
	env := newTestEnv(t)
	tk := env.task(t, engine.TaskCreateOptions{Title: "t", AssignedTo: env.Viewer.ID})
	got, obj, err := env.Engine.AttachMedia(env.Ctx, env.Viewer, tk.ID, domain.MediaImages, "shot.png", "image/png", []byte("png"))
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if len(got.Images) != 1 || got.Images[0] != obj.URL {
		t.Fatalf("url not recorded: %+v", got.Images)
	}
	if _, _, err := env.Engine.AttachMedia(env.Ctx, env.Viewer, tk.ID, "audio", "a.mp3", "", []byte("x")); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("expected invalid kind, got %v", err)
	}
}

func TestRoleAdministration(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateRole(env.Ctx, env.Manager, engine.RoleOptions{Name: "super ADMIN"}); reasonOf(err) != auth.ReasonSuperAdmin {
		t.Fatalf("manager must not create super admin role, got %v", err)
	}
	if _, err := env.Engine.CreateRole(env.Ctx, env.Manager, engine.RoleOptions{Name: "viewer"}); !errors.Is(err, engine.ErrConflict) {
		t.Fatalf("expected case-insensitive conflict, got %v", err)
	}
	if _, err := env.Engine.CreateRole(env.Ctx, env.Manager, engine.RoleOptions{Name: "Auditor", Permissions: []string{"Read Minds"}}); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("expected invalid permission, got %v", err)
	}
	r, err := env.Engine.CreateRole(env.Ctx, env.Manager, engine.RoleOptions{Name: "Auditor", Permissions: []string{"View Task"}})
	if err != nil {
		t.Fatalf("create role: %v", err)
	}
	if _, err := env.Engine.UpdateRole(env.Ctx, env.Manager, r.ID, engine.RoleUpdateOptions{Name: ptr("Super Admin")}); reasonOf(err) != auth.ReasonSuperAdmin {
		t.Fatalf("rename into super admin must be denied, got %v", err)
	}
	if err := env.Engine.DeleteRole(env.Ctx, env.Manager, "r-admin"); reasonOf(err) != auth.ReasonSuperAdmin {
		t.Fatalf("delete super admin role must be denied, got %v", err)
	}
	if err := env.Engine.DeleteRole(env.Ctx, env.Manager, "r-viewer"); !errors.Is(err, engine.ErrConflict) {
		t.Fatalf("role in use must not be deleted, got %v", err)
	}
	if err := env.Engine.DeleteRole(env.Ctx, env.Manager, r.ID); err != nil {
		t.Fatalf("delete unused role: %v", err)
	}
}

func TestUserAdministrationAndLogin(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateUser(env.Ctx, env.Manager, engine.UserCreateOptions{Name: "Eve", Email: "eve@example.com", RoleID: "r-admin"}); reasonOf(err) != auth.ReasonSuperAdmin {
		t.Fatalf("granting super admin must be denied, got %v", err)
	}
	u, err := env.Engine.CreateUser(env.Ctx, env.Manager, engine.UserCreateOptions{Name: "Eve", Email: "eve@example.com", RoleID: "r-viewer", Password: "s3cret"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := env.Engine.CreateUser(env.Ctx, env.Manager, engine.UserCreateOptions{Name: "Eve2", Email: "EVE@example.com", RoleID: "r-viewer"}); !errors.Is(err, engine.ErrConflict) {
		t.Fatalf("expected duplicate email conflict, got %v", err)
	}
	a, err := env.Engine.Login(env.Ctx, "eve@example.com", "s3cret")
	if err != nil || a.ID != u.ID || a.RoleName() != "Viewer" {
		t.Fatalf("login: %+v %v", a, err)
	}
	if _, err := env.Engine.Login(env.Ctx, "eve@example.com", "wrong"); !errors.Is(err, engine.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := env.Engine.UpdateUser(env.Ctx, env.Manager, u.ID, engine.UserUpdateOptions{Status: ptr(domain.StatusInactive)}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := env.Engine.Login(env.Ctx, "eve@example.com", "s3cret"); reasonOf(err) != auth.ReasonInactive {
		t.Fatalf("inactive login should fail closed, got %v", err)
	}
	if _, err := env.Engine.ListUsers(env.Ctx, env.Viewer, engine.UserQuery{}); reasonOf(err) != auth.ReasonPermission {
		t.Fatalf("viewer must not list users, got %v", err)
	}
}

func TestReconcileRequiresSuperAdmin(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Reconcile(env.Ctx, env.Manager); reasonOf(err) != auth.ReasonSuperAdmin {
		t.Fatalf("expected super_admin_required, got %v", err)
	}
	p := env.project(t, "P")
	tk := env.task(t, engine.TaskCreateOptions{Title: "t", ProjectID: p.ID})
	if err := env.Store.RemoveProjectTask(env.Ctx, p.ID, tk.ID); err != nil {
		t.Fatal(err)
	}
	rep, err := env.Engine.Reconcile(env.Ctx, env.Admin)
	if err != nil || rep.Added != 1 {
		t.Fatalf("reconcile: %+v %v", rep, err)
	}
}
