package auth_test

import (
	"errors"
	"testing"

	"taskline/internal/domain"
	"taskline/internal/engine/auth"
)

func actor(id, roleName string, perms ...string) domain.Actor {
	return domain.Actor{
		ID:     id,
		Status: domain.StatusActive,
		Role:   &domain.Role{ID: "r-" + id, Name: roleName, Status: domain.StatusActive, Permissions: perms},
	}
}

func mustResolve(t *testing.T, a domain.Actor) auth.Subject {
	t.Helper()
	s, err := auth.Resolve(a)
	if err != nil {
		t.Fatalf("resolve %s: %v", a.ID, err)
	}
	return s
}

func TestSuperAdminPerformsEverything(t *testing.T) {
	pol := auth.Policy{}
	for _, name := range []string{"Super Admin", "super admin", "  SUPER ADMIN "} {
		s := mustResolve(t, actor("root", name))
		if !s.SuperAdmin {
			t.Fatalf("expected %q to resolve as super admin", name)
		}
		for _, p := range auth.Catalog {
			if !pol.CanPerform(s, p) {
				t.Fatalf("super admin denied %s", p)
			}
		}
		if !pol.CanPerform(s, auth.Permission("Something Unseeded")) {
			t.Fatalf("super admin denied unknown permission")
		}
	}
}

func TestResolveDanglingRole(t *testing.T) {
	_, err := auth.Resolve(domain.Actor{ID: "u1", Status: domain.StatusActive})
	if !errors.Is(err, auth.ErrRoleNotFound) {
		t.Fatalf("expected ErrRoleNotFound, got %v", err)
	}
	_, err = auth.ResolveActive(domain.Actor{ID: "u1", Status: domain.StatusActive})
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) || fe.Reason != auth.ReasonRoleNotFound {
		t.Fatalf("expected role_not_found forbidden, got %v", err)
	}
}

func TestResolveActiveRejectsInactiveActor(t *testing.T) {
	a := actor("u1", "Super Admin")
	a.Status = domain.StatusInactive
	_, err := auth.ResolveActive(a)
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) || fe.Reason != auth.ReasonInactive {
		t.Fatalf("expected actor_inactive, got %v", err)
	}
}

func TestInactiveRoleGrantsNothing(t *testing.T) {
	a := actor("u1", "Super Admin", "Create Task")
	a.Role.Status = domain.StatusInactive
	s := mustResolve(t, a)
	if s.SuperAdmin || s.Permissions.Len() != 0 {
		t.Fatalf("inactive role should grant nothing: %+v", s)
	}
}

func TestCanEditTask(t *testing.T) {
	pol := auth.Policy{}
	editor := mustResolve(t, actor("ed", "Manager", "Edit Task"))
	viewer := mustResolve(t, actor("vi", "Member", "View Task"))
	task := domain.Task{ID: "t1", AssignedTo: "vi"}
	if !pol.CanEditTask(editor, task) {
		t.Fatalf("editor should edit any task")
	}
	if !pol.CanEditTask(viewer, task) {
		t.Fatalf("assignee should edit own task")
	}
	task.AssignedTo = "someone-else"
	if pol.CanEditTask(viewer, task) {
		t.Fatalf("viewer should not edit task assigned to another")
	}
	task.AssignedTo = ""
	if pol.CanEditTask(mustResolve(t, actor("", "Member", "View Task")), task) {
		t.Fatalf("empty ids must not match unassigned task")
	}
}

func TestCanAssign(t *testing.T) {
	pol := auth.Policy{}
	root := mustResolve(t, actor("root", "Super Admin"))
	mgr := mustResolve(t, actor("mgr", "Manager", "Create Task", "Edit Task"))
	cases := []struct {
		name     string
		assigner auth.Subject
		assignee domain.Actor
		want     bool
	}{
		{"manager to member", mgr, actor("m", "Member"), true},
		{"manager to super admin", mgr, actor("r2", "Super Admin"), false},
		{"manager to super admin any case", mgr, actor("r3", "sUpEr AdMiN"), false},
		{"super admin to super admin", root, actor("r2", "Super Admin"), true},
		{"super admin to member", root, actor("m", "Member"), true},
		{"manager to roleless", mgr, domain.Actor{ID: "x"}, true},
	}
	for _, tc := range cases {
		if got := pol.CanAssign(tc.assigner, tc.assignee); got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestTaskVisibilityTiers(t *testing.T) {
	pol := auth.Policy{}
	mine := domain.Task{ID: "a", AssignedTo: "vi"}
	theirs := domain.Task{ID: "b", AssignedTo: "other", ProjectID: "p1"}

	mgr := mustResolve(t, actor("mgr", "Manager", "Delete Task"))
	if v := pol.TaskVisibility(mgr, nil); v.Tier != auth.TierAll || !v.Match(theirs) {
		t.Fatalf("manager should see all: %+v", v)
	}

	viewer := mustResolve(t, actor("vi", "Member", "View Task"))
	v := pol.TaskVisibility(viewer, []string{"p1"})
	if v.Tier != auth.TierOwn {
		t.Fatalf("expected own tier, got %s", v.Tier)
	}
	if !v.Match(mine) || v.Match(theirs) {
		t.Fatalf("viewer without team visibility should only see own task")
	}

	teamPol := auth.Policy{ProjectTeamVisibility: true}
	v = teamPol.TaskVisibility(viewer, []string{"p1"})
	if !v.Match(theirs) {
		t.Fatalf("team visibility should expose project tasks")
	}
	if v.Match(domain.Task{ID: "c", AssignedTo: "other", ProjectID: "p2"}) {
		t.Fatalf("team visibility leaked foreign project")
	}

	nobody := mustResolve(t, actor("n", "Guest", "View Project"))
	if v := pol.TaskVisibility(nobody, nil); v.Tier != auth.TierNone || v.Match(mine) {
		t.Fatalf("actor without View Task should see nothing")
	}
}

func TestRoleGuardAndProjectView(t *testing.T) {
	pol := auth.Policy{}
	mgr := mustResolve(t, actor("mgr", "Manager", "Create Role"))
	if pol.CanManageRoleNamed(mgr, "super ADMIN") {
		t.Fatalf("non super admin managed the super admin role")
	}
	if !pol.CanManageRoleNamed(mgr, "Reviewer") {
		t.Fatalf("ordinary role should be manageable")
	}
	member := mustResolve(t, actor("m", "Member", "View Task"))
	p := domain.Project{ID: "p", Team: []string{"m"}}
	if !pol.CanViewProject(member, p) {
		t.Fatalf("team member should view project")
	}
	if pol.CanViewProject(member, domain.Project{ID: "q"}) {
		t.Fatalf("non member viewed project")
	}
	err := pol.Require(member, auth.DeleteTask)
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) || fe.Permission != "Delete Task" {
		t.Fatalf("expected forbidden Delete Task, got %v", err)
	}
}

func TestPermissionSetNames(t *testing.T) {
	s := auth.NewPermissionSet("b", "a", "", "a")
	names := s.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("unexpected names %v", names)
	}
}
