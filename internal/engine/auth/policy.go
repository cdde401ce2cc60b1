package auth

import "taskline/internal/domain"

// Tier is the breadth of task visibility granted to a subject.
type Tier int

const (
	TierNone Tier = iota
	TierOwn
	TierAll
)

func (t Tier) String() string {
	switch t {
	case TierAll:
		return "all"
	case TierOwn:
		return "own"
	}
	return "none"
}

// Visibility is the query-level predicate restricting which tasks a subject may read.
type Visibility struct {
	Tier       Tier
	ActorID    string
	ProjectIDs []string
}

// Match evaluates the predicate against a single task.
func (v Visibility) Match(t domain.Task) bool {
	switch v.Tier {
	case TierAll:
		return true
	case TierOwn:
		if t.AssignedTo != "" && t.AssignedTo == v.ActorID {
			return true
		}
		if t.ProjectID == "" {
			return false
		}
		for _, id := range v.ProjectIDs {
			if id == t.ProjectID {
				return true
			}
		}
	}
	return false
}

// Policy holds pure access decisions.
type Policy struct {
	ProjectTeamVisibility bool
}

func (Policy) CanPerform(s Subject, p Permission) bool {
	return s.SuperAdmin || s.Permissions.Has(p)
}

// Require returns a ForbiddenError when s lacks p.
func (pol Policy) Require(s Subject, p Permission) error {
	if pol.CanPerform(s, p) {
		return nil
	}
	return ForbiddenError{Permission: string(p), Reason: ReasonPermission}
}

// CanEditTask grants edit to holders of Edit Task and to the task's assignee.
func (pol Policy) CanEditTask(s Subject, t domain.Task) bool {
	if pol.CanPerform(s, EditTask) {
		return true
	}
	return t.AssignedTo != "" && t.AssignedTo == s.ActorID
}

// CanAssign forbids assigning work to a super admin unless the assigner is one.
func (Policy) CanAssign(assigner Subject, assignee domain.Actor) bool {
	return !IsSuperAdminName(assignee.RoleName()) || assigner.SuperAdmin
}

// IsManager reports whether s sees every task.
func (Policy) IsManager(s Subject) bool {
	return s.SuperAdmin || s.Permissions.HasAny(CreateTask, EditTask, DeleteTask)
}

// TaskVisibility builds the list filter for s. teamProjects is only consulted
// when project-team visibility is enabled.
func (pol Policy) TaskVisibility(s Subject, teamProjects []string) Visibility {
	if pol.IsManager(s) {
		return Visibility{Tier: TierAll, ActorID: s.ActorID}
	}
	if !s.Permissions.Has(ViewTask) {
		return Visibility{Tier: TierNone, ActorID: s.ActorID}
	}
	v := Visibility{Tier: TierOwn, ActorID: s.ActorID}
	if pol.ProjectTeamVisibility && len(teamProjects) > 0 {
		v.ProjectIDs = append([]string(nil), teamProjects...)
	}
	return v
}

func (pol Policy) CanViewAllProjects(s Subject) bool {
	return pol.CanPerform(s, ViewProject)
}

func (pol Policy) CanViewProject(s Subject, p domain.Project) bool {
	return pol.CanViewAllProjects(s) || p.HasMember(s.ActorID)
}

// CanManageRoleNamed guards create, rename-into, modify and delete of the Super Admin role.
func (Policy) CanManageRoleNamed(s Subject, name string) bool {
	return !IsSuperAdminName(name) || s.SuperAdmin
}
