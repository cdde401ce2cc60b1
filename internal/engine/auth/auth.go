package auth

import (
	"errors"
	"fmt"
	"sort"

	"taskline/internal/domain"
)

// Permission is an opaque capability token. Only equality is meaningful.
type Permission string

const (
	CreateUser       Permission = "Create User"
	EditUser         Permission = "Edit User"
	DeleteUser       Permission = "Delete User"
	CreateRole       Permission = "Create Role"
	EditRole         Permission = "Edit Role"
	DeleteRole       Permission = "Delete Role"
	CreateProject    Permission = "Create Project"
	EditProject      Permission = "Edit Project"
	DeleteProject    Permission = "Delete Project"
	ViewProject      Permission = "View Project"
	CreateTask       Permission = "Create Task"
	EditTask         Permission = "Edit Task"
	DeleteTask       Permission = "Delete Task"
	ViewTask         Permission = "View Task"
	CreatePermission Permission = "Create Permission"
	EditPermission   Permission = "Edit Permission"
	DeletePermission Permission = "Delete Permission"
)

// SuperAdminRole names the bypass role.
const SuperAdminRole = "Super Admin"

// Catalog lists every permission the system seeds.
var Catalog = []Permission{
	CreateUser, EditUser, DeleteUser,
	CreateRole, EditRole, DeleteRole,
	CreateProject, EditProject, DeleteProject, ViewProject,
	CreateTask, EditTask, DeleteTask, ViewTask,
	CreatePermission, EditPermission, DeletePermission,
}

// Known reports whether name is part of the catalog.
func Known(name string) bool {
	for _, p := range Catalog {
		if string(p) == name {
			return true
		}
	}
	return false
}

// Reasons carried by ForbiddenError.
const (
	ReasonPermission   = "permission_required"
	ReasonInactive     = "actor_inactive"
	ReasonRoleNotFound = "role_not_found"
	ReasonNotVisible   = "not_visible"
	ReasonSuperAdmin   = "super_admin_required"
)

// ForbiddenError indicates a denied policy decision.
type ForbiddenError struct {
	Permission string
	Reason     string
}

func (e ForbiddenError) Error() string {
	if e.Permission != "" {
		return fmt.Sprintf("permission %s required", e.Permission)
	}
	switch e.Reason {
	case ReasonInactive:
		return "actor is not active"
	case ReasonRoleNotFound:
		return "actor role not found"
	case ReasonNotVisible:
		return "resource not visible to actor"
	case ReasonSuperAdmin:
		return "super admin role required"
	}
	return "access denied"
}

// Code returns the machine-readable reason.
func (e ForbiddenError) Code() string {
	if e.Reason != "" {
		return e.Reason
	}
	return ReasonPermission
}

var ErrRoleNotFound = errors.New("role not found")

var superAdminKey = domain.RoleKey(SuperAdminRole)

// IsSuperAdminName reports whether name designates the bypass role.
func IsSuperAdminName(name string) bool {
	return domain.RoleKey(name) == superAdminKey
}

// PermissionSet is an immutable set of permission names.
type PermissionSet struct {
	m map[Permission]struct{}
}

func NewPermissionSet(names ...string) PermissionSet {
	m := make(map[Permission]struct{}, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		m[Permission(n)] = struct{}{}
	}
	return PermissionSet{m: m}
}

func (s PermissionSet) Has(p Permission) bool {
	_, ok := s.m[p]
	return ok
}

func (s PermissionSet) HasAny(ps ...Permission) bool {
	for _, p := range ps {
		if s.Has(p) {
			return true
		}
	}
	return false
}

func (s PermissionSet) Len() int { return len(s.m) }

// Names returns a sorted copy of the set.
func (s PermissionSet) Names() []string {
	out := make([]string, 0, len(s.m))
	for p := range s.m {
		out = append(out, string(p))
	}
	sort.Strings(out)
	return out
}

// Subject is an actor after role resolution.
type Subject struct {
	ActorID     string
	SuperAdmin  bool
	Permissions PermissionSet
}

// Resolve computes the effective grant of an actor snapshot.
// An inactive role grants nothing, including the super admin bypass.
func Resolve(a domain.Actor) (Subject, error) {
	if a.Role == nil {
		return Subject{}, ErrRoleNotFound
	}
	s := Subject{ActorID: a.ID, Permissions: NewPermissionSet()}
	if a.Role.Status != "" && a.Role.Status != domain.StatusActive {
		return s, nil
	}
	s.SuperAdmin = IsSuperAdminName(a.Role.Name)
	s.Permissions = NewPermissionSet(a.Role.Permissions...)
	return s, nil
}

// ResolveActive fails closed for inactive actors and dangling roles.
func ResolveActive(a domain.Actor) (Subject, error) {
	if a.Status != domain.StatusActive {
		return Subject{}, ForbiddenError{Reason: ReasonInactive}
	}
	s, err := Resolve(a)
	if errors.Is(err, ErrRoleNotFound) {
		return Subject{}, ForbiddenError{Reason: ReasonRoleNotFound}
	}
	return s, err
}
