package repo

import (
	"context"
	"errors"
	"time"

	"taskline/internal/domain"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
	// ErrStale means the document changed since it was read.
	ErrStale     = errors.New("stale revision")
)

// TaskFilter scopes FindTasks and CountTasks. A zero Limit means no limit.
type TaskFilter struct {
	Search           string
	TaskStatus       string
	CompletionStatus string
	ProjectID        string
	IncludeInactive  bool
	Restrict         *Restriction
	Offset           int
	Limit            int
}

// Restriction keeps tasks assigned to AssigneeID or belonging to one of ProjectIDs.
type Restriction struct {
	AssigneeID string
	ProjectIDs []string
}

type ProjectFilter struct {
	Search   string
	Status   string
	MemberID string
	Offset   int
	Limit    int
}

type UserFilter struct {
	Search string
	RoleID string
	Offset int
	Limit  int
}

// TaskRef is the authoritative forward reference of a task.
type TaskRef struct {
	TaskID    string
	ProjectID string
}

// TaskStore persists task documents. Every write is atomic for one task only.
type TaskStore interface {
	InsertTask(ctx context.Context, t domain.Task) error
	GetTask(ctx context.Context, id string) (domain.Task, error)
	// UpdateTask writes t only while the stored revision equals t.Revision;
	// otherwise it returns ErrStale.
	UpdateTask(ctx context.Context, t domain.Task) error
	DeleteTask(ctx context.Context, id string) error
	FindTasks(ctx context.Context, f TaskFilter) ([]domain.Task, error)
	CountTasks(ctx context.Context, f TaskFilter) (int, error)
	TaskIDsByProject(ctx context.Context, projectID string) ([]string, error)
	TaskRefs(ctx context.Context) ([]TaskRef, error)
	// ClearTaskProject clears the reference only while it still equals projectID.
	// A successful clear bumps the revision.
	ClearTaskProject(ctx context.Context, taskID, projectID string, now time.Time) (bool, error)
	// UnassignTasks clears the assignee on every task held by userID and returns the count.
	UnassignTasks(ctx context.Context, userID string, now time.Time) (int, error)
}

// ProjectStore persists project documents and their derived task lists.
type ProjectStore interface {
	InsertProject(ctx context.Context, p domain.Project) error
	GetProject(ctx context.Context, id string) (domain.Project, error)
	// UpdateProject writes every field except Tasks.
	UpdateProject(ctx context.Context, p domain.Project) error
	DeleteProject(ctx context.Context, id string) error
	FindProjects(ctx context.Context, f ProjectFilter) ([]domain.Project, error)
	CountProjects(ctx context.Context, f ProjectFilter) (int, error)
	ProjectIDsForMember(ctx context.Context, userID string) ([]string, error)
	// AddProjectTask is add-if-absent; ErrNotFound when the project is gone.
	AddProjectTask(ctx context.Context, projectID, taskID string) error
	// RemoveProjectTask is remove-if-present and succeeds for unknown projects.
	RemoveProjectTask(ctx context.Context, projectID, taskID string) error
	ProjectsListingTask(ctx context.Context, taskID string) ([]string, error)
}

// Directory holds users, roles, the permission catalog and API keys.
type Directory interface {
	InsertUser(ctx context.Context, u domain.User) error
	GetUser(ctx context.Context, id string) (domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)
	UpdateUser(ctx context.Context, u domain.User) error
	// DeleteUser also drops the user's API keys and team memberships.
	DeleteUser(ctx context.Context, id string) error
	FindUsers(ctx context.Context, f UserFilter) ([]domain.User, error)
	CountUsers(ctx context.Context, f UserFilter) (int, error)

	InsertRole(ctx context.Context, r domain.Role) error
	GetRole(ctx context.Context, id string) (domain.Role, error)
	GetRoleByName(ctx context.Context, name string) (domain.Role, error)
	UpdateRole(ctx context.Context, r domain.Role) error
	DeleteRole(ctx context.Context, id string) error
	ListRoles(ctx context.Context) ([]domain.Role, error)

	UpsertPermission(ctx context.Context, p domain.Permission) error
	InsertPermission(ctx context.Context, p domain.Permission) error
	UpdatePermission(ctx context.Context, name string, p domain.Permission) error
	DeletePermission(ctx context.Context, name string) error
	ListPermissions(ctx context.Context) ([]domain.Permission, error)

	InsertAPIKey(ctx context.Context, k domain.APIKey) error
	GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error)
}

// EventStore is the append-only change log.
type EventStore interface {
	AppendEvent(ctx context.Context, e domain.Event) (int64, error)
	EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error)
	LatestEventID(ctx context.Context) (int64, error)
}

type Store interface {
	TaskStore
	ProjectStore
	Directory
	EventStore
}
