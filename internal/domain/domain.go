package domain

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// Task status values. Completed and Cancelled are completion values, never task statuses.
const (
	TaskOpen       = "Open"
	TaskInProgress = "In Progress"
	TaskOnHold     = "On Hold"
	TaskClosed     = "Closed"

	CompletionPending   = "Pending"
	CompletionCompleted = "Completed"
	CompletionCancelled = "Cancelled"
)

const (
	ProjectActive   = "active"
	ProjectInactive = "inactive"
)

// Status values shared by users and roles.
const (
	StatusActive   = "Active"
	StatusInactive = "Inactive"
)

// Media kinds a task can reference.
const (
	MediaImages      = "images"
	MediaVideos      = "videos"
	MediaAttachments = "attachments"
)

type Task struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	TaskStatus       string     `json:"taskStatus" enum:"Open,In Progress,On Hold,Closed"`
	CompletionStatus string     `json:"completionStatus" enum:"Pending,Completed,Cancelled"`
	StartDate        *time.Time `json:"startDate,omitempty"`
	EndDate          *time.Time `json:"endDate,omitempty"`
	Notes            string     `json:"notes,omitempty"`
	Images           []string   `json:"images"`
	Videos           []string   `json:"videos"`
	Attachments      []string   `json:"attachments"`
	IsActive         bool       `json:"isActive"`
	ProjectID        string     `json:"project,omitempty"`
	AssignedTo       string     `json:"assignedTo,omitempty"`
	CreatedBy        string     `json:"createdBy"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	// Revision is the write counter used for optimistic concurrency.
	Revision         int64      `json:"-"`
}

// Media returns the URL list for kind, or nil when kind is unknown.
func (t *Task) Media(kind string) *[]string {
	switch kind {
	case MediaImages:
		return &t.Images
	case MediaVideos:
		return &t.Videos
	case MediaAttachments:
		return &t.Attachments
	}
	return nil
}

// Project.Tasks is a derived back-reference; Task.ProjectID is authoritative.
type Project struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Status      string     `json:"status" enum:"active,inactive"`
	Team        []string   `json:"team"`
	Tasks       []string   `json:"tasks"`
	CreatedBy   string     `json:"createdBy,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// HasMember reports whether userID is in the project team.
func (p Project) HasMember(userID string) bool {
	for _, id := range p.Team {
		if id == userID {
			return true
		}
	}
	return false
}

type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Status      string    `json:"status" enum:"Active,Inactive"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// RoleKey normalizes a role name for case-insensitive uniqueness and comparison.
func RoleKey(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

type Permission struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Status       string    `json:"status" enum:"Active,Inactive"`
	RoleID       string    `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Actor is the per-request snapshot of an authenticated user.
// A nil Role means the user's role reference is dangling.
type Actor struct {
	ID     string
	Name   string
	Email  string
	Status string
	Role   *Role
}

// RoleName returns the actor's role name or "" when the role is missing.
func (a Actor) RoleName() string {
	if a.Role == nil {
		return ""
	}
	return a.Role.Name
}

type APIKey struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name,omitempty"`
	KeyHash   string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

type Event struct {
	ID         int64          `json:"id"`
	TS         time.Time      `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entityKind"`
	EntityID   string         `json:"entityId,omitempty"`
	ActorID    string         `json:"actorId,omitempty"`
	Payload    map[string]any `json:"payload"`
}
