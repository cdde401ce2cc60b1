package server

import (
	"time"

	"taskline/internal/blob"
	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/engine/auth"
	"taskline/internal/engine/consistency"
)

// Request payloads

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type DevLoginRequest struct {
	UserID string `json:"userId"`
}

type CreateTaskRequest struct {
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	TaskStatus       string     `json:"taskStatus,omitempty"`
	CompletionStatus string     `json:"completionStatus,omitempty"`
	StartDate        *time.Time `json:"startDate,omitempty"`
	EndDate          *time.Time `json:"endDate,omitempty"`
	Notes            string     `json:"notes,omitempty"`
	Project          string     `json:"project,omitempty"`
	AssignedTo       string     `json:"assignedTo,omitempty"`
	IsActive         *bool      `json:"isActive,omitempty"`
	Images           []string   `json:"images,omitempty"`
	Videos           []string   `json:"videos,omitempty"`
	Attachments      []string   `json:"attachments,omitempty"`
}

// UpdateTaskRequest is a partial update. A null startDate or endDate clears the
// date; a null or empty project or assignedTo clears the reference.
type UpdateTaskRequest struct {
	Title            *string    `json:"title,omitempty"`
	Description      *string    `json:"description,omitempty"`
	TaskStatus       *string    `json:"taskStatus,omitempty"`
	CompletionStatus *string    `json:"completionStatus,omitempty"`
	StartDate        *time.Time `json:"startDate,omitempty" nullable:"true"`
	EndDate          *time.Time `json:"endDate,omitempty" nullable:"true"`
	Notes            *string    `json:"notes,omitempty"`
	Project          *string    `json:"project,omitempty" nullable:"true"`
	AssignedTo       *string    `json:"assignedTo,omitempty" nullable:"true"`
	IsActive         *bool      `json:"isActive,omitempty"`
}

type CreateProjectRequest struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Status      string     `json:"status,omitempty" enum:"active,inactive"`
	Team        []string   `json:"team,omitempty"`
}

type UpdateProjectRequest struct {
	Name        *string    `json:"name,omitempty"`
	Description *string    `json:"description,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty" nullable:"true"`
	Status      *string    `json:"status,omitempty" enum:"active,inactive"`
	Team        *[]string  `json:"team,omitempty"`
}

type CreateRoleRequest struct {
	Name        string   `json:"name"`
	Status      string   `json:"status,omitempty" enum:"Active,Inactive"`
	Permissions []string `json:"permissions,omitempty"`
}

type UpdateRoleRequest struct {
	Name        *string   `json:"name,omitempty"`
	Status      *string   `json:"status,omitempty" enum:"Active,Inactive"`
	Permissions *[]string `json:"permissions,omitempty"`
}

type CreatePermissionRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type UpdatePermissionRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

type CreateUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password,omitempty"`
	Role     string `json:"role"`
	Status   string `json:"status,omitempty" enum:"Active,Inactive"`
}

type UpdateUserRequest struct {
	Name     *string `json:"name,omitempty"`
	Status   *string `json:"status,omitempty" enum:"Active,Inactive"`
	Role     *string `json:"role,omitempty"`
	Password *string `json:"password,omitempty"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

// Response payloads

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	UserID    string    `json:"userId"`
}

type MeResponse struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	Status      string   `json:"status"`
	Role        string   `json:"role"`
	SuperAdmin  bool     `json:"superAdmin"`
	Permissions []string `json:"permissions"`
}

type MediaResponse struct {
	Task   domain.Task `json:"task"`
	Object blob.Object `json:"object"`
}

type APIKeyResponse struct {
	domain.APIKey
	Key string `json:"key"`
}

type ConsistencyResponse struct {
	Pending []consistency.PendingRepair `json:"pending"`
}

type EventList struct {
	Items      []domain.Event `json:"items"`
	NextCursor int64          `json:"nextCursor,omitempty"`
}

// Paged responses reuse the engine page shapes.
type (
	TaskPage    = engine.TaskPage
	ProjectPage = engine.ProjectPage
	UserPage    = engine.UserPage
)

func meResponse(a domain.Actor, s auth.Subject) MeResponse {
	return MeResponse{
		ID:          a.ID,
		Name:        a.Name,
		Email:       a.Email,
		Status:      a.Status,
		Role:        a.RoleName(),
		SuperAdmin:  s.SuperAdmin,
		Permissions: s.Permissions.Names(),
	}
}

func taskCreateOptions(in CreateTaskRequest) engine.TaskCreateOptions {
	return engine.TaskCreateOptions{
		Title:            in.Title,
		Description:      in.Description,
		TaskStatus:       in.TaskStatus,
		CompletionStatus: in.CompletionStatus,
		StartDate:        in.StartDate,
		EndDate:          in.EndDate,
		Notes:            in.Notes,
		ProjectID:        in.Project,
		AssignedTo:       in.AssignedTo,
		IsActive:         in.IsActive,
		Images:           in.Images,
		Videos:           in.Videos,
		Attachments:      in.Attachments,
	}
}
