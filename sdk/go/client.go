package tasklinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Taskline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

type Task struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	TaskStatus       string     `json:"taskStatus"`
	CompletionStatus string     `json:"completionStatus"`
	StartDate        *time.Time `json:"startDate,omitempty"`
	EndDate          *time.Time `json:"endDate,omitempty"`
	Notes            string     `json:"notes,omitempty"`
	Images           []string   `json:"images"`
	Videos           []string   `json:"videos"`
	Attachments      []string   `json:"attachments"`
	IsActive         bool       `json:"isActive"`
	Project          string     `json:"project,omitempty"`
	AssignedTo       string     `json:"assignedTo,omitempty"`
	CreatedBy        string     `json:"createdBy"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// TaskInput is the create payload. Zero values are omitted.
type TaskInput struct {
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	TaskStatus       string     `json:"taskStatus,omitempty"`
	CompletionStatus string     `json:"completionStatus,omitempty"`
	StartDate        *time.Time `json:"startDate,omitempty"`
	EndDate          *time.Time `json:"endDate,omitempty"`
	Notes            string     `json:"notes,omitempty"`
	Project          string     `json:"project,omitempty"`
	AssignedTo       string     `json:"assignedTo,omitempty"`
}

type Project struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Status      string     `json:"status"`
	Team        []string   `json:"team"`
	Tasks       []string   `json:"tasks"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type ProjectInput struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Status      string     `json:"status,omitempty"`
	Team        []string   `json:"team,omitempty"`
}

type Role struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Status      string   `json:"status"`
	Permissions []string `json:"permissions"`
}

type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Status string `json:"status"`
	Role   string `json:"role"`
}

type UserInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password,omitempty"`
	Role     string `json:"role"`
	Status   string `json:"status,omitempty"`
}

type Permission struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type Me struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	Status      string   `json:"status"`
	Role        string   `json:"role"`
	SuperAdmin  bool     `json:"superAdmin"`
	Permissions []string `json:"permissions"`
}

type Token struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	UserID    string    `json:"userId"`
}

type APIKey struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	Name   string `json:"name,omitempty"`
	Key    string `json:"key"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         time.Time      `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entityKind"`
	EntityID   string         `json:"entityId,omitempty"`
	ActorID    string         `json:"actorId,omitempty"`
	Payload    map[string]any `json:"payload"`
}

type EventList struct {
	Items      []Event `json:"items"`
	NextCursor int64   `json:"nextCursor,omitempty"`
}

type Page[T any] struct {
	Items       []T `json:"items"`
	TotalItems  int `json:"totalItems"`
	CurrentPage int `json:"currentPage"`
	TotalPages  int `json:"totalPages"`
}

type Media struct {
	Task   Task `json:"task"`
	Object struct {
		Key         string `json:"key"`
		URL         string `json:"url"`
		ContentType string `json:"contentType"`
		Size        int64  `json:"size"`
	} `json:"object"`
}

type PendingRepair struct {
	TaskID   string    `json:"taskId"`
	Since    time.Time `json:"since"`
	Attempts int       `json:"attempts"`
	LastErr  string    `json:"lastError,omitempty"`
}

type ReconcileReport struct {
	TasksChecked int `json:"tasksChecked"`
	Added        int `json:"added"`
	Removed      int `json:"removed"`
	Cleared      int `json:"cleared"`
	Failed       int `json:"failed"`
}

// ListOptions narrows list calls. Empty fields are not sent.
type ListOptions struct {
	Page             int
	Limit            int
	Search           string
	Status           string
	TaskStatus       string
	CompletionStatus string
	Project          string
	Role             string
	IncludeInactive  bool
}

func (o ListOptions) query() string {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	if o.Page > 0 {
		q.Set("page", strconv.Itoa(o.Page))
	}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	set("search", o.Search)
	set("status", o.Status)
	set("taskStatus", o.TaskStatus)
	set("completionStatus", o.CompletionStatus)
	set("project", o.Project)
	set("role", o.Role)
	if o.IncludeInactive {
		q.Set("includeInactive", "true")
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
}

func (c *Client) Login(ctx context.Context, email, password string) (Token, error) {
	var resp Token
	err := c.do(ctx, http.MethodPost, "auth/login", map[string]any{"email": email, "password": password}, &resp)
	return resp, err
}

func (c *Client) DevLogin(ctx context.Context, userID string) (Token, error) {
	var resp Token
	err := c.do(ctx, http.MethodPost, "auth/dev-login", map[string]any{"userId": userID}, &resp)
	return resp, err
}

func (c *Client) Me(ctx context.Context) (Me, error) {
	var resp Me
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

func (c *Client) CreateTask(ctx context.Context, in TaskInput) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", in, &resp)
	return resp, err
}

func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// UpdateTask sends patch as-is; a nil value clears the field.
func (c *Client) UpdateTask(ctx context.Context, id string, patch map[string]any) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, "tasks/"+url.PathEscape(id), patch, &resp)
	return resp, err
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "tasks/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ListTasks(ctx context.Context, opts ListOptions) (Page[Task], error) {
	var resp Page[Task]
	err := c.do(ctx, http.MethodGet, "tasks"+opts.query(), nil, &resp)
	return resp, err
}

// UploadMedia stores data as kind (images, videos or attachments) on the task.
func (c *Client) UploadMedia(ctx context.Context, taskID, kind, filename, contentType string, data []byte) (Media, error) {
	var resp Media
	endpoint := fmt.Sprintf("tasks/%s/media/%s?filename=%s", url.PathEscape(taskID), url.PathEscape(kind), url.QueryEscape(filename))
	err := c.send(ctx, http.MethodPost, c.apiURL(endpoint), contentType, bytes.NewReader(data), &resp)
	return resp, err
}

// Fetch downloads a media URL returned by UploadMedia.
func (c *Client) Fetch(ctx context.Context, mediaURL string) ([]byte, error) {
	target := mediaURL
	if strings.HasPrefix(target, "/") {
		target = c.base() + target
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, decodeError(resp)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) CreateProject(ctx context.Context, in ProjectInput) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects", in, &resp)
	return resp, err
}

func (c *Client) GetProject(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, "projects/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) UpdateProject(ctx context.Context, id string, patch map[string]any) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPatch, "projects/"+url.PathEscape(id), patch, &resp)
	return resp, err
}

func (c *Client) DeleteProject(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "projects/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ListProjects(ctx context.Context, opts ListOptions) (Page[Project], error) {
	var resp Page[Project]
	err := c.do(ctx, http.MethodGet, "projects"+opts.query(), nil, &resp)
	return resp, err
}

func (c *Client) ListRoles(ctx context.Context) ([]Role, error) {
	var resp []Role
	err := c.do(ctx, http.MethodGet, "roles", nil, &resp)
	return resp, err
}

func (c *Client) CreateRole(ctx context.Context, name string, permissions []string) (Role, error) {
	var resp Role
	err := c.do(ctx, http.MethodPost, "roles", map[string]any{"name": name, "permissions": permissions}, &resp)
	return resp, err
}

func (c *Client) UpdateRole(ctx context.Context, id string, patch map[string]any) (Role, error) {
	var resp Role
	err := c.do(ctx, http.MethodPatch, "roles/"+url.PathEscape(id), patch, &resp)
	return resp, err
}

func (c *Client) DeleteRole(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "roles/"+url.PathEscape(id), nil, nil)
}

func (c *Client) Permissions(ctx context.Context) ([]Permission, error) {
	var resp []Permission
	err := c.do(ctx, http.MethodGet, "permissions", nil, &resp)
	return resp, err
}

func (c *Client) CreatePermission(ctx context.Context, name, description string) (Permission, error) {
	var resp Permission
	err := c.do(ctx, http.MethodPost, "permissions", map[string]any{"name": name, "description": description}, &resp)
	return resp, err
}

func (c *Client) UpdatePermission(ctx context.Context, name string, patch map[string]any) (Permission, error) {
	var resp Permission
	err := c.do(ctx, http.MethodPatch, "permissions/"+url.PathEscape(name), patch, &resp)
	return resp, err
}

func (c *Client) DeletePermission(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "permissions/"+url.PathEscape(name), nil, nil)
}

func (c *Client) CreateUser(ctx context.Context, in UserInput) (User, error) {
	var resp User
	err := c.do(ctx, http.MethodPost, "users", in, &resp)
	return resp, err
}

func (c *Client) UpdateUser(ctx context.Context, id string, patch map[string]any) (User, error) {
	var resp User
	err := c.do(ctx, http.MethodPatch, "users/"+url.PathEscape(id), patch, &resp)
	return resp, err
}

func (c *Client) DeleteUser(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "users/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ListUsers(ctx context.Context, opts ListOptions) (Page[User], error) {
	var resp Page[User]
	err := c.do(ctx, http.MethodGet, "users"+opts.query(), nil, &resp)
	return resp, err
}

func (c *Client) CreateAPIKey(ctx context.Context, name string) (APIKey, error) {
	var resp APIKey
	err := c.do(ctx, http.MethodPost, "api-keys", map[string]any{"name": name}, &resp)
	return resp, err
}

func (c *Client) Consistency(ctx context.Context) ([]PendingRepair, error) {
	var resp struct {
		Pending []PendingRepair `json:"pending"`
	}
	err := c.do(ctx, http.MethodGet, "consistency", nil, &resp)
	return resp.Pending, err
}

func (c *Client) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var resp ReconcileReport
	err := c.do(ctx, http.MethodPost, "consistency/reconcile", nil, &resp)
	return resp, err
}

// Events returns log entries with an id greater than after.
func (c *Client) Events(ctx context.Context, after int64, limit int) (EventList, error) {
	q := url.Values{}
	if after > 0 {
		q.Set("after", strconv.FormatInt(after, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp EventList
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	} else if method == http.MethodPost || method == http.MethodPatch {
		buf.WriteString("{}")
	}
	return c.send(ctx, method, c.apiURL(endpoint), "application/json", &buf, out)
}

func (c *Client) send(ctx context.Context, method, target, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(b, &envelope) == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	return c.HTTPClient
}

func (c *Client) apiURL(endpoint string) string {
	return c.base() + "/" + strings.Trim(c.BasePath, "/") + "/" + strings.TrimLeft(endpoint, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
