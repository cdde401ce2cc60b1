package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"taskline/internal/domain"
)

// Repo is the SQLite-backed Store.
type Repo struct {
	DB *sql.DB
}

var _ Store = Repo{}

// Timestamps are stored in a fixed-width layout so text ordering matches time ordering.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTS(*t)
}

func timePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTS(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func encodeList(v []string) string {
	if v == nil {
		v = []string{}
	}
	data, _ := json.Marshal(v)
	return string(data)
}

func decodeList(s string) ([]string, error) {
	out := []string{}
	if s == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(s)) + "%"
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

const taskColumns = `id,title,description,task_status,completion_status,start_date,end_date,notes,images_json,videos_json,attachments_json,is_active,project_id,assigned_to,created_by,created_at,updated_at,revision`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var description, start, end, notes, projectID, assignedTo sql.NullString
	var images, videos, attachments, createdAt, updatedAt string
	var active int
	err := row.Scan(&t.ID, &t.Title, &description, &t.TaskStatus, &t.CompletionStatus, &start, &end, &notes,
		&images, &videos, &attachments, &active, &projectID, &assignedTo, &t.CreatedBy, &createdAt, &updatedAt, &t.Revision)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Description = description.String
	t.Notes = notes.String
	t.ProjectID = projectID.String
	t.AssignedTo = assignedTo.String
	t.IsActive = active != 0
	if t.StartDate, err = timePtr(start); err != nil {
		return t, fmt.Errorf("task %s start_date: %w", t.ID, err)
	}
	if t.EndDate, err = timePtr(end); err != nil {
		return t, fmt.Errorf("task %s end_date: %w", t.ID, err)
	}
	if t.Images, err = decodeList(images); err != nil {
		return t, err
	}
	if t.Videos, err = decodeList(videos); err != nil {
		return t, err
	}
	if t.Attachments, err = decodeList(attachments); err != nil {
		return t, err
	}
	if t.CreatedAt, err = parseTS(createdAt); err != nil {
		return t, err
	}
	if t.UpdatedAt, err = parseTS(updatedAt); err != nil {
		return t, err
	}
	return t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (r Repo) InsertTask(ctx context.Context, t domain.Task) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (`+placeholders(18)+`)`,
		t.ID, t.Title, nullable(t.Description), t.TaskStatus, t.CompletionStatus, nullableTime(t.StartDate), nullableTime(t.EndDate),
		nullable(t.Notes), encodeList(t.Images), encodeList(t.Videos), encodeList(t.Attachments), boolInt(t.IsActive),
		nullable(t.ProjectID), nullable(t.AssignedTo), t.CreatedBy, formatTS(t.CreatedAt), formatTS(t.UpdatedAt), t.Revision)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// UpdateTask replaces the stored document when its revision still equals
// t.Revision, and bumps the revision. created_by and created_at are immutable.
func (r Repo) UpdateTask(ctx context.Context, t domain.Task) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, task_status=?, completion_status=?, start_date=?, end_date=?, notes=?,
images_json=?, videos_json=?, attachments_json=?, is_active=?, project_id=?, assigned_to=?, updated_at=?, revision=revision+1 WHERE id=? AND revision=?`,
		t.Title, nullable(t.Description), t.TaskStatus, t.CompletionStatus, nullableTime(t.StartDate), nullableTime(t.EndDate), nullable(t.Notes),
		encodeList(t.Images), encodeList(t.Videos), encodeList(t.Attachments), boolInt(t.IsActive),
		nullable(t.ProjectID), nullable(t.AssignedTo), formatTS(t.UpdatedAt), t.ID, t.Revision)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var exists int
	err = r.DB.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id=?`, t.ID).Scan(&exists)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrStale
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func (r Repo) DeleteTask(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func taskWhere(f TaskFilter) (string, []any) {
	var clauses []string
	var args []any
	if !f.IncludeInactive {
		clauses = append(clauses, "is_active=1")
	}
	if f.Search != "" {
		clauses = append(clauses, `(LOWER(title) LIKE ? ESCAPE '\' OR LOWER(COALESCE(description,'')) LIKE ? ESCAPE '\')`)
		pattern := escapeLike(f.Search)
		args = append(args, pattern, pattern)
	}
	if f.TaskStatus != "" {
		clauses = append(clauses, "task_status=?")
		args = append(args, f.TaskStatus)
	}
	if f.CompletionStatus != "" {
		clauses = append(clauses, "completion_status=?")
		args = append(args, f.CompletionStatus)
	}
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Restrict != nil {
		if len(f.Restrict.ProjectIDs) > 0 {
			clauses = append(clauses, fmt.Sprintf("(assigned_to=? OR project_id IN (%s))", placeholders(len(f.Restrict.ProjectIDs))))
			args = append(args, f.Restrict.AssigneeID)
			for _, id := range f.Restrict.ProjectIDs {
				args = append(args, id)
			}
		} else {
			clauses = append(clauses, "assigned_to=?")
			args = append(args, f.Restrict.AssigneeID)
		}
	}
	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func (r Repo) FindTasks(ctx context.Context, f TaskFilter) ([]domain.Task, error) {
	where, args := taskWhere(f)
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) CountTasks(ctx context.Context, f TaskFilter) (int, error) {
	where, args := taskWhere(f)
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks `+where, args...).Scan(&n)
	return n, err
}

func (r Repo) TaskIDsByProject(ctx context.Context, projectID string) ([]string, error) {
	return r.queryStrings(ctx, `SELECT id FROM tasks WHERE project_id=? ORDER BY created_at`, projectID)
}

func (r Repo) TaskRefs(ctx context.Context) ([]TaskRef, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, COALESCE(project_id,'') FROM tasks ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var refs []TaskRef
	for rows.Next() {
		var ref TaskRef
		if err := rows.Scan(&ref.TaskID, &ref.ProjectID); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (r Repo) ClearTaskProject(ctx context.Context, taskID, projectID string, now time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE tasks SET project_id=NULL, updated_at=?, revision=revision+1 WHERE id=? AND project_id=?`,
		formatTS(now), taskID, projectID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// UnassignTasks clears the assignee on every task held by userID.
func (r Repo) UnassignTasks(ctx context.Context, userID string, now time.Time) (int, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE tasks SET assigned_to=NULL, updated_at=?, revision=revision+1 WHERE assigned_to=?`,
		formatTS(now), userID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
