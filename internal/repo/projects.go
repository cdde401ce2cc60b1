package repo

import (
	"context"
	"database/sql"
	"strings"

	"taskline/internal/domain"
)

const projectColumns = `id,name,description,deadline,status,created_by,created_at,updated_at`

func scanProject(row rowScanner) (domain.Project, error) {
	var p domain.Project
	var desc, deadline, createdBy sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&p.ID, &p.Name, &desc, &deadline, &p.Status, &createdBy, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Description = desc.String
	p.CreatedBy = createdBy.String
	if p.Deadline, err = timePtr(deadline); err != nil {
		return p, err
	}
	if p.CreatedAt, err = parseTS(createdAt); err != nil {
		return p, err
	}
	if p.UpdatedAt, err = parseTS(updatedAt); err != nil {
		return p, err
	}
	return p, nil
}

func (r Repo) InsertProject(ctx context.Context, p domain.Project) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, `INSERT INTO projects(`+projectColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, nullable(p.Description), nullableTime(p.Deadline), p.Status, nullable(p.CreatedBy),
		formatTS(p.CreatedAt), formatTS(p.UpdatedAt))
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return err
	}
	if err := replaceTeam(ctx, tx, p.ID, p.Team); err != nil {
		return err
	}
	for _, taskID := range p.Tasks {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO project_tasks(project_id, task_id) VALUES (?,?)`, p.ID, taskID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func replaceTeam(ctx context.Context, tx *sql.Tx, projectID string, team []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM project_team WHERE project_id=?`, projectID); err != nil {
		return err
	}
	for _, userID := range team {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO project_team(project_id, user_id) VALUES (?,?)`, projectID, userID); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	p, err := scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
	if err != nil {
		return p, err
	}
	return r.loadProjectRefs(ctx, p)
}

func (r Repo) loadProjectRefs(ctx context.Context, p domain.Project) (domain.Project, error) {
	var err error
	if p.Team, err = r.queryStrings(ctx, `SELECT user_id FROM project_team WHERE project_id=? ORDER BY rowid`, p.ID); err != nil {
		return p, err
	}
	if p.Tasks, err = r.queryStrings(ctx, `SELECT task_id FROM project_tasks WHERE project_id=? ORDER BY rowid`, p.ID); err != nil {
		return p, err
	}
	return p, nil
}

func (r Repo) UpdateProject(ctx context.Context, p domain.Project) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `UPDATE projects SET name=?, description=?, deadline=?, status=?, updated_at=? WHERE id=?`,
		p.Name, nullable(p.Description), nullableTime(p.Deadline), p.Status, formatTS(p.UpdatedAt), p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := replaceTeam(ctx, tx, p.ID, p.Team); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) DeleteProject(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func projectWhere(f ProjectFilter) (string, []any) {
	var clauses []string
	var args []any
	if f.Search != "" {
		clauses = append(clauses, `(LOWER(name) LIKE ? ESCAPE '\' OR LOWER(COALESCE(description,'')) LIKE ? ESCAPE '\')`)
		pattern := escapeLike(f.Search)
		args = append(args, pattern, pattern)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.MemberID != "" {
		clauses = append(clauses, "id IN (SELECT project_id FROM project_team WHERE user_id=?)")
		args = append(args, f.MemberID)
	}
	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func (r Repo) FindProjects(ctx context.Context, f ProjectFilter) ([]domain.Project, error) {
	where, args := projectWhere(f)
	query := `SELECT ` + projectColumns + ` FROM projects ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	res := []domain.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	// refs are loaded after the cursor is released; the pool holds a single connection
	for i := range res {
		if res[i], err = r.loadProjectRefs(ctx, res[i]); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r Repo) CountProjects(ctx context.Context, f ProjectFilter) (int, error) {
	where, args := projectWhere(f)
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects `+where, args...).Scan(&n)
	return n, err
}

func (r Repo) ProjectIDsForMember(ctx context.Context, userID string) ([]string, error) {
	return r.queryStrings(ctx, `SELECT project_id FROM project_team WHERE user_id=? ORDER BY project_id`, userID)
}

func (r Repo) AddProjectTask(ctx context.Context, projectID, taskID string) error {
	var exists int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM projects WHERE id=?`, projectID).Scan(&exists)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO project_tasks(project_id, task_id) VALUES (?,?)`, projectID, taskID)
	if err != nil && strings.Contains(err.Error(), "FOREIGN KEY") {
		return ErrNotFound
	}
	return err
}

func (r Repo) RemoveProjectTask(ctx context.Context, projectID, taskID string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM project_tasks WHERE project_id=? AND task_id=?`, projectID, taskID)
	return err
}

func (r Repo) ProjectsListingTask(ctx context.Context, taskID string) ([]string, error) {
	return r.queryStrings(ctx, `SELECT project_id FROM project_tasks WHERE task_id=? ORDER BY project_id`, taskID)
}
