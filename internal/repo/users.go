package repo

import (
	"context"
	"database/sql"
	"strings"

	"taskline/internal/domain"
)

const userColumns = `id,name,email,status,role_id,password_hash,created_at,updated_at`

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	var roleID, hash sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Status, &roleID, &hash, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	u.RoleID = roleID.String
	u.PasswordHash = hash.String
	if u.CreatedAt, err = parseTS(createdAt); err != nil {
		return u, err
	}
	if u.UpdatedAt, err = parseTS(updatedAt); err != nil {
		return u, err
	}
	return u, nil
}

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(`+userColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		u.ID, u.Name, strings.TrimSpace(u.Email), u.Status, nullable(u.RoleID), nullable(u.PasswordHash),
		formatTS(u.CreatedAt), formatTS(u.UpdatedAt))
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=?`, strings.TrimSpace(email)))
}

func (r Repo) UpdateUser(ctx context.Context, u domain.User) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE users SET name=?, email=?, status=?, role_id=?, password_hash=?, updated_at=? WHERE id=?`,
		u.Name, strings.TrimSpace(u.Email), u.Status, nullable(u.RoleID), nullable(u.PasswordHash), formatTS(u.UpdatedAt), u.ID)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func userWhere(f UserFilter) (string, []any) {
	var clauses []string
	var args []any
	if f.Search != "" {
		clauses = append(clauses, `(LOWER(name) LIKE ? ESCAPE '\' OR LOWER(email) LIKE ? ESCAPE '\')`)
		pattern := escapeLike(f.Search)
		args = append(args, pattern, pattern)
	}
	if f.RoleID != "" {
		clauses = append(clauses, "role_id=?")
		args = append(args, f.RoleID)
	}
	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func (r Repo) FindUsers(ctx context.Context, f UserFilter) ([]domain.User, error) {
	where, args := userWhere(f)
	query := `SELECT ` + userColumns + ` FROM users ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) CountUsers(ctx context.Context, f UserFilter) (int, error) {
	where, args := userWhere(f)
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM users `+where, args...).Scan(&n)
	return n, err
}

// DeleteUser removes the user and its team memberships. API keys cascade.
func (r Repo) DeleteUser(ctx context.Context, id string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM project_team WHERE user_id=?`, id); err != nil {
		return err
	}
	return tx.Commit()
}
