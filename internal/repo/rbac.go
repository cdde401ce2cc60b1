package repo

import (
	"context"
	"database/sql"

	"taskline/internal/domain"
)

func (r Repo) UpsertPermission(ctx context.Context, p domain.Permission) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO permissions(name, description) VALUES (?,?)
ON CONFLICT(name) DO UPDATE SET description=COALESCE(excluded.description, permissions.description)`, p.Name, nullable(p.Description))
	return err
}

func (r Repo) ListPermissions(ctx context.Context) ([]domain.Permission, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT name, COALESCE(description,'') FROM permissions ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Permission{}
	for rows.Next() {
		var p domain.Permission
		if err := rows.Scan(&p.Name, &p.Description); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) InsertPermission(ctx context.Context, p domain.Permission) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO permissions(name, description) VALUES (?,?)`, p.Name, nullable(p.Description))
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// UpdatePermission rewrites the permission stored as name. A rename is carried
// into every role grant.
func (r Repo) UpdatePermission(ctx context.Context, name string, p domain.Permission) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `UPDATE permissions SET name=?, description=? WHERE name=?`, p.Name, nullable(p.Description), name)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if p.Name != name {
		if _, err := tx.ExecContext(ctx, `UPDATE role_permissions SET permission=? WHERE permission=?`, p.Name, name); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r Repo) DeletePermission(ctx context.Context, name string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM permissions WHERE name=?`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertRole(ctx context.Context, role domain.Role) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, `INSERT INTO roles(id, name, name_key, status, created_at, updated_at) VALUES (?,?,?,?,?,?)`,
		role.ID, role.Name, domain.RoleKey(role.Name), role.Status, formatTS(role.CreatedAt), formatTS(role.UpdatedAt))
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return err
	}
	if err := replaceRolePermissions(ctx, tx, role.ID, role.Permissions); err != nil {
		return err
	}
	return tx.Commit()
}

func replaceRolePermissions(ctx context.Context, tx *sql.Tx, roleID string, perms []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id=?`, roleID); err != nil {
		return err
	}
	for _, p := range perms {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO role_permissions(role_id, permission) VALUES (?,?)`, roleID, p); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) UpdateRole(ctx context.Context, role domain.Role) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `UPDATE roles SET name=?, name_key=?, status=?, updated_at=? WHERE id=?`,
		role.Name, domain.RoleKey(role.Name), role.Status, formatTS(role.UpdatedAt), role.ID)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := replaceRolePermissions(ctx, tx, role.ID, role.Permissions); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) DeleteRole(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM roles WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) scanRole(ctx context.Context, row *sql.Row) (domain.Role, error) {
	var role domain.Role
	var createdAt, updatedAt string
	err := row.Scan(&role.ID, &role.Name, &role.Status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return role, ErrNotFound
	}
	if err != nil {
		return role, err
	}
	if role.CreatedAt, err = parseTS(createdAt); err != nil {
		return role, err
	}
	if role.UpdatedAt, err = parseTS(updatedAt); err != nil {
		return role, err
	}
	role.Permissions, err = r.rolePermissions(ctx, role.ID)
	return role, err
}

func (r Repo) rolePermissions(ctx context.Context, roleID string) ([]string, error) {
	return r.queryStrings(ctx, `SELECT permission FROM role_permissions WHERE role_id=? ORDER BY permission`, roleID)
}

func (r Repo) GetRole(ctx context.Context, id string) (domain.Role, error) {
	return r.scanRole(ctx, r.DB.QueryRowContext(ctx, `SELECT id,name,status,created_at,updated_at FROM roles WHERE id=?`, id))
}

// GetRoleByName matches case-insensitively.
func (r Repo) GetRoleByName(ctx context.Context, name string) (domain.Role, error) {
	return r.scanRole(ctx, r.DB.QueryRowContext(ctx, `SELECT id,name,status,created_at,updated_at FROM roles WHERE name_key=?`, domain.RoleKey(name)))
}

func (r Repo) ListRoles(ctx context.Context) ([]domain.Role, error) {
	ids, err := r.queryStrings(ctx, `SELECT id FROM roles ORDER BY name_key`)
	if err != nil {
		return nil, err
	}
	res := make([]domain.Role, 0, len(ids))
	for _, id := range ids {
		role, err := r.GetRole(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		res = append(res, role)
	}
	return res, nil
}
