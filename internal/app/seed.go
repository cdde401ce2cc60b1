package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskline/internal/config"
	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/engine/auth"
	"taskline/internal/repo"
)

// SeedResult reports what Seed created. AdminPassword is set only when the
// admin account was created with a generated password.
type SeedResult struct {
	Permissions   int      `json:"permissions"`
	RolesCreated  []string `json:"rolesCreated"`
	AdminID       string   `json:"adminId"`
	AdminCreated  bool     `json:"adminCreated"`
	AdminPassword string   `json:"adminPassword,omitempty"`
}

// Seed installs the permission catalog, the Super Admin role, the configured
// roles and the admin account. Existing rows are left as they are.
func Seed(ctx context.Context, store repo.Store, cfg *config.Config, adminPassword string, now time.Time) (SeedResult, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	now = now.UTC()
	res := SeedResult{RolesCreated: []string{}}
	for _, p := range auth.Catalog {
		desc := "Allows " + strings.ToLower(string(p))
		if err := store.UpsertPermission(ctx, domain.Permission{Name: string(p), Description: desc}); err != nil {
			return res, fmt.Errorf("seed permission %s: %w", p, err)
		}
		res.Permissions++
	}

	all := make([]string, 0, len(auth.Catalog))
	for _, p := range auth.Catalog {
		all = append(all, string(p))
	}
	admin, created, err := ensureRole(ctx, store, auth.SuperAdminRole, all, now)
	if err != nil {
		return res, err
	}
	if created {
		res.RolesCreated = append(res.RolesCreated, admin.Name)
	}
	names := make([]string, 0, len(cfg.Seed.Roles))
	for name := range cfg.Seed.Roles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r, created, err := ensureRole(ctx, store, name, cfg.Seed.Roles[name], now)
		if err != nil {
			return res, err
		}
		if created {
			res.RolesCreated = append(res.RolesCreated, r.Name)
		}
	}

	email := strings.TrimSpace(cfg.Seed.AdminEmail)
	if email == "" {
		return res, nil
	}
	u, err := store.GetUserByEmail(ctx, email)
	if err == nil {
		res.AdminID = u.ID
		return res, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return res, fmt.Errorf("lookup admin: %w", err)
	}
	if adminPassword == "" {
		adminPassword, err = randomPassword()
		if err != nil {
			return res, err
		}
		res.AdminPassword = adminPassword
	}
	hash, err := engine.HashPassword(adminPassword)
	if err != nil {
		return res, err
	}
	name := cfg.Seed.AdminName
	if name == "" {
		name = "Administrator"
	}
	u = domain.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		Status:       domain.StatusActive,
		RoleID:       admin.ID,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := store.InsertUser(ctx, u); err != nil {
		return res, fmt.Errorf("create admin: %w", err)
	}
	res.AdminID = u.ID
	res.AdminCreated = true
	return res, nil
}

func ensureRole(ctx context.Context, store repo.Directory, name string, perms []string, now time.Time) (domain.Role, bool, error) {
	r, err := store.GetRoleByName(ctx, name)
	if err == nil {
		return r, false, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Role{}, false, fmt.Errorf("lookup role %s: %w", name, err)
	}
	sorted := append([]string(nil), perms...)
	sort.Strings(sorted)
	r = domain.Role{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(name),
		Status:      domain.StatusActive,
		Permissions: sorted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := store.InsertRole(ctx, r); err != nil {
		return domain.Role{}, false, fmt.Errorf("create role %s: %w", name, err)
	}
	return r, true, nil
}

func randomPassword() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
