package engine

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"taskline/internal/domain"
	"taskline/internal/engine/auth"
	"taskline/internal/repo"
)

// ActorFor assembles the per-request snapshot of a user. A missing role
// yields a nil Role so resolution fails closed later.
func (e Engine) ActorFor(ctx context.Context, userID string) (domain.Actor, error) {
	u, err := e.Store.GetUser(ctx, userID)
	if err != nil {
		return domain.Actor{}, storeErr("get user", "user", userID, err)
	}
	return e.actorOf(ctx, u)
}

func (e Engine) actorOf(ctx context.Context, u domain.User) (domain.Actor, error) {
	a := domain.Actor{ID: u.ID, Name: u.Name, Email: u.Email, Status: u.Status}
	if u.RoleID == "" {
		return a, nil
	}
	role, err := e.Store.GetRole(ctx, u.RoleID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
	case err != nil:
		return domain.Actor{}, storeErr("get role", "role", u.RoleID, err)
	default:
		a.Role = &role
	}
	return a, nil
}

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Login checks credentials and returns the actor snapshot of an active user.
func (e Engine) Login(ctx context.Context, email, password string) (domain.Actor, error) {
	u, err := e.Store.GetUserByEmail(ctx, email)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Actor{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.Actor{}, storeErr("get user", "user", email, err)
	}
	if u.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return domain.Actor{}, ErrInvalidCredentials
	}
	a, err := e.actorOf(ctx, u)
	if err != nil {
		return domain.Actor{}, err
	}
	if _, err := auth.ResolveActive(a); err != nil {
		return domain.Actor{}, err
	}
	return a, nil
}

// Me returns the resolved permissions of the actor.
func (e Engine) Me(actor domain.Actor) (auth.Subject, error) {
	return e.subject(actor)
}

func (e Engine) ListPermissions(ctx context.Context, actor domain.Actor) ([]domain.Permission, error) {
	if _, err := e.subject(actor); err != nil {
		return nil, err
	}
	perms, err := e.Store.ListPermissions(ctx)
	if err != nil {
		return nil, storeErr("list permissions", "permission", "", err)
	}
	return perms, nil
}

type RoleOptions struct {
	Name        string
	Status      string
	Permissions []string
}

type RoleUpdateOptions struct {
	Name        *string
	Status      *string
	Permissions *[]string
}

func validStatus(s string) bool {
	return s == domain.StatusActive || s == domain.StatusInactive
}

// checkPermissions accepts catalog tokens and any permission created at runtime.
func (e Engine) checkPermissions(ctx context.Context, perms []string) ([]string, error) {
	out := dedupe(perms)
	var stored map[string]bool
	for _, p := range out {
		if auth.Known(p) {
			continue
		}
		if stored == nil {
			list, err := e.Store.ListPermissions(ctx)
			if err != nil {
				return nil, storeErr("list permissions", "permission", "", err)
			}
			stored = make(map[string]bool, len(list))
			for _, sp := range list {
				stored[sp.Name] = true
			}
		}
		if !stored[p] {
			return nil, invalid("unknown permission %q", p)
		}
	}
	sort.Strings(out)
	return out, nil
}

type PermissionUpdateOptions struct {
	Name        *string
	Description *string
}

func (e Engine) CreatePermission(ctx context.Context, actor domain.Actor, name, description string) (domain.Permission, error) {
	s, err := e.subject(actor)
	if err != nil {
		return domain.Permission{}, err
	}
	if err := e.Policy.Require(s, auth.CreatePermission); err != nil {
		return domain.Permission{}, err
	}
	p := domain.Permission{Name: strings.TrimSpace(name), Description: strings.TrimSpace(description)}
	if p.Name == "" {
		return domain.Permission{}, invalid("permission name is required")
	}
	if auth.Known(p.Name) {
		return domain.Permission{}, conflict("permission %q already exists", p.Name)
	}
	if err := e.Store.InsertPermission(ctx, p); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return domain.Permission{}, conflict("permission %q already exists", p.Name)
		}
		return domain.Permission{}, storeErr("insert permission", "permission", p.Name, err)
	}
	return p, nil
}

// UpdatePermission edits a permission. Catalog permissions keep their name
// because access checks refer to them.
func (e Engine) UpdatePermission(ctx context.Context, actor domain.Actor, name string, opts PermissionUpdateOptions) (domain.Permission, error) {
	s, err := e.subject(actor)
	if err != nil {
		return domain.Permission{}, err
	}
	if err := e.Policy.Require(s, auth.EditPermission); err != nil {
		return domain.Permission{}, err
	}
	current, err := e.findPermission(ctx, name)
	if err != nil {
		return domain.Permission{}, err
	}
	p := current
	if opts.Name != nil {
		p.Name = strings.TrimSpace(*opts.Name)
		if p.Name == "" {
			return domain.Permission{}, invalid("permission name must not be blank")
		}
		if p.Name != current.Name && (auth.Known(current.Name) || auth.Known(p.Name)) {
			return domain.Permission{}, conflict("permission %q is built in", current.Name)
		}
	}
	if opts.Description != nil {
		p.Description = strings.TrimSpace(*opts.Description)
	}
	if err := e.Store.UpdatePermission(ctx, current.Name, p); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return domain.Permission{}, conflict("permission %q already exists", p.Name)
		}
		return domain.Permission{}, storeErr("update permission", "permission", name, err)
	}
	return p, nil
}

// DeletePermission removes a runtime permission no role holds.
func (e Engine) DeletePermission(ctx context.Context, actor domain.Actor, name string) error {
	s, err := e.subject(actor)
	if err != nil {
		return err
	}
	if err := e.Policy.Require(s, auth.DeletePermission); err != nil {
		return err
	}
	p, err := e.findPermission(ctx, name)
	if err != nil {
		return err
	}
	if auth.Known(p.Name) {
		return conflict("permission %q is built in", p.Name)
	}
	roles, err := e.Store.ListRoles(ctx)
	if err != nil {
		return storeErr("list roles", "role", "", err)
	}
	var holders []string
	for _, r := range roles {
		for _, granted := range r.Permissions {
			if granted == p.Name {
				holders = append(holders, r.Name)
				break
			}
		}
	}
	if len(holders) > 0 {
		return conflict("permission %q is granted to %s", p.Name, strings.Join(holders, ", "))
	}
	return storeErr("delete permission", "permission", name, e.Store.DeletePermission(ctx, p.Name))
}

func (e Engine) findPermission(ctx context.Context, name string) (domain.Permission, error) {
	list, err := e.Store.ListPermissions(ctx)
	if err != nil {
		return domain.Permission{}, storeErr("list permissions", "permission", "", err)
	}
	name = strings.TrimSpace(name)
	for _, p := range list {
		if p.Name == name {
			return p, nil
		}
	}
	return domain.Permission{}, &NotFoundError{Kind: "permission", ID: name}
}

func (e Engine) guardRoleName(s auth.Subject, name string) error {
	if !e.Policy.CanManageRoleNamed(s, name) {
		return auth.ForbiddenError{Reason: auth.ReasonSuperAdmin}
	}
	return nil
}

func (e Engine) CreateRole(ctx context.Context, actor domain.Actor, opts RoleOptions) (domain.Role, error) {
	s, err := e.subject(actor)
	if err != nil {
		return domain.Role{}, err
	}
	if err := e.Policy.Require(s, auth.CreateRole); err != nil {
		return domain.Role{}, err
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return domain.Role{}, invalid("role name is required")
	}
	if err := e.guardRoleName(s, name); err != nil {
		return domain.Role{}, err
	}
	status := opts.Status
	if status == "" {
		status = domain.StatusActive
	}
	if !validStatus(status) {
		return domain.Role{}, invalid("unknown role status %q", status)
	}
	perms, err := e.checkPermissions(ctx, opts.Permissions)
	if err != nil {
		return domain.Role{}, err
	}
	now := e.now()
	r := domain.Role{ID: uuid.NewString(), Name: name, Status: status, Permissions: perms, CreatedAt: now, UpdatedAt: now}
	if err := e.Store.InsertRole(ctx, r); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return domain.Role{}, conflict("role %q already exists", name)
		}
		return domain.Role{}, storeErr("insert role", "role", r.ID, err)
	}
	return r, nil
}

func (e Engine) UpdateRole(ctx context.Context, actor domain.Actor, id string, opts RoleUpdateOptions) (domain.Role, error) {
	s, err := e.subject(actor)
	if err != nil {
		return domain.Role{}, err
	}
	if err := e.Policy.Require(s, auth.EditRole); err != nil {
		return domain.Role{}, err
	}
	r, err := e.Store.GetRole(ctx, id)
	if err != nil {
		return domain.Role{}, storeErr("get role", "role", id, err)
	}
	if err := e.guardRoleName(s, r.Name); err != nil {
		return domain.Role{}, err
	}
	if opts.Name != nil {
		name := strings.TrimSpace(*opts.Name)
		if name == "" {
			return domain.Role{}, invalid("role name must not be blank")
		}
		if err := e.guardRoleName(s, name); err != nil {
			return domain.Role{}, err
		}
		r.Name = name
	}
	if opts.Status != nil {
		if !validStatus(*opts.Status) {
			return domain.Role{}, invalid("unknown role status %q", *opts.Status)
		}
		r.Status = *opts.Status
	}
	if opts.Permissions != nil {
		if r.Permissions, err = e.checkPermissions(ctx, *opts.Permissions); err != nil {
			return domain.Role{}, err
		}
	}
	r.UpdatedAt = e.now()
	if err := e.Store.UpdateRole(ctx, r); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return domain.Role{}, conflict("role %q already exists", r.Name)
		}
		return domain.Role{}, storeErr("update role", "role", id, err)
	}
	return r, nil
}

func (e Engine) DeleteRole(ctx context.Context, actor domain.Actor, id string) error {
	s, err := e.subject(actor)
	if err != nil {
		return err
	}
	if err := e.Policy.Require(s, auth.DeleteRole); err != nil {
		return err
	}
	r, err := e.Store.GetRole(ctx, id)
	if err != nil {
		return storeErr("get role", "role", id, err)
	}
	if err := e.guardRoleName(s, r.Name); err != nil {
		return err
	}
	holders, err := e.Store.CountUsers(ctx, repo.UserFilter{RoleID: id})
	if err != nil {
		return storeErr("count users", "user", "", err)
	}
	if holders > 0 {
		return conflict("role %q is held by %d users", r.Name, holders)
	}
	return storeErr("delete role", "role", id, e.Store.DeleteRole(ctx, id))
}

func (e Engine) ListRoles(ctx context.Context, actor domain.Actor) ([]domain.Role, error) {
	if _, err := e.subject(actor); err != nil {
		return nil, err
	}
	roles, err := e.Store.ListRoles(ctx)
	if err != nil {
		return nil, storeErr("list roles", "role", "", err)
	}
	return roles, nil
}

type UserCreateOptions struct {
	Name     string
	Email    string
	Password string
	RoleID   string
	Status   string
}

type UserUpdateOptions struct {
	Name     *string
	Status   *string
	RoleID   *string
	Password *string
}

type UserQuery struct {
	Page   int
	Limit  int
	Search string
	RoleID string
}

type UserPage struct {
	Items       []domain.User `json:"items"`
	TotalItems  int           `json:"totalItems"`
	CurrentPage int           `json:"currentPage"`
	TotalPages  int           `json:"totalPages"`
}

// grantableRole loads roleID and applies the Super Admin grant guard.
func (e Engine) grantableRole(ctx context.Context, s auth.Subject, roleID string) (domain.Role, error) {
	r, err := e.Store.GetRole(ctx, roleID)
	if err != nil {
		return domain.Role{}, storeErr("get role", "role", roleID, err)
	}
	if auth.IsSuperAdminName(r.Name) && !s.SuperAdmin {
		return domain.Role{}, auth.ForbiddenError{Reason: auth.ReasonSuperAdmin}
	}
	return r, nil
}

func (e Engine) CreateUser(ctx context.Context, actor domain.Actor, opts UserCreateOptions) (domain.User, error) {
	s, err := e.subject(actor)
	if err != nil {
		return domain.User{}, err
	}
	if err := e.Policy.Require(s, auth.CreateUser); err != nil {
		return domain.User{}, err
	}
	name, email := strings.TrimSpace(opts.Name), strings.TrimSpace(opts.Email)
	if name == "" || email == "" || !strings.Contains(email, "@") {
		return domain.User{}, invalid("name and a valid email are required")
	}
	if opts.RoleID == "" {
		return domain.User{}, invalid("role is required")
	}
	if _, err := e.grantableRole(ctx, s, opts.RoleID); err != nil {
		return domain.User{}, err
	}
	status := opts.Status
	if status == "" {
		status = domain.StatusActive
	}
	if !validStatus(status) {
		return domain.User{}, invalid("unknown user status %q", status)
	}
	now := e.now()
	u := domain.User{ID: uuid.NewString(), Name: name, Email: email, Status: status, RoleID: opts.RoleID, CreatedAt: now, UpdatedAt: now}
	if opts.Password != "" {
		if u.PasswordHash, err = HashPassword(opts.Password); err != nil {
			return domain.User{}, invalid("password: %v", err)
		}
	}
	if err := e.Store.InsertUser(ctx, u); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return domain.User{}, conflict("email %s already registered", email)
		}
		return domain.User{}, storeErr("insert user", "user", u.ID, err)
	}
	return u, nil
}

func (e Engine) UpdateUser(ctx context.Context, actor domain.Actor, id string, opts UserUpdateOptions) (domain.User, error) {
	s, err := e.subject(actor)
	if err != nil {
		return domain.User{}, err
	}
	if err := e.Policy.Require(s, auth.EditUser); err != nil {
		return domain.User{}, err
	}
	u, err := e.Store.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, storeErr("get user", "user", id, err)
	}
	if u.RoleID != "" && !s.SuperAdmin {
		current, err := e.Store.GetRole(ctx, u.RoleID)
		if err == nil && auth.IsSuperAdminName(current.Name) {
			return domain.User{}, auth.ForbiddenError{Reason: auth.ReasonSuperAdmin}
		}
	}
	if opts.Name != nil {
		u.Name = strings.TrimSpace(*opts.Name)
		if u.Name == "" {
			return domain.User{}, invalid("name must not be blank")
		}
	}
	if opts.Status != nil {
		if !validStatus(*opts.Status) {
			return domain.User{}, invalid("unknown user status %q", *opts.Status)
		}
		u.Status = *opts.Status
	}
	if opts.RoleID != nil && *opts.RoleID != u.RoleID {
		if _, err := e.grantableRole(ctx, s, *opts.RoleID); err != nil {
			return domain.User{}, err
		}
		u.RoleID = *opts.RoleID
	}
	if opts.Password != nil {
		if u.PasswordHash, err = HashPassword(*opts.Password); err != nil {
			return domain.User{}, invalid("password: %v", err)
		}
	}
	u.UpdatedAt = e.now()
	if err := e.Store.UpdateUser(ctx, u); err != nil {
		return domain.User{}, storeErr("update user", "user", id, err)
	}
	return u, nil
}

// DeleteUser removes an account. Only a super admin may delete a Super Admin
// holder, nobody may delete themselves, and the user's tasks become unassigned.
func (e Engine) DeleteUser(ctx context.Context, actor domain.Actor, id string) error {
	s, err := e.subject(actor)
	if err != nil {
		return err
	}
	if err := e.Policy.Require(s, auth.DeleteUser); err != nil {
		return err
	}
	target, err := e.ActorFor(ctx, id)
	if err != nil {
		return err
	}
	if auth.IsSuperAdminName(target.RoleName()) && !s.SuperAdmin {
		return auth.ForbiddenError{Reason: auth.ReasonSuperAdmin}
	}
	if target.ID == s.ActorID {
		return conflict("users cannot delete their own account")
	}
	if err := e.Store.DeleteUser(ctx, id); err != nil {
		return storeErr("delete user", "user", id, err)
	}
	n, err := e.Store.UnassignTasks(ctx, id, e.now())
	entry := e.log().WithFields(logrus.Fields{"user_id": id, "actor_id": s.ActorID, "unassigned": n})
	if err != nil {
		entry.WithError(err).Warn("deleted user still holds task assignments")
	} else {
		entry.Info("user deleted")
	}
	return nil
}

// ListUsers is open to user administrators and to task managers picking assignees.
func (e Engine) ListUsers(ctx context.Context, actor domain.Actor, q UserQuery) (UserPage, error) {
	s, err := e.subject(actor)
	if err != nil {
		return UserPage{}, err
	}
	if !s.SuperAdmin && !s.Permissions.HasAny(auth.CreateUser, auth.EditUser, auth.DeleteUser, auth.CreateTask, auth.EditTask) {
		return UserPage{}, auth.ForbiddenError{Permission: string(auth.EditUser), Reason: auth.ReasonPermission}
	}
	page, limit, offset := e.pageBounds(q.Page, q.Limit)
	f := repo.UserFilter{Search: strings.TrimSpace(q.Search), RoleID: q.RoleID}
	total, err := e.Store.CountUsers(ctx, f)
	if err != nil {
		return UserPage{}, storeErr("count users", "user", "", err)
	}
	f.Offset, f.Limit = offset, limit
	items, err := e.Store.FindUsers(ctx, f)
	if err != nil {
		return UserPage{}, storeErr("find users", "user", "", err)
	}
	return UserPage{Items: items, TotalItems: total, CurrentPage: page, TotalPages: totalPages(total, limit)}, nil
}
