package mongorepo

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"taskline/internal/domain"
	"taskline/internal/repo"
)

type userDoc struct {
	ID           string    `bson:"_id"`
	Name         string    `bson:"name"`
	Email        string    `bson:"email"`
	EmailKey     string    `bson:"emailKey"`
	Status       string    `bson:"status"`
	Role         string    `bson:"role"`
	PasswordHash string    `bson:"passwordHash,omitempty"`
	CreatedAt    time.Time `bson:"createdAt"`
	UpdatedAt    time.Time `bson:"updatedAt"`
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func toUserDoc(u domain.User) userDoc {
	return userDoc{
		ID: u.ID, Name: u.Name, Email: strings.TrimSpace(u.Email), EmailKey: emailKey(u.Email),
		Status: u.Status, Role: u.RoleID, PasswordHash: u.PasswordHash,
		CreatedAt: utc(u.CreatedAt), UpdatedAt: utc(u.UpdatedAt),
	}
}

func (d userDoc) user() domain.User {
	return domain.User{
		ID: d.ID, Name: d.Name, Email: d.Email, Status: d.Status, RoleID: d.Role,
		PasswordHash: d.PasswordHash, CreatedAt: utc(d.CreatedAt), UpdatedAt: utc(d.UpdatedAt),
	}
}

func (s *Store) InsertUser(ctx context.Context, u domain.User) error {
	_, err := s.c(colUsers).InsertOne(ctx, toUserDoc(u))
	return duplicate(err)
}

func (s *Store) findUser(ctx context.Context, filter bson.M) (domain.User, error) {
	var d userDoc
	if err := s.c(colUsers).FindOne(ctx, filter).Decode(&d); err != nil {
		return domain.User{}, notFound(err)
	}
	return d.user(), nil
}

func (s *Store) GetUser(ctx context.Context, id string) (domain.User, error) {
	return s.findUser(ctx, bson.M{"_id": id})
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return s.findUser(ctx, bson.M{"emailKey": emailKey(email)})
}

func (s *Store) UpdateUser(ctx context.Context, u domain.User) error {
	d := toUserDoc(u)
	res, err := s.c(colUsers).UpdateOne(ctx, bson.M{"_id": u.ID}, bson.M{"$set": bson.M{
		"name": d.Name, "email": d.Email, "emailKey": d.EmailKey, "status": d.Status,
		"role": d.Role, "passwordHash": d.PasswordHash, "updatedAt": d.UpdatedAt,
	}})
	if err != nil {
		return duplicate(err)
	}
	if res.MatchedCount == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// DeleteUser removes the user, its API keys and its team memberships.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.c(colUsers).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return repo.ErrNotFound
	}
	if _, err := s.c(colAPIKeys).DeleteMany(ctx, bson.M{"userId": id}); err != nil {
		return err
	}
	_, err = s.c(colProjects).UpdateMany(ctx, bson.M{"team": id}, bson.M{"$pull": bson.M{"team": id}})
	return err
}

func userFilter(f repo.UserFilter) bson.M {
	q := bson.M{}
	if f.Search != "" {
		rx := contains(f.Search)
		q["$or"] = []bson.M{{"name": rx}, {"email": rx}}
	}
	if f.RoleID != "" {
		q["role"] = f.RoleID
	}
	return q
}

func (s *Store) FindUsers(ctx context.Context, f repo.UserFilter) ([]domain.User, error) {
	cur, err := s.c(colUsers).Find(ctx, userFilter(f), page(f.Offset, f.Limit, newestFirst))
	if err != nil {
		return nil, err
	}
	docs, err := decodeAll[userDoc](ctx, cur)
	if err != nil {
		return nil, err
	}
	out := make([]domain.User, len(docs))
	for i, d := range docs {
		out[i] = d.user()
	}
	return out, nil
}

func (s *Store) CountUsers(ctx context.Context, f repo.UserFilter) (int, error) {
	n, err := s.c(colUsers).CountDocuments(ctx, userFilter(f))
	return int(n), err
}

type roleDoc struct {
	ID          string    `bson:"_id"`
	Name        string    `bson:"name"`
	NameKey     string    `bson:"nameKey"`
	Status      string    `bson:"status"`
	Permissions []string  `bson:"permissions"`
	CreatedAt   time.Time `bson:"createdAt"`
	UpdatedAt   time.Time `bson:"updatedAt"`
}

func sortedPermissions(perms []string) []string {
	out := append([]string{}, perms...)
	sort.Strings(out)
	return out
}

func (d roleDoc) role() domain.Role {
	return domain.Role{
		ID: d.ID, Name: d.Name, Status: d.Status, Permissions: sortedPermissions(d.Permissions),
		CreatedAt: utc(d.CreatedAt), UpdatedAt: utc(d.UpdatedAt),
	}
}

func (s *Store) InsertRole(ctx context.Context, r domain.Role) error {
	_, err := s.c(colRoles).InsertOne(ctx, roleDoc{
		ID: r.ID, Name: strings.TrimSpace(r.Name), NameKey: domain.RoleKey(r.Name), Status: r.Status,
		Permissions: sortedPermissions(r.Permissions), CreatedAt: utc(r.CreatedAt), UpdatedAt: utc(r.UpdatedAt),
	})
	return duplicate(err)
}

func (s *Store) findRole(ctx context.Context, filter bson.M) (domain.Role, error) {
	var d roleDoc
	if err := s.c(colRoles).FindOne(ctx, filter).Decode(&d); err != nil {
		return domain.Role{}, notFound(err)
	}
	return d.role(), nil
}

func (s *Store) GetRole(ctx context.Context, id string) (domain.Role, error) {
	return s.findRole(ctx, bson.M{"_id": id})
}

func (s *Store) GetRoleByName(ctx context.Context, name string) (domain.Role, error) {
	return s.findRole(ctx, bson.M{"nameKey": domain.RoleKey(name)})
}

func (s *Store) UpdateRole(ctx context.Context, r domain.Role) error {
	res, err := s.c(colRoles).UpdateOne(ctx, bson.M{"_id": r.ID}, bson.M{"$set": bson.M{
		"name": strings.TrimSpace(r.Name), "nameKey": domain.RoleKey(r.Name), "status": r.Status,
		"permissions": sortedPermissions(r.Permissions), "updatedAt": utc(r.UpdatedAt),
	}})
	if err != nil {
		return duplicate(err)
	}
	if res.MatchedCount == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteRole(ctx context.Context, id string) error {
	res, err := s.c(colRoles).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *Store) ListRoles(ctx context.Context) ([]domain.Role, error) {
	cur, err := s.c(colRoles).Find(ctx, bson.M{}, page(0, 0, bson.D{{Key: "nameKey", Value: 1}}))
	if err != nil {
		return nil, err
	}
	docs, err := decodeAll[roleDoc](ctx, cur)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Role, len(docs))
	for i, d := range docs {
		out[i] = d.role()
	}
	return out, nil
}

type permissionDoc struct {
	Name        string `bson:"_id"`
	Description string `bson:"description"`
	Seq         int64  `bson:"seq"`
}

// UpsertPermission keeps the first-seen catalog order via a sequence number.
func (s *Store) UpsertPermission(ctx context.Context, p domain.Permission) error {
	res, err := s.c(colPermissions).UpdateOne(ctx, bson.M{"_id": p.Name},
		bson.M{"$set": bson.M{"description": p.Description}})
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}
	seq, err := s.nextSeq(ctx, colPermissions)
	if err != nil {
		return err
	}
	_, err = s.c(colPermissions).UpdateOne(ctx, bson.M{"_id": p.Name},
		bson.M{"$set": bson.M{"description": p.Description}, "$setOnInsert": bson.M{"seq": seq}},
		options.Update().SetUpsert(true))
	return err
}

func (s *Store) InsertPermission(ctx context.Context, p domain.Permission) error {
	seq, err := s.nextSeq(ctx, colPermissions)
	if err != nil {
		return err
	}
	_, err = s.c(colPermissions).InsertOne(ctx, permissionDoc{Name: p.Name, Description: p.Description, Seq: seq})
	return duplicate(err)
}

// UpdatePermission rewrites the permission stored as name. The name is the
// document key, so a rename inserts the new document first, moves role grants
// over, then drops the old one.
func (s *Store) UpdatePermission(ctx context.Context, name string, p domain.Permission) error {
	if p.Name == name {
		res, err := s.c(colPermissions).UpdateOne(ctx, bson.M{"_id": name}, bson.M{"$set": bson.M{"description": p.Description}})
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return repo.ErrNotFound
		}
		return nil
	}
	var old permissionDoc
	if err := s.c(colPermissions).FindOne(ctx, bson.M{"_id": name}).Decode(&old); err != nil {
		return notFound(err)
	}
	if _, err := s.c(colPermissions).InsertOne(ctx, permissionDoc{Name: p.Name, Description: p.Description, Seq: old.Seq}); err != nil {
		return duplicate(err)
	}
	if _, err := s.c(colRoles).UpdateMany(ctx, bson.M{"permissions": name}, bson.M{"$set": bson.M{"permissions.$": p.Name}}); err != nil {
		return err
	}
	_, err := s.c(colPermissions).DeleteOne(ctx, bson.M{"_id": name})
	return err
}

func (s *Store) DeletePermission(ctx context.Context, name string) error {
	res, err := s.c(colPermissions).DeleteOne(ctx, bson.M{"_id": name})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *Store) ListPermissions(ctx context.Context) ([]domain.Permission, error) {
	cur, err := s.c(colPermissions).Find(ctx, bson.M{}, page(0, 0, bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, err
	}
	docs, err := decodeAll[permissionDoc](ctx, cur)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Permission, len(docs))
	for i, d := range docs {
		out[i] = domain.Permission{Name: d.Name, Description: d.Description}
	}
	return out, nil
}

type apiKeyDoc struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"userId"`
	Name      string    `bson:"name,omitempty"`
	KeyHash   string    `bson:"keyHash"`
	CreatedAt time.Time `bson:"createdAt"`
}

func (s *Store) InsertAPIKey(ctx context.Context, k domain.APIKey) error {
	_, err := s.c(colAPIKeys).InsertOne(ctx, apiKeyDoc{
		ID: k.ID, UserID: k.UserID, Name: k.Name, KeyHash: k.KeyHash, CreatedAt: utc(k.CreatedAt),
	})
	return duplicate(err)
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error) {
	var d apiKeyDoc
	if err := s.c(colAPIKeys).FindOne(ctx, bson.M{"keyHash": hash}).Decode(&d); err != nil {
		return domain.APIKey{}, notFound(err)
	}
	return domain.APIKey{ID: d.ID, UserID: d.UserID, Name: d.Name, KeyHash: d.KeyHash, CreatedAt: utc(d.CreatedAt)}, nil
}
