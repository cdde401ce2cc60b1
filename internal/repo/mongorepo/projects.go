package mongorepo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"taskline/internal/domain"
	"taskline/internal/repo"
)

type projectDoc struct {
	ID          string     `bson:"_id"`
	Name        string     `bson:"name"`
	Description string     `bson:"description,omitempty"`
	Deadline    *time.Time `bson:"deadline,omitempty"`
	Status      string     `bson:"status"`
	Team        []string   `bson:"team"`
	Tasks       []string   `bson:"tasks"`
	CreatedBy   string     `bson:"createdBy"`
	CreatedAt   time.Time  `bson:"createdAt"`
	UpdatedAt   time.Time  `bson:"updatedAt"`
}

func (d projectDoc) project() domain.Project {
	return domain.Project{
		ID: d.ID, Name: d.Name, Description: d.Description, Deadline: utcPtr(d.Deadline),
		Status: d.Status, Team: nonNil(d.Team), Tasks: nonNil(d.Tasks),
		CreatedBy: d.CreatedBy, CreatedAt: utc(d.CreatedAt), UpdatedAt: utc(d.UpdatedAt),
	}
}

func (s *Store) InsertProject(ctx context.Context, p domain.Project) error {
	_, err := s.c(colProjects).InsertOne(ctx, projectDoc{
		ID: p.ID, Name: p.Name, Description: p.Description, Deadline: utcPtr(p.Deadline),
		Status: p.Status, Team: nonNil(p.Team), Tasks: nonNil(p.Tasks),
		CreatedBy: p.CreatedBy, CreatedAt: utc(p.CreatedAt), UpdatedAt: utc(p.UpdatedAt),
	})
	return duplicate(err)
}

func (s *Store) GetProject(ctx context.Context, id string) (domain.Project, error) {
	var d projectDoc
	if err := s.c(colProjects).FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		return domain.Project{}, notFound(err)
	}
	return d.project(), nil
}

// UpdateProject leaves the tasks list alone; it belongs to the consistency protocol.
func (s *Store) UpdateProject(ctx context.Context, p domain.Project) error {
	set := bson.M{
		"name": p.Name, "description": p.Description, "status": p.Status,
		"team": nonNil(p.Team), "updatedAt": utc(p.UpdatedAt),
	}
	update := bson.M{"$set": set}
	if p.Deadline != nil {
		set["deadline"] = utcPtr(p.Deadline)
	} else {
		update["$unset"] = bson.M{"deadline": ""}
	}
	res, err := s.c(colProjects).UpdateOne(ctx, bson.M{"_id": p.ID}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteProject(ctx context.Context, id string) error {
	res, err := s.c(colProjects).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func projectFilter(f repo.ProjectFilter) bson.M {
	q := bson.M{}
	if f.Search != "" {
		rx := contains(f.Search)
		q["$or"] = []bson.M{{"name": rx}, {"description": rx}}
	}
	if f.Status != "" {
		q["status"] = f.Status
	}
	if f.MemberID != "" {
		q["team"] = f.MemberID
	}
	return q
}

func (s *Store) FindProjects(ctx context.Context, f repo.ProjectFilter) ([]domain.Project, error) {
	cur, err := s.c(colProjects).Find(ctx, projectFilter(f), page(f.Offset, f.Limit, newestFirst))
	if err != nil {
		return nil, err
	}
	docs, err := decodeAll[projectDoc](ctx, cur)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Project, len(docs))
	for i, d := range docs {
		out[i] = d.project()
	}
	return out, nil
}

func (s *Store) CountProjects(ctx context.Context, f repo.ProjectFilter) (int, error) {
	n, err := s.c(colProjects).CountDocuments(ctx, projectFilter(f))
	return int(n), err
}

func (s *Store) ProjectIDsForMember(ctx context.Context, userID string) ([]string, error) {
	return s.ids(ctx, colProjects, bson.M{"team": userID}, bson.D{{Key: "_id", Value: 1}})
}

func (s *Store) AddProjectTask(ctx context.Context, projectID, taskID string) error {
	res, err := s.c(colProjects).UpdateOne(ctx, bson.M{"_id": projectID}, bson.M{"$addToSet": bson.M{"tasks": taskID}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *Store) RemoveProjectTask(ctx context.Context, projectID, taskID string) error {
	_, err := s.c(colProjects).UpdateOne(ctx, bson.M{"_id": projectID}, bson.M{"$pull": bson.M{"tasks": taskID}})
	return err
}

func (s *Store) ProjectsListingTask(ctx context.Context, taskID string) ([]string, error) {
	return s.ids(ctx, colProjects, bson.M{"tasks": taskID}, bson.D{{Key: "_id", Value: 1}})
}
