package mongorepo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"taskline/internal/domain"
	"taskline/internal/repo"
)

type taskDoc struct {
	ID               string     `bson:"_id"`
	Title            string     `bson:"title"`
	Description      string     `bson:"description,omitempty"`
	TaskStatus       string     `bson:"taskStatus"`
	CompletionStatus string     `bson:"completionStatus"`
	StartDate        *time.Time `bson:"startDate,omitempty"`
	EndDate          *time.Time `bson:"endDate,omitempty"`
	Notes            string     `bson:"notes,omitempty"`
	Images           []string   `bson:"images"`
	Videos           []string   `bson:"videos"`
	Attachments      []string   `bson:"attachments"`
	IsActive         bool       `bson:"isActive"`
	Project          string     `bson:"project"`
	AssignedTo       string     `bson:"assignedTo"`
	CreatedBy        string     `bson:"createdBy"`
	CreatedAt        time.Time  `bson:"createdAt"`
	UpdatedAt        time.Time  `bson:"updatedAt"`
	Revision         int64      `bson:"revision"`
}

func toTaskDoc(t domain.Task) taskDoc {
	return taskDoc{
		ID: t.ID, Title: t.Title, Description: t.Description,
		TaskStatus: t.TaskStatus, CompletionStatus: t.CompletionStatus,
		StartDate: utcPtr(t.StartDate), EndDate: utcPtr(t.EndDate), Notes: t.Notes,
		Images: nonNil(t.Images), Videos: nonNil(t.Videos), Attachments: nonNil(t.Attachments),
		IsActive: t.IsActive, Project: t.ProjectID, AssignedTo: t.AssignedTo,
		CreatedBy: t.CreatedBy, CreatedAt: utc(t.CreatedAt), UpdatedAt: utc(t.UpdatedAt), Revision: t.Revision,
	}
}

func (d taskDoc) task() domain.Task {
	return domain.Task{
		ID: d.ID, Title: d.Title, Description: d.Description,
		TaskStatus: d.TaskStatus, CompletionStatus: d.CompletionStatus,
		StartDate: utcPtr(d.StartDate), EndDate: utcPtr(d.EndDate), Notes: d.Notes,
		Images: nonNil(d.Images), Videos: nonNil(d.Videos), Attachments: nonNil(d.Attachments),
		IsActive: d.IsActive, ProjectID: d.Project, AssignedTo: d.AssignedTo,
		CreatedBy: d.CreatedBy, CreatedAt: utc(d.CreatedAt), UpdatedAt: utc(d.UpdatedAt), Revision: d.Revision,
	}
}

func (s *Store) InsertTask(ctx context.Context, t domain.Task) error {
	_, err := s.c(colTasks).InsertOne(ctx, toTaskDoc(t))
	return duplicate(err)
}

func (s *Store) GetTask(ctx context.Context, id string) (domain.Task, error) {
	var d taskDoc
	if err := s.c(colTasks).FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		return domain.Task{}, notFound(err)
	}
	return d.task(), nil
}

// UpdateTask rewrites every mutable field while the stored revision still
// matches. createdBy and createdAt are never touched.
func (s *Store) UpdateTask(ctx context.Context, t domain.Task) error {
	d := toTaskDoc(t)
	set := bson.M{
		"title": d.Title, "description": d.Description,
		"taskStatus": d.TaskStatus, "completionStatus": d.CompletionStatus,
		"notes": d.Notes, "images": d.Images, "videos": d.Videos, "attachments": d.Attachments,
		"isActive": d.IsActive, "project": d.Project, "assignedTo": d.AssignedTo, "updatedAt": d.UpdatedAt,
	}
	update := bson.M{"$set": set, "$inc": bson.M{"revision": 1}}
	unset := bson.M{}
	if d.StartDate != nil {
		set["startDate"] = d.StartDate
	} else {
		unset["startDate"] = ""
	}
	if d.EndDate != nil {
		set["endDate"] = d.EndDate
	} else {
		unset["endDate"] = ""
	}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	filter := bson.M{"_id": t.ID, "revision": t.Revision}
	if t.Revision == 0 {
		// documents written before revisions existed carry no field
		filter["revision"] = bson.M{"$in": bson.A{int64(0), nil}}
	}
	res, err := s.c(colTasks).UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}
	n, err := s.c(colTasks).CountDocuments(ctx, bson.M{"_id": t.ID})
	if err != nil {
		return err
	}
	if n == 0 {
		return repo.ErrNotFound
	}
	return repo.ErrStale
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.c(colTasks).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func taskFilter(f repo.TaskFilter) bson.M {
	q := bson.M{}
	var and []bson.M
	if !f.IncludeInactive {
		q["isActive"] = true
	}
	if f.Search != "" {
		rx := contains(f.Search)
		and = append(and, bson.M{"$or": []bson.M{{"title": rx}, {"description": rx}}})
	}
	if f.TaskStatus != "" {
		q["taskStatus"] = f.TaskStatus
	}
	if f.CompletionStatus != "" {
		q["completionStatus"] = f.CompletionStatus
	}
	if f.ProjectID != "" {
		q["project"] = f.ProjectID
	}
	if f.Restrict != nil {
		or := []bson.M{{"assignedTo": f.Restrict.AssigneeID}}
		if len(f.Restrict.ProjectIDs) > 0 {
			or = append(or, bson.M{"project": bson.M{"$in": f.Restrict.ProjectIDs}})
		}
		and = append(and, bson.M{"$or": or})
	}
	if len(and) > 0 {
		q["$and"] = and
	}
	return q
}

var newestFirst = bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}

func (s *Store) FindTasks(ctx context.Context, f repo.TaskFilter) ([]domain.Task, error) {
	cur, err := s.c(colTasks).Find(ctx, taskFilter(f), page(f.Offset, f.Limit, newestFirst))
	if err != nil {
		return nil, err
	}
	docs, err := decodeAll[taskDoc](ctx, cur)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Task, len(docs))
	for i, d := range docs {
		out[i] = d.task()
	}
	return out, nil
}

func (s *Store) CountTasks(ctx context.Context, f repo.TaskFilter) (int, error) {
	n, err := s.c(colTasks).CountDocuments(ctx, taskFilter(f))
	return int(n), err
}

func (s *Store) TaskIDsByProject(ctx context.Context, projectID string) ([]string, error) {
	return s.ids(ctx, colTasks, bson.M{"project": projectID}, bson.D{{Key: "createdAt", Value: 1}})
}

func (s *Store) TaskRefs(ctx context.Context) ([]repo.TaskRef, error) {
	cur, err := s.c(colTasks).Find(ctx, bson.M{}, page(0, 0, bson.D{{Key: "createdAt", Value: 1}}).
		SetProjection(bson.M{"_id": 1, "project": 1}))
	if err != nil {
		return nil, err
	}
	docs, err := decodeAll[taskDoc](ctx, cur)
	if err != nil {
		return nil, err
	}
	refs := make([]repo.TaskRef, len(docs))
	for i, d := range docs {
		refs[i] = repo.TaskRef{TaskID: d.ID, ProjectID: d.Project}
	}
	return refs, nil
}

// ClearTaskProject is a compare-and-clear on the task document.
func (s *Store) ClearTaskProject(ctx context.Context, taskID, projectID string, now time.Time) (bool, error) {
	res, err := s.c(colTasks).UpdateOne(ctx,
		bson.M{"_id": taskID, "project": projectID},
		bson.M{"$set": bson.M{"project": "", "updatedAt": now.UTC()}, "$inc": bson.M{"revision": 1}})
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

func (s *Store) UnassignTasks(ctx context.Context, userID string, now time.Time) (int, error) {
	res, err := s.c(colTasks).UpdateMany(ctx, bson.M{"assignedTo": userID},
		bson.M{"$set": bson.M{"assignedTo": "", "updatedAt": now.UTC()}, "$inc": bson.M{"revision": 1}})
	if err != nil {
		return 0, err
	}
	return int(res.ModifiedCount), nil
}
