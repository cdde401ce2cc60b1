package mongorepo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"taskline/internal/domain"
)

type eventDoc struct {
	ID         int64          `bson:"_id"`
	TS         time.Time      `bson:"ts"`
	Type       string         `bson:"type"`
	EntityKind string         `bson:"entityKind"`
	EntityID   string         `bson:"entityId,omitempty"`
	ActorID    string         `bson:"actorId,omitempty"`
	Payload    map[string]any `bson:"payload"`
}

// nextSeq atomically increments the named counter and returns the new value.
func (s *Store) nextSeq(ctx context.Context, name string) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := s.c(colCounters).FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	return doc.Seq, err
}

func (s *Store) AppendEvent(ctx context.Context, e domain.Event) (int64, error) {
	id, err := s.nextSeq(ctx, colEvents)
	if err != nil {
		return 0, err
	}
	payload := e.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	_, err = s.c(colEvents).InsertOne(ctx, eventDoc{
		ID: id, TS: utc(e.TS), Type: e.Type, EntityKind: e.EntityKind,
		EntityID: e.EntityID, ActorID: e.ActorID, Payload: payload,
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	cur, err := s.c(colEvents).Find(ctx, bson.M{"_id": bson.M{"$gt": cursor}},
		page(0, limit, bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	docs, err := decodeAll[eventDoc](ctx, cur)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Event, len(docs))
	for i, d := range docs {
		payload := d.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		out[i] = domain.Event{
			ID: d.ID, TS: utc(d.TS), Type: d.Type, EntityKind: d.EntityKind,
			EntityID: d.EntityID, ActorID: d.ActorID, Payload: payload,
		}
	}
	return out, nil
}

func (s *Store) LatestEventID(ctx context.Context) (int64, error) {
	var d eventDoc
	err := s.c(colEvents).FindOne(ctx, bson.M{}, options.FindOne().SetSort(bson.D{{Key: "_id", Value: -1}})).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	return d.ID, err
}
