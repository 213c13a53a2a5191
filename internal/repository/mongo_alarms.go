package repository

import (
	"context"
	"errors"
	"fmt"

	"smartclock/internal/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionProvider 按需获取集合（database.MongoProvider 实现）
type CollectionProvider interface {
	Collection(ctx context.Context, name string) (*mongo.Collection, error)
}

// alarmDocument alarms 集合中的文档
type alarmDocument struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	Hour       int                `bson:"hour"`
	Minute     int                `bson:"minute"`
	DaysOfWeek []int              `bson:"daysOfWeek"`
	Enabled    bool               `bson:"enabled"`
	Label      string             `bson:"label"`
}

func (d alarmDocument) toDomain() domain.Alarm {
	days := d.DaysOfWeek
	if days == nil {
		days = []int{}
	}
	return domain.Alarm{
		ID:         d.ID.Hex(),
		Hour:       d.Hour,
		Minute:     d.Minute,
		DaysOfWeek: days,
		Enabled:    d.Enabled,
		Label:      d.Label,
	}
}

// MongoAlarmsRepo MongoDB 实现
type MongoAlarmsRepo struct {
	provider   CollectionProvider
	collection string
}

func NewMongoAlarmsRepo(provider CollectionProvider, collection string) *MongoAlarmsRepo {
	if collection == "" {
		collection = "alarms"
	}
	return &MongoAlarmsRepo{provider: provider, collection: collection}
}

func (r *MongoAlarmsRepo) coll(ctx context.Context) (*mongo.Collection, error) {
	return r.provider.Collection(ctx, r.collection)
}

func (r *MongoAlarmsRepo) ListAlarms(ctx context.Context) ([]domain.Alarm, error) {
	coll, err := r.coll(ctx)
	if err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(bson.D{{Key: "hour", Value: 1}, {Key: "minute", Value: 1}})
	cur, err := coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("find alarms: %w", err)
	}
	defer cur.Close(ctx)

	var docs []alarmDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode alarms: %w", err)
	}
	out := make([]domain.Alarm, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toDomain())
	}
	return out, nil
}

func (r *MongoAlarmsRepo) CreateAlarm(ctx context.Context, alarm domain.Alarm) (string, error) {
	coll, err := r.coll(ctx)
	if err != nil {
		return "", err
	}
	doc := alarmDocument{
		Hour:       alarm.Hour,
		Minute:     alarm.Minute,
		DaysOfWeek: alarm.DaysOfWeek,
		Enabled:    alarm.Enabled,
		Label:      alarm.Label,
	}
	res, err := coll.InsertOne(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("insert alarm: %w", err)
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("insert alarm: unexpected id type %T", res.InsertedID)
	}
	return oid.Hex(), nil
}

func (r *MongoAlarmsRepo) UpdateAlarm(ctx context.Context, id string, patch domain.AlarmPatch) (*domain.Alarm, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	coll, err := r.coll(ctx)
	if err != nil {
		return nil, err
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc alarmDocument
	err = coll.FindOneAndUpdate(ctx, bson.M{"_id": oid}, bson.M{"$set": patchToSet(patch)}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update alarm: %w", err)
	}
	out := doc.toDomain()
	return &out, nil
}

func (r *MongoAlarmsRepo) DeleteAlarm(ctx context.Context, id string) (int64, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return 0, nil
	}
	coll, err := r.coll(ctx)
	if err != nil {
		return 0, err
	}
	res, err := coll.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return 0, fmt.Errorf("delete alarm: %w", err)
	}
	return res.DeletedCount, nil
}

// patchToSet 只包含已提供的字段
func patchToSet(p domain.AlarmPatch) bson.M {
	set := bson.M{}
	if p.Hour != nil {
		set["hour"] = *p.Hour
	}
	if p.Minute != nil {
		set["minute"] = *p.Minute
	}
	if p.DaysOfWeek != nil {
		set["daysOfWeek"] = p.DaysOfWeek
	}
	if p.Enabled != nil {
		set["enabled"] = *p.Enabled
	}
	if p.Label != nil {
		set["label"] = *p.Label
	}
	return set
}
