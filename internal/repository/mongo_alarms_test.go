package repository

import (
	"context"
	"testing"

	"smartclock/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

type mockCollectionProvider struct {
	coll *mongo.Collection
}

func (p mockCollectionProvider) Collection(context.Context, string) (*mongo.Collection, error) {
	return p.coll, nil
}

func namespace(mt *mtest.T) string {
	return mt.Coll.Database().Name() + "." + mt.Coll.Name()
}

func TestMongoAlarmsRepo(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("list decodes documents", func(mt *mtest.T) {
		repo := NewMongoAlarmsRepo(mockCollectionProvider{coll: mt.Coll}, "alarms")
		id1, id2 := primitive.NewObjectID(), primitive.NewObjectID()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch,
			bson.D{{Key: "_id", Value: id1}, {Key: "hour", Value: 6}, {Key: "minute", Value: 59}, {Key: "daysOfWeek", Value: bson.A{1, 2}}, {Key: "enabled", Value: true}, {Key: "label", Value: "a"}},
			bson.D{{Key: "_id", Value: id2}, {Key: "hour", Value: 7}, {Key: "minute", Value: 0}, {Key: "enabled", Value: false}},
		))

		alarms, err := repo.ListAlarms(context.Background())
		require.NoError(mt, err)
		require.Len(mt, alarms, 2)
		assert.Equal(mt, id1.Hex(), alarms[0].ID)
		assert.Equal(mt, []int{1, 2}, alarms[0].DaysOfWeek)
		assert.Equal(mt, id2.Hex(), alarms[1].ID)
		assert.Equal(mt, []int{}, alarms[1].DaysOfWeek)
	})

	mt.Run("create returns generated id", func(mt *mtest.T) {
		repo := NewMongoAlarmsRepo(mockCollectionProvider{coll: mt.Coll}, "alarms")
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		id, err := repo.CreateAlarm(context.Background(), domain.Alarm{Hour: 7, Minute: 30, DaysOfWeek: []int{1}, Enabled: true})
		require.NoError(mt, err)
		_, ok := domain.CanonicalAlarmID(id)
		assert.True(mt, ok)
	})

	mt.Run("update returns document after", func(mt *mtest.T) {
		repo := NewMongoAlarmsRepo(mockCollectionProvider{coll: mt.Coll}, "alarms")
		id := primitive.NewObjectID()
		mt.AddMockResponses(bson.D{
			{Key: "ok", Value: 1},
			{Key: "value", Value: bson.D{{Key: "_id", Value: id}, {Key: "hour", Value: 9}, {Key: "minute", Value: 15}, {Key: "daysOfWeek", Value: bson.A{0}}, {Key: "enabled", Value: true}, {Key: "label", Value: ""}}},
		})

		hour := 9
		a, err := repo.UpdateAlarm(context.Background(), id.Hex(), domain.AlarmPatch{Hour: &hour})
		require.NoError(mt, err)
		assert.Equal(mt, id.Hex(), a.ID)
		assert.Equal(mt, 9, a.Hour)
		assert.Equal(mt, 15, a.Minute)
	})

	mt.Run("update missing document", func(mt *mtest.T) {
		repo := NewMongoAlarmsRepo(mockCollectionProvider{coll: mt.Coll}, "alarms")
		mt.AddMockResponses(bson.D{{Key: "ok", Value: 1}, {Key: "value", Value: nil}})

		hour := 9
		a, err := repo.UpdateAlarm(context.Background(), primitive.NewObjectID().Hex(), domain.AlarmPatch{Hour: &hour})
		assert.Nil(mt, a)
		assert.ErrorIs(mt, err, ErrNotFound)
	})

	mt.Run("delete reports count", func(mt *mtest.T) {
		repo := NewMongoAlarmsRepo(mockCollectionProvider{coll: mt.Coll}, "alarms")
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}))

		n, err := repo.DeleteAlarm(context.Background(), primitive.NewObjectID().Hex())
		require.NoError(mt, err)
		assert.Equal(mt, int64(1), n)
	})

	mt.Run("command error surfaces", func(mt *mtest.T) {
		repo := NewMongoAlarmsRepo(mockCollectionProvider{coll: mt.Coll}, "alarms")
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 91, Name: "ShutdownInProgress", Message: "shutting down"}))

		_, err := repo.ListAlarms(context.Background())
		require.Error(mt, err)
		assert.NotErrorIs(mt, err, ErrNotFound)
	})
}

func TestPatchToSet_OnlyProvidedFields(t *testing.T) {
	minute := 5
	enabled := false
	set := patchToSet(domain.AlarmPatch{Minute: &minute, Enabled: &enabled})
	assert.Equal(t, bson.M{"minute": 5, "enabled": false}, set)
}
