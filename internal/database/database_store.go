package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/logger"
)

// MongoStore 把每个键保存为集合中的一个文档
type MongoStore struct {
	client           *mongo.Client
	collection       *mongo.Collection
	operationTimeout time.Duration
}

func wrapMongoError(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("unique key conflicts: %w", err)
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return fmt.Errorf("database operation failed: %w", err)
}

func (ds *MongoStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, ds.operationTimeout)
	defer cancel()

	var record Record
	startTime := time.Now()
	err := ds.collection.FindOne(ctx, bson.D{{Key: "key", Value: key}}).Decode(&record)
	logger.DebugF("%s query cost: %v", key, time.Since(startTime))
	if err != nil {
		return nil, wrapMongoError(err)
	}
	return record.Value, nil
}

func (ds *MongoStore) Put(ctx context.Context, key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, ds.operationTimeout)
	defer cancel()

	record := Record{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	result, err := ds.collection.ReplaceOne(ctx, bson.D{{Key: "key", Value: key}}, record, options.Replace().SetUpsert(true))
	if err != nil {
		return wrapMongoError(err)
	}
	logger.DebugF("Record saved: key=%s, matched=%d, modified=%d, upserted=%v",
		key, result.MatchedCount, result.ModifiedCount, result.UpsertedID != nil)
	return nil
}

func (ds *MongoStore) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, ds.operationTimeout)
	defer cancel()

	result, err := ds.collection.DeleteOne(ctx, bson.D{{Key: "key", Value: key}})
	if err != nil {
		return wrapMongoError(err)
	}
	logger.DebugF("Record deleted: key=%s, deleted=%d", key, result.DeletedCount)
	return nil
}

// Invoke 断开数据库连接，用作退出清理回调
func (ds *MongoStore) Invoke(ctx context.Context) error {
	logger.InfoF("Closing database connection")
	ctx, cancel := context.WithTimeout(ctx, ds.operationTimeout)
	defer cancel()
	return ds.client.Disconnect(ctx)
}
