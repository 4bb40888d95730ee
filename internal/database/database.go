package database

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/config"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/logger"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/utils"
)

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := utils.ParseStringTime(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func mongoURI(cfg config.MongoConfig) string {
	// 编码特殊字符
	if cfg.Username == "" {
		return fmt.Sprintf("mongodb://%s:%d/", cfg.Host, cfg.Port)
	}
	return fmt.Sprintf("mongodb://%s:%s@%s:%d/?authSource=admin",
		url.QueryEscape(cfg.Username), url.QueryEscape(cfg.Password),
		cfg.Host, cfg.Port,
	)
}

// ConnectMongo 连接数据库并确保集合上存在 key 的唯一索引
func ConnectMongo(ctx context.Context, cfg config.MongoConfig, appName string) (*MongoStore, error) {
	logger.DebugF("Connecting to database...")

	clientOptions := options.Client().ApplyURI(mongoURI(cfg)).SetAppName(appName)
	// 连接池配置
	clientOptions.SetMinPoolSize(cfg.MinPoolSize)
	clientOptions.SetMaxPoolSize(cfg.MaxPoolSize)
	clientOptions.SetMaxConnIdleTime(parseDuration(cfg.ConnectIdleTimeout, time.Minute))
	// 超时限制
	clientOptions.SetConnectTimeout(parseDuration(cfg.ConnectTimeout, 10*time.Second))
	clientOptions.SetSocketTimeout(parseDuration(cfg.SocketTimeout, 10*time.Second))
	clientOptions.SetHeartbeatInterval(parseDuration(cfg.Heartbeat, 10*time.Second))
	if cfg.UseTLS {
		clientOptions.SetTLSConfig(&tls.Config{})
	}
	// 连接池监控
	clientOptions.SetPoolMonitor(&event.PoolMonitor{
		Event: func(evt *event.PoolEvent) {
			switch evt.Type {
			case event.ConnectionCreated:
				logger.DebugF("Database connection created: %s #%d", evt.Address, evt.ConnectionID)
			case event.ConnectionClosed:
				logger.DebugF("Database connection closed: %s #%d (%s)", evt.Address, evt.ConnectionID, evt.Reason)
			}
		},
	})

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("error occured while connecting to database: %w", err)
	}
	if err = client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(connectCtx)
		return nil, fmt.Errorf("error occured while pinging database: %w", err)
	}

	collectionName := cfg.Collection
	if collectionName == "" {
		collectionName = DefaultCollectionName
	}
	collection := client.Database(cfg.Database).Collection(collectionName)
	_, err = collection.Indexes().CreateOne(connectCtx, mongo.IndexModel{
		Keys:    bson.D{{Key: "key", Value: 1}},
		Options: options.Index().SetUnique(true).SetName(collectionName + "_key_unique"),
	})
	if err != nil {
		_ = client.Disconnect(connectCtx)
		return nil, fmt.Errorf("error occured while creating database indexes: %w", err)
	}

	logger.InfoF("Connected to database %s/%s", cfg.Database, collectionName)
	return &MongoStore{
		client:           client,
		collection:       collection,
		operationTimeout: cfg.OperationTimeoutDuration(),
	}, nil
}
