package database

import (
	"context"
	"fmt"

	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/config"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/event"
)

// Open 按配置创建存储后端。持有外部连接的后端同时返回关闭回调，否则回调为 nil
func Open(ctx context.Context, cfg config.StoreConfig, appName string) (Store, event.Callable, error) {
	switch cfg.Backend {
	case BackendMemory:
		return NewMemoryStore(), nil, nil
	case BackendFile, "":
		store, err := NewFileStore(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	case BackendMongo:
		store, err := ConnectMongo(ctx, cfg.Mongo, appName)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	case BackendRedis:
		store, err := ConnectRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownStore, cfg.Backend)
	}
}
