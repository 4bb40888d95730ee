package config

import "github.com/spf13/viper"

func Default() Config {
	return Config{
		DebugMode: false,
		AppName:   "life-stream-assistant",
		LogDir:    "logs",
		Connection: ConnectionConfig{
			URL:                    "ws://localhost:8000/ws/events",
			Headers:                map[string]string{},
			AutoReconnect:          true,
			MaxReconnectAttempts:   10,
			ReconnectBaseDelay:     "1s",
			MaxReconnectDelay:      "30s",
			ReconnectBackoffFactor: 2,
			ConnectionTimeout:      "10s",
			PingInterval:           "30s",
			PingTimeout:            "5s",
			HealthCheckInterval:    "10s",
			MessageQueueEnabled:    true,
			MaxQueuedMessages:      100,
			MessageRetryLimit:      3,
		},
		WriteQueue: WriteQueueConfig{
			Namespace:           "offline-queue",
			MaxSize:             500,
			MaxAttempts:         5,
			BaseBackoff:         "1s",
			MaxBackoff:          "5m",
			BackoffFactor:       2,
			APIBaseURL:          "http://localhost:8000",
			RequestTimeout:      "15s",
			OnlineCheckInterval: "15s",
		},
		Store: StoreConfig{
			Backend: "file",
			Path:    "data",
			Mongo: MongoConfig{
				Host:               "localhost",
				Port:               27017,
				Database:           "assistant",
				Collection:         "durable_store",
				ConnectTimeout:     "10s",
				SocketTimeout:      "30s",
				ConnectIdleTimeout: "5m",
				OperationTimeout:   "5s",
				Heartbeat:          "10s",
				MinPoolSize:        1,
				MaxPoolSize:        10,
			},
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "assistant",
			},
		},
		Metrics: MetricsConfig{
			ReportInterval: "1m",
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("debug_mode", d.DebugMode)
	v.SetDefault("app_name", d.AppName)
	v.SetDefault("log_dir", d.LogDir)

	v.SetDefault("connection.url", d.Connection.URL)
	v.SetDefault("connection.headers", d.Connection.Headers)
	v.SetDefault("connection.auto_reconnect", d.Connection.AutoReconnect)
	v.SetDefault("connection.max_reconnect_attempts", d.Connection.MaxReconnectAttempts)
	v.SetDefault("connection.reconnect_base_delay", d.Connection.ReconnectBaseDelay)
	v.SetDefault("connection.max_reconnect_delay", d.Connection.MaxReconnectDelay)
	v.SetDefault("connection.reconnect_backoff_factor", d.Connection.ReconnectBackoffFactor)
	v.SetDefault("connection.connection_timeout", d.Connection.ConnectionTimeout)
	v.SetDefault("connection.ping_interval", d.Connection.PingInterval)
	v.SetDefault("connection.ping_timeout", d.Connection.PingTimeout)
	v.SetDefault("connection.health_check_interval", d.Connection.HealthCheckInterval)
	v.SetDefault("connection.message_queue_enabled", d.Connection.MessageQueueEnabled)
	v.SetDefault("connection.max_queued_messages", d.Connection.MaxQueuedMessages)
	v.SetDefault("connection.message_retry_limit", d.Connection.MessageRetryLimit)

	v.SetDefault("write_queue.namespace", d.WriteQueue.Namespace)
	v.SetDefault("write_queue.max_size", d.WriteQueue.MaxSize)
	v.SetDefault("write_queue.max_attempts", d.WriteQueue.MaxAttempts)
	v.SetDefault("write_queue.base_backoff", d.WriteQueue.BaseBackoff)
	v.SetDefault("write_queue.max_backoff", d.WriteQueue.MaxBackoff)
	v.SetDefault("write_queue.backoff_factor", d.WriteQueue.BackoffFactor)
	v.SetDefault("write_queue.api_base_url", d.WriteQueue.APIBaseURL)
	v.SetDefault("write_queue.request_timeout", d.WriteQueue.RequestTimeout)
	v.SetDefault("write_queue.online_check_interval", d.WriteQueue.OnlineCheckInterval)

	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.mongo.host", d.Store.Mongo.Host)
	v.SetDefault("store.mongo.port", d.Store.Mongo.Port)
	v.SetDefault("store.mongo.username", d.Store.Mongo.Username)
	v.SetDefault("store.mongo.password", d.Store.Mongo.Password)
	v.SetDefault("store.mongo.database", d.Store.Mongo.Database)
	v.SetDefault("store.mongo.collection", d.Store.Mongo.Collection)
	v.SetDefault("store.mongo.use_tls", d.Store.Mongo.UseTLS)
	v.SetDefault("store.mongo.connect_timeout", d.Store.Mongo.ConnectTimeout)
	v.SetDefault("store.mongo.socket_timeout", d.Store.Mongo.SocketTimeout)
	v.SetDefault("store.mongo.connect_idle_timeout", d.Store.Mongo.ConnectIdleTimeout)
	v.SetDefault("store.mongo.operation_timeout", d.Store.Mongo.OperationTimeout)
	v.SetDefault("store.mongo.heartbeat", d.Store.Mongo.Heartbeat)
	v.SetDefault("store.mongo.min_pool_size", d.Store.Mongo.MinPoolSize)
	v.SetDefault("store.mongo.max_pool_size", d.Store.Mongo.MaxPoolSize)
	v.SetDefault("store.redis.addr", d.Store.Redis.Addr)
	v.SetDefault("store.redis.password", d.Store.Redis.Password)
	v.SetDefault("store.redis.db", d.Store.Redis.DB)
	v.SetDefault("store.redis.key_prefix", d.Store.Redis.KeyPrefix)

	v.SetDefault("metrics.report_interval", d.Metrics.ReportInterval)
	v.SetDefault("metrics.listen", d.Metrics.Listen)
}
