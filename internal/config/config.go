package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DefaultConfigFile = "config.json"
	EnvPrefix         = "ASSISTANT"
)

var ErrConfigCreated = errors.New("the configuration file does not exist and has been created with defaults")

type ConnectionConfig struct {
	URL                    string            `json:"url" mapstructure:"url"`
	Headers                map[string]string `json:"headers" mapstructure:"headers"`
	AutoReconnect          bool              `json:"auto_reconnect" mapstructure:"auto_reconnect"`
	MaxReconnectAttempts   int               `json:"max_reconnect_attempts" mapstructure:"max_reconnect_attempts"`
	ReconnectBaseDelay     string            `json:"reconnect_base_delay" mapstructure:"reconnect_base_delay"`
	MaxReconnectDelay      string            `json:"max_reconnect_delay" mapstructure:"max_reconnect_delay"`
	ReconnectBackoffFactor float64           `json:"reconnect_backoff_factor" mapstructure:"reconnect_backoff_factor"`
	ConnectionTimeout      string            `json:"connection_timeout" mapstructure:"connection_timeout"`
	PingInterval           string            `json:"ping_interval" mapstructure:"ping_interval"`
	PingTimeout            string            `json:"ping_timeout" mapstructure:"ping_timeout"`
	HealthCheckInterval    string            `json:"health_check_interval" mapstructure:"health_check_interval"`
	MessageQueueEnabled    bool              `json:"message_queue_enabled" mapstructure:"message_queue_enabled"`
	MaxQueuedMessages      int               `json:"max_queued_messages" mapstructure:"max_queued_messages"`
	MessageRetryLimit      int               `json:"message_retry_limit" mapstructure:"message_retry_limit"`
}

type WriteQueueConfig struct {
	Namespace           string  `json:"namespace" mapstructure:"namespace"`
	MaxSize             int     `json:"max_size" mapstructure:"max_size"`
	MaxAttempts         int     `json:"max_attempts" mapstructure:"max_attempts"`
	BaseBackoff         string  `json:"base_backoff" mapstructure:"base_backoff"`
	MaxBackoff          string  `json:"max_backoff" mapstructure:"max_backoff"`
	BackoffFactor       float64 `json:"backoff_factor" mapstructure:"backoff_factor"`
	APIBaseURL          string  `json:"api_base_url" mapstructure:"api_base_url"`
	RequestTimeout      string  `json:"request_timeout" mapstructure:"request_timeout"`
	OnlineCheckInterval string  `json:"online_check_interval" mapstructure:"online_check_interval"`
}

type MongoConfig struct {
	Host               string `json:"host" mapstructure:"host"`
	Port               uint64 `json:"port" mapstructure:"port"`
	Username           string `json:"username" mapstructure:"username"`
	Password           string `json:"password" mapstructure:"password"`
	Database           string `json:"database" mapstructure:"database"`
	Collection         string `json:"collection" mapstructure:"collection"`
	UseTLS             bool   `json:"use_tls" mapstructure:"use_tls"`
	ConnectTimeout     string `json:"connect_timeout" mapstructure:"connect_timeout"`
	SocketTimeout      string `json:"socket_timeout" mapstructure:"socket_timeout"`
	ConnectIdleTimeout string `json:"connect_idle_timeout" mapstructure:"connect_idle_timeout"`
	OperationTimeout   string `json:"operation_timeout" mapstructure:"operation_timeout"`
	Heartbeat          string `json:"heartbeat" mapstructure:"heartbeat"`
	MinPoolSize        uint64 `json:"min_pool_size" mapstructure:"min_pool_size"`
	MaxPoolSize        uint64 `json:"max_pool_size" mapstructure:"max_pool_size"`
}

type RedisConfig struct {
	Addr      string `json:"addr" mapstructure:"addr"`
	Password  string `json:"password" mapstructure:"password"`
	DB        int    `json:"db" mapstructure:"db"`
	KeyPrefix string `json:"key_prefix" mapstructure:"key_prefix"`
}

type StoreConfig struct {
	// Backend 取值 memory | file | mongo | redis
	Backend string      `json:"backend" mapstructure:"backend"`
	Path    string      `json:"path" mapstructure:"path"`
	Mongo   MongoConfig `json:"mongo" mapstructure:"mongo"`
	Redis   RedisConfig `json:"redis" mapstructure:"redis"`
}

type MetricsConfig struct {
	ReportInterval string `json:"report_interval" mapstructure:"report_interval"`
	// Listen 非空时在该地址暴露 /metrics
	Listen string `json:"listen" mapstructure:"listen"`
}

type Config struct {
	DebugMode  bool             `json:"debug_mode" mapstructure:"debug_mode"`
	AppName    string           `json:"app_name" mapstructure:"app_name"`
	LogDir     string           `json:"log_dir" mapstructure:"log_dir"`
	Connection ConnectionConfig `json:"connection" mapstructure:"connection"`
	WriteQueue WriteQueueConfig `json:"write_queue" mapstructure:"write_queue"`
	Store      StoreConfig      `json:"store" mapstructure:"store"`
	Metrics    MetricsConfig    `json:"metrics" mapstructure:"metrics"`
}

// ReadConfig 按 默认值 < 配置文件 < .env < 环境变量 的优先级读取配置。
// 配置文件不存在时写出默认配置，并在返回有效配置的同时返回 ErrConfigCreated。
func ReadConfig(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigFile
	}
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var created error
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := writeDefaultConfig(path); err != nil {
			return Config{}, fmt.Errorf("error occured while creating configuration file: %w", err)
		}
		created = ErrConfigCreated
	}

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("the configuration file does not contain valid JSON: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("error occured while decoding configuration: %w", err)
	}
	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, created
}

func writeDefaultConfig(path string) error {
	data, err := json.MarshalIndent(Default(), "", "\t")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
