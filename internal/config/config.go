package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	commoncfg "smartclock/common/config"

	"gopkg.in/yaml.v3"
)

// 存储驱动
const (
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config smartclock-web 配置
type Config struct {
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
	Store struct {
		Driver string `yaml:"driver"`
	} `yaml:"store"`
	Mongo    commoncfg.MongoConfig    `yaml:"mongo"`
	Database commoncfg.DatabaseConfig `yaml:"database"`
	Redis    RedisConfig              `yaml:"redis"`
	MQTT     MQTTConfig               `yaml:"mqtt"`
	Monitor  MonitorConfig            `yaml:"monitor"`
	Device   struct {
		Timezone string `yaml:"timezone"`
	} `yaml:"device"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// RedisConfig Redis 仅用于保存看板快照和设备设置，默认关闭（使用内存 KV）
type RedisConfig struct {
	Enabled               bool `yaml:"enabled"`
	commoncfg.RedisConfig `yaml:",inline"`
}

// MQTTConfig 设备时间桥接配置（brokerUrl / connectTimeoutMs / replyTimeoutMs）
type MQTTConfig struct {
	commoncfg.MQTTConfig `yaml:",inline"`
	ConnectTimeoutMs     int    `yaml:"connect_timeout_ms"`
	ReplyTimeoutMs       int    `yaml:"reply_timeout_ms"`
	TimeTopic            string `yaml:"time_topic"`
	CommandTopic         string `yaml:"command_topic"`
}

// ConnectTimeout 连接超时
func (c MQTTConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMs) * time.Millisecond
}

// ReplyTimeout 整个会话的截止时间
func (c MQTTConfig) ReplyTimeout() time.Duration {
	return time.Duration(c.ReplyTimeoutMs) * time.Millisecond
}

// MonitorConfig 长连接看板订阅配置
type MonitorConfig struct {
	Enabled          bool     `yaml:"enabled"`
	BrokerURLs       []string `yaml:"broker_urls"`
	ConnectTimeoutMs int      `yaml:"connect_timeout_ms"`
	ErrorBackoffMs   int      `yaml:"error_backoff_ms"`
	CloseBackoffMs   int      `yaml:"close_backoff_ms"`
	FreshnessMs      int      `yaml:"freshness_ms"`
}

// Load 加载配置：默认值 -> CONFIG_FILE（YAML，可选）-> 环境变量
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", cfg.HTTP.Addr)
	cfg.Store.Driver = strings.ToLower(getEnv("STORE_DRIVER", cfg.Store.Driver))

	cfg.Mongo.LoadFromEnv("MONGODB")
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Enabled = parseBool(os.Getenv("REDIS_ENABLED"), cfg.Redis.Enabled)
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.LoadFromEnv("MQTT")
	cfg.MQTT.ConnectTimeoutMs = parseInt(os.Getenv("MQTT_CONNECT_TIMEOUT_MS"), cfg.MQTT.ConnectTimeoutMs)
	cfg.MQTT.ReplyTimeoutMs = parseInt(os.Getenv("MQTT_REPLY_TIMEOUT_MS"), cfg.MQTT.ReplyTimeoutMs)
	cfg.MQTT.TimeTopic = getEnv("MQTT_TIME_TOPIC", cfg.MQTT.TimeTopic)
	cfg.MQTT.CommandTopic = getEnv("MQTT_COMMAND_TOPIC", cfg.MQTT.CommandTopic)

	cfg.Monitor.Enabled = parseBool(os.Getenv("MONITOR_ENABLED"), cfg.Monitor.Enabled)
	if urls := os.Getenv("MONITOR_BROKER_URLS"); urls != "" {
		cfg.Monitor.BrokerURLs = splitList(urls)
	}
	cfg.Monitor.ConnectTimeoutMs = parseInt(os.Getenv("MONITOR_CONNECT_TIMEOUT_MS"), cfg.Monitor.ConnectTimeoutMs)
	cfg.Monitor.ErrorBackoffMs = parseInt(os.Getenv("MONITOR_ERROR_BACKOFF_MS"), cfg.Monitor.ErrorBackoffMs)
	cfg.Monitor.CloseBackoffMs = parseInt(os.Getenv("MONITOR_CLOSE_BACKOFF_MS"), cfg.Monitor.CloseBackoffMs)
	cfg.Monitor.FreshnessMs = parseInt(os.Getenv("MONITOR_FRESHNESS_MS"), cfg.Monitor.FreshnessMs)

	cfg.Device.Timezone = getEnv("DEVICE_TIMEZONE", cfg.Device.Timezone)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = ":8080"
	cfg.Store.Driver = StoreMongo

	cfg.Mongo.URI = "mongodb://localhost:27017"
	cfg.Mongo.Database = "digital-clock-iot-g1"
	cfg.Mongo.Collection = "alarms"
	cfg.Mongo.ConnectTimeout = 10 * time.Second

	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "smartclock"
	cfg.Database.SSLMode = "disable"

	cfg.Redis.Addr = "localhost:6379"

	cfg.MQTT.Broker = "tcp://broker.emqx.io:1883"
	cfg.MQTT.ClientID = "WebClient"
	cfg.MQTT.ConnectTimeoutMs = 10000
	cfg.MQTT.ReplyTimeoutMs = 10000
	cfg.MQTT.TimeTopic = "clock/time"
	cfg.MQTT.CommandTopic = "clock/reset"

	cfg.Monitor.Enabled = true
	cfg.Monitor.BrokerURLs = []string{
		"tcp://broker.emqx.io:1883",
		"tcp://test.mosquitto.org:1883",
		"tcp://broker.hivemq.com:1883",
	}
	cfg.Monitor.ConnectTimeoutMs = 15000
	cfg.Monitor.ErrorBackoffMs = 2000
	cfg.Monitor.CloseBackoffMs = 3000
	cfg.Monitor.FreshnessMs = 30000

	cfg.Device.Timezone = "Asia/Ho_Chi_Minh"

	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	return cfg
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreMongo, StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}
	if c.MQTT.Broker == "" {
		return fmt.Errorf("MQTT_BROKER_URL is required")
	}
	if c.MQTT.ConnectTimeoutMs <= 0 || c.MQTT.ReplyTimeoutMs <= 0 {
		return fmt.Errorf("mqtt timeouts must be positive")
	}
	if c.Monitor.Enabled && len(c.Monitor.BrokerURLs) == 0 {
		return fmt.Errorf("MONITOR_BROKER_URLS is required when the monitor is enabled")
	}
	if c.Monitor.FreshnessMs <= 0 {
		return fmt.Errorf("MONITOR_FRESHNESS_MS must be positive")
	}
	if _, err := time.LoadLocation(c.Device.Timezone); err != nil {
		return fmt.Errorf("invalid DEVICE_TIMEZONE %q: %w", c.Device.Timezone, err)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func parseBool(s string, def bool) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return b
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
