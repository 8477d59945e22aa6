package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/pkg/database"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/pkg/mqttclient"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/pkg/redisutil"
)

// Config 监听服务配置
type Config struct {
	Database database.Config
	Redis    redisutil.Config
	MQTT     mqttclient.Config

	// Listener 监听与处理管线配置
	Listener struct {
		GatewayTopics   []string // 网关族上行主题，如 ESP32_BLE_GW_TX, dusun_sub
		WearableTopics  []string // 手表族主题（含批量体征与紧急事件），如 iMEDE_watch/#
		Workers         int      // 工作协程数
		QueueSize       int      // 消息队列长度（有界，提供背压）
		ShutdownGrace   time.Duration
		PersistTimeout  time.Duration // 单次存储调用超时
		PersistRetries  int           // 存储有限重试次数
	}

	// Resolver 病人解析配置
	Resolver struct {
		CacheTTL time.Duration // 绑定缓存TTL（0 表示关闭缓存）
	}

	// API 出站REST端点
	API struct {
		TransactionLogURL string // POST /transactions/log 的基地址
		DataFlowURL       string // POST /data-flow/emit 的基地址
		Timeout           time.Duration
	}

	// Alert 紧急告警配置
	Alert struct {
		CooldownWindow time.Duration // 同设备同类型告警的去重窗口
		BotURL         string        // 通知机器人发送端点
		BotToken       string
		Recipient      string // 群/房间标识
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "")
	cfg.Database.Database = getEnv("DB_NAME", "firstcare")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "stardust-listener")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = byte(getEnvInt("MQTT_QOS", 1))

	cfg.Listener.GatewayTopics = getEnvList("GATEWAY_TOPICS", "ESP32_BLE_GW_TX,dusun_sub")
	cfg.Listener.WearableTopics = getEnvList("WEARABLE_TOPICS", "iMEDE_watch/#")
	cfg.Listener.Workers = getEnvInt("LISTENER_WORKERS", 8)
	cfg.Listener.QueueSize = getEnvInt("LISTENER_QUEUE_SIZE", 256)
	cfg.Listener.ShutdownGrace = getEnvDuration("SHUTDOWN_GRACE", 15*time.Second)
	cfg.Listener.PersistTimeout = getEnvDuration("PERSIST_TIMEOUT", 5*time.Second)
	cfg.Listener.PersistRetries = getEnvInt("PERSIST_RETRIES", 3)

	cfg.Resolver.CacheTTL = getEnvDuration("RESOLVER_CACHE_TTL", 5*time.Minute)

	cfg.API.TransactionLogURL = getEnv("TRANSACTION_LOG_URL", "")
	cfg.API.DataFlowURL = getEnv("DATA_FLOW_URL", "")
	cfg.API.Timeout = getEnvDuration("API_TIMEOUT", 3*time.Second)

	cfg.Alert.CooldownWindow = getEnvDuration("ALERT_COOLDOWN", 5*time.Minute)
	cfg.Alert.BotURL = getEnv("ALERT_BOT_URL", "")
	cfg.Alert.BotToken = getEnv("ALERT_BOT_TOKEN", "")
	cfg.Alert.Recipient = getEnv("ALERT_RECIPIENT", "")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate 启动时校验必填项，缺失即失败
func (c *Config) Validate() error {
	if c.MQTT.Broker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.API.TransactionLogURL == "" {
		return fmt.Errorf("TRANSACTION_LOG_URL is required")
	}
	if c.API.DataFlowURL == "" {
		return fmt.Errorf("DATA_FLOW_URL is required")
	}
	if c.Alert.BotURL == "" || c.Alert.BotToken == "" {
		return fmt.Errorf("ALERT_BOT_URL and ALERT_BOT_TOKEN are required")
	}
	if c.Listener.Workers <= 0 {
		return fmt.Errorf("LISTENER_WORKERS must be positive")
	}
	if c.Listener.PersistRetries <= 0 {
		return fmt.Errorf("PERSIST_RETRIES must be positive")
	}
	if len(c.Listener.GatewayTopics) == 0 && len(c.Listener.WearableTopics) == 0 {
		return fmt.Errorf("at least one topic set must be configured")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
