package config

import (
	"strings"
	"time"

	commoncfg "fieldops/common/config"
	"fieldops/common/errors"

	"github.com/spf13/viper"
)

// Config fieldops-api 配置
type Config struct {
	HTTP struct {
		Addr              string        `mapstructure:"addr"`
		ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
		ReadTimeout       time.Duration `mapstructure:"read_timeout"`
		WriteTimeout      time.Duration `mapstructure:"write_timeout"`
		IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	} `mapstructure:"http"`
	// DBEnabled false 时使用内存 Store（本地开发）
	DBEnabled bool                          `mapstructure:"db_enabled"`
	Database  commoncfg.DatabaseConfig      `mapstructure:"db"`
	Redis     commoncfg.RedisConfig         `mapstructure:"redis"`
	MQTT      MQTTConfig                    `mapstructure:"mqtt"`
	Storage   commoncfg.ObjectStorageConfig `mapstructure:"storage"`
	Notify    NotifyConfig                  `mapstructure:"notify"`
	Location  LocationConfig                `mapstructure:"location"`
	Log       struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

// MQTTConfig 定位上报订阅配置
type MQTTConfig struct {
	commoncfg.MQTTConfig `mapstructure:",squash"`
	// TopicPrefix 设备发布到 <prefix>/<team_member_id>
	TopicPrefix string `mapstructure:"topic_prefix"`
	// DeviceSecret 设备令牌的 HMAC 密钥；为空时不接收定位
	DeviceSecret string `mapstructure:"device_secret"`
}

// NotifyConfig 通知推送配置
type NotifyConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"` // 为空时不推送
	Timeout    time.Duration `mapstructure:"timeout"`
	QueueSize  int           `mapstructure:"queue_size"` // 待推送队列长度，满时丢弃
	StreamMax  int64         `mapstructure:"stream_max"` // notifications:<user_id> 保留条数
}

// LocationConfig 定位缓存配置
type LocationConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// envKeys 配置项 -> 环境变量
var envKeys = map[string]string{
	"http.addr":               "HTTP_ADDR",
	"http.read_timeout":       "HTTP_READ_TIMEOUT",
	"http.write_timeout":      "HTTP_WRITE_TIMEOUT",
	"http.idle_timeout":       "HTTP_IDLE_TIMEOUT",
	"db_enabled":              "DB_ENABLED",
	"db.host":                 "DB_HOST",
	"db.port":                 "DB_PORT",
	"db.user":                 "DB_USER",
	"db.password":             "DB_PASSWORD",
	"db.name":                 "DB_NAME",
	"db.sslmode":              "DB_SSLMODE",
	"db.max_conns":            "DB_MAX_CONNS",
	"db.max_idle":             "DB_MAX_IDLE",
	"redis.addr":              "REDIS_ADDR",
	"redis.password":          "REDIS_PASSWORD",
	"redis.db":                "REDIS_DB",
	"redis.pool_size":         "REDIS_POOL_SIZE",
	"mqtt.enabled":            "MQTT_ENABLED",
	"mqtt.broker":             "MQTT_BROKER",
	"mqtt.client_id":          "MQTT_CLIENT_ID",
	"mqtt.username":           "MQTT_USERNAME",
	"mqtt.password":           "MQTT_PASSWORD",
	"mqtt.qos":                "MQTT_QOS",
	"mqtt.topic_prefix":       "MQTT_TOPIC_PREFIX",
	"mqtt.device_secret":      "MQTT_DEVICE_SECRET",
	"storage.enabled":         "STORAGE_ENABLED",
	"storage.endpoint":        "STORAGE_ENDPOINT",
	"storage.access_key":      "STORAGE_ACCESS_KEY",
	"storage.secret_key":      "STORAGE_SECRET_KEY",
	"storage.bucket":          "STORAGE_BUCKET",
	"storage.use_ssl":         "STORAGE_USE_SSL",
	"storage.public_base_url": "STORAGE_PUBLIC_BASE_URL",
	"notify.webhook_url":      "NOTIFY_WEBHOOK_URL",
	"notify.timeout":          "NOTIFY_TIMEOUT",
	"notify.queue_size":       "NOTIFY_QUEUE_SIZE",
	"notify.stream_max":       "NOTIFY_STREAM_MAX",
	"location.cache_ttl":      "LOCATION_CACHE_TTL",
	"log.level":               "LOG_LEVEL",
	"log.format":              "LOG_FORMAT",
}

// SetDefaults 默认值
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_header_timeout", 5*time.Second)
	v.SetDefault("http.read_timeout", 30*time.Second)
	v.SetDefault("http.write_timeout", 60*time.Second)
	v.SetDefault("http.idle_timeout", 120*time.Second)
	v.SetDefault("db_enabled", true)
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "postgres")
	v.SetDefault("db.name", "fieldops")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_conns", 20)
	v.SetDefault("db.max_idle", 5)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.dial_timeout", 3*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "fieldops-api")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.topic_prefix", "fieldops/locations")
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.bucket", "job-photos")
	v.SetDefault("notify.timeout", 5*time.Second)
	v.SetDefault("notify.queue_size", 256)
	v.SetDefault("notify.stream_max", 1000)
	v.SetDefault("location.cache_ttl", 5*time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// New 构建 viper：默认值 -> 配置文件（FIELDOPS_CONFIG，可选）-> 环境变量
func New(configPath string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return nil, errors.Wrapf(err, "bind env %s", env)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
		}
	}
	return v, nil
}

// Load 读取配置；FIELDOPS_CONFIG 指向可选的 yaml/toml 文件
func Load() (*Config, error) {
	boot := viper.New()
	_ = boot.BindEnv("config", "FIELDOPS_CONFIG")

	v, err := New(boot.GetString("config"))
	if err != nil {
		return nil, err
	}
	return LoadWithViper(v)
}

// LoadWithViper 从已有 viper 实例解析
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if cfg.Location.CacheTTL < 0 {
		return nil, errors.Validationf("location.cache_ttl must not be negative")
	}
	return &cfg, nil
}
