package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpiryHours int    `mapstructure:"expiry_hours"`
}

type PushConfig struct {
	AppID         string        `mapstructure:"app_id"`
	RESTKey       string        `mapstructure:"rest_key"`
	BaseURL       string        `mapstructure:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	ReadyTimeout  time.Duration `mapstructure:"ready_timeout"`
	ReadyInterval time.Duration `mapstructure:"ready_interval"`
}

type QueueConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	Lease        time.Duration `mapstructure:"lease"`
	MaxAge       time.Duration `mapstructure:"max_age"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type EmailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type SchedulerConfig struct {
	Timezone string `mapstructure:"timezone"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Push      PushConfig      `mapstructure:"push"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Email     EmailConfig     `mapstructure:"email"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// ServiceKeyHash is the bcrypt hash of the shared internal service key.
	ServiceKeyHash string `mapstructure:"service_key_hash"`
}

// secrets are credentials that only ever come from the environment.
type secrets struct {
	DBPassword     string `envconfig:"DB_PASSWORD"`
	RedisURL       string `envconfig:"REDIS_URL"`
	JWTSecret      string `envconfig:"JWT_SECRET"`
	PushAppID      string `envconfig:"ONESIGNAL_APP_ID"`
	PushRESTKey    string `envconfig:"ONESIGNAL_REST_KEY"`
	ServiceKeyHash string `envconfig:"SERVICE_KEY_HASH"`
	SMTPPassword   string `envconfig:"SMTP_PASSWORD"`
}

// Load reads config.yml, overlays environment secrets, and fails fast when a
// required credential is absent so an invocation never partially proceeds.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/app")
	viper.AddConfigPath("/app/config")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var env secrets
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	if env.DBPassword != "" {
		cfg.Database.Password = env.DBPassword
	}
	if env.RedisURL != "" {
		cfg.Redis.URL = env.RedisURL
	}
	if env.JWTSecret != "" {
		cfg.JWT.Secret = env.JWTSecret
	}
	if env.PushAppID != "" {
		cfg.Push.AppID = env.PushAppID
	}
	if env.PushRESTKey != "" {
		cfg.Push.RESTKey = env.PushRESTKey
	}
	if env.ServiceKeyHash != "" {
		cfg.ServiceKeyHash = env.ServiceKeyHash
	}
	if env.SMTPPassword != "" {
		cfg.Email.Password = env.SMTPPassword
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Queue.BatchSize == 0 {
		cfg.Queue.BatchSize = 50
	}
	if cfg.Queue.Lease == 0 {
		cfg.Queue.Lease = time.Minute
	}
	if cfg.Queue.MaxAge == 0 {
		cfg.Queue.MaxAge = 24 * time.Hour
	}
	if cfg.Queue.PollInterval == 0 {
		cfg.Queue.PollInterval = 30 * time.Second
	}
	if cfg.Push.Timeout == 0 {
		cfg.Push.Timeout = 10 * time.Second
	}
	if cfg.Push.ReadyTimeout == 0 {
		cfg.Push.ReadyTimeout = 30 * time.Second
	}
	if cfg.Push.ReadyInterval == 0 {
		cfg.Push.ReadyInterval = 100 * time.Millisecond
	}
	if cfg.JWT.ExpiryHours == 0 {
		cfg.JWT.ExpiryHours = 24
	}
	if cfg.Scheduler.Timezone == "" {
		cfg.Scheduler.Timezone = "UTC"
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 50
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 100
	}
}

func validate(cfg *Config) error {
	if cfg.Push.AppID == "" {
		return fmt.Errorf("push provider app id is not configured")
	}
	if cfg.Push.RESTKey == "" {
		return fmt.Errorf("push provider REST key is not configured")
	}
	if cfg.JWT.Secret == "" {
		return fmt.Errorf("jwt secret is not configured")
	}
	if cfg.ServiceKeyHash == "" {
		return fmt.Errorf("service key hash is not configured")
	}
	return nil
}
