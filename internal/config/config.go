package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Store     StoreConfig     `mapstructure:"store"`
	Source    SourceConfig    `mapstructure:"source"`
	Render    RenderConfig    `mapstructure:"render"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	Channels  ChannelsConfig  `mapstructure:"channels"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DatabaseConfig holds database connection configuration.
// The database backs the delivery audit log and the mysql record source.
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// RedisConfig holds the idempotency store connection settings
type RedisConfig struct {
	Addr           string        `mapstructure:"addr"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db"`
	PoolSize       int           `mapstructure:"pool_size"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	RetryInterval  time.Duration `mapstructure:"retry_interval"`
	MaxWait        time.Duration `mapstructure:"max_wait"`
}

// StoreConfig holds idempotency store behaviour
type StoreConfig struct {
	// Driver is "redis" or "memory".
	Driver    string        `mapstructure:"driver"`
	Namespace string        `mapstructure:"namespace"`
	Retention time.Duration `mapstructure:"retention"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// SourceConfig holds record source configuration
type SourceConfig struct {
	// Driver is "supabase" or "mysql".
	Driver       string        `mapstructure:"driver"`
	SupabaseURL  string        `mapstructure:"supabase_url"`
	SupabaseKey  string        `mapstructure:"supabase_key"`
	Table        string        `mapstructure:"table"`
	SiteURL      string        `mapstructure:"site_url"`
	ImageBaseURL string        `mapstructure:"image_base_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Lookback     time.Duration `mapstructure:"lookback"`
}

// RenderConfig holds message formatting options
type RenderConfig struct {
	Brand          string   `mapstructure:"brand"`
	Hashtags       []string `mapstructure:"hashtags"`
	DescriptionMax int      `mapstructure:"description_max"`
}

// DeliveryConfig holds delivery coordinator options
type DeliveryConfig struct {
	// Order lists channel ids in the order they are attempted.
	Order       []string      `mapstructure:"order"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
}

// ChannelsConfig holds per-channel credentials
type ChannelsConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	WhatsApp WhatsAppConfig `mapstructure:"whatsapp"`
	Facebook FacebookConfig `mapstructure:"facebook"`
	Email    EmailConfig    `mapstructure:"email"`
}

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	BotToken   string  `mapstructure:"bot_token"`
	ChannelID  string  `mapstructure:"channel_id"`
	APIURL     string  `mapstructure:"api_url"`
	RatePerSec float64 `mapstructure:"rate_per_sec"`
}

// WhatsAppConfig holds Twilio WhatsApp configuration
type WhatsAppConfig struct {
	AccountSID string  `mapstructure:"account_sid"`
	AuthToken  string  `mapstructure:"auth_token"`
	From       string  `mapstructure:"from"`
	To         string  `mapstructure:"to"`
	APIURL     string  `mapstructure:"api_url"`
	RatePerSec float64 `mapstructure:"rate_per_sec"`
}

// FacebookConfig holds Facebook Graph API configuration
type FacebookConfig struct {
	AccessToken string  `mapstructure:"access_token"`
	GroupID     string  `mapstructure:"group_id"`
	APIVersion  string  `mapstructure:"api_version"`
	APIURL      string  `mapstructure:"api_url"`
	RatePerSec  float64 `mapstructure:"rate_per_sec"`
}

// EmailConfig holds Gmail API configuration for the email digest channel
type EmailConfig struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RefreshToken string   `mapstructure:"refresh_token"`
	UserEmail    string   `mapstructure:"user_email"`
	Recipients   []string `mapstructure:"recipients"`
	RatePerSec   float64  `mapstructure:"rate_per_sec"`
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Interval        time.Duration `mapstructure:"interval"`
	QueueSize       int           `mapstructure:"queue_size"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TaskHistory     int           `mapstructure:"task_history"`
}

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")

	v.SetDefault("log.level", "info")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.connect_timeout", "30s")
	v.SetDefault("redis.retry_interval", "1s")
	v.SetDefault("redis.max_wait", "10s")

	v.SetDefault("store.driver", "redis")
	v.SetDefault("store.retention", "720h")
	v.SetDefault("store.timeout", "5s")

	v.SetDefault("source.driver", "supabase")
	v.SetDefault("source.table", "job_posts")
	v.SetDefault("source.timeout", "30s")
	v.SetDefault("source.lookback", "24h")

	v.SetDefault("render.brand", "FlexiTask")
	v.SetDefault("render.hashtags", []string{"Jobs", "Hiring"})
	v.SetDefault("render.description_max", 200)

	v.SetDefault("delivery.order", []string{"telegram"})
	v.SetDefault("delivery.send_timeout", "20s")

	v.SetDefault("channels.telegram.rate_per_sec", 1.0)
	v.SetDefault("channels.whatsapp.rate_per_sec", 1.0)
	v.SetDefault("channels.facebook.api_version", "v18.0")
	v.SetDefault("channels.facebook.rate_per_sec", 1.0)
	v.SetDefault("channels.email.rate_per_sec", 1.0)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "60s")
	v.SetDefault("scheduler.queue_size", 8)
	v.SetDefault("scheduler.shutdown_timeout", "30s")
	v.SetDefault("scheduler.task_history", 50)
}

func bindEnvVars(v *viper.Viper) {
	// Server
	v.BindEnv("server.port", "PORT")
	v.BindEnv("log.level", "LOG_LEVEL")

	// Database
	v.BindEnv("database.enabled", "DB_ENABLED")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")

	// Redis / store
	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.username", "REDIS_USERNAME")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")
	v.BindEnv("store.driver", "STORE_DRIVER")
	v.BindEnv("store.namespace", "STORE_NAMESPACE")

	// Source
	v.BindEnv("source.driver", "SOURCE_DRIVER")
	v.BindEnv("source.supabase_url", "SUPABASE_URL")
	v.BindEnv("source.supabase_key", "SUPABASE_KEY")
	v.BindEnv("source.site_url", "JOB_SITE_URL")
	v.BindEnv("source.image_base_url", "IMAGE_BASE_URL")

	// Channels
	v.BindEnv("channels.telegram.bot_token", "TELEGRAM_BOT_TOKEN")
	v.BindEnv("channels.telegram.channel_id", "TELEGRAM_CHANNEL_ID")
	v.BindEnv("channels.whatsapp.account_sid", "TWILIO_ACCOUNT_SID")
	v.BindEnv("channels.whatsapp.auth_token", "TWILIO_AUTH_TOKEN")
	v.BindEnv("channels.whatsapp.from", "TWILIO_WHATSAPP_FROM")
	v.BindEnv("channels.whatsapp.to", "WHATSAPP_GROUP_NUMBER")
	v.BindEnv("channels.facebook.access_token", "FACEBOOK_ACCESS_TOKEN")
	v.BindEnv("channels.facebook.group_id", "FACEBOOK_GROUP_ID")
	v.BindEnv("channels.email.client_id", "GMAIL_CLIENT_ID")
	v.BindEnv("channels.email.client_secret", "GMAIL_CLIENT_SECRET")
	v.BindEnv("channels.email.refresh_token", "GMAIL_REFRESH_TOKEN")
	v.BindEnv("channels.email.user_email", "GMAIL_USER_EMAIL")
	v.BindEnv("channels.email.recipients", "EMAIL_RECIPIENTS")
	v.BindEnv("delivery.order", "DELIVERY_CHANNELS")

	// Scheduler
	v.BindEnv("scheduler.enabled", "SCHEDULER_ENABLED")
	v.BindEnv("scheduler.interval", "POLLING_INTERVAL")
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

var knownChannels = map[string]bool{
	"telegram": true,
	"whatsapp": true,
	"facebook": true,
	"email":    true,
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Store.Driver {
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required for the redis store")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Retention <= 0 {
		return fmt.Errorf("store retention must be greater than 0")
	}

	switch c.Source.Driver {
	case "supabase":
		if c.Source.SupabaseURL == "" || c.Source.SupabaseKey == "" {
			return fmt.Errorf("supabase url and key are required for the supabase source")
		}
	case "mysql":
		if !c.Database.Enabled {
			return fmt.Errorf("the mysql source requires database.enabled")
		}
	default:
		return fmt.Errorf("unknown source driver %q", c.Source.Driver)
	}

	if c.Database.Enabled {
		if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
			return fmt.Errorf("database host, user, and dbname are required")
		}
	}

	if len(c.Delivery.Order) == 0 {
		return fmt.Errorf("at least one delivery channel is required")
	}
	seen := make(map[string]bool, len(c.Delivery.Order))
	for _, ch := range c.Delivery.Order {
		name := strings.ToLower(strings.TrimSpace(ch))
		if !knownChannels[name] {
			return fmt.Errorf("unknown delivery channel %q", ch)
		}
		if seen[name] {
			return fmt.Errorf("delivery channel %q listed twice", ch)
		}
		seen[name] = true
	}

	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler interval must be greater than 0")
	}
	if c.Scheduler.QueueSize <= 0 {
		return fmt.Errorf("scheduler queue size must be greater than 0")
	}

	return nil
}
