package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	ServiceName    = "market-feed-service"
	ServiceVersion = ""
)

var (
	Env *EnvConfig
)

const (
	defaultFeedBaseURL          = "https://api.upstox.com"
	defaultFeedAPIVersion       = "2.0"
	defaultFeedMaxAttempts      = 3
	defaultFeedBaseRetryDelay   = 1 * time.Second
	defaultFeedAuthorizeTimeout = 10 * time.Second
	defaultFeedHandshakeTimeout = 10 * time.Second
	defaultFeedPingInterval     = 2 * time.Minute
	defaultFeedEventBufferSize  = 1024
)

type EnvConfig struct {
	Env                     string                    `mapstructure:"env"`
	Log                     LogConfig                 `mapstructure:"log"`
	GracefulShutdownTimeout time.Duration             `mapstructure:"graceful_shutdown_timeout"`
	APIKeys                 []APIKeyConfig            `mapstructure:"api_keys"`
	Port                    map[string]string         `mapstructure:"port"`
	Feed                    FeedConfig                `mapstructure:"feed"`
	Database                map[string]DatabaseConfig `mapstructure:"database"`
	Redis                   map[string]RedisConfig    `mapstructure:"redis"`
	NatsJetstream           NatsJetstreamConfig       `mapstructure:"nats_jetstream"`
}

type APIKeyConfig struct {
	Name      string `mapstructure:"name"`
	Key       string `mapstructure:"key"`
	Active    bool   `mapstructure:"active"`
	ExpiredAt any    `mapstructure:"expired_at"`
}

// FeedConfig describes the upstream market data feed and the connection policy
// used for every instrument key.
type FeedConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	AccessToken      string        `mapstructure:"access_token"`
	APIVersion       string        `mapstructure:"api_version"`
	SchemaPath       string        `mapstructure:"schema_path"`
	AuthorizeTimeout time.Duration `mapstructure:"authorize_timeout"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	BaseRetryDelay   time.Duration `mapstructure:"base_retry_delay"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	EventBufferSize  int           `mapstructure:"event_buffer_size"`
}

type NatsJetstreamConfig struct {
	URL             string        `mapstructure:"url"`
	MaxRetries      int           `mapstructure:"max_retries"`
	ReconnectFactor float64       `mapstructure:"reconnect_factor"`
	MinJitter       time.Duration `mapstructure:"min_jitter"`
	MaxJitter       time.Duration `mapstructure:"max_jitter"`
	// PublishBufferSize bounds the tick publisher queue.
	PublishBufferSize int `mapstructure:"publish_buffer_size"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	ReconnectFactor float64       `mapstructure:"reconnect_factor"`
	MinJitter       time.Duration `mapstructure:"min_jitter"`
	MaxJitter       time.Duration `mapstructure:"max_jitter"`
	MaxRetry        int           `mapstructure:"max_retry"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxActiveConns  int           `mapstructure:"max_active_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type LogConfig struct {
	ShowCaller bool   `mapstructure:"show_caller"`
	LogLevel   string `mapstructure:"log_level"`
}

type RedisConfig struct {
	CacheDSN           string        `mapstructure:"cache_dsn"`
	SnapshotTTL        time.Duration `mapstructure:"snapshot_ttl"`
	SnapshotBufferSize int           `mapstructure:"snapshot_buffer_size"`
}

func LoadConfig(configPath string) error {
	viper.Reset()

	configPath = strings.TrimSpace(configPath)
	if configPath == "" {
		viper.SetConfigName("config")
		viper.SetConfigType("yml")
		viper.AddConfigPath(".")
	} else {
		ext := strings.ToLower(filepath.Ext(configPath))
		if ext == ".yml" || ext == ".yaml" {
			viper.SetConfigFile(configPath)
		} else {
			viper.SetConfigName(filepath.Base(configPath))
			viper.SetConfigType("yml")
			configDir := filepath.Dir(configPath)
			if configDir == "." || configDir == "" {
				viper.AddConfigPath(".")
			} else {
				viper.AddConfigPath(configDir)
			}
		}
	}

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	err = viper.Unmarshal(&Env)
	if err != nil {
		return fmt.Errorf("failed to unmarshal config file: %w", err)
	}

	Env.Feed = Env.Feed.WithDefaults()

	return nil
}

// WithDefaults fills every unset feed option. The access token falls back to
// FEED_ACCESS_TOKEN and then UPSTOX_ACCESS_TOKEN.
func (c FeedConfig) WithDefaults() FeedConfig {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		c.BaseURL = defaultFeedBaseURL
	}

	c.AccessToken = strings.TrimSpace(c.AccessToken)
	if c.AccessToken == "" {
		c.AccessToken = strings.TrimSpace(os.Getenv("FEED_ACCESS_TOKEN"))
	}
	if c.AccessToken == "" {
		c.AccessToken = strings.TrimSpace(os.Getenv("UPSTOX_ACCESS_TOKEN"))
	}

	if strings.TrimSpace(c.APIVersion) == "" {
		c.APIVersion = defaultFeedAPIVersion
	}
	if c.AuthorizeTimeout <= 0 {
		c.AuthorizeTimeout = defaultFeedAuthorizeTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultFeedHandshakeTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultFeedMaxAttempts
	}
	if c.BaseRetryDelay <= 0 {
		c.BaseRetryDelay = defaultFeedBaseRetryDelay
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultFeedPingInterval
	}
	if c.EventBufferSize <= 0 {
		c.EventBufferSize = defaultFeedEventBufferSize
	}

	return c
}
