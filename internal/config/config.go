// Package config holds the recognized configuration surface of the
// offline-sync daemon (spec §6.6), loaded from YAML with environment
// variable overrides the way the rest of this codebase's ambient
// configuration is loaded.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oceanreach/offlinesync/pkg/types"
)

// Config is the top-level configuration for one offline-sync process.
type Config struct {
	Mode   types.Mode   `yaml:"mode"`
	ShipID string       `yaml:"shipId"`

	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Bus      BusConfig      `yaml:"bus"`
	Sync     SyncConfig     `yaml:"sync"`
	Media    MediaConfig    `yaml:"media"`
	API      APIConfig      `yaml:"api"`

	// ContentTypes is an allow-list; empty means all content types
	// are synced.
	ContentTypes []string `yaml:"contentTypes"`
}

type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

type RedisConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"poolSize"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

type BusConfig struct {
	Brokers []string  `yaml:"brokers"`
	TLS     bool      `yaml:"tls"`
	Auth    AuthConfig `yaml:"auth"`
	Topics  TopicsConfig `yaml:"topics"`

	ConnectTimeout time.Duration `yaml:"connectTimeout"`
}

type AuthConfig struct {
	Mechanism string `yaml:"mechanism"` // "", "plain", "scram-sha-256", "scram-sha-512"
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

type TopicsConfig struct {
	MasterUpdates string `yaml:"masterUpdates"`
	ShipUpdates   string `yaml:"shipUpdates"`
}

type SyncConfig struct {
	BatchSize                 int           `yaml:"batchSize"`
	RetryAttempts             int           `yaml:"retryAttempts"`
	RetryDelay                time.Duration `yaml:"retryDelay"`
	ConnectivityCheckInterval time.Duration `yaml:"connectivityCheckInterval"`
	DebounceMs                time.Duration `yaml:"debounceMs"`
	AutoPushInterval          time.Duration `yaml:"autoPushInterval"`
	HeartbeatInterval         time.Duration `yaml:"heartbeatInterval"`
	JanitorInterval           time.Duration `yaml:"janitorInterval"`
	QueueRetention            time.Duration `yaml:"queueRetention"`
	DedupRetention            time.Duration `yaml:"dedupRetention"`
	OnlineThreshold           time.Duration `yaml:"onlineThreshold"`
	ReconnectStabilization    time.Duration `yaml:"reconnectStabilization"`
	// ConflictStrategy gates whether resolver.AutoMergeStrategy runs
	// unattended ("merge"), falls back to last-writer-wins
	// ("last_writer_wins"), or always surfaces to the management
	// API for a human decision ("manual", the default).
	ConflictStrategy string `yaml:"conflictStrategy"`
}

type MediaConfig struct {
	Enabled           bool        `yaml:"enabled"`
	MasterStore       StoreConfig `yaml:"masterStore"`
	LocalStore        StoreConfig `yaml:"localStore"`
	TransformURLs     bool        `yaml:"transformUrls"`
	MaxFilesPerSync   int         `yaml:"maxFilesPerSync"`
	DisableFullSync   bool        `yaml:"disableFullSync"`
}

type StoreConfig struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"accessKeyId"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	Bucket          string `yaml:"bucket"`
	BaseURL         string `yaml:"baseUrl"`
	UploadPath      string `yaml:"uploadPath"`
	UseSSL          bool   `yaml:"useSsl"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Default returns the configuration defaults named throughout spec §4
// and §6.6, before any file or environment override is applied.
func Default() *Config {
	return &Config{
		Mode: types.ModeReplica,
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Name:            "offlinesync",
			SSLMode:         "prefer",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Host:         "localhost",
			Port:         6379,
			PoolSize:     10,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Bus: BusConfig{
			Topics: TopicsConfig{
				MasterUpdates: "master-updates",
				ShipUpdates:   "ship-updates",
			},
			ConnectTimeout: 60 * time.Second,
		},
		Sync: SyncConfig{
			BatchSize:                 50,
			RetryAttempts:             3,
			RetryDelay:                5 * time.Second,
			ConnectivityCheckInterval: 30 * time.Second,
			DebounceMs:                1 * time.Second,
			AutoPushInterval:          30 * time.Second,
			HeartbeatInterval:         60 * time.Second,
			JanitorInterval:           5 * time.Minute,
			QueueRetention:            7 * 24 * time.Hour,
			DedupRetention:            7 * 24 * time.Hour,
			OnlineThreshold:           300 * time.Second,
			ReconnectStabilization:    3 * time.Second,
			ConflictStrategy:          "manual",
		},
		Media: MediaConfig{
			TransformURLs:   true,
			MaxFilesPerSync: 25,
		},
		API: APIConfig{
			Enabled: true,
			Listen:  "0.0.0.0:8383",
		},
	}
}

// Load reads YAML from path (if non-empty) over the defaults, then
// applies OFFLINESYNC_* environment overrides for the handful of
// values operators most commonly need to set per-deployment without
// editing the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OFFLINESYNC_MODE"); v != "" {
		cfg.Mode = types.Mode(v)
	}
	if v := os.Getenv("OFFLINESYNC_SHIP_ID"); v != "" {
		cfg.ShipID = v
	}
	if v := os.Getenv("OFFLINESYNC_BUS_BROKERS"); v != "" {
		cfg.Bus.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("OFFLINESYNC_PG_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("OFFLINESYNC_PG_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("OFFLINESYNC_REDIS_HOST"); v != "" {
		cfg.Redis.Host = v
	}
	if v := os.Getenv("OFFLINESYNC_API_LISTEN"); v != "" {
		cfg.API.Listen = v
	}
	if v := os.Getenv("OFFLINESYNC_CONFLICT_STRATEGY"); v != "" {
		cfg.Sync.ConflictStrategy = v
	}
	if v := os.Getenv("OFFLINESYNC_MEDIA_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Media.Enabled = b
		}
	}
}

// Validate rejects configuration that would otherwise leave the
// engine half-started: an unknown mode, a replica with no shipId, or
// media enabled without master and local store endpoints and buckets.
func (c *Config) Validate() error {
	switch c.Mode {
	case types.ModeMaster, types.ModeReplica:
	default:
		return fmt.Errorf("config: mode must be %q or %q, got %q", types.ModeMaster, types.ModeReplica, c.Mode)
	}
	if c.Mode == types.ModeReplica && c.ShipID == "" {
		return fmt.Errorf("config: shipId is required in replica mode")
	}
	if len(c.Bus.Brokers) == 0 {
		return fmt.Errorf("config: bus.brokers must not be empty")
	}
	if c.Media.Enabled {
		if c.Media.MasterStore.Endpoint == "" || c.Media.LocalStore.Endpoint == "" {
			return fmt.Errorf("config: media.enabled requires masterStore and localStore endpoints")
		}
		if c.Media.MasterStore.Bucket == "" || c.Media.LocalStore.Bucket == "" {
			return fmt.Errorf("config: media.enabled requires masterStore and localStore buckets")
		}
	}
	switch c.Sync.ConflictStrategy {
	case "manual", "merge", "last_writer_wins":
	default:
		return fmt.Errorf("config: sync.conflictStrategy must be manual, merge, or last_writer_wins, got %q", c.Sync.ConflictStrategy)
	}
	return nil
}

// ContentTypeAllowed reports whether a content type passes the
// allow-list (empty allow-list means every type is synced).
func (c *Config) ContentTypeAllowed(contentType string) bool {
	if len(c.ContentTypes) == 0 {
		return true
	}
	for _, ct := range c.ContentTypes {
		if ct == contentType {
			return true
		}
	}
	return false
}
