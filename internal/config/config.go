// Package config loads and validates indexer configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/mixtape-indexer/internal/chain"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig           `mapstructure:"server"`
	Storage    StorageConfig          `mapstructure:"storage"`
	TaskSource TaskSourceConfig       `mapstructure:"task_source"`
	HTTP       HTTPConfig             `mapstructure:"http"`
	IPFS       IPFSConfig             `mapstructure:"ipfs"`
	Retry      RetryConfig            `mapstructure:"retry"`
	Scheduler  SchedulerConfig        `mapstructure:"scheduler"`
	Chains     []chain.Chain          `mapstructure:"chains"`
	RPC        map[string]RPCOverride `mapstructure:"rpc"`
	Publish    PublishConfig          `mapstructure:"publish"`
	DB         DBConfig               `mapstructure:"db"`
	Logging    LoggingConfig          `mapstructure:"logging"`
}

// ServerConfig controls the status/metrics HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// StorageConfig locates the on-disk output tree and the image blob backend.
type StorageConfig struct {
	Root       string `mapstructure:"root"`
	Images     bool   `mapstructure:"images"`
	Backend    string `mapstructure:"backend"`
	GCSBucket  string `mapstructure:"gcs_bucket"`
	ImagesRoot string `mapstructure:"images_root"`
}

// TaskSourceConfig points at the HTTP endpoint listing contracts to index.
type TaskSourceConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// HTTPConfig configures outbound fetches.
type HTTPConfig struct {
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	UserAgent      string  `mapstructure:"user_agent"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// IPFSConfig lists the gateways used for rotation and the pinning-service
// prefixes that get rewritten.
type IPFSConfig struct {
	Gateways        []string `mapstructure:"gateways"`
	PinningPrefixes []string `mapstructure:"pinning_prefixes"`
}

// RetryConfig bounds the per-token attempt budget.
type RetryConfig struct {
	MaxAttempts      int `mapstructure:"max_attempts"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// SchedulerConfig drives the continuous loop.
type SchedulerConfig struct {
	Chains    []string      `mapstructure:"chains"`
	Delay     time.Duration `mapstructure:"delay"`
	BatchSize int           `mapstructure:"batch_size"`
}

// RPCOverride replaces a chain's endpoints, typically from the environment.
type RPCOverride struct {
	Primary   string `mapstructure:"primary"`
	Secondary string `mapstructure:"secondary"`
}

// PublishConfig toggles the publish collaborators.
type PublishConfig struct {
	Git    GitConfig    `mapstructure:"git"`
	PubSub PubSubConfig `mapstructure:"pubsub"`
}

// GitConfig controls committing and pushing the storage root.
type GitConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Remote  string `mapstructure:"remote"`
	Branch  string `mapstructure:"branch"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// DBConfig controls the optional Postgres record mirror.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INDEXER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindRPCEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.Chains) == 0 {
		cfg.Chains = chain.Defaults()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("storage.root", "data")
	v.SetDefault("storage.images", false)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("http.timeout_seconds", 10)
	v.SetDefault("http.user_agent", "mixtape-indexer/0.1")
	v.SetDefault("http.rate_limit_rps", 0)
	v.SetDefault("http.rate_limit_burst", 1)
	v.SetDefault("ipfs.gateways", []string{"https://ipfs.io/ipfs/", "https://dweb.link/ipfs/"})
	v.SetDefault("ipfs.pinning_prefixes", []string{"https://gateway.pinata.cloud/ipfs/"})
	v.SetDefault("retry.max_attempts", 15)
	v.SetDefault("retry.backoff_initial_ms", 0)
	v.SetDefault("retry.backoff_max_ms", 5000)
	v.SetDefault("scheduler.delay", 15*time.Minute)
	v.SetDefault("scheduler.batch_size", 10)
	v.SetDefault("publish.git.enabled", false)
	v.SetDefault("publish.git.remote", "")
	v.SetDefault("publish.git.branch", "")
	v.SetDefault("db.table", "token_metadata")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("logging.development", true)
}

// bindRPCEnv lets INDEXER_RPC_<CHAIN>_PRIMARY style variables reach nested
// keys that have no default. INFURA_URL is honoured as ethereum's secondary.
func bindRPCEnv(v *viper.Viper) error {
	for _, c := range chain.Defaults() {
		for _, slot := range []string{"primary", "secondary"} {
			key := fmt.Sprintf("rpc.%s.%s", c.Name, slot)
			envs := []string{"INDEXER_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}
			if c.Name == "ethereum" && slot == "secondary" {
				envs = append(envs, "INFURA_URL")
			}
			if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
				return fmt.Errorf("bind %s: %w", key, err)
			}
		}
	}
	return nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if strings.TrimSpace(c.Storage.Root) == "" {
		return fmt.Errorf("storage.root is required")
	}
	switch c.Storage.Backend {
	case "local", "memory":
	case "gcs":
		if c.Storage.Images && c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of local, gcs, memory", c.Storage.Backend)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.RateLimitRPS < 0 {
		return fmt.Errorf("http.rate_limit_rps must be >= 0")
	}
	if len(c.IPFS.Gateways) == 0 {
		return fmt.Errorf("ipfs.gateways must list at least one gateway")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Retry.BackoffInitialMs < 0 || c.Retry.BackoffMaxMs < 0 {
		return fmt.Errorf("retry backoff must be >= 0")
	}
	if c.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("scheduler.batch_size must be > 0")
	}
	if c.Scheduler.Delay < 0 {
		return fmt.Errorf("scheduler.delay must be >= 0")
	}
	if c.Publish.PubSub.TopicName != "" && c.Publish.PubSub.ProjectID == "" {
		return fmt.Errorf("publish.pubsub.project_id must be set when a topic is configured")
	}
	if _, err := chain.NewRegistry(c.ChainTable()); err != nil {
		return fmt.Errorf("chains: %w", err)
	}
	return nil
}

// ChainTable returns the configured chains with RPC overrides applied.
func (c Config) ChainTable() []chain.Chain {
	out := make([]chain.Chain, 0, len(c.Chains))
	for _, ch := range c.Chains {
		if o, ok := c.RPC[strings.ToLower(ch.Name)]; ok {
			if o.Primary != "" {
				ch.RPCURL = o.Primary
			}
			if o.Secondary != "" {
				ch.SecondaryRPCURL = o.Secondary
			}
		}
		out = append(out, ch)
	}
	return out
}

// RequestTimeout converts the HTTP timeout to a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
