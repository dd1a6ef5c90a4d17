package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type ServerConfig struct {
	Addr        string   `mapstructure:"addr"`
	Mode        string   `mapstructure:"mode"`
	CorsOrigins []string `mapstructure:"cors_origins"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	Namespace string `mapstructure:"namespace"`
}

type BlobConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	LocalRoot    string        `mapstructure:"local_root"`
	Timeout      time.Duration `mapstructure:"timeout"`
	CacheMaxCost int64         `mapstructure:"cache_max_cost"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

type WorldConfig struct {
	ObstaclePrefix     string        `mapstructure:"obstacle_prefix"`
	TilesetConcurrency int           `mapstructure:"tileset_concurrency"`
	PreloadNearby      bool          `mapstructure:"preload_nearby"`
	LoadTimeout        time.Duration `mapstructure:"load_timeout"`
	MaxVillageCells    int           `mapstructure:"max_village_cells"`
}

type AgentsConfig struct {
	SourceURL           string        `mapstructure:"source_url"`
	SourceTimeout       time.Duration `mapstructure:"source_timeout"`
	DefaultMovementMode string        `mapstructure:"default_movement_mode"`
	SpawnInterval       time.Duration `mapstructure:"spawn_interval"`
	SpawnSearchRadius   int           `mapstructure:"spawn_search_radius"`
}

type AuthConfig struct {
	JWTSecret    string        `mapstructure:"jwt_secret"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
	NonceTTL     time.Duration `mapstructure:"nonce_ttl"`
	AdminWallets []string      `mapstructure:"admin_wallets"`
}

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Blob   BlobConfig   `mapstructure:"blob"`
	World  WorldConfig  `mapstructure:"world"`
	Agents AgentsConfig `mapstructure:"agents"`
	Auth   AuthConfig   `mapstructure:"auth"`
}

var (
	mu      sync.RWMutex
	current *Config
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.namespace", "hamlet")

	v.SetDefault("blob.timeout", 15*time.Second)
	v.SetDefault("blob.cache_max_cost", 256<<20)
	v.SetDefault("blob.cache_ttl", 30*time.Minute)

	v.SetDefault("world.obstacle_prefix", "obstacle")
	v.SetDefault("world.tileset_concurrency", 8)
	v.SetDefault("world.preload_nearby", true)
	v.SetDefault("world.load_timeout", time.Minute)
	v.SetDefault("world.max_village_cells", 64)

	v.SetDefault("agents.source_timeout", 15*time.Second)
	v.SetDefault("agents.default_movement_mode", "random")
	v.SetDefault("agents.spawn_interval", 5*time.Second)
	v.SetDefault("agents.spawn_search_radius", 10)

	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.nonce_ttl", 5*time.Minute)
}

// Load reads .env, then config.yaml (or the explicit path), then VW_* environment overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("VW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if dir := os.Getenv("VILLAGE_CONFIG"); dir != "" {
			v.AddConfigPath(dir)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	mu.Lock()
	current = &cfg
	mu.Unlock()
	return &cfg, nil
}

// GetConfig returns the loaded configuration, loading defaults on first use.
func GetConfig() *Config {
	mu.RLock()
	cfg := current
	mu.RUnlock()
	if cfg != nil {
		return cfg
	}
	cfg, err := Load("")
	if err != nil {
		panic(err)
	}
	return cfg
}
