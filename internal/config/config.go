// Package config declares every configuration knob enumerated in spec §6
// and loads them via viper, following the YAML+viper pattern in
// flyingrobots-go-redis-work-queue's internal/config package. The struct
// shape itself (grouped sub-configs with yaml tags) follows FairForge's
// internal/config/config.go.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig            `mapstructure:"server"`
	Compression  CompressionConfig       `mapstructure:"compression"`
	Lazy         LazyConfig              `mapstructure:"lazy"`
	Chunking     ChunkingConfig          `mapstructure:"chunking"`
	Dedup        DedupConfig             `mapstructure:"deduplication"`
	Archival     ArchivalConfig          `mapstructure:"archival"`
	Backends     map[string]BackendConfig `mapstructure:"backends"`
	Redis        RedisConfig             `mapstructure:"redis"`
	Repository   RepositoryConfig        `mapstructure:"repository"`
}

type ServerConfig struct {
	HTTPPort    int    `mapstructure:"http_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
	LogLevel    string `mapstructure:"log_level"`
}

type CompressionConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Algorithm       string `mapstructure:"algorithm"` // adaptive, zstd, gzip, zlib, none
	Level           int    `mapstructure:"level"`     // 0-22
	ThresholdBytes  int    `mapstructure:"threshold_bytes"`
	LargeInputBytes int    `mapstructure:"large_input_bytes"` // >= this, skip trials and go straight to zstd
}

type LazyConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	PreviewLength int  `mapstructure:"preview_length"`
}

type ChunkingConfig struct {
	Enabled   bool `mapstructure:"enabled"`
	ChunkSize int  `mapstructure:"chunk_size"`
	MaxChunks int  `mapstructure:"max_chunks"`
}

type DedupConfig struct {
	Strategy        string  `mapstructure:"strategy"` // content_hash, fuzzy, semantic
	Threshold       float64 `mapstructure:"threshold"`
	FuzzyCandidateK int     `mapstructure:"fuzzy_candidate_k"`
	HashMethod      string  `mapstructure:"hash_method"` // xxhash (default), sha256, crc32; any other value, md5 and murmur included, hashes with xxhash
}

type ArchivalConfig struct {
	DataDir  string                   `mapstructure:"data_dir"`
	Policies map[string]PolicyConfig  `mapstructure:"policies"`
}

type PolicyConfig struct {
	RetentionDays        int    `mapstructure:"retention_days"`
	CompressionEnabled   bool   `mapstructure:"compression_enabled"`
	CompressionLevel     int    `mapstructure:"compression_level"`
	ArchiveFormat        string `mapstructure:"archive_format"` // tar.gz, zip, directory
	IncludeMetadata      bool   `mapstructure:"include_metadata"`
	IncludeRelations     bool   `mapstructure:"include_relations"`
	IncludeContexts      bool   `mapstructure:"include_contexts"`
	MaxArchiveSizeMB     int    `mapstructure:"max_archive_size_mb"`
	SplitLargeArchives   bool   `mapstructure:"split_large_archives"`
	ChecksumVerification bool   `mapstructure:"checksum_verification"`
}

type BackendConfig struct {
	Type             string         `mapstructure:"type"`
	Priority         int            `mapstructure:"priority"`
	Enabled          bool           `mapstructure:"enabled"`
	RedundancyFactor int            `mapstructure:"redundancy_factor"`
	Options          map[string]any `mapstructure:"options"`
}

type RedisConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

type RepositoryConfig struct {
	Engine string `mapstructure:"engine"` // sqlite (default, embedded) or postgres
	DSN    string `mapstructure:"dsn"`
}

// Default returns the configuration spec §6 specifies when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{HTTPPort: 8080, MetricsPort: 9090, LogLevel: "info"},
		Compression: CompressionConfig{
			Enabled:         true,
			Algorithm:       "adaptive",
			Level:           3,
			ThresholdBytes:  100,
			LargeInputBytes: 50000,
		},
		Lazy:     LazyConfig{Enabled: true, PreviewLength: 100},
		Chunking: ChunkingConfig{Enabled: false, ChunkSize: 10000, MaxChunks: 100},
		Dedup: DedupConfig{
			Strategy:        "content_hash",
			Threshold:       0.95,
			FuzzyCandidateK: 100,
			HashMethod:      "xxhash",
		},
		Archival: ArchivalConfig{
			DataDir:  "./data/archives",
			Policies: map[string]PolicyConfig{},
		},
		Backends: map[string]BackendConfig{},
		Redis:    RedisConfig{Enabled: false, Host: "localhost", Port: 6379},
		Repository: RepositoryConfig{
			Engine: "sqlite",
			DSN:    "./data/memvault.db",
		},
	}
}

// Load reads configuration from a YAML file (if present) with env-var
// overrides, layered on top of Default().
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MEMVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	applyDefaults(v, Default())

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WatchReload re-loads the whole configuration on every write to the file
// and passes it to onChange, the way FairForge's internal/drivers/watch.go
// reacts to fsnotify events for driver config. It does not separate
// non-structural knobs (compression level/threshold, dedup threshold) from
// structural ones (backend registration, repository engine): onChange
// receives all of them and decides what to apply.
func WatchReload(path string, onChange func(*Config)) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch config: %w", err)
	}

	go func() {
		for event := range watcher.Events {
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				continue
			}
			onChange(cfg)
		}
	}()

	return watcher, nil
}

func applyDefaults(v *viper.Viper, def *Config) {
	v.SetDefault("server.http_port", def.Server.HTTPPort)
	v.SetDefault("server.metrics_port", def.Server.MetricsPort)
	v.SetDefault("server.log_level", def.Server.LogLevel)

	v.SetDefault("compression.enabled", def.Compression.Enabled)
	v.SetDefault("compression.algorithm", def.Compression.Algorithm)
	v.SetDefault("compression.level", def.Compression.Level)
	v.SetDefault("compression.threshold_bytes", def.Compression.ThresholdBytes)
	v.SetDefault("compression.large_input_bytes", def.Compression.LargeInputBytes)

	v.SetDefault("lazy.enabled", def.Lazy.Enabled)
	v.SetDefault("lazy.preview_length", def.Lazy.PreviewLength)

	v.SetDefault("chunking.enabled", def.Chunking.Enabled)
	v.SetDefault("chunking.chunk_size", def.Chunking.ChunkSize)
	v.SetDefault("chunking.max_chunks", def.Chunking.MaxChunks)

	v.SetDefault("deduplication.strategy", def.Dedup.Strategy)
	v.SetDefault("deduplication.threshold", def.Dedup.Threshold)
	v.SetDefault("deduplication.fuzzy_candidate_k", def.Dedup.FuzzyCandidateK)
	v.SetDefault("deduplication.hash_method", def.Dedup.HashMethod)

	v.SetDefault("archival.data_dir", def.Archival.DataDir)

	v.SetDefault("redis.enabled", def.Redis.Enabled)
	v.SetDefault("redis.host", def.Redis.Host)
	v.SetDefault("redis.port", def.Redis.Port)

	v.SetDefault("repository.engine", def.Repository.Engine)
	v.SetDefault("repository.dsn", def.Repository.DSN)
}

// Validate checks constraints that would otherwise surface confusingly deep
// inside the engine (spec §7 Config errors: "fail at startup or first use").
func Validate(cfg *Config) error {
	switch cfg.Compression.Algorithm {
	case "adaptive", "zstd", "gzip", "zlib", "none":
	default:
		return fmt.Errorf("compression.algorithm: unknown value %q", cfg.Compression.Algorithm)
	}
	if cfg.Compression.Level < 0 || cfg.Compression.Level > 22 {
		return fmt.Errorf("compression.level must be 0-22, got %d", cfg.Compression.Level)
	}
	if cfg.Chunking.ChunkSize <= 0 {
		return fmt.Errorf("chunking.chunk_size must be > 0")
	}
	if cfg.Chunking.MaxChunks <= 0 {
		return fmt.Errorf("chunking.max_chunks must be > 0")
	}
	switch cfg.Dedup.Strategy {
	case "content_hash", "fuzzy", "semantic":
	default:
		return fmt.Errorf("deduplication.strategy: unknown value %q", cfg.Dedup.Strategy)
	}
	if cfg.Dedup.Threshold < 0 || cfg.Dedup.Threshold > 1 {
		return fmt.Errorf("deduplication.threshold must be in [0,1]")
	}
	switch cfg.Repository.Engine {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("repository.engine: unknown value %q", cfg.Repository.Engine)
	}
	return nil
}
