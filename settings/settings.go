package settings

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/wricardo/tilemap-generator/tilemap/registry"
	"github.com/wricardo/tilemap-generator/tilemap/storage"
	"gopkg.in/yaml.v3"
)

var ErrInvalidSettings = errors.New("invalid settings")

// Config is the full application configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Storage   StorageConfig   `yaml:"storage"`
	Export    ExportConfig    `yaml:"export"`
	Log       LogConfig       `yaml:"log"`
	Registry  registry.Policy `yaml:"registry"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
}

type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type StorageConfig struct {
	Backend       string `yaml:"backend"` // memory|file|sqlite|badger|redis
	Path          string `yaml:"path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix"`
}

// Options converts the section for storage.Open.
func (s StorageConfig) Options() storage.Options {
	return storage.Options{
		Backend: s.Backend,
		Path:    s.Path,
		Redis: storage.RedisConfig{
			Addr:      s.RedisAddr,
			Password:  s.RedisPassword,
			DB:        s.RedisDB,
			KeyPrefix: s.KeyPrefix,
		},
	}
}

type ExportConfig struct {
	Dir string `yaml:"dir"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"` // 0 disables limiting
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTP:      HTTPConfig{Host: "localhost", Port: 8080},
		Storage:   StorageConfig{Backend: "file", Path: "data", KeyPrefix: "tilemap:"},
		Export:    ExportConfig{Dir: "exports"},
		Log:       LogConfig{Level: "info"},
		Registry:  registry.DefaultPolicy(),
		RateLimit: RateLimitConfig{RequestsPerMinute: 600},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is non-empty) and the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read settings file: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse settings file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decodeYAML rejects unknown keys so typos surface at startup.
func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number", ErrInvalidSettings, key, v)
		}
		*dst = n
		return nil
	}
	flag := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a boolean", ErrInvalidSettings, key, v)
		}
		*dst = b
		return nil
	}

	str("TILEMAP_HOST", &cfg.HTTP.Host)
	str("TILEMAP_STORAGE_BACKEND", &cfg.Storage.Backend)
	str("TILEMAP_STORAGE_PATH", &cfg.Storage.Path)
	str("TILEMAP_REDIS_ADDR", &cfg.Storage.RedisAddr)
	str("TILEMAP_REDIS_PASSWORD", &cfg.Storage.RedisPassword)
	str("TILEMAP_KEY_PREFIX", &cfg.Storage.KeyPrefix)
	str("TILEMAP_EXPORT_DIR", &cfg.Export.Dir)
	str("TILEMAP_LOG_LEVEL", &cfg.Log.Level)
	str("TILEMAP_AUTOLOAD", &cfg.Registry.Autoload)

	for _, e := range []struct {
		key string
		dst *int
	}{
		{"TILEMAP_PORT", &cfg.HTTP.Port},
		{"TILEMAP_REDIS_DB", &cfg.Storage.RedisDB},
		{"TILEMAP_RATE_LIMIT", &cfg.RateLimit.RequestsPerMinute},
	} {
		if err := num(e.key, e.dst); err != nil {
			return err
		}
	}

	for _, e := range []struct {
		key string
		dst *bool
	}{
		{"TILEMAP_REJECT_DUPLICATES", &cfg.Registry.RejectDuplicates},
		{"TILEMAP_VALIDATE_LOAD", &cfg.Registry.ValidateLoad},
		{"TILEMAP_CLEAR_DIRTY_ON_REMOVE", &cfg.Registry.ClearDirtyOnRemove},
		{"TILEMAP_PRESERVE_IMPORT_PAYLOAD", &cfg.Registry.PreserveImportPayload},
	} {
		if err := flag(e.key, e.dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks value ranges and backend names.
func Validate(cfg Config) error {
	var problems []string

	if cfg.HTTP.Port < 0 || cfg.HTTP.Port > 65535 {
		problems = append(problems, fmt.Sprintf("http.port %d out of range", cfg.HTTP.Port))
	}
	switch cfg.Storage.Backend {
	case "memory", "badger":
	case "file", "sqlite":
		if cfg.Storage.Path == "" {
			problems = append(problems, fmt.Sprintf("storage.path is required for %s backend", cfg.Storage.Backend))
		}
	case "redis":
		if cfg.Storage.RedisAddr == "" {
			problems = append(problems, "storage.redis_addr is required for redis backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown storage.backend %q", cfg.Storage.Backend))
	}
	if cfg.RateLimit.RequestsPerMinute < 0 {
		problems = append(problems, "ratelimit.requests_per_minute must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidSettings, strings.Join(problems, "; "))
	}
	return nil
}
