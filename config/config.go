// Package config loads server settings from defaults, an optional YAML file
// and the environment, in that order of precedence.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

const (
	BackendMemory = "memory"
	BackendTable  = "table"

	envConfigFile = "TASKBOARD_CONFIG"
)

// Config holds every setting of the serve and init-storage commands.
type Config struct {
	Port      string `yaml:"port"`
	Debug     bool   `yaml:"debug"`
	LogFormat string `yaml:"logFormat"`

	StorageBackend          string `yaml:"storageBackend"`
	StorageConnectionString string `yaml:"storageConnectionString"`
	TasksTable              string `yaml:"tasksTable"`
	UsersTable              string `yaml:"usersTable"`

	RedisConnectionString string        `yaml:"redisConnectionString"`
	TasksCacheTTL         time.Duration `yaml:"tasksCacheTTL"`
	DeduperTTL            time.Duration `yaml:"deduperTTL"`
	BroadcastChannel      string        `yaml:"broadcastChannel"`

	SessionBuffer   int           `yaml:"sessionBuffer"`
	StreamHeartbeat time.Duration `yaml:"streamHeartbeat"`
	CORSOrigins     []string      `yaml:"corsOrigins"`

	Auth0Domain     string        `yaml:"auth0Domain"`
	Auth0Audience   string        `yaml:"auth0Audience"`
	LocalAuthMode   string        `yaml:"localAuthMode"`
	LocalAuthSecret string        `yaml:"localAuthSharedSecret"`
	JWKSCacheTTL    time.Duration `yaml:"jwksCacheTTL"`
}

// Default returns the settings used when nothing else is configured.
func Default() Config {
	return Config{
		Port:             "8080",
		LogFormat:        "text",
		StorageBackend:   BackendMemory,
		TasksTable:       "tasks",
		UsersTable:       "users",
		TasksCacheTTL:    time.Minute,
		DeduperTTL:       24 * time.Hour,
		BroadcastChannel: "taskboard:events",
		SessionBuffer:    64,
		StreamHeartbeat:  25 * time.Second,
		CORSOrigins:      []string{"*"},
		JWKSCacheTTL:     15 * time.Minute,
	}
}

// Load reads the process environment.
func Load() (Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom builds a Config using lookup in place of os.LookupEnv.
func LoadFrom(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path, ok := lookup(envConfigFile); ok && path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	env := envReader{lookup: lookup}
	env.str("PORT", &cfg.Port)
	env.boolean("DEBUG", &cfg.Debug)
	env.str("LOG_FORMAT", &cfg.LogFormat)
	env.str("STORAGE_BACKEND", &cfg.StorageBackend)
	env.str("STORAGE_CONNECTION_STRING", &cfg.StorageConnectionString)
	env.str("TASKS_TABLE", &cfg.TasksTable)
	env.str("USERS_TABLE", &cfg.UsersTable)
	env.str("REDIS_CONNECTION_STRING", &cfg.RedisConnectionString)
	env.duration("TASKS_CACHE_TTL", &cfg.TasksCacheTTL)
	env.duration("DEDUPER_TTL", &cfg.DeduperTTL)
	env.str("BROADCAST_CHANNEL", &cfg.BroadcastChannel)
	env.integer("SESSION_BUFFER", &cfg.SessionBuffer)
	env.duration("STREAM_HEARTBEAT", &cfg.StreamHeartbeat)
	env.list("CORS_ORIGINS", &cfg.CORSOrigins)
	env.str("AUTH0_DOMAIN", &cfg.Auth0Domain)
	env.str("AUTH0_AUDIENCE", &cfg.Auth0Audience)
	env.str("LOCAL_AUTH_MODE", &cfg.LocalAuthMode)
	env.str("LOCAL_AUTH_SHARED_SECRET", &cfg.LocalAuthSecret)
	env.duration("JWKS_CACHE_TTL", &cfg.JWKSCacheTTL)
	if env.err != nil {
		return Config{}, env.err
	}

	cfg.StorageBackend = strings.ToLower(cfg.StorageBackend)
	cfg.LocalAuthMode = strings.ToLower(cfg.LocalAuthMode)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	if n, err := strconv.Atoi(c.Port); err != nil || n <= 0 || n > 65535 {
		return fmt.Errorf("invalid PORT %q", c.Port)
	}
	switch c.StorageBackend {
	case BackendMemory:
	case BackendTable:
		if c.StorageConnectionString == "" {
			return errors.New("STORAGE_CONNECTION_STRING is required for the table backend")
		}
		if c.TasksTable == "" || c.UsersTable == "" {
			return errors.New("TASKS_TABLE and USERS_TABLE are required for the table backend")
		}
	default:
		return fmt.Errorf("unsupported STORAGE_BACKEND %q", c.StorageBackend)
	}
	switch c.LocalAuthMode {
	case "":
	case "hs256":
		if c.LocalAuthSecret == "" {
			return errors.New("LOCAL_AUTH_SHARED_SECRET must be set when LOCAL_AUTH_MODE=hs256")
		}
	default:
		return fmt.Errorf("unsupported LOCAL_AUTH_MODE %q", c.LocalAuthMode)
	}
	if (c.Auth0Domain == "") != (c.Auth0Audience == "") {
		return errors.New("AUTH0_DOMAIN and AUTH0_AUDIENCE must be set together")
	}
	if c.SessionBuffer <= 0 {
		return errors.New("SESSION_BUFFER must be greater than zero")
	}
	if c.StreamHeartbeat <= 0 || c.JWKSCacheTTL <= 0 || c.DeduperTTL <= 0 {
		return errors.New("STREAM_HEARTBEAT, JWKS_CACHE_TTL and DEDUPER_TTL must be positive")
	}
	if c.TasksCacheTTL < 0 {
		return errors.New("TASKS_CACHE_TTL must not be negative")
	}
	if c.BroadcastChannel == "" {
		return errors.New("BROADCAST_CHANNEL must not be empty")
	}
	return nil
}

// AuthEnabled reports whether requests must carry a bearer token.
func (c Config) AuthEnabled() bool {
	return c.LocalAuthMode != "" || c.Auth0Domain != ""
}

// RedisOptions parses REDIS_CONNECTION_STRING. Both redis:// URLs and the
// Azure style "host:port,password=...,ssl=true" form are accepted. It returns
// nil when Redis is not configured.
func (c Config) RedisOptions() *redis.Options {
	if c.RedisConnectionString == "" {
		return nil
	}
	return ParseRedis(c.RedisConnectionString)
}

func ParseRedis(conn string) *redis.Options {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts
}

type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (r *envReader) get(key string) (string, bool) {
	if r.err != nil {
		return "", false
	}
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (r *envReader) str(key string, dst *string) {
	if v, ok := r.get(key); ok {
		*dst = v
	}
}

func (r *envReader) list(key string, dst *[]string) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

func (r *envReader) boolean(key string, dst *bool) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.err = fmt.Errorf("invalid %s: %w", key, err)
		return
	}
	*dst = b
}

func (r *envReader) integer(key string, dst *int) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.err = fmt.Errorf("invalid %s: %w", key, err)
		return
	}
	*dst = n
}

func (r *envReader) duration(key string, dst *time.Duration) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.err = fmt.Errorf("invalid %s: %w", key, err)
		return
	}
	*dst = d
}
