// Package config loads shufflesync configuration from defaults, an optional
// YAML file, and SHUFFLESYNC_* variables, then validates the result against
// an embedded CUE schema.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SHUFFLESYNC_"

// Config is the resolved configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server" json:"server"`
	Store       StoreConfig       `yaml:"store" json:"store"`
	Session     SessionConfig     `yaml:"session" json:"session"`
	Concurrency ConcurrencyConfig `yaml:"concurrency" json:"concurrency"`
	Presence    PresenceConfig    `yaml:"presence" json:"presence"`
	Log         LogConfig         `yaml:"log" json:"log"`
}

// ServerConfig configures the HTTP and WebSocket listener.
type ServerConfig struct {
	Addr           string   `yaml:"addr" json:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
}

// StoreConfig selects the shared store backend.
type StoreConfig struct {
	// Driver is memory, sqlite3, sqlite, or postgres.
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn"`
}

// SessionConfig tunes join-code generation.
type SessionConfig struct {
	CodeLength   int `yaml:"code_length" json:"code_length"`
	CodeAttempts int `yaml:"code_attempts" json:"code_attempts"`
}

// ConcurrencyConfig bounds optimistic-concurrency retries.
type ConcurrencyConfig struct {
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
}

// PresenceConfig tunes the presence tracker.
type PresenceConfig struct {
	GracePeriod  time.Duration `yaml:"grace_period" json:"grace_period"`
	ReapInterval time.Duration `yaml:"reap_interval" json:"reap_interval"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"*"},
		},
		Store: StoreConfig{
			Driver: "sqlite3",
			DSN:    "shufflesync.db",
		},
		Session: SessionConfig{
			CodeLength:   6,
			CodeAttempts: 5,
		},
		Concurrency: ConcurrencyConfig{MaxRetries: 8},
		Presence: PresenceConfig{
			GracePeriod:  30 * time.Second,
			ReapInterval: 5 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Options controls where Load reads from. Zero values skip the source.
type Options struct {
	// File is a YAML config file.
	File string

	// EnvFile is a dotenv file consulted for variables missing from the
	// process environment.
	EnvFile string

	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Load resolves configuration: defaults, then File, then SHUFFLESYNC_*
// variables, then schema validation.
func Load(opts Options) (Config, error) {
	cfg := Default()

	if opts.File != "" {
		data, err := os.ReadFile(opts.File)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", opts.File, err)
		}
	}

	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if opts.EnvFile != "" {
		dotenv, err := godotenv.Read(opts.EnvFile)
		if err != nil {
			return Config{}, fmt.Errorf("read env file: %w", err)
		}
		process := lookup
		lookup = func(key string) (string, bool) {
			if v, ok := process(key); ok {
				return v, true
			}
			v, ok := dotenv[key]
			return v, ok
		}
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decodeYAML decodes strictly: unknown keys are errors. An empty document
// leaves cfg unchanged.
func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = d
		return nil
	}

	str("SERVER_ADDR", &cfg.Server.Addr)
	if v, ok := lookup(EnvPrefix + "ALLOWED_ORIGINS"); ok {
		cfg.Server.AllowedOrigins = splitList(v)
	}
	str("STORE_DRIVER", &cfg.Store.Driver)
	str("STORE_DSN", &cfg.Store.DSN)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)

	return errors.Join(
		num("CODE_LENGTH", &cfg.Session.CodeLength),
		num("CODE_ATTEMPTS", &cfg.Session.CodeAttempts),
		num("MAX_RETRIES", &cfg.Concurrency.MaxRetries),
		dur("PRESENCE_GRACE_PERIOD", &cfg.Presence.GracePeriod),
		dur("PRESENCE_REAP_INTERVAL", &cfg.Presence.ReapInterval),
	)
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks c against the embedded CUE schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	if c.Server.AllowedOrigins == nil {
		c.Server.AllowedOrigins = []string{}
	}
	val := ctx.Encode(c)
	if err := val.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := def.Unify(val).Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Problems: problems(err)}
	}
	return nil
}

// ValidationError lists every schema violation.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Problems, "; ")
}

func problems(err error) []string {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Error())
	}
	return out
}

// SlogLevel returns the configured slog level.
func (c LogConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// NewLogger builds a logger writing to w with the configured format and
// level.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
