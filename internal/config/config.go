// Package config loads CLI settings.
//
// Precedence: defaults, then an optional YAML file, then TASKDSL_*
// environment variables. Command-line flags are applied by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g. TASKDSL_LOG_LEVEL.
const EnvPrefix = "TASKDSL"

var (
	ErrInvalidLogLevel  = errors.New("invalid log level")
	ErrInvalidLogFormat = errors.New("invalid log format")
	ErrNoOutputPaths    = errors.New("log output_paths must not be empty")
	ErrEmptyDBPath      = errors.New("db path must not be empty")
	ErrEmptyArtifactDir = errors.New("artifacts dir must not be empty when artifacts are enabled")
)

type Config struct {
	Log       LogConfig       `yaml:"log" env:"LOG"`
	DB        DBConfig        `yaml:"db" env:"DB"`
	Artifacts ArtifactsConfig `yaml:"artifacts" env:"ARTIFACTS"`
}

type LogConfig struct {
	Level       string   `yaml:"level" env:"LEVEL"`   // debug, info, warn, error
	Format      string   `yaml:"format" env:"FORMAT"` // console or json
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// DBConfig locates the SQLite database behind the demo registry.
type DBConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

// ArtifactsConfig controls where run results are persisted.
type ArtifactsConfig struct {
	Dir     string `yaml:"dir" env:"DIR"`
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
}

func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:       "warn",
			Format:      "console",
			OutputPaths: []string{"stderr"},
		},
		DB: DBConfig{Path: "taskdsl.db"},
		Artifacts: ArtifactsConfig{
			Dir:     ".taskdsl",
			Enabled: true,
		},
	}
}

// Load builds a Config from defaults, the file at path (skipped when path
// is empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}
	if err := applyEnv(reflect.ValueOf(cfg).Elem(), EnvPrefix); err != nil {
		return nil, fmt.Errorf("loading config from env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		tag := t.Field(i).Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + "_" + tag

		if field.Kind() == reflect.Struct {
			if err := applyEnv(field, key); err != nil {
				return err
			}
			continue
		}
		value, ok := os.LookupEnv(key)
		if !ok || value == "" {
			continue
		}
		if err := setField(field, value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		field.Set(reflect.ValueOf(parts))
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Log.Level))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Log.Format))
	}
	if len(c.Log.OutputPaths) == 0 {
		errs = append(errs, ErrNoOutputPaths)
	}
	if c.DB.Path == "" {
		errs = append(errs, ErrEmptyDBPath)
	}
	if c.Artifacts.Enabled && c.Artifacts.Dir == "" {
		errs = append(errs, ErrEmptyArtifactDir)
	}
	return errors.Join(errs...)
}
