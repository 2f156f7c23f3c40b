package config

import (
	"os"
	"reflect"
	"strings"

	"github.com/harunnryd/sttstream/pkg/configutil"
	"github.com/harunnryd/sttstream/pkg/errorsx"
	"github.com/harunnryd/sttstream/pkg/recognizer"
	"github.com/spf13/viper"
)

type Config struct {
	CredentialsFile  string         `mapstructure:"credentials_file"`
	Recognizer       string         `mapstructure:"recognizer"`
	Endpoint         string         `mapstructure:"endpoint"`
	Session          map[string]any `mapstructure:"session"`
	BufferSize       int            `mapstructure:"buffer_size"`
	ResultBufferSize int            `mapstructure:"result_buffer_size"`
	ChunkSize        int            `mapstructure:"chunk_size"`
	LogLevel         string         `mapstructure:"log_level"`
	LogFormat        string         `mapstructure:"log_format"`
	Metrics          MetricsConfig  `mapstructure:"metrics"`
	Retry            RetryConfig    `mapstructure:"retry"`
	Server           ServerConfig   `mapstructure:"server"`
	Privacy          PrivacyConfig  `mapstructure:"privacy"`
}

type MetricsConfig struct {
	// Path receives JSON lines; empty disables metrics output.
	Path   string `mapstructure:"path"`
	Buffer int    `mapstructure:"buffer"`
}

// RetryConfig applies to session construction only; a running session is never retried.
type RetryConfig struct {
	MaxRetries int `mapstructure:"max_retries"`
	BackoffMS  int `mapstructure:"backoff_ms"`
}

type ServerConfig struct {
	Addr              string   `mapstructure:"addr"`
	Path              string   `mapstructure:"path"`
	AllowAnyOrigin    bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins    []string `mapstructure:"allowed_origins"`
	DrainTimeoutMS    int      `mapstructure:"drain_timeout_ms"`
	BreakerThreshold  int      `mapstructure:"breaker_threshold"`
	BreakerCooldownMS int      `mapstructure:"breaker_cooldown_ms"`
}

type PrivacyConfig struct {
	RedactTranscripts bool `mapstructure:"redact_transcripts"`
}

var sessionSchema = configutil.Schema{
	Required: []string{"languages"},
	Optional: []string{"model", "decoding", "features", "streaming", "phrase_sets", "translation_target"},
}

// Override sets a key after the file and environment are read, e.g. from a flag.
type Override func(v *viper.Viper)

// Set overrides key unless value is the zero value of its type.
func Set(key string, value any) Override {
	return func(v *viper.Viper) {
		if value == nil || reflect.ValueOf(value).IsZero() {
			return
		}
		v.Set(key, value)
	}
}

// LoadConfig reads a YAML (or any viper-supported) file. An empty path uses
// defaults and STTSTREAM_* environment variables only.
func LoadConfig(path string, overrides ...Override) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STTSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("credentials_file", "")
	v.SetDefault("recognizer", "")
	v.SetDefault("endpoint", "")
	v.SetDefault("buffer_size", recognizer.DefaultBufferSize)
	v.SetDefault("result_buffer_size", recognizer.DefaultBufferSize)
	v.SetDefault("chunk_size", 1024)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("metrics.path", "")
	v.SetDefault("metrics.buffer", 256)
	v.SetDefault("retry.max_retries", 2)
	v.SetDefault("retry.backoff_ms", 200)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.path", "/recognize")
	v.SetDefault("server.allow_any_origin", false)
	v.SetDefault("server.drain_timeout_ms", 10000)
	v.SetDefault("server.breaker_threshold", 3)
	v.SetDefault("server.breaker_cooldown_ms", 30000)
	v.SetDefault("privacy.redact_transcripts", true)

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errorsx.Errorf(errorsx.ReasonConfig, "read config: %w", err)
		}
	}

	for _, o := range overrides {
		o(v)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errorsx.Errorf(errorsx.ReasonConfig, "unmarshal: %w", err)
	}

	expandValue(reflect.ValueOf(&cfg))
	cfg.Session = expandSettings(cfg.Session)

	if err := cfg.Validate(); err != nil {
		return Config{}, errorsx.Errorf(errorsx.ReasonConfig, "validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := configutil.RequireString(c.Recognizer, "recognizer"); err != nil {
		return err
	}
	if c.BufferSize < 0 || c.ResultBufferSize < 0 {
		return errorsx.New(errorsx.ReasonConfig, "buffer sizes must not be negative")
	}
	if c.ChunkSize <= 0 {
		return errorsx.Errorf(errorsx.ReasonConfig, "chunk_size must be positive, got %d", c.ChunkSize)
	}
	if len(c.Session) > 0 {
		if err := configutil.ValidateSettings(c.Session, sessionSchema); err != nil {
			return errorsx.Errorf(errorsx.ReasonConfig, "session: %w", err)
		}
	}
	return nil
}

// SessionConfig decodes the free-form session block. Languages can be
// overridden, e.g. from a CLI flag.
func (c *Config) SessionConfig(languages ...string) (recognizer.SessionConfig, error) {
	var sc recognizer.SessionConfig
	if err := configutil.DecodeSettings(c.Session, &sc); err != nil {
		return recognizer.SessionConfig{}, errorsx.Errorf(errorsx.ReasonConfig, "decode session: %w", err)
	}
	if len(languages) > 0 {
		sc.Languages = languages
	}
	if err := sc.Validate(); err != nil {
		return recognizer.SessionConfig{}, err
	}
	return sc, nil
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.String {
			for i := 0; i < v.Len(); i++ {
				expandValue(v.Index(i))
			}
		}
	}
}
