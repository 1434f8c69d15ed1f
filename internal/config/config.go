// Package config resolves settings from defaults, an optional YAML file,
// .env files, TIMEWARP_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/timewarp-studio/timewarp/internal/kv"
	"github.com/timewarp-studio/timewarp/pkg/models"
)

const (
	EnvPrefix = "TIMEWARP"
	FileName  = ".timewarp"
)

var (
	ErrInvalidLimit    = errors.New("quota.daily_limit must be at least 1")
	ErrInvalidVariants = errors.New("generation.variants must be between 1 and 10")
	ErrInvalidBackend  = errors.New("unknown storage.backend")
	ErrInvalidOpacity  = errors.New("watermark.opacity must be in (0, 1]")
	ErrInvalidLanguage = errors.New("unsupported language")
)

const maxVariants = 10

type QuotaConfig struct {
	DailyLimit int
	StorageKey string
}

type GenerationConfig struct {
	Provider          string
	APIKey            string
	BaseURL           string
	Variants          int
	ImageModel        string
	TextModel         string
	RequestsPerMinute int
	TimeoutSec        int
	SuggestionLimit   int
}

type WatermarkConfig struct {
	Text    string
	Opacity float64
}

type StorageConfig struct {
	Backend    string
	SQLitePath string
	RedisURL   string
}

type HistoryConfig struct {
	Path     string
	ImageDir string
}

type OutputConfig struct {
	Dir     string
	KeepRaw bool
}

type Config struct {
	Quota      QuotaConfig
	Generation GenerationConfig
	Watermark  WatermarkConfig
	Storage    StorageConfig
	History    HistoryConfig
	Output     OutputConfig
	ErasFile   string
	Language   models.Language
	LogLevel   string
}

// SetDefaults registers every key so environment variables resolve even
// without a config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("quota.daily_limit", 5)
	v.SetDefault("quota.storage_key", "timeWarpUsage")

	v.SetDefault("generation.provider", "gemini")
	v.SetDefault("generation.api_key", "")
	v.SetDefault("generation.base_url", "")
	v.SetDefault("generation.variants", 3)
	v.SetDefault("generation.image_model", "gemini-2.5-flash-image-preview")
	v.SetDefault("generation.text_model", "gemini-2.5-flash")
	v.SetDefault("generation.requests_per_minute", 0)
	v.SetDefault("generation.timeout_sec", 120)
	v.SetDefault("generation.suggestion_limit", 4)

	v.SetDefault("watermark.text", "Gauty")
	v.SetDefault("watermark.opacity", 0.7)

	v.SetDefault("storage.backend", kv.BackendSQLite)
	v.SetDefault("storage.sqlite_path", "~/.timewarp/usage.db")
	v.SetDefault("storage.redis_url", "redis://localhost:6379/0")

	v.SetDefault("history.path", "~/.timewarp/sessions.db")
	v.SetDefault("history.image_dir", "~/.timewarp/images")

	v.SetDefault("output.dir", ".")
	v.SetDefault("output.keep_raw", true)

	v.SetDefault("content.eras_file", "")
	v.SetDefault("language", "en")
	v.SetDefault("log.level", "warn")
}

// LoadDotEnv loads .env then .env.local from the working directory. Missing
// files are skipped; variables already set in the environment win.
func LoadDotEnv() {
	for _, name := range []string{".env", ".env.local"} {
		if _, err := os.Stat(name); err == nil {
			_ = godotenv.Load(name)
		}
	}
}

// Init wires the config file and environment into v. An explicit cfgFile
// must exist; the default $HOME/.timewarp.yaml is optional.
func Init(v *viper.Viper, cfgFile string) error {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return fmt.Errorf("failed to find home directory: %w", err)
		}
		v.AddConfigPath(home)
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// Load builds and validates a Config from v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Quota: QuotaConfig{
			DailyLimit: v.GetInt("quota.daily_limit"),
			StorageKey: v.GetString("quota.storage_key"),
		},
		Generation: GenerationConfig{
			Provider:          strings.ToLower(v.GetString("generation.provider")),
			APIKey:            v.GetString("generation.api_key"),
			BaseURL:           v.GetString("generation.base_url"),
			Variants:          v.GetInt("generation.variants"),
			ImageModel:        v.GetString("generation.image_model"),
			TextModel:         v.GetString("generation.text_model"),
			RequestsPerMinute: v.GetInt("generation.requests_per_minute"),
			TimeoutSec:        v.GetInt("generation.timeout_sec"),
			SuggestionLimit:   v.GetInt("generation.suggestion_limit"),
		},
		Watermark: WatermarkConfig{
			Text:    v.GetString("watermark.text"),
			Opacity: v.GetFloat64("watermark.opacity"),
		},
		Storage: StorageConfig{
			Backend:  strings.ToLower(v.GetString("storage.backend")),
			RedisURL: v.GetString("storage.redis_url"),
		},
		Output: OutputConfig{
			KeepRaw: v.GetBool("output.keep_raw"),
		},
		Language: models.Language(strings.ToLower(v.GetString("language"))),
		LogLevel: v.GetString("log.level"),
	}

	var err error
	paths := []struct {
		dst *string
		key string
	}{
		{&cfg.Storage.SQLitePath, "storage.sqlite_path"},
		{&cfg.History.Path, "history.path"},
		{&cfg.History.ImageDir, "history.image_dir"},
		{&cfg.Output.Dir, "output.dir"},
		{&cfg.ErasFile, "content.eras_file"},
	}
	for _, p := range paths {
		if *p.dst, err = homedir.Expand(v.GetString(p.key)); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", p.key, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Quota.DailyLimit < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidLimit, c.Quota.DailyLimit)
	}
	if c.Generation.Variants < 1 || c.Generation.Variants > maxVariants {
		return fmt.Errorf("%w: got %d", ErrInvalidVariants, c.Generation.Variants)
	}
	switch c.Storage.Backend {
	case kv.BackendMemory, kv.BackendSQLite, kv.BackendRedis:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidBackend, c.Storage.Backend)
	}
	if c.Watermark.Opacity <= 0 || c.Watermark.Opacity > 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidOpacity, c.Watermark.Opacity)
	}
	if !c.Language.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidLanguage, c.Language)
	}
	return nil
}

// KVOptions maps the storage section onto the kv package.
func (c *Config) KVOptions() kv.Options {
	return kv.Options{
		Backend:    c.Storage.Backend,
		SQLitePath: c.Storage.SQLitePath,
		RedisURL:   c.Storage.RedisURL,
	}
}
