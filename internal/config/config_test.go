package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"github.com/timewarp-studio/timewarp/internal/kv"
	"github.com/timewarp-studio/timewarp/pkg/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "timewarp.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Quota.DailyLimit != 5 || cfg.Quota.StorageKey != "timeWarpUsage" {
		t.Errorf("Quota = %+v", cfg.Quota)
	}
	if cfg.Generation.Variants != 3 || cfg.Generation.Provider != "gemini" {
		t.Errorf("Generation = %+v", cfg.Generation)
	}
	if cfg.Generation.ImageModel != "gemini-2.5-flash-image-preview" {
		t.Errorf("ImageModel = %q", cfg.Generation.ImageModel)
	}
	if cfg.Watermark.Text != "Gauty" || cfg.Watermark.Opacity != 0.7 {
		t.Errorf("Watermark = %+v", cfg.Watermark)
	}
	if cfg.Storage.Backend != kv.BackendSQLite {
		t.Errorf("Backend = %q", cfg.Storage.Backend)
	}
	if strings.HasPrefix(cfg.Storage.SQLitePath, "~") || !strings.HasSuffix(cfg.Storage.SQLitePath, filepath.Join(".timewarp", "usage.db")) {
		t.Errorf("SQLitePath = %q, want an expanded home path", cfg.Storage.SQLitePath)
	}
	if cfg.Language != models.LangEnglish || cfg.LogLevel != "warn" {
		t.Errorf("Language = %q, LogLevel = %q", cfg.Language, cfg.LogLevel)
	}
	if !cfg.Output.KeepRaw || cfg.ErasFile != "" {
		t.Errorf("Output = %+v, ErasFile = %q", cfg.Output, cfg.ErasFile)
	}
}

func TestInit_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
quota:
  daily_limit: 2
generation:
  variants: 4
  requests_per_minute: 10
storage:
  backend: Redis
  redis_url: redis://cache:6379/1
language: fr
`)
	t.Setenv("TIMEWARP_GENERATION_VARIANTS", "1")
	t.Setenv("TIMEWARP_WATERMARK_TEXT", "Studio")

	v := viper.New()
	if err := Init(v, path); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Quota.DailyLimit != 2 {
		t.Errorf("DailyLimit = %d, want 2 from the file", cfg.Quota.DailyLimit)
	}
	if cfg.Generation.Variants != 1 {
		t.Errorf("Variants = %d, want 1 from the environment", cfg.Generation.Variants)
	}
	if cfg.Generation.RequestsPerMinute != 10 {
		t.Errorf("RequestsPerMinute = %d", cfg.Generation.RequestsPerMinute)
	}
	if cfg.Watermark.Text != "Studio" {
		t.Errorf("Watermark.Text = %q", cfg.Watermark.Text)
	}
	if cfg.Storage.Backend != kv.BackendRedis || cfg.Storage.RedisURL != "redis://cache:6379/1" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Language != models.LangFrench {
		t.Errorf("Language = %q", cfg.Language)
	}

	opts := cfg.KVOptions()
	if opts.Backend != kv.BackendRedis || opts.RedisURL != cfg.Storage.RedisURL {
		t.Errorf("KVOptions() = %+v", opts)
	}
}

func TestInit_MissingExplicitFile(t *testing.T) {
	v := viper.New()
	if err := Init(v, filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Init() expected error for a missing explicit config file")
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   any
		wantErr error
	}{
		{"zero limit", "quota.daily_limit", 0, ErrInvalidLimit},
		{"zero variants", "generation.variants", 0, ErrInvalidVariants},
		{"too many variants", "generation.variants", 11, ErrInvalidVariants},
		{"unknown backend", "storage.backend", "postgres", ErrInvalidBackend},
		{"opacity above one", "watermark.opacity", 1.5, ErrInvalidOpacity},
		{"zero opacity", "watermark.opacity", 0, ErrInvalidOpacity},
		{"unsupported language", "language", "de", ErrInvalidLanguage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			SetDefaults(v)
			v.Set(tt.key, tt.value)

			if _, err := Load(v); !errors.Is(err, tt.wantErr) {
				t.Errorf("Load() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd() error = %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir() error = %v", err)
	}
	defer os.Chdir(wd)

	if err := os.WriteFile(".env", []byte("TIMEWARP_DOTENV_PROBE=from-dotenv\nTIMEWARP_DOTENV_KEEP=file\n"), 0600); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}
	t.Setenv("TIMEWARP_DOTENV_KEEP", "env")
	t.Setenv("TIMEWARP_DOTENV_PROBE", "")
	os.Unsetenv("TIMEWARP_DOTENV_PROBE")

	LoadDotEnv()

	if got := os.Getenv("TIMEWARP_DOTENV_PROBE"); got != "from-dotenv" {
		t.Errorf("TIMEWARP_DOTENV_PROBE = %q, want from-dotenv", got)
	}
	if got := os.Getenv("TIMEWARP_DOTENV_KEEP"); got != "env" {
		t.Errorf("TIMEWARP_DOTENV_KEEP = %q, existing environment should win", got)
	}
}
