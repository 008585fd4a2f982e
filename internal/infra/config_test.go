package infra

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleConfig = `
app:
  name: "Shadow Exchange"
  version: "1.2.0"
stream:
  url: "wss://stream.binance.com:9443/stream"
  symbols: ["BTC", "ETH"]
market:
  base_url: "https://api.coingecko.com/api/v3"
database:
  driver: "sqlite"
logging:
  level: "debug"
`

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}

	if *cfg.Stream.MaxRetries != 5 || cfg.Stream.BackoffBaseMS != 1000 || cfg.Stream.BackoffMaxMS != 30000 {
		t.Errorf("unexpected stream defaults: %+v", cfg.Stream)
	}
	if cfg.Market.CoinsIntervalSec != 30 || cfg.Market.GlobalIntervalSec != 60 || cfg.Market.TrendingIntervalSec != 120 {
		t.Errorf("unexpected poll defaults: %+v", cfg.Market)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("unexpected http addr %q", cfg.HTTP.Addr)
	}
	if len(cfg.Stream.Symbols) != 2 {
		t.Errorf("expected 2 symbols, got %v", cfg.Stream.Symbols)
	}
}

func TestParseConfig_ZeroRetriesHonoured(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if *cfg.Stream.MaxRetries != 5 {
		t.Fatalf("omitted max_retries = %d, want 5", *cfg.Stream.MaxRetries)
	}

	cfg, err = ParseConfig([]byte(strings.Replace(sampleConfig, "  symbols:", "  max_retries: 0\n  symbols:", 1)))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if *cfg.Stream.MaxRetries != 0 {
		t.Errorf("explicit max_retries: 0 became %d", *cfg.Stream.MaxRetries)
	}

	if _, err := ParseConfig([]byte(strings.Replace(sampleConfig, "  symbols:", "  max_retries: -1\n  symbols:", 1))); err == nil {
		t.Error("negative max_retries should be rejected")
	}
}

func TestParseConfig_EnvOverride(t *testing.T) {
	t.Setenv("SHADOW_REDIS_ADDR", "localhost:6390")
	t.Setenv("SHADOW_HTTP_ADDR", ":9999")
	t.Setenv("SHADOW_LOG_LEVEL", "warn")

	cfg, err := ParseConfig([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.Redis.Addr != "localhost:6390" || cfg.HTTP.Addr != ":9999" || cfg.Logging.Level != "warn" {
		t.Errorf("env did not override: redis=%q http=%q level=%q", cfg.Redis.Addr, cfg.HTTP.Addr, cfg.Logging.Level)
	}
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"http stream url", "stream:\n  url: \"http://example.com\"\n", "invalid stream URL"},
		{"bad market url", "market:\n  base_url: \"ftp://x\"\n", "invalid market base URL"},
		{"unknown driver", "database:\n  driver: \"mongo\"\n", "unsupported database driver"},
		{"postgres without dsn", "database:\n  driver: \"postgres\"\n", "requires a DSN"},
		{"unknown mode", "app:\n  mode: \"real\"\n", "unsupported mode"},
		{"inverted backoff", "stream:\n  backoff_base_ms: 5000\n  backoff_max_ms: 1000\n", "backoff"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.App.Version != "1.2.0" {
		t.Errorf("unexpected version %q", cfg.App.Version)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestNewLogger_LevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "json")

	logger.Info("hidden")
	logger.Warn("shown", slog.String("k", "v"))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info should be filtered at warn level")
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"k":"v"`) {
		t.Errorf("unexpected json output: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("DEBUG") != slog.LevelDebug || ParseLevel("bogus") != slog.LevelInfo {
		t.Error("unexpected level mapping")
	}
}
