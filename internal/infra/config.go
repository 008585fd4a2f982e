package infra

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var (
	// currentUserAgent is protected by a mutex so it can be swapped at runtime.
	uaMu             sync.RWMutex
	currentUserAgent = GetPlatformUserAgent() // Initialize with OS-appropriate string
)

// GetUserAgent returns the current active User-Agent string. (Thread-safe)
func GetUserAgent() string {
	uaMu.RLock()
	defer uaMu.RUnlock()
	return currentUserAgent
}

// SetUserAgent updates the global User-Agent string. (Thread-safe)
func SetUserAgent(ua string) {
	uaMu.Lock()
	defer uaMu.Unlock()
	currentUserAgent = ua
}

// GetPlatformUserAgent generates a browser-like User-Agent string based on current OS.
func GetPlatformUserAgent() string {
	chromeVer := "120.0.0.0"
	arch := runtime.GOARCH

	switch runtime.GOOS {
	case "windows":
		return fmt.Sprintf("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36", chromeVer)
	case "linux":
		linuxArch := "x86_64"
		if arch == "arm64" {
			linuxArch = "aarch64"
		}
		return fmt.Sprintf("Mozilla/5.0 (X11; Linux %s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36", linuxArch, chromeVer)
	case "darwin":
		return fmt.Sprintf("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36", chromeVer)
	default:
		return "Mozilla/5.0 (compatible; ShadowExchange/1.0)"
	}
}

// Config holds every application setting.
// LoadConfig reads it from YAML, then environment variables override it.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
		Mode    string `yaml:"mode"` // "paper" or "demo"

		// UserAgent replaces the platform browser string on outbound requests.
		UserAgent string `yaml:"user_agent"`
	} `yaml:"app"`

	Stream struct {
		URL                    string   `yaml:"url"`
		Symbols                []string `yaml:"symbols"` // Used until the first market snapshot arrives
		MaxRetries             *int     `yaml:"max_retries"`
		BackoffBaseMS          int      `yaml:"backoff_base_ms"`
		BackoffMaxMS           int      `yaml:"backoff_max_ms"`
		ReadTimeoutSec         int      `yaml:"read_timeout_sec"`
		PingIntervalSec        int      `yaml:"ping_interval_sec"`
		ResubscribeCooldownSec int      `yaml:"resubscribe_cooldown_sec"`
	} `yaml:"stream"`

	Market struct {
		BaseURL             string  `yaml:"base_url"`
		APIKey              string  `yaml:"api_key"`
		CoinsIntervalSec    int     `yaml:"coins_interval_sec"`
		GlobalIntervalSec   int     `yaml:"global_interval_sec"`
		TrendingIntervalSec int     `yaml:"trending_interval_sec"`
		PerPage             int     `yaml:"per_page"`
		RequestsPerSecond   float64 `yaml:"requests_per_second"`
	} `yaml:"market"`

	Database struct {
		Driver string `yaml:"driver"` // "sqlite" or "postgres"
		DSN    string `yaml:"dsn"`    // Empty sqlite DSN resolves into the workspace
	} `yaml:"database"`

	Redis struct {
		Addr     string `yaml:"addr"` // Empty disables the price mirror
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTLSec   int    `yaml:"ttl_sec"`
	} `yaml:"redis"`

	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	Wallet struct {
		StartingUSDT string `yaml:"starting_usdt"` // Demo mode seed for new wallets
	} `yaml:"wallet"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // "text" or "json"
	} `yaml:"logging"`
}

// LoadConfig reads and parses the config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML, applies defaults and env overrides, and validates.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	// Environment wins over the file; .env is optional.
	_ = godotenv.Load()
	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "Shadow Exchange"
	}
	if c.App.Mode == "" {
		c.App.Mode = "paper"
	}
	if c.Stream.URL == "" {
		c.Stream.URL = "wss://stream.binance.com:9443/stream"
	}
	if c.Stream.MaxRetries == nil {
		n := 5
		c.Stream.MaxRetries = &n
	}
	if c.Stream.BackoffBaseMS == 0 {
		c.Stream.BackoffBaseMS = 1000
	}
	if c.Stream.BackoffMaxMS == 0 {
		c.Stream.BackoffMaxMS = 30000
	}
	if c.Stream.ReadTimeoutSec == 0 {
		c.Stream.ReadTimeoutSec = 60
	}
	if c.Stream.PingIntervalSec == 0 {
		c.Stream.PingIntervalSec = 30
	}
	if c.Market.BaseURL == "" {
		c.Market.BaseURL = "https://api.coingecko.com/api/v3"
	}
	if c.Market.CoinsIntervalSec == 0 {
		c.Market.CoinsIntervalSec = 30
	}
	if c.Market.GlobalIntervalSec == 0 {
		c.Market.GlobalIntervalSec = 60
	}
	if c.Market.TrendingIntervalSec == 0 {
		c.Market.TrendingIntervalSec = 120
	}
	if c.Market.PerPage == 0 {
		c.Market.PerPage = 100
	}
	if c.Market.RequestsPerSecond == 0 {
		c.Market.RequestsPerSecond = 0.5
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Redis.TTLSec == 0 {
		c.Redis.TTLSec = 300
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Wallet.StartingUSDT == "" {
		c.Wallet.StartingUSDT = "0"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Stream.URL, "ws://") && !strings.HasPrefix(c.Stream.URL, "wss://") {
		return fmt.Errorf("invalid stream URL: %s", c.Stream.URL)
	}
	if len(c.Stream.Symbols) > 50 {
		return fmt.Errorf("at most 50 stream symbols are allowed, got %d", len(c.Stream.Symbols))
	}
	if c.Stream.MaxRetries != nil && *c.Stream.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	if c.Stream.BackoffBaseMS <= 0 || c.Stream.BackoffMaxMS < c.Stream.BackoffBaseMS {
		return fmt.Errorf("backoff must satisfy 0 < base <= max")
	}

	if !strings.HasPrefix(c.Market.BaseURL, "http://") && !strings.HasPrefix(c.Market.BaseURL, "https://") {
		return fmt.Errorf("invalid market base URL: %s", c.Market.BaseURL)
	}
	if c.Market.CoinsIntervalSec <= 0 || c.Market.GlobalIntervalSec <= 0 || c.Market.TrendingIntervalSec <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	if c.Market.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive")
	}

	switch c.App.Mode {
	case "paper", "demo":
	default:
		return fmt.Errorf("unsupported mode: %s", c.App.Mode)
	}

	switch c.Database.Driver {
	case "sqlite":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("postgres driver requires a DSN")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	return nil
}

// overrideWithEnv overwrites settings with environment variables when set.
// Secrets belong in the environment, not in the file.
func overrideWithEnv(cfg *Config) {
	if cfg.Market.APIKey != "" || cfg.Redis.Password != "" {
		// Using fmt instead of slog; the logger is not configured yet
		fmt.Println("⚠️  SECURITY WARNING: secrets found in config file.")
		fmt.Println("   Recommendation: use SHADOW_COINGECKO_API_KEY / SHADOW_REDIS_PASSWORD instead.")
	}

	if v := os.Getenv("SHADOW_STREAM_URL"); v != "" {
		cfg.Stream.URL = v
	}
	if v := os.Getenv("SHADOW_COINGECKO_URL"); v != "" {
		cfg.Market.BaseURL = v
	}
	if v := os.Getenv("SHADOW_COINGECKO_API_KEY"); v != "" {
		cfg.Market.APIKey = v
	}
	if v := os.Getenv("SHADOW_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("SHADOW_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("SHADOW_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SHADOW_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SHADOW_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("SHADOW_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
