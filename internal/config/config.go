package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Bubble    BubbleConfig    `yaml:"bubble"`
	Database  DatabaseConfig  `yaml:"database"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Sharkey   SharkeyConfig   `yaml:"sharkey"`
	Uploads   UploadsConfig   `yaml:"uploads"`
	Ads       AdsConfig       `yaml:"ads"`
	Filter    FilterConfig    `yaml:"filter"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

// BubbleConfig lists the trusted servers and how hard to poll them.
type BubbleConfig struct {
	Domains        []string `yaml:"domains"`
	DomainsFile    string   `yaml:"domains_file"`
	LimitPerDomain int      `yaml:"limit_per_domain" validate:"gte=1,lte=200"`
	Select         int      `yaml:"select" validate:"gte=1"`
	Workers        int      `yaml:"workers" validate:"gte=1,lte=64"`
	RequestTimeout string   `yaml:"request_timeout"`
	StackCacheTTL  string   `yaml:"stack_cache_ttl"`
	UserAgent      string   `yaml:"user_agent"`
	RSSFallback    bool     `yaml:"rss_fallback"`
}

// Timeout returns the per-request timeout for bubble servers.
func (b BubbleConfig) Timeout() time.Duration {
	return parseDuration(b.RequestTimeout, 15*time.Second)
}

// CacheTTL returns how long a detected server flavour stays valid.
func (b BubbleConfig) CacheTTL() time.Duration {
	return parseDuration(b.StackCacheTTL, 7*24*time.Hour)
}

// DatabaseConfig configures the SQLite run history.
type DatabaseConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// ArtifactsConfig sets where stage hand-off files live.
type ArtifactsConfig struct {
	Dir string `yaml:"dir"`
}

// SharkeyConfig points at the instance that owns the Drive and the ads.
type SharkeyConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
	Timeout string `yaml:"timeout"`
}

// RequestTimeout returns the timeout for Sharkey API calls.
func (s SharkeyConfig) RequestTimeout() time.Duration {
	return parseDuration(s.Timeout, 30*time.Second)
}

// UploadsConfig configures the image stage.
type UploadsConfig struct {
	Folder               string  `yaml:"folder" validate:"required"`
	StatusScanLimit      int     `yaml:"status_scan_limit" validate:"gte=1,lte=200"`
	DedupMode            string  `yaml:"dedup_mode" validate:"oneof=reuse rename"`
	DownloadTimeout      string  `yaml:"download_timeout"`
	MaxImageBytes        int64   `yaml:"max_image_bytes" validate:"gte=1024"`
	RequestsPerSecond    float64 `yaml:"requests_per_second" validate:"gt=0"`
	Burst                int     `yaml:"burst" validate:"gte=1"`
	MaxRequestsPerDomain int     `yaml:"max_requests_per_domain" validate:"gte=1"`
	TransferRetries      int     `yaml:"transfer_retries" validate:"gte=0,lte=5"`
}

// Timeout returns the per-download timeout.
func (u UploadsConfig) Timeout() time.Duration {
	return parseDuration(u.DownloadTimeout, 25*time.Second)
}

// AdsConfig configures the advertisement stage.
type AdsConfig struct {
	DefaultPriority int     `yaml:"default_priority" validate:"gte=0"`
	DurationDays    int     `yaml:"duration_days" validate:"gte=1,lte=365"`
	TitlePrefix     string  `yaml:"title_prefix" validate:"required"`
	Place           string  `yaml:"place"`
	RatioMin        float64 `yaml:"ratio_min" validate:"gte=0,ltefield=RatioMax"`
	RatioMax        float64 `yaml:"ratio_max" validate:"gt=0,lte=1"`
	RatioScale      int     `yaml:"ratio_scale" validate:"gte=1"`
	OverridesFile   string  `yaml:"overrides_file"`
	DryRun          bool    `yaml:"dry_run"`
	CleanupStale    bool    `yaml:"cleanup_stale"`
}

// Duration returns the ad run window.
func (a AdsConfig) Duration() time.Duration {
	return time.Duration(a.DurationDays) * 24 * time.Hour
}

// FilterConfig extends the unsafe-content denylist.
type FilterConfig struct {
	ExtraDenylist []string `yaml:"extra_denylist"`
}

// ScheduleConfig configures the daemon loop.
type ScheduleConfig struct {
	Interval string `yaml:"interval"`
}

// ParseInterval returns the pipeline interval as time.Duration.
func (s ScheduleConfig) ParseInterval() time.Duration {
	return parseDuration(s.Interval, 24*time.Hour)
}

// AlertsConfig configures run summary destinations.
type AlertsConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig for Discord webhook alerts.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// ServerConfig configures the preview HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" validate:"gte=0,lte=65535"`
}

// LogConfig configures logrus.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Bubble: BubbleConfig{
			DomainsFile:    "bubble_domains.txt",
			LimitPerDomain: 40,
			Select:         10,
			Workers:        6,
			RequestTimeout: "15s",
			StackCacheTTL:  "168h",
			UserAgent:      "BubbleAds/1.0 (+https://github.com/Crazypedia/sharkey-hashtag-trends-ads)",
			RSSFallback:    true,
		},
		Database:  DatabaseConfig{Path: "./bubbleads.db"},
		Artifacts: ArtifactsConfig{Dir: "."},
		Sharkey:   SharkeyConfig{Timeout: "30s"},
		Uploads: UploadsConfig{
			Folder:               "Advertisements",
			StatusScanLimit:      60,
			DedupMode:            "reuse",
			DownloadTimeout:      "25s",
			MaxImageBytes:        20 << 20,
			RequestsPerSecond:    2,
			Burst:                4,
			MaxRequestsPerDomain: 200,
			TransferRetries:      2,
		},
		Ads: AdsConfig{
			DefaultPriority: 50,
			DurationDays:    7,
			TitlePrefix:     "[TagAd] #",
			RatioMin:        0.40,
			RatioMax:        1.00,
			RatioScale:      100,
			OverridesFile:   "ad_overrides.json",
			CleanupStale:    true,
		},
		Schedule: ScheduleConfig{Interval: "24h"},
		Server:   ServerConfig{Port: 8080},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a YAML file, applies .env and env var overrides,
// and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	loadDotEnv()
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints once at startup.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for name, raw := range map[string]string{
		"bubble.request_timeout":   c.Bubble.RequestTimeout,
		"bubble.stack_cache_ttl":   c.Bubble.StackCacheTTL,
		"sharkey.timeout":          c.Sharkey.Timeout,
		"uploads.download_timeout": c.Uploads.DownloadTimeout,
		"schedule.interval":        c.Schedule.Interval,
	} {
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("invalid config: %s: %w", name, err)
		}
	}
	return nil
}

// RequireSharkey reports an error when the target instance is not configured.
func (c *Config) RequireSharkey() error {
	if c.Sharkey.BaseURL == "" || c.Sharkey.Token == "" {
		return errors.New("SHARKEY_BASE and SHARKEY_TOKEN must be set")
	}
	return nil
}

// ResolveDomains merges the YAML domain list with the domains file, lowercased and
// deduplicated in first-seen order. A missing domains file is not an error.
func (c *Config) ResolveDomains() ([]string, error) {
	all := append([]string{}, c.Bubble.Domains...)
	if c.Bubble.DomainsFile != "" {
		fromFile, err := LoadDomains(c.Bubble.DomainsFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		all = append(all, fromFile...)
	}

	seen := make(map[string]bool)
	var out []string
	for _, d := range all {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, errors.New("no bubble domains configured (set bubble.domains or create the domains file)")
	}
	return out, nil
}

// LoadDomains reads one domain per line, skipping blanks and # comments.
func LoadDomains(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open domains file %s: %w", path, err)
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		d := strings.ToLower(strings.TrimSpace(sc.Text()))
		if d == "" || strings.HasPrefix(d, "#") {
			continue
		}
		out = append(out, d)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read domains file %s: %w", path, err)
	}
	return out, nil
}

func loadDotEnv() {
	for _, file := range []string{".env", ".env.local"} {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		_ = godotenv.Load(file)
	}
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BUBBLEADS_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("BUBBLE_DOMAINS_FILE"); v != "" {
		cfg.Bubble.DomainsFile = v
	}
	if v := os.Getenv("SHARKEY_BASE"); v != "" {
		cfg.Sharkey.BaseURL = strings.TrimRight(strings.TrimSpace(v), "/")
	}
	if v := os.Getenv("SHARKEY_TOKEN"); v != "" {
		cfg.Sharkey.Token = strings.TrimSpace(v)
	}
	if v := os.Getenv("USER_AGENT"); v != "" {
		cfg.Bubble.UserAgent = v
	}
	if v := os.Getenv("AD_FOLDER"); v != "" {
		cfg.Uploads.Folder = v
	}
	if v := os.Getenv("DEDUP_MODE"); v != "" {
		cfg.Uploads.DedupMode = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("HTTP_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.Uploads.DownloadTimeout = (time.Duration(secs) * time.Second).String()
		}
	}
	envInt("STATUS_SCAN_LIMIT", &cfg.Uploads.StatusScanLimit)
	envInt("DOMAIN_SCAN_WORKERS", &cfg.Bubble.Workers)
	envInt("AD_DEFAULT_PRIORITY", &cfg.Ads.DefaultPriority)
	envInt("AD_RATIO_SCALE", &cfg.Ads.RatioScale)
	envInt("AD_DURATION_DAYS", &cfg.Ads.DurationDays)
	envFloat("AD_RATIO_MIN", &cfg.Ads.RatioMin)
	envFloat("AD_RATIO_MAX", &cfg.Ads.RatioMax)
	if v := os.Getenv("AD_TITLE_PREFIX"); v != "" {
		cfg.Ads.TitlePrefix = v
	}
	if v := strings.TrimSpace(os.Getenv("AD_PLACE")); v != "" {
		cfg.Ads.Place = v
	}
	if v := os.Getenv("DRY_RUN"); v != "" {
		cfg.Ads.DryRun = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			*dst = f
		}
	}
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
