// Package config loads service settings from defaults, an optional YAML
// file and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"audiocache/internal/extract"
)

// Rate is a request budget: Requests per Window.
type Rate struct {
	Requests int
	Window   time.Duration
}

// ParseRate parses "N/duration", e.g. "5/1m" or "30/s".
func ParseRate(s string) (Rate, error) {
	n, w, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return Rate{}, fmt.Errorf("invalid rate %q: expected N/duration", s)
	}
	requests, err := strconv.Atoi(strings.TrimSpace(n))
	if err != nil {
		return Rate{}, fmt.Errorf("invalid rate %q: %w", s, err)
	}
	w = strings.TrimSpace(w)
	if w != "" && (w[0] < '0' || w[0] > '9') {
		w = "1" + w // "30/s" means per one second
	}
	window, err := time.ParseDuration(w)
	if err != nil {
		return Rate{}, fmt.Errorf("invalid rate %q: %w", s, err)
	}
	return Rate{Requests: requests, Window: window}, nil
}

func (r Rate) String() string {
	return fmt.Sprintf("%d/%s", r.Requests, r.Window)
}

// UnmarshalYAML accepts the "N/duration" form.
func (r *Rate) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseRate(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ExtractConfig holds extraction policy and tool locations.
type ExtractConfig struct {
	MaxDuration          time.Duration `yaml:"max_duration"`
	Format               string        `yaml:"format"`
	Bitrate              string        `yaml:"bitrate"`
	Timeout              time.Duration `yaml:"timeout"`
	YTDLPPath            string        `yaml:"ytdlp_path"`
	FFmpegPath           string        `yaml:"ffmpeg_path"`
	MaxInflightPerClient int           `yaml:"max_inflight_per_client"`
}

// RateLimitConfig holds per-route request budgets.
type RateLimitConfig struct {
	Disabled bool `yaml:"disabled"`
	Extract  Rate `yaml:"extract"`
	Serve    Rate `yaml:"serve"`
	Default  Rate `yaml:"default"`
}

// SearchConfig holds YouTube Data API settings. Search is off without a key.
type SearchConfig struct {
	APIKey     string `yaml:"api_key"`
	MaxResults int    `yaml:"max_results"`
	// Rate caps outgoing API calls for the whole process. Zero disables it.
	Rate Rate `yaml:"rate"`
}

// UpstreamConfig switches extraction to a remote backend when URL is set.
type UpstreamConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// S3Config holds the optional object storage mirror settings.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
	// URLExpiry is how long presigned direct URLs stay valid.
	URLExpiry time.Duration `yaml:"url_expiry"`
}

// Config is the complete service configuration.
type Config struct {
	Port            string          `yaml:"port"`
	AudioDir        string          `yaml:"audio_dir"`
	PublicBaseURL   string          `yaml:"public_base_url"`
	RetentionWindow time.Duration   `yaml:"retention_window"`
	SweepInterval   time.Duration   `yaml:"sweep_interval"`
	CORSOrigins     []string        `yaml:"cors_origins"`
	HistoryDB       string          `yaml:"history_db"` // Empty disables history
	Extract         ExtractConfig   `yaml:"extract"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	Search          SearchConfig    `yaml:"search"`
	Upstream        UpstreamConfig  `yaml:"upstream"`
	S3              S3Config        `yaml:"s3"`
}

const stagingGrace = time.Minute

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:            "8080",
		AudioDir:        "./audios",
		RetentionWindow: time.Hour,
		SweepInterval:   5 * time.Minute,
		HistoryDB:       "audiocache.db",
		Extract: ExtractConfig{
			MaxDuration:          extract.DefaultMaxDuration,
			Format:               "mp3",
			Bitrate:              extract.DefaultBitrate,
			Timeout:              extract.DefaultTimeout,
			YTDLPPath:            "yt-dlp",
			FFmpegPath:           "ffmpeg",
			MaxInflightPerClient: 2,
		},
		RateLimit: RateLimitConfig{
			Extract: Rate{Requests: 5, Window: time.Minute},
			Serve:   Rate{Requests: 2, Window: 5 * time.Second},
			Default: Rate{Requests: 30, Window: time.Second},
		},
		Search: SearchConfig{MaxResults: 10, Rate: Rate{Requests: 5, Window: time.Second}},
		S3:     S3Config{URLExpiry: time.Hour},
	}
}

// Load builds the configuration. path names an optional YAML file; values
// from the environment override it. A .env file is picked up by importing
// github.com/joho/godotenv/autoload in main.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs []error

	c.Port = getEnv("PORT", c.Port)
	c.AudioDir = getEnv("AUDIO_DIR", c.AudioDir)
	c.PublicBaseURL = getEnv("PUBLIC_BASE_URL", c.PublicBaseURL)
	c.RetentionWindow = getEnvDuration("RETENTION_WINDOW", c.RetentionWindow, &errs)
	c.SweepInterval = getEnvDuration("SWEEP_INTERVAL", c.SweepInterval, &errs)
	if v, ok := os.LookupEnv("CORS_ORIGINS"); ok {
		c.CORSOrigins = splitList(v)
	}
	if v, ok := os.LookupEnv("HISTORY_DB"); ok {
		c.HistoryDB = strings.TrimSpace(v)
	}

	c.Extract.MaxDuration = getEnvDuration("MAX_DURATION", c.Extract.MaxDuration, &errs)
	c.Extract.Format = strings.ToLower(getEnv("AUDIO_FORMAT", c.Extract.Format))
	c.Extract.Bitrate = getEnv("AUDIO_BITRATE", c.Extract.Bitrate)
	c.Extract.Timeout = getEnvDuration("EXTRACT_TIMEOUT", c.Extract.Timeout, &errs)
	c.Extract.YTDLPPath = getEnv("YTDLP_PATH", c.Extract.YTDLPPath)
	c.Extract.FFmpegPath = getEnv("FFMPEG_PATH", c.Extract.FFmpegPath)
	c.Extract.MaxInflightPerClient = getEnvInt("MAX_INFLIGHT_PER_CLIENT", c.Extract.MaxInflightPerClient, &errs)

	c.RateLimit.Disabled = getEnvBool("RATE_LIMIT_DISABLED", c.RateLimit.Disabled, &errs)
	c.RateLimit.Extract = getEnvRate("RATE_EXTRACT", c.RateLimit.Extract, &errs)
	c.RateLimit.Serve = getEnvRate("RATE_SERVE", c.RateLimit.Serve, &errs)
	c.RateLimit.Default = getEnvRate("RATE_DEFAULT", c.RateLimit.Default, &errs)

	c.Search.APIKey = getEnv("YOUTUBE_API_KEY", c.Search.APIKey)
	c.Search.MaxResults = getEnvInt("SEARCH_MAX_RESULTS", c.Search.MaxResults, &errs)
	c.Search.Rate = getEnvRate("SEARCH_RATE", c.Search.Rate, &errs)

	c.Upstream.URL = getEnv("UPSTREAM_URL", c.Upstream.URL)
	c.Upstream.Token = getEnv("UPSTREAM_TOKEN", c.Upstream.Token)

	c.S3.Endpoint = getEnv("S3_ENDPOINT", c.S3.Endpoint)
	c.S3.AccessKey = getEnv("S3_ACCESS_KEY", c.S3.AccessKey)
	c.S3.SecretKey = getEnv("S3_SECRET_KEY", c.S3.SecretKey)
	c.S3.Bucket = getEnv("S3_BUCKET", c.S3.Bucket)
	c.S3.Prefix = getEnv("S3_PREFIX", c.S3.Prefix)
	c.S3.UseSSL = getEnvBool("S3_USE_SSL", c.S3.UseSSL, &errs)
	c.S3.URLExpiry = getEnvDuration("S3_URL_EXPIRY", c.S3.URLExpiry, &errs)

	return errors.Join(errs...)
}

// Validate reports every setting that would prevent the service from starting.
func (c *Config) Validate() error {
	var errs []error

	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	if c.AudioDir == "" {
		errs = append(errs, errors.New("audio_dir is required"))
	}
	if c.RetentionWindow <= 0 {
		errs = append(errs, errors.New("retention_window must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("sweep_interval must be positive"))
	}
	if c.Extract.MaxDuration <= 0 {
		errs = append(errs, errors.New("extract.max_duration must be positive"))
	}
	if c.Extract.Timeout <= 0 {
		errs = append(errs, errors.New("extract.timeout must be positive"))
	}
	if !extract.SupportedFormat(c.Extract.Format) {
		errs = append(errs, fmt.Errorf("unsupported audio format %q", c.Extract.Format))
	}
	if c.Extract.MaxInflightPerClient < 0 {
		errs = append(errs, errors.New("extract.max_inflight_per_client must not be negative"))
	}
	if !c.RateLimit.Disabled {
		for name, r := range map[string]Rate{
			"extract": c.RateLimit.Extract,
			"serve":   c.RateLimit.Serve,
			"default": c.RateLimit.Default,
		} {
			if r.Requests <= 0 || r.Window <= 0 {
				errs = append(errs, fmt.Errorf("rate_limit.%s must have positive requests and window, got %s", name, r))
			}
		}
	}
	if (c.Upstream.URL == "") != (c.Upstream.Token == "") {
		errs = append(errs, errors.New("upstream url and token must be set together"))
	}
	if c.S3.Bucket != "" && (c.S3.Endpoint == "" || c.S3.AccessKey == "" || c.S3.SecretKey == "") {
		errs = append(errs, errors.New("s3 bucket requires endpoint, access key and secret key"))
	}

	return errors.Join(errs...)
}

// StagingMaxAge is the age past which a staging workspace is treated as
// abandoned. It outlasts both the retention window and the longest
// extraction, plus stagingGrace for the publish step.
func (c *Config) StagingMaxAge() time.Duration {
	return max(c.RetentionWindow, c.Extract.Timeout) + stagingGrace
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	if strings.Contains(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool, errs *[]error) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func getEnvInt(key string, def int, errs *[]error) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return i
}

// getEnvDuration accepts Go durations ("90s", "1h") or bare seconds ("300").
func getEnvDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func getEnvRate(key string, def Rate, errs *[]error) Rate {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	r, err := ParseRate(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return r
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
