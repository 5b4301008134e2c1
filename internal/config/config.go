package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	CrawlerConfigFile = "crawler_config.json"
	SelectorsFile     = "selectors.json"
	StatusFile        = "crawler_status.json"
)

// ErrMissingConfig is returned when a required configuration document is absent.
var ErrMissingConfig = errors.New("configuration file not found")

var supportedBrowsers = map[string]bool{"chromium": true, "firefox": true, "webkit": true}

type Config struct {
	Crawler   CrawlerConfig
	Selectors Selectors
	Paths     PathsConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Archive   ArchiveConfig
	Server    ServerConfig
	Logging   LoggingConfig
}

type CrawlerConfig struct {
	BatchSize        int           `mapstructure:"batch_size" json:"batch_size"`
	RecrawlBatchSize int           `mapstructure:"recrawl_batch_size" json:"recrawl_batch_size"`
	URLWaitTime      WaitRange     `mapstructure:"url_wait_time" json:"url_wait_time"`
	BatchWaitTime    WaitRange     `mapstructure:"batch_wait_time" json:"batch_wait_time"`
	Browsers         []string      `mapstructure:"browsers" json:"browsers"`
	Headless         bool          `mapstructure:"headless" json:"headless"`
	OutputBasename   string        `mapstructure:"output_basename" json:"output_basename"`
	CriticalFields   []string      `mapstructure:"critical_fields" json:"critical_fields"`
	Stealth          StealthConfig `mapstructure:"stealth_mode" json:"stealth_mode"`
	Proxy            ProxyConfig   `mapstructure:"proxy" json:"proxy"`
}

// WaitRange is a randomized delay window in seconds.
type WaitRange struct {
	Min float64 `mapstructure:"min" json:"min"`
	Max float64 `mapstructure:"max" json:"max"`
}

func (w WaitRange) Bounds() (time.Duration, time.Duration) {
	return seconds(w.Min), seconds(w.Max)
}

type StealthConfig struct {
	Enabled   bool     `mapstructure:"enabled" json:"enabled"`
	UserAgent string   `mapstructure:"user_agent" json:"user_agent"`
	Viewport  Viewport `mapstructure:"viewport" json:"viewport"`
}

type Viewport struct {
	Width  int `mapstructure:"width" json:"width"`
	Height int `mapstructure:"height" json:"height"`
}

type ProxyConfig struct {
	Enabled  bool   `mapstructure:"enabled" json:"enabled"`
	Server   string `mapstructure:"server" json:"server"`
	Username string `mapstructure:"username" json:"username"`
	Password string `mapstructure:"password" json:"-"`
	CheckURL string `mapstructure:"check_url" json:"check_url"`
}

type PathsConfig struct {
	ConfigDir  string
	StatusFile string
	OutputDir  string
	BlockedDir string
	LogDir     string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	MaxConns int32
}

func (d DatabaseConfig) Enabled() bool { return d.Host != "" }

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
}

func (r RedisConfig) Enabled() bool { return r.Addr != "" }

type ArchiveConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Prefix    string
}

func (a ArchiveConfig) Enabled() bool { return a.Endpoint != "" }

type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
	Dir    string
}

// Load reads the crawler and selector documents from dir and the
// infrastructure settings from the environment. Both documents are required.
func Load(dir string) (*Config, error) {
	cfg := &Config{
		Paths: PathsConfig{
			ConfigDir:  dir,
			StatusFile: getEnvOrDefault("CRAWLER_STATUS_FILE", filepath.Join(dir, StatusFile)),
			OutputDir:  getEnvOrDefault("CRAWLER_OUTPUT_DIR", "RAW"),
			BlockedDir: getEnvOrDefault("CRAWLER_BLOCKED_DIR", "blocked_pages"),
			LogDir:     getEnvOrDefault("LOG_DIR", "logs"),
		},
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", ""),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "price_crawler"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 4)),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", ""),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
			Stream:   getEnvOrDefault("REDIS_STREAM", "stream:crawl_events"),
		},
		Archive: ArchiveConfig{
			Endpoint:  getEnvOrDefault("MINIO_ENDPOINT", ""),
			AccessKey: getEnvOrDefault("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnvOrDefault("MINIO_SECRET_KEY", ""),
			Bucket:    getEnvOrDefault("MINIO_BUCKET", "crawler-artifacts"),
			UseSSL:    getBoolOrDefault("MINIO_USE_SSL", false),
			Prefix:    getEnvOrDefault("MINIO_PREFIX", "coupang"),
		},
		Server: ServerConfig{
			Addr:            getEnvOrDefault("STATUS_ADDR", ""),
			ReadTimeout:     getDurationOrDefault("STATUS_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("STATUS_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getDurationOrDefault("STATUS_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "text"),
			Dir:    getEnvOrDefault("LOG_DIR", "logs"),
		},
	}

	crawlerDoc, err := readDocument(filepath.Join(dir, CrawlerConfigFile), setCrawlerDefaults)
	if err != nil {
		return nil, err
	}
	if err := crawlerDoc.Unmarshal(&cfg.Crawler); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", CrawlerConfigFile, err)
	}

	selectorDoc, err := readDocument(filepath.Join(dir, SelectorsFile), nil)
	if err != nil {
		return nil, err
	}
	var configured Selectors
	if err := selectorDoc.Unmarshal(&configured); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", SelectorsFile, err)
	}
	cfg.Selectors = configured.Resolve()

	return cfg, nil
}

func readDocument(path string, defaults func(*viper.Viper)) (*viper.Viper, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrMissingConfig, path)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if defaults != nil {
		defaults(v)
	}
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return v, nil
}

func setCrawlerDefaults(v *viper.Viper) {
	v.SetDefault("batch_size", 15)
	v.SetDefault("recrawl_batch_size", 5)
	v.SetDefault("url_wait_time.min", 10)
	v.SetDefault("url_wait_time.max", 40)
	v.SetDefault("batch_wait_time.min", 600)
	v.SetDefault("batch_wait_time.max", 900)
	v.SetDefault("browsers", []string{"webkit"})
	v.SetDefault("headless", false)
	v.SetDefault("output_basename", "coupang_results")
	v.SetDefault("critical_fields", []string{"PRICE", "ORIGIN_PRICE", "COUPANG_PROD_NAME"})
	v.SetDefault("stealth_mode.enabled", true)
	v.SetDefault("stealth_mode.user_agent", "auto")
	v.SetDefault("stealth_mode.viewport.width", 1920)
	v.SetDefault("stealth_mode.viewport.height", 1080)
	v.SetDefault("proxy.enabled", false)
	v.SetDefault("proxy.check_url", "https://ip.decodo.com/json")
}

func (c *Config) Validate() error {
	cr := c.Crawler
	if cr.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1")
	}
	if cr.RecrawlBatchSize < 1 {
		return fmt.Errorf("recrawl_batch_size must be at least 1")
	}
	for name, w := range map[string]WaitRange{"url_wait_time": cr.URLWaitTime, "batch_wait_time": cr.BatchWaitTime} {
		if w.Min < 0 || w.Max < 0 {
			return fmt.Errorf("%s cannot be negative", name)
		}
		if w.Min > w.Max {
			return fmt.Errorf("%s.min cannot be greater than %s.max", name, name)
		}
	}
	if len(cr.Browsers) == 0 {
		return fmt.Errorf("browsers must list at least one browser")
	}
	for _, b := range cr.Browsers {
		if !supportedBrowsers[b] {
			return fmt.Errorf("unsupported browser %q", b)
		}
	}
	if cr.Stealth.Viewport.Width <= 0 || cr.Stealth.Viewport.Height <= 0 {
		return fmt.Errorf("stealth_mode.viewport must be positive")
	}
	if cr.Proxy.Enabled && cr.Proxy.Server == "" {
		return fmt.Errorf("proxy.server is required when proxy is enabled")
	}
	if strings.TrimSpace(cr.OutputBasename) == "" {
		return fmt.Errorf("output_basename cannot be empty")
	}
	return nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
