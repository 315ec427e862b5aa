package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	OSS        OSSConfig        `mapstructure:"oss"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Discovery  DiscoveryConfig  `mapstructure:"discovery"`
	Validation ValidationConfig `mapstructure:"validation"`
	Ranking    RankingConfig    `mapstructure:"ranking"`
	Refresh    RefreshConfig    `mapstructure:"refresh"`
	CORS       CORSConfig       `mapstructure:"cors"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql, postgres, sqlite
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	BucketName      string `mapstructure:"bucket_name"`
	CDNDomain       string `mapstructure:"cdn_domain"`
}

// ArchiveConfig 未配置 OSS 时结构快照的存放位置
type ArchiveConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	LocalDir    string `mapstructure:"local_dir"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type QueueConfig struct {
	MaxWorkers   int           `mapstructure:"max_workers"`
	BatchSize    int           `mapstructure:"batch_size"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	JobTimeout   time.Duration `mapstructure:"job_timeout"`
	StaleAfter   time.Duration `mapstructure:"stale_after"`

	// NotifyQueue 用于唤醒空闲 worker 的 Redis 列表
	NotifyQueue string `mapstructure:"notify_queue"`
	// MetricsAddr worker 进程暴露 /metrics 的地址，为空则不启用
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type DiscoveryConfig struct {
	UserAgent           string        `mapstructure:"user_agent"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	ProxyURL            string        `mapstructure:"proxy_url"`
	QuickScanMaxEntries int           `mapstructure:"quick_scan_max_entries"`
	MaxSitemapFetches   int           `mapstructure:"max_sitemap_fetches"`
	RequestsPerSecond   float64       `mapstructure:"requests_per_second"`
	Burst               int           `mapstructure:"burst"`
	ProbeSubdomains     bool          `mapstructure:"probe_subdomains"`
	SubdomainTimeout    time.Duration `mapstructure:"subdomain_timeout"`
	SubdomainWorkers    int           `mapstructure:"subdomain_workers"`
}

type ValidationConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Timeout         time.Duration `mapstructure:"timeout"`
	Concurrency     int           `mapstructure:"concurrency"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	AmbiguousPolicy string        `mapstructure:"ambiguous_policy"` // assume_valid, assume_invalid
	ExtractTitles   bool          `mapstructure:"extract_titles"`
}

type RankingConfig struct {
	Mode     string        `mapstructure:"mode"` // full, fast
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type RefreshConfig struct {
	Schedule        string `mapstructure:"schedule"`
	DefaultPriority int    `mapstructure:"default_priority"`
	BatchSize       int    `mapstructure:"batch_size"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text, json
}

// Default 配置文件缺省项使用的默认配置
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Host: "0.0.0.0", Port: 8080, Mode: "debug"},
		Database: DatabaseConfig{Driver: "mysql", Port: 3306, MaxIdleConns: 10, MaxOpenConns: 50},
		Redis:    RedisConfig{Host: "localhost", Port: 6379, PoolSize: 20},
		Archive:  ArchiveConfig{LocalDir: "/tmp/site_structures", ExpireHours: 72},
		Queue: QueueConfig{
			MaxWorkers:   4,
			BatchSize:    5,
			PollInterval: 5 * time.Second,
			MaxAttempts:  3,
			JobTimeout:   5 * time.Minute,
			StaleAfter:   30 * time.Minute,
			NotifyQueue:  "site_structure:jobs",
			MetricsAddr:  ":9091",
		},
		Discovery: DiscoveryConfig{
			UserAgent:           "Mozilla/5.0 (compatible; SiteStructureBot/1.0)",
			RequestTimeout:      15 * time.Second,
			QuickScanMaxEntries: 200,
			MaxSitemapFetches:   500,
			RequestsPerSecond:   4,
			Burst:               4,
			ProbeSubdomains:     true,
			SubdomainTimeout:    5 * time.Second,
			SubdomainWorkers:    5,
		},
		Validation: ValidationConfig{
			Timeout:         6 * time.Second,
			Concurrency:     4,
			CacheTTL:        time.Hour,
			AmbiguousPolicy: "assume_valid",
		},
		Ranking: RankingConfig{Mode: "full", CacheTTL: 30 * time.Minute},
		Refresh: RefreshConfig{Schedule: "@every 1h", DefaultPriority: 5, BatchSize: 100},
		CORS: CORSConfig{
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

func Load(configPath string) (*Config, error) {
	// .env 可选，已有环境变量优先
	_ = godotenv.Load()

	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")
	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
