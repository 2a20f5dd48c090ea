package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/go-ini/ini"
)

// ErrMissingSection wraps a required config section that is absent or
// incomplete. Mains exit with code 3 when Load returns one.
type ErrMissingSection struct {
	Section string
	Key     string
}

func (e *ErrMissingSection) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config section [%s] missing key %q", e.Section, e.Key)
	}
	return fmt.Sprintf("config section [%s] missing", e.Section)
}

type Config struct {
	Postgres  PostgresConfig
	MQ        MQConfig
	Redis     RedisConfig
	MinIO     MinIOConfig
	Scheduler SchedulerConfig
	Scraper   ScraperConfig
	Analyzer  AnalyzerConfig
}

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// DSN builds the postgresql:// connection string used by pgx.
func (c PostgresConfig) DSN() string {
	u := &url.URL{
		Scheme: "postgresql",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   c.Database,
	}
	return u.String()
}

type MQConfig struct {
	Host           string
	Port           int
	WorkerQueue    string
	ProcessorQueue string
}

func (c MQConfig) URL() string {
	return fmt.Sprintf("amqp://%s:%d/", c.Host, c.Port)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type MinIOConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	UseSSL        bool
	ArchiveBucket string
}

// Enabled reports whether raw-HTML archiving is configured at all.
func (c MinIOConfig) Enabled() bool {
	return c.Endpoint != ""
}

type SchedulerConfig struct {
	// AccessDayDifference has no implicit default: the due-URL window is an
	// operational decision and must be stated in the config file.
	AccessDayDifference int
	SleepHours          int
}

type ScraperConfig struct {
	TorProxy           string
	TorControl         string
	RequestTimeoutSecs int
	CrawlDelayMs       int
	BlacklistFile      string
}

type AnalyzerConfig struct {
	ModelDir     string
	RetrainHours int
}

const (
	defaultRedisHost          = "localhost"
	defaultRedisPort          = 6379
	defaultSleepHours         = 1
	defaultTorProxy           = "http://127.0.0.1:8118"
	defaultTorControl         = "127.0.0.1:9051"
	defaultRequestTimeoutSecs = 120
	defaultCrawlDelayMs       = 2000
	defaultBlacklistFile      = "blacklist.txt"
	defaultModelDir           = "model_dir"
	defaultRetrainHours       = 24
	defaultArchiveBucket      = "drksrch-html"
)

// ActivePath returns the config file for this environment: containers ship
// config.conf, local runs read config_local.conf.
func ActivePath() string {
	if strings.EqualFold(os.Getenv("AM_I_IN_A_DOCKER_CONTAINER"), "true") {
		return "config.conf"
	}
	return "config_local.conf"
}

// Load reads an INI config file. The POSTGRES and MQ sections are required;
// everything else falls back to defaults.
func Load(path string) (*Config, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return parse(file)
}

func parse(file *ini.File) (*Config, error) {
	cfg := &Config{}

	pg, err := file.GetSection("POSTGRES")
	if err != nil {
		return nil, &ErrMissingSection{Section: "POSTGRES"}
	}
	if err := requireKeys(pg, "postgresql_host", "postgresql_port", "postgresql_user", "postgresql_pass", "postgresql_db"); err != nil {
		return nil, err
	}
	cfg.Postgres = PostgresConfig{
		Host:     pg.Key("postgresql_host").String(),
		Port:     pg.Key("postgresql_port").MustInt(),
		User:     pg.Key("postgresql_user").String(),
		Password: pg.Key("postgresql_pass").String(),
		Database: pg.Key("postgresql_db").String(),
	}

	mq, err := file.GetSection("MQ")
	if err != nil {
		return nil, &ErrMissingSection{Section: "MQ"}
	}
	if err := requireKeys(mq, "mq_host", "mq_port", "mq_worker_queue", "mq_processor_queue"); err != nil {
		return nil, err
	}
	cfg.MQ = MQConfig{
		Host:           mq.Key("mq_host").String(),
		Port:           mq.Key("mq_port").MustInt(),
		WorkerQueue:    mq.Key("mq_worker_queue").String(),
		ProcessorQueue: mq.Key("mq_processor_queue").String(),
	}

	rd := file.Section("REDIS")
	cfg.Redis = RedisConfig{
		Host:     rd.Key("redis_host").MustString(defaultRedisHost),
		Port:     rd.Key("redis_port").MustInt(defaultRedisPort),
		Password: rd.Key("redis_pass").String(),
	}

	mo := file.Section("MINIO")
	cfg.MinIO = MinIOConfig{
		Endpoint:      mo.Key("minio_endpoint").String(),
		AccessKey:     mo.Key("minio_access_key").String(),
		SecretKey:     mo.Key("minio_secret_key").String(),
		UseSSL:        mo.Key("minio_use_ssl").MustBool(false),
		ArchiveBucket: mo.Key("minio_archive_bucket").MustString(defaultArchiveBucket),
	}

	sc := file.Section("SCHEDULER")
	cfg.Scheduler = SchedulerConfig{
		AccessDayDifference: sc.Key("access_day_difference").MustInt(-1),
		SleepHours:          sc.Key("sleep_hours").MustInt(defaultSleepHours),
	}

	sr := file.Section("SCRAPER")
	cfg.Scraper = ScraperConfig{
		TorProxy:           sr.Key("tor_proxy").MustString(defaultTorProxy),
		TorControl:         sr.Key("tor_control").MustString(defaultTorControl),
		RequestTimeoutSecs: sr.Key("request_timeout_secs").MustInt(defaultRequestTimeoutSecs),
		CrawlDelayMs:       sr.Key("crawl_delay_ms").MustInt(defaultCrawlDelayMs),
		BlacklistFile:      sr.Key("blacklist_file").MustString(defaultBlacklistFile),
	}

	an := file.Section("ANALYZER")
	cfg.Analyzer = AnalyzerConfig{
		ModelDir:     an.Key("model_dir").MustString(defaultModelDir),
		RetrainHours: an.Key("retrain_hours").MustInt(defaultRetrainHours),
	}

	return cfg, nil
}

// RequireSchedulerWindow validates the knob the scheduler cannot run without.
func (c *Config) RequireSchedulerWindow() error {
	if c.Scheduler.AccessDayDifference < 0 {
		return &ErrMissingSection{Section: "SCHEDULER", Key: "access_day_difference"}
	}
	return nil
}

func requireKeys(section *ini.Section, keys ...string) error {
	for _, k := range keys {
		if !section.HasKey(k) {
			return &ErrMissingSection{Section: section.Name(), Key: k}
		}
	}
	return nil
}

// TrainerThreads reads TRAINER_THREADS from the environment, defaulting to 12.
func TrainerThreads() int {
	if v := os.Getenv("TRAINER_THREADS"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			return n
		}
	}
	return 12
}

// Uplink returns the analyzer's RPC listen address and shared secret.
// Both must be present.
func Uplink() (addr, key string, err error) {
	addr = os.Getenv("UPLINK")
	key = os.Getenv("UPLINK_KEY")
	if addr == "" {
		return "", "", fmt.Errorf("UPLINK environment variable is missing")
	}
	if key == "" {
		return "", "", fmt.Errorf("UPLINK_KEY environment variable is missing")
	}
	return addr, key, nil
}
