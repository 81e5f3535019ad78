// Package config loads and validates grab worker configuration via Viper.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/fotopedia-grab/internal/delivery"
	"github.com/JakeFAU/fotopedia-grab/internal/sanity"
)

// Pipeline identity reported to the tracker and written into every container.
const (
	Version       = "20140807.02"
	UserAgent     = "ArchiveTeam"
	TrackerID     = "fotopedia"
	TrackerHost   = "tracker.archiveteam.org"
	Operator      = "Archive Team"
	FetchVersion  = "GNU Wget 1.14.lua.20130523-9a5c"
	defaultPrefix = "fotopedia"
)

// DefaultFetchBinaries are probed in order for a usable fetch tool.
var DefaultFetchBinaries = []string{
	"./wget-lua",
	"./wget-lua-warrior",
	"./wget-lua-local",
	"../wget-lua",
	"../../wget-lua",
	"/home/warrior/wget-lua",
	"/usr/bin/wget-lua",
}

// Delivery providers.
const (
	ProviderRsync = "rsync"
	ProviderLocal = "local"
	ProviderGCS   = "gcs"
)

// Config captures all worker configuration knobs loaded via Viper.
type Config struct {
	Project  ProjectConfig  `mapstructure:"project"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Sanity   SanityConfig   `mapstructure:"sanity"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	Tracker  TrackerConfig  `mapstructure:"tracker"`
	Server   ServerConfig   `mapstructure:"server"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ProjectConfig names the archival project.
type ProjectConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	TrackerID   string `mapstructure:"tracker_id"`
	TrackerHost string `mapstructure:"tracker_host"`
	WarcPrefix  string `mapstructure:"warc_prefix"`
	UserAgent   string `mapstructure:"user_agent"`
	Operator    string `mapstructure:"operator"`
}

// WorkerConfig governs the claim loops.
type WorkerConfig struct {
	Downloader         string `mapstructure:"downloader"`
	Concurrency        int    `mapstructure:"concurrency"`
	DataDir            string `mapstructure:"data_dir"`
	SharedDir          string `mapstructure:"shared_dir"`
	ItemRetries        int    `mapstructure:"item_retries"`
	RetryDelaySeconds  int    `mapstructure:"retry_delay_seconds"`
	IdleBackoffSeconds int    `mapstructure:"idle_backoff_seconds"`
}

// FetchConfig configures the external capture tool.
type FetchConfig struct {
	Binaries          []string `mapstructure:"binaries"`
	VersionString     string   `mapstructure:"version_string"`
	LuaScript         string   `mapstructure:"lua_script"`
	PipelineFile      string   `mapstructure:"pipeline_file"`
	BindAddress       string   `mapstructure:"bind_address"`
	TimeoutSeconds    int      `mapstructure:"timeout_seconds"`
	WaitRetrySeconds  int      `mapstructure:"wait_retry_seconds"`
	MaxTries          int      `mapstructure:"max_tries"`
	RetryDelaySeconds int      `mapstructure:"retry_delay_seconds"`
	AcceptExitCodes   []int    `mapstructure:"accept_exit_codes"`
	WidenOdds         int      `mapstructure:"widen_odds"`
}

// SanityConfig configures the interception probe.
type SanityConfig struct {
	Hosts    []string `mapstructure:"hosts"`
	Interval int      `mapstructure:"interval"`
}

// DeliveryConfig selects and tunes the uploader.
type DeliveryConfig struct {
	Provider string      `mapstructure:"provider"`
	Threads  int         `mapstructure:"threads"`
	Rsync    RsyncConfig `mapstructure:"rsync"`
	Local    LocalConfig `mapstructure:"local"`
	GCS      GCSConfig   `mapstructure:"gcs"`
}

// RsyncConfig tunes the rsync uploader.
type RsyncConfig struct {
	Binary         string   `mapstructure:"binary"`
	ExtraArgs      []string `mapstructure:"extra_args"`
	BandwidthLimit int      `mapstructure:"bandwidth_limit"`
}

// LocalConfig points the local uploader at a directory.
type LocalConfig struct {
	Dir string `mapstructure:"dir"`
}

// GCSConfig points the GCS uploader at a bucket.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// TrackerConfig tunes the tracker client.
type TrackerConfig struct {
	URL                  string `mapstructure:"url"`
	ClaimIntervalSeconds int    `mapstructure:"claim_interval_seconds"`
	BackoffSeconds       int    `mapstructure:"backoff_seconds"`
	TimeoutSeconds       int    `mapstructure:"timeout_seconds"`
	ReportAttempts       int    `mapstructure:"report_attempts"`
	ReportBackoffSeconds int    `mapstructure:"report_backoff_seconds"`
}

// ServerConfig controls the status server.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	APIKey  string `mapstructure:"api_key"`
}

// LedgerConfig controls the Postgres outcome ledger. An empty DSN disables it.
type LedgerConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// NotifyConfig holds Pub/Sub coordinates. An empty topic disables notifications.
type NotifyConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GRAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("project.name", defaultPrefix)
	v.SetDefault("project.version", Version)
	v.SetDefault("project.tracker_id", TrackerID)
	v.SetDefault("project.tracker_host", TrackerHost)
	v.SetDefault("project.warc_prefix", defaultPrefix)
	v.SetDefault("project.user_agent", UserAgent)
	v.SetDefault("project.operator", Operator)
	v.SetDefault("worker.concurrency", 1)
	v.SetDefault("worker.data_dir", "data")
	v.SetDefault("worker.item_retries", 0)
	v.SetDefault("worker.retry_delay_seconds", 30)
	v.SetDefault("worker.idle_backoff_seconds", 10)
	v.SetDefault("fetch.binaries", DefaultFetchBinaries)
	v.SetDefault("fetch.version_string", FetchVersion)
	v.SetDefault("fetch.lua_script", "fotopedia.lua")
	v.SetDefault("fetch.timeout_seconds", 60)
	v.SetDefault("fetch.wait_retry_seconds", 3600)
	v.SetDefault("fetch.max_tries", 2)
	v.SetDefault("fetch.retry_delay_seconds", 0)
	v.SetDefault("fetch.accept_exit_codes", []int{0, 4, 8})
	v.SetDefault("fetch.widen_odds", 10)
	v.SetDefault("sanity.hosts", sanity.DefaultHosts)
	v.SetDefault("sanity.interval", sanity.DefaultInterval)
	v.SetDefault("delivery.provider", ProviderRsync)
	v.SetDefault("delivery.threads", delivery.DefaultCapacity)
	v.SetDefault("delivery.rsync.binary", "rsync")
	v.SetDefault("tracker.claim_interval_seconds", 1)
	v.SetDefault("tracker.backoff_seconds", 30)
	v.SetDefault("tracker.timeout_seconds", 60)
	v.SetDefault("tracker.report_attempts", 5)
	v.SetDefault("tracker.report_backoff_seconds", 10)
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("ledger.table", "item_outcomes")
	v.SetDefault("ledger.max_conns", 4)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Project.Name == "" || c.Project.WarcPrefix == "" {
		return fmt.Errorf("project.name and project.warc_prefix are required")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Worker.DataDir == "" {
		return fmt.Errorf("worker.data_dir is required")
	}
	if c.Worker.ItemRetries < 0 {
		return fmt.Errorf("worker.item_retries must be >= 0")
	}
	if c.Fetch.MaxTries <= 0 {
		return fmt.Errorf("fetch.max_tries must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if len(c.Fetch.Binaries) == 0 {
		return fmt.Errorf("fetch.binaries must list at least one candidate")
	}
	if len(c.Sanity.Hosts) < 2 {
		return fmt.Errorf("sanity.hosts must list at least two hosts")
	}
	if c.Sanity.Interval <= 0 {
		return fmt.Errorf("sanity.interval must be > 0")
	}
	if c.Delivery.Threads < delivery.MinCapacity || c.Delivery.Threads > delivery.MaxCapacity {
		return fmt.Errorf("delivery.threads must be between %d and %d", delivery.MinCapacity, delivery.MaxCapacity)
	}
	if !slices.Contains([]string{ProviderRsync, ProviderLocal, ProviderGCS}, c.Delivery.Provider) {
		return fmt.Errorf("delivery.provider %q is not one of rsync, local, gcs", c.Delivery.Provider)
	}
	if c.Delivery.Provider == ProviderLocal && c.Delivery.Local.Dir == "" {
		return fmt.Errorf("delivery.local.dir must be set for the local provider")
	}
	if c.Delivery.Provider == ProviderGCS && c.Delivery.GCS.Bucket == "" {
		return fmt.Errorf("delivery.gcs.bucket must be set for the gcs provider")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Notify.Topic != "" && c.Notify.ProjectID == "" {
		return fmt.Errorf("notify.project_id must be set when notify.topic is set")
	}
	return nil
}

// TrackerURL returns the tracker endpoint root.
func (c Config) TrackerURL() string {
	if c.Tracker.URL != "" {
		return strings.TrimRight(c.Tracker.URL, "/")
	}
	return "http://" + c.Project.TrackerHost + "/" + c.Project.TrackerID
}

// SharedDir returns the directory finished containers move to.
func (c Config) SharedDir() string {
	if c.Worker.SharedDir != "" {
		return c.Worker.SharedDir
	}
	return c.Worker.DataDir
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// FetchTimeout is the per-request timeout handed to the fetch tool.
func (c Config) FetchTimeout() time.Duration { return seconds(c.Fetch.TimeoutSeconds) }

// FetchWaitRetry is the longest backoff the fetch tool may use between retries.
func (c Config) FetchWaitRetry() time.Duration { return seconds(c.Fetch.WaitRetrySeconds) }

// FetchRetryDelay separates fetch attempts.
func (c Config) FetchRetryDelay() time.Duration { return seconds(c.Fetch.RetryDelaySeconds) }

// ItemRetryDelay separates whole-item restarts.
func (c Config) ItemRetryDelay() time.Duration { return seconds(c.Worker.RetryDelaySeconds) }

// IdleBackoff is the pause after an empty claim.
func (c Config) IdleBackoff() time.Duration { return seconds(c.Worker.IdleBackoffSeconds) }

// ClaimInterval is the minimum spacing between tracker claims.
func (c Config) ClaimInterval() time.Duration { return seconds(c.Tracker.ClaimIntervalSeconds) }

// TrackerBackoff is the hold applied when the tracker rate-limits us.
func (c Config) TrackerBackoff() time.Duration { return seconds(c.Tracker.BackoffSeconds) }

// TrackerTimeout bounds one tracker request.
func (c Config) TrackerTimeout() time.Duration { return seconds(c.Tracker.TimeoutSeconds) }

// ReportBackoff separates completion report attempts.
func (c Config) ReportBackoff() time.Duration { return seconds(c.Tracker.ReportBackoffSeconds) }
