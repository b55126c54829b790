// Package config loads and validates scraper configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config captures all worker configuration knobs loaded via Viper.
type Config struct {
	Worker      WorkerConfig      `mapstructure:"worker"`
	Browser     BrowserConfig     `mapstructure:"browser"`
	Collector   CollectorConfig   `mapstructure:"collector"`
	Extractor   ExtractorConfig   `mapstructure:"extractor"`
	Runner      RunnerConfig      `mapstructure:"runner"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Store       StoreConfig       `mapstructure:"store"`
	Images      ImagesConfig      `mapstructure:"images"`
	Events      EventsConfig      `mapstructure:"events"`
	Alerts      AlertsConfig      `mapstructure:"alerts"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
	TaskGen     TaskGenConfig     `mapstructure:"taskgen"`
}

// WorkerConfig identifies this worker within the fleet.
type WorkerConfig struct {
	ID string `mapstructure:"id"`
	// OwnerID is stamped on every stored listing.
	OwnerID string `mapstructure:"owner_id"`
}

// BrowserConfig controls the Chrome session.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless"`
	Proxy             string        `mapstructure:"proxy"`
	AllowImages       bool          `mapstructure:"allow_images"`
	ProfileFile       string        `mapstructure:"profile_file"`
	ProfilesDir       string        `mapstructure:"profiles_dir"`
	ExecPath          string        `mapstructure:"exec_path"`
	UserAgent         string        `mapstructure:"user_agent"`
	WindowWidth       int           `mapstructure:"window_width"`
	WindowHeight      int           `mapstructure:"window_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	ClickTimeout      time.Duration `mapstructure:"click_timeout"`
	RestartInterval   time.Duration `mapstructure:"restart_interval"`
	RestartPause      time.Duration `mapstructure:"restart_pause"`
	NavigationRPS     float64       `mapstructure:"navigation_rps"`
	NavigationBurst   int           `mapstructure:"navigation_burst"`
	SkipProxyCheck    bool          `mapstructure:"skip_proxy_check"`
	ProxyCheckURL     string        `mapstructure:"proxy_check_url"`
	ProxyCheckTimeout time.Duration `mapstructure:"proxy_check_timeout"`
}

// CollectorConfig governs link collection on the marketplace page.
type CollectorConfig struct {
	MarketplaceURL string        `mapstructure:"marketplace_url"`
	ArrivalDelay   time.Duration `mapstructure:"arrival_delay"`
	Threshold      int           `mapstructure:"threshold"`
	MaxScrolls     int           `mapstructure:"max_scrolls"`
	ScrollDelay    time.Duration `mapstructure:"scroll_delay"`
	LinkSelector   string        `mapstructure:"link_selector"`
	ItemPathMarker string        `mapstructure:"item_path_marker"`
}

// ExtractorConfig governs per-listing extraction.
type ExtractorConfig struct {
	PageLoadDelay       time.Duration `mapstructure:"page_load_delay"`
	SeeMoreWait         time.Duration `mapstructure:"see_more_wait"`
	SeeMoreXPath        string        `mapstructure:"see_more_xpath"`
	ProfileRetries      int           `mapstructure:"profile_retries"`
	ProfileRetryScroll  int           `mapstructure:"profile_retry_scroll"`
	ProfileRetryDelay   time.Duration `mapstructure:"profile_retry_delay"`
	ProfilePollAttempts int           `mapstructure:"profile_poll_attempts"`
	ProfilePollInterval time.Duration `mapstructure:"profile_poll_interval"`
	ProfileSettleDelay  time.Duration `mapstructure:"profile_settle_delay"`
	ImageReloadDelay    time.Duration `mapstructure:"image_reload_delay"`
	LeadMarker          string        `mapstructure:"lead_marker"`
	TrailMarker         string        `mapstructure:"trail_marker"`
	JoinedMarker        string        `mapstructure:"joined_marker"`
	ImageXPath          string        `mapstructure:"image_xpath"`
	CDNPrefix           string        `mapstructure:"cdn_prefix"`
	MaxImages           int           `mapstructure:"max_images"`
	ListingURLFormat    string        `mapstructure:"listing_url_format"`
}

// RunnerConfig paces the job loop.
type RunnerConfig struct {
	Once bool `mapstructure:"once"`
	// Drain keeps a single-shot run going until the task source is empty.
	Drain            bool          `mapstructure:"drain"`
	ItemDelay        time.Duration `mapstructure:"item_delay"`
	PostJobPause     time.Duration `mapstructure:"post_job_pause"`
	FailureBackoff   time.Duration `mapstructure:"failure_backoff"`
	NoJobBackoff     time.Duration `mapstructure:"no_job_backoff"`
	BreakEvery       int           `mapstructure:"break_every"`
	BreakChunks      int           `mapstructure:"break_chunks"`
	BreakChunkPause  time.Duration `mapstructure:"break_chunk_pause"`
	ActivitiesMin    int           `mapstructure:"activities_min"`
	ActivitiesMax    int           `mapstructure:"activities_max"`
	ActivityPauseMin time.Duration `mapstructure:"activity_pause_min"`
	ActivityPauseMax time.Duration `mapstructure:"activity_pause_max"`
}

// CoordinatorConfig points at the coordinator API.
type CoordinatorConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APISecret string        `mapstructure:"api_secret"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// StoreConfig selects the document store used for deduplication.
type StoreConfig struct {
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
}

// PostgresConfig configures the Postgres document store.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// MongoConfig configures the MongoDB document store.
type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

// ImagesConfig controls image downloads.
type ImagesConfig struct {
	Download bool          `mapstructure:"download"`
	Driver   string        `mapstructure:"driver"`
	Dir      string        `mapstructure:"dir"`
	Bucket   string        `mapstructure:"bucket"`
	Prefix   string        `mapstructure:"prefix"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// EventsConfig controls listing event publication.
type EventsConfig struct {
	Driver    string `mapstructure:"driver"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// AlertsConfig configures SMS alerts.
type AlertsConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	AccountSID string   `mapstructure:"account_sid"`
	AuthToken  string   `mapstructure:"auth_token"`
	From       string   `mapstructure:"from"`
	To         []string `mapstructure:"to"`
}

// LoggingConfig toggles zap development features and log files.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	HistoryFile string `mapstructure:"history_file"`
	ErrorFile   string `mapstructure:"error_file"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// TaskGenConfig locates the task-list inputs and output.
type TaskGenConfig struct {
	CitiesFile  string `mapstructure:"cities_file"`
	WorkersFile string `mapstructure:"workers_file"`
	Output      string `mapstructure:"output"`
}

// LoadDotEnv loads variables from .env files into the process environment.
// Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

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

// bindLegacyEnv maps the variable names the fleet's deploy scripts export.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"coordinator.api_secret": {"SCRAPER_COORDINATOR_API_SECRET", "INTERNAL_API_SECRET"},
		"coordinator.base_url":   {"SCRAPER_COORDINATOR_BASE_URL", "COORDINATOR_URL"},
		"alerts.account_sid":     {"SCRAPER_ALERTS_ACCOUNT_SID", "TWILIO_ACCOUNT_SID"},
		"alerts.auth_token":      {"SCRAPER_ALERTS_AUTH_TOKEN", "TWILIO_AUTH_TOKEN"},
		"alerts.from":            {"SCRAPER_ALERTS_FROM", "TWILIO_FROM_NUMBER"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("worker.id", "")
	v.SetDefault("worker.owner_id", "")

	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.proxy", "")
	v.SetDefault("browser.allow_images", false)
	v.SetDefault("browser.profile_file", "profile_name.txt")
	v.SetDefault("browser.profiles_dir", "profiles")
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	v.SetDefault("browser.window_width", 1440)
	v.SetDefault("browser.window_height", 900)
	v.SetDefault("browser.navigation_timeout", 45*time.Second)
	v.SetDefault("browser.click_timeout", 5*time.Second)
	v.SetDefault("browser.restart_interval", 180*time.Minute)
	v.SetDefault("browser.restart_pause", 3*time.Second)
	v.SetDefault("browser.navigation_rps", 0)
	v.SetDefault("browser.navigation_burst", 1)
	v.SetDefault("browser.skip_proxy_check", false)
	v.SetDefault("browser.proxy_check_url", "http://httpbin.org/ip")
	v.SetDefault("browser.proxy_check_timeout", 10*time.Second)

	v.SetDefault("collector.marketplace_url", "https://www.facebook.com/marketplace/%s/vehicles?sortBy=creation_time_descend&exact=true")
	v.SetDefault("collector.arrival_delay", 3*time.Second)
	v.SetDefault("collector.threshold", 500)
	v.SetDefault("collector.max_scrolls", 50)
	v.SetDefault("collector.scroll_delay", 2*time.Second)
	v.SetDefault("collector.link_selector", "a[href*='/marketplace/item/']")
	v.SetDefault("collector.item_path_marker", "/marketplace/item/")

	v.SetDefault("extractor.page_load_delay", 3*time.Second)
	v.SetDefault("extractor.see_more_wait", 3*time.Second)
	v.SetDefault("extractor.see_more_xpath", "//span[normalize-space(.)='See more']/ancestor::div[@role='button'][1]")
	v.SetDefault("extractor.profile_retries", 3)
	v.SetDefault("extractor.profile_retry_scroll", 500)
	v.SetDefault("extractor.profile_retry_delay", time.Second)
	v.SetDefault("extractor.profile_poll_attempts", 10)
	v.SetDefault("extractor.profile_poll_interval", time.Second)
	v.SetDefault("extractor.profile_settle_delay", 2*time.Second)
	v.SetDefault("extractor.image_reload_delay", 2*time.Second)
	v.SetDefault("extractor.lead_marker", "buy and sell groups")
	v.SetDefault("extractor.trail_marker", "Today's picks")
	v.SetDefault("extractor.joined_marker", "Joined Facebook")
	v.SetDefault("extractor.image_xpath", "//img[contains(@alt, 'Product photo of')]")
	v.SetDefault("extractor.cdn_prefix", "https://scontent")
	v.SetDefault("extractor.max_images", 3)
	v.SetDefault("extractor.listing_url_format", "https://www.facebook.com/marketplace/item/%d/")

	v.SetDefault("runner.once", false)
	v.SetDefault("runner.drain", false)
	v.SetDefault("runner.item_delay", 500*time.Millisecond)
	v.SetDefault("runner.post_job_pause", 30*time.Second)
	v.SetDefault("runner.failure_backoff", 60*time.Second)
	v.SetDefault("runner.no_job_backoff", 300*time.Second)
	v.SetDefault("runner.break_every", 15)
	v.SetDefault("runner.break_chunks", 2)
	v.SetDefault("runner.break_chunk_pause", 30*time.Second)
	v.SetDefault("runner.activities_min", 2)
	v.SetDefault("runner.activities_max", 3)
	v.SetDefault("runner.activity_pause_min", 30*time.Second)
	v.SetDefault("runner.activity_pause_max", 90*time.Second)

	v.SetDefault("coordinator.timeout", 30*time.Second)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.table", "vehicles_initial")
	v.SetDefault("store.postgres.max_conns", 4)
	v.SetDefault("store.mongo.uri", "")
	v.SetDefault("store.mongo.database", "marketplace")
	v.SetDefault("store.mongo.collection", "vehicles_initial")

	v.SetDefault("images.download", false)
	v.SetDefault("images.driver", "local")
	v.SetDefault("images.dir", "images")
	v.SetDefault("images.bucket", "")
	v.SetDefault("images.prefix", "")
	v.SetDefault("images.timeout", 10*time.Second)

	v.SetDefault("events.driver", "none")
	v.SetDefault("events.project_id", "")
	v.SetDefault("events.topic", "marketplace-listings")

	v.SetDefault("alerts.enabled", false)
	v.SetDefault("alerts.to", []string{})

	v.SetDefault("logging.development", true)
	v.SetDefault("logging.history_file", "logs/history.log")
	v.SetDefault("logging.error_file", "logs/errors.log")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "marketplace-scraper")

	v.SetDefault("taskgen.cities_file", "cities.json")
	v.SetDefault("taskgen.workers_file", "vps_config.json")
	v.SetDefault("taskgen.output", "input.csv")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Collector.Threshold <= 0 {
		return fmt.Errorf("collector.threshold must be > 0")
	}
	if c.Collector.MaxScrolls <= 0 {
		return fmt.Errorf("collector.max_scrolls must be > 0")
	}
	if strings.Count(c.Collector.MarketplaceURL, "%s") != 1 {
		return fmt.Errorf("collector.marketplace_url must contain exactly one %%s placeholder")
	}
	if c.Extractor.MaxImages < 0 || c.Extractor.MaxImages > 3 {
		return fmt.Errorf("extractor.max_images must be between 0 and 3")
	}
	if !strings.Contains(c.Extractor.ListingURLFormat, "%d") {
		return fmt.Errorf("extractor.listing_url_format must contain a %%d placeholder")
	}
	if c.Browser.RestartInterval < 0 {
		return fmt.Errorf("browser.restart_interval must be >= 0")
	}
	if c.Runner.BreakEvery < 0 || c.Runner.BreakChunks < 0 {
		return fmt.Errorf("runner.break_every and runner.break_chunks must be >= 0")
	}
	if c.Runner.ActivitiesMin > c.Runner.ActivitiesMax {
		return fmt.Errorf("runner.activities_min must be <= runner.activities_max")
	}
	if c.Runner.ActivityPauseMin > c.Runner.ActivityPauseMax {
		return fmt.Errorf("runner.activity_pause_min must be <= runner.activity_pause_max")
	}
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn must be set when store.driver is postgres")
		}
	case "mongo":
		if c.Store.Mongo.URI == "" {
			return fmt.Errorf("store.mongo.uri must be set when store.driver is mongo")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	switch c.Images.Driver {
	case "local", "memory":
	case "gcs":
		if c.Images.Download && c.Images.Bucket == "" {
			return fmt.Errorf("images.bucket must be set when images.driver is gcs")
		}
	default:
		return fmt.Errorf("unknown images.driver %q", c.Images.Driver)
	}
	switch c.Events.Driver {
	case "none", "memory":
	case "pubsub":
		if c.Events.ProjectID == "" || c.Events.Topic == "" {
			return fmt.Errorf("events.project_id and events.topic must be set when events.driver is pubsub")
		}
	default:
		return fmt.Errorf("unknown events.driver %q", c.Events.Driver)
	}
	if c.Alerts.Enabled {
		if c.Alerts.AccountSID == "" || c.Alerts.AuthToken == "" || c.Alerts.From == "" {
			return fmt.Errorf("alerts.account_sid, alerts.auth_token and alerts.from must be set when alerts are enabled")
		}
		if len(c.Alerts.To) == 0 {
			return fmt.Errorf("alerts.to must list at least one recipient when alerts are enabled")
		}
	}
	return nil
}

// ValidateCoordinator checks the settings coordinator mode cannot run without.
func (c Config) ValidateCoordinator() error {
	if c.Worker.ID == "" {
		return fmt.Errorf("worker.id is required in coordinator mode")
	}
	if c.Coordinator.APISecret == "" {
		return fmt.Errorf("coordinator.api_secret is required (set INTERNAL_API_SECRET)")
	}
	if c.Coordinator.BaseURL == "" {
		return fmt.Errorf("coordinator.base_url is required (set COORDINATOR_URL)")
	}
	if c.Coordinator.Timeout <= 0 {
		return fmt.Errorf("coordinator.timeout must be > 0")
	}
	return nil
}

// MarketplaceURL returns the listing page for a region code.
func (c Config) MarketplaceURL(region string) string {
	return fmt.Sprintf(c.Collector.MarketplaceURL, region)
}
