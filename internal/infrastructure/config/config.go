package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	OpsDB     OpsDBConfig
	MailStore MailStoreConfig
	Processor ProcessorConfig
	Matcher   MatcherConfig
	Sync      SyncConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Telemetry TelemetryConfig
	Profiler  ProfilerConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds reconciliation store connection settings.
// Driver selects between the embedded sqlite file (default) and a
// postgres server; the postgres fields are ignored for sqlite.
type DatabaseConfig struct {
	Driver          string // sqlite, postgres
	Path            string // sqlite database file
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int  // in minutes
	ConnMaxIdleTime int  // in minutes
	ConnectTimeout  int  // in seconds, total budget for the initial connect
	MaxRetries      int  // connect attempts before giving up
	AutoMigrate     bool // apply pending migrations at startup
	MigrationsPath  string
}

// OpsDBConfig holds the read-only operations database connection used as
// the invoice source. Always postgres.
type OpsDBConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	Tenants  []string // tenant schemas/sites to sync invoices from
	DaysBack int      // invoice fetch window
}

// MailStoreConfig holds the mail-store service connection for the
// remittance email source.
type MailStoreConfig struct {
	Enabled    bool
	BaseURL    string
	Token      string
	Sources    []string // mailbox sources to poll (oasys, d365_ach, ...)
	DaysBack   int      // email fetch window
	Timeout    int      // in seconds, per-request
	MaxRetries int
}

// ProcessorConfig holds the payment processor API connection used for
// received (inbound) and outbound payments.
type ProcessorConfig struct {
	Enabled      bool
	BaseURL      string
	LoginID      string
	APIKey       string
	AccountIDs   []string // sub-accounts to poll for received payments
	Timeout      int      // in seconds, per-request
	MaxRetries   int
	TokenRefresh time.Duration // proactive bearer token refresh interval
}

// MatcherConfig holds classification tolerances and lump-sum matching
// thresholds. AgencyAliases is a JSON object mapping canonical agency
// names to accepted alias spellings.
type MatcherConfig struct {
	AmountTolerance     float64
	DateWindowDays      int
	AutoMatchConfidence float64
	SuggestConfidence   float64
	AgencyAliases       string
}

// SyncConfig holds the background sync cycle settings
type SyncConfig struct {
	Enabled         bool
	IntervalSeconds int
}

// RedisConfig holds Redis connection settings for the summary cache
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTL      time.Duration // cached summary/overview lifetime
}

// StorageConfig holds S3-compatible object storage settings for the
// remittance attachment archive
type StorageConfig struct {
	Enabled           bool
	Endpoint          string
	Region            string
	Bucket            string
	AccessKey         string
	SecretKey         string
	UseSSL            bool
	UsePathStyle      bool
	PresignExpiration time.Duration
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	MaxBodySize       int64
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
	CORSAllowOrigins  []string
	CORSAllowMethods  []string
	CORSAllowHeaders  []string
	TrustedProxies    []string
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	// Database tracing options
	DBTraceEnabled    bool          // Enable database query tracing (otelgorm)
	DBLogFullSQL      bool          // Log full SQL statements (dev only, disable in prod for security)
	DBSlowQueryThresh time.Duration // Slow query threshold for warnings (default: 200ms)
}

// ProfilerConfig holds Pyroscope continuous profiling configuration
type ProfilerConfig struct {
	Enabled           bool
	ServerAddress     string // Pyroscope server address (e.g., "http://pyroscope:4040")
	ApplicationName   string
	BasicAuthUser     string
	BasicAuthPassword string
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with RECON_ prefix (e.g., RECON_DATABASE_PASSWORD)
//    plus the short operational keys bound below (e.g., AMOUNT_TOL)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	// Set config file settings
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/app")

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	// Enable environment variable override
	v.SetEnvPrefix("RECON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bools that default to on cannot go through applyDefaults (an unset
	// key and an explicit false are indistinguishable there)
	v.SetDefault("sync.enabled", true)
	v.SetDefault("database.auto_migrate", true)

	// Short operational env keys kept from the original deployment. Each
	// key also accepts the prefixed form via AutomaticEnv.
	bindShortEnvKeys(v)

	// Build config struct
	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Path:            v.GetString("database.path"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
			ConnectTimeout:  v.GetInt("database.connect_timeout"),
			MaxRetries:      v.GetInt("database.max_retries"),
			AutoMigrate:     v.GetBool("database.auto_migrate"),
			MigrationsPath:  v.GetString("database.migrations_path"),
		},
		OpsDB: OpsDBConfig{
			Enabled:  v.GetBool("opsdb.enabled"),
			Host:     v.GetString("opsdb.host"),
			Port:     v.GetInt("opsdb.port"),
			User:     v.GetString("opsdb.user"),
			Password: v.GetString("opsdb.password"),
			DBName:   v.GetString("opsdb.dbname"),
			SSLMode:  v.GetString("opsdb.sslmode"),
			Tenants:  v.GetStringSlice("opsdb.tenants"),
			DaysBack: v.GetInt("opsdb.days_back"),
		},
		MailStore: MailStoreConfig{
			Enabled:    v.GetBool("mailstore.enabled"),
			BaseURL:    v.GetString("mailstore.base_url"),
			Token:      v.GetString("mailstore.token"),
			Sources:    v.GetStringSlice("mailstore.sources"),
			DaysBack:   v.GetInt("mailstore.days_back"),
			Timeout:    v.GetInt("mailstore.timeout"),
			MaxRetries: v.GetInt("mailstore.max_retries"),
		},
		Processor: ProcessorConfig{
			Enabled:      v.GetBool("processor.enabled"),
			BaseURL:      v.GetString("processor.base_url"),
			LoginID:      v.GetString("processor.login_id"),
			APIKey:       v.GetString("processor.api_key"),
			AccountIDs:   v.GetStringSlice("processor.account_ids"),
			Timeout:      v.GetInt("processor.timeout"),
			MaxRetries:   v.GetInt("processor.max_retries"),
			TokenRefresh: v.GetDuration("processor.token_refresh"),
		},
		Matcher: MatcherConfig{
			AmountTolerance:     v.GetFloat64("matcher.amount_tolerance"),
			DateWindowDays:      v.GetInt("matcher.date_window_days"),
			AutoMatchConfidence: v.GetFloat64("matcher.auto_match_confidence"),
			SuggestConfidence:   v.GetFloat64("matcher.suggest_confidence"),
			AgencyAliases:       v.GetString("matcher.agency_aliases"),
		},
		Sync: SyncConfig{
			Enabled:         v.GetBool("sync.enabled"),
			IntervalSeconds: v.GetInt("sync.interval_seconds"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			TTL:      v.GetDuration("redis.ttl"),
		},
		Storage: StorageConfig{
			Enabled:           v.GetBool("storage.enabled"),
			Endpoint:          v.GetString("storage.endpoint"),
			Region:            v.GetString("storage.region"),
			Bucket:            v.GetString("storage.bucket"),
			AccessKey:         v.GetString("storage.access_key"),
			SecretKey:         v.GetString("storage.secret_key"),
			UseSSL:            v.GetBool("storage.use_ssl"),
			UsePathStyle:      v.GetBool("storage.use_path_style"),
			PresignExpiration: v.GetDuration("storage.presign_expiration"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:       v.GetDuration("http.read_timeout"),
			WriteTimeout:      v.GetDuration("http.write_timeout"),
			IdleTimeout:       v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:    v.GetInt("http.max_header_bytes"),
			MaxBodySize:       v.GetInt64("http.max_body_size"),
			RateLimitEnabled:  v.GetBool("http.rate_limit_enabled"),
			RateLimitRequests: v.GetInt("http.rate_limit_requests"),
			RateLimitWindow:   v.GetDuration("http.rate_limit_window"),
			CORSAllowOrigins:  v.GetStringSlice("http.cors_allow_origins"),
			CORSAllowMethods:  v.GetStringSlice("http.cors_allow_methods"),
			CORSAllowHeaders:  v.GetStringSlice("http.cors_allow_headers"),
			TrustedProxies:    v.GetStringSlice("http.trusted_proxies"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
		},
		Profiler: ProfilerConfig{
			Enabled:           v.GetBool("profiler.enabled"),
			ServerAddress:     v.GetString("profiler.server_address"),
			ApplicationName:   v.GetString("profiler.application_name"),
			BasicAuthUser:     v.GetString("profiler.basic_auth_user"),
			BasicAuthPassword: v.GetString("profiler.basic_auth_password"),
		},
	}

	// Apply defaults for empty values
	applyDefaults(cfg)

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// bindShortEnvKeys binds the bare environment variable names used by the
// original deployment scripts to their config keys
func bindShortEnvKeys(v *viper.Viper) {
	short := map[string]string{
		"matcher.amount_tolerance":      "AMOUNT_TOL",
		"matcher.date_window_days":      "DATE_WINDOW_DAYS",
		"matcher.auto_match_confidence": "AUTO_MATCH_CONF",
		"matcher.suggest_confidence":    "SUGGEST_CONF",
		"matcher.agency_aliases":        "AGENCY_ALIASES",
		"sync.interval_seconds":         "SYNC_INTERVAL_SECONDS",
		"database.connect_timeout":      "DB_CONNECT_TIMEOUT",
		"database.max_retries":          "DB_MAX_RETRIES",
		"mailstore.timeout":             "API_TIMEOUT",
		"mailstore.max_retries":         "API_MAX_RETRIES",
		"processor.timeout":             "API_TIMEOUT",
		"processor.max_retries":         "API_MAX_RETRIES",
	}
	for key, env := range short {
		prefixed := "RECON_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		// Prefixed form wins over the short form
		_ = v.BindEnv(key, prefixed, env)
	}
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "payops-recon"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "recon.db"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "recon"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Database.ConnectTimeout == 0 {
		cfg.Database.ConnectTimeout = 10
	}
	if cfg.Database.MaxRetries == 0 {
		cfg.Database.MaxRetries = 3
	}
	if cfg.Database.MigrationsPath == "" {
		cfg.Database.MigrationsPath = "migrations"
	}
	if cfg.OpsDB.Port == 0 {
		cfg.OpsDB.Port = 5432
	}
	if cfg.OpsDB.SSLMode == "" {
		cfg.OpsDB.SSLMode = "disable"
	}
	if cfg.OpsDB.DaysBack == 0 {
		cfg.OpsDB.DaysBack = 30
	}
	if len(cfg.MailStore.Sources) == 0 {
		cfg.MailStore.Sources = []string{"oasys", "d365_ach", "ldn_gss", "flywheel"}
	}
	if cfg.MailStore.DaysBack == 0 {
		cfg.MailStore.DaysBack = 14
	}
	if cfg.MailStore.Timeout == 0 {
		cfg.MailStore.Timeout = 30
	}
	if cfg.MailStore.MaxRetries == 0 {
		cfg.MailStore.MaxRetries = 3
	}
	if cfg.Processor.Timeout == 0 {
		cfg.Processor.Timeout = 30
	}
	if cfg.Processor.MaxRetries == 0 {
		cfg.Processor.MaxRetries = 3
	}
	if cfg.Processor.TokenRefresh == 0 {
		cfg.Processor.TokenRefresh = 13 * time.Minute
	}
	if cfg.Matcher.AmountTolerance == 0 {
		cfg.Matcher.AmountTolerance = 0.01
	}
	if cfg.Matcher.DateWindowDays == 0 {
		cfg.Matcher.DateWindowDays = 3
	}
	if cfg.Matcher.AutoMatchConfidence == 0 {
		cfg.Matcher.AutoMatchConfidence = 0.80
	}
	if cfg.Matcher.SuggestConfidence == 0 {
		cfg.Matcher.SuggestConfidence = 0.50
	}
	if cfg.Sync.IntervalSeconds == 0 {
		cfg.Sync.IntervalSeconds = 300
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.TTL == 0 {
		cfg.Redis.TTL = time.Minute
	}
	if cfg.Storage.PresignExpiration == 0 {
		cfg.Storage.PresignExpiration = 15 * time.Minute
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 10 << 20 // 10MB
	}
	if cfg.HTTP.RateLimitRequests == 0 {
		cfg.HTTP.RateLimitRequests = 100
	}
	if cfg.HTTP.RateLimitWindow == 0 {
		cfg.HTTP.RateLimitWindow = time.Minute
	}
	// NOTE: CORS origins are intentionally not given a default fallback to "*".
	// An empty list means no cross-origin requests are allowed until explicitly
	// configured.
	if len(cfg.HTTP.CORSAllowMethods) == 0 {
		cfg.HTTP.CORSAllowMethods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"}
	}
	if len(cfg.HTTP.CORSAllowHeaders) == 0 {
		cfg.HTTP.CORSAllowHeaders = []string{"Content-Type", "Authorization", "X-Request-ID"}
	}
	// Telemetry defaults
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317" // Default gRPC endpoint
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0 // 100% in development
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
	// Profiler defaults
	if cfg.Profiler.ServerAddress == "" {
		cfg.Profiler.ServerAddress = "http://localhost:4040"
	}
	if cfg.Profiler.ApplicationName == "" {
		cfg.Profiler.ApplicationName = cfg.App.Name
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}

	// Validate connection pool settings
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if c.Database.ConnectTimeout <= 0 {
		return fmt.Errorf("database.connect_timeout must be positive")
	}
	if c.Database.MaxRetries < 0 {
		return fmt.Errorf("database.max_retries cannot be negative")
	}

	// Matcher tolerances and thresholds
	if c.Matcher.AmountTolerance <= 0 {
		return fmt.Errorf("matcher.amount_tolerance must be positive")
	}
	if c.Matcher.DateWindowDays < 0 {
		return fmt.Errorf("matcher.date_window_days cannot be negative")
	}
	if c.Matcher.SuggestConfidence <= 0 || c.Matcher.SuggestConfidence > 1 {
		return fmt.Errorf("matcher.suggest_confidence must be in (0, 1], got %f", c.Matcher.SuggestConfidence)
	}
	if c.Matcher.AutoMatchConfidence < c.Matcher.SuggestConfidence || c.Matcher.AutoMatchConfidence > 1 {
		return fmt.Errorf("matcher.auto_match_confidence must be in [suggest_confidence, 1], got %f", c.Matcher.AutoMatchConfidence)
	}
	if _, err := c.Matcher.AliasMap(); err != nil {
		return err
	}

	if c.Sync.IntervalSeconds <= 0 {
		return fmt.Errorf("sync.interval_seconds must be positive")
	}

	// Enabled sources need an endpoint to talk to
	if c.MailStore.Enabled && c.MailStore.BaseURL == "" {
		return fmt.Errorf("mailstore.base_url is required when mailstore is enabled")
	}
	if c.Processor.Enabled && c.Processor.BaseURL == "" {
		return fmt.Errorf("processor.base_url is required when processor is enabled")
	}
	if c.OpsDB.Enabled && c.OpsDB.DBName == "" {
		return fmt.Errorf("opsdb.dbname is required when opsdb is enabled")
	}
	if c.Storage.Enabled {
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required when storage is enabled")
		}
		if c.Storage.AccessKey == "" || c.Storage.SecretKey == "" {
			return fmt.Errorf("storage credentials are required when storage is enabled")
		}
	}

	// Production-specific validations
	if c.App.Env == "production" {
		if c.Database.Driver == "postgres" {
			if c.Database.Password == "" {
				return fmt.Errorf("database.password is required in production")
			}
			if c.Database.SSLMode == "disable" {
				return fmt.Errorf("database.sslmode cannot be 'disable' in production")
			}
		}
		if c.OpsDB.Enabled && c.OpsDB.Password == "" {
			return fmt.Errorf("opsdb.password is required in production")
		}
		if c.MailStore.Enabled && c.MailStore.Token == "" {
			return fmt.Errorf("mailstore.token is required in production")
		}
		if c.Processor.Enabled && (c.Processor.LoginID == "" || c.Processor.APIKey == "") {
			return fmt.Errorf("processor credentials are required in production")
		}
		// CORS must not use wildcard with credentials
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("cors_allow_origins cannot be '*' in production (use specific origins)")
			}
		}
		// Database tracing: full SQL logging is a security risk in production
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
	}

	// Validate telemetry configuration (all environments)
	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// Interval returns the sync cycle interval as a duration
func (s *SyncConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// AliasMap parses the agency alias JSON into canonical-name → aliases.
// An empty setting yields an empty map.
func (m *MatcherConfig) AliasMap() (map[string][]string, error) {
	if strings.TrimSpace(m.AgencyAliases) == "" {
		return map[string][]string{}, nil
	}
	var aliases map[string][]string
	if err := json.Unmarshal([]byte(m.AgencyAliases), &aliases); err != nil {
		return nil, fmt.Errorf("matcher.agency_aliases is not valid JSON: %w", err)
	}
	return aliases, nil
}

// DSN returns the connection string for the configured driver.
// For sqlite this is the database file path with pragmas suitable for a
// single-writer service; for postgres a URL with escaped credentials.
func (d *DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return fmt.Sprintf("%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", d.Path)
	}
	return postgresDSN(d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// DSN returns the operations database connection string
func (o *OpsDBConfig) DSN() string {
	return postgresDSN(o.Host, o.Port, o.User, o.Password, o.DBName, o.SSLMode)
}

// postgresDSN builds a postgres URL with properly escaped values
func postgresDSN(host string, port int, user, password, dbname, sslmode string) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, password),
		Host:   fmt.Sprintf("%s:%d", host, port),
		Path:   dbname,
	}
	q := u.Query()
	q.Set("sslmode", sslmode)
	u.RawQuery = q.Encode()
	return u.String()
}
