//nolint:lll // struct tags can't be split
package botstar

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	EnvvarSetEnvPrefix  = "BOTSTAR_ENV_PREFIX"
	DefaultEnvPrefix    = "BOTSTAR"
	DefaultDatabaseType = "sqlite"
	DefaultDatabase     = "botstar.sqlite3"
	DefaultLogLevel     = slog.LevelInfo

	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 60 * time.Second

	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second

	DefaultAPIListen            = "127.0.0.1:5000"
	DefaultAPILogLevel          = slog.LevelInfo
	DefaultAPIRequestsPerSecond = 10
	DefaultAPIRequestBurst      = 20

	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultDatabaseLogLevel      = slog.LevelInfo
	DefaultDiscordLogLevel       = slog.LevelWarn
	DefaultDiscordgoLogLevel     = slog.LevelWarn

	DefaultDiscordCustomStatus = "Tracking activity for science!"

	// DefaultActivityRetention is how long activity log rows are kept
	// before the startup cleanup deletes them.
	DefaultActivityRetention = 30 * 24 * time.Hour

	// DefaultHistoryWindow is the span of the `/activitytracking history`
	// card, ending at the time of the request.
	DefaultHistoryWindow = 24 * time.Hour

	// DefaultBucketInterval is the width of a single activity bar segment.
	DefaultBucketInterval = 15 * time.Minute

	// DefaultLegendLabelCount is the number of axis labels drawn under the
	// activity bar. Must be at least 2.
	DefaultLegendLabelCount = 5

	// DefaultTimezone is the fallback zone used for legend labels when a
	// user has not configured one with /timezone.
	DefaultTimezone = "UTC"

	// DefaultDiscordGatewayIntent includes the privileged presence and
	// member intents: presence tracking and member counters don't work
	// without them.
	DefaultDiscordGatewayIntent = discordgo.IntentsAllWithoutPrivileged |
		discordgo.IntentsGuildPresences |
		discordgo.IntentsGuildMembers

	DefaultCORSMaxAge = 12 * time.Hour
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodHead,
		http.MethodOptions,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Cache-Control",
		xRequestIDHeader,
	}
	DefaultCORSExposeHeaders = []string{
		"Content-Type",
		"Content-Length",
		"Accept-Encoding",
		xRequestIDHeader,
	}
)

// Config is the top-level Bot* configuration, loaded by the cmd package
// via viper from environment variables and/or an env file.
type Config struct {
	// Database connection string (for sqlite, a file path)
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// Discord configures aspects of the Discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// API configures the read-only HTTP API
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	// Tracking configures the presence-tracking pipeline
	Tracking *TrackingConfig `yaml:"tracking" mapstructure:"tracking" json:"tracking"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// initialize. If this is passed, the bot will abort startup.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After
	// this elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`
}

// DiscordConfig holds the discord-specific configuration.
type DiscordConfig struct {
	// Token is the bot token
	Token string `yaml:"token" mapstructure:"token" json:"-" binding:"required"`

	// ApplicationID is the bot's application ID
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID, if set, registers slash commands only on the given guild
	// (global registration can take up to an hour to propagate)
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// GatewayIntents are the intents sent in the gateway handshake
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	// CustomStatus is the bot user's custom status text
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// DiscordGoLogLevel sets the discordgo library's log level
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// httpClient overrides the session's HTTP client (used in tests)
	httpClient *http.Client
}

// APIConfig configures the HTTP API server.
type APIConfig struct {
	// Enabled starts the HTTP API when true
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// Listen address (ex: '127.0.0.1:5000')
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	ReadTimeout       time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`

	// RequestsPerSecond bounds the request rate across all endpoints
	RequestsPerSecond int `yaml:"requests_per_second" mapstructure:"requests_per_second" json:"requests_per_second"`

	// RequestBurst is the rate limiter's burst size
	RequestBurst int `yaml:"request_burst" mapstructure:"request_burst" json:"request_burst"`

	CORS *CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`
}

// CORSConfig configures CORS headers for the API.
type CORSConfig struct {
	AllowOrigins  []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods  []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders  []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	MaxAge        time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

// TrackingConfig configures the presence-tracking pipeline.
type TrackingConfig struct {
	// Retention is the age past which activity log rows are deleted by
	// the startup cleanup
	Retention time.Duration `yaml:"retention" mapstructure:"retention" json:"retention"`

	// HistoryWindow is the span of the activity history card
	HistoryWindow time.Duration `yaml:"history_window" mapstructure:"history_window" json:"history_window"`

	// BucketInterval is the width of one activity bar segment
	BucketInterval time.Duration `yaml:"bucket_interval" mapstructure:"bucket_interval" json:"bucket_interval"`

	// LegendLabelCount is the number of legend labels under the bar
	LegendLabelCount int `yaml:"legend_label_count" mapstructure:"legend_label_count" json:"legend_label_count" binding:"min=2"`

	// DefaultTimezone is the IANA zone used when a user hasn't set one
	DefaultTimezone string `yaml:"default_timezone" mapstructure:"default_timezone" json:"default_timezone" binding:"required"`
}

// DefaultConfig returns a Config with default values set.
func DefaultConfig() *Config {
	logLevel := &slog.LevelVar{}
	logLevel.Set(DefaultLogLevel)

	dbLogLevel := &slog.LevelVar{}
	dbLogLevel.Set(DefaultDatabaseLogLevel)

	discordLogLevel := &slog.LevelVar{}
	discordLogLevel.Set(DefaultDiscordLogLevel)

	discordgoLogLevel := &slog.LevelVar{}
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)

	apiLogLevel := &slog.LevelVar{}
	apiLogLevel.Set(DefaultAPILogLevel)

	return &Config{
		Database:              DefaultDatabase,
		DatabaseType:          DefaultDatabaseType,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              logLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			GatewayIntents:    DefaultDiscordGatewayIntent,
			CustomStatus:      DefaultDiscordCustomStatus,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
		},
		API: &APIConfig{
			Listen:            DefaultAPIListen,
			LogLevel:          apiLogLevel,
			ReadTimeout:       DefaultReadTimeout,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			RequestsPerSecond: DefaultAPIRequestsPerSecond,
			RequestBurst:      DefaultAPIRequestBurst,
			CORS: &CORSConfig{
				AllowMethods:  DefaultCORSAllowMethods,
				AllowHeaders:  DefaultCORSAllowHeaders,
				ExposeHeaders: DefaultCORSExposeHeaders,
				MaxAge:        DefaultCORSMaxAge,
			},
		},
		Tracking: &TrackingConfig{
			Retention:        DefaultActivityRetention,
			HistoryWindow:    DefaultHistoryWindow,
			BucketInterval:   DefaultBucketInterval,
			LegendLabelCount: DefaultLegendLabelCount,
			DefaultTimezone:  DefaultTimezone,
		},
	}
}
