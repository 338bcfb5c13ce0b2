package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "BOOKWORM"

	defaultLogLevel          = "info"
	defaultLogFormat         = "console"
	defaultDataDir           = ".bookworm"
	defaultSyncInterval      = 60 * time.Second
	defaultShutdownTimeout   = 2 * time.Second
	defaultRequestTimeout    = 10 * time.Second
	defaultChallengeTimezone = "UTC"
	defaultChallengeTick     = time.Second
	defaultBooksAPIURL       = "https://www.googleapis.com/books/v1"
	defaultBooksPerMinute    = 60
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "bookworm.db"
	defaultAuthIssuer        = "bookworm"
	defaultCookieName        = "bookworm_session"
	defaultTokenTTL          = 30 * 24 * time.Hour
)

// ClientConfig captures the settings of the local tracker commands.
type ClientConfig struct {
	LogLevel  string
	LogFormat string
	DataDir   string

	UserID          string
	Token           string
	RemoteURL       string
	SyncDatabase    string
	SyncInterval    time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration

	ChallengeLocation *time.Location
	ChallengeTick     time.Duration

	BooksAPIURL            string
	BooksRequestsPerMinute int
}

// SyncConfigured reports whether a remote snapshot store is reachable for this client.
func (c ClientConfig) SyncConfigured() bool {
	return c.RemoteURL != "" || c.SyncDatabase != ""
}

// ServerConfig captures runtime configuration for the snapshot API server.
type ServerConfig struct {
	LogLevel      string
	LogFormat     string
	HTTPAddress   string
	DatabasePath  string
	SigningSecret string
	Issuer        string
	CookieName    string
	TokenTTL      time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("data.dir", defaultDataDir)
	configViper.SetDefault("sync.interval", defaultSyncInterval)
	configViper.SetDefault("sync.shutdown_timeout", defaultShutdownTimeout)
	configViper.SetDefault("sync.request_timeout", defaultRequestTimeout)
	configViper.SetDefault("challenge.timezone", defaultChallengeTimezone)
	configViper.SetDefault("challenge.tick", defaultChallengeTick)
	configViper.SetDefault("books.api_url", defaultBooksAPIURL)
	configViper.SetDefault("books.requests_per_minute", defaultBooksPerMinute)
	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("auth.issuer", defaultAuthIssuer)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.token_ttl", defaultTokenTTL)
}

// LoadClient parses the tracker client configuration from viper.
func LoadClient(configViper *viper.Viper) (ClientConfig, error) {
	timezone := strings.TrimSpace(configViper.GetString("challenge.timezone"))
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("challenge.timezone %q: %w", timezone, err)
	}

	cfg := ClientConfig{
		LogLevel:               configViper.GetString("log.level"),
		LogFormat:              configViper.GetString("log.format"),
		DataDir:                strings.TrimSpace(configViper.GetString("data.dir")),
		UserID:                 strings.TrimSpace(configViper.GetString("sync.user_id")),
		Token:                  strings.TrimSpace(configViper.GetString("sync.token")),
		RemoteURL:              strings.TrimSpace(configViper.GetString("sync.remote_url")),
		SyncDatabase:           strings.TrimSpace(configViper.GetString("sync.database_path")),
		SyncInterval:           configViper.GetDuration("sync.interval"),
		ShutdownTimeout:        configViper.GetDuration("sync.shutdown_timeout"),
		RequestTimeout:         configViper.GetDuration("sync.request_timeout"),
		ChallengeLocation:      location,
		ChallengeTick:          configViper.GetDuration("challenge.tick"),
		BooksAPIURL:            strings.TrimSpace(configViper.GetString("books.api_url")),
		BooksRequestsPerMinute: configViper.GetInt("books.requests_per_minute"),
	}

	if err := cfg.validate(); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func (c ClientConfig) validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data.dir is required")
	}
	if c.RemoteURL != "" && c.SyncDatabase != "" {
		return fmt.Errorf("sync.remote_url and sync.database_path are mutually exclusive")
	}
	if c.RemoteURL != "" && c.Token == "" {
		return fmt.Errorf("sync.token is required when sync.remote_url is set")
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync.interval must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("sync.shutdown_timeout must be positive")
	}
	if c.ChallengeTick <= 0 {
		return fmt.Errorf("challenge.tick must be positive")
	}
	return nil
}

// LoadServer parses the API server configuration from viper.
func LoadServer(configViper *viper.Viper) (ServerConfig, error) {
	cfg := ServerConfig{
		LogLevel:      configViper.GetString("log.level"),
		LogFormat:     configViper.GetString("log.format"),
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		Issuer:        configViper.GetString("auth.issuer"),
		CookieName:    configViper.GetString("auth.cookie_name"),
		TokenTTL:      configViper.GetDuration("auth.token_ttl"),
	}

	if err := cfg.validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

func (c ServerConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.Issuer) == "" {
		return fmt.Errorf("auth.issuer is required")
	}
	return nil
}
