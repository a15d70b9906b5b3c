package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "CARDLOOM"

	EnvironmentDevelopment = "development"
	EnvironmentProduction  = "production"

	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageMemory   = "memory"

	defaultHTTPAddress         = "0.0.0.0:8080"
	defaultAllowedOrigins      = "*"
	defaultEnvironment         = EnvironmentProduction
	defaultLogLevel            = "info"
	defaultStorageDriver       = StorageSQLite
	defaultDatabasePath        = "cardloom.db"
	defaultCookieName          = "cardloom_session"
	defaultSessionTTLMinutes   = 60
	defaultRecoveryTTLMinutes  = 30
	defaultSessionIssuer       = "cardloom-auth"
	defaultOpenRouterBaseURL   = "https://openrouter.ai/api/v1"
	defaultOpenRouterModel     = "anthropic/claude-3.5-sonnet"
	defaultOpenRouterTimeoutMS = 30000
	defaultRetryAttempts       = 2
	defaultRetryDelayMS        = 1000
	defaultHTTPReferer         = "https://cardloom.app"
	defaultAppTitle            = "Cardloom Flashcard Generator"
	defaultRateLimitRequests   = 60
	defaultRateLimitWindowMS   = 60000
	defaultRateLimitBufferMS   = 100
	defaultResetRedirect       = "/reset-password"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	AllowedOrigins []string
	PublicOrigin   string
	Environment    string
	LogLevel       string

	StorageDriver string
	DatabasePath  string
	DatabaseDSN   string

	SessionSigningSecret string
	SessionCookieName    string
	SessionIssuer        string
	SessionTTL           time.Duration
	RecoveryTTL          time.Duration

	PasswordResetRedirect string

	OpenRouter OpenRouterConfig
}

// OpenRouterConfig configures the model gateway client.
type OpenRouterConfig struct {
	APIKey          string
	BaseURL         string
	Model           string
	Timeout         time.Duration
	RetryAttempts   int
	RetryDelay      time.Duration
	HTTPReferer     string
	AppTitle        string
	RateLimitMax    int
	RateLimitWindow time.Duration
	RateLimitBuffer time.Duration
}

// Development reports whether the development-only conveniences are enabled.
func (c AppConfig) Development() bool {
	return c.Environment == EnvironmentDevelopment
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

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", defaultAllowedOrigins)
	configViper.SetDefault("http.public_origin", "")
	configViper.SetDefault("app.environment", defaultEnvironment)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("storage.driver", defaultStorageDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("session.signing_secret", "")
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("session.ttl_minutes", defaultSessionTTLMinutes)
	configViper.SetDefault("session.recovery_ttl_minutes", defaultRecoveryTTLMinutes)
	configViper.SetDefault("session.issuer", defaultSessionIssuer)
	configViper.SetDefault("openrouter.api_key", "")
	configViper.SetDefault("openrouter.base_url", defaultOpenRouterBaseURL)
	configViper.SetDefault("openrouter.model", defaultOpenRouterModel)
	configViper.SetDefault("openrouter.timeout_ms", defaultOpenRouterTimeoutMS)
	configViper.SetDefault("openrouter.retry_attempts", defaultRetryAttempts)
	configViper.SetDefault("openrouter.retry_delay_ms", defaultRetryDelayMS)
	configViper.SetDefault("openrouter.http_referer", defaultHTTPReferer)
	configViper.SetDefault("openrouter.app_title", defaultAppTitle)
	configViper.SetDefault("openrouter.rate_limit.max_requests", defaultRateLimitRequests)
	configViper.SetDefault("openrouter.rate_limit.window_ms", defaultRateLimitWindowMS)
	configViper.SetDefault("openrouter.rate_limit.buffer_ms", defaultRateLimitBufferMS)
	configViper.SetDefault("auth.password_reset_redirect", defaultResetRedirect)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:           configViper.GetString("http.address"),
		AllowedOrigins:        splitList(configViper.GetString("http.allowed_origins")),
		PublicOrigin:          strings.TrimSpace(configViper.GetString("http.public_origin")),
		Environment:           strings.ToLower(strings.TrimSpace(configViper.GetString("app.environment"))),
		LogLevel:              configViper.GetString("log.level"),
		StorageDriver:         strings.ToLower(strings.TrimSpace(configViper.GetString("storage.driver"))),
		DatabasePath:          configViper.GetString("database.path"),
		DatabaseDSN:           configViper.GetString("database.dsn"),
		SessionSigningSecret:  configViper.GetString("session.signing_secret"),
		SessionCookieName:     configViper.GetString("session.cookie_name"),
		SessionIssuer:         configViper.GetString("session.issuer"),
		SessionTTL:            time.Duration(configViper.GetInt("session.ttl_minutes")) * time.Minute,
		RecoveryTTL:           time.Duration(configViper.GetInt("session.recovery_ttl_minutes")) * time.Minute,
		PasswordResetRedirect: configViper.GetString("auth.password_reset_redirect"),
		OpenRouter: OpenRouterConfig{
			APIKey:          configViper.GetString("openrouter.api_key"),
			BaseURL:         configViper.GetString("openrouter.base_url"),
			Model:           configViper.GetString("openrouter.model"),
			Timeout:         time.Duration(configViper.GetInt("openrouter.timeout_ms")) * time.Millisecond,
			RetryAttempts:   configViper.GetInt("openrouter.retry_attempts"),
			RetryDelay:      time.Duration(configViper.GetInt("openrouter.retry_delay_ms")) * time.Millisecond,
			HTTPReferer:     configViper.GetString("openrouter.http_referer"),
			AppTitle:        configViper.GetString("openrouter.app_title"),
			RateLimitMax:    configViper.GetInt("openrouter.rate_limit.max_requests"),
			RateLimitWindow: time.Duration(configViper.GetInt("openrouter.rate_limit.window_ms")) * time.Millisecond,
			RateLimitBuffer: time.Duration(configViper.GetInt("openrouter.rate_limit.buffer_ms")) * time.Millisecond,
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if c.SessionTTL <= 0 || c.RecoveryTTL <= 0 {
		return fmt.Errorf("session ttl values must be positive")
	}
	if strings.TrimSpace(c.OpenRouter.APIKey) == "" {
		return fmt.Errorf("openrouter.api_key is required")
	}
	if c.OpenRouter.Timeout <= 0 {
		return fmt.Errorf("openrouter.timeout_ms must be positive")
	}
	if c.OpenRouter.RetryAttempts < 0 || c.OpenRouter.RetryDelay < 0 {
		return fmt.Errorf("openrouter retry settings cannot be negative")
	}
	if c.OpenRouter.RateLimitMax <= 0 || c.OpenRouter.RateLimitWindow <= 0 {
		return fmt.Errorf("openrouter.rate_limit values must be positive")
	}
	if c.OpenRouter.RateLimitBuffer < 0 {
		return fmt.Errorf("openrouter.rate_limit.buffer_ms cannot be negative")
	}

	if err := c.validateLinks(); err != nil {
		return err
	}

	switch c.StorageDriver {
	case StorageSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case StoragePostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	case StorageMemory:
		if !c.Development() {
			return fmt.Errorf("storage.driver=memory requires app.environment=%s", EnvironmentDevelopment)
		}
	default:
		return fmt.Errorf("unsupported storage.driver %q", c.StorageDriver)
	}
	return nil
}

func splitList(raw string) []string {
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

// validateLinks checks that emailed links can be built without consulting request headers.
func (c AppConfig) validateLinks() error {
	if c.PublicOrigin != "" && !isAbsoluteHTTPURL(c.PublicOrigin) {
		return fmt.Errorf("http.public_origin must be an absolute http(s) URL")
	}
	redirect := strings.TrimSpace(c.PasswordResetRedirect)
	if strings.HasPrefix(redirect, "http://") || strings.HasPrefix(redirect, "https://") {
		if !isAbsoluteHTTPURL(redirect) {
			return fmt.Errorf("auth.password_reset_redirect is not a valid URL")
		}
		return nil
	}
	if c.PublicOrigin != "" {
		return nil
	}
	for _, origin := range c.AllowedOrigins {
		if origin != "*" {
			if !isAbsoluteHTTPURL(origin) {
				return fmt.Errorf("http.allowed_origins entry %q must be an absolute http(s) URL", origin)
			}
			return nil
		}
	}
	return fmt.Errorf("http.public_origin is required for a relative auth.password_reset_redirect")
}

func isAbsoluteHTTPURL(raw string) bool {
	parsed, err := url.Parse(raw)
	return err == nil && (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}
