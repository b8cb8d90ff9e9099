// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Publish failure policies.
const (
	PublishFailureRetain     = "retain"
	PublishFailureCompensate = "compensate"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	JWTSecret      string `mapstructure:"JWT_SECRET"`
	Port           string `mapstructure:"PORT"`
	DBHost         string `mapstructure:"DB_HOST"`
	DBPort         string `mapstructure:"DB_PORT"`
	DBUser         string `mapstructure:"DB_USER"`
	DBPassword     string `mapstructure:"DB_PASSWORD"`
	DBName         string `mapstructure:"DB_NAME"`
	DBSSLMode      string `mapstructure:"DB_SSLMODE"`
	DBReadHost     string `mapstructure:"DB_READ_HOST"`
	DBReadPort     string `mapstructure:"DB_READ_PORT"`
	DBReadUser     string `mapstructure:"DB_READ_USER"`
	DBReadPassword string `mapstructure:"DB_READ_PASSWORD"`

	DBSchemaMode                  string `mapstructure:"DB_SCHEMA_MODE"`
	DBAutoMigrateAllowDestructive bool   `mapstructure:"DB_AUTOMIGRATE_ALLOW_DESTRUCTIVE"`
	DBMaxOpenConns                int    `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns                int    `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBConnMaxLifetimeMinutes      int    `mapstructure:"DB_CONN_MAX_LIFETIME_MINUTES"`

	RedisURL       string `mapstructure:"REDIS_URL"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`
	FeatureFlags   string `mapstructure:"FEATURE_FLAGS"`
	Env            string `mapstructure:"APP_ENV"`

	TracingEnabled      bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter     string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint        string  `mapstructure:"OTLP_ENDPOINT"`
	TracingSamplerRatio float64 `mapstructure:"TRACING_SAMPLER_RATIO"`

	DevBootstrapRoot        bool   `mapstructure:"DEV_BOOTSTRAP_ROOT"`
	DevRootEmail            string `mapstructure:"DEV_ROOT_EMAIL"`
	DevRootPassword         string `mapstructure:"DEV_ROOT_PASSWORD"`
	DevRootForceCredentials bool   `mapstructure:"DEV_ROOT_FORCE_CREDENTIALS"`

	// Publishing and ledger
	PublishCost          int64  `mapstructure:"PUBLISH_COST"`
	PublishReward        int64  `mapstructure:"PUBLISH_REWARD"`
	PublishFailurePolicy string `mapstructure:"PUBLISH_FAILURE_POLICY"`
	CoinPackageSize      int64  `mapstructure:"COIN_PACKAGE_SIZE"`
	LedgerMaxRetries     int    `mapstructure:"LEDGER_MAX_RETRIES"`

	// Collaborators
	WordPressURL         string `mapstructure:"WORDPRESS_URL"`
	WordPressUsername    string `mapstructure:"WORDPRESS_USERNAME"`
	WordPressAppPassword string `mapstructure:"WORDPRESS_APP_PASSWORD"`
	WordPressPostStatus  string `mapstructure:"WORDPRESS_POST_STATUS"`
	OpenAIAPIKey         string `mapstructure:"OPENAI_API_KEY"`
	OpenAIModel          string `mapstructure:"OPENAI_MODEL"`
	OpenAIBaseURL        string `mapstructure:"OPENAI_BASE_URL"`
	PaymentKeySecret     string `mapstructure:"PAYMENT_KEY_SECRET"`

	// Social platforms
	FacebookGraphURL          string `mapstructure:"FACEBOOK_GRAPH_URL"`
	InstagramAccessToken      string `mapstructure:"INSTAGRAM_ACCESS_TOKEN"`
	InstagramAccountID        string `mapstructure:"INSTAGRAM_ACCOUNT_ID"`
	LinkedInClientID          string `mapstructure:"LINKEDIN_CLIENT_ID"`
	LinkedInClientSecret      string `mapstructure:"LINKEDIN_CLIENT_SECRET"`
	LinkedInRedirectURL       string `mapstructure:"LINKEDIN_REDIRECT_URL"`
	LinkedInAuthURL           string `mapstructure:"LINKEDIN_AUTH_URL"`
	LinkedInAPIURL            string `mapstructure:"LINKEDIN_API_URL"`
	SocialHTTPTimeoutSeconds  int    `mapstructure:"SOCIAL_HTTP_TIMEOUT_SECONDS"`
	SocialDispatchConcurrency int    `mapstructure:"SOCIAL_DISPATCH_CONCURRENCY"`
	SocialDefaultPlatforms    string `mapstructure:"SOCIAL_DEFAULT_PLATFORMS"`
	TokenRefreshEnabled       bool   `mapstructure:"TOKEN_REFRESH_ENABLED"`
	TokenRefreshAt            string `mapstructure:"TOKEN_REFRESH_AT"`
	LinkedInRefreshWindowDays int    `mapstructure:"LINKEDIN_REFRESH_WINDOW_DAYS"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base file is optional; everything has a default or comes from the environment.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "test" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	setDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("PORT", "8375")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "schooldesk")
	viper.SetDefault("DB_READ_HOST", "")
	viper.SetDefault("DB_READ_PORT", "5432")
	viper.SetDefault("DB_READ_USER", "user")
	viper.SetDefault("DB_READ_PASSWORD", "password")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("DB_SCHEMA_MODE", "hybrid")
	viper.SetDefault("DB_AUTOMIGRATE_ALLOW_DESTRUCTIVE", false)
	viper.SetDefault("DB_MAX_OPEN_CONNS", 25)
	viper.SetDefault("DB_MAX_IDLE_CONNS", 5)
	viper.SetDefault("DB_CONN_MAX_LIFETIME_MINUTES", 5)
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("JWT_SECRET", defaultJWTSecret)
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173")
	viper.SetDefault("FEATURE_FLAGS", "")
	viper.SetDefault("APP_ENV", "development")

	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTLP_ENDPOINT", "localhost:4318")
	viper.SetDefault("TRACING_SAMPLER_RATIO", 1.0)

	viper.SetDefault("DEV_BOOTSTRAP_ROOT", false)
	viper.SetDefault("DEV_ROOT_EMAIL", "root@schooldesk.local")
	viper.SetDefault("DEV_ROOT_FORCE_CREDENTIALS", false)

	viper.SetDefault("PUBLISH_COST", 99)
	viper.SetDefault("PUBLISH_REWARD", 50)
	viper.SetDefault("PUBLISH_FAILURE_POLICY", PublishFailureRetain)
	viper.SetDefault("COIN_PACKAGE_SIZE", 99)
	viper.SetDefault("LEDGER_MAX_RETRIES", 5)

	viper.SetDefault("WORDPRESS_POST_STATUS", "publish")
	viper.SetDefault("OPENAI_MODEL", "gpt-4o-mini")

	viper.SetDefault("FACEBOOK_GRAPH_URL", "https://graph.facebook.com/v19.0")
	viper.SetDefault("LINKEDIN_AUTH_URL", "https://www.linkedin.com/oauth/v2")
	viper.SetDefault("LINKEDIN_API_URL", "https://api.linkedin.com")
	viper.SetDefault("SOCIAL_HTTP_TIMEOUT_SECONDS", 20)
	viper.SetDefault("SOCIAL_DISPATCH_CONCURRENCY", 4)
	viper.SetDefault("SOCIAL_DEFAULT_PLATFORMS", "instagram,facebook,linkedin")
	viper.SetDefault("TOKEN_REFRESH_ENABLED", true)
	viper.SetDefault("TOKEN_REFRESH_AT", "03:00")
	viper.SetDefault("LINKEDIN_REFRESH_WINDOW_DAYS", 7)

	// Unmarshal only sees environment variables for keys viper already knows.
	for _, key := range []string{
		"DEV_ROOT_PASSWORD",
		"WORDPRESS_URL", "WORDPRESS_USERNAME", "WORDPRESS_APP_PASSWORD",
		"OPENAI_API_KEY", "OPENAI_BASE_URL", "PAYMENT_KEY_SECRET",
		"INSTAGRAM_ACCESS_TOKEN", "INSTAGRAM_ACCOUNT_ID",
		"LINKEDIN_CLIENT_ID", "LINKEDIN_CLIENT_SECRET", "LINKEDIN_REDIRECT_URL",
	} {
		viper.SetDefault(key, "")
	}
}

func (c *Config) normalize() {
	c.DBSSLMode = strings.ToLower(strings.TrimSpace(c.DBSSLMode))
	c.PublishFailurePolicy = strings.ToLower(strings.TrimSpace(c.PublishFailurePolicy))
	c.WordPressURL = strings.TrimRight(strings.TrimSpace(c.WordPressURL), "/")
}

// IsProduction reports whether the configuration targets a production deployment.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.PublishCost < 0 || c.PublishReward < 0 {
		return errors.New("PUBLISH_COST and PUBLISH_REWARD must not be negative")
	}
	switch c.PublishFailurePolicy {
	case "", PublishFailureRetain, PublishFailureCompensate:
	default:
		return fmt.Errorf("PUBLISH_FAILURE_POLICY must be %q or %q", PublishFailureRetain, PublishFailureCompensate)
	}
	if c.TokenRefreshAt != "" {
		if _, _, err := c.RefreshClock(); err != nil {
			return err
		}
	}

	// Strict checks for production
	if c.IsProduction() {
		if c.JWTSecret == defaultJWTSecret {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.DBPassword == "password" || c.DBPassword == "" {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.DBSSLMode == "disable" || c.DBSSLMode == "" {
			return errors.New("DB_SSLMODE must enable SSL in production")
		}
		if c.AllowedOrigins == "*" {
			log.Println("WARNING: ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
		}
	} else if len(c.JWTSecret) < 32 {
		log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
	}

	return nil
}

// RefreshClock parses TOKEN_REFRESH_AT into hour and minute.
func (c *Config) RefreshClock() (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(c.TokenRefreshAt))
	if err != nil {
		return 0, 0, fmt.Errorf("TOKEN_REFRESH_AT must be HH:MM: %w", err)
	}
	return t.Hour(), t.Minute(), nil
}

// SocialHTTPTimeout returns the per-call timeout for platform APIs.
func (c *Config) SocialHTTPTimeout() time.Duration {
	if c.SocialHTTPTimeoutSeconds <= 0 {
		return 20 * time.Second
	}
	return time.Duration(c.SocialHTTPTimeoutSeconds) * time.Second
}

// LinkedInRefreshWindow is how close to expiry a LinkedIn token must be before it is refreshed.
func (c *Config) LinkedInRefreshWindow() time.Duration {
	days := c.LinkedInRefreshWindowDays
	if days <= 0 {
		days = 7
	}
	return time.Duration(days) * 24 * time.Hour
}

// DefaultPlatforms splits SOCIAL_DEFAULT_PLATFORMS.
func (c *Config) DefaultPlatforms() []string {
	var out []string
	for _, p := range strings.Split(c.SocialDefaultPlatforms, ",") {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// CompensateOnPublishFailure reports whether a failed WordPress publish reverses its ledger entries.
func (c *Config) CompensateOnPublishFailure() bool {
	return c.PublishFailurePolicy == PublishFailureCompensate
}
