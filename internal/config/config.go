package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the console process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Relay    RelayConfig
	Gateway  GatewayConfig
	Operator OperatorConfig
	Contacts ContactsConfig
	Audit    AuditConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// RelayConfig points at the telephony relay's event stream.
// Durations are optional; zero values pick up client-side defaults.
type RelayConfig struct {
	StreamURL string

	BackoffBase      time.Duration
	BackoffCap       time.Duration
	MaxAttempts      int
	HealthInterval   time.Duration
	SilenceThreshold time.Duration
}

// GatewayConfig is the REST call-control gateway connection.
type GatewayConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration

	// MaxConcurrentDials caps simultaneous outbound calls per workspace.
	// Zero disables the cap.
	MaxConcurrentDials int
}

// OperatorConfig identifies the operator session this process serves.
type OperatorConfig struct {
	UserID        string
	WorkspaceID   string
	AgentNumber   string
	AgentID       string
	VirtualNumber string
	Administrator bool
}

// ContactsConfig is the directory lookup service; optional.
type ContactsConfig struct {
	BaseURL  string
	CacheTTL time.Duration
}

// AuditConfig is the platform transition-log endpoint; optional.
// When BaseURL is empty, transitions are only persisted locally.
type AuditConfig struct {
	BaseURL string
	APIKey  string
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.Relay.StreamURL = strings.TrimSpace(os.Getenv("RELAY_STREAM_URL"))
	c.Relay.BackoffBase = mustDuration("RELAY_BACKOFF_BASE")
	c.Relay.BackoffCap = mustDuration("RELAY_BACKOFF_CAP")
	c.Relay.MaxAttempts = optInt("RELAY_MAX_ATTEMPTS")
	c.Relay.HealthInterval = mustDuration("RELAY_HEALTH_INTERVAL")
	c.Relay.SilenceThreshold = mustDuration("RELAY_SILENCE_THRESHOLD")

	c.Gateway.BaseURL = strings.TrimSpace(os.Getenv("GATEWAY_BASE_URL"))
	c.Gateway.ClientID = strings.TrimSpace(os.Getenv("GATEWAY_CLIENT_ID"))
	c.Gateway.ClientSecret = os.Getenv("GATEWAY_CLIENT_SECRET")
	c.Gateway.Timeout = mustDuration("GATEWAY_TIMEOUT")
	c.Gateway.MaxConcurrentDials = optInt("GATEWAY_MAX_CONCURRENT_DIALS")

	c.Operator.UserID = strings.TrimSpace(os.Getenv("OPERATOR_USER_ID"))
	c.Operator.WorkspaceID = strings.TrimSpace(os.Getenv("OPERATOR_WORKSPACE_ID"))
	c.Operator.AgentNumber = strings.TrimSpace(os.Getenv("OPERATOR_AGENT_NUMBER"))
	c.Operator.AgentID = strings.TrimSpace(os.Getenv("OPERATOR_AGENT_ID"))
	c.Operator.VirtualNumber = strings.TrimSpace(os.Getenv("OPERATOR_VIRTUAL_NUMBER"))
	c.Operator.Administrator = optBool("OPERATOR_ADMINISTRATOR")

	c.Contacts.BaseURL = strings.TrimSpace(os.Getenv("CONTACTS_BASE_URL"))
	c.Contacts.CacheTTL = mustDuration("CONTACTS_CACHE_TTL")

	c.Audit.BaseURL = strings.TrimSpace(os.Getenv("AUDIT_BASE_URL"))
	c.Audit.APIKey = os.Getenv("AUDIT_API_KEY")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required fields and fills environment-sensitive defaults
// in place. The pointer receiver matters: defaults set here (SSL mode, token
// TTLs) must survive into the config the caller keeps using.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			// Allowed values are enforced below.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}

	if c.Auth.AccessTokenTTL <= 0 {
		// Default: short-lived access tokens.
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		// Default: longer-lived refresh tokens.
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Relay.StreamURL == "" {
		errs = append(errs, errors.New("RELAY_STREAM_URL is required"))
	}
	if c.Relay.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("RELAY_MAX_ATTEMPTS must be >= 0, got %d", c.Relay.MaxAttempts))
	}

	if c.Gateway.BaseURL == "" {
		errs = append(errs, errors.New("GATEWAY_BASE_URL is required"))
	}
	if c.Gateway.ClientID == "" {
		errs = append(errs, errors.New("GATEWAY_CLIENT_ID is required"))
	}
	if c.Gateway.ClientSecret == "" {
		errs = append(errs, errors.New("GATEWAY_CLIENT_SECRET is required"))
	}
	if c.Gateway.MaxConcurrentDials < 0 {
		errs = append(errs, fmt.Errorf("GATEWAY_MAX_CONCURRENT_DIALS must be >= 0, got %d", c.Gateway.MaxConcurrentDials))
	}

	if c.Operator.UserID == "" {
		errs = append(errs, errors.New("OPERATOR_USER_ID is required"))
	}
	if c.Operator.WorkspaceID == "" {
		errs = append(errs, errors.New("OPERATOR_WORKSPACE_ID is required"))
	}
	if c.Operator.VirtualNumber == "" {
		errs = append(errs, errors.New("OPERATOR_VIRTUAL_NUMBER is required"))
	}
	if c.Operator.AgentNumber == "" && !c.Operator.Administrator {
		errs = append(errs, errors.New("OPERATOR_AGENT_NUMBER is required for non-administrator operators"))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

// optInt reads an optional integer; empty or malformed values yield zero so
// the component-level default applies.
func optInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func optBool(key string) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
