package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the api and worker processes.
// Values come from env; a .env file in the working directory is loaded first when present.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Provider  ProviderConfig
	Resolver  ResolverConfig
	Billing   BillingConfig
	Scheduler SchedulerConfig
	SMTP      SMTPConfig
	Ingest    IngestConfig
	Outreach  OutreachConfig
}

type AppConfig struct {
	Env  string
	Port int

	// RunMigrations applies embedded migrations at api startup.
	RunMigrations bool
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// ProviderConfig covers the voice provider webhook boundary.
type ProviderConfig struct {
	// WebhookSecret, when set, must match the X-Webhook-Secret header.
	WebhookSecret string
}

type ResolverConfig struct {
	// FallbackTenantID attributes unresolvable events to a designated test tenant.
	// Forbidden in production.
	FallbackTenantID string
	DefaultTimezone  string
	CacheTTL         time.Duration
}

type BillingConfig struct {
	StripeSecretKey string
	Currency        string
	ChargeTimeout   time.Duration
}

type SchedulerConfig struct {
	Queue       string
	Concurrency int
}

type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
}

type IngestConfig struct {
	// TenantConcurrency caps in-flight webhook deliveries per tenant. 0 disables the cap.
	TenantConcurrency int
	CapTTL            time.Duration
	// ProcessTimeout bounds the synchronous part of one webhook delivery.
	ProcessTimeout time.Duration

	RateLimitPerSecond float64
	RateLimitBurst     int
}

type OutreachConfig struct {
	// DispatchURL receives call and sms follow-up requests (voice service).
	DispatchURL string
	Timeout     time.Duration
}

func Load() (Config, error) {
	_ = godotenv.Load()

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.RunMigrations = optionalBool("RUN_MIGRATIONS")

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
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.Provider.WebhookSecret = os.Getenv("VOICE_WEBHOOK_SECRET")

	c.Resolver.FallbackTenantID = strings.TrimSpace(os.Getenv("RESOLVER_FALLBACK_TENANT_ID"))
	c.Resolver.DefaultTimezone = strings.TrimSpace(os.Getenv("DEFAULT_TIMEZONE"))
	c.Resolver.CacheTTL = mustDuration("RESOLVER_CACHE_TTL")

	c.Billing.StripeSecretKey = os.Getenv("STRIPE_SECRET_KEY")
	c.Billing.Currency = strings.ToLower(strings.TrimSpace(os.Getenv("BILLING_CURRENCY")))
	c.Billing.ChargeTimeout = mustDuration("BILLING_CHARGE_TIMEOUT")

	c.Scheduler.Queue = strings.TrimSpace(os.Getenv("ASYNQ_QUEUE"))
	{
		n, err := optionalInt("ASYNQ_CONCURRENCY")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Scheduler.Concurrency = n
	}

	c.SMTP.Host = strings.TrimSpace(os.Getenv("SMTP_HOST"))
	{
		n, err := optionalInt("SMTP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.SMTP.Port = n
	}
	c.SMTP.Username = strings.TrimSpace(os.Getenv("SMTP_USERNAME"))
	c.SMTP.Password = os.Getenv("SMTP_PASSWORD")
	c.SMTP.FromEmail = strings.TrimSpace(os.Getenv("SMTP_FROM_EMAIL"))
	c.SMTP.FromName = strings.TrimSpace(os.Getenv("SMTP_FROM_NAME"))

	{
		n, err := optionalInt("INGEST_TENANT_CONCURRENCY")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Ingest.TenantConcurrency = n
	}
	c.Ingest.CapTTL = mustDuration("INGEST_CAP_TTL")
	c.Ingest.ProcessTimeout = mustDuration("INGEST_PROCESS_TIMEOUT")
	{
		f, err := optionalFloat("WEBHOOK_RATE_LIMIT_RPS")
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Ingest.RateLimitPerSecond = f
	}
	{
		n, err := optionalInt("WEBHOOK_RATE_LIMIT_BURST")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Ingest.RateLimitBurst = n
	}

	c.Outreach.DispatchURL = strings.TrimSpace(os.Getenv("OUTREACH_DISPATCH_URL"))
	c.Outreach.Timeout = mustDuration("OUTREACH_TIMEOUT")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks c and fills defaults in place.
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
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.IsProduction() {
		if c.Resolver.FallbackTenantID != "" {
			errs = append(errs, errors.New("RESOLVER_FALLBACK_TENANT_ID must not be set in production"))
		}
		if c.Provider.WebhookSecret == "" {
			errs = append(errs, errors.New("VOICE_WEBHOOK_SECRET is required in production"))
		}
		if c.Billing.StripeSecretKey == "" {
			errs = append(errs, errors.New("STRIPE_SECRET_KEY is required in production"))
		}
	}
	if c.Resolver.DefaultTimezone == "" {
		c.Resolver.DefaultTimezone = "America/New_York"
	}
	if _, err := time.LoadLocation(c.Resolver.DefaultTimezone); err != nil {
		errs = append(errs, fmt.Errorf("DEFAULT_TIMEZONE is not a valid IANA zone, got %q", c.Resolver.DefaultTimezone))
	}
	if c.Resolver.CacheTTL <= 0 {
		c.Resolver.CacheTTL = 5 * time.Minute
	}

	if c.Billing.Currency == "" {
		c.Billing.Currency = "usd"
	}
	if len(c.Billing.Currency) != 3 {
		errs = append(errs, fmt.Errorf("BILLING_CURRENCY must be an ISO 4217 code, got %q", c.Billing.Currency))
	}
	if c.Billing.ChargeTimeout <= 0 {
		c.Billing.ChargeTimeout = 10 * time.Second
	}

	if c.Scheduler.Queue == "" {
		c.Scheduler.Queue = "followups"
	}
	if c.Scheduler.Concurrency <= 0 {
		c.Scheduler.Concurrency = 10
	}

	if c.SMTP.Host != "" {
		if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
			errs = append(errs, fmt.Errorf("SMTP_PORT must be a valid port, got %d", c.SMTP.Port))
		}
		if c.SMTP.FromEmail == "" {
			errs = append(errs, errors.New("SMTP_FROM_EMAIL is required when SMTP_HOST is set"))
		}
	}

	if c.Ingest.TenantConcurrency < 0 {
		errs = append(errs, fmt.Errorf("INGEST_TENANT_CONCURRENCY must be >= 0, got %d", c.Ingest.TenantConcurrency))
	}
	if c.Ingest.CapTTL <= 0 {
		c.Ingest.CapTTL = 30 * time.Second
	}
	if c.Ingest.ProcessTimeout <= 0 {
		c.Ingest.ProcessTimeout = 10 * time.Second
	}
	if c.Ingest.RateLimitPerSecond <= 0 {
		c.Ingest.RateLimitPerSecond = 50
	}
	if c.Ingest.RateLimitBurst <= 0 {
		c.Ingest.RateLimitBurst = 100
	}

	if c.Outreach.Timeout <= 0 {
		c.Outreach.Timeout = 10 * time.Second
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

// Location returns the default tenant time zone. Validate guarantees it loads.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Resolver.DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
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

func optionalInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalFloat(key string) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", key, v)
	}
	return f, nil
}

func optionalBool(key string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
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
