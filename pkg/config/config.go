package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Extraction providers.
const (
	ProviderNone      = "none"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Extraction modes. Custom fields are the primary mode; doctor_info is the fixed
// five-column layout kept for owners that have not defined custom fields.
const (
	ExtractionModeCustom     = "custom"
	ExtractionModeDoctorInfo = "doctor_info"
)

// Config holds all configuration for the call sync service.
// Configuration comes from config.yaml with environment variable overrides.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"`

	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Auth       AuthConfig       `yaml:"auth"`
	Platform   PlatformConfig   `yaml:"platform"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Sheets     SheetsConfig     `yaml:"sheets"`
	Sync       SyncConfig       `yaml:"sync"`

	// CredentialsKey encrypts stored spreadsheet OAuth tokens.
	// Must be a 32-byte base64 key or a passphrase. Generate with: openssl rand -base64 32
	CredentialsKey string `yaml:"-" env:"CREDENTIALS_KEY"` // Secret - not in YAML
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"calls"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"call_dashboard"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
}

// RedisConfig configures the optional distributed sync lock.
// When Host is empty an in-process lock is used instead.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// AuthConfig holds API authentication settings.
// Tokens are issued by the login service (out of process) and signed with a shared HMAC secret.
type AuthConfig struct {
	EnableVerification bool   `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`
	JWTSecret          string `yaml:"-" env:"AUTH_JWT_SECRET"`
	Issuer             string `yaml:"issuer" env:"AUTH_ISSUER" env-default:""`
}

// PlatformConfig configures the remote conversational-agent platform.
type PlatformConfig struct {
	BaseURL        string        `yaml:"base_url" env:"PLATFORM_BASE_URL" env-default:"https://api.bolna.ai"`
	APIKey         string        `yaml:"-" env:"PLATFORM_API_KEY"`
	PageSize       int           `yaml:"page_size" env:"PLATFORM_PAGE_SIZE" env-default:"50"`
	MaxPages       int           `yaml:"max_pages" env:"PLATFORM_MAX_PAGES" env-default:"1000"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"PLATFORM_REQUEST_TIMEOUT" env-default:"30s"`
	MaxRetries     int           `yaml:"max_retries" env:"PLATFORM_MAX_RETRIES" env-default:"2"`
	// MaxResponseBytes caps a single platform response body. Defaults to 32 MiB.
	MaxResponseBytes int64 `yaml:"max_response_bytes" env:"PLATFORM_MAX_RESPONSE_BYTES" env-default:"33554432"`
}

// ExtractionConfig selects and configures the transcript extraction backend.
type ExtractionConfig struct {
	Provider    string  `yaml:"provider" env:"EXTRACTION_PROVIDER" env-default:"none"`
	BaseURL     string  `yaml:"base_url" env:"EXTRACTION_BASE_URL" env-default:""`
	Model       string  `yaml:"model" env:"EXTRACTION_MODEL" env-default:""`
	APIKey      string  `yaml:"-" env:"EXTRACTION_API_KEY"`
	Temperature float64 `yaml:"temperature" env:"EXTRACTION_TEMPERATURE" env-default:"0.1"`
	MaxTokens   int     `yaml:"max_tokens" env:"EXTRACTION_MAX_TOKENS" env-default:"1024"`
	Mode        string  `yaml:"mode" env:"EXTRACTION_MODE" env-default:"custom"`

	// SaveEmptyResults persists extraction results even when every field is "Not Found".
	SaveEmptyResults bool `yaml:"save_empty_results" env:"EXTRACTION_SAVE_EMPTY_RESULTS" env-default:"false"`

	// Circuit breaker around the provider.
	BreakerThreshold int           `yaml:"breaker_threshold" env:"EXTRACTION_BREAKER_THRESHOLD" env-default:"5"`
	BreakerReset     time.Duration `yaml:"breaker_reset" env:"EXTRACTION_BREAKER_RESET" env-default:"30s"`
	MaxRetries       int           `yaml:"max_retries" env:"EXTRACTION_MAX_RETRIES" env-default:"2"`
}

// IsAvailable returns true if an extraction backend is configured.
func (c *ExtractionConfig) IsAvailable() bool {
	return c.Provider != "" && c.Provider != ProviderNone && c.Model != ""
}

// SheetsConfig configures Google Sheets delivery.
type SheetsConfig struct {
	ClientID     string `yaml:"client_id" env:"GOOGLE_CLIENT_ID" env-default:""`
	ClientSecret string `yaml:"-" env:"GOOGLE_CLIENT_SECRET"`
	TokenURL     string `yaml:"token_url" env:"GOOGLE_TOKEN_URL" env-default:""`

	// RefreshLookahead refreshes the access token when it expires within this window.
	RefreshLookahead time.Duration `yaml:"refresh_lookahead" env:"SHEETS_REFRESH_LOOKAHEAD" env-default:"5m"`
	// Timezone used to render the call date and time metadata columns.
	Timezone string `yaml:"timezone" env:"SHEETS_TIMEZONE" env-default:"UTC"`
	// SheetName is the tab rows are appended to. Empty means the first sheet.
	SheetName string `yaml:"sheet_name" env:"SHEETS_SHEET_NAME" env-default:""`
}

// SyncConfig controls the orchestrator.
type SyncConfig struct {
	Interval      time.Duration `yaml:"interval" env:"SYNC_INTERVAL" env-default:"15m"`
	BackfillWidth int           `yaml:"backfill_width" env:"SYNC_BACKFILL_WIDTH" env-default:"5"`
	BackfillLimit int           `yaml:"backfill_limit" env:"SYNC_BACKFILL_LIMIT" env-default:"500"`
	LockTTL       time.Duration `yaml:"lock_ttl" env:"SYNC_LOCK_TTL" env-default:"30m"`
	// EnableScheduler starts the periodic sync loop inside `serve`.
	EnableScheduler bool `yaml:"enable_scheduler" env:"SYNC_ENABLE_SCHEDULER" env-default:"true"`
}

// Load reads configuration from the given YAML path with environment variable overrides.
// A missing file is not an error: every field has an env var and a default.
func Load(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if path != "" && fileExists(path) {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) normalize() {
	c.Extraction.Provider = strings.ToLower(strings.TrimSpace(c.Extraction.Provider))
	if c.Extraction.Provider == "" {
		c.Extraction.Provider = ProviderNone
	}
	c.Extraction.Mode = strings.ToLower(strings.TrimSpace(c.Extraction.Mode))
	if c.Extraction.Mode == "" {
		c.Extraction.Mode = ExtractionModeCustom
	}
	c.Extraction.BaseURL = ResolveURLForDocker(c.Extraction.BaseURL)
	c.Database.Host = ResolveHostForDocker(c.Database.Host)
	c.Platform.BaseURL = strings.TrimSuffix(c.Platform.BaseURL, "/")
}

// Validate checks cross-field constraints that env-default cannot express.
func (c *Config) Validate() error {
	switch c.Extraction.Provider {
	case ProviderNone, ProviderOpenAI, ProviderAnthropic, ProviderGemini:
	default:
		return fmt.Errorf("unknown extraction provider %q", c.Extraction.Provider)
	}

	switch c.Extraction.Mode {
	case ExtractionModeCustom, ExtractionModeDoctorInfo:
	default:
		return fmt.Errorf("unknown extraction mode %q", c.Extraction.Mode)
	}

	if c.Platform.PageSize < 1 {
		return fmt.Errorf("platform.page_size must be positive, got %d", c.Platform.PageSize)
	}
	if c.Platform.MaxPages < 1 {
		return fmt.Errorf("platform.max_pages must be positive, got %d", c.Platform.MaxPages)
	}
	if c.Sync.BackfillWidth < 1 {
		return fmt.Errorf("sync.backfill_width must be at least 1, got %d", c.Sync.BackfillWidth)
	}
	if c.Sheets.RefreshLookahead < 0 {
		return fmt.Errorf("sheets.refresh_lookahead must not be negative")
	}
	if _, err := time.LoadLocation(c.Sheets.Timezone); err != nil {
		return fmt.Errorf("sheets.timezone: %w", err)
	}
	if c.Auth.EnableVerification && c.Auth.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required when auth verification is enabled")
	}

	return nil
}

// Location returns the timezone used for sheet metadata columns.
func (c *SheetsConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns the connection string in URL form, as required by golang-migrate.
func (c *DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + strconv.Itoa(c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
