// Package config centralizes how dropwatch reads environment variables and
// exposes them as strongly typed Go values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator"
	"github.com/joho/godotenv"
)

// Config represents runtime configuration for one widget instance and the
// collaborators it talks to.
type Config struct {
	WidgetID        string `validate:"required"`
	APIURL          string `validate:"required,url"`
	APIKey          string `validate:"required"`
	PresignEndpoint string `validate:"omitempty,url"`
	RESTPath        string
	JobsResource    string `validate:"required"`
	CreditsResource string
	RequestTimeout  time.Duration `validate:"min=0"`

	// JobsBackend selects where job records are read from: "rest" or "postgres".
	JobsBackend string `validate:"oneof=rest postgres"`
	DatabaseURL string

	// PresignMode selects who signs upload URLs: "endpoint" or "minio".
	PresignMode  string `validate:"oneof=endpoint minio"`
	S3Endpoint   string
	S3AccessKey  string
	S3SecretKey  string
	S3Region     string
	S3UseSSL     bool
	S3Bucket     string
	SignedURLTTL time.Duration

	NATSURL       string
	ResultSubject string

	WebhookAddress string
	WebhookSecret  []byte

	IdentityPath string
	Debug        bool

	Timing Timing
}

// Timing groups the delays and bounds of the locate/poll state machine.
type Timing struct {
	PropagationDelay time.Duration `validate:"min=0"`
	RelocateDelay    time.Duration `validate:"min=0"`
	PollInterval     time.Duration `validate:"gt=0"`
	MaxPollAttempts  int           `validate:"gt=0"`
	MaxPollFailures  int           `validate:"gt=0"`
	LocateLimit      int           `validate:"gt=0,lte=50"`
	MatchWindow      time.Duration `validate:"gt=0"`
	FallbackLead     time.Duration `validate:"min=0"`
}

const (
	defaultRESTPath         = "/rest/v1"
	defaultJobsResource     = "widget_jobs"
	defaultCreditsResource  = "user_credits"
	defaultRequestTimeout   = 30 * time.Second
	defaultSignedTTL        = 15 * time.Minute
	defaultPropagationDelay = 1500 * time.Millisecond
	defaultRelocateDelay    = 3 * time.Second
	defaultPollInterval     = 2 * time.Second
	defaultMaxPollAttempts  = 150 // 5 minutes at 2-second intervals
	defaultMaxPollFailures  = 10
	defaultLocateLimit      = 5
	defaultMatchWindow      = 60 * time.Second
	defaultFallbackLead     = 10 * time.Second
)

// DefaultTiming returns the documented delays and bounds.
func DefaultTiming() Timing {
	return Timing{
		PropagationDelay: defaultPropagationDelay,
		RelocateDelay:    defaultRelocateDelay,
		PollInterval:     defaultPollInterval,
		MaxPollAttempts:  defaultMaxPollAttempts,
		MaxPollFailures:  defaultMaxPollFailures,
		LocateLimit:      defaultLocateLimit,
		MatchWindow:      defaultMatchWindow,
		FallbackLead:     defaultFallbackLead,
	}
}

// Load reads an optional .env file and then the process environment,
// falling back to defaults for anything unset.
func Load(envFiles ...string) (*Config, error) {
	// godotenv never overrides variables that are already exported, and a
	// missing file is not an error for local runs.
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	apiURL := strings.TrimRight(readEnv("WIDGET_API_URL", ""), "/")
	cfg := &Config{
		WidgetID:        readEnv("WIDGET_ID", ""),
		APIURL:          apiURL,
		APIKey:          readEnv("WIDGET_API_KEY", ""),
		PresignEndpoint: readEnv("WIDGET_PRESIGN_ENDPOINT", defaultPresignEndpoint(apiURL)),
		RESTPath:        readEnv("WIDGET_REST_PATH", defaultRESTPath),
		JobsResource:    readEnv("WIDGET_JOBS_RESOURCE", defaultJobsResource),
		CreditsResource: readEnv("WIDGET_CREDITS_RESOURCE", defaultCreditsResource),
		RequestTimeout:  parseDuration("WIDGET_REQUEST_TIMEOUT", defaultRequestTimeout),
		JobsBackend:     strings.ToLower(readEnv("WIDGET_JOBS_BACKEND", "rest")),
		DatabaseURL:     readEnv("WIDGET_DATABASE_URL", ""),
		PresignMode:     strings.ToLower(readEnv("WIDGET_PRESIGN_MODE", "endpoint")),
		S3Endpoint:      readEnv("WIDGET_S3_ENDPOINT", "localhost:9000"),
		S3AccessKey:     readEnv("WIDGET_S3_ACCESS_KEY", ""),
		S3SecretKey:     readEnv("WIDGET_S3_SECRET_KEY", ""),
		S3Region:        readEnv("WIDGET_S3_REGION", "us-east-1"),
		S3UseSSL:        parseBool("WIDGET_S3_USE_SSL", false),
		S3Bucket:        readEnv("WIDGET_S3_BUCKET", "widget-uploads"),
		SignedURLTTL:    parseDuration("WIDGET_SIGNED_TTL", defaultSignedTTL),
		NATSURL:         readEnv("WIDGET_NATS_URL", ""),
		WebhookAddress:  readEnv("WIDGET_WEBHOOK_ADDRESS", ""),
		WebhookSecret:   parseSecret("WIDGET_WEBHOOK_SECRET"),
		IdentityPath:    IdentityPath(),
		Debug:           parseBool("WIDGET_DEBUG", false),
		Timing: Timing{
			PropagationDelay: parseDuration("WIDGET_PROPAGATION_DELAY", defaultPropagationDelay),
			RelocateDelay:    parseDuration("WIDGET_RELOCATE_DELAY", defaultRelocateDelay),
			PollInterval:     parseDuration("WIDGET_POLL_INTERVAL", defaultPollInterval),
			MaxPollAttempts:  parseInt("WIDGET_POLL_MAX_ATTEMPTS", defaultMaxPollAttempts),
			MaxPollFailures:  parseInt("WIDGET_POLL_MAX_FAILURES", defaultMaxPollFailures),
			LocateLimit:      parseInt("WIDGET_LOCATE_LIMIT", defaultLocateLimit),
			MatchWindow:      parseDuration("WIDGET_MATCH_WINDOW", defaultMatchWindow),
			FallbackLead:     parseDuration("WIDGET_FALLBACK_LEAD", defaultFallbackLead),
		},
	}
	cfg.ResultSubject = readEnv("WIDGET_RESULT_SUBJECT", ResultSubject(cfg.WidgetID))
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = defaultSignedTTL
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct tags first and then the settings that depend on
// the selected backends.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.JobsBackend == "postgres" && c.DatabaseURL == "" {
		return errors.New("invalid config: WIDGET_DATABASE_URL is required for the postgres jobs backend")
	}
	if c.PresignMode == "minio" && (c.S3AccessKey == "" || c.S3SecretKey == "") {
		return errors.New("invalid config: WIDGET_S3_ACCESS_KEY and WIDGET_S3_SECRET_KEY are required for minio presigning")
	}
	if c.PresignMode == "endpoint" && c.PresignEndpoint == "" {
		return errors.New("invalid config: WIDGET_PRESIGN_ENDPOINT is required")
	}
	return nil
}

// RESTBaseURL is the root of the job-records query API.
func (c *Config) RESTBaseURL() string {
	return c.APIURL + "/" + strings.Trim(c.RESTPath, "/")
}

// ResultSubject is the default NATS subject carrying out-of-band results.
func ResultSubject(widgetID string) string {
	if widgetID == "" {
		return "widgets.results"
	}
	return "widgets." + widgetID + ".results"
}

func defaultPresignEndpoint(apiURL string) string {
	if apiURL == "" {
		return ""
	}
	return apiURL + "/functions/v1/presign"
}

// IdentityPath is where the anonymous user id is kept. It needs no other
// configuration, so commands that only report identity can skip Load.
func IdentityPath() string {
	return readEnv("WIDGET_IDENTITY_PATH", defaultIdentityPath())
}

func defaultIdentityPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "dropwatch", "anon_id")
}

func readEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	// time.ParseDuration understands inputs like "1500ms" or "2s".
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseSecret(key string) []byte {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return []byte(v)
	}
	return nil
}
