package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"

	ProviderReplicate = "replicate"
	ProviderKIE       = "kie"

	StorageS3         = "s3"
	StorageFilesystem = "filesystem"
)

// Config aggregates runtime configuration for the reconciler and supporting services.
type Config struct {
	AppEnv             string
	LogLevel           string
	ListenAddr         string
	PublicBaseURL      string
	CORSAllowedOrigins []string

	DBDriver    string
	DatabaseDSN string

	GenerationProvider     string
	ReplicateAPIToken      string
	ReplicateBaseURL       string
	ReplicateModelVersion  string
	ReplicateWebhookSecret string
	KIEAPIKey              string
	KIEBaseURL             string
	KIEModel               string

	PaymentProvider      string
	PaymentWebhookSecret string

	RequestTimeout   time.Duration
	PollTimeout      time.Duration
	PollAfter        time.Duration
	ArtifactTimeout  time.Duration
	ArtifactMaxBytes int64
	FinalizeLease    time.Duration
	SweepInterval    time.Duration
	SweepConcurrency int
	SweepBatchSize   int

	CreditsPerJob   int
	FreeTierEnabled bool

	StorageDriver   string
	StoragePath     string
	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string

	TelegramBotToken string
	AlertChatID      int64

	AdminUsername string
	AdminPassword string
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const (
		defaultKIEBaseURL    = "https://api.kie.ai"
		defaultAdminPassword = "change-me"
	)

	cfg := Config{
		AppEnv:                 strings.ToLower(getEnv("APP_ENV", EnvDevelopment)),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		ListenAddr:             getEnv("LISTEN_ADDR", ":8080"),
		PublicBaseURL:          strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/"),
		CORSAllowedOrigins:     getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		DBDriver:               strings.ToLower(getEnv("DB_DRIVER", "mysql")),
		DatabaseDSN:            getEnv("DATABASE_DSN", os.Getenv("MYSQL_DSN")),
		GenerationProvider:     strings.ToLower(getEnv("GENERATION_PROVIDER", ProviderReplicate)),
		ReplicateAPIToken:      os.Getenv("REPLICATE_API_TOKEN"),
		ReplicateBaseURL:       strings.TrimRight(getEnv("REPLICATE_BASE_URL", "https://api.replicate.com"), "/"),
		ReplicateModelVersion:  os.Getenv("REPLICATE_MODEL_VERSION"),
		ReplicateWebhookSecret: os.Getenv("REPLICATE_WEBHOOK_SECRET"),
		KIEAPIKey:              os.Getenv("KIE_API_KEY"),
		KIEBaseURL:             normalizeKIEBaseURL(getEnv("KIE_BASE_URL", defaultKIEBaseURL), defaultKIEBaseURL),
		KIEModel:               getEnv("KIE_MODEL", "flux-2/pro-image-to-image"),
		PaymentProvider:        strings.ToLower(getEnv("PAYMENT_PROVIDER", "lemonsqueezy")),
		PaymentWebhookSecret:   os.Getenv("PAYMENT_WEBHOOK_SECRET"),
		RequestTimeout:         time.Second * time.Duration(getInt("REQUEST_TIMEOUT_SECONDS", 60)),
		PollTimeout:            time.Second * time.Duration(getInt("POLL_TIMEOUT_SECONDS", 15)),
		PollAfter:              time.Second * time.Duration(getInt("POLL_AFTER_SECONDS", 30)),
		ArtifactTimeout:        time.Second * time.Duration(getInt("ARTIFACT_TIMEOUT_SECONDS", 60)),
		ArtifactMaxBytes:       getInt64("ARTIFACT_MAX_BYTES", 25<<20),
		FinalizeLease:          time.Second * time.Duration(getInt("FINALIZE_LEASE_SECONDS", 300)),
		SweepInterval:          time.Second * time.Duration(getInt("SWEEP_INTERVAL_SECONDS", 0)),
		SweepConcurrency:       getInt("SWEEP_CONCURRENCY", 4),
		SweepBatchSize:         getInt("SWEEP_BATCH_SIZE", 100),
		CreditsPerJob:          getInt("CREDITS_PER_JOB", 1),
		FreeTierEnabled:        getBool("FREE_TIER_ENABLED", true),
		StorageDriver:          strings.ToLower(getEnv("STORAGE_DRIVER", StorageS3)),
		StoragePath:            getEnv("STORAGE_PATH", "./storage"),
		S3Endpoint:             getEnv("S3_ENDPOINT", ""),
		S3Region:               os.Getenv("S3_REGION"),
		S3AccessKey:            os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:            os.Getenv("S3_SECRET_KEY"),
		S3Bucket:               os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:        os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:         getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:               getEnv("S3_PREFIX", "results"),
		TelegramBotToken:       os.Getenv("TELEGRAM_BOT_TOKEN"),
		AlertChatID:            getInt64("ALERT_CHAT_ID", 0),
		AdminUsername:          getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:          getEnv("ADMIN_PASSWORD", defaultAdminPassword),
	}

	var missing []string
	if cfg.DatabaseDSN == "" {
		missing = append(missing, "DATABASE_DSN")
	}
	switch cfg.GenerationProvider {
	case ProviderReplicate:
		if cfg.ReplicateAPIToken == "" {
			missing = append(missing, "REPLICATE_API_TOKEN")
		}
		if cfg.ReplicateModelVersion == "" {
			missing = append(missing, "REPLICATE_MODEL_VERSION")
		}
		if cfg.IsProduction() && cfg.ReplicateWebhookSecret == "" {
			missing = append(missing, "REPLICATE_WEBHOOK_SECRET")
		}
	case ProviderKIE:
		if cfg.KIEAPIKey == "" {
			missing = append(missing, "KIE_API_KEY")
		}
	default:
		return Config{}, fmt.Errorf("unsupported generation provider: %s", cfg.GenerationProvider)
	}
	if cfg.IsProduction() && cfg.PaymentWebhookSecret == "" {
		missing = append(missing, "PAYMENT_WEBHOOK_SECRET")
	}
	if cfg.IsProduction() {
		if os.Getenv("ADMIN_USERNAME") == "" {
			missing = append(missing, "ADMIN_USERNAME")
		}
		if pw := os.Getenv("ADMIN_PASSWORD"); pw == "" || pw == defaultAdminPassword {
			missing = append(missing, "ADMIN_PASSWORD")
		}
	}
	switch cfg.StorageDriver {
	case StorageS3:
		if cfg.S3Region == "" {
			missing = append(missing, "S3_REGION")
		}
		if cfg.S3AccessKey == "" {
			missing = append(missing, "S3_ACCESS_KEY")
		}
		if cfg.S3SecretKey == "" {
			missing = append(missing, "S3_SECRET_KEY")
		}
		if cfg.S3Bucket == "" {
			missing = append(missing, "S3_BUCKET")
		}
		if cfg.S3PublicBaseURL == "" {
			missing = append(missing, "S3_PUBLIC_BASE_URL")
		}
	case StorageFilesystem:
		if cfg.IsProduction() {
			return Config{}, fmt.Errorf("filesystem storage is not allowed in production")
		}
	default:
		return Config{}, fmt.Errorf("unsupported storage driver: %s", cfg.StorageDriver)
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}
	if cfg.SweepConcurrency <= 0 {
		cfg.SweepConcurrency = 1
	}
	if cfg.CreditsPerJob < 0 {
		cfg.CreditsPerJob = 0
	}

	return cfg, nil
}

// IsProduction reports whether the service runs in a deployed production environment.
func (c Config) IsProduction() bool {
	return c.AppEnv == EnvProduction
}

// CallbackURL returns the webhook URL a provider should push to, or "" when the public
// endpoint is not reachable over https. Callers must keep polling either way.
func (c Config) CallbackURL(provider string) string {
	if c.PublicBaseURL == "" {
		return ""
	}
	parsed, err := url.Parse(c.PublicBaseURL)
	if err != nil || parsed.Scheme != "https" || parsed.Host == "" {
		return ""
	}
	return c.PublicBaseURL + "/webhooks/generation/" + provider
}

// normalizeKIEBaseURL ensures we always hit the documented API host. Some docs and UI pages
// use the root kie.ai domain, which returns HTML instead of JSON and causes 404s.
func normalizeKIEBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
	}

	if parsed.Host == "kie.ai" {
		parsed.Host = "api.kie.ai"
	}

	return strings.TrimRight(parsed.String(), "/")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// loadEnvFile overlays the first env file found. Deployments that inject variables
// directly have no file, which is fine.
func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
