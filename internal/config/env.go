package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     string
	LogLevel string
	LogJSON  bool

	MaxDownloadMB  int
	RequestTimeout time.Duration

	GeminiEndpoint string
	GeminiAPIKey   string
	GeminiModel    string

	DiagnosticDumpDir string
	ResultsDir        string

	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	AwsEndpoint  string
	BucketName   string

	DatabaseURL string
	SslCertPath string

	JWTSecret        string
	ClientID         string
	ClientSecretHash string
	CORSOrigins      []string

	FallbackEngines   []string
	RetryMax          int
	RetryBaseDelay    time.Duration
	Workers           int
	AllowLocalSources bool
}

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogJSON:  getEnv("LOG_FORMAT", "text") == "json",

		MaxDownloadMB:  getEnvInt("MAX_DOWNLOAD_MB", 20),
		RequestTimeout: time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 30)) * time.Second,

		GeminiEndpoint: getEnv("GEMINI_ENDPOINT", ""),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModel:    getEnv("GEMINI_MODEL", "gemini-1.5-flash"),

		DiagnosticDumpDir: getEnv("DIAGNOSTIC_DUMP_DIR", ""),
		ResultsDir:        getEnv("RESULTS_DIR", "results"),

		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		AwsEndpoint:  getEnv("AWS_ENDPOINT", ""),
		BucketName:   getEnv("BUCKET_NAME", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		SslCertPath: getEnv("SSL_CERT_PATH", ""),

		JWTSecret:        getEnv("JWT_SECRET", ""),
		ClientID:         getEnv("CLIENT_ID", ""),
		ClientSecretHash: getEnv("CLIENT_SECRET_HASH", ""),
		CORSOrigins:      getEnvList("CORS_ORIGINS", []string{"http://localhost:5173"}),

		FallbackEngines: getEnvList("FALLBACK_ENGINES", []string{"docconv", "text"}),
		RetryMax:        getEnvInt("RETRY_MAX", 3),
		RetryBaseDelay:  time.Duration(getEnvInt("RETRY_BASE_DELAY_MS", 1000)) * time.Millisecond,
		Workers:         getEnvInt("WORKERS", 4),
		// Lets /api/extract/source read server-local paths.
		AllowLocalSources: getEnv("ALLOW_LOCAL_SOURCES", "false") == "true",
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	if c.MaxDownloadMB <= 0 {
		return fmt.Errorf("MAX_DOWNLOAD_MB must be positive, got %d", c.MaxDownloadMB)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT_SECONDS must be positive")
	}
	if c.RetryMax < 0 {
		return fmt.Errorf("RETRY_MAX must not be negative, got %d", c.RetryMax)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("WORKERS must be positive, got %d", c.Workers)
	}
	if (c.ClientID == "") != (c.ClientSecretHash == "") {
		return fmt.Errorf("CLIENT_ID and CLIENT_SECRET_HASH must be set together")
	}
	if c.ClientID != "" && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when client credentials are configured")
	}
	return nil
}

// MaxDownloadBytes converts MaxDownloadMB to bytes.
func (c *Config) MaxDownloadBytes() int64 {
	return int64(c.MaxDownloadMB) << 20
}

// HasObjectStorage reports whether S3 credentials are present.
func (c *Config) HasObjectStorage() bool {
	return c.AwsAccessKey != "" && c.AwsSecretKey != ""
}

// SlogLevel maps LogLevel onto slog levels; unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("environment value is not an int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

// getEnvList splits a comma-separated value, dropping blanks.
func getEnvList(key string, def []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
