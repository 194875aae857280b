package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port            string
	Env             string
	CORSAllowOrigin []string
	DatabaseURL     string
	ServiceToken    string

	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string

	OpenAIAPIKey  string
	ExtractModel  string
	GenerateModel string
	OCRModel      string

	ParseMinChars    int
	OCRFallback      bool
	ParseConcurrency int

	ExecutionMode    string
	FreeTrialReviews int

	PrecedentMode         bool
	PrecedentTemplatePath string

	WorkerPollInterval time.Duration
	WorkerConcurrency  int
	WorkerIdleLogEvery int
	StaleRunningAfter  time.Duration
	QueueWarnAfter     time.Duration
	QueueCriticalAfter time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")

	if env == "production" && dbURL == "" {
		log.Printf("DATABASE_URL is required in production")
	}

	return Config{
		Port:            getEnv("PORT", "8080"),
		Env:             env,
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:3000")),
		DatabaseURL:     dbURL,
		ServiceToken:    os.Getenv("SERVICE_TOKEN"),

		ObjectStoreType: normalizeStoreType(getEnv("OBJECT_STORE", "local")),
		LocalStoreDir:   getEnv("LOCAL_STORE_DIR", "./data"),
		AWSRegion:       getEnv("AWS_REGION", ""),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Prefix:        getEnv("S3_PREFIX", "documents/"),

		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		ExtractModel:  getEnv("OPENAI_EXTRACT_MODEL", "gpt-4.1-mini"),
		GenerateModel: getEnv("OPENAI_GENERATE_MODEL", "gpt-4.1-mini"),
		OCRModel:      getEnv("OPENAI_OCR_MODEL", "gpt-4.1-mini"),

		ParseMinChars:    getEnvInt("PDF_PARSE_MIN_CHARS", 1200),
		OCRFallback:      getEnv("PDF_OCR_FALLBACK", "true") != "false",
		ParseConcurrency: maxInt(1, getEnvInt("STATUSCERT_PARSE_CONCURRENCY", 3)),

		ExecutionMode:    normalizeExecutionMode(getEnv("STATUSCERT_EXECUTION_MODE", ""), env),
		FreeTrialReviews: getEnvInt("FREE_TRIAL_REVIEWS", 1),

		PrecedentMode:         getEnv("STATUSCERT_PRECEDENT_MODE", "") == "true",
		PrecedentTemplatePath: getEnv("STATUSCERT_PRECEDENT_TEMPLATE", "assets/templates/status_cert_precedent_v1.docx"),

		WorkerPollInterval: getEnvDuration("STATUSCERT_WORKER_POLL", 2*time.Second),
		WorkerConcurrency:  maxInt(1, getEnvInt("STATUSCERT_WORKER_CONCURRENCY", 2)),
		WorkerIdleLogEvery: maxInt(1, getEnvInt("STATUSCERT_WORKER_IDLE_LOG_EVERY", 30)),
		StaleRunningAfter:  getEnvDuration("STATUSCERT_WORKER_STALE_RUNNING", 5*time.Minute),
		QueueWarnAfter:     getEnvDuration("STATUSCERT_QUEUE_WARN", 30*time.Second),
		QueueCriticalAfter: getEnvDuration("STATUSCERT_QUEUE_CRITICAL", 2*time.Minute),
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("config env %s invalid int: %v", key, err)
		return def
	}
	return val
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("config env %s invalid duration: %v", key, err)
		return def
	}
	return val
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}

func normalizeExecutionMode(raw, env string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "inline":
		return "inline"
	case "queue":
		return "queue"
	}
	if env == "production" {
		return "queue"
	}
	return "inline"
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
