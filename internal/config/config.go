package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Carrier (Exotel-style voice API)
	CarrierBaseURL    string
	CarrierSubdomain  string
	CarrierAccountSID string
	CarrierAPIKey     string
	CarrierAPIToken   string
	CarrierCallerID   string
	CarrierAppID      string

	CallbackBaseURL    string
	UpstreamOutcomeURL string

	// Dialect selects the callback response encoding: "xml" or "json".
	Dialect            string
	DefaultLanguage    string
	DefaultPrepMinutes int
	BrandName          string
	PromptAudioBaseURL string

	SessionLiveTTL     time.Duration
	SessionReportedTTL time.Duration
	SessionSweepEvery  time.Duration
	HandlerBudget      time.Duration
	LockWait           time.Duration

	CallTimeLimit   time.Duration
	CallRingTimeout time.Duration

	WorkerCount        int
	UseMemoryQueue     bool
	ReportQueueURL     string
	ReportJournalTable string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	AlertEmailTo       string
	AlertEmailFrom     string
	AlertEmailProvider string
	SendGridAPIKey     string

	InitiateAuthSecret string
	InitiateRatePerSec float64
	InitiateBurst      int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		CarrierBaseURL:    strings.TrimRight(getEnv("CARRIER_BASE_URL", "https://api.exotel.com"), "/"),
		CarrierSubdomain:  getEnv("CARRIER_SUBDOMAIN", "my.exotel.com"),
		CarrierAccountSID: getEnv("CARRIER_ACCOUNT_SID", ""),
		CarrierAPIKey:     getEnv("CARRIER_API_KEY", ""),
		CarrierAPIToken:   getEnv("CARRIER_API_TOKEN", ""),
		CarrierCallerID:   getEnv("CARRIER_CALLER_ID", ""),
		CarrierAppID:      getEnv("CARRIER_APP_ID", ""),

		CallbackBaseURL:    strings.TrimRight(getEnv("CALLBACK_BASE_URL", ""), "/"),
		UpstreamOutcomeURL: getEnv("UPSTREAM_OUTCOME_URL", ""),

		Dialect:            strings.ToLower(strings.TrimSpace(getEnv("DIALECT", "xml"))),
		DefaultLanguage:    getEnv("DEFAULT_LANGUAGE", "hi"),
		DefaultPrepMinutes: getEnvAsInt("DEFAULT_PREP_MINUTES", 30),
		BrandName:          getEnv("BRAND_NAME", "Mangwale"),
		PromptAudioBaseURL: getEnv("PROMPT_AUDIO_BASE_URL", ""),

		SessionLiveTTL:     getEnvAsSeconds("SESSION_LIVE_TTL_SECONDS", 900),
		SessionReportedTTL: getEnvAsSeconds("SESSION_REPORTED_TTL_SECONDS", 60),
		SessionSweepEvery:  getEnvAsSeconds("SESSION_SWEEP_SECONDS", 30),
		HandlerBudget:      getEnvAsMillis("HANDLER_BUDGET_MS", 4000),
		LockWait:           getEnvAsMillis("LOCK_WAIT_MS", 500),

		CallTimeLimit:   getEnvAsSeconds("CALL_TIME_LIMIT_SECONDS", 300),
		CallRingTimeout: getEnvAsSeconds("CALL_RING_TIMEOUT_SECONDS", 30),

		WorkerCount:        getEnvAsInt("WORKER_COUNT", 2),
		UseMemoryQueue:     getEnvAsBool("USE_MEMORY_QUEUE", true),
		ReportQueueURL:     getEnv("REPORT_QUEUE_URL", ""),
		ReportJournalTable: getEnv("REPORT_JOURNAL_TABLE", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AlertEmailTo:       getEnv("ALERT_EMAIL_TO", ""),
		AlertEmailFrom:     getEnv("ALERT_EMAIL_FROM", ""),
		AlertEmailProvider: strings.ToLower(getEnv("ALERT_EMAIL_PROVIDER", "ses")),
		SendGridAPIKey:     getEnv("SENDGRID_API_KEY", ""),

		InitiateAuthSecret: getEnv("INITIATE_AUTH_SECRET", ""),
		InitiateRatePerSec: getEnvAsFloat("INITIATE_RATE_PER_SEC", 10),
		InitiateBurst:      getEnvAsInt("INITIATE_BURST", 20),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsFloat retrieves an environment variable as a float or returns a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsSeconds reads an integer number of seconds into a time.Duration.
func getEnvAsSeconds(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultSeconds)) * time.Second
}

// getEnvAsMillis reads an integer number of milliseconds into a time.Duration.
func getEnvAsMillis(key string, defaultMillis int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultMillis)) * time.Millisecond
}
