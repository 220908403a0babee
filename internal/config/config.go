package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port               string
	Env                string
	LogLevel           string
	CORSAllowedOrigins []string
	CandidateJWTSecret string
	CreateRatePerMin   float64
	CreateBurst        int

	// Tavus CVI
	TavusAPIKey      string
	TavusBaseURL     string
	TavusTimeout     time.Duration
	TeardownTimeout  time.Duration
	PersonaID        string
	ReplicaID        string
	ConversationName string
	Greeting         string
	Context          string

	// Direct-call sessions with no request for SessionIdleTTL are torn down.
	SessionIdleTTL      time.Duration
	SessionReapInterval time.Duration

	// Active conversation ledger
	RedisAddr            string
	RedisPassword        string
	RedisTLS             bool
	OrphanSweepInterval  time.Duration
	InstanceHeartbeatTTL time.Duration

	// Interview history
	DatabaseURL string
}

// Load reads configuration from environment variables, after merging a .env
// file from the working directory when one exists. Values already present in
// the environment win over .env entries.
func Load() *Config {
	_ = loadDotEnv(".env")
	return &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		CandidateJWTSecret: getEnv("CANDIDATE_JWT_SECRET", ""),
		CreateRatePerMin:   getEnvAsFloat("CREATE_RATE_PER_MINUTE", 6),
		CreateBurst:        getEnvAsInt("CREATE_BURST", 3),

		TavusAPIKey:      getEnv("TAVUS_API_KEY", ""),
		TavusBaseURL:     getEnv("TAVUS_BASE_URL", "https://tavusapi.com/v2"),
		TavusTimeout:     getEnvAsDuration("TAVUS_TIMEOUT", 30*time.Second),
		TeardownTimeout:  getEnvAsDuration("TEARDOWN_TIMEOUT", 10*time.Second),
		PersonaID:        getEnv("TAVUS_PERSONA_ID", "pe13ed370726"),
		ReplicaID:        getEnv("TAVUS_REPLICA_ID", ""),
		ConversationName: getEnv("INTERVIEW_CONVERSATION_NAME", "AI Interview"),
		Greeting:         getEnv("INTERVIEW_GREETING", ""),
		Context: getEnv("INTERVIEW_CONTEXT",
			"You are conducting a mock interview for a software engineering position. Be professional, encouraging, and ask relevant technical and behavioral questions."),

		SessionIdleTTL:      getEnvAsDuration("SESSION_IDLE_TTL", 2*time.Hour),
		SessionReapInterval: getEnvAsDuration("SESSION_REAP_INTERVAL", time.Minute),

		RedisAddr:            getEnv("REDIS_ADDR", ""),
		RedisPassword:        getEnv("REDIS_PASSWORD", ""),
		RedisTLS:             getEnvAsBool("REDIS_TLS", false),
		OrphanSweepInterval:  getEnvAsDuration("ORPHAN_SWEEP_INTERVAL", time.Minute),
		InstanceHeartbeatTTL: getEnvAsDuration("INSTANCE_HEARTBEAT_TTL", 30*time.Second),

		DatabaseURL: getEnv("DATABASE_URL", ""),
	}
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
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

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
