package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers     []string
	KafkaGroupID     string
	KafkaEventsTopic string
	KafkaWorkerTopic string
	EventsEnabled    bool

	// Auth
	JWTSecret        string
	JWTIssuer        string
	JWTAudience      string
	JWTTTL           time.Duration
	OIDCIssuer       string
	OIDCClientID     string
	OIDCClientSecret string
	OIDCRedirectURL  string

	// Protocol documents
	StorageType      string
	StorageLocalPath string
	S3Bucket         string
	S3Region         string

	// Voice provider
	VoiceBaseURL       string
	VoiceAPIKey        string
	VoiceAgentID       string
	VoiceFromNumber    string
	VoiceWebhookURL    string
	VoiceWebhookSecret string
	VoiceTimeout       time.Duration
	VoiceMaxRetries    int

	// Screening
	ScreeningRulesPath  string
	TerminologyPath     string
	RedactionRulesPath  string
	PotentialMatchRatio float64

	// Scheduling
	SlotLength     time.Duration
	DayStartHour   int
	DayEndHour     int
	SchedulingZone string

	// Analytics
	AnalyticsCacheTTL time.Duration

	// Gateway
	RateLimitRPS   int
	RateLimitBurst int
	CORSOrigins    []string
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 16*1024*1024)),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "recruit"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "recruit123"),
		PostgresDB:       getEnv("POSTGRES_DB", "recruit"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers:     getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:     getEnv("KAFKA_GROUP_ID", "recruit-screening"),
		KafkaEventsTopic: getEnv("KAFKA_EVENTS_TOPIC", "recruitment.events"),
		KafkaWorkerTopic: getEnv("KAFKA_WORKER_TOPIC", "recruitment.events"),
		EventsEnabled:    getBoolEnv("EVENTS_ENABLED", true),

		JWTSecret:        getEnv("JWT_SECRET", ""),
		JWTIssuer:        getEnv("JWT_ISSUER", "recruit"),
		JWTAudience:      getEnv("JWT_AUDIENCE", "recruit-dashboard"),
		JWTTTL:           getDuration("JWT_TTL", 8*time.Hour),
		OIDCIssuer:       getEnv("OIDC_ISSUER", ""),
		OIDCClientID:     getEnv("OIDC_CLIENT_ID", ""),
		OIDCClientSecret: getEnv("OIDC_CLIENT_SECRET", ""),
		OIDCRedirectURL:  getEnv("OIDC_REDIRECT_URL", "http://localhost:8080/auth/callback"),

		StorageType:      getEnv("STORAGE_TYPE", "local"),
		StorageLocalPath: getEnv("STORAGE_LOCAL_PATH", "./protocols"),
		S3Bucket:         getEnv("STORAGE_S3_BUCKET", ""),
		S3Region:         getEnv("STORAGE_S3_REGION", ""),

		VoiceBaseURL:       getEnv("VOICE_BASE_URL", "https://api.voice-provider.example/v1"),
		VoiceAPIKey:        getEnv("VOICE_API_KEY", ""),
		VoiceAgentID:       getEnv("VOICE_AGENT_ID", ""),
		VoiceFromNumber:    getEnv("VOICE_FROM_NUMBER", ""),
		VoiceWebhookURL:    getEnv("VOICE_WEBHOOK_URL", ""),
		VoiceWebhookSecret: getEnv("VOICE_WEBHOOK_SECRET", ""),
		VoiceTimeout:       getDuration("VOICE_TIMEOUT", 15*time.Second),
		VoiceMaxRetries:    getIntEnv("VOICE_MAX_RETRIES", 3),

		ScreeningRulesPath:  getEnv("SCREENING_RULES_PATH", ""),
		TerminologyPath:     getEnv("TERMINOLOGY_PATH", ""),
		RedactionRulesPath:  getEnv("REDACTION_RULES_PATH", ""),
		PotentialMatchRatio: getFloatEnv("POTENTIAL_MATCH_RATIO", 0.75),

		SlotLength:     getDuration("SLOT_LENGTH", time.Hour),
		DayStartHour:   getIntEnv("SCHEDULING_DAY_START", 9),
		DayEndHour:     getIntEnv("SCHEDULING_DAY_END", 17),
		SchedulingZone: getEnv("SCHEDULING_TIMEZONE", "UTC"),

		AnalyticsCacheTTL: getDuration("ANALYTICS_CACHE_TTL", 5*time.Minute),

		RateLimitRPS:   getIntEnv("RATE_LIMIT_RPS", 50),
		RateLimitBurst: getIntEnv("RATE_LIMIT_BURST", 100),
		CORSOrigins:    getStringSliceEnv("CORS_ALLOWED_ORIGINS", []string{"*"}),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
