package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type AdvisoryServiceConfig struct {
	Port              string
	AppEnv            string
	LogDir            string
	LogLevel          string
	PostgresCfg       PostgresConfig
	RabbitMQCfg       RabbitMQConfig
	RedisCfg          RedisConfig
	MinioCfg          MinioConfig
	GeminiAPICfg      GeminiAPIConfig
	WeatherServiceCfg UpstreamConfig
	ProfileServiceCfg UpstreamConfig
	PipelineCfg       PipelineConfig
	Thresholds        SignalThresholds
}

type MinioConfig struct {
	MinioURL       string
	MinioAccessKey string
	MinioSecretKey string
	MinioLocation  string
	MinioSecure    string
	ContentBucket  string
}

type PostgresConfig struct {
	DBname   string
	Username string
	Password string
	Host     string
	Port     string
}

type RabbitMQConfig struct {
	Username string
	Password string
	Host     string
	Port     string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type GeminiAPIConfig struct {
	APIKeys   []string
	FlashName string
}

// UpstreamConfig points at an internal HTTP collaborator (weather-service, profile-service).
type UpstreamConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// PipelineConfig holds the tunables of the ingestion / delivery pipeline.
type PipelineConfig struct {
	Districts                 []string
	WorkerCount               int
	WorkerQueueSize           int
	DispatchTimeout           time.Duration
	DedupBucket               time.Duration
	MaxAdvisoriesPerFarmerDay int
	AlertFatigueThreshold     int
	IgnoredEmergencyWindow    time.Duration
	IngestionCron             string
	SweepCron                 string
	// Retries after the first failed attempt, so a log is sent at most MaxDispatchRetries+1 times.
	MaxDispatchRetries        int
	// Age before a PENDING log is swept; also the lease on a claimed log.
	StalePendingAfter         time.Duration
	RuleCacheTTL              time.Duration
	BulletinValidFor          time.Duration
	ForecastHours             int
	ThresholdsFile            string
}

func New() *AdvisoryServiceConfig {
	// .env is optional; real deployments inject the environment directly
	_ = godotenv.Load()

	cfg := &AdvisoryServiceConfig{
		Port:     getEnvOrDefault("PORT", "8090"),
		AppEnv:   getEnvOrDefault("APP_ENV", "development"),
		LogDir:   getEnvOrDefault("LOG_DIR", ""),
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		PostgresCfg: PostgresConfig{
			DBname:   getEnvOrDefault("POSTGRES_DB", "agrisa_advisory"),
			Username: getEnvOrDefault("POSTGRES_USER", "postgres"),
			Password: getEnvOrDefault("POSTGRES_PASSWORD", "postgres"),
			Host:     getEnvOrDefault("POSTGRES_HOST", "localhost"),
			Port:     getEnvOrDefault("POSTGRES_PORT", "5432"),
		},
		RabbitMQCfg: RabbitMQConfig{
			Username: getEnvOrDefault("RABBITMQ_USER", "admin"),
			Password: getEnvOrDefault("RABBITMQ_PWD", "admin"),
			Host:     getEnvOrDefault("RABBITMQ_HOST", "localhost"),
			Port:     getEnvOrDefault("RABBITMQ_PORT", "5672"),
		},
		RedisCfg: RedisConfig{
			Host:     getEnvOrDefault("REDIS_HOST", "localhost"),
			Port:     getEnvOrDefault("REDIS_PORT", "6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getEnvIntOrDefault("REDIS_DB", 0),
		},
		MinioCfg: MinioConfig{
			MinioURL:       getEnvOrDefault("MINIO_ENDPOINT", "http://localhost:9407"),
			MinioAccessKey: getEnvOrDefault("MINIO_ACCESS_KEY", "minio"),
			MinioSecretKey: getEnvOrDefault("MINIO_SECRET_KEY", "minio123"),
			MinioLocation:  getEnvOrDefault("MINIO_LOCATION", "us-east-1"),
			MinioSecure:    getEnvOrDefault("MINIO_SECURE", "false"),
			ContentBucket:  getEnvOrDefault("MINIO_CONTENT_BUCKET", "advisory-content"),
		},
		GeminiAPICfg: GeminiAPIConfig{
			APIKeys:   getEnvListOrDefault("GEMINI_KEY", nil),
			FlashName: getEnvOrDefault("GEMINI_FLASH_MODEL", "gemini-2.5-flash"),
		},
		WeatherServiceCfg: UpstreamConfig{
			BaseURL: getEnvOrDefault("WEATHER_SERVICE_URL", "http://localhost:8085"),
			APIKey:  getEnvOrDefault("WEATHER_SERVICE_API_KEY", ""),
			Timeout: getEnvDurationOrDefault("WEATHER_SERVICE_TIMEOUT", 15*time.Second),
		},
		ProfileServiceCfg: UpstreamConfig{
			BaseURL: getEnvOrDefault("PROFILE_SERVICE_URL", "http://localhost:8084"),
			APIKey:  getEnvOrDefault("PROFILE_SERVICE_API_KEY", ""),
			Timeout: getEnvDurationOrDefault("PROFILE_SERVICE_TIMEOUT", 15*time.Second),
		},
		PipelineCfg: PipelineConfig{
			Districts:                 getEnvListOrDefault("ADVISORY_DISTRICTS", nil),
			WorkerCount:               getEnvIntOrDefault("WORKER_COUNT", 8),
			WorkerQueueSize:           getEnvIntOrDefault("WORKER_QUEUE_SIZE", 256),
			DispatchTimeout:           getEnvDurationOrDefault("DISPATCH_TIMEOUT", 10*time.Second),
			DedupBucket:               getEnvDurationOrDefault("DEDUP_BUCKET", 24*time.Hour),
			MaxAdvisoriesPerFarmerDay: getEnvIntOrDefault("MAX_ADVISORIES_PER_FARMER_DAY", 5),
			AlertFatigueThreshold:     getEnvIntOrDefault("ALERT_FATIGUE_THRESHOLD", 3),
			IgnoredEmergencyWindow:    getEnvDurationOrDefault("IGNORED_EMERGENCY_WINDOW", 6*time.Hour),
			IngestionCron:             getEnvOrDefault("INGESTION_CRON", "0 0 */3 * * *"),
			SweepCron:                 getEnvOrDefault("SWEEP_CRON", "0 */10 * * * *"),
			MaxDispatchRetries:        getEnvIntOrDefault("MAX_DISPATCH_RETRIES", 3),
			StalePendingAfter:         getEnvDurationOrDefault("STALE_PENDING_AFTER", 15*time.Minute),
			RuleCacheTTL:              getEnvDurationOrDefault("RULE_CACHE_TTL", 5*time.Minute),
			BulletinValidFor:          getEnvDurationOrDefault("BULLETIN_VALID_FOR", 24*time.Hour),
			ForecastHours:             getEnvIntOrDefault("FORECAST_HOURS", 24),
			ThresholdsFile:            getEnvOrDefault("SIGNAL_THRESHOLDS_FILE", ""),
		},
		Thresholds: DefaultSignalThresholds(),
	}

	return cfg
}

// LoadThresholds overlays the signal thresholds file, if configured, on top of the defaults.
func (c *AdvisoryServiceConfig) LoadThresholds() error {
	if c.PipelineCfg.ThresholdsFile == "" {
		return nil
	}
	thresholds, err := LoadSignalThresholds(c.PipelineCfg.ThresholdsFile)
	if err != nil {
		return err
	}
	c.Thresholds = *thresholds
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
