package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values come from environment variables with defaults that run locally
// without Redis, Kafka, RabbitMQ or Postgres.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	AMQPURL      string
	AMQPExchange string

	PGDSN string
	// RideSeedFile is a JSON array of rides loaded into the in-memory store
	// when PG_DSN is unset.
	RideSeedFile string

	OSRMEndpoint       string
	GoogleMapsAPIKey   string
	DirectionsCacheTTL time.Duration

	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioPhoneNumber string
	SMSDevMode        bool
	NotifyWebhookURL  string
	AppURL            string

	StripeAPIKey string

	NominalInterval         time.Duration
	CheckpointRadiusMeters  float64
	DirectionsRefreshMeters float64
	CompletedRetention      time.Duration

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:                ":8080",
		ReadTimeout:             5 * time.Second,
		WriteTimeout:            10 * time.Second,
		IdleTimeout:             120 * time.Second,
		ShutdownTimeout:         15 * time.Second,
		RedisGeoKey:             "rides_geo",
		KafkaTopic:              "ride-locations",
		AMQPExchange:            "location_fanout",
		OSRMEndpoint:            "https://router.project-osrm.org",
		DirectionsCacheTTL:      10 * time.Minute,
		AppURL:                  "http://localhost:5173",
		NominalInterval:         5 * time.Second,
		CheckpointRadiusMeters:  50,
		DirectionsRefreshMeters: 100,
		CompletedRetention:      30 * time.Minute,
		LogLevel:                "info",
	}
}

// LoadDotEnv reads .env into the environment when the file exists.
// Variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.AMQPURL = strings.TrimSpace(os.Getenv("AMQP_URL"))
	setStringFromEnv(&cfg.AMQPExchange, "AMQP_EXCHANGE")

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.RideSeedFile = strings.TrimSpace(os.Getenv("RIDES_SEED_FILE"))

	setStringFromEnv(&cfg.OSRMEndpoint, "OSRM_ENDPOINT")
	cfg.GoogleMapsAPIKey = strings.TrimSpace(os.Getenv("GOOGLE_MAPS_API_KEY"))
	setDurationFromEnv(&cfg.DirectionsCacheTTL, "DIRECTIONS_CACHE_TTL", &errs)

	cfg.TwilioAccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	cfg.TwilioAuthToken = strings.TrimSpace(os.Getenv("TWILIO_AUTH_TOKEN"))
	cfg.TwilioPhoneNumber = strings.TrimSpace(os.Getenv("TWILIO_PHONE_NUMBER"))
	cfg.SMSDevMode = strings.EqualFold(os.Getenv("SMS_DEV_MODE"), "true")
	cfg.NotifyWebhookURL = strings.TrimSpace(os.Getenv("NOTIFY_WEBHOOK_URL"))
	setStringFromEnv(&cfg.AppURL, "APP_URL")

	cfg.StripeAPIKey = strings.TrimSpace(os.Getenv("STRIPE_API_KEY"))

	setDurationFromEnv(&cfg.NominalInterval, "TRACKING_NOMINAL_INTERVAL", &errs)
	setFloatFromEnv(&cfg.CheckpointRadiusMeters, "TRACKING_CHECKPOINT_RADIUS_M", &errs)
	setFloatFromEnv(&cfg.DirectionsRefreshMeters, "TRACKING_DIRECTIONS_REFRESH_M", &errs)
	setDurationFromEnv(&cfg.CompletedRetention, "TRACKING_COMPLETED_RETENTION", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.NominalInterval <= 0 {
		errs = append(errs, fmt.Errorf("TRACKING_NOMINAL_INTERVAL must be > 0"))
	}
	if cfg.CheckpointRadiusMeters <= 0 {
		errs = append(errs, fmt.Errorf("TRACKING_CHECKPOINT_RADIUS_M must be > 0"))
	}
	if cfg.DirectionsRefreshMeters <= 0 {
		errs = append(errs, fmt.Errorf("TRACKING_DIRECTIONS_REFRESH_M must be > 0"))
	}
	if !cfg.SMSDevMode && cfg.TwilioAccountSID != "" && (cfg.TwilioAuthToken == "" || cfg.TwilioPhoneNumber == "") {
		errs = append(errs, fmt.Errorf("TWILIO_AUTH_TOKEN and TWILIO_PHONE_NUMBER are required with TWILIO_ACCOUNT_SID"))
	}

	return cfg, errors.Join(errs...)
}

// SMSEnabled reports whether parent texts should be attempted at all.
func (c ServerConfig) SMSEnabled() bool {
	return c.SMSDevMode || c.TwilioAccountSID != ""
}

// ConsumerConfig configures the ride-locations consumer.
type ConsumerConfig struct {
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroup    string
	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string
	MetricsAddr   string
	LogLevel      string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "ride-locations",
		KafkaGroup:   "ride-tracking-consumer",
		RedisAddr:    "localhost:6379",
		RedisGeoKey:  "rides_geo",
		MetricsAddr:  ":2112",
		LogLevel:     "info",
	}
	var errs []error

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS must list at least one broker"))
	}
	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
