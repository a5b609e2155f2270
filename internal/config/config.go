package config

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// HTTP holds HTTP server configuration.
type HTTP struct {
	Host string
	Port int
}

// GRPC holds gRPC health server configuration.
type GRPC struct {
	Enabled bool
	Host    string
	Port    int
}

// Backend describes the upstream REST order service.
type Backend struct {
	BaseURL     string
	OrderEntity string
	Token       string
	TokenHeader string
	ListLimit   int
	Timeout     time.Duration
}

// GraphQL configures the GraphQL endpoint.
type GraphQL struct {
	Path           string
	MaxParallelism int
}

// Relay configures submitted-order fan-out.
type Relay struct {
	Driver       string
	Buffer       int
	RedisChannel string
}

// Redis contains redis-specific connection settings.
type Redis struct {
	Addr     string
	Password string
	DB       int
}

// Messaging configures the message bus used by the application.
type Messaging struct {
	Driver        string
	Enabled       bool
	Kafka         Kafka
	ConsumerGroup string
	Workers       Worker
}

// Kafka holds Kafka connection details.
type Kafka struct {
	Brokers        []string
	ClientID       string
	Topic          string
	CommitInterval time.Duration
	MinBytes       int
	MaxBytes       int
	ConnectTimeout time.Duration
}

// Worker configures background worker concurrency and polling.
type Worker struct {
	Enabled      bool
	PollInterval time.Duration
	Concurrency  int
}

// Observability contains logging, tracing, and metrics configuration.
type Observability struct {
	ServiceName     string
	Environment     string
	LogLevel        string
	LogEncoding     string
	EnableTracing   bool
	TraceExporter   string
	TraceEndpoint   string
	TraceInsecure   bool
	EnableMetrics   bool
	MetricsExporter string
	PrometheusPath  string
}

// Config wraps all application configuration knobs.
type Config struct {
	HTTP          HTTP
	GRPC          GRPC
	Backend       Backend
	GraphQL       GraphQL
	Relay         Relay
	Redis         Redis
	Messaging     Messaging
	Observability Observability
}

// Module wires the configuration loader into the Fx graph.
var Module = fx.Provide(New)

var loadEnvOnce sync.Once

// New builds a Config from environment variables or defaults.
func New() (Config, error) {
	loadEnvOnce.Do(func() {
		_ = godotenv.Load()
	})

	cfg := Config{
		HTTP: HTTP{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnvAsInt("HTTP_PORT", 4000),
		},
		GRPC: GRPC{
			Enabled: getEnvAsBool("GRPC_ENABLED", true),
			Host:    getEnv("GRPC_HOST", "0.0.0.0"),
			Port:    getEnvAsInt("GRPC_PORT", 9090),
		},
		Backend: Backend{
			BaseURL:     getEnv("BACKEND_BASE_URL", "http://localhost:8081/api/"),
			OrderEntity: getEnv("BACKEND_ORDER_ENTITY", "lifelines_order"),
			Token:       getEnv("BACKEND_TOKEN", ""),
			TokenHeader: getEnv("BACKEND_TOKEN_HEADER", "X-Molgenis-Token"),
			ListLimit:   getEnvAsInt("BACKEND_LIST_LIMIT", 10000),
			Timeout:     getEnvAsDuration("BACKEND_TIMEOUT", 0),
		},
		GraphQL: GraphQL{
			Path:           getEnv("GRAPHQL_PATH", "/graphql"),
			MaxParallelism: getEnvAsInt("GRAPHQL_MAX_PARALLELISM", 10),
		},
		Relay: Relay{
			Driver:       getEnv("RELAY_DRIVER", "memory"),
			Buffer:       getEnvAsInt("RELAY_BUFFER", 64),
			RedisChannel: getEnv("RELAY_REDIS_CHANNEL", "ordergate:order-submitted"),
		},
		Redis: Redis{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Messaging: Messaging{
			Driver:  getEnv("MESSAGING_DRIVER", "kafka"),
			Enabled: getEnvAsBool("MESSAGING_ENABLED", false),
			Kafka: Kafka{
				Brokers:        getEnvAsStringSlice("KAFKA_BROKERS", []string{"127.0.0.1:9092"}),
				ClientID:       getEnv("KAFKA_CLIENT_ID", "ordergate"),
				Topic:          getEnv("KAFKA_TOPIC", "orders.submitted"),
				CommitInterval: getEnvAsDuration("KAFKA_COMMIT_INTERVAL", time.Second),
				MinBytes:       getEnvAsInt("KAFKA_MIN_BYTES", 10e3),
				MaxBytes:       getEnvAsInt("KAFKA_MAX_BYTES", 10e6),
				ConnectTimeout: getEnvAsDuration("KAFKA_CONNECT_TIMEOUT", 5*time.Second),
			},
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "ordergate-audit"),
			Workers: Worker{
				Enabled:      getEnvAsBool("WORKER_ENABLED", true),
				PollInterval: getEnvAsDuration("WORKER_POLL_INTERVAL", time.Second),
				Concurrency:  getEnvAsInt("WORKER_CONCURRENCY", 1),
			},
		},
		Observability: Observability{
			ServiceName:     getEnv("OBS_SERVICE_NAME", "ordergate"),
			Environment:     getEnv("OBS_ENVIRONMENT", "local"),
			LogLevel:        getEnv("OBS_LOG_LEVEL", "info"),
			LogEncoding:     getEnv("OBS_LOG_ENCODING", "json"),
			EnableTracing:   getEnvAsBool("OBS_ENABLE_TRACING", false),
			TraceExporter:   getEnv("OBS_TRACE_EXPORTER", "stdout"),
			TraceEndpoint:   getEnv("OBS_OTLP_ENDPOINT", "localhost:4317"),
			TraceInsecure:   getEnvAsBool("OBS_OTLP_INSECURE", true),
			EnableMetrics:   getEnvAsBool("OBS_ENABLE_METRICS", true),
			MetricsExporter: getEnv("OBS_METRICS_EXPORTER", "prometheus"),
			PrometheusPath:  getEnv("OBS_PROMETHEUS_PATH", "/metrics"),
		},
	}

	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() error {
	if cfg.HTTP.Port <= 0 {
		return fmt.Errorf("invalid HTTP port: %d", cfg.HTTP.Port)
	}

	if cfg.GRPC.Enabled && cfg.GRPC.Port <= 0 {
		return fmt.Errorf("invalid gRPC port: %d", cfg.GRPC.Port)
	}

	if err := cfg.Backend.normalize(); err != nil {
		return err
	}

	cfg.GraphQL.Path = ensureLeadingSlash(strings.TrimSpace(cfg.GraphQL.Path), "/graphql")
	if cfg.GraphQL.MaxParallelism <= 0 {
		cfg.GraphQL.MaxParallelism = 10
	}

	cfg.Relay.Driver = normalizeName(cfg.Relay.Driver, "memory")
	switch cfg.Relay.Driver {
	case "memory", "redis":
		// supported
	default:
		return fmt.Errorf("unsupported relay driver: %s", cfg.Relay.Driver)
	}
	if cfg.Relay.Buffer <= 0 {
		return fmt.Errorf("invalid relay buffer: %d", cfg.Relay.Buffer)
	}
	if cfg.Relay.Driver == "redis" {
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("missing REDIS_ADDR for redis relay")
		}
		if cfg.Relay.RedisChannel == "" {
			return fmt.Errorf("RELAY_REDIS_CHANNEL must be provided")
		}
	}

	cfg.Observability.LogLevel = normalizeName(cfg.Observability.LogLevel, "info")
	cfg.Observability.LogEncoding = normalizeName(cfg.Observability.LogEncoding, "json")
	cfg.Observability.TraceExporter = normalizeName(cfg.Observability.TraceExporter, "stdout")
	cfg.Observability.MetricsExporter = normalizeName(cfg.Observability.MetricsExporter, "prometheus")
	cfg.Observability.PrometheusPath = ensureLeadingSlash(cfg.Observability.PrometheusPath, "/metrics")

	if !cfg.Messaging.Enabled {
		cfg.Messaging.Driver = "noop"
	}

	switch cfg.Messaging.Driver {
	case "kafka", "noop":
		// supported
	default:
		return fmt.Errorf("unsupported messaging driver: %s", cfg.Messaging.Driver)
	}

	if cfg.Messaging.Driver == "kafka" {
		if len(cfg.Messaging.Kafka.Brokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS must be provided")
		}
		if cfg.Messaging.Kafka.Topic == "" {
			return fmt.Errorf("KAFKA_TOPIC must be provided")
		}
		if cfg.Messaging.ConsumerGroup == "" {
			return fmt.Errorf("KAFKA_CONSUMER_GROUP must be provided")
		}
	}

	if cfg.Messaging.Workers.Concurrency <= 0 {
		cfg.Messaging.Workers.Concurrency = 1
	}
	if cfg.Messaging.Workers.PollInterval <= 0 {
		cfg.Messaging.Workers.PollInterval = time.Second
	}

	return nil
}

func (b *Backend) normalize() error {
	b.BaseURL = strings.TrimSpace(b.BaseURL)
	if b.BaseURL == "" {
		return fmt.Errorf("missing BACKEND_BASE_URL")
	}
	u, err := url.Parse(b.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid BACKEND_BASE_URL: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("BACKEND_BASE_URL must be absolute: %s", b.BaseURL)
	}
	// Relative references resolve against the last path segment otherwise.
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	b.BaseURL = u.String()

	b.OrderEntity = strings.Trim(strings.TrimSpace(b.OrderEntity), "/")
	if b.OrderEntity == "" {
		return fmt.Errorf("missing BACKEND_ORDER_ENTITY")
	}
	if strings.TrimSpace(b.TokenHeader) == "" {
		b.TokenHeader = "X-Molgenis-Token"
	}
	if b.ListLimit <= 0 {
		return fmt.Errorf("invalid BACKEND_LIST_LIMIT: %d", b.ListLimit)
	}
	if b.Timeout < 0 {
		b.Timeout = 0
	}
	return nil
}
