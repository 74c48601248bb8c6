package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type KafkaCfg struct {
	Brokers        []string
	TelemetryTopic string
	RetryTopic     string
	ResolveTopic   string
	DeviceOutTopic string
	GroupID        string
}

type ResolverCfg struct {
	URL        string
	ServiceKey string
	TokenTTL   time.Duration
}

type Config struct {
	Addr     string
	LogLevel string

	RedisAddr        string
	RedisPoolSize    int
	RedisDialTimeout time.Duration
	StoreOpTimeout   time.Duration

	Kafka    KafkaCfg
	Resolver ResolverCfg

	BinHours          int
	MaxResolutionTime time.Duration
	InitialRetryDelay time.Duration
	RetryDelayFactor  float64
	MaxRetryDelay     time.Duration

	MemoSize             int
	NetworkModeCacheSize int
}

func FromEnv() Config {
	binHours := getint("CACHE_BIN_HOURS", 1)
	if binHours < 1 {
		binHours = 1
	}

	return Config{
		Addr:     getenv("ADDR", ":8090"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		RedisAddr:        getenv("REDIS_ADDR", "localhost:6379"),
		RedisPoolSize:    getint("REDIS_POOL_SIZE", 32),
		RedisDialTimeout: getduration("REDIS_DIAL_TIMEOUT", 2*time.Second),
		StoreOpTimeout:   getduration("STORE_OP_TIMEOUT", 250*time.Millisecond),

		Kafka: KafkaCfg{
			Brokers:        split(getenv("KAFKA_BROKERS", "localhost:9092")),
			TelemetryTopic: getenv("TELEMETRY_TOPIC", "device-telemetry"),
			RetryTopic:     getenv("RETRY_TOPIC", "assist-retry"),
			ResolveTopic:   getenv("RESOLVE_TOPIC", "assist-resolve"),
			DeviceOutTopic: getenv("DEVICE_OUT_TOPIC", "device-messages"),
			GroupID:        getenv("KAFKA_GROUP_ID", "assist-pipeline"),
		},
		Resolver: ResolverCfg{
			URL:        getenv("RESOLVER_URL", ""),
			ServiceKey: getenv("RESOLVER_SERVICE_KEY", ""),
			TokenTTL:   getduration("RESOLVER_TOKEN_TTL", 10*time.Minute),
		},

		BinHours:          binHours,
		MaxResolutionTime: getduration("MAX_RESOLUTION_TIME", 3*time.Minute),
		InitialRetryDelay: getduration("INITIAL_RETRY_DELAY", 5*time.Second),
		RetryDelayFactor:  getfloat("RETRY_DELAY_FACTOR", 1.5),
		MaxRetryDelay:     getduration("MAX_RETRY_DELAY", 900*time.Second),

		MemoSize:             getint("MEMO_SIZE", 2048),
		NetworkModeCacheSize: getint("NETWORK_MODE_CACHE_SIZE", 8192),
	}
}

// Validate reports missing or unusable settings before anything connects.
func (c Config) Validate() error {
	if c.Resolver.URL == "" {
		return errors.New("config: RESOLVER_URL is required")
	}
	if c.Resolver.ServiceKey == "" {
		return errors.New("config: RESOLVER_SERVICE_KEY is required")
	}
	if len(c.Kafka.Brokers) == 0 {
		return errors.New("config: KAFKA_BROKERS is required")
	}
	if c.RetryDelayFactor <= 1 {
		return errors.New("config: RETRY_DELAY_FACTOR must be > 1")
	}
	if c.MaxResolutionTime <= 0 {
		return errors.New("config: MAX_RESOLUTION_TIME must be positive")
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func split(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if x := strings.TrimSpace(p); x != "" {
			out = append(out, x)
		}
	}
	return out
}
