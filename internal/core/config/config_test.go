package config

import (
	"testing"
	"time"
)

func validConfig(t *testing.T) Config {
	t.Helper()
	t.Setenv("RESOLVER_URL", "https://assist.example.com")
	t.Setenv("RESOLVER_SERVICE_KEY", "svc-key")
	return FromEnv()
}

func TestDefaults(t *testing.T) {
	cfg := validConfig(t)

	if cfg.Addr != ":8090" {
		t.Fatalf("addr %q", cfg.Addr)
	}
	if cfg.BinHours != 1 {
		t.Fatalf("bin hours %d", cfg.BinHours)
	}
	if cfg.RedisPoolSize != 32 {
		t.Fatalf("pool size %d", cfg.RedisPoolSize)
	}
	if cfg.RedisDialTimeout != 2*time.Second {
		t.Fatalf("dial timeout %s", cfg.RedisDialTimeout)
	}
	if cfg.MaxResolutionTime != 3*time.Minute {
		t.Fatalf("max resolution time %s", cfg.MaxResolutionTime)
	}
	if cfg.InitialRetryDelay != 5*time.Second {
		t.Fatalf("initial delay %s", cfg.InitialRetryDelay)
	}
	if cfg.RetryDelayFactor != 1.5 {
		t.Fatalf("delay factor %v", cfg.RetryDelayFactor)
	}
	if cfg.MaxRetryDelay != 900*time.Second {
		t.Fatalf("max delay %s", cfg.MaxRetryDelay)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestBrokerListSplitting(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092 ,,c:9092")
	cfg := validConfig(t)
	if len(cfg.Kafka.Brokers) != 3 || cfg.Kafka.Brokers[1] != "b:9092" {
		t.Fatalf("brokers %v", cfg.Kafka.Brokers)
	}
}

func TestBinHoursFloor(t *testing.T) {
	t.Setenv("CACHE_BIN_HOURS", "0")
	if cfg := validConfig(t); cfg.BinHours != 1 {
		t.Fatalf("bin hours must floor at 1, got %d", cfg.BinHours)
	}
}

func TestValidateRejections(t *testing.T) {
	base := validConfig(t)
	for name, mutate := range map[string]func(*Config){
		"missing resolver url": func(c *Config) { c.Resolver.URL = "" },
		"missing service key":  func(c *Config) { c.Resolver.ServiceKey = "" },
		"no brokers":           func(c *Config) { c.Kafka.Brokers = nil },
		"factor not above 1":   func(c *Config) { c.RetryDelayFactor = 1.0 },
		"zero deadline":        func(c *Config) { c.MaxResolutionTime = 0 },
	} {
		cfg := base
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: want validation error", name)
		}
	}
}
