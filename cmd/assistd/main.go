package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/oskarhn/gnss-assist/internal/assist/keys"
	"github.com/oskarhn/gnss-assist/internal/cache"
	"github.com/oskarhn/gnss-assist/internal/cache/redisstore"
	"github.com/oskarhn/gnss-assist/internal/core/config"
	"github.com/oskarhn/gnss-assist/internal/core/httpclient"
	"github.com/oskarhn/gnss-assist/internal/core/observability"
	"github.com/oskarhn/gnss-assist/internal/core/server"
	"github.com/oskarhn/gnss-assist/internal/devicechannel"
	"github.com/oskarhn/gnss-assist/internal/dispatch"
	"github.com/oskarhn/gnss-assist/internal/ingress"
	"github.com/oskarhn/gnss-assist/internal/logger"
	"github.com/oskarhn/gnss-assist/internal/pipeline"
	"github.com/oskarhn/gnss-assist/internal/queue/kafkaqueue"
	"github.com/oskarhn/gnss-assist/internal/registry"
	"github.com/oskarhn/gnss-assist/internal/resolver"
	"github.com/oskarhn/gnss-assist/internal/scheduler"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		Component: "assistd",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	if err := cfg.Validate(); err != nil {
		appLog.Error("configuration invalid", "err", err)
		return 1
	}

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting assistd",
		"addr", cfg.Addr,
		"version", Version,
		"resolver", cfg.Resolver.URL,
		"bin_hours", cfg.BinHours)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := redisstore.New(ctx, cfg.RedisAddr,
		redisstore.WithPoolSize(cfg.RedisPoolSize),
		redisstore.WithDialTimeout(cfg.RedisDialTimeout),
		redisstore.WithReadTimeout(cfg.StoreOpTimeout),
		redisstore.WithWriteTimeout(cfg.StoreOpTimeout))
	if err != nil {
		appLog.Error("redis connect failed", "err", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	rc := cache.New(store, cache.Options{
		DocTTL:   2 * keys.BinDuration(cfg.BinHours),
		Source:   "assistd",
		MemoSize: cfg.MemoSize,
	})

	producer, err := kafkaqueue.NewProducer(cfg.Kafka.Brokers)
	if err != nil {
		appLog.Error("kafka producer failed", "err", err)
		return 1
	}
	defer func() { _ = producer.Close() }()

	resolverClient, err := resolver.New(resolver.Config{
		BaseURL:    cfg.Resolver.URL,
		ServiceKey: cfg.Resolver.ServiceKey,
		TokenTTL:   cfg.Resolver.TokenTTL,
	}, httpclient.NewOutbound(), appLog)
	if err != nil {
		appLog.Error("resolver setup failed", "err", err)
		return 1
	}
	worker := resolver.NewWorker(resolverClient, rc, appLog)

	sender, err := newDeviceSender(cfg.Kafka.Brokers, cfg.Kafka.DeviceOutTopic)
	if err != nil {
		appLog.Error("device channel producer failed", "err", err)
		return 1
	}
	disp := dispatch.New(sender, appLog)

	sched := scheduler.New(scheduler.Config{
		BinHours:          cfg.BinHours,
		InitialDelay:      cfg.InitialRetryDelay,
		DelayFactor:       cfg.RetryDelayFactor,
		MaxDelay:          cfg.MaxRetryDelay,
		MaxResolutionTime: cfg.MaxResolutionTime,
		RetryTopic:        cfg.Kafka.RetryTopic,
		ResolveTopic:      cfg.Kafka.ResolveTopic,
	}, rc, producer, disp, scheduler.Options{Logger: appLog})

	enricher := ingress.New(registry.New(store), cfg.NetworkModeCacheSize, appLog)
	pipe := pipeline.New(enricher, sched, appLog)

	consumer := kafkaqueue.NewConsumer(kafkaqueue.ConsumerConfig{
		Brokers: cfg.Kafka.Brokers,
		Topics:  []string{cfg.Kafka.TelemetryTopic, cfg.Kafka.RetryTopic, cfg.Kafka.ResolveTopic},
		GroupID: cfg.Kafka.GroupID,
	}, map[string]kafkaqueue.MessageHandler{
		cfg.Kafka.TelemetryTopic: func(ctx context.Context, msg *sarama.ConsumerMessage) error {
			return pipe.HandleTelemetry(ctx, []devicechannel.Record{devicechannel.RecordFromMessage(msg)})
		},
		cfg.Kafka.RetryTopic:   kafkaqueue.Body(sched.HandleRetry),
		cfg.Kafka.ResolveTopic: kafkaqueue.Body(worker.Handle),
	}, kafkaqueue.ConsumerOptions{
		Logger:   appLog,
		Register: prometheus.DefaultRegisterer,
	})

	if err := consumer.Start(ctx); err != nil {
		appLog.Error("consumer start failed", "err", err)
		return 1
	}
	defer consumer.Stop()

	if err := server.Run(ctx, cfg.Addr, appLog, consumer); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("assistd stopped")
	return 0
}

func newDeviceSender(brokers []string, topic string) (*devicechannel.KafkaSender, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal

	sp, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return devicechannel.NewKafkaSender(sp, topic), nil
}
