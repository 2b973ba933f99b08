// Command subscriptions runs the tick-driven subscription scheduler and
// executor: it gates a primary topic's offsets on the commit log, derives
// ticks from it, schedules due subscriptions per tick, evaluates them
// against a bounded worker pool, and republishes results.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ruezetle/snuba/internal/appconfig"
	"github.com/ruezetle/snuba/internal/batching"
	"github.com/ruezetle/snuba/internal/commitlog"
	"github.com/ruezetle/snuba/internal/streams"
	"github.com/ruezetle/snuba/internal/streams/kafka"
	"github.com/ruezetle/snuba/internal/subscriptions"
	"github.com/ruezetle/snuba/internal/synchronized"
	"github.com/ruezetle/snuba/internal/tick"
)

const (
	exitOK            = 0
	exitFatalConsumer = 1
	exitConfigError   = 2
)

type config struct {
	bootstrapServers []string
	dataTopic        string
	consumerGroup    string
	autoOffsetReset  string
	requiredGroups   []string
	resultTopic      string
	scheduleTTL      time.Duration
	maxQueryWorkers  int
	queryTimeout     time.Duration
	maxBatchSize     int
	maxBatchTime     time.Duration
	pollTimeout      time.Duration
}

func loadConfig() (config, error) {
	var cfg config
	cfg.bootstrapServers = appconfig.StringList("SNUBA_BOOTSTRAP_SERVERS", []string{"localhost:9092"})
	cfg.dataTopic = appconfig.String("SNUBA_DATA_TOPIC", "events")
	cfg.consumerGroup = appconfig.String("SNUBA_CONSUMER_GROUP", "subscriptions-scheduler")
	cfg.autoOffsetReset = appconfig.String("SNUBA_AUTO_OFFSET_RESET", "error")
	cfg.requiredGroups = appconfig.StringList("SNUBA_REQUIRED_CONSUMER_GROUPS", []string{"ingest-consumer"})
	cfg.resultTopic = appconfig.String("SNUBA_RESULT_TOPIC", "subscription-results")

	var err error
	if cfg.scheduleTTL, err = appconfig.DurationMillis("SNUBA_SCHEDULE_TTL_MS", subscriptions.DefaultCacheTTL); err != nil {
		return cfg, err
	}
	if cfg.maxQueryWorkers, err = appconfig.Int("SNUBA_MAX_QUERY_WORKERS", 20); err != nil {
		return cfg, err
	}
	if cfg.queryTimeout, err = appconfig.DurationMillis("SNUBA_QUERY_TIMEOUT_MS", 30*time.Second); err != nil {
		return cfg, err
	}
	if cfg.maxBatchSize, err = appconfig.Int("SNUBA_MAX_BATCH_SIZE", 1000); err != nil {
		return cfg, err
	}
	if cfg.maxBatchTime, err = appconfig.DurationMillis("SNUBA_MAX_BATCH_TIME_MS", time.Second); err != nil {
		return cfg, err
	}
	if cfg.pollTimeout, err = appconfig.DurationMillis("SNUBA_POLL_TIMEOUT_MS", time.Second); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// noopQuerier stands in for the column-store query execution layer, an
// external collaborator out of scope for this module (spec.md §1).
type noopQuerier struct{ log *zap.Logger }

func (q noopQuerier) Query(ctx context.Context, task subscriptions.ScheduledTask) (subscriptions.QueryResult, error) {
	q.log.Debug("would evaluate subscription", zap.String("subscription_id", task.Subscription.ID.String()))
	return subscriptions.QueryResult{}, nil
}

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg, err := loadConfig()
	if err != nil {
		log.Error("configuration error", zap.Error(err))
		os.Exit(exitConfigError)
	}

	primary, err := kafka.NewConsumer[streams.KafkaPayload](kafka.ConsumerConfig{
		BootstrapServers:     cfg.bootstrapServers,
		ConsumerGroup:        cfg.consumerGroup,
		AutoOffsetReset:      cfg.autoOffsetReset,
		EnableEndOfPartition: true,
		Logger:               log,
	}, streams.PassthroughCodec{})
	if err != nil {
		log.Error("constructing primary consumer", zap.Error(err))
		os.Exit(exitFatalConsumer)
	}

	commitLogConsumer, err := kafka.NewConsumer[commitlog.Commit](kafka.ConsumerConfig{
		BootstrapServers:     cfg.bootstrapServers,
		ConsumerGroup:        fmt.Sprintf("%s-commit-log-%s", cfg.consumerGroup, uuid.New()),
		AutoOffsetReset:      "earliest",
		EnableEndOfPartition: false,
		Logger:               log,
	}, commitlog.Codec{})
	if err != nil {
		log.Error("constructing commit-log consumer", zap.Error(err))
		os.Exit(exitFatalConsumer)
	}

	syncConsumer := synchronized.New[streams.KafkaPayload](primary, commitLogConsumer, cfg.requiredGroups, log)
	tickConsumer := tick.New(syncConsumer)

	resultProducer, err := kafka.NewProducer[subscriptions.SubscriptionResult](kafka.ProducerConfig{
		BootstrapServers: cfg.bootstrapServers,
		Partitioner:      "consistent",
		Logger:           log,
	}, subscriptions.ResultCodec{})
	if err != nil {
		log.Error("constructing result producer", zap.Error(err))
		os.Exit(exitFatalConsumer)
	}

	store := subscriptions.NewMemoryStore()
	scheduler := subscriptions.NewScheduler(store, cfg.scheduleTTL)
	executor := subscriptions.NewExecutor(noopQuerier{log: log}, cfg.maxQueryWorkers, cfg.queryTimeout)
	worker := subscriptions.NewWorker(scheduler, executor, resultProducer, streams.Topic{Name: cfg.resultTopic}, nil, log)

	bc := batching.New(tickConsumer, []string{cfg.dataTopic}, worker, batching.Config{
		MaxBatchSize:  cfg.maxBatchSize,
		MaxBatchTime:  cfg.maxBatchTime,
		PollTimeout:   cfg.pollTimeout,
		ConsumerGroup: cfg.consumerGroup,
	}, nil, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown requested")
		bc.SignalShutdown()
	}()

	if err := bc.Run(context.Background()); err != nil {
		log.Error("fatal consumer error", zap.Error(err))
		_ = resultProducer.Close(context.Background())
		os.Exit(exitFatalConsumer)
	}
	_ = resultProducer.Close(context.Background())
	os.Exit(exitOK)
}
