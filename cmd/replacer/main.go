// Command replacer runs the batching consumer over the replacements topic,
// applying each replacement sequentially against the column store.
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ruezetle/snuba/internal/appconfig"
	"github.com/ruezetle/snuba/internal/batching"
	"github.com/ruezetle/snuba/internal/replacer"
	"github.com/ruezetle/snuba/internal/streams"
	"github.com/ruezetle/snuba/internal/streams/kafka"
)

const (
	exitOK            = 0
	exitFatalConsumer = 1
	exitConfigError   = 2
)

type config struct {
	bootstrapServers []string
	topic            string
	consumerGroup    string
	autoOffsetReset  string
	maxBatchSize     int
	maxBatchTime     time.Duration
	pollTimeout      time.Duration
}

func loadConfig() (config, error) {
	var cfg config
	cfg.bootstrapServers = appconfig.StringList("SNUBA_BOOTSTRAP_SERVERS", []string{"localhost:9092"})
	cfg.topic = appconfig.String("SNUBA_REPLACEMENTS_TOPIC", "event-replacements")
	cfg.consumerGroup = appconfig.String("SNUBA_CONSUMER_GROUP", "replacer")
	cfg.autoOffsetReset = appconfig.String("SNUBA_AUTO_OFFSET_RESET", "error")

	var err error
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

// passthroughProcessor treats the replacement payload as already in the
// shape a column store's replacer processor would return. The real
// per-dataset replacer processor (parsing delete/update semantics into
// query templates) is an external collaborator out of scope for this
// module (spec.md §1).
type passthroughProcessor struct{}

func (passthroughProcessor) ProcessMessage(payload json.RawMessage) (replacer.Replacement, error) {
	var r replacer.Replacement
	if err := json.Unmarshal(payload, &r); err != nil {
		return replacer.Replacement{}, err
	}
	return r, nil
}

func (passthroughProcessor) PreReplacement(ctx context.Context, r replacer.Replacement, count int64) error {
	return nil
}

func (passthroughProcessor) PostReplacement(ctx context.Context, r replacer.Replacement, durationMs int64, count int64) error {
	return nil
}

// logOnlyStore logs the query it would have executed against the column
// store and reports zero rows affected; a real deployment supplies a
// ClickHouse-style client here.
type logOnlyStore struct{ log *zap.Logger }

func (s logOnlyStore) ExecuteRobust(ctx context.Context, query string) (int64, error) {
	s.log.Debug("would execute query", zap.String("query", query))
	return 0, nil
}

type staticTables struct{ read, write string }

func (t staticTables) ReadTableName() string  { return t.read }
func (t staticTables) WriteTableName() string { return t.write }

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg, err := loadConfig()
	if err != nil {
		log.Error("configuration error", zap.Error(err))
		os.Exit(exitConfigError)
	}

	consumer, err := kafka.NewConsumer[streams.KafkaPayload](kafka.ConsumerConfig{
		BootstrapServers:     cfg.bootstrapServers,
		ConsumerGroup:        cfg.consumerGroup,
		AutoOffsetReset:      cfg.autoOffsetReset,
		EnableEndOfPartition: true,
		Logger:               log,
	}, streams.PassthroughCodec{})
	if err != nil {
		log.Error("constructing consumer", zap.Error(err))
		os.Exit(exitFatalConsumer)
	}

	tables := staticTables{read: "events_local", write: "events_dist"}
	worker := replacer.NewWorker(logOnlyStore{log: log}, passthroughProcessor{}, tables, nil, log)

	bc := batching.New[streams.KafkaPayload, replacer.Replacement](consumer, []string{cfg.topic}, worker, batching.Config{
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
		os.Exit(exitFatalConsumer)
	}
	os.Exit(exitOK)
}
