// Command ingestconsumer runs the batching ingest consumer: it polls the
// configured data topic, writes batches to the column store, and
// publishes a commit-log record after every successful offset commit.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ruezetle/snuba/internal/appconfig"
	"github.com/ruezetle/snuba/internal/batching"
	"github.com/ruezetle/snuba/internal/commitlog"
	"github.com/ruezetle/snuba/internal/ingest"
	"github.com/ruezetle/snuba/internal/streams"
	"github.com/ruezetle/snuba/internal/streams/kafka"
)

// exit codes per spec.md §6.
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
	commitLogTopic   string
	maxBatchSize     int
	maxBatchTime     time.Duration
	pollTimeout      time.Duration
}

func loadConfig() (config, error) {
	var cfg config
	cfg.bootstrapServers = appconfig.StringList("SNUBA_BOOTSTRAP_SERVERS", []string{"localhost:9092"})
	cfg.topic = appconfig.String("SNUBA_INGEST_TOPIC", "events")
	cfg.consumerGroup = appconfig.String("SNUBA_CONSUMER_GROUP", "ingest-consumer")
	cfg.autoOffsetReset = appconfig.String("SNUBA_AUTO_OFFSET_RESET", "error")
	cfg.commitLogTopic = appconfig.String("SNUBA_COMMIT_LOG_TOPIC", commitlog.DefaultTopic)

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

// jsonRowProcessor is a placeholder Processor: it accepts any
// JSON-decodable payload as a single row verbatim. Real dataset schemas
// and query planners are external collaborators out of scope for this
// module (spec.md §1).
type jsonRowProcessor struct{}

func (jsonRowProcessor) ProcessMessage(payload streams.KafkaPayload) (ingest.Row, bool, error) {
	if !json.Valid(payload.Value) {
		return nil, false, fmt.Errorf("payload is not valid JSON")
	}
	return payload.Value, true, nil
}

// logOnlyWriter is a ColumnWriter placeholder that logs what it would have
// written; a real deployment supplies a column-store client here.
type logOnlyWriter struct{ log *zap.Logger }

func (w logOnlyWriter) WriteRows(ctx context.Context, rows []ingest.Row) error {
	w.log.Debug("would write rows", zap.Int("count", len(rows)))
	return nil
}

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg, err := loadConfig()
	if err != nil {
		log.Error("configuration error", zap.Error(err))
		os.Exit(exitConfigError)
	}

	consumerCfg := kafka.ConsumerConfig{
		BootstrapServers:     cfg.bootstrapServers,
		ConsumerGroup:        cfg.consumerGroup,
		AutoOffsetReset:      cfg.autoOffsetReset,
		EnableEndOfPartition: true,
		Logger:               log,
	}
	consumer, err := kafka.NewConsumer[streams.KafkaPayload](consumerCfg, streams.PassthroughCodec{})
	if err != nil {
		log.Error("constructing consumer", zap.Error(err))
		os.Exit(exitFatalConsumer)
	}

	commitProducer, err := kafka.NewProducer[commitlog.Commit](kafka.ProducerConfig{
		BootstrapServers: cfg.bootstrapServers,
		Logger:           log,
	}, commitlog.Codec{})
	if err != nil {
		log.Error("constructing commit-log producer", zap.Error(err))
		os.Exit(exitFatalConsumer)
	}
	clProducer := commitlog.NewProducer(streams.Topic{Name: cfg.commitLogTopic}, commitProducer)

	worker := ingest.NewWorker(jsonRowProcessor{}, logOnlyWriter{log: log}, nil, log)
	bc := batching.New[streams.KafkaPayload, ingest.Row](consumer, []string{cfg.topic}, worker, batching.Config{
		MaxBatchSize:  cfg.maxBatchSize,
		MaxBatchTime:  cfg.maxBatchTime,
		PollTimeout:   cfg.pollTimeout,
		ConsumerGroup: cfg.consumerGroup,
	}, nil, log)

	bc.OnCommit = func(ctx context.Context, committed map[streams.Partition]uint64) {
		if err := clProducer.PublishCommits(ctx, cfg.consumerGroup, committed); err != nil {
			log.Error("publishing commit-log records", zap.Error(err))
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown requested")
		bc.SignalShutdown()
	}()

	if err := bc.Run(context.Background()); err != nil {
		log.Error("fatal consumer error", zap.Error(err))
		_ = commitProducer.Close(context.Background())
		os.Exit(exitFatalConsumer)
	}
	_ = commitProducer.Close(context.Background())
	os.Exit(exitOK)
}
