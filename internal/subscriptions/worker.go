package subscriptions

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ruezetle/snuba/internal/batching"
	"github.com/ruezetle/snuba/internal/metrics"
	"github.com/ruezetle/snuba/internal/streams"
	"github.com/ruezetle/snuba/internal/tick"
)

// Worker implements batching.Worker[tick.Tick, dispatched] (spec C8): for
// every tick it asks the Scheduler which subscriptions are due and
// dispatches each through the Executor; FlushBatch awaits the outcomes and
// produces the results. A single query's failure never aborts the batch
// (spec.md §4.7: "Failures in a single subscription evaluation must not
// abort the batch").
type Worker struct {
	scheduler *Scheduler
	executor  *Executor
	producer  streams.Producer[SubscriptionResult]
	resultTop streams.Topic
	metrics   metrics.Backend
	log       *zap.Logger
}

// NewWorker constructs a subscriptions Worker.
func NewWorker(scheduler *Scheduler, executor *Executor, producer streams.Producer[SubscriptionResult], resultTopic streams.Topic, m metrics.Backend, log *zap.Logger) *Worker {
	if m == nil {
		m = metrics.Noop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{scheduler: scheduler, executor: executor, producer: producer, resultTop: resultTopic, metrics: m, log: log}
}

// dispatched holds one tick's in-flight query outcomes, one channel per
// due subscription, submitted to the Executor from ProcessMessage and
// awaited in FlushBatch.
type dispatched struct {
	partition streams.Partition
	outcomes  []<-chan QueryOutcome
}

// requestSummary renders the query request a subscription was evaluated
// with (spec.md §3's SubscriptionResult.request field). The query itself
// is built and executed by the column-store query layer (out of scope,
// spec.md §1); this is the request description the worker can construct
// from what it already knows about the subscription.
func requestSummary(s Subscription) string {
	return fmt.Sprintf("conditions=%s aggregations=%s window=%s", s.Conditions, s.Aggregations, s.TimeWindow)
}

func (w *Worker) ProcessMessage(msg streams.Message[tick.Tick]) (dispatched, bool, error) {
	t := msg.Payload
	tasks, err := w.scheduler.ScheduleTick(context.Background(), t.Partition.Index, t.Timestamps)
	if err != nil {
		return dispatched{}, false, err
	}
	if len(tasks) == 0 {
		return dispatched{}, false, nil
	}

	outcomes := make([]<-chan QueryOutcome, 0, len(tasks))
	for _, task := range tasks {
		outcomes = append(outcomes, w.executor.Submit(context.Background(), task))
	}
	return dispatched{partition: t.Partition, outcomes: outcomes}, true, nil
}

func (w *Worker) FlushBatch(batch []batching.BatchItem[dispatched]) error {
	for _, item := range batch {
		d := item.Value
		for _, ch := range d.outcomes {
			outcome := <-ch
			if outcome.Err != nil {
				w.log.Warn("subscription evaluation failed",
					zap.String("subscription_id", outcome.Task.Subscription.ID.String()),
					zap.Error(outcome.Err))
				w.metrics.Count("subscriptions.query_error", 1, nil)
				continue
			}
			result := SubscriptionResult{
				SubscriptionID: outcome.Task.Subscription.ID,
				Partition:      d.partition,
				TickUpper:      outcome.Task.Timestamp,
				Request:        requestSummary(outcome.Task.Subscription),
				Result:         outcome.Result,
			}
			future := w.producer.Produce(context.Background(), streams.ToTopic(w.resultTop), result)
			if _, err := future.Result(context.Background()); err != nil {
				w.log.Warn("producing subscription result failed", zap.Error(err))
				w.metrics.Count("subscriptions.produce_error", 1, nil)
			}
		}
	}
	return nil
}
