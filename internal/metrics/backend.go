// Package metrics provides the narrow metrics surface every component in
// this module depends on, mirroring snuba's own MetricsBackend/
// MetricsWrapper split (original_source/snuba/replacer.py calls
// self.metrics.timing(...) against exactly this kind of interface) and
// zilehuda-kafka-client's use of tally.Scope.
package metrics

import (
	"time"

	"github.com/uber-go/tally/v4"
)

// Backend is the only metrics surface components are allowed to depend on.
// It is intentionally narrower than tally.Scope so call sites stay mockable
// without pulling in tally in tests.
type Backend interface {
	Count(name string, value int64, tags map[string]string)
	Gauge(name string, value float64, tags map[string]string)
	Timing(name string, d time.Duration, tags map[string]string)
}

// TallyBackend adapts a tally.Scope to Backend.
type TallyBackend struct {
	Scope tally.Scope
}

// NewTallyBackend wraps scope, tagging every metric name with the given
// base tags (e.g. {"group": consumerGroup, "dataset": datasetName}).
func NewTallyBackend(scope tally.Scope, tags map[string]string) *TallyBackend {
	if len(tags) > 0 {
		scope = scope.Tagged(tags)
	}
	return &TallyBackend{Scope: scope}
}

func (b *TallyBackend) scoped(tags map[string]string) tally.Scope {
	if len(tags) == 0 {
		return b.Scope
	}
	return b.Scope.Tagged(tags)
}

func (b *TallyBackend) Count(name string, value int64, tags map[string]string) {
	b.scoped(tags).Counter(name).Inc(value)
}

func (b *TallyBackend) Gauge(name string, value float64, tags map[string]string) {
	b.scoped(tags).Gauge(name).Update(value)
}

func (b *TallyBackend) Timing(name string, d time.Duration, tags map[string]string) {
	b.scoped(tags).Timer(name).Record(d)
}

// Noop discards every metric; useful for tests and for components
// constructed without an operator-supplied backend.
type Noop struct{}

func (Noop) Count(string, int64, map[string]string)        {}
func (Noop) Gauge(string, float64, map[string]string)      {}
func (Noop) Timing(string, time.Duration, map[string]string) {}
