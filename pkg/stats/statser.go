package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/tilinna/clock"

	"github.com/atlassian/nodedispatch"
)

// Statser is the interface for sending internal metrics
type Statser interface {
	Gauge(name string, value float64, tags nodedispatch.Tags)
	Count(name string, amount float64, tags nodedispatch.Tags)
	Increment(name string, tags nodedispatch.Tags)
	TimingDuration(name string, d time.Duration, tags nodedispatch.Tags)
	NewTimer(name string, tags nodedispatch.Tags) *Timer
	WithTags(tags nodedispatch.Tags) Statser
}

// NewStatser creates the Statser named by statserType.  The registerer is only
// used by the prometheus statser.
func NewStatser(
	statserType string,
	logger logrus.FieldLogger,
	namespace string,
	tags nodedispatch.Tags,
	registerer prometheus.Registerer,
) (Statser, error) {
	var statser Statser
	switch statserType {
	case nodedispatch.StatserNull:
		statser = NewNullStatser()
	case nodedispatch.StatserLogging:
		statser = NewLoggingStatser(tags, logger)
	case nodedispatch.StatserPrometheus:
		statser = NewPrometheusStatser(logger, registerer, namespace, tags)
	default:
		return nil, fmt.Errorf("unknown statser type %q", statserType)
	}
	return statser, nil
}

type statserKey int

const statserContextKey = statserKey(0)

var nullStatser = NewNullStatser()

// NewContext attaches a Statser to a Context
func NewContext(ctx context.Context, statser Statser) context.Context {
	return context.WithValue(ctx, statserContextKey, statser)
}

// FromContext returns a Statser from a Context.  Always succeeds, will return a NullStatser if there is no
// statser present.
func FromContext(ctx context.Context) Statser {
	if statser, ok := ctx.Value(statserContextKey).(Statser); ok {
		return statser
	}
	return nullStatser
}

// Timer times a single operation, and reports it to the Statser it was created from.
type Timer struct {
	statser Statser
	clck    clock.Clock
	name    string
	tags    nodedispatch.Tags
	start   time.Time
	stopped bool
}

func newTimer(statser Statser, name string, tags nodedispatch.Tags) *Timer {
	return newTimerWithClock(statser, clock.FromContext(context.Background()), name, tags)
}

func newTimerWithClock(statser Statser, clck clock.Clock, name string, tags nodedispatch.Tags) *Timer {
	return &Timer{
		statser: statser,
		clck:    clck,
		name:    name,
		tags:    tags,
		start:   clck.Now(),
	}
}

// Stop reports the elapsed time since the timer was created.  Only the first
// call has any effect.
func (t *Timer) Stop() {
	t.SendWithTags(nil)
}

// SendWithTags stops the timer and reports it with the additional tags.
func (t *Timer) SendWithTags(tags nodedispatch.Tags) {
	if t.stopped {
		return
	}
	t.stopped = true
	t.statser.TimingDuration(t.name, t.clck.Now().Sub(t.start), t.tags.Concat(tags))
}
