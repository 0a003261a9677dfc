package stats

import (
	"time"

	"github.com/atlassian/nodedispatch"
)

// TaggedStatser adds tags and submits metrics to another Statser
type TaggedStatser struct {
	statser Statser
	tags    nodedispatch.Tags
}

// NewTaggedStatser creates a new Statser which adds the tags to every metric
func NewTaggedStatser(statser Statser, tags nodedispatch.Tags) Statser {
	if len(tags) == 0 {
		return statser
	}
	return &TaggedStatser{
		statser: statser,
		tags:    tags,
	}
}

// Gauge sends a gauge metric
func (ts *TaggedStatser) Gauge(name string, value float64, tags nodedispatch.Tags) {
	ts.statser.Gauge(name, value, ts.tags.Concat(tags))
}

// Count sends a counter metric
func (ts *TaggedStatser) Count(name string, amount float64, tags nodedispatch.Tags) {
	ts.statser.Count(name, amount, ts.tags.Concat(tags))
}

// Increment sends a counter metric with a value of 1
func (ts *TaggedStatser) Increment(name string, tags nodedispatch.Tags) {
	ts.statser.Increment(name, ts.tags.Concat(tags))
}

// TimingDuration sends a timing metric from a time.Duration
func (ts *TaggedStatser) TimingDuration(name string, d time.Duration, tags nodedispatch.Tags) {
	ts.statser.TimingDuration(name, d, ts.tags.Concat(tags))
}

// NewTimer returns a new timer with time set to now
func (ts *TaggedStatser) NewTimer(name string, tags nodedispatch.Tags) *Timer {
	return newTimer(ts, name, tags)
}

// WithTags creates a new Statser with additional tags
func (ts *TaggedStatser) WithTags(tags nodedispatch.Tags) Statser {
	return NewTaggedStatser(ts, tags)
}
