package stats

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/atlassian/nodedispatch"
)

// LoggingStatser is a Statser which emits logs
type LoggingStatser struct {
	tags   nodedispatch.Tags
	logger logrus.FieldLogger
}

// NewLoggingStatser creates a new Statser which sends metrics to the
// supplied logger.
func NewLoggingStatser(tags nodedispatch.Tags, logger logrus.FieldLogger) Statser {
	return &LoggingStatser{
		tags:   tags,
		logger: logger,
	}
}

// Gauge sends a gauge metric
func (ls *LoggingStatser) Gauge(name string, value float64, tags nodedispatch.Tags) {
	ls.logger.WithFields(logrus.Fields{
		"name":  name,
		"tags":  ls.tags.Concat(tags),
		"value": value,
	}).Infof("gauge")
}

// Count sends a counter metric
func (ls *LoggingStatser) Count(name string, amount float64, tags nodedispatch.Tags) {
	ls.logger.WithFields(logrus.Fields{
		"name":   name,
		"tags":   ls.tags.Concat(tags),
		"amount": amount,
	}).Infof("count")
}

// Increment sends a counter metric with a value of 1
func (ls *LoggingStatser) Increment(name string, tags nodedispatch.Tags) {
	ls.logger.WithFields(logrus.Fields{
		"name": name,
		"tags": ls.tags.Concat(tags),
	}).Infof("increment")
}

// TimingDuration sends a timing metric from a time.Duration
func (ls *LoggingStatser) TimingDuration(name string, d time.Duration, tags nodedispatch.Tags) {
	ls.logger.WithFields(logrus.Fields{
		"name": name,
		"tags": ls.tags.Concat(tags),
		"ms":   float64(d) / float64(time.Millisecond),
	}).Infof("timing")
}

// NewTimer returns a new timer with time set to now
func (ls *LoggingStatser) NewTimer(name string, tags nodedispatch.Tags) *Timer {
	return newTimer(ls, name, tags)
}

// WithTags creates a new Statser with additional tags
func (ls *LoggingStatser) WithTags(tags nodedispatch.Tags) Statser {
	return NewTaggedStatser(ls, tags)
}
