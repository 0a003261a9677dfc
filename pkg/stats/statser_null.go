package stats

import (
	"time"

	"github.com/atlassian/nodedispatch"
)

// NullStatser is a null implementation of Statser
type NullStatser struct{}

// NewNullStatser creates a new NullStatser
func NewNullStatser() Statser {
	return &NullStatser{}
}

// Gauge does nothing
func (ns *NullStatser) Gauge(name string, value float64, tags nodedispatch.Tags) {}

// Count does nothing
func (ns *NullStatser) Count(name string, amount float64, tags nodedispatch.Tags) {}

// Increment does nothing
func (ns *NullStatser) Increment(name string, tags nodedispatch.Tags) {}

// TimingDuration does nothing
func (ns *NullStatser) TimingDuration(name string, d time.Duration, tags nodedispatch.Tags) {}

// NewTimer returns a new timer with time set to now
func (ns *NullStatser) NewTimer(name string, tags nodedispatch.Tags) *Timer {
	return newTimer(ns, name, tags)
}

// WithTags returns the NullStatser, there is nothing to tag
func (ns *NullStatser) WithTags(tags nodedispatch.Tags) Statser {
	return ns
}
