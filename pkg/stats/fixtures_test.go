package stats

import (
	"sync"
	"time"

	"github.com/atlassian/nodedispatch"
)

type recordedMetric struct {
	kind  string
	name  string
	value float64
	tags  nodedispatch.Tags
}

// recordingStatser records everything sent to it.
type recordingStatser struct {
	mu      sync.Mutex
	metrics []recordedMetric
}

func (rs *recordingStatser) record(kind, name string, value float64, tags nodedispatch.Tags) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.metrics = append(rs.metrics, recordedMetric{kind: kind, name: name, value: value, tags: tags})
}

func (rs *recordingStatser) Gauge(name string, value float64, tags nodedispatch.Tags) {
	rs.record("gauge", name, value, tags)
}

func (rs *recordingStatser) Count(name string, amount float64, tags nodedispatch.Tags) {
	rs.record("count", name, amount, tags)
}

func (rs *recordingStatser) Increment(name string, tags nodedispatch.Tags) {
	rs.record("count", name, 1, tags)
}

func (rs *recordingStatser) TimingDuration(name string, d time.Duration, tags nodedispatch.Tags) {
	rs.record("timing", name, float64(d), tags)
}

func (rs *recordingStatser) NewTimer(name string, tags nodedispatch.Tags) *Timer {
	return newTimer(rs, name, tags)
}

func (rs *recordingStatser) WithTags(tags nodedispatch.Tags) Statser {
	return NewTaggedStatser(rs, tags)
}
