package fixtures

import (
	"sync"
	"time"

	"github.com/atlassian/nodedispatch"
	"github.com/atlassian/nodedispatch/pkg/stats"
)

// RecordingStatser is a stats.Statser which sums every Count and Increment by name,
// keeps the last Gauge by name, and keeps every TimingDuration by name.  Tags are
// ignored.  Timers created from it are not recorded.
type RecordingStatser struct {
	mu      sync.Mutex
	counts  map[string]float64
	gauges  map[string]float64
	timings map[string][]time.Duration
}

var _ stats.Statser = (*RecordingStatser)(nil)

func NewRecordingStatser() *RecordingStatser {
	return &RecordingStatser{
		counts:  map[string]float64{},
		gauges:  map[string]float64{},
		timings: map[string][]time.Duration{},
	}
}

func (rs *RecordingStatser) Gauge(name string, value float64, tags nodedispatch.Tags) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.gauges[name] = value
}

func (rs *RecordingStatser) Count(name string, amount float64, tags nodedispatch.Tags) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.counts[name] += amount
}

func (rs *RecordingStatser) Increment(name string, tags nodedispatch.Tags) {
	rs.Count(name, 1, tags)
}

func (rs *RecordingStatser) TimingDuration(name string, d time.Duration, tags nodedispatch.Tags) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.timings[name] = append(rs.timings[name], d)
}

func (rs *RecordingStatser) NewTimer(name string, tags nodedispatch.Tags) *stats.Timer {
	return stats.NewNullStatser().NewTimer(name, tags)
}

func (rs *RecordingStatser) WithTags(tags nodedispatch.Tags) stats.Statser {
	return rs
}

// CountOf returns the sum of everything counted under name.
func (rs *RecordingStatser) CountOf(name string) float64 {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.counts[name]
}

// GaugeOf returns the last value of the gauge name.
func (rs *RecordingStatser) GaugeOf(name string) float64 {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.gauges[name]
}

// TimingsOf returns a copy of every timing recorded under name.
func (rs *RecordingStatser) TimingsOf(name string) []time.Duration {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]time.Duration(nil), rs.timings[name]...)
}
