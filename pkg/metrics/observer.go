// Package metrics records coarse session timings: turn round-trips,
// recording lengths, playback starts. Sinks are pluggable; the default is a
// no-op.
package metrics

import "time"

// Event is one recorded measurement.
type Event struct {
	Name  string
	Time  time.Time
	Value float64
	Tags  map[string]string
}

// Observer receives events. Implementations must be safe for concurrent use.
type Observer interface {
	RecordEvent(ev Event)
}

// NoopObserver discards everything.
type NoopObserver struct{}

func (NoopObserver) RecordEvent(Event) {}

// Timing builds a duration event with millisecond resolution.
func Timing(name string, d time.Duration, tags map[string]string) Event {
	return Event{Name: name, Time: time.Now(), Value: float64(d.Milliseconds()), Tags: tags}
}

// Count builds a counter-increment event.
func Count(name string, tags map[string]string) Event {
	return Event{Name: name, Time: time.Now(), Value: 1, Tags: tags}
}
