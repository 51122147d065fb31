package recorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	devmock "github.com/That909kk/femobile-sub005/pkg/devices/mock"
)

type captureSink struct {
	mu   sync.Mutex
	subs []Submission
}

func (c *captureSink) OnSubmit(sub Submission) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, sub)
}

func (c *captureSink) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

func (c *captureSink) Last() Submission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[len(c.subs)-1]
}

func newTestController(device *devmock.Device, cfg Config) (*Controller, *captureSink) {
	sink := &captureSink{}
	return NewController(device, cfg, sink.OnSubmit, nil), sink
}

func TestUserStopBeforeMinIsDeferred(t *testing.T) {
	device := devmock.New(devmock.Config{ClipPayload: []byte("pcm")})
	c, sink := newTestController(device, Config{MinDuration: 80 * time.Millisecond, MaxDuration: time.Second})

	if err := c.RequestStart(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	c.RequestStop(StopUserInitiated)
	if sink.Count() != 0 {
		t.Fatalf("stop executed before min duration")
	}
	if !c.Active() {
		t.Fatalf("session gone before min duration")
	}

	deadline := time.After(500 * time.Millisecond)
	for sink.Count() == 0 {
		select {
		case <-deadline:
			t.Fatalf("deferred stop never executed")
		case <-time.After(5 * time.Millisecond):
		}
	}
	sub := sink.Last()
	if sub.Err != nil {
		t.Fatalf("submission error: %v", sub.Err)
	}
	if sub.AutoStopped {
		t.Fatalf("user stop reported as auto")
	}
	if sub.Clip.DurationMs < 75 {
		t.Fatalf("stop executed before min duration: %dms", sub.Clip.DurationMs)
	}
}

func TestCapReachedAutoStops(t *testing.T) {
	device := devmock.New(devmock.Config{ClipPayload: []byte("pcm")})
	c, sink := newTestController(device, Config{MinDuration: 10 * time.Millisecond, MaxDuration: 60 * time.Millisecond})

	if err := c.RequestStart(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	deadline := time.After(500 * time.Millisecond)
	for sink.Count() == 0 {
		select {
		case <-deadline:
			t.Fatalf("cap never fired")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if !sink.Last().AutoStopped {
		t.Fatalf("cap stop not reported as auto")
	}
	if c.Active() {
		t.Fatalf("session still live after cap")
	}
}

func TestRapidStartStopLeavesNoHandles(t *testing.T) {
	device := devmock.New(devmock.Config{ClipPayload: []byte("pcm")})
	c, _ := newTestController(device, Config{MinDuration: time.Millisecond, MaxDuration: time.Second})

	for i := 0; i < 5; i++ {
		if err := c.RequestStart(context.Background()); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		if err := c.RequestStart(context.Background()); !errors.Is(err, ErrBusy) {
			t.Fatalf("overlapping start not rejected: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
		c.RequestStop(StopUserInitiated)
		c.RequestStop(StopUserInitiated) // double-tap race: no-op
		time.Sleep(20 * time.Millisecond)
	}

	starts, releases, _ := device.Counts()
	if starts != 5 {
		t.Fatalf("expected 5 starts, got %d", starts)
	}
	if releases != starts {
		t.Fatalf("handle leak: %d starts, %d releases", starts, releases)
	}
	if device.RecordingLive() {
		t.Fatalf("device still recording")
	}
}

func TestStopWithNoSessionIsNoop(t *testing.T) {
	device := devmock.New(devmock.Config{})
	c, sink := newTestController(device, Config{})
	c.RequestStop(StopUserInitiated)
	if sink.Count() != 0 {
		t.Fatalf("no-op stop produced a submission")
	}
}

func TestGateRejectsStart(t *testing.T) {
	device := devmock.New(devmock.Config{})
	c, _ := newTestController(device, Config{})
	c.SetGate(func() bool { return false })
	if err := c.RequestStart(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if starts, _, _ := device.Counts(); starts != 0 {
		t.Fatalf("device touched despite gate")
	}
}

func TestStopFailureStillReleasesHandle(t *testing.T) {
	device := devmock.New(devmock.Config{StopErr: errors.New("device busy")})
	c, sink := newTestController(device, Config{MinDuration: time.Millisecond, MaxDuration: time.Second})

	if err := c.RequestStart(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	c.RequestStop(StopUserInitiated)

	deadline := time.After(500 * time.Millisecond)
	for sink.Count() == 0 {
		select {
		case <-deadline:
			t.Fatalf("submission never delivered")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if sink.Last().Err == nil {
		t.Fatalf("expected submission error")
	}
	if c.Active() {
		t.Fatalf("stuck recording state after stop failure")
	}
	// Next attempt recovers: forced cleanup releases the stray handle first.
	if err := c.RequestStart(context.Background()); err != nil {
		t.Fatalf("restart after failure: %v", err)
	}
	c.ForceRelease()
}

func TestForceReleaseWithoutSubmission(t *testing.T) {
	device := devmock.New(devmock.Config{ClipPayload: []byte("pcm")})
	c, sink := newTestController(device, Config{MinDuration: time.Millisecond, MaxDuration: time.Second})

	if err := c.RequestStart(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	c.ForceRelease()
	time.Sleep(20 * time.Millisecond)
	if sink.Count() != 0 {
		t.Fatalf("forced teardown produced a submission")
	}
	if device.RecordingLive() {
		t.Fatalf("handle not released")
	}
	starts, releases, _ := device.Counts()
	if releases != starts {
		t.Fatalf("handle leak under forced teardown: %d/%d", starts, releases)
	}
}

func TestSilencePolicyAutoStops(t *testing.T) {
	device := devmock.New(devmock.Config{ClipPayload: []byte("pcm")})
	c, sink := newTestController(device, Config{
		MinDuration:    time.Millisecond,
		MaxDuration:    time.Second,
		StopPolicy:     PolicySilenceTimeout,
		SilenceTimeout: 40 * time.Millisecond,
	})

	if err := c.RequestStart(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	c.Poke() // activity extends the window
	deadline := time.After(500 * time.Millisecond)
	for sink.Count() == 0 {
		select {
		case <-deadline:
			t.Fatalf("silence stop never fired")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if !sink.Last().AutoStopped {
		t.Fatalf("silence stop not reported as auto")
	}
}
