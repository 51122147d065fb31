package recorder

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/That909kk/femobile-sub005/pkg/booking"
	"github.com/That909kk/femobile-sub005/pkg/devices"
	"github.com/That909kk/femobile-sub005/pkg/errorsx"
)

// StopReason distinguishes who ended a recording.
type StopReason int

const (
	StopUserInitiated StopReason = iota
	StopCapReached
	StopSilence
)

// Policy selects how a recording ends.
type Policy string

const (
	// PolicyPushToStop ends on user tap, bounded by the max duration cap.
	PolicyPushToStop Policy = "push_to_stop"
	// PolicySilenceTimeout additionally auto-stops after a fixed quiet window.
	// This is a timer approximation, not real voice-activity detection; Poke
	// resets the window.
	PolicySilenceTimeout Policy = "silence_timeout"
)

// Config controls one controller's duration policy.
type Config struct {
	MinDuration    time.Duration
	MaxDuration    time.Duration
	StopPolicy     Policy
	SilenceTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinDuration <= 0 {
		c.MinDuration = 2 * time.Second
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = 60 * time.Second
	}
	if c.StopPolicy == "" {
		c.StopPolicy = PolicyPushToStop
	}
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = 8 * time.Second
	}
	return c
}

// Submission is the exactly-once handoff of a finished recording attempt.
type Submission struct {
	Clip        booking.Clip
	AutoStopped bool
	Err         error
}

// ErrBusy is returned when a start request is rejected because another
// recording or an unresolved server round-trip is underway.
var ErrBusy = errors.New("recording start rejected")

type liveSession struct {
	handle       devices.RecordingHandle
	startedAt    time.Time
	minSatisfied bool
	stopPending  bool
	pendingWhy   StopReason
	done         bool
	minTimer     *time.Timer
	capTimer     *time.Timer
	silenceTimer *time.Timer
}

// Controller owns the lifecycle of a single recording attempt: preparation,
// duration enforcement, forced cleanup of stray prior sessions, and the
// handoff of the captured clip.
type Controller struct {
	device   devices.AudioDevice
	cfg      Config
	logger   *slog.Logger
	onSubmit func(Submission)

	mu       sync.Mutex
	live     *liveSession
	stray    devices.RecordingHandle
	starting bool
	gate     func() bool
}

// NewController creates a controller. onSubmit receives every finished
// attempt, after the device handle has already been released.
func NewController(device devices.AudioDevice, cfg Config, onSubmit func(Submission), logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		device:   device,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		onSubmit: onSubmit,
	}
}

// SetGate installs a predicate consulted before starting; a false result
// rejects the start (used to block starts while a turn is awaiting the
// server).
func (c *Controller) SetGate(gate func() bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gate = gate
}

// Active reports whether a recording session is live.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live != nil
}

// RequestStart begins a new recording attempt. A stray handle from an
// interrupted prior attempt is released first, irrespective of its reported
// state; device races during that cleanup are expected and swallowed.
func (c *Controller) RequestStart(ctx context.Context) error {
	c.mu.Lock()
	if c.starting || c.live != nil {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.gate != nil && !c.gate() {
		c.mu.Unlock()
		return ErrBusy
	}
	c.starting = true
	stray := c.stray
	c.stray = nil
	c.mu.Unlock()

	if stray != nil {
		if err := c.device.Release(stray); err != nil {
			c.logger.Debug("stray_handle_release_ignored", slog.String("error", err.Error()))
		}
	}

	handle, err := c.device.StartRecording(ctx)
	if err != nil {
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
		c.logger.Warn("recording_start_failed", slog.String("error", err.Error()))
		return errorsx.Wrap(err, errorsx.ReasonDeviceStart)
	}

	c.mu.Lock()
	s := &liveSession{handle: handle, startedAt: time.Now()}
	s.minTimer = time.AfterFunc(c.cfg.MinDuration, func() { c.onMinElapsed(s) })
	s.capTimer = time.AfterFunc(c.cfg.MaxDuration, func() { c.stop(s, StopCapReached) })
	if c.cfg.StopPolicy == PolicySilenceTimeout {
		s.silenceTimer = time.AfterFunc(c.cfg.SilenceTimeout, func() { c.stop(s, StopSilence) })
	}
	c.live = s
	c.starting = false
	c.mu.Unlock()

	c.logger.Info("recording_started",
		slog.String("handle", handle.ID()),
		slog.String("policy", string(c.cfg.StopPolicy)))
	return nil
}

// RequestStop ends the live recording. A user-initiated stop before the
// minimum duration is buffered and executed the instant the minimum elapses,
// not dropped. With no live session this is a no-op.
func (c *Controller) RequestStop(reason StopReason) {
	c.mu.Lock()
	s := c.live
	if s == nil || s.done {
		c.mu.Unlock()
		return
	}
	if reason == StopUserInitiated && !s.minSatisfied {
		s.stopPending = true
		s.pendingWhy = reason
		c.mu.Unlock()
		c.logger.Debug("stop_deferred_until_min_duration")
		return
	}
	c.mu.Unlock()
	c.stop(s, reason)
}

// Poke resets the silence window under the silence-timeout policy. Callers
// invoke it on any sign of continued user activity.
func (c *Controller) Poke() {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.live
	if s == nil || s.done || s.silenceTimer == nil {
		return
	}
	s.silenceTimer.Reset(c.cfg.SilenceTimeout)
}

// Elapsed returns the live recording's duration, or zero.
func (c *Controller) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live == nil {
		return 0
	}
	return time.Since(c.live.startedAt)
}

func (c *Controller) onMinElapsed(s *liveSession) {
	c.mu.Lock()
	if c.live != s || s.done {
		c.mu.Unlock()
		return
	}
	s.minSatisfied = true
	pending := s.stopPending
	why := s.pendingWhy
	c.mu.Unlock()
	if pending {
		c.stop(s, why)
	}
}

// stop tears the session down exactly once: timers canceled and the device
// handle released before any submission is attempted, so a submission failure
// can never leave a stuck recording state behind.
func (c *Controller) stop(s *liveSession, reason StopReason) {
	c.mu.Lock()
	if c.live != s || s.done {
		c.mu.Unlock()
		return
	}
	s.done = true
	c.live = nil
	s.minTimer.Stop()
	s.capTimer.Stop()
	if s.silenceTimer != nil {
		s.silenceTimer.Stop()
	}
	handle := s.handle
	c.mu.Unlock()

	clip, err := c.device.StopRecording(handle)
	if err != nil {
		if relErr := c.device.Release(handle); relErr != nil {
			c.logger.Debug("handle_release_ignored", slog.String("error", relErr.Error()))
		}
		// Remember the handle so the next start re-releases it before the
		// device is touched again.
		c.mu.Lock()
		c.stray = handle
		c.mu.Unlock()
		c.logger.Warn("recording_stop_failed", slog.String("error", err.Error()))
		c.deliver(Submission{Err: errorsx.Wrap(err, errorsx.ReasonDeviceStop)})
		return
	}

	auto := reason != StopUserInitiated
	c.logger.Info("recording_stopped",
		slog.Int64("duration_ms", clip.DurationMs),
		slog.Bool("auto", auto))
	c.deliver(Submission{Clip: clip, AutoStopped: auto})
}

func (c *Controller) deliver(sub Submission) {
	if c.onSubmit != nil {
		c.onSubmit(sub)
	}
}

// ForceRelease unconditionally tears down any live session without a
// submission. Cleanup errors are swallowed; used on session exit.
func (c *Controller) ForceRelease() {
	c.mu.Lock()
	s := c.live
	c.live = nil
	stray := c.stray
	c.stray = nil
	c.mu.Unlock()

	if s != nil && !s.done {
		s.done = true
		s.minTimer.Stop()
		s.capTimer.Stop()
		if s.silenceTimer != nil {
			s.silenceTimer.Stop()
		}
		if err := c.device.Release(s.handle); err != nil {
			c.logger.Debug("forced_release_ignored", slog.String("error", err.Error()))
		}
	}
	if stray != nil {
		if err := c.device.Release(stray); err != nil {
			c.logger.Debug("forced_release_ignored", slog.String("error", err.Error()))
		}
	}
}
