package playback

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/That909kk/femobile-sub005/pkg/booking"
	"github.com/That909kk/femobile-sub005/pkg/devices"
)

type active struct {
	handle    devices.PlaybackHandle
	messageID string
	finish    sync.Once
}

// Sequencer owns audio-reply playback: at most one active clip, idempotent
// already-played tracking per message, and a deferred callback fired exactly
// once after playback finishes.
type Sequencer struct {
	device devices.AudioDevice
	settle time.Duration
	logger *slog.Logger

	mu          sync.Mutex
	played      map[string]struct{}
	current     *active
	deferred    func()
	allow       func() bool
	settleTimer *time.Timer
}

// NewSequencer creates a sequencer. settle is the short delay between
// playback teardown and the deferred callback so a UI transition does not
// collide with audio-device teardown.
func NewSequencer(device devices.AudioDevice, settle time.Duration, logger *slog.Logger) *Sequencer {
	if settle <= 0 {
		settle = 300 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sequencer{
		device: device,
		settle: settle,
		logger: logger,
		played: make(map[string]struct{}),
	}
}

// SetGate installs a predicate consulted before playing; a false result
// skips playback (used to suppress replies once the user is talking again or
// a turn is in flight).
func (s *Sequencer) SetGate(allow func() bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allow = allow
}

// Playing reports whether a clip is currently active.
func (s *Sequencer) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Played reports whether a message's audio has already been played.
func (s *Sequencer) Played(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.played[messageID]
	return ok
}

// MaybePlay plays a message's audio iff it is the latest message, carries an
// audio attachment, has not been played, the gate allows it, and nothing else
// is playing. The message id enters the played-set before playback starts, so
// a rapid repeated invocation can never trigger a duplicate play.
func (s *Sequencer) MaybePlay(ctx context.Context, msg booking.Message, latest bool) bool {
	if !latest || msg.AudioURL == "" {
		return false
	}
	s.mu.Lock()
	if _, done := s.played[msg.ID]; done {
		s.mu.Unlock()
		return false
	}
	if s.current != nil || (s.allow != nil && !s.allow()) {
		s.mu.Unlock()
		return false
	}
	s.played[msg.ID] = struct{}{}
	a := &active{messageID: msg.ID}
	s.current = a
	s.mu.Unlock()

	if !validClipURL(msg.AudioURL) {
		// Nothing to play; run the same completion path as a finished clip.
		s.logger.Debug("clip_url_invalid", slog.String("message_id", msg.ID))
		s.complete(a)
		return false
	}

	handle, err := s.device.Play(ctx, msg.AudioURL)
	if err != nil {
		s.logger.Warn("playback_start_failed",
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()))
		s.complete(a)
		return false
	}

	s.mu.Lock()
	a.handle = handle
	s.mu.Unlock()
	s.logger.Info("playback_started", slog.String("message_id", msg.ID))

	go s.watch(a, handle)
	return true
}

func (s *Sequencer) watch(a *active, handle devices.PlaybackHandle) {
	for ev := range handle.Events() {
		if ev.Err != nil {
			s.logger.Warn("playback_error", slog.String("error", ev.Err.Error()))
			break
		}
		if ev.Finished {
			break
		}
	}
	s.complete(a)
}

// complete releases the playback resource, clears the playing flag, and fires
// the deferred callback after the settle delay. Runs at most once per attempt
// regardless of how the attempt ended.
func (s *Sequencer) complete(a *active) {
	a.finish.Do(func() {
		s.mu.Lock()
		if s.current == a {
			s.current = nil
		}
		handle := a.handle
		deferred := s.deferred
		s.deferred = nil
		s.mu.Unlock()

		if handle != nil {
			if err := s.device.Release(handle); err != nil {
				s.logger.Debug("playback_release_ignored", slog.String("error", err.Error()))
			}
		}
		s.logger.Debug("playback_finished", slog.String("message_id", a.messageID))
		if deferred != nil {
			s.fireAfterSettle(deferred)
		}
	})
}

// StopCurrent interrupts playback best-effort: flags clear immediately even
// if the underlying stop errors, so a user interrupt is never blocked by a
// flaky audio stack.
func (s *Sequencer) StopCurrent() {
	s.mu.Lock()
	a := s.current
	s.mu.Unlock()
	if a != nil {
		s.complete(a)
	}
}

// ScheduleReveal registers the deferred callback. If nothing is playing it
// fires after the settle delay; otherwise it fires once the active clip
// completes. A later call replaces an unfired callback.
func (s *Sequencer) ScheduleReveal(fn func()) {
	s.mu.Lock()
	if s.current != nil {
		s.deferred = fn
		s.mu.Unlock()
		return
	}
	s.deferred = nil
	s.mu.Unlock()
	s.fireAfterSettle(fn)
}

func (s *Sequencer) fireAfterSettle(fn func()) {
	s.mu.Lock()
	if s.settleTimer != nil {
		s.settleTimer.Stop()
	}
	s.settleTimer = time.AfterFunc(s.settle, fn)
	s.mu.Unlock()
}

// Reset clears the played-set, stops the settle timer, and drops any unfired
// deferred callback before interrupting the active clip, so a completion
// triggered by the interrupt cannot re-arm the timer. Scoped to one session;
// runs on session reset, enter, and exit.
func (s *Sequencer) Reset() {
	s.mu.Lock()
	s.deferred = nil
	if s.settleTimer != nil {
		s.settleTimer.Stop()
		s.settleTimer = nil
	}
	s.mu.Unlock()
	s.StopCurrent()
	s.mu.Lock()
	s.played = make(map[string]struct{})
	s.mu.Unlock()
}

func validClipURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
