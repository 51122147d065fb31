package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/That909kk/femobile-sub005/pkg/booking"
	"github.com/That909kk/femobile-sub005/pkg/conversation"
	"github.com/That909kk/femobile-sub005/pkg/devices"
	"github.com/That909kk/femobile-sub005/pkg/errorsx"
	"github.com/That909kk/femobile-sub005/pkg/metrics"
	"github.com/That909kk/femobile-sub005/pkg/playback"
	"github.com/That909kk/femobile-sub005/pkg/recorder"
	"github.com/That909kk/femobile-sub005/pkg/transports"
)

// Action is one user-facing dispatch entry. The mic button is a single
// affordance whose meaning is derived from state, never a set of separately
// wired buttons.
type Action string

const (
	ActionStart            Action = "start"
	ActionStopAndSubmit    Action = "stopAndSubmit"
	ActionSubmitText       Action = "submitText"
	ActionConfirm          Action = "confirm"
	ActionCancelBooking    Action = "cancelBooking"
	ActionReset            Action = "reset"
	ActionPlayMessageAudio Action = "playMessageAudio"
	ActionStopPlayback     Action = "stopPlayback"
	ActionMicTap           Action = "micTap"
)

// Listener receives a session snapshot after every observable change.
type Listener interface {
	OnSessionChange(snapshot booking.Session)
}

// Notifier is an optional hook fired once a booking completes. Failures are
// logged and never surface on the session.
type Notifier interface {
	BookingCompleted(ctx context.Context, snapshot booking.Session) error
}

// Config tunes one coordinator instance.
type Config struct {
	Greeting          string
	SettleDelay       time.Duration
	AutoStopNoticeTTL time.Duration
	// SubmitTimeout bounds one turn round-trip. Zero keeps the reference
	// behavior of waiting until the transport itself resolves or errors.
	SubmitTimeout time.Duration
	Recorder      recorder.Config
}

func (c Config) withDefaults() Config {
	if c.Greeting == "" {
		c.Greeting = "Hi! Tell me what you would like to book."
	}
	if c.AutoStopNoticeTTL <= 0 {
		c.AutoStopNoticeTTL = 3 * time.Second
	}
	return c
}

// Coordinator is the aggregate root for one screen visit: it owns the single
// "is anything in flight" invariant, routes user actions, and implements the
// cancellation contract invoked on navigation-away.
type Coordinator struct {
	cfg       Config
	fsm       *conversation.StateMachine
	rec       *recorder.Controller
	seq       *playback.Sequencer
	transport transports.Transport
	logger    *slog.Logger
	obs       metrics.Observer

	ctx    context.Context
	cancel context.CancelFunc

	// Stable indirection for callbacks registered against long-lived device
	// and timer primitives: always read the latest snapshot here, never
	// state captured at registration time.
	snapshot atomic.Pointer[booking.Session]

	mu          sync.Mutex
	listeners   []Listener
	notifier    Notifier
	subscribed  bool
	noticeTimer *time.Timer

	exitOnce sync.Once
	exited   atomic.Bool
}

// NewCoordinator wires a coordinator over the given device and transport.
func NewCoordinator(device devices.AudioDevice, transport transports.Transport, cfg Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:       cfg,
		transport: transport,
		logger:    logger,
		obs:       metrics.NoopObserver{},
		ctx:       ctx,
		cancel:    cancel,
	}
	c.fsm = conversation.NewStateMachine(cfg.Greeting, logger)
	c.fsm.AddListener(c)
	c.rec = recorder.NewController(device, cfg.Recorder, c.onRecordingDone, logger)
	c.rec.SetGate(func() bool {
		return c.fsm.Status() != booking.StatusProcessing
	})
	c.seq = playback.NewSequencer(device, cfg.SettleDelay, logger)
	c.seq.SetGate(func() bool {
		return !c.rec.Active() && c.fsm.Status() != booking.StatusProcessing
	})
	snap := c.fsm.Snapshot()
	c.snapshot.Store(&snap)
	return c
}

// SetObserver installs a metrics sink. Nil restores the no-op default.
func (c *Coordinator) SetObserver(o metrics.Observer) {
	if o == nil {
		o = metrics.NoopObserver{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.obs = o
}

func (c *Coordinator) observer() metrics.Observer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.obs
}

// SetNotifier installs the completion hook.
func (c *Coordinator) SetNotifier(n Notifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifier = n
}

// AddListener subscribes to session-changed notifications.
func (c *Coordinator) AddListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Session returns the current read-only session snapshot.
func (c *Coordinator) Session() booking.Session {
	if snap := c.snapshot.Load(); snap != nil {
		return *snap
	}
	return c.fsm.Snapshot()
}

// OnSessionChange implements conversation.StateListener: it refreshes the
// snapshot cell and fans out to subscribers.
func (c *Coordinator) OnSessionChange(snapshot booking.Session, event conversation.StateChange) {
	c.snapshot.Store(&snapshot)
	c.mu.Lock()
	listeners := make([]Listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()
	for _, l := range listeners {
		l.OnSessionChange(snapshot)
	}
}

// Enter prepares a fresh visit: played-tracking cleared, greeting ensured,
// push channel opened when the transport supports one.
func (c *Coordinator) Enter(ctx context.Context) error {
	if c.exited.Load() {
		return errors.New("session already exited")
	}
	c.seq.Reset()
	c.logger.Info("session_entered", slog.String("transport", c.transport.Name()))
	return nil
}

// Dispatch routes one user action. arg carries the text for submitText and
// is ignored otherwise.
func (c *Coordinator) Dispatch(ctx context.Context, action Action, arg string) error {
	if c.exited.Load() {
		return errors.New("session already exited")
	}
	switch action {
	case ActionStart:
		return c.startRecording(ctx)
	case ActionStopAndSubmit:
		c.stopRecording()
		return nil
	case ActionSubmitText:
		return c.submitText(arg)
	case ActionConfirm:
		return c.confirm()
	case ActionCancelBooking:
		return c.cancelBooking()
	case ActionReset:
		return c.reset()
	case ActionPlayMessageAudio:
		c.playLatest(ctx)
		return nil
	case ActionStopPlayback:
		c.seq.StopCurrent()
		return nil
	case ActionMicTap:
		return c.micTap(ctx)
	default:
		return errorsx.Wrap(errors.New("unknown action "+string(action)), errorsx.ReasonValidation)
	}
}

// micTap resolves the mic button by composite state, in priority order:
// recording beats playing beats idle.
func (c *Coordinator) micTap(ctx context.Context) error {
	if c.rec.Active() {
		c.stopRecording()
		return nil
	}
	if c.seq.Playing() {
		c.seq.StopCurrent()
		return nil
	}
	return c.startRecording(ctx)
}

// startRecording force-stops playback first: recording and playback are
// mutually exclusive.
func (c *Coordinator) startRecording(ctx context.Context) error {
	c.seq.StopCurrent()
	if err := c.fsm.Start(); err != nil {
		c.logger.Debug("start_rejected", slog.String("error", err.Error()))
		return err
	}
	if err := c.rec.RequestStart(ctx); err != nil {
		// Device failures abort back to a safe idle state; they never land
		// on the session aggregate.
		_ = c.fsm.AbortRecording("recording start failed")
		return err
	}
	return nil
}

func (c *Coordinator) stopRecording() {
	if !c.rec.Active() {
		// Double-tap race: still walk the status back to a safe state.
		if c.fsm.Status() == booking.StatusRecording {
			_ = c.fsm.AbortRecording("stop with no live recording")
		}
		return
	}
	c.rec.RequestStop(recorder.StopUserInitiated)
}

// onRecordingDone receives the exactly-once handoff from the recording
// controller, after the device handle has already been released.
func (c *Coordinator) onRecordingDone(sub recorder.Submission) {
	if sub.Err != nil || sub.Clip.Empty() {
		_ = c.fsm.AbortRecording("recording produced no clip")
		return
	}
	stop := "user"
	if sub.AutoStopped {
		stop = "auto"
		c.flashAutoStopNotice()
	}
	c.observer().RecordEvent(metrics.Timing("recording_ms",
		time.Duration(sub.Clip.DurationMs)*time.Millisecond, map[string]string{"stop": stop}))
	if err := c.fsm.SubmitClip(); err != nil {
		// Session moved on (cancelled or exited) while the clip was being
		// finalized; drop it.
		c.logger.Debug("clip_dropped", slog.String("error", err.Error()))
		return
	}
	clip := sub.Clip
	req := booking.TurnRequest{RequestID: c.Session().RequestID, Audio: &clip}
	go c.submit(req)
}

func (c *Coordinator) flashAutoStopNotice() {
	c.fsm.SetAutoStopNotice(true)
	c.mu.Lock()
	if c.noticeTimer != nil {
		c.noticeTimer.Stop()
	}
	c.noticeTimer = time.AfterFunc(c.cfg.AutoStopNoticeTTL, func() {
		c.fsm.SetAutoStopNotice(false)
	})
	c.mu.Unlock()
}

func (c *Coordinator) submitText(text string) error {
	c.seq.StopCurrent()
	if err := c.fsm.SubmitText(text); err != nil {
		return err
	}
	go c.submit(booking.TurnRequest{RequestID: c.Session().RequestID, Text: text})
	return nil
}

func (c *Coordinator) confirm() error {
	if err := c.fsm.Confirm(); err != nil {
		return err
	}
	go c.submit(booking.TurnRequest{RequestID: c.Session().RequestID, Confirm: true})
	return nil
}

// submit performs one turn round-trip. Transport failures land on the
// session with the request id and transcript preserved so the user can retry
// the same turn.
func (c *Coordinator) submit(req booking.TurnRequest) {
	ctx := c.ctx
	if c.cfg.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.SubmitTimeout)
		defer cancel()
	}
	started := time.Now()
	res, err := c.transport.SubmitTurn(ctx, req)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.observer().RecordEvent(metrics.Timing("turn_latency_ms", time.Since(started),
		map[string]string{"outcome": outcome}))
	if c.exited.Load() {
		return
	}
	if err != nil {
		c.logger.Warn("turn_submit_failed", slog.String("error", err.Error()))
		_ = c.fsm.SetError(err.Error())
		return
	}
	c.handleTurnResult(res)
}

// handleTurnResult folds a backend update into the session, then sequences
// playback and the deferred confirmation reveal.
func (c *Coordinator) handleTurnResult(res booking.TurnResult) {
	if err := c.fsm.ApplyServerUpdate(res); err != nil {
		var invalid *conversation.InvalidTransitionError
		if errors.As(err, &invalid) {
			// Stale update after a local transition won the race; receipt
			// order still holds for everything applied.
			c.logger.Debug("server_update_ignored", slog.String("error", err.Error()))
			return
		}
		c.logger.Warn("server_update_degraded", slog.String("error", err.Error()))
	}

	snap := c.Session()
	c.maybeSubscribe(snap.RequestID)

	if latest, ok := snap.LatestMessage(); ok && latest.Origin == booking.OriginAssistant {
		c.seq.MaybePlay(c.ctx, latest, true)
	}
	if snap.Status == booking.StatusAwaitingConfirmation {
		c.seq.ScheduleReveal(func() {
			if !c.exited.Load() {
				c.fsm.RevealConfirmation()
			}
		})
	}
	if snap.Status == booking.StatusCompleted {
		c.notifyCompleted(snap)
	}
}

// maybeSubscribe opens the optional push channel once a server-side
// conversation exists. A transport without push, or one whose subscription
// never fires, is not an error.
func (c *Coordinator) maybeSubscribe(requestID string) {
	if requestID == "" {
		return
	}
	sub, ok := c.transport.(transports.Subscriber)
	if !ok {
		return
	}
	c.mu.Lock()
	if c.subscribed {
		c.mu.Unlock()
		return
	}
	c.subscribed = true
	c.mu.Unlock()

	if err := sub.Subscribe(c.ctx, requestID, func(res booking.TurnResult) {
		if !c.exited.Load() {
			c.handleTurnResult(res)
		}
	}); err != nil {
		c.logger.Debug("push_channel_unavailable", slog.String("error", err.Error()))
	}
}

func (c *Coordinator) notifyCompleted(snap booking.Session) {
	c.mu.Lock()
	n := c.notifier
	c.mu.Unlock()
	if n == nil {
		return
	}
	go func() {
		if err := n.BookingCompleted(c.ctx, snap); err != nil {
			c.logger.Warn("completion_notify_failed", slog.String("error", err.Error()))
		}
	}()
}

func (c *Coordinator) cancelBooking() error {
	c.seq.StopCurrent()
	c.rec.ForceRelease()
	snap := c.Session()
	if err := c.fsm.Cancel(); err != nil {
		return err
	}
	if snap.RequestID != "" {
		go func(id string) {
			if err := c.transport.Cancel(context.Background(), id); err != nil {
				c.logger.Debug("backend_cancel_ignored", slog.String("error", err.Error()))
			}
		}(snap.RequestID)
	}
	return nil
}

func (c *Coordinator) reset() error {
	c.rec.ForceRelease()
	c.seq.Reset()
	return c.fsm.Reset()
}

func (c *Coordinator) playLatest(ctx context.Context) {
	if latest, ok := c.Session().LatestMessage(); ok {
		c.seq.MaybePlay(ctx, latest, true)
	}
}

// Exit tears the visit down: playback and recording released, timers
// canceled, transport closed, and a single best-effort backend cancellation
// issued when the session is still non-terminal. Idempotent: repeated calls
// short-circuit.
func (c *Coordinator) Exit() {
	c.exitOnce.Do(func() {
		c.exited.Store(true)
		c.seq.Reset()
		c.rec.ForceRelease()
		c.mu.Lock()
		if c.noticeTimer != nil {
			c.noticeTimer.Stop()
			c.noticeTimer = nil
		}
		c.mu.Unlock()

		snap := c.fsm.Snapshot()
		if !snap.Status.Terminal() && snap.RequestID != "" {
			// Fire-and-forget: the user has already navigated away, so the
			// outcome is neither awaited nor retried.
			go func(id string) {
				if err := c.transport.Cancel(context.Background(), id); err != nil {
					c.logger.Debug("exit_cancel_ignored", slog.String("error", err.Error()))
				}
			}(snap.RequestID)
		}
		if err := c.transport.Close(); err != nil {
			c.logger.Debug("transport_close_ignored", slog.String("error", err.Error()))
		}
		c.cancel()
		c.observer().RecordEvent(metrics.Count("session_exit",
			map[string]string{"status": snap.Status.String()}))
		c.logger.Info("session_exited", slog.String("status", snap.Status.String()))
	})
}
