package conversation

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/That909kk/femobile-sub005/pkg/booking"
	"github.com/That909kk/femobile-sub005/pkg/errorsx"
	"github.com/That909kk/femobile-sub005/pkg/redact"
)

// StateChange represents a session status transition event.
type StateChange struct {
	FromStatus booking.Status
	ToStatus   booking.Status
	Timestamp  time.Time
	Reason     string
}

// StateListener observes session changes. The snapshot reflects the session
// immediately after the change was applied.
type StateListener interface {
	OnSessionChange(snapshot booking.Session, event StateChange)
}

// StateMachine is the authoritative holder of the conversation aggregate.
// All mutation goes through its contract methods; callers only ever see
// snapshots.
type StateMachine struct {
	mu        sync.Mutex
	session   booking.Session
	listeners []StateListener
	greeting  string
	logger    *slog.Logger
}

// NewStateMachine creates an idle session seeded with a greeting message.
func NewStateMachine(greeting string, logger *slog.Logger) *StateMachine {
	if logger == nil {
		logger = slog.Default()
	}
	m := &StateMachine{greeting: greeting, logger: logger}
	m.session.Status = booking.StatusIdle
	m.seedGreetingLocked()
	return m
}

func (m *StateMachine) seedGreetingLocked() {
	if m.greeting == "" || len(m.session.Messages) > 0 {
		return
	}
	m.session.Messages = append(m.session.Messages,
		booking.NewMessage(booking.OriginAssistant, m.greeting, "", booking.StatusIdle))
}

// transitionValid checks if a status transition is allowed (lock held).
func (m *StateMachine) transitionValid(from, to booking.Status) bool {
	validTransitions := map[booking.Status][]booking.Status{
		booking.StatusIdle:                 {booking.StatusRecording, booking.StatusProcessing, booking.StatusCancelled, booking.StatusError},
		booking.StatusRecording:            {booking.StatusProcessing, booking.StatusIdle, booking.StatusCancelled, booking.StatusError},
		booking.StatusProcessing:           {booking.StatusPartial, booking.StatusAwaitingConfirmation, booking.StatusCompleted, booking.StatusCancelled, booking.StatusError},
		booking.StatusPartial:              {booking.StatusRecording, booking.StatusProcessing, booking.StatusCancelled, booking.StatusError},
		booking.StatusAwaitingConfirmation: {booking.StatusRecording, booking.StatusProcessing, booking.StatusCancelled, booking.StatusError},
		booking.StatusCompleted:            {booking.StatusIdle},
		booking.StatusCancelled:            {booking.StatusIdle},
		booking.StatusError:                {booking.StatusRecording, booking.StatusProcessing, booking.StatusCancelled, booking.StatusError},
	}

	allowed, exists := validTransitions[from]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError represents a rejected status transition attempt.
type InvalidTransitionError struct {
	From booking.Status
	To   booking.Status
}

func (e *InvalidTransitionError) Error() string {
	return "invalid status transition from " + e.From.String() + " to " + e.To.String()
}

// transition applies a status change under the lock and notifies listeners
// after releasing it.
func (m *StateMachine) transition(to booking.Status, reason string, mutate func(*booking.Session)) error {
	m.mu.Lock()
	from := m.session.Status
	if !m.transitionValid(from, to) {
		m.mu.Unlock()
		return &InvalidTransitionError{From: from, To: to}
	}
	m.session.Status = to
	// A stale error never outlives a successful transition; the error-setting
	// paths re-populate it in their mutate below.
	m.session.Err = ""
	if mutate != nil {
		mutate(&m.session)
	}
	event := StateChange{FromStatus: from, ToStatus: to, Timestamp: time.Now(), Reason: reason}
	snapshot := m.snapshotLocked()
	listeners := make([]StateListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	m.logger.Debug("session_transition",
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.String("reason", reason))
	for _, l := range listeners {
		l.OnSessionChange(snapshot, event)
	}
	return nil
}

// touch re-notifies listeners after a non-status mutation (flags, notices).
func (m *StateMachine) touch(reason string, mutate func(*booking.Session)) {
	m.mu.Lock()
	status := m.session.Status
	if mutate != nil {
		mutate(&m.session)
	}
	event := StateChange{FromStatus: status, ToStatus: status, Timestamp: time.Now(), Reason: reason}
	snapshot := m.snapshotLocked()
	listeners := make([]StateListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, l := range listeners {
		l.OnSessionChange(snapshot, event)
	}
}

// AddListener registers a listener for session change events.
func (m *StateMachine) AddListener(l StateListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Status returns the current session status.
func (m *StateMachine) Status() booking.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Status
}

// Snapshot returns a copy of the current session.
func (m *StateMachine) Snapshot() booking.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *StateMachine) snapshotLocked() booking.Session {
	out := m.session
	out.Messages = append([]booking.Message(nil), m.session.Messages...)
	out.MissingFields = append([]booking.FieldTag(nil), m.session.MissingFields...)
	if m.session.Preview != nil {
		p := *m.session.Preview
		p.Services = append([]booking.PreviewItem(nil), m.session.Preview.Services...)
		out.Preview = &p
	}
	return out
}

// Start moves the session into RECORDING. Rejected while a recording or a
// server round-trip is already underway.
func (m *StateMachine) Start() error {
	return m.transition(booking.StatusRecording, "recording started", nil)
}

// AbortRecording returns to IDLE when a recording attempt produced nothing to
// submit (device failure, double-tap stop race).
func (m *StateMachine) AbortRecording(reason string) error {
	return m.transition(booking.StatusIdle, reason, nil)
}

// SubmitClip marks the captured clip as handed off to the backend.
func (m *StateMachine) SubmitClip() error {
	return m.transition(booking.StatusProcessing, "clip submitted", nil)
}

// SubmitText appends the typed user message and marks the turn in flight.
func (m *StateMachine) SubmitText(text string) error {
	if text == "" {
		return errorsx.Wrap(errors.New("empty text turn"), errorsx.ReasonValidation)
	}
	m.logger.Debug("text_turn", redact.String("text", text))
	return m.transition(booking.StatusProcessing, "text submitted", func(s *booking.Session) {
		s.Messages = append(s.Messages, booking.NewMessage(booking.OriginUser, text, "", booking.StatusProcessing))
	})
}

// Confirm accepts the previewed booking. Only valid once the preview is
// populated.
func (m *StateMachine) Confirm() error {
	m.mu.Lock()
	allowed := m.session.ConfirmAllowed()
	m.mu.Unlock()
	if !allowed {
		return errorsx.Wrap(errors.New("confirm not available"), errorsx.ReasonValidation)
	}
	return m.transition(booking.StatusProcessing, "booking confirmed", nil)
}

// Cancel moves any non-terminal session to CANCELLED.
func (m *StateMachine) Cancel() error {
	return m.transition(booking.StatusCancelled, "cancelled", nil)
}

// Reset clears the aggregate back to a fresh IDLE session with a greeting.
func (m *StateMachine) Reset() error {
	return m.transition(booking.StatusIdle, "reset", func(s *booking.Session) {
		*s = booking.Session{Status: booking.StatusIdle}
		if m.greeting != "" {
			s.Messages = append(s.Messages,
				booking.NewMessage(booking.OriginAssistant, m.greeting, "", booking.StatusIdle))
		}
	})
}

// SetError records a recoverable transport failure. The request id and
// transcript are preserved so the user can retry the same turn.
func (m *StateMachine) SetError(msg string) error {
	return m.transition(booking.StatusError, "transport error", func(s *booking.Session) {
		s.Err = msg
	})
}

// ApplyServerUpdate folds one backend TurnResult into the session. Updates
// are applied in receipt order; unknown wire statuses degrade to a generic
// session error.
func (m *StateMachine) ApplyServerUpdate(res booking.TurnResult) error {
	switch res.Status {
	case booking.WireStatusPartial:
		return m.transition(booking.StatusPartial, "server partial", func(s *booking.Session) {
			m.foldCommon(s, res)
			s.MissingFields = append([]booking.FieldTag(nil), res.MissingFields...)
			s.Preview = nil
		})
	case booking.WireStatusAwaitingConfirmation:
		return m.transition(booking.StatusAwaitingConfirmation, "server awaiting confirmation", func(s *booking.Session) {
			m.foldCommon(s, res)
			s.MissingFields = nil
			s.Preview = res.Preview
		})
	case booking.WireStatusCompleted:
		return m.transition(booking.StatusCompleted, "server completed", func(s *booking.Session) {
			m.foldCommon(s, res)
			s.MissingFields = nil
			s.BookingID = res.BookingID
		})
	case booking.WireStatusError:
		return m.transition(booking.StatusError, "server error", func(s *booking.Session) {
			if res.RequestID != "" && s.RequestID == "" {
				s.RequestID = res.RequestID
			}
			s.Err = res.Err
		})
	default:
		m.logger.Warn("unexpected_server_status", slog.String("status", res.Status))
		err := m.transition(booking.StatusError, "protocol error", func(s *booking.Session) {
			s.Err = "unexpected response from booking service"
		})
		if err != nil {
			return err
		}
		return errorsx.Wrap(errors.New("unexpected server status "+res.Status), errorsx.ReasonProtocol)
	}
}

func (m *StateMachine) foldCommon(s *booking.Session, res booking.TurnResult) {
	if res.RequestID != "" {
		s.RequestID = res.RequestID
	}
	for _, msg := range res.Messages {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		s.Messages = append(s.Messages, msg)
	}
}

// RevealConfirmation flips the confirmation surface flag. Scheduled through
// the playback sequencer so an in-flight audio reply finishes first.
func (m *StateMachine) RevealConfirmation() {
	m.touch("confirmation revealed", func(s *booking.Session) {
		s.ConfirmationRevealed = true
	})
}

// SetAutoStopNotice toggles the one-shot "auto-stopped" notice.
func (m *StateMachine) SetAutoStopNotice(on bool) {
	m.touch("auto stop notice", func(s *booking.Session) {
		s.AutoStopNotice = on
	})
}
