package booking

import (
	"time"

	"github.com/google/uuid"
)

// Status is the single source of truth for which session affordances are valid.
type Status int

const (
	StatusIdle Status = iota
	StatusRecording
	StatusProcessing
	StatusPartial
	StatusAwaitingConfirmation
	StatusCompleted
	StatusCancelled
	StatusError
)

// String returns the string representation of a Status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "IDLE"
	case StatusRecording:
		return "RECORDING"
	case StatusProcessing:
		return "PROCESSING"
	case StatusPartial:
		return "PARTIAL"
	case StatusAwaitingConfirmation:
		return "AWAITING_CONFIRMATION"
	case StatusCompleted:
		return "COMPLETED"
	case StatusCancelled:
		return "CANCELLED"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further turns may be submitted without a reset.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Origin identifies who produced a message.
type Origin string

const (
	OriginUser      Origin = "user"
	OriginAssistant Origin = "assistant"
)

// FieldTag names a category of booking information the backend still requires.
type FieldTag string

const (
	FieldService  FieldTag = "service"
	FieldAddress  FieldTag = "address"
	FieldTime     FieldTag = "time"
	FieldQuantity FieldTag = "quantity"
)

// Message is one entry in the conversation transcript. Immutable once appended.
type Message struct {
	ID               string
	Origin           Origin
	Text             string
	AudioURL         string
	StatusAtEmission Status
	At               time.Time
}

// NewMessage creates a transcript message with a fresh id.
func NewMessage(origin Origin, text, audioURL string, status Status) Message {
	return Message{
		ID:               uuid.NewString(),
		Origin:           origin,
		Text:             text,
		AudioURL:         audioURL,
		StatusAtEmission: status,
		At:               time.Now(),
	}
}

// PreviewItem is one service line in a booking preview.
type PreviewItem struct {
	Service  string
	Quantity int
	Price    float64
}

// Preview is the structured booking summary returned by the backend once it
// believes the booking information is complete, pending user confirmation.
type Preview struct {
	Services []PreviewItem
	Time     string
	Address  string
	Total    float64
}

// Session is a read-only snapshot of the conversation aggregate. The engine
// hands copies of this struct to the UI layer; no field is mutated in place
// outside the state machine.
type Session struct {
	RequestID            string
	Status               Status
	Messages             []Message
	MissingFields        []FieldTag
	Preview              *Preview
	BookingID            string
	Err                  string
	ConfirmationRevealed bool
	AutoStopNotice       bool
}

// LatestMessage returns the most recent transcript entry, if any.
func (s Session) LatestMessage() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// ConfirmAllowed reports whether the confirm affordance is valid: the preview
// must already be populated while awaiting confirmation.
func (s Session) ConfirmAllowed() bool {
	return s.Status == StatusAwaitingConfirmation && s.Preview != nil
}
