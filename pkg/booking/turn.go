package booking

// Clip is a captured recording handed off exactly once to the transport.
type Clip struct {
	URI        string
	DurationMs int64
	Payload    []byte
	MIME       string
}

// Empty reports whether the clip carries no usable audio.
func (c Clip) Empty() bool {
	return len(c.Payload) == 0 && c.URI == ""
}

// TurnRequest is one user contribution submitted to the backend. Exactly one
// of Audio, Text, or Confirm is set.
type TurnRequest struct {
	RequestID string
	Audio     *Clip
	Text      string
	Confirm   bool
}

// TurnResult is the backend's reply to a submitted turn.
type TurnResult struct {
	RequestID     string
	Status        string
	Messages      []Message
	MissingFields []FieldTag
	Preview       *Preview
	BookingID     string
	Err           string
}

// Wire status values the backend may return for a turn.
const (
	WireStatusPartial              = "partial"
	WireStatusAwaitingConfirmation = "awaiting_confirmation"
	WireStatusCompleted            = "completed"
	WireStatusError                = "error"
)
