package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/That909kk/femobile-sub005/pkg/booking"
	"github.com/That909kk/femobile-sub005/pkg/errorsx"
)

func TestSubmitTurnEncodesRequestAndDecodesResult(t *testing.T) {
	var got turnRequestDTO
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/voice-bookings/turns" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(turnResultDTO{
			RequestID:     "req-9",
			Status:        booking.WireStatusPartial,
			MissingFields: []string{"address"},
			Messages: []messageDTO{
				{ID: "m1", Origin: "assistant", Text: "what address?", AudioURL: "https://cdn.example.com/a.mp3"},
			},
			Preview: &previewDTO{Time: "10:00", Address: "123 Main St", Total: 75},
		})
	}))
	defer srv.Close()

	tr := New(Config{BaseURL: srv.URL, APIKey: "k1"})
	clip := booking.Clip{Payload: []byte("pcm"), MIME: "audio/m4a", DurationMs: 2400}
	res, err := tr.SubmitTurn(context.Background(), booking.TurnRequest{Audio: &clip})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if gotAuth != "Bearer k1" {
		t.Fatalf("auth header: %q", gotAuth)
	}
	if got.Audio == nil || got.Audio.Data != base64.StdEncoding.EncodeToString([]byte("pcm")) {
		t.Fatalf("audio not encoded: %+v", got.Audio)
	}
	if got.Audio.DurationMs != 2400 || got.Audio.MIME != "audio/m4a" {
		t.Fatalf("clip metadata lost: %+v", got.Audio)
	}

	if res.RequestID != "req-9" || res.Status != booking.WireStatusPartial {
		t.Fatalf("result head wrong: %+v", res)
	}
	if len(res.MissingFields) != 1 || res.MissingFields[0] != booking.FieldAddress {
		t.Fatalf("missing fields wrong: %v", res.MissingFields)
	}
	if len(res.Messages) != 1 || res.Messages[0].Origin != booking.OriginAssistant {
		t.Fatalf("messages wrong: %+v", res.Messages)
	}
	if res.Preview == nil || res.Preview.Total != 75 {
		t.Fatalf("preview wrong: %+v", res.Preview)
	}
}

func TestSubmitTurnFollowupCarriesRequestID(t *testing.T) {
	var got turnRequestDTO
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(turnResultDTO{RequestID: got.RequestID, Status: booking.WireStatusAwaitingConfirmation})
	}))
	defer srv.Close()

	tr := New(Config{BaseURL: srv.URL})
	_, err := tr.SubmitTurn(context.Background(), booking.TurnRequest{RequestID: "req-9", Text: "123 Main St"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got.RequestID != "req-9" || got.Text != "123 Main St" || got.Audio != nil {
		t.Fatalf("request wrong: %+v", got)
	}
}

func TestSubmitTurnNon2xxIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tr := New(Config{BaseURL: srv.URL})
	_, err := tr.SubmitTurn(context.Background(), booking.TurnRequest{Text: "hi"})
	if !errorsx.HasReason(err, errorsx.ReasonTransportSubmit) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestSubmitTurnMalformedBodyIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	tr := New(Config{BaseURL: srv.URL})
	_, err := tr.SubmitTurn(context.Background(), booking.TurnRequest{Text: "hi"})
	if !errorsx.HasReason(err, errorsx.ReasonProtocol) {
		t.Fatalf("expected protocol error, got %v", err)
	}
}

func TestRepeatedRateLimitsOpenTheBreaker(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tr := New(Config{BaseURL: srv.URL, BreakerThreshold: 2, BreakerCooldownMS: 60000})
	for i := 0; i < 2; i++ {
		if _, err := tr.SubmitTurn(context.Background(), booking.TurnRequest{Text: "hi"}); err == nil {
			t.Fatalf("rate limited turn succeeded")
		}
	}
	// Breaker is open now; the next turn fails without touching the backend.
	if _, err := tr.SubmitTurn(context.Background(), booking.TurnRequest{Text: "hi"}); err == nil {
		t.Fatalf("expected fast failure")
	}
	if hits != 2 {
		t.Fatalf("backend hit while breaker open: %d requests", hits)
	}
}

func TestCancelHitsCancelEndpoint(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tr := New(Config{BaseURL: srv.URL})
	if err := tr.Cancel(context.Background(), "req-9"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if gotPath != "/v1/voice-bookings/req-9/cancel" {
		t.Fatalf("path: %q", gotPath)
	}
}

func TestSubscribeWithoutEndpointFailsCleanly(t *testing.T) {
	tr := New(Config{BaseURL: "http://localhost:0"})
	err := tr.Subscribe(context.Background(), "req-9", func(booking.TurnResult) {})
	if !errorsx.HasReason(err, errorsx.ReasonTransportSubscribe) {
		t.Fatalf("expected subscribe error, got %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	tr := New(Config{BaseURL: "http://localhost:0"})
	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
