package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/That909kk/femobile-sub005/pkg/booking"
	"github.com/That909kk/femobile-sub005/pkg/errorsx"
)

type fakeMessageCreator struct {
	params []*api.CreateMessageParams
	err    error
	sid    string
}

func (f *fakeMessageCreator) CreateMessage(params *api.CreateMessageParams) (*api.ApiV2010Message, error) {
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	sid := f.sid
	if sid == "" {
		sid = "SM123"
	}
	return &api.ApiV2010Message{Sid: &sid}, nil
}

func validConfig() Config {
	return Config{
		AccountSID: "AC001",
		AuthToken:  "secret",
		From:       "+15550000001",
		To:         "+15550000002",
	}
}

func completedSession() booking.Session {
	return booking.Session{
		Status:    booking.StatusCompleted,
		BookingID: "BK-42",
		Preview: &booking.Preview{
			Address: "123 Main St",
			Time:    "Friday 10:00",
			Total:   75,
		},
	}
}

func TestBookingCompletedSendsSMS(t *testing.T) {
	fake := &fakeMessageCreator{}
	n := NewSMSNotifier(validConfig())
	n.client = fake

	if err := n.BookingCompleted(context.Background(), completedSession()); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(fake.params) != 1 {
		t.Fatalf("expected 1 message, got %d", len(fake.params))
	}
	p := fake.params[0]
	if p.To == nil || *p.To != "+15550000002" {
		t.Fatalf("to not set")
	}
	if p.From == nil || *p.From != "+15550000001" {
		t.Fatalf("from not set")
	}
	if p.Body == nil {
		t.Fatalf("body not set")
	}
	for _, want := range []string{"BK-42", "Friday 10:00", "123 Main St", "75.00"} {
		if !strings.Contains(*p.Body, want) {
			t.Fatalf("body %q missing %q", *p.Body, want)
		}
	}
}

func TestBookingCompletedWithoutPreview(t *testing.T) {
	fake := &fakeMessageCreator{}
	n := NewSMSNotifier(validConfig())
	n.client = fake

	snap := completedSession()
	snap.Preview = nil
	if err := n.BookingCompleted(context.Background(), snap); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := *fake.params[0].Body; got != "Your booking BK-42 is confirmed." {
		t.Fatalf("body: %q", got)
	}
}

func TestBookingCompletedRequiresBookingID(t *testing.T) {
	n := NewSMSNotifier(validConfig())
	n.client = &fakeMessageCreator{}

	snap := completedSession()
	snap.BookingID = ""
	err := n.BookingCompleted(context.Background(), snap)
	if !errorsx.HasReason(err, errorsx.ReasonValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestBookingCompletedRequiresCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.AuthToken = ""
	n := NewSMSNotifier(cfg)
	n.client = &fakeMessageCreator{}

	err := n.BookingCompleted(context.Background(), completedSession())
	if !errorsx.HasReason(err, errorsx.ReasonNotifySend) {
		t.Fatalf("expected notify error, got %v", err)
	}
}

func TestBookingCompletedWrapsAPIError(t *testing.T) {
	fake := &fakeMessageCreator{err: errors.New("twilio 20003")}
	n := NewSMSNotifier(validConfig())
	n.client = fake

	err := n.BookingCompleted(context.Background(), completedSession())
	if !errorsx.HasReason(err, errorsx.ReasonNotifySend) {
		t.Fatalf("expected notify error, got %v", err)
	}
}
