package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/That909kk/femobile-sub005/pkg/booking"
	"github.com/That909kk/femobile-sub005/pkg/errorsx"
	"github.com/That909kk/femobile-sub005/pkg/logging"
)

type Config struct {
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	From       string `mapstructure:"from"`
	To         string `mapstructure:"to"`
}

type messageCreator interface {
	CreateMessage(params *api.CreateMessageParams) (*api.ApiV2010Message, error)
}

// SMSNotifier sends a booking-confirmation text once a session completes.
// Callers treat it as fire-and-forget.
type SMSNotifier struct {
	cfg    Config
	client messageCreator
	logger *slog.Logger
}

func NewSMSNotifier(cfg Config) *SMSNotifier {
	return &SMSNotifier{
		cfg:    cfg,
		logger: logging.NewComponentLogger(slog.Default(), "sms_notifier"),
	}
}

// BookingCompleted sends the confirmation SMS for a completed session.
func (n *SMSNotifier) BookingCompleted(ctx context.Context, snapshot booking.Session) error {
	_ = ctx
	if snapshot.BookingID == "" {
		return errorsx.Wrap(errors.New("missing booking id"), errorsx.ReasonValidation)
	}
	if n.cfg.AccountSID == "" || n.cfg.AuthToken == "" {
		return errorsx.Wrap(errors.New("missing twilio credentials"), errorsx.ReasonNotifySend)
	}
	if n.cfg.To == "" || n.cfg.From == "" {
		return errorsx.Wrap(errors.New("to/from required"), errorsx.ReasonNotifySend)
	}
	client := n.client
	if client == nil {
		rest := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: n.cfg.AccountSID,
			Password: n.cfg.AuthToken,
		})
		client = rest.Api
	}
	params := &api.CreateMessageParams{}
	params.SetTo(n.cfg.To)
	params.SetFrom(n.cfg.From)
	params.SetBody(confirmationBody(snapshot))
	resp, err := client.CreateMessage(params)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonNotifySend)
	}
	if resp == nil || resp.Sid == nil {
		return errorsx.Wrap(errors.New("missing message sid"), errorsx.ReasonNotifySend)
	}
	n.logger.Info("confirmation_sms_sent",
		slog.String("booking_id", snapshot.BookingID),
		slog.String("sid", *resp.Sid))
	return nil
}

func confirmationBody(snapshot booking.Session) string {
	body := fmt.Sprintf("Your booking %s is confirmed", snapshot.BookingID)
	if p := snapshot.Preview; p != nil {
		if p.Time != "" {
			body += " for " + p.Time
		}
		if p.Address != "" {
			body += " at " + p.Address
		}
		if p.Total > 0 {
			body += fmt.Sprintf(" (total %.2f)", p.Total)
		}
	}
	return body + "."
}
