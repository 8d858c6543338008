// Package notify provides the Twilio SMS push channel for MomentPipe.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/BTreeMap/MomentPipe/internal/models"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// messageCreator defines the minimal Twilio surface used by the dispatcher,
// kept narrow so tests can substitute a fake.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioOpts holds configuration options for the Twilio SMS dispatcher.
type TwilioOpts struct {
	AccountSID string
	AuthToken  string
	From       string
	To         string
}

// TwilioOption defines a configuration option for the Twilio SMS dispatcher.
type TwilioOption func(*TwilioOpts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) TwilioOption {
	return func(o *TwilioOpts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) TwilioOption {
	return func(o *TwilioOpts) { o.AuthToken = token }
}

// WithFromNumber sets the sending phone number.
func WithFromNumber(from string) TwilioOption {
	return func(o *TwilioOpts) { o.From = from }
}

// WithToNumber sets the user's phone number that receives moment notifications.
func WithToNumber(to string) TwilioOption {
	return func(o *TwilioOpts) { o.To = to }
}

// TwilioDispatcher delivers moments as SMS messages via the Twilio REST API.
type TwilioDispatcher struct {
	api  messageCreator
	from string
	to   string
}

// NewTwilioDispatcher creates a Twilio SMS dispatcher, falling back to
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, TWILIO_FROM_NUMBER, and
// TWILIO_TO_NUMBER environment variables for unset options.
func NewTwilioDispatcher(opts ...TwilioOption) (*TwilioDispatcher, error) {
	var cfg TwilioOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.From == "" {
		cfg.From = os.Getenv("TWILIO_FROM_NUMBER")
	}
	if cfg.To == "" {
		cfg.To = os.Getenv("TWILIO_TO_NUMBER")
	}
	slog.Debug("Twilio dispatcher config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"From_set", cfg.From != "",
		"To_set", cfg.To != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.From == "" || cfg.To == "" {
		return nil, fmt.Errorf("from and to numbers must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})

	return &TwilioDispatcher{api: client.Api, from: cfg.From, to: cfg.To}, nil
}

// SendNotification sends the moment as an SMS to the configured number.
func (d *TwilioDispatcher) SendNotification(ctx context.Context, m models.Moment) error {
	if m.ID == "" {
		return fmt.Errorf("moment id cannot be empty")
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(d.to)
	params.SetFrom(d.from)
	params.SetBody(FormatMoment(m))

	_, err := d.api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio dispatch failed", "error", err, "moment_id", m.ID)
		return fmt.Errorf("failed to send SMS for moment %s: %w", m.ID, err)
	}
	slog.Debug("Twilio dispatch succeeded", "moment_id", m.ID)
	return nil
}

// Channel returns the channel name.
func (d *TwilioDispatcher) Channel() string {
	return "sms"
}
