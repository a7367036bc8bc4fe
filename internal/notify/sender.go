package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Message is one outbound text.
type Message struct {
	To   string
	Body string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Providers accepted by New.
const (
	ProviderTwilio = "twilio"
	ProviderLog    = "log"
	ProviderNoop   = "noop"
)

// Config selects and configures a provider.
type Config struct {
	Provider         string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
}

// New builds the Sender for cfg.Provider. An empty provider means log.
func New(cfg Config, logger *slog.Logger) (Sender, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Provider {
	case "", ProviderLog:
		return LogSender{logger: logger.With("component", "notify")}, nil
	case ProviderNoop:
		return NoopSender{}, nil
	case ProviderTwilio:
		if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" || cfg.TwilioFrom == "" {
			return nil, fmt.Errorf("twilio provider needs account sid, auth token and from number")
		}
		return NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFrom), nil
	}
	return nil, fmt.Errorf("unknown notify provider %q", cfg.Provider)
}

// TwilioSender sends SMS through the Twilio REST API.
type TwilioSender struct {
	client *twilio.RestClient
	from   string
}

// NewTwilioSender creates a sender authenticated with an account SID and
// auth token.
func NewTwilioSender(accountSID, authToken, from string) *TwilioSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioSender{client: client, from: from}
}

// Send implements Sender. The Twilio client has no context support; ctx is
// only checked before the request.
func (s *TwilioSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &openapi.CreateMessageParams{}
	params.SetTo(msg.To)
	params.SetFrom(s.from)
	params.SetBody(msg.Body)

	if _, err := s.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	return nil
}

// LogSender writes messages to the log instead of sending them.
type LogSender struct {
	logger *slog.Logger
}

// Send implements Sender.
func (s LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("sms", "to", msg.To, "body", msg.Body)
	return nil
}

// NoopSender discards messages.
type NoopSender struct{}

// Send implements Sender.
func (NoopSender) Send(context.Context, Message) error { return nil }
