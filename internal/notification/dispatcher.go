// Package notification provides the channel-parameterized dispatcher that
// hands one fully rendered message to the email or SMS provider.
package notification

import (
	"context"
	"fmt"

	"leadflow_backend/internal/email"
	"leadflow_backend/internal/sms"
	"leadflow_backend/platform/logger"
)

// Channel selects the delivery provider. It is a message attribute, not a
// separate interface.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Message is one fully rendered outbound message.
type Message struct {
	Channel Channel
	To      string
	Subject string // ignored for SMS
	Body    string
}

// Dispatcher sends a single message and returns the provider message id.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// ProviderDispatcher routes messages to the configured email sender or SMS
// gateway client.
type ProviderDispatcher struct {
	email email.Sender
	sms   *sms.Client
	log   *logger.Logger
}

// NewDispatcher creates a dispatcher over the given providers.
func NewDispatcher(emailSender email.Sender, smsClient *sms.Client, log *logger.Logger) *ProviderDispatcher {
	return &ProviderDispatcher{
		email: emailSender,
		sms:   smsClient,
		log:   log,
	}
}

// Send delivers the message on its channel.
func (d *ProviderDispatcher) Send(ctx context.Context, msg Message) (string, error) {
	if msg.To == "" {
		return "", fmt.Errorf("empty recipient")
	}

	switch msg.Channel {
	case ChannelEmail:
		if d.email == nil {
			return "", fmt.Errorf("email sender not configured")
		}
		return d.email.Send(ctx, msg.To, msg.Subject, msg.Body)
	case ChannelSMS:
		if d.sms == nil {
			return "", fmt.Errorf("sms gateway not configured")
		}
		return d.sms.Send(ctx, msg.To, msg.Body)
	default:
		return "", fmt.Errorf("unknown channel %q", msg.Channel)
	}
}

var _ Dispatcher = (*ProviderDispatcher)(nil)
