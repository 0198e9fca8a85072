package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/hanko-field/storefront/internal/services"
)

const (
	defaultSendGridHost = "https://api.sendgrid.com"
	sendEndpoint        = "/v3/mail/send"
)

// SendGridTransport delivers plain-text notification mail through the SendGrid v3 API.
type SendGridTransport struct {
	apiKey string
	host   string
	from   *mail.Email
	send   func(ctx context.Context, request rest.Request) (*rest.Response, error)
}

// SendGridOption customises the transport.
type SendGridOption func(*SendGridTransport)

// WithSendGridHost points the transport at another API host, e.g. a local stub.
func WithSendGridHost(host string) SendGridOption {
	return func(t *SendGridTransport) {
		if trimmed := strings.TrimRight(strings.TrimSpace(host), "/"); trimmed != "" {
			t.host = trimmed
		}
	}
}

// NewSendGridTransport validates credentials and the sender identity.
func NewSendGridTransport(apiKey, fromAddress, fromName string, opts ...SendGridOption) (*SendGridTransport, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("sendgrid transport: api key is required")
	}
	fromAddress = strings.TrimSpace(fromAddress)
	if fromAddress == "" {
		return nil, errors.New("sendgrid transport: from address is required")
	}
	t := &SendGridTransport{
		apiKey: apiKey,
		host:   defaultSendGridHost,
		from:   mail.NewEmail(strings.TrimSpace(fromName), fromAddress),
		send:   sendgrid.MakeRequestWithContext,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t, nil
}

// Send implements services.NotificationTransport.
func (t *SendGridTransport) Send(ctx context.Context, to, subject, body string) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return services.Permanent(errors.New("sendgrid: recipient is required"))
	}

	personalization := mail.NewPersonalization()
	personalization.AddTos(mail.NewEmail("", to))
	message := mail.NewV3Mail()
	message.SetFrom(t.from)
	message.Subject = subject
	message.AddPersonalizations(personalization)
	message.AddContent(mail.NewContent("text/plain", body))
	request := sendgrid.GetRequest(t.apiKey, sendEndpoint, t.host)
	request.Method = rest.Post
	request.Body = mail.GetRequestBody(message)

	response, err := t.send(ctx, request)
	if err != nil {
		return fmt.Errorf("sendgrid: send: %w", err)
	}
	if response.StatusCode >= http.StatusMultipleChoices {
		err := fmt.Errorf("sendgrid: unexpected status %d: %s", response.StatusCode, truncate(response.Body, 200))
		if response.StatusCode >= http.StatusBadRequest && response.StatusCode < http.StatusInternalServerError &&
			response.StatusCode != http.StatusTooManyRequests {
			return services.Permanent(err)
		}
		return err
	}
	return nil
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	if len(value) > limit {
		return value[:limit]
	}
	return value
}
