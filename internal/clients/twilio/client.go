// Package twilio wraps the Twilio REST client for outbound SMS. Media
// streams and TwiML are handled by the telephony package; this client only
// sends messages.
package twilio

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"call-server/internal/observability"
)

type Client struct {
	client *twilio.RestClient
	from   string
	logger *observability.Logger
}

func NewClient(accountSID, authToken, fromNumber string, logger *observability.Logger) (*Client, error) {
	if accountSID == "" || authToken == "" || fromNumber == "" {
		return nil, fmt.Errorf("missing Twilio credentials")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})

	return &Client{
		client: client,
		from:   fromNumber,
		logger: logger,
	}, nil
}

// SendSMS sends one text message and returns the message SID.
func (c *Client) SendSMS(ctx context.Context, to, body string) (string, error) {
	ctx = observability.WithFields(ctx, observability.Field{Key: "sms_to", Value: to})

	params := &twilioApi.CreateMessageParams{}
	params.SetFrom(c.from)
	params.SetTo(to)
	params.SetBody(body)

	resp, err := c.client.Api.CreateMessage(params)
	if err != nil {
		c.logger.Error(ctx, "failed to send SMS", err)
		return "", fmt.Errorf("failed to send SMS: %w", err)
	}

	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	c.logger.Info(observability.WithFields(ctx, observability.Field{Key: "message_sid", Value: sid}), "SMS sent")
	return sid, nil
}
