// Package mail sends grant notification email over SMTP.
package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/bobmcallan/covault/internal/common"
	"github.com/bobmcallan/covault/internal/interfaces"
)

// Client sends notifications through a configured SMTP relay.
type Client struct {
	config common.MailConfig
	logger *common.Logger
}

// NewClient creates an SMTP mail client. When no relay is configured a
// logging no-op client is returned instead.
func NewClient(config common.MailConfig, logger *common.Logger) interfaces.Mailer {
	if logger == nil {
		logger = common.NewDefaultLogger()
	}
	if !config.Enabled() {
		return &noopClient{logger: logger}
	}
	return &Client{config: config, logger: logger}
}

// SendGrantRequested notifies the owner that a device is waiting for
// approval.
func (c *Client) SendGrantRequested(ctx context.Context, ownerEmail, requesterEmail, device string) error {
	subject := "Covault: a device is requesting access to your vault"
	body := fmt.Sprintf(
		"%s is requesting access to your shared folders from %q.\r\n\r\n"+
			"Approve or reject the request from your devices page. Nothing is shared until you approve.\r\n",
		requesterEmail, device)

	msg := strings.Join([]string{
		"From: " + c.config.From,
		"To: " + ownerEmail,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")

	addr := fmt.Sprintf("%s:%d", c.config.Host, c.config.Port)
	var auth smtp.Auth
	if c.config.Username != "" {
		auth = smtp.PlainAuth("", c.config.Username, c.config.Password, c.config.Host)
	}

	if err := smtp.SendMail(addr, auth, c.config.From, []string{ownerEmail}, []byte(msg)); err != nil {
		return fmt.Errorf("failed to send mail via %s: %w", addr, err)
	}

	c.logger.Debug().Str("to", ownerEmail).Msg("Grant notification sent")
	return nil
}

// noopClient logs the notification instead of sending it.
type noopClient struct {
	logger *common.Logger
}

func (c *noopClient) SendGrantRequested(ctx context.Context, ownerEmail, requesterEmail, device string) error {
	c.logger.Info().
		Str("owner", ownerEmail).
		Str("requester", requesterEmail).
		Str("device", device).
		Msg("Mail disabled; grant notification logged only")
	return nil
}
