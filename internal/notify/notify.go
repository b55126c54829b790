// Package notify raises operator alerts over SMS.
package notify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"time"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-scraper/internal/marketplace"
)

const (
	defaultTitle  = "Marketplace Scraper Alert"
	maxErrorRunes = 150
	timeLayout    = "2006-01-02 15:04:05"
)

// Config holds Twilio credentials and recipients.
type Config struct {
	AccountSID string
	AuthToken  string
	From       string
	To         []string
	// Title heads every message.
	Title string
	// Identity names the sender machine; defaults to user@host.
	Identity string
}

type messageSender interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// Twilio sends alerts as SMS to every configured recipient.
type Twilio struct {
	sender messageSender
	cfg    Config
	clock  marketplace.Clock
	logger *zap.Logger
}

// NewTwilio validates cfg and builds a REST client.
func NewTwilio(cfg Config, clock marketplace.Clock, logger *zap.Logger) (*Twilio, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.From == "" {
		return nil, errors.New("twilio account sid, auth token and sender number are required")
	}
	if len(cfg.To) == 0 {
		return nil, errors.New("at least one alert recipient is required")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newTwilio(client.Api, cfg, clock, logger), nil
}

func newTwilio(sender messageSender, cfg Config, clock marketplace.Clock, logger *zap.Logger) *Twilio {
	if cfg.Title == "" {
		cfg.Title = defaultTitle
	}
	if cfg.Identity == "" {
		cfg.Identity = identity()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Twilio{sender: sender, cfg: cfg, clock: clock, logger: logger}
}

// Alert sends one message per recipient, continuing past individual
// failures. It fails only when no message was sent.
func (t *Twilio) Alert(ctx context.Context, alertContext string, cause error) error {
	body := FormatAlert(t.cfg.Title, t.cfg.Identity, t.clock.Now(), alertContext, cause)
	sent := 0
	var errs []error
	for _, to := range t.cfg.To {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		params := &openapi.CreateMessageParams{}
		params.SetTo(to)
		params.SetFrom(t.cfg.From)
		params.SetBody(body)
		msg, err := t.sender.CreateMessage(params)
		if err != nil {
			t.logger.Warn("sms alert failed", zap.String("to", to), zap.Error(err))
			errs = append(errs, fmt.Errorf("send to %s: %w", to, err))
			continue
		}
		sid := ""
		if msg != nil && msg.Sid != nil {
			sid = *msg.Sid
		}
		t.logger.Info("sms alert sent", zap.String("to", to), zap.String("sid", sid))
		sent++
	}
	if sent == 0 {
		return fmt.Errorf("no alert delivered: %w", errors.Join(errs...))
	}
	return nil
}

// FormatAlert renders the SMS body. The error text is cut to 150 characters.
func FormatAlert(title, identity string, at time.Time, alertContext string, cause error) string {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	if r := []rune(msg); len(r) > maxErrorRunes {
		msg = string(r[:maxErrorRunes])
	}
	return fmt.Sprintf("[%s]\n\nUser/Host: %s\nTime: %s\nContext: %s\nError: %s",
		title, identity, at.Format(timeLayout), alertContext, msg)
}

func identity() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown-host"
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username + "@" + host
	}
	return host
}

// Noop logs alerts without sending them.
type Noop struct {
	logger *zap.Logger
}

// NewNoop creates a Noop notifier.
func NewNoop(logger *zap.Logger) *Noop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Noop{logger: logger}
}

// Alert records the alert in the log.
func (n *Noop) Alert(_ context.Context, alertContext string, cause error) error {
	n.logger.Warn("alert (sms disabled)", zap.String("context", alertContext), zap.Error(cause))
	return nil
}

var (
	_ marketplace.Notifier = (*Twilio)(nil)
	_ marketplace.Notifier = (*Noop)(nil)
)
