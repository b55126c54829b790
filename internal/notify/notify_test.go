package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/JakeFAU/marketplace-scraper/internal/marketplace/marketplacetest"
)

type fakeSender struct {
	fail map[string]bool
	sent []*openapi.CreateMessageParams
}

func (f *fakeSender) CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error) {
	if f.fail[*params.To] {
		return nil, errors.New("invalid number")
	}
	f.sent = append(f.sent, params)
	sid := "SM" + *params.To
	return &openapi.ApiV2010Message{Sid: &sid}, nil
}

func testConfig(to ...string) Config {
	return Config{From: "+15550000000", To: to, Identity: "scraper@vps-1"}
}

func TestFormatAlert(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)
	long := errors.New(strings.Repeat("x", 200))
	body := FormatAlert("Marketplace Scraper Alert", "me@host", at, "job j-1 failed", long)

	assert.True(t, strings.HasPrefix(body, "[Marketplace Scraper Alert]\n\nUser/Host: me@host\nTime: 2024-03-09 14:05:06\nContext: job j-1 failed\nError: "))
	assert.True(t, strings.HasSuffix(body, "Error: "+strings.Repeat("x", 150)))
	assert.Contains(t, FormatAlert("t", "h", at, "c", nil), "Error: unknown error")
}

func TestAlertContinuesPastFailedRecipient(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{fail: map[string]bool{"+1bad": true}}
	clock := marketplacetest.NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	n := newTwilio(sender, testConfig("+1bad", "+1good"), clock, nil)

	require.NoError(t, n.Alert(context.Background(), "browser died", errors.New("invalid session id")))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "+1good", *sender.sent[0].To)
	assert.Equal(t, "+15550000000", *sender.sent[0].From)
	assert.Contains(t, *sender.sent[0].Body, "[Marketplace Scraper Alert]")
	assert.Contains(t, *sender.sent[0].Body, "Context: browser died")
}

func TestAlertFailsWhenNothingSent(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{fail: map[string]bool{"+1a": true, "+1b": true}}
	n := newTwilio(sender, testConfig("+1a", "+1b"), marketplacetest.NewClock(time.Now()), nil)
	err := n.Alert(context.Background(), "ctx", errors.New("boom"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "+1a")
}

func TestNewTwilioValidates(t *testing.T) {
	t.Parallel()

	clock := marketplacetest.NewClock(time.Now())
	_, err := NewTwilio(Config{To: []string{"+1"}}, clock, nil)
	require.Error(t, err)
	_, err = NewTwilio(Config{AccountSID: "AC1", AuthToken: "t", From: "+1"}, clock, nil)
	require.Error(t, err)
	n, err := NewTwilio(Config{AccountSID: "AC1", AuthToken: "t", From: "+1", To: []string{"+2"}}, clock, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, n.cfg.Identity)
	assert.Equal(t, defaultTitle, n.cfg.Title)
}

func TestNoop(t *testing.T) {
	t.Parallel()

	require.NoError(t, NewNoop(nil).Alert(context.Background(), "ctx", errors.New("x")))
}
