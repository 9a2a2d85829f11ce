package notify

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/harunnryd/fleetvoice/pkg/errorsx"
	"github.com/harunnryd/fleetvoice/pkg/redact"
	"github.com/harunnryd/fleetvoice/pkg/voice"
)

type TwilioConfig struct {
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	From       string `mapstructure:"from"`
	To         string `mapstructure:"to"`
	MinLevel   string `mapstructure:"min_level"`
	Prefix     string `mapstructure:"prefix"`
}

func (c TwilioConfig) Validate() error {
	if c.AccountSID == "" || c.AuthToken == "" {
		return errors.New("missing twilio credentials")
	}
	if c.From == "" || c.To == "" {
		return errors.New("twilio from/to required")
	}
	return nil
}

type messageCreator interface {
	CreateMessage(params *api.CreateMessageParams) (*api.ApiV2010Message, error)
}

// TwilioNotifier sends notices at or above MinLevel as SMS. Sends run on a
// background goroutine so Notify never blocks the caller.
type TwilioNotifier struct {
	cfg    TwilioConfig
	min    voice.Level
	client messageCreator
	log    *slog.Logger
	send   func(func())
}

func NewTwilioNotifier(cfg TwilioConfig, log *slog.Logger) (*TwilioNotifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonConfigInvalid)
	}
	if log == nil {
		log = slog.Default()
	}
	minLevel := voice.LevelError
	if cfg.MinLevel != "" {
		minLevel = voice.ParseLevel(cfg.MinLevel)
	}
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioNotifier{
		cfg:    cfg,
		min:    minLevel,
		client: rest.Api,
		log:    log,
		send:   func(f func()) { go f() },
	}, nil
}

func (n *TwilioNotifier) Notify(notice voice.Notice) {
	if !AtLeast(notice.Level, n.min) {
		return
	}
	body := strings.TrimSpace(n.cfg.Prefix + " " + notice.Message)
	n.send(func() {
		if _, err := n.Send(body); err != nil {
			n.log.Warn("twilio_notify_failed", "error", err.Error(), "reason_code", errorsx.Reason(err))
		}
	})
}

// Send delivers one SMS and returns its message SID.
func (n *TwilioNotifier) Send(body string) (string, error) {
	params := &api.CreateMessageParams{}
	params.SetTo(n.cfg.To)
	params.SetFrom(n.cfg.From)
	params.SetBody(redact.Text(body))
	resp, err := n.client.CreateMessage(params)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonNotifySend)
	}
	if resp == nil || resp.Sid == nil {
		return "", errorsx.New(errorsx.ReasonNotifySend, "missing message sid")
	}
	return *resp.Sid, nil
}

var _ voice.Notifier = (*TwilioNotifier)(nil)
