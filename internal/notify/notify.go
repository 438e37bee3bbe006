// Package notify delivers reply text to senders and customers.
package notify

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// MaxBodyLength is the longest single WhatsApp message Twilio accepts.
const MaxBodyLength = 1600

type TwilioConfig struct {
	AccountSID     string
	AuthToken      string
	WhatsAppNumber string
	SMSNumber      string
}

// TwilioReplier sends WhatsApp messages to E.164 numbers and SMS otherwise.
type TwilioReplier struct {
	client *twilio.RestClient
	cfg    TwilioConfig
	log    zerolog.Logger
}

func NewTwilioReplier(cfg TwilioConfig, log zerolog.Logger) *TwilioReplier {
	return &TwilioReplier{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		}),
		cfg: cfg,
		log: log,
	}
}

func (r *TwilioReplier) Send(ctx context.Context, to, body string) error {
	dest, from := route(to, r.cfg)
	if from == "" {
		return fmt.Errorf("no twilio sender number configured for %s", dest)
	}
	for i, part := range split(body, MaxBodyLength) {
		if err := ctx.Err(); err != nil {
			return err
		}
		params := &twilioApi.CreateMessageParams{}
		params.SetTo(dest)
		params.SetFrom(from)
		params.SetBody(part)

		resp, err := r.client.Api.CreateMessage(params)
		if err != nil {
			return fmt.Errorf("twilio send to %s: %w", dest, err)
		}
		sid := ""
		if resp != nil && resp.Sid != nil {
			sid = *resp.Sid
		}
		r.log.Debug().Str("to", dest).Str("sid", sid).Int("part", i+1).Msg("reply sent")
	}
	return nil
}

// route picks the Twilio channel: numbers already tagged whatsapp: or in
// E.164 form go over WhatsApp, anything else is SMS.
func route(to string, cfg TwilioConfig) (dest, from string) {
	switch {
	case strings.HasPrefix(to, "whatsapp:"):
		return to, withPrefix(cfg.WhatsAppNumber)
	case strings.HasPrefix(to, "+") && cfg.WhatsAppNumber != "":
		return "whatsapp:" + to, withPrefix(cfg.WhatsAppNumber)
	default:
		return to, cfg.SMSNumber
	}
}

func withPrefix(n string) string {
	if n == "" || strings.HasPrefix(n, "whatsapp:") {
		return n
	}
	return "whatsapp:" + n
}

// split cuts body into parts of at most limit runes, preferring line breaks.
func split(body string, limit int) []string {
	var parts []string
	for utf8.RuneCountInString(body) > limit {
		cut := byteOffset(body, limit)
		if nl := strings.LastIndexByte(body[:cut], '\n'); nl > 0 {
			cut = nl
		}
		parts = append(parts, strings.TrimRight(body[:cut], "\n"))
		body = strings.TrimLeft(body[cut:], "\n")
	}
	return append(parts, body)
}

func byteOffset(s string, runes int) int {
	i := 0
	for n := 0; n < runes && i < len(s); n++ {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return i
}

// LogReplier writes replies to the log instead of sending them.
type LogReplier struct {
	log zerolog.Logger
}

func NewLogReplier(log zerolog.Logger) *LogReplier {
	return &LogReplier{log: log}
}

func (r *LogReplier) Send(_ context.Context, to, body string) error {
	r.log.Info().Str("to", to).Str("body", body).Msg("reply")
	return nil
}
