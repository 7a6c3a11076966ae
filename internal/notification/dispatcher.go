package notification

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/config"
)

var ErrNoRecipients = errors.New("message has no recipients")

type Message struct {
	// Key groups messages for one order on the same partition.
	Key        string   `json:"key"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
	Recipients []string `json:"recipients"`
	From       string   `json:"from,omitempty"`
	ReplyTo    string   `json:"reply_to,omitempty"`
	Bcc        []string `json:"bcc,omitempty"`
}

// Dispatcher hands a message to the mail pipeline. A nil error means the
// message was accepted, not that it was delivered.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

// New returns a Kafka-backed dispatcher when brokers are configured and a
// logging one otherwise.
func New(kafkaCfg config.KafkaConfig, mailCfg config.MailConfig) (Dispatcher, func() error) {
	defaults := Defaults{
		From:    mailCfg.From,
		ReplyTo: mailCfg.ReplyTo,
		Bcc:     splitList(mailCfg.Bcc),
	}

	brokers := splitList(kafkaCfg.Brokers)
	if len(brokers) == 0 {
		log.Warn().Msg("No Kafka brokers configured, notifications will only be logged")
		return &LogDispatcher{Defaults: defaults}, func() error { return nil }
	}

	d := NewKafkaDispatcher(brokers, kafkaCfg.NotificationsTopic, defaults)
	return d, d.Close
}

type Defaults struct {
	From    string
	ReplyTo string
	Bcc     []string
}

func (d Defaults) apply(msg Message) Message {
	if msg.From == "" {
		msg.From = d.From
	}
	if msg.ReplyTo == "" {
		msg.ReplyTo = d.ReplyTo
	}
	if len(msg.Bcc) == 0 && len(d.Bcc) > 0 {
		msg.Bcc = append([]string(nil), d.Bcc...)
	}
	return msg
}

type LogDispatcher struct {
	Defaults Defaults
}

func (d *LogDispatcher) Send(_ context.Context, msg Message) error {
	if len(msg.Recipients) == 0 {
		return ErrNoRecipients
	}
	msg = d.Defaults.apply(msg)
	log.Info().
		Str("key", msg.Key).
		Strs("recipients", msg.Recipients).
		Str("subject", msg.Subject).
		Msg("notification: message logged (no transport configured)")
	return nil
}

func splitList(csv string) []string {
	out := []string{}
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
