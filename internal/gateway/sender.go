// Package gateway delivers rendered reminders and digests to their destinations.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/deadlines/internal/db"
)

// ErrDeliveryFailed wraps every error a sender returns to its caller.
var ErrDeliveryFailed = errors.New("delivery failed")

// Message kinds
const (
	KindReminder = "reminder"
	KindDigest   = "digest"
)

// Message is a rendered notification ready for a channel.
type Message struct {
	ID          string         `json:"id"`
	Kind        string         `json:"kind"`
	TenantID    string         `json:"tenant_id"`
	Destination db.Destination `json:"destination"`
	Subject     string         `json:"subject"`
	Body        string         `json:"body"`
}

// Text joins the mention, subject and body the way plain-text channels show them.
func (m Message) Text() string {
	s := m.Subject
	if m.Destination.Mention != "" {
		s = m.Destination.Mention + " " + s
	}
	if m.Body != "" {
		s += "\n" + m.Body
	}
	return s
}

// Sender is the unified interface for all delivery channels
type Sender interface {
	Send(ctx context.Context, msg Message) error
	SupportsChannel(channel string) bool
}

// MultiSender routes a message to the first sender that accepts its channel
type MultiSender struct {
	senders []Sender
	logger  *zap.Logger
}

// NewMultiSender creates a router over the given senders
func NewMultiSender(logger *zap.Logger, senders ...Sender) *MultiSender {
	return &MultiSender{
		senders: senders,
		logger:  logger,
	}
}

// Send routes the message based on its destination channel
func (m *MultiSender) Send(ctx context.Context, msg Message) error {
	for _, sender := range m.senders {
		if sender.SupportsChannel(msg.Destination.Channel) {
			m.logger.Debug("routing message to sender",
				zap.String("channel", msg.Destination.Channel),
				zap.String("message_id", msg.ID),
			)
			if err := sender.Send(ctx, msg); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrDeliveryFailed, msg.Destination.Channel, err)
			}
			return nil
		}
	}

	return fmt.Errorf("%w: no sender for channel %q", ErrDeliveryFailed, msg.Destination.Channel)
}

// SupportsChannel checks if any underlying sender supports the channel
func (m *MultiSender) SupportsChannel(channel string) bool {
	for _, sender := range m.senders {
		if sender.SupportsChannel(channel) {
			return true
		}
	}
	return false
}

// Channels lists the channels the router can deliver to.
func (m *MultiSender) Channels() []string {
	var out []string
	for _, ch := range []string{db.ChannelLog, db.ChannelWebhook, db.ChannelEmail, db.ChannelSMS, db.ChannelQueue, db.ChannelTopic, db.ChannelTelegram} {
		if m.SupportsChannel(ch) {
			out = append(out, ch)
		}
	}
	return out
}

// LogSender writes messages to the logger. Used in development and as the
// "log" channel.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.Info("delivering message (log channel)",
		zap.String("id", msg.ID),
		zap.String("kind", msg.Kind),
		zap.String("tenant_id", msg.TenantID),
		zap.String("address", msg.Destination.Address),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return nil
}

func (s *LogSender) SupportsChannel(channel string) bool {
	return channel == db.ChannelLog
}
