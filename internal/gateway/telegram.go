package gateway

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gopkg.in/telebot.v3"

	"github.com/lalithlochan/deadlines/internal/db"
)

// telegramAPI is the slice of *telebot.Bot the sender uses.
type telegramAPI interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// TelegramSender delivers the telegram channel; the destination address is a chat id.
type TelegramSender struct {
	bot    telegramAPI
	logger *zap.Logger
}

// NewTelegramSender builds an offline bot: it only sends and never polls for updates.
func NewTelegramSender(token string, timeout time.Duration, logger *zap.Logger) (*TelegramSender, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	bot, err := telebot.NewBot(telebot.Settings{
		Token:   token,
		Offline: true,
		Client:  newHTTPClient(timeout),
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramSender{bot: bot, logger: logger}, nil
}

func (s *TelegramSender) Send(ctx context.Context, msg Message) error {
	chatID, err := strconv.ParseInt(msg.Destination.Address, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram destination %q is not a chat id: %w", msg.Destination.Address, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	sent, err := s.bot.Send(&telebot.Chat{ID: chatID}, msg.Text(), &telebot.SendOptions{
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("telegram send failed: %w", err)
	}

	s.logger.Info("message sent via telegram",
		zap.String("id", msg.ID),
		zap.Int64("chat_id", chatID),
		zap.Int("telegram_message_id", sent.ID),
	)
	return nil
}

func (s *TelegramSender) SupportsChannel(channel string) bool {
	return channel == db.ChannelTelegram
}
