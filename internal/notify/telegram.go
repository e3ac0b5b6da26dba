package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"salonbook/internal/models"
)

type botSender interface {
	Send(tgbotapi.Chattable) (tgbotapi.Message, error)
}

// ContactDirectory resolves recipients to Telegram chats.
type ContactDirectory interface {
	ChatID(ctx context.Context, userID string) (int64, error)
	MerchantMembers(ctx context.Context, merchantID string) ([]models.Member, error)
}

// TelegramNotifier sends messages through a Telegram bot.
type TelegramNotifier struct {
	bot      botSender
	contacts ContactDirectory
	logger   zerolog.Logger
}

// NewTelegramBot connects to the Bot API.
func NewTelegramBot(token string, debug bool) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	api.Debug = debug
	return api, nil
}

func NewTelegramNotifier(bot botSender, contacts ContactDirectory, logger zerolog.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		bot:      bot,
		contacts: contacts,
		logger:   logger.With().Str("component", "telegram").Logger(),
	}
}

// Send delivers msg to every resolved chat. Recipients without a chat are
// skipped; a message with no reachable chat at all is a permanent failure.
func (n *TelegramNotifier) Send(ctx context.Context, msg Message) error {
	chats, err := n.resolve(ctx, msg)
	if err != nil {
		return err
	}
	if len(chats) == 0 {
		return &PermanentError{Reason: "no telegram chat for " + msg.recipient()}
	}

	var errs []error
	for _, chatID := range chats {
		if _, err := n.bot.Send(tgbotapi.NewMessage(chatID, msg.Text)); err != nil {
			errs = append(errs, classify(err))
		}
	}
	if len(errs) == len(chats) {
		return errs[0]
	}
	if len(errs) > 0 {
		// Some members got it; resending would duplicate for them.
		n.logger.Warn().Err(errors.Join(errs...)).Str("to", msg.recipient()).Msg("Partial delivery")
	}
	return nil
}

func (n *TelegramNotifier) resolve(ctx context.Context, msg Message) ([]int64, error) {
	var users []string
	if msg.UserID != "" {
		users = []string{msg.UserID}
	} else {
		members, err := n.contacts.MerchantMembers(ctx, msg.MerchantID)
		if err != nil {
			return nil, fmt.Errorf("merchant members: %w", err)
		}
		for _, m := range members {
			users = append(users, m.UserID)
		}
	}

	chats := make([]int64, 0, len(users))
	for _, u := range users {
		chatID, err := n.contacts.ChatID(ctx, u)
		if errors.Is(err, models.ErrNotFound) {
			n.logger.Debug().Str("user_id", u).Msg("No telegram contact")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("chat id for %s: %w", u, err)
		}
		chats = append(chats, chatID)
	}
	return chats, nil
}

func classify(err error) error {
	var tgErr *tgbotapi.Error
	if !errors.As(err, &tgErr) {
		return err
	}
	switch tgErr.Code {
	case 429:
		return &RetryAfterError{After: time.Duration(tgErr.RetryAfter) * time.Second, Err: err}
	case 400, 403:
		return &PermanentError{Reason: fmt.Sprintf("telegram rejected message (%d)", tgErr.Code), Err: err}
	}
	return err
}

// LogNotifier writes messages to the log instead of delivering them.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notify_log").Logger()}
}

func (n *LogNotifier) Send(_ context.Context, msg Message) error {
	n.logger.Info().Str("kind", string(msg.Kind)).Str("to", msg.recipient()).
		Str("booking_id", msg.BookingID).Str("text", msg.Text).Msg("Notification")
	return nil
}
