// Package notify sends draw results to admins over Telegram.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/nantokaworks/giveaway-draw/internal/shared/logger"
	"github.com/nantokaworks/giveaway-draw/internal/types"
	"go.uber.org/zap"
)

// Telegram は管理者のチャットへ抽選結果を送る
type Telegram struct {
	bot      *tgbotapi.BotAPI
	chatIDs  []int64
	location *time.Location
}

// NewTelegram authorizes the bot against the Telegram API.
func NewTelegram(token string, chatIDs []int64, loc *time.Location) (*Telegram, error) {
	return NewTelegramWithEndpoint(token, tgbotapi.APIEndpoint, nil, chatIDs, loc)
}

// NewTelegramWithEndpoint is NewTelegram against a custom API endpoint and
// HTTP client. A nil client uses http.DefaultClient.
func NewTelegramWithEndpoint(token, endpoint string, client tgbotapi.HTTPClient, chatIDs []int64, loc *time.Location) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if loc == nil {
		loc = time.Local
	}

	var (
		bot *tgbotapi.BotAPI
		err error
	)
	if client != nil {
		bot, err = tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	} else {
		bot, err = tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to authorize telegram bot: %w", err)
	}

	logger.Info("Telegram bot authorized",
		zap.String("username", bot.Self.UserName),
		zap.Int("admin_chats", len(chatIDs)))
	return &Telegram{bot: bot, chatIDs: chatIDs, location: loc}, nil
}

// NotifyDraw sends the committed record to every admin chat.
func (t *Telegram) NotifyDraw(ctx context.Context, record types.DrawRecord) error {
	if t == nil || len(t.chatIDs) == 0 {
		return nil
	}

	text := FormatDraw(record, t.location)
	var errs []error
	for _, chatID := range t.chatIDs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
			logger.Warn("Failed to send telegram notification", zap.Int64("chat_id", chatID), zap.Error(err))
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}

// FormatDraw renders a record as the admin notification text.
func FormatDraw(record types.DrawRecord, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Draw #%s\n", record.WindowID)
	if record.PickedAt != nil {
		fmt.Fprintf(&b, "Picked at: %s\n", record.PickedAt.In(loc).Format("02/01/2006, 15:04:05"))
	}

	if record.WinnerTicket == "" {
		msg := record.Message
		if msg == "" {
			msg = "No Winner"
		}
		b.WriteString(msg)
		return b.String()
	}

	fmt.Fprintf(&b, "Winner ticket: %s", record.WinnerTicket)
	if d := record.WinnerDetails; d != nil {
		fmt.Fprintf(&b, "\nUsername: %s\nPhone: %s\nQuestion: %s\nAnswer: %s", d.Username, d.Phone, d.Question, d.Answer)
	}
	return b.String()
}
