// Package notify отправляет оповещения администратору.
package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Notifier отправляет оповещение администратору. Ошибки доставки только логируются.
type Notifier interface {
	Alert(ctx context.Context, title, details string)
}

// sender часть tgbotapi.BotAPI, нужная для отправки
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier отправляет оповещения в чат администратора
type TelegramNotifier struct {
	bot    sender
	chatID int64
	logger *zap.Logger
}

// NewTelegramNotifier подключается к Bot API
func NewTelegramNotifier(token string, chatID int64, logger *zap.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации Telegram бота: %w", err)
	}

	logger.Info("Telegram оповещения включены",
		zap.String("bot", bot.Self.UserName),
		zap.Int64("chat_id", chatID))

	return &TelegramNotifier{bot: bot, chatID: chatID, logger: logger}, nil
}

// Alert отправляет сообщение в чат администратора
func (n *TelegramNotifier) Alert(ctx context.Context, title, details string) {
	msg := tgbotapi.NewMessage(n.chatID, FormatAlert(title, details))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Error("ошибка отправки оповещения в Telegram",
			zap.String("title", title),
			zap.Error(err))
	}
}

// FormatAlert форматирует оповещение в HTML-разметке Telegram
func FormatAlert(title, details string) string {
	return fmt.Sprintf("⚠️ <b>%s</b>\n%s", tgbotapi.EscapeText(tgbotapi.ModeHTML, title), tgbotapi.EscapeText(tgbotapi.ModeHTML, details))
}

// LogNotifier пишет оповещения в лог. Используется, когда бот не настроен.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier создает оповещатель, пишущий в лог
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Alert пишет оповещение в лог
func (n *LogNotifier) Alert(ctx context.Context, title, details string) {
	n.logger.Warn("оповещение администратора", zap.String("title", title), zap.String("details", details))
}
