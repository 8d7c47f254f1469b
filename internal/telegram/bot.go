package telegram

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// LinkCodeIssuer 为 Telegram 账号生成绑定码
type LinkCodeIssuer interface {
	IssueLinkCode(ctx context.Context, telegramID int64, username string) (string, time.Duration, error)
}

const (
	helpText = "Available commands:\n" +
		"/link - get a code to connect this Telegram account to your ARMT account\n" +
		"/help - show this message"
	startText   = "Welcome to the ARMT bot. Send /link to connect your account and receive login codes here."
	unknownText = "Unknown command. Send /help for the list of commands."
	privateText = "Please send /link in a private chat with the bot."
	failureText = "Something went wrong, please try again later."
)

// Bot 处理 webhook 更新
type Bot struct {
	sender Sender
	links  LinkCodeIssuer
	log    *slog.Logger
}

func NewBot(sender Sender, links LinkCodeIssuer, log *slog.Logger) *Bot {
	if log == nil {
		log = slog.Default()
	}
	return &Bot{sender: sender, links: links, log: log}
}

// HandleUpdate 处理一条更新，无消息的更新直接忽略
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) error {
	message := update.Message
	if message == nil || message.Chat == nil {
		return nil
	}
	chatID := message.Chat.ID

	if !message.IsCommand() {
		return b.reply(chatID, unknownText, "")
	}

	switch message.Command() {
	case "start":
		return b.reply(chatID, startText, "")
	case "help":
		return b.reply(chatID, helpText, "")
	case "link":
		return b.handleLink(ctx, message)
	default:
		return b.reply(chatID, unknownText, "")
	}
}

func (b *Bot) handleLink(ctx context.Context, message *tgbotapi.Message) error {
	chatID := message.Chat.ID
	if !message.Chat.IsPrivate() || message.From == nil {
		return b.reply(chatID, privateText, "")
	}

	code, ttl, err := b.links.IssueLinkCode(ctx, message.From.ID, message.From.UserName)
	if err != nil {
		b.log.ErrorContext(ctx, "failed to issue link code", "telegram_id", message.From.ID, "error", err)
		return b.reply(chatID, failureText, "")
	}

	text := fmt.Sprintf("Your link code: <code>%s</code>\nEnter it in the ARMT web panel within %d minutes.",
		html.EscapeString(code), int(ttl.Minutes()))
	return b.reply(chatID, text, tgbotapi.ModeHTML)
}

func (b *Bot) reply(chatID int64, text, parseMode string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = parseMode
	if _, err := b.sender.Send(msg); err != nil {
		return fmt.Errorf("telegram: reply: %w", err)
	}
	return nil
}
