// Package telegram 通过 Telegram Bot API 发送验证码并处理绑定命令
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender *tgbotapi.BotAPI 中用到的方法
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// NewBotAPI 连接 Bot API 并调用 getMe，token 错误时在此失败
func NewBotAPI(token string, timeout time.Duration) (*tgbotapi.BotAPI, error) {
	client := &http.Client{Timeout: timeout}
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect bot: %w", err)
	}
	return bot, nil
}

// RegisterWebhook 注册 webhook 地址，secret 以 "secret" 查询参数附加
func RegisterWebhook(sender Sender, webhookURL, secret string) error {
	if secret != "" {
		u, err := url.Parse(webhookURL)
		if err != nil {
			return fmt.Errorf("telegram: parse webhook url: %w", err)
		}
		q := u.Query()
		q.Set(WebhookSecretParam, secret)
		u.RawQuery = q.Encode()
		webhookURL = u.String()
	}

	wh, err := tgbotapi.NewWebhook(webhookURL)
	if err != nil {
		return fmt.Errorf("telegram: build webhook: %w", err)
	}
	if _, err := sender.Request(wh); err != nil {
		return fmt.Errorf("telegram: set webhook: %w", err)
	}
	return nil
}

// WebhookSecretParam webhook 密钥的查询参数名
const WebhookSecretParam = "secret"

// Messenger 向 Telegram 用户发送 HTML 消息
type Messenger struct {
	sender Sender
}

func NewMessenger(sender Sender) *Messenger {
	return &Messenger{sender: sender}
}

// SendMessage 发送成功、失败或 ctx 结束时返回
func (m *Messenger) SendMessage(ctx context.Context, telegramID int64, text string) error {
	msg := tgbotapi.NewMessage(telegramID, text)
	msg.ParseMode = tgbotapi.ModeHTML

	done := make(chan error, 1)
	go func() {
		_, err := m.sender.Send(msg)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("telegram: send message: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("telegram: send message: %w", ctx.Err())
	}
}
