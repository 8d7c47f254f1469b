package handler

import (
	"crypto/subtle"
	"encoding/json"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gofiber/fiber/v2"

	"armt-platform/internal/apperr"
	"armt-platform/internal/middleware"
	"armt-platform/internal/telegram"
)

type VerifyInput struct {
	Code string `json:"code" validate:"required"`
}

type LinkInput struct {
	Code string `json:"code" validate:"required,max=32"`
}

// HandleVerifyTwoFactor 校验 Telegram 验证码，成功后换发会话
func (h *Handler) HandleVerifyTwoFactor(c *fiber.Ctx) error {
	input := new(VerifyInput)
	if err := h.bind(c, input); err != nil {
		return err
	}

	result, err := h.auth.VerifyChallenge(c.UserContext(), c.Cookies(middleware.SessionCookie), input.Code, requestMeta(c))
	if err != nil {
		return err
	}

	h.setSessionCookie(c, result.SessionID)
	return c.JSON(fiber.Map{
		"user":  result.User,
		"token": result.Token,
	})
}

// HandleResendTwoFactor 重新发送验证码
func (h *Handler) HandleResendTwoFactor(c *fiber.Ctx) error {
	if err := h.auth.Resend(c.UserContext(), c.Cookies(middleware.SessionCookie)); err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "verification code sent to Telegram",
	})
}

// HandleLinkTelegram 用机器人发出的绑定码关联 Telegram 账号
func (h *Handler) HandleLinkTelegram(c *fiber.Ctx) error {
	input := new(LinkInput)
	if err := h.bind(c, input); err != nil {
		return err
	}

	user, err := h.accounts.LinkTelegram(c.UserContext(), middleware.CurrentUserID(c), input.Code)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "user": user})
}

func (h *Handler) HandleEnableTwoFactor(c *fiber.Ctx) error {
	user, err := h.accounts.EnableTwoFactor(c.UserContext(), middleware.CurrentUserID(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "user": user})
}

func (h *Handler) HandleDisableTwoFactor(c *fiber.Ctx) error {
	user, err := h.accounts.DisableTwoFactor(c.UserContext(), middleware.CurrentUserID(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "user": user})
}

// HandleTelegramWebhook 接收 Telegram 推送。处理失败只记日志并返回 200，
// 否则 Telegram 会不断重试同一条更新
func (h *Handler) HandleTelegramWebhook(c *fiber.Ctx) error {
	if h.webhookSecret != "" {
		got := c.Query(telegram.WebhookSecretParam)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.webhookSecret)) != 1 {
			return apperr.ErrForbidden
		}
	}
	if h.bot == nil {
		return c.SendStatus(fiber.StatusOK)
	}

	var update tgbotapi.Update
	if err := json.Unmarshal(c.Body(), &update); err != nil {
		h.log.WarnContext(c.UserContext(), "malformed telegram update", "error", err)
		return c.SendStatus(fiber.StatusOK)
	}
	if err := h.bot.HandleUpdate(c.UserContext(), update); err != nil {
		h.log.ErrorContext(c.UserContext(), "telegram update failed", "update_id", update.UpdateID, "error", err)
	}
	return c.SendStatus(fiber.StatusOK)
}
