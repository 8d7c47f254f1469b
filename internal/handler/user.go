package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"armt-platform/internal/apperr"
	"armt-platform/internal/middleware"
	"armt-platform/internal/service"
	"armt-platform/internal/store"
)

type RegisterInput struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type LoginInput struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type ChangePasswordInput struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=72"`
}

// UserSearchQuery 用户搜索查询参数
type UserSearchQuery struct {
	Page     int    `query:"page"`
	PageSize int    `query:"page_size"`
	Keyword  string `query:"keyword"`
	Role     string `query:"role"`
	Status   string `query:"status"`
}

// HandleRegister 注册普通用户
func (h *Handler) HandleRegister(c *fiber.Ctx) error {
	input := new(RegisterInput)
	if err := h.bind(c, input); err != nil {
		return err
	}

	user, err := h.auth.Register(c.UserContext(), input.Email, input.Password)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"user": user})
}

// HandleLogin 密码登录。开启两步验证的用户拿到待验证会话，验证码发往 Telegram
func (h *Handler) HandleLogin(c *fiber.Ctx) error {
	input := new(LoginInput)
	if err := h.bind(c, input); err != nil {
		return err
	}

	result, err := h.auth.Login(c.UserContext(), c.Cookies(middleware.SessionCookie), input.Email, input.Password, requestMeta(c))
	if err != nil {
		// 验证码发送失败时会话仍然有效，客户端可以重发
		if result.SessionID != "" && errors.Is(err, apperr.ErrDeliveryFailure) {
			h.setSessionCookie(c, result.SessionID)
			return c.Status(apperr.Status(err)).JSON(fiber.Map{
				"requires2FA": true,
				"error":       apperr.Message(err),
				"code":        apperr.Code(err),
			})
		}
		return err
	}

	h.setSessionCookie(c, result.SessionID)
	if result.RequiresChallenge {
		return c.JSON(fiber.Map{
			"requires2FA": true,
			"message":     "verification code sent to Telegram",
		})
	}
	return c.JSON(fiber.Map{
		"user":  result.User,
		"token": result.Token,
	})
}

func (h *Handler) HandleLogout(c *fiber.Ctx) error {
	if err := h.auth.Logout(c.UserContext(), c.Cookies(middleware.SessionCookie)); err != nil {
		return err
	}
	h.clearSessionCookie(c)
	return c.JSON(fiber.Map{"success": true})
}

// HandleCurrentUser 获取当前用户信息
func (h *Handler) HandleCurrentUser(c *fiber.Ctx) error {
	user, err := h.accounts.GetUser(c.UserContext(), middleware.CurrentUserID(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"user": user})
}

// HandleChangePassword 修改密码
func (h *Handler) HandleChangePassword(c *fiber.Ctx) error {
	input := new(ChangePasswordInput)
	if err := h.bind(c, input); err != nil {
		return err
	}

	if err := h.auth.ChangePassword(c.UserContext(), middleware.CurrentUserID(c), input.CurrentPassword, input.NewPassword); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true})
}

// HandleSearchUsers 管理员搜索用户
func (h *Handler) HandleSearchUsers(c *fiber.Ctx) error {
	query := new(UserSearchQuery)
	if err := c.QueryParser(query); err != nil {
		return apperr.ErrMalformedInput
	}
	page, pageSize := pagination(c)

	users, total, err := h.accounts.SearchUsers(c.UserContext(), store.UserQuery{
		Page:     page,
		PageSize: pageSize,
		Keyword:  query.Keyword,
		Role:     query.Role,
		Status:   query.Status,
	})
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"users": users,
		"total": total,
		"page":  page,
	})
}

type UpdateUserInput struct {
	Role   *string `json:"role" validate:"omitempty,oneof=user admin"`
	Status *string `json:"status" validate:"omitempty,oneof=active disabled"`
}

// HandleUpdateUser 管理员修改用户角色和状态
func (h *Handler) HandleUpdateUser(c *fiber.Ctx) error {
	userID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	input := new(UpdateUserInput)
	if err := h.bind(c, input); err != nil {
		return err
	}

	user, err := h.accounts.UpdateUser(c.UserContext(), middleware.CurrentUserID(c), userID, service.UserUpdate{
		Role:   input.Role,
		Status: input.Status,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "user": user})
}

type TokenInput struct {
	Token string `json:"token" validate:"required"`
}

// HandleValidateToken 校验 Bearer 令牌，返回对应用户
func (h *Handler) HandleValidateToken(c *fiber.Ctx) error {
	input := new(TokenInput)
	if err := h.bind(c, input); err != nil {
		return err
	}

	userID, err := h.tokens.ValidateToken(input.Token)
	if err != nil {
		return c.JSON(fiber.Map{"valid": false})
	}
	user, err := h.accounts.GetUser(c.UserContext(), userID)
	if errors.Is(err, apperr.ErrUserNotFound) {
		return c.JSON(fiber.Map{"valid": false})
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"valid": true, "user": user})
}
