package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"armt-platform/internal/apperr"
	"armt-platform/internal/model"
)

// SessionCookie 会话 cookie 名
const SessionCookie = "armt_sid"

// UserIDKey Locals 中保存用户ID的 key
const UserIDKey = "userID"

type TokenValidator interface {
	ValidateToken(token string) (uint, error)
}

// SessionResolver 根据会话ID获取用户ID
type SessionResolver interface {
	SessionUser(ctx context.Context, sid string) (uint, error)
}

type UserLookup interface {
	GetUser(ctx context.Context, userID uint) (*model.User, error)
}

// Auth 接受 Bearer token 或已登录的会话 cookie，待验证会话不算登录
func Auth(tokens TokenValidator, sessions SessionResolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if authHeader := c.Get(fiber.HeaderAuthorization); authHeader != "" {
			// 获取 Bearer token
			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
				return apperr.ErrUnauthorized
			}
			userID, err := tokens.ValidateToken(tokenParts[1])
			if err != nil {
				return apperr.ErrUnauthorized
			}
			c.Locals(UserIDKey, userID)
			return c.Next()
		}

		sid := c.Cookies(SessionCookie)
		if sid == "" {
			return apperr.ErrUnauthorized
		}
		userID, err := sessions.SessionUser(c.UserContext(), sid)
		if err != nil {
			return err
		}
		c.Locals(UserIDKey, userID)
		return c.Next()
	}
}

// AdminOnly 需在 Auth 之后
func AdminOnly(users UserLookup) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, ok := c.Locals(UserIDKey).(uint)
		if !ok {
			return apperr.ErrUnauthorized
		}

		user, err := users.GetUser(c.UserContext(), userID)
		if err != nil || !user.IsAdmin() {
			return apperr.ErrForbidden
		}
		return c.Next()
	}
}

// CurrentUserID 获取 Auth 保存的用户ID
func CurrentUserID(c *fiber.Ctx) uint {
	userID, _ := c.Locals(UserIDKey).(uint)
	return userID
}
