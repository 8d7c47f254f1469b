package handler

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"armt-platform/internal/apperr"
	"armt-platform/internal/middleware"
	"armt-platform/internal/model"
)

// HandleGetLogs 管理员查看操作日志，可按 user_id 过滤
func (h *Handler) HandleGetLogs(c *fiber.Ctx) error {
	page, pageSize := pagination(c)

	var userID uint
	if raw := c.Query("user_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return apperr.ErrMalformedInput
		}
		userID = uint(id)
	}

	var (
		logs  []model.OperationLog
		total int64
		err   error
	)
	if userID == 0 {
		logs, total, err = h.logs.GetOperationLogs(c.UserContext(), page, pageSize)
	} else {
		logs, total, err = h.logs.GetUserOperationLogs(c.UserContext(), userID, page, pageSize)
	}
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"logs":  logs,
		"total": total,
		"page":  page,
	})
}

// HandleGetUserLogs 当前用户的操作日志
func (h *Handler) HandleGetUserLogs(c *fiber.Ctx) error {
	page, pageSize := pagination(c)

	logs, total, err := h.logs.GetUserOperationLogs(c.UserContext(), middleware.CurrentUserID(c), page, pageSize)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"logs":  logs,
		"total": total,
		"page":  page,
	})
}

// HandleGetLoginLogs 当前用户的登录记录
func (h *Handler) HandleGetLoginLogs(c *fiber.Ctx) error {
	page, pageSize := pagination(c)

	logs, total, err := h.logs.GetLoginLogs(c.UserContext(), middleware.CurrentUserID(c), page, pageSize)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"logs":  logs,
		"total": total,
		"page":  page,
	})
}
