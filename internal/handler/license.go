package handler

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"armt-platform/internal/apperr"
	"armt-platform/internal/middleware"
	"armt-platform/internal/model"
)

type ValidateInput struct {
	Key       string `json:"key" validate:"required"`
	MachineID string `json:"machine_id" validate:"required,max=256"`
	Version   string `json:"version" validate:"max=64"`
}

type ValidateResponse struct {
	Valid         bool       `json:"valid"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	DownloadToken string     `json:"download_token,omitempty"`
	Version       string     `json:"version,omitempty"`
	Error         string     `json:"error,omitempty"`
	Reason        string     `json:"reason,omitempty"`
}

type LicenseCreateInput struct {
	UserID         uint `json:"user_id" validate:"required"`
	DurationDays   int  `json:"duration_days" validate:"required,min=1,max=3650"`
	MaxActivations int  `json:"max_activations" validate:"min=0,max=1000"`
}

type LicenseUpdateInput struct {
	Active          *bool      `json:"is_active"`
	ActivationLimit *int       `json:"max_activations" validate:"omitempty,min=1,max=1000"`
	ExpiresAt       *time.Time `json:"expiration_date"`
}

// HandleLicenseValidate 安装程序验证许可证，首次验证时绑定设备
func (h *Handler) HandleLicenseValidate(c *fiber.Ctx) error {
	input := new(ValidateInput)
	if err := h.bind(c, input); err != nil {
		return rejectValidation(c, apperr.ErrMalformedInput, nil)
	}

	result, err := h.licenses.Validate(c.UserContext(), input.Key, input.MachineID, requestMeta(c))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ValidateResponse{
			Error:  apperr.Message(err),
			Reason: apperr.Code(err),
		})
	}
	if !result.Valid {
		return rejectValidation(c, result.Reason, result.ExpiresAt)
	}

	return c.JSON(ValidateResponse{
		Valid:         true,
		ExpiresAt:     result.ExpiresAt,
		DownloadToken: result.DownloadToken,
		Version:       result.Version,
	})
}

func rejectValidation(c *fiber.Ctx, reason error, expiresAt *time.Time) error {
	return c.Status(apperr.Status(reason)).JSON(ValidateResponse{
		ExpiresAt: expiresAt,
		Error:     apperr.Message(reason),
		Reason:    apperr.Code(reason),
	})
}

// HandleLicenseCreate 管理员签发许可证
func (h *Handler) HandleLicenseCreate(c *fiber.Ctx) error {
	input := new(LicenseCreateInput)
	if err := h.bind(c, input); err != nil {
		return err
	}

	license, err := h.licenses.Issue(c.UserContext(), middleware.CurrentUserID(c), input.UserID, input.DurationDays, input.MaxActivations)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":         true,
		"license_key":     license.Key,
		"expires_at":      license.ExpiresAt,
		"max_activations": license.ActivationLimit,
	})
}

// HandleLicenseDeactivate 停用许可证
func (h *Handler) HandleLicenseDeactivate(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	license, err := h.licenses.Deactivate(c.UserContext(), middleware.CurrentUserID(c), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "license": license})
}

// HandleLicenseReset 解除设备绑定
func (h *Handler) HandleLicenseReset(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	license, err := h.licenses.ResetBinding(c.UserContext(), middleware.CurrentUserID(c), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "license": license})
}

// HandleLicenseUpdate 部分更新：启用状态、激活上限、到期时间
func (h *Handler) HandleLicenseUpdate(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	input := new(LicenseUpdateInput)
	if err := h.bind(c, input); err != nil {
		return err
	}

	license, err := h.licenses.Update(c.UserContext(), middleware.CurrentUserID(c), id, model.LicenseUpdate{
		Active:          input.Active,
		ActivationLimit: input.ActivationLimit,
		ExpiresAt:       input.ExpiresAt,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "license": license})
}

// HandleListLicenses 管理员获取所有许可证数据
func (h *Handler) HandleListLicenses(c *fiber.Ctx) error {
	licenses, err := h.licenses.List(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"licenses": licenses})
}

func (h *Handler) HandleListUserLicenses(c *fiber.Ctx) error {
	userID, err := paramID(c, "userId")
	if err != nil {
		return err
	}
	licenses, err := h.licenses.ListByUser(c.UserContext(), userID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"licenses": licenses})
}

// HandleGetMyLicenses 当前用户自己的许可证
func (h *Handler) HandleGetMyLicenses(c *fiber.Ctx) error {
	licenses, err := h.licenses.ListByUser(c.UserContext(), middleware.CurrentUserID(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"licenses": licenses})
}

// HandleLicenseUsage 许可证验证记录
func (h *Handler) HandleLicenseUsage(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	usage, err := h.licenses.Usage(c.UserContext(), c.Params("key"), limit)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"usage": usage})
}

// HandleLicenseSync 将所有许可证重新写入 Google Sheet
func (h *Handler) HandleLicenseSync(c *fiber.Ctx) error {
	n, err := h.licenses.SyncAll(c.UserContext(), middleware.CurrentUserID(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "synced": n})
}
