package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// HandleLicenseStatistics 处理许可证统计信息请求
func (h *Handler) HandleLicenseStatistics(c *fiber.Ctx) error {
	var since time.Time
	if startDate := c.Query("start_date"); startDate != "" {
		parsed, err := time.Parse("2006-01-02", startDate)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "start_date must be YYYY-MM-DD",
				"code":  "malformed_input",
			})
		}
		since = parsed
	}

	stats, err := h.licenses.Stats(c.UserContext(), since)
	if err != nil {
		return err
	}

	today := stats.GetDailyUsageByDate(time.Now().UTC())
	return c.JSON(fiber.Map{
		"statistics":   stats,
		"success_rate": stats.GetSuccessRate(),
		"today":        today,
	})
}
