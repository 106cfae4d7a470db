package handlers

import (
	"github.com/gofiber/fiber/v2"

	job "github.com/cuongccna/autopost-vn-sub000/internal/jobs"
)

type TokenHandler struct {
	refresh *job.TokenRefreshJob
}

func NewTokenHandler(refresh *job.TokenRefreshJob) *TokenHandler {
	return &TokenHandler{refresh: refresh}
}

// TriggerRefresh runs one credential refresh cycle outside the cron
// schedule. Useful after reconnecting an account.
func (h *TokenHandler) TriggerRefresh(c *fiber.Ctx) error {
	go h.refresh.RefreshTokens()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message": "Refresh cycle started",
	})
}
