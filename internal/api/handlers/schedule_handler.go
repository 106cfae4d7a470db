package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"

	"github.com/cuongccna/autopost-vn-sub000/internal/orchestrator"
	"github.com/cuongccna/autopost-vn-sub000/internal/queue"
	"github.com/cuongccna/autopost-vn-sub000/internal/repository"
)

type ScheduleHandler struct {
	orch        *orchestrator.Orchestrator
	schedules   repository.PostScheduleRepository
	posts       repository.PostRepository
	AsynqClient *asynq.Client
}

func NewScheduleHandler(
	orch *orchestrator.Orchestrator,
	schedules repository.PostScheduleRepository,
	posts repository.PostRepository,
	asynqClient *asynq.Client) *ScheduleHandler {
	return &ScheduleHandler{
		orch:        orch,
		schedules:   schedules,
		posts:       posts,
		AsynqClient: asynqClient,
	}
}

// ListPostSchedules returns the per-account delivery state of one post.
func (h *ScheduleHandler) ListPostSchedules(c *fiber.Ctx) error {
	userID := GetUserID(c)
	postID := ParamID(c, "id")

	post, err := h.posts.GetByID(c.Context(), postID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to load post",
		})
	}
	if post == nil || post.UserID != userID {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Post not found",
		})
	}

	schedules, err := h.schedules.ListByPostID(c.Context(), postID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to list schedules",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"post_status": post.Status,
		"schedules":   schedules,
	})
}

// CancelSchedule stops a pending or processing schedule. Terminal schedules
// are refused.
func (h *ScheduleHandler) CancelSchedule(c *fiber.Ctx) error {
	userID := GetUserID(c)
	scheduleID := ParamID(c, "id")

	sched, err := h.schedules.GetByID(c.Context(), scheduleID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to load schedule",
		})
	}
	if sched == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Schedule not found",
		})
	}

	post, err := h.posts.GetByID(c.Context(), sched.PostID)
	if err != nil || post == nil || post.UserID != userID {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Schedule not found",
		})
	}

	cancelled, err := h.orch.Cancel(c.Context(), scheduleID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to cancel schedule",
		})
	}
	if !cancelled {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Schedule already completed",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Schedule cancelled",
	})
}

// EnqueueSchedule queues an immediate publish attempt for a due schedule.
func (h *ScheduleHandler) EnqueueSchedule(c *fiber.Ctx) error {
	userID := GetUserID(c)
	scheduleID := ParamID(c, "id")

	sched, err := h.schedules.GetByID(c.Context(), scheduleID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to load schedule",
		})
	}
	if sched == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Schedule not found",
		})
	}

	post, err := h.posts.GetByID(c.Context(), sched.PostID)
	if err != nil || post == nil || post.UserID != userID {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Schedule not found",
		})
	}

	if err := queue.EnqueueSchedule(h.AsynqClient, scheduleID, 0); err != nil {
		slog.Info(err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Error enqueuing schedule",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Schedule enqueued",
	})
}
