package controllers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayProof/internal/pkg/jobqueue"
)

// QueueStats exposes the job queue counters.
type QueueStats interface {
	GetJobStats(ctx context.Context) (map[jobqueue.JobStatus]int64, error)
	GetQueueSize(ctx context.Context) (int64, error)
	GetProcessingSize(ctx context.Context) (int64, error)
}

// AdminQueueController reports the notification and grant-retry queue state
type AdminQueueController struct {
	queue QueueStats
}

// NewAdminQueueController creates a new admin queue controller
func NewAdminQueueController(queue QueueStats) *AdminQueueController {
	return &AdminQueueController{queue: queue}
}

// HandleQueueStats returns job counters by status plus the pending and in-flight sizes
func (aqc *AdminQueueController) HandleQueueStats(c *fiber.Ctx) error {
	if aqc.queue == nil {
		return respondMessage(c, fiber.StatusServiceUnavailable, "job queue not configured")
	}
	ctx := c.UserContext()
	stats, err := aqc.queue.GetJobStats(ctx)
	if err != nil {
		log.Errorf("[API] Job stats unavailable: %v", err)
		return respondMessage(c, fiber.StatusServiceUnavailable, "job queue unavailable")
	}
	pending, err := aqc.queue.GetQueueSize(ctx)
	if err != nil {
		log.Errorf("[API] Queue size unavailable: %v", err)
		return respondMessage(c, fiber.StatusServiceUnavailable, "job queue unavailable")
	}
	processing, err := aqc.queue.GetProcessingSize(ctx)
	if err != nil {
		log.Errorf("[API] Processing size unavailable: %v", err)
		return respondMessage(c, fiber.StatusServiceUnavailable, "job queue unavailable")
	}
	return respondOK(c, fiber.StatusOK, fiber.Map{
		"by_status":  stats,
		"pending":    pending,
		"processing": processing,
	})
}
