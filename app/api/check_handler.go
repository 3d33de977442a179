package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Counter reports how many chunks the index holds.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

type CheckHandler struct {
	index Counter
}

func NewCheckHandler(index Counter) *CheckHandler {
	return &CheckHandler{index: index}
}

func (h CheckHandler) HandleHealthy(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"result": "ok"})
}

// HandleReady answers 503 until the index is reachable and holds at least one chunk.
func (h CheckHandler) HandleReady(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
	defer cancel()

	n, err := h.index.Count(ctx)
	if err != nil {
		return ErrUnavailable("index unreachable: " + err.Error())
	}
	if n == 0 {
		return ErrUnavailable("index is empty, run the loader first")
	}
	return c.JSON(fiber.Map{"result": "ok", "chunks": n})
}
