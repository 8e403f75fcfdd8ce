package handler

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/netevents/internal/domain"
	"github.com/kursadbilgin/netevents/internal/transport"
)

// FrameRouter receives frames posted by a webhook gateway.
type FrameRouter interface {
	Route(ctx context.Context, msg transport.Inbound)
}

type FrameHandler struct {
	self   domain.Endpoint
	router FrameRouter
}

func NewFrameHandler(self domain.Endpoint, router FrameRouter) (*FrameHandler, error) {
	if router == nil {
		return nil, fmt.Errorf("frame router is required")
	}
	return &FrameHandler{self: self, router: router}, nil
}

func RegisterFrameRoutes(router fiber.Router, self domain.Endpoint, frameRouter FrameRouter) error {
	h, err := NewFrameHandler(self, frameRouter)
	if err != nil {
		return err
	}
	router.Post("/v1/frames", h.IngestFrame)
	return nil
}

// IngestFrame routes every payload of a posted frame. Frames this endpoint
// is excluded from or not addressed to are accepted and ignored.
func (h *FrameHandler) IngestFrame(c *fiber.Ctx) error {
	frame, err := transport.DecodeFrame(c.Body())
	if err != nil {
		return toHTTPError(err)
	}
	if frame.SkipFor(h.self) {
		return c.SendStatus(fiber.StatusAccepted)
	}

	messages := frame.Inbound()
	for _, msg := range messages {
		h.router.Route(c.UserContext(), msg)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"packetId": frame.ID,
		"routed":   len(messages),
	})
}
