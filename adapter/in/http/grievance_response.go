package http

import (
	"net/url"
	"time"

	"grievance_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// APIResponse is the envelope for successful responses. Errors are
// rendered by middleware.ErrorHandler.
type APIResponse struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

func SuccessResponse(c *fiber.Ctx, data any) error {
	return respond(c, fiber.StatusOK, data)
}

// AcceptedResponse acknowledges work queued for the worker.
func AcceptedResponse(c *fiber.Ctx, data any) error {
	return respond(c, fiber.StatusAccepted, data)
}

func respond(c *fiber.Ctx, status int, data any) error {
	requestID, _ := c.Locals("request_id").(string)
	return c.Status(status).JSON(APIResponse{
		Success:   true,
		Data:      data,
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// pathParam returns a URL-decoded route parameter. Message-IDs such as
// "<a1@x.edu>" arrive percent-encoded.
func pathParam(c *fiber.Ctx, name string) (string, error) {
	raw := c.Params(name)
	v, err := url.PathUnescape(raw)
	if err != nil || v == "" {
		return "", apperr.BadRequest("invalid " + name)
	}
	return v, nil
}
