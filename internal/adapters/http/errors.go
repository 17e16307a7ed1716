package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/livetrack/internal/core/domain"
)

// APIError is a structured error response.
type APIError struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`    // bad_request, unauthorized, forbidden, not_found, internal_error
	Message   string `json:"message"` // Human-readable message
	RequestID string `json:"request_id,omitempty"`
}

// newError builds a JSON error response with a request ID.
func newError(c *fiber.Ctx, status int, code string, message string) error {
	reqID, _ := c.Locals("requestid").(string)
	return c.Status(status).JSON(APIError{
		Status:    status,
		Code:      code,
		Message:   message,
		RequestID: reqID,
	})
}

// errBadRequest returns a 400 error.
func errBadRequest(c *fiber.Ctx, msg string) error {
	return newError(c, 400, "bad_request", msg)
}

// errNotFound returns a 404 error.
func errNotFound(c *fiber.Ctx, msg string) error {
	return newError(c, 404, "not_found", msg)
}

// errInternal returns a 500 error.
func errInternal(c *fiber.Ctx, msg string) error {
	return newError(c, 500, "internal_error", msg)
}

// errUnauthorized returns a 401 error.
func errUnauthorized(c *fiber.Ctx, msg string) error {
	return newError(c, 401, "unauthorized", msg)
}

// errForbidden returns a 403 error.
func errForbidden(c *fiber.Ctx, msg string) error {
	return newError(c, 403, "forbidden", msg)
}

// errDomain maps a classified error onto the HTTP envelope. Unclassified
// errors are logged and reported as internal without their detail.
func errDomain(c *fiber.Ctx, err error) error {
	switch domain.CodeOf(err) {
	case domain.CodeValidation:
		return errBadRequest(c, domain.MessageOf(err))
	case domain.CodeAuthentication:
		return errUnauthorized(c, domain.MessageOf(err))
	case domain.CodeAuthorization:
		return errForbidden(c, domain.MessageOf(err))
	case domain.CodeNotFound:
		return errNotFound(c, domain.MessageOf(err))
	default:
		LoggerFromCtx(c.UserContext()).Error("request failed", "path", c.Path(), "error", err)
		return errInternal(c, "internal error")
	}
}
