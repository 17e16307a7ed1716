package http

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/livetrack/internal/core/domain"
	"github.com/samirrijal/livetrack/internal/core/ports"
)

const identityKey ctxKey = "identity"

// IdentityMiddleware verifies the bearer token with the same verifier the
// websocket AUTH message uses and stores the identity in the user context.
// A nil verifier lets every request through anonymously.
func IdentityMiddleware(auth ports.AuthVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if auth == nil {
			return c.Next()
		}

		token, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
		token = strings.TrimSpace(token)
		if !ok || token == "" {
			return errUnauthorized(c, "bearer token required")
		}

		who, err := auth.VerifyConnection(c.UserContext(), token)
		if err != nil {
			return errUnauthorized(c, domain.MessageOf(err))
		}

		ctx := context.WithValue(c.UserContext(), identityKey, who)
		ctx = withLogger(ctx, LoggerFromCtx(ctx).With("user_id", who.ID, "role", who.Role))
		c.SetUserContext(ctx)
		c.Locals("user_id", who.ID)
		return c.Next()
	}
}

// IdentityFromCtx returns the caller verified by IdentityMiddleware.
func IdentityFromCtx(ctx context.Context) (domain.Identity, bool) {
	who, ok := ctx.Value(identityKey).(domain.Identity)
	return who, ok
}

// authorize applies the subscription rules to a read of topic. Requests are
// unchecked when no verifier is configured.
func (d *Dependencies) authorize(ctx context.Context, topic domain.Topic) error {
	if d.Auth == nil {
		return nil
	}
	who, ok := IdentityFromCtx(ctx)
	if !ok {
		return domain.AuthenticationError("not authenticated", nil)
	}
	if d.Gateway == nil {
		return domain.AuthorizationError("access cannot be verified")
	}
	return d.Gateway.Authorize(ctx, who, topic)
}
