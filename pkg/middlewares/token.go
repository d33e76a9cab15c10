package middlewares

import (
	"strings"

	"chat_relay_service/pkg/token"

	"github.com/gofiber/fiber/v2"
)

const (
	//QueryToken token in query name
	QueryToken = "auth"

	//CookieToken token in cookie name
	CookieToken = "auth_token"

	//TokenIdentity verified identity, set c.locals name
	TokenIdentity = "Identity"
)

// JWTMiddleware validates the token from query, cookie or Authorization header and stores the identity in Locals.
// A nil verifier disables the check.
func JWTMiddleware(v *token.Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if v == nil {
			return c.Next()
		}

		tokenStr := c.Query(QueryToken)
		if tokenStr == "" {
			tokenStr = c.Cookies(CookieToken)
		}
		// REST client 多半走 Authorization header
		if tokenStr == "" {
			tokenStr = strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
		}
		if tokenStr == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing token",
			})
		}

		claims, err := v.Parse(tokenStr)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid token",
			})
		}

		c.Locals(TokenIdentity, claims.Identity)
		return c.Next()
	}
}
