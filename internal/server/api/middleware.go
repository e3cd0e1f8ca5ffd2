package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"satchel/internal/server/auth"

	"github.com/labstack/echo/v4"
)

const userIDKey = "userID"

// RequestLogger returns an echo middleware that logs requests using slog.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			slog.Info("request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"latency_ms", time.Since(start).Milliseconds(),
				"ip", c.RealIP(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"bytes_out", res.Size,
			)

			return err
		}
	}
}

// RequireAuth rejects requests without a valid bearer token and stores the
// authenticated owner id in the request context.
func RequireAuth(tokens *auth.TokenManager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID, ok := bearerSubject(c, tokens)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{
					"error": "authentication required",
				})
			}
			c.Set(userIDKey, userID)
			return next(c)
		}
	}
}

// OptionalAuth stores the owner id when a valid bearer token is present and
// lets the request through either way. Downloads use this: anonymous fetches
// are allowed, authenticated ones additionally land in the history log.
func OptionalAuth(tokens *auth.TokenManager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if userID, ok := bearerSubject(c, tokens); ok {
				c.Set(userIDKey, userID)
			}
			return next(c)
		}
	}
}

func bearerSubject(c echo.Context, tokens *auth.TokenManager) (string, bool) {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return "", false
	}
	userID, err := tokens.Verify(token)
	if err != nil {
		return "", false
	}
	return userID, true
}

// currentUserID returns the authenticated owner id set by the auth middleware.
func currentUserID(c echo.Context) (string, bool) {
	id, ok := c.Get(userIDKey).(string)
	return id, ok && id != ""
}
