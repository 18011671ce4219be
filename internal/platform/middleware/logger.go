package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/sagecare/sagecare/internal/platform/auth"
	"github.com/sagecare/sagecare/internal/platform/db"
)

// Logger emits one structured line per request. The acting user and practice
// are attached when present so a rule change or hold action can be traced
// without opening the audit trail.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid, _ := c.Get("request_id").(string)

			err := next(c)

			evt := logger.Info()
			if err != nil {
				evt = logger.Error().Err(err)
			}

			evt = evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", c.Response().Status).
				Int64("bytes_out", c.Response().Size).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP())
			if uid := auth.UserIDFromContext(req.Context()); uid != "" {
				evt = evt.Str("user_id", uid)
			}
			if tenant := db.TenantFromContext(req.Context()); tenant != "" {
				evt = evt.Str("tenant", tenant)
			}
			evt.Msg("request completed")

			return err
		}
	}
}
