package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// RequestLogging emits one access-log line per request.
func RequestLogging() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			req := c.Request()
			log.Info().
				Str("method", req.Method).
				Str("uri", req.RequestURI).
				Str("remote", c.RealIP()).
				Int("status", c.Response().Status).
				Dur("latency", time.Since(start)).
				Msg("http request")
			return err
		}
	}
}
