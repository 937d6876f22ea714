package middleware

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"
)

// Logger logs every request through slog. Successful requests are debug level,
// so a polling cli does not flood the agent log.
func Logger() gin.HandlerFunc {
	return sloggin.NewWithConfig(slog.Default(), sloggin.Config{
		DefaultLevel:     slog.LevelDebug,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
		Filters: []sloggin.Filter{
			sloggin.IgnorePath("/metrics"),
		},
	})
}
