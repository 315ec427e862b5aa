package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/site_structure_server/internal/pkg/logger"
)

// RequestLogger 每个请求记录一条日志，健康检查和指标抓取记为 debug 级别
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := logger.Fields{
			"method":    c.Request.Method,
			"path":      path,
			"status":    c.Writer.Status(),
			"duration":  time.Since(start).String(),
			"client_ip": c.ClientIP(),
		}
		if q := c.Request.URL.RawQuery; q != "" {
			fields["query"] = q
		}

		entry := log.WithFields(fields)
		switch {
		case len(c.Errors) > 0:
			entry.WithField("errors", c.Errors.String()).Error("http request with errors")
		case strings.HasPrefix(path, "/health") || path == "/metrics":
			entry.Debug("http request")
		default:
			entry.Info("http request")
		}
	}
}
