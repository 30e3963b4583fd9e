package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/prodforms/formcap-api/internal/service"
)

// Metrics observes every request through the metrics service. Unmatched
// routes are recorded under their raw URL path so 404 traffic stays visible.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
