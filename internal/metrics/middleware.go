package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// GinMiddleware instruments status API requests. Uses the route template
// as the path label to keep cardinality bounded.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		duration := float64(time.Since(start).Milliseconds())
		status := strconv.Itoa(c.Writer.Status())

		RecordAPIRequest(c.Request.Method, path, status, duration)
	}
}
