package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware for metrics collection
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		metrics.RecordHTTPRequest(method, path, status, time.Since(start))
	}
}

// Timer measures syscall duration
type Timer struct {
	start   time.Time
	metrics *Metrics
	name    string
}

// NewTimer starts timing the named syscall
func NewTimer(metrics *Metrics, name string) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
		name:    name,
	}
}

// Stop records the duration and outcome
func (t *Timer) Stop(err error) {
	t.metrics.RecordSyscall(t.name, err, time.Since(t.start))
}
