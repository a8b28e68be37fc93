package retention

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Reporter exposes the state of the log retention job
type Reporter interface {
	IsRunning() bool
	GetNextRun() time.Time
	GetLastRun() time.Time
}

// Status returns the current retention schedule
func Status(r Reporter, days int, schedule string) gin.HandlerFunc {
	return func(c *gin.Context) {
		state := "stopped"
		if days <= 0 {
			state = "disabled"
		} else if r.IsRunning() {
			state = "running"
		}

		response := gin.H{
			"status":         state,
			"retention_days": days,
			"schedule":       schedule,
		}
		if next := r.GetNextRun(); !next.IsZero() {
			response["next_run"] = next
		}
		if last := r.GetLastRun(); !last.IsZero() {
			response["last_run"] = last
		}

		c.JSON(http.StatusOK, response)
	}
}
