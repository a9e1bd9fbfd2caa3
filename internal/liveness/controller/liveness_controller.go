package controller

import (
	"time"

	"github.com/gin-gonic/gin"

	"rechub/internal/liveness"
	"rechub/pkg/utils/response"
)

// LivenessController exposes which runners are currently active.
type LivenessController struct {
	tracker *liveness.Tracker
}

// NewLivenessController creates a new LivenessController.
func NewLivenessController(tracker *liveness.Tracker) *LivenessController {
	return &LivenessController{tracker: tracker}
}

// Live returns runners seen within the liveness window.
func (h *LivenessController) Live(c *gin.Context) {
	response.Success(c, gin.H{"runners": h.tracker.Live(time.Now())})
}

// All returns every runner seen since the process started, live ones
// first.
func (h *LivenessController) All(c *gin.Context) {
	response.Success(c, gin.H{"runners": h.tracker.Snapshot(time.Now())})
}
