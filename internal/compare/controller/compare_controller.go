package controller

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"rechub/internal/compare/service"
	"rechub/pkg/utils/response"
)

// CompareController handles cross-platform reporting endpoints.
type CompareController struct {
	compare *service.CompareService
}

// NewCompareController creates a new CompareController.
func NewCompareController(compare *service.CompareService) *CompareController {
	return &CompareController{compare: compare}
}

// Differences returns mismatched run pairs between two platforms.
// Query parameters: include_errors, order (asc|desc), limit, offset.
func (h *CompareController) Differences(c *gin.Context) {
	os1 := c.Param("os1")
	os2 := c.Param("os2")
	includeErrors := boolQuery(c, "include_errors")
	newestFirst := c.DefaultQuery("order", "asc") == "desc"
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	diffs, err := h.compare.Differences(c.Request.Context(), os1, os2, includeErrors, newestFirst, limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"items": diffs})
}

// DifferenceCount returns how many run pairs disagree between two
// platforms.
func (h *CompareController) DifferenceCount(c *gin.Context) {
	os1 := c.Param("os1")
	os2 := c.Param("os2")
	includeErrors := boolQuery(c, "include_errors")

	count, err := h.compare.DifferenceCount(c.Request.Context(), os1, os2, includeErrors)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"count": count})
}

// Desyncs lists runs whose achieved time disagrees with the time in
// the submission name. Optional query parameter: os.
func (h *CompareController) Desyncs(c *gin.Context) {
	desyncs, err := h.compare.Desyncs(c.Request.Context(), c.Query("os"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"items": desyncs})
}

// Leaderboard ranks submissions by the metric path parameter.
// Query parameters: order (best|worst), limit.
func (h *CompareController) Leaderboard(c *gin.Context) {
	metric := c.Param("metric")
	worst := c.DefaultQuery("order", "best") == "worst"
	limit := intQuery(c, "limit", 20)

	entries, err := h.compare.Leaderboard(c.Request.Context(), metric, worst, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	order := "best"
	if worst {
		order = "worst"
	}
	response.Success(c, gin.H{"metric": metric, "order": order, "items": entries})
}

func boolQuery(c *gin.Context, key string) bool {
	v, err := strconv.ParseBool(c.DefaultQuery(key, "false"))
	return err == nil && v
}

func intQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
