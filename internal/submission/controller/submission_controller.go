package controller

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"rechub/internal/account/middleware"
	"rechub/internal/submission/repository"
	"rechub/internal/submission/service"
	"rechub/pkg/utils/response"
)

// SubmissionController handles recording upload, listing, download,
// the pending queue and run reporting.
type SubmissionController struct {
	submissions *service.SubmissionService
}

// NewSubmissionController creates a new SubmissionController.
func NewSubmissionController(submissions *service.SubmissionService) *SubmissionController {
	return &SubmissionController{submissions: submissions}
}

// SubmissionResponse is the public view of a stored submission.
type SubmissionResponse struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Hash         string    `json:"hash"`
	UploadDate   time.Time `json:"upload_date"`
	IsTAS        bool      `json:"is_tas"`
	ExpectedTime *int64    `json:"expected_time"`
}

func toSubmissionResponse(sub *repository.Submission) SubmissionResponse {
	return SubmissionResponse{
		ID:           sub.ID,
		Name:         sub.Name,
		Hash:         sub.Hash,
		UploadDate:   sub.UploadDate,
		IsTAS:        sub.IsTAS,
		ExpectedTime: sub.ExpectedTime,
	}
}

// UploadResponse reports the outcome of an upload, including whether
// the recording was already known.
type UploadResponse struct {
	Submission SubmissionResponse `json:"submission"`
	Created    bool               `json:"created"`
}

// Upload accepts a multipart recording file and stores it,
// deduplicating on content. Optional form fields tas and expected
// replace the name-derived heuristics for a new submission.
func (h *SubmissionController) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "missing file field")
		return
	}
	overrides, err := uploadOverrides(c)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if fileHeader.Size > service.MaxRecordingSize {
		response.BadRequest(c, "recording file is too large")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		response.BadRequest(c, "cannot open uploaded file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, service.MaxRecordingSize+1))
	if err != nil {
		response.BadRequest(c, "cannot read uploaded file")
		return
	}

	sub, created, err := h.submissions.CreateOrFind(c.Request.Context(), fileHeader.Filename, data, overrides)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, UploadResponse{Submission: toSubmissionResponse(sub), Created: created})
}

func uploadOverrides(c *gin.Context) (*service.GuessOverrides, error) {
	overrides := &service.GuessOverrides{}
	set := false
	if raw := c.PostForm("tas"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid tas value %q", raw)
		}
		overrides.IsTAS = &v
		set = true
	}
	if raw := c.PostForm("expected"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("invalid expected value %q", raw)
		}
		overrides.ExpectedTime = &v
		set = true
	}
	if !set {
		return nil, nil
	}
	return overrides, nil
}

// ListResponse is a page of submissions.
type ListResponse struct {
	Items []SubmissionResponse `json:"items"`
	Total int64                `json:"total"`
}

// List returns submissions ordered by upload date.
func (h *SubmissionController) List(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	newestFirst := c.DefaultQuery("order", "desc") != "asc"

	subs, total, err := h.submissions.List(c.Request.Context(), limit, offset, newestFirst)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]SubmissionResponse, 0, len(subs))
	for _, sub := range subs {
		items = append(items, toSubmissionResponse(sub))
	}
	response.Success(c, ListResponse{Items: items, Total: total})
}

// Detail returns one submission with its recorded runs.
func (h *SubmissionController) Detail(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	sub, err := h.submissions.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	runs, err := h.submissions.Runs(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	best, err := h.submissions.BestRun(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	payload := gin.H{
		"submission": toSubmissionResponse(sub),
		"runs":       toRunResponses(runs),
	}
	if best != nil {
		bestResp := toRunResponse(best)
		payload["best_run"] = &bestResp
	}
	response.Success(c, payload)
}

// Download streams the raw recording bytes.
func (h *SubmissionController) Download(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	sub, reader, err := h.submissions.Download(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer reader.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", sub.Name))
	c.Header("Content-Type", "application/octet-stream")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, reader); err != nil {
		// Headers are already out, nothing sane left to send.
		c.Abort()
	}
}

// PendingItem is one queue entry handed to a runner.
type PendingItem struct {
	ID          int64  `json:"id"`
	FileName    string `json:"file_name"`
	DownloadURL string `json:"download_url"`
	RunsURL     string `json:"runs_url"`
}

// PendingResponse is a page of the per-platform work queue.
type PendingResponse struct {
	Items      []PendingItem `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// Pending returns submissions that still need a run on the given
// platform, oldest upload first.
func (h *SubmissionController) Pending(c *gin.Context) {
	os := c.Param("os")
	cursor := c.Query("cursor")
	limit := intQuery(c, "limit", 50)

	identity := middleware.CurrentUsername(c)
	subs, nextCursor, err := h.submissions.Pending(c.Request.Context(), identity, os, cursor, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]PendingItem, 0, len(subs))
	for _, sub := range subs {
		items = append(items, PendingItem{
			ID:          sub.ID,
			FileName:    sub.Name,
			DownloadURL: fmt.Sprintf("/api/v1/submissions/%d/download", sub.ID),
			RunsURL:     fmt.Sprintf("/api/v1/submissions/%d/runs", sub.ID),
		})
	}
	response.Success(c, PendingResponse{Items: items, NextCursor: nextCursor})
}

// ReportRunRequest is a runner's verification outcome for one
// submission. Exactly one of score and error must be set.
type ReportRunRequest struct {
	OS    string              `json:"os" binding:"required"`
	Score *service.ScoreInput `json:"score"`
	Error *string             `json:"error"`
}

// RunResponse is the public view of a recorded run.
type RunResponse struct {
	ID           int64               `json:"id"`
	SubmissionID int64               `json:"submission_id"`
	OS           string              `json:"os"`
	RunDate      time.Time           `json:"run_date"`
	Score        *service.ScoreInput `json:"score,omitempty"`
	Error        *string             `json:"error,omitempty"`
}

func toRunResponse(run *repository.Run) RunResponse {
	resp := RunResponse{
		ID:           run.ID,
		SubmissionID: run.SubmissionID,
		OS:           run.OS,
		RunDate:      run.RunDate,
		Error:        run.Error,
	}
	if run.Score != nil {
		resp.Score = &service.ScoreInput{
			Success:     run.Score.Success,
			Mission:     run.Score.Mission,
			LevelName:   run.Score.LevelName,
			ScoreTime:   run.Score.ScoreTime,
			ElapsedTime: run.Score.ElapsedTime,
			BonusTime:   run.Score.BonusTime,
			GemCount:    run.Score.GemCount,
			GemTotal:    run.Score.GemTotal,
			FPS:         run.Score.FPS,
			FramesCount: run.Score.FramesCount,
			FramesTime:  run.Score.FramesTime,
		}
	}
	return resp
}

func toRunResponses(runs []*repository.Run) []RunResponse {
	items := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		items = append(items, toRunResponse(run))
	}
	return items
}

// ReportRun records a verification outcome for a submission.
func (h *SubmissionController) ReportRun(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req ReportRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	identity := middleware.CurrentUsername(c)
	run, err := h.submissions.ReportRun(c.Request.Context(), identity, id, req.OS, req.Score, req.Error)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toRunResponse(run))
}

// ListRuns returns all recorded runs of a submission.
func (h *SubmissionController) ListRuns(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	runs, err := h.submissions.Runs(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toRunResponses(runs))
}

// LatestRuns returns the most recently recorded runs across all
// submissions.
func (h *SubmissionController) LatestRuns(c *gin.Context) {
	limit := intQuery(c, "limit", 20)
	runs, err := h.submissions.RecentRuns(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"items": toRunResponses(runs)})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "invalid submission id")
		return 0, false
	}
	return id, true
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
