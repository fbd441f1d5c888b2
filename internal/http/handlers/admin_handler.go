// Package handlers – admin endpoints
//
// The admin API exposes read access to stored conversations and full CRUD
// for scheduled jobs, mounted under the versioned base path. It is intended
// for operators sitting behind the deployment's access controls, not for the
// webhook platform.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-backend/internal/repo"
	"github.com/tbourn/go-wa-backend/internal/services"
)

// intOr parses s as an int, falling back to def when empty or malformed.
func intOr(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// AdminHandler serves the operator API.
type AdminHandler struct {
	DB   *gorm.DB
	Jobs *services.JobService
}

// NewAdmin constructs an AdminHandler.
func NewAdmin(db *gorm.DB, jobs *services.JobService) *AdminHandler {
	return &AdminHandler{DB: db, Jobs: jobs}
}

// pageMeta is the pagination envelope for listings.
type pageMeta struct {
	Page    int   `json:"page"`
	PerPage int   `json:"per_page"`
	Total   int64 `json:"total"`
}

// ListTurns returns one page of a sender's conversation turns, newest first.
//
// GET /conversations/:sender/turns?page=1&per_page=20
func (h *AdminHandler) ListTurns(c *gin.Context) {
	sender := c.Param("sender")
	page := intOr(c.Query("page"), 1)
	perPage := intOr(c.Query("per_page"), 20)

	turns, total, err := repo.ListTurnsPage(c.Request.Context(), h.DB, sender, page, perPage)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "listing turns failed")
		return
	}
	ok(c, http.StatusOK, gin.H{
		"items": turns,
		"meta":  pageMeta{Page: page, PerPage: perPage, Total: total},
	})
}

// createJobRequest is the body of POST /jobs.
type createJobRequest struct {
	OwnerID  string         `json:"owner_id" binding:"required"`
	Schedule string         `json:"schedule" binding:"required"`
	Payload  map[string]any `json:"payload" binding:"required"`
	OneShot  bool           `json:"one_shot"`
}

// jsonMarshal narrows the error surface of encoding the job payload.
func jsonMarshal(v map[string]any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// CreateJob registers a new scheduled job.
//
// POST /jobs
func (h *AdminHandler) CreateJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "owner_id, schedule and payload are required")
		return
	}

	payload, err := jsonMarshal(req.Payload)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "payload is not serializable")
		return
	}

	job, err := h.Jobs.Create(c.Request.Context(), req.OwnerID, req.Schedule, payload, req.OneShot)
	switch {
	case errors.Is(err, services.ErrInvalidSchedule):
		fail(c, http.StatusBadRequest, ErrCodeInvalidSchedule, err.Error())
		return
	case errors.Is(err, services.ErrEmptyPayload):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "payload is empty")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, "creating job failed")
		return
	}
	ok(c, http.StatusCreated, job)
}

// ListJobs returns an owner's jobs, or every job when no owner is given.
//
// GET /jobs?owner_id=...
func (h *AdminHandler) ListJobs(c *gin.Context) {
	jobs, err := h.Jobs.List(c.Request.Context(), c.Query("owner_id"))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "listing jobs failed")
		return
	}
	ok(c, http.StatusOK, gin.H{"items": jobs})
}

// GetJob returns one job.
//
// GET /jobs/:owner/:idx
func (h *AdminHandler) GetJob(c *gin.Context) {
	idx := intOr(c.Param("idx"), -1)
	if idx < 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "index must be a non-negative integer")
		return
	}
	job, err := h.Jobs.Get(c.Request.Context(), c.Param("owner"), idx)
	if errors.Is(err, repo.ErrJobNotFound) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "job not found")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "fetching job failed")
		return
	}
	ok(c, http.StatusOK, job)
}

// DeleteJob removes a job. Deleting an absent job still returns 204.
//
// DELETE /jobs/:owner/:idx
func (h *AdminHandler) DeleteJob(c *gin.Context) {
	idx := intOr(c.Param("idx"), -1)
	if idx < 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "index must be a non-negative integer")
		return
	}
	if err := h.Jobs.Delete(c.Request.Context(), c.Param("owner"), idx); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "deleting job failed")
		return
	}
	noContent(c)
}
