package httptransport

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"video-narrator/internal/entity"
	"video-narrator/internal/repository"
	"video-narrator/internal/service"
)

// maxBodyBytes caps the submission payload.
const maxBodyBytes = 1 << 20

type Handler struct {
	jobSvc *service.JobService
}

func NewHandler(jobSvc *service.JobService) *Handler {
	return &Handler{jobSvc: jobSvc}
}

type createJobDTO struct {
	Text string `json:"text" example:"Hello world"`
}

type createJobResp struct {
	JobID string `json:"jobId"`
}

type jobResp struct {
	ID        string           `json:"id"`
	Status    entity.JobStatus `json:"status"`
	Text      string           `json:"text"`
	Progress  *string          `json:"progress,omitempty"`
	VideoURL  *string          `json:"videoUrl,omitempty"`
	Error     *string          `json:"error,omitempty"`
	CreatedAt string           `json:"createdAt"`
	UpdatedAt string           `json:"updatedAt"`
}

type resultResp struct {
	VideoURL string `json:"videoUrl"`
}

func toJobResp(j *entity.Job) jobResp {
	return jobResp{
		ID:        j.ID,
		Status:    j.Status,
		Text:      j.Text,
		Progress:  j.Progress,
		VideoURL:  j.VideoURL,
		Error:     j.Error,
		CreatedAt: j.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: j.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// CreateJob godoc
// @Summary Submit text for narration
// @Description Stores a pending job and schedules it. Returns before any audio or video work starts.
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body createJobDTO true "text to narrate"
// @Success 201 {object} createJobResp
// @Failure 400 {object} apiError
// @Failure 500 {object} apiError
// @Router /jobs [post]
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var dto createJobDTO
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&dto); err != nil {
		writeErr(w, r, http.StatusBadRequest, "invalid json")
		return
	}

	id, err := h.jobSvc.CreateJob(r.Context(), dto.Text)
	if err != nil {
		if errors.Is(err, service.ErrInvalidText) {
			writeErr(w, r, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("[http] create_job error=%v", err)
		writeErr(w, r, http.StatusInternalServerError, "could not create job")
		return
	}

	writeJSON(w, http.StatusCreated, createJobResp{JobID: id})
}

// GetJob godoc
// @Summary Get job status
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} jobResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 500 {object} apiError
// @Router /jobs/{id} [get]
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	j, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toJobResp(j))
}

// GetJobResult godoc
// @Summary Get the finished video
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} resultResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /jobs/{id}/result [get]
func (h *Handler) GetJobResult(w http.ResponseWriter, r *http.Request) {
	j, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if j.Status != entity.StatusCompleted || j.VideoURL == nil {
		writeErr(w, r, http.StatusConflict, "job not completed")
		return
	}
	writeJSON(w, http.StatusOK, resultResp{VideoURL: *j.VideoURL})
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*entity.Job, bool) {
	j, err := h.jobSvc.GetJob(r.Context(), chi.URLParam(r, "id"))
	switch {
	case err == nil:
		return j, true
	case errors.Is(err, service.ErrInvalidID):
		writeErr(w, r, http.StatusBadRequest, "invalid id")
	case errors.Is(err, repository.ErrNotFound):
		writeErr(w, r, http.StatusNotFound, "job not found")
	default:
		log.Printf("[http] get_job error=%v", err)
		writeErr(w, r, http.StatusInternalServerError, "could not read job")
	}
	return nil, false
}
