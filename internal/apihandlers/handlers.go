package apihandlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"folio/internal/app"
	"folio/internal/models"
	"folio/internal/services"
	"folio/internal/tasks"
)

type APIHandler struct {
	App *app.App
}

func NewAPIHandler(a *app.App) *APIHandler {
	return &APIHandler{App: a}
}

// startResponse is the normalized accept response shape, identical across
// capabilities. Clients poll the status endpoint from here on.
type startResponse struct {
	JobID          string `json:"job_id"`
	Status         string `json:"status"`
	Capability     string `json:"capability"`
	UnitsTotal     int    `json:"units_total"`
	PointsDeducted int64  `json:"points_deducted"`
}

func (h *APIHandler) respondStarted(c *gin.Context, job *models.Job) {
	c.JSON(http.StatusOK, gin.H{"data": startResponse{
		JobID:          job.JobID,
		Status:         job.Status,
		Capability:     job.Capability,
		UnitsTotal:     job.UnitsTotal,
		PointsDeducted: job.PointsReserved,
	}})
}

// respondStartError maps producer errors onto the API error taxonomy.
func respondStartError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		BadRequest(c, err.Error())
	case errors.Is(err, models.ErrInsufficientPoints):
		PaymentRequired(c, "not enough points for this job")
	default:
		Internal(c, fmt.Sprintf("failed to start job: %v", err))
	}
}

// --- Start handlers, one per capability ---

type ChapterInput struct {
	Title string `json:"title"`
	Ref   string `json:"ref"`
}

type StartTranslationRequest struct {
	BookID         string         `json:"book_id"`
	SourceLanguage string         `json:"source_language"`
	TargetLanguage string         `json:"target_language"`
	Chapters       []ChapterInput `json:"chapters"`
}

func (h *APIHandler) StartTranslationHandler(c *gin.Context) {
	var req StartTranslationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	if req.BookID == "" || req.TargetLanguage == "" {
		BadRequest(c, "missing required fields: book_id and target_language")
		return
	}
	userID := CurrentUser(c)

	job, err := h.App.Producer.Start(c.Request.Context(), services.StartParams{
		UserID:     userID,
		Capability: models.CapabilityTranslation,
		UnitsTotal: len(req.Chapters),
		NewTask: func(jobID string) (*asynq.Task, error) {
			p := tasks.TranslationPayload{
				JobEnvelope:    tasks.JobEnvelope{JobID: jobID, UserID: userID},
				BookID:         req.BookID,
				SourceLanguage: req.SourceLanguage,
				TargetLanguage: req.TargetLanguage,
			}
			for _, ch := range req.Chapters {
				p.Chapters = append(p.Chapters, tasks.ChapterRef{Title: ch.Title, Ref: ch.Ref})
			}
			return tasks.NewTranslationTask(p)
		},
	})
	if err != nil {
		respondStartError(c, err)
		return
	}
	h.respondStarted(c, job)
}

type SlideInput struct {
	Index int    `json:"index"`
	Ref   string `json:"ref"`
}

type StartSlideFormatRequest struct {
	DeckID string       `json:"deck_id"`
	Style  string       `json:"style"`
	Slides []SlideInput `json:"slides"`
}

func (h *APIHandler) StartSlideFormatHandler(c *gin.Context) {
	var req StartSlideFormatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	if req.DeckID == "" {
		BadRequest(c, "missing required field: deck_id")
		return
	}
	userID := CurrentUser(c)

	job, err := h.App.Producer.Start(c.Request.Context(), services.StartParams{
		UserID:     userID,
		Capability: models.CapabilitySlideFormat,
		UnitsTotal: len(req.Slides),
		NewTask: func(jobID string) (*asynq.Task, error) {
			p := tasks.SlideFormatPayload{
				JobEnvelope: tasks.JobEnvelope{JobID: jobID, UserID: userID},
				DeckID:      req.DeckID,
				Style:       req.Style,
			}
			for _, s := range req.Slides {
				p.Slides = append(p.Slides, tasks.SlideRef{Index: s.Index, Ref: s.Ref})
			}
			return tasks.NewSlideFormatTask(p)
		},
	})
	if err != nil {
		respondStartError(c, err)
		return
	}
	h.respondStarted(c, job)
}

type StartSlideGenerateRequest struct {
	Topic      string `json:"topic"`
	Language   string `json:"language"`
	SlideCount int    `json:"slide_count"`
}

func (h *APIHandler) StartSlideGenerateHandler(c *gin.Context) {
	var req StartSlideGenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	if req.Topic == "" {
		BadRequest(c, "missing required field: topic")
		return
	}
	userID := CurrentUser(c)

	job, err := h.App.Producer.Start(c.Request.Context(), services.StartParams{
		UserID:     userID,
		Capability: models.CapabilitySlideGenerate,
		UnitsTotal: req.SlideCount,
		NewTask: func(jobID string) (*asynq.Task, error) {
			return tasks.NewSlideGenerateTask(tasks.SlideGeneratePayload{
				JobEnvelope: tasks.JobEnvelope{JobID: jobID, UserID: userID},
				Topic:       req.Topic,
				Language:    req.Language,
				SlideCount:  req.SlideCount,
			})
		},
	})
	if err != nil {
		respondStartError(c, err)
		return
	}
	h.respondStarted(c, job)
}

type SegmentInput struct {
	Label string `json:"label"`
	Ref   string `json:"ref"`
}

type StartNarrationRequest struct {
	Voice    string         `json:"voice"`
	Segments []SegmentInput `json:"segments"`
}

func (h *APIHandler) StartNarrationHandler(c *gin.Context) {
	var req StartNarrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	userID := CurrentUser(c)

	job, err := h.App.Producer.Start(c.Request.Context(), services.StartParams{
		UserID:     userID,
		Capability: models.CapabilityNarration,
		UnitsTotal: len(req.Segments),
		NewTask: func(jobID string) (*asynq.Task, error) {
			p := tasks.NarrationPayload{
				JobEnvelope: tasks.JobEnvelope{JobID: jobID, UserID: userID},
				Voice:       req.Voice,
			}
			for _, s := range req.Segments {
				p.Segments = append(p.Segments, tasks.SegmentRef{Label: s.Label, Ref: s.Ref})
			}
			return tasks.NewNarrationTask(p)
		},
	})
	if err != nil {
		respondStartError(c, err)
		return
	}
	h.respondStarted(c, job)
}

type SectionInput struct {
	Label string `json:"label"`
	Ref   string `json:"ref"`
}

type StartEditorRequest struct {
	DocumentID   string         `json:"document_id"`
	Instructions string         `json:"instructions"`
	Sections     []SectionInput `json:"sections"`
}

func (h *APIHandler) StartEditorHandler(c *gin.Context) {
	var req StartEditorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	if req.Instructions == "" {
		BadRequest(c, "missing required field: instructions")
		return
	}
	userID := CurrentUser(c)

	job, err := h.App.Producer.Start(c.Request.Context(), services.StartParams{
		UserID:     userID,
		Capability: models.CapabilityAIEditor,
		UnitsTotal: len(req.Sections),
		NewTask: func(jobID string) (*asynq.Task, error) {
			p := tasks.AIEditorPayload{
				JobEnvelope:  tasks.JobEnvelope{JobID: jobID, UserID: userID},
				DocumentID:   req.DocumentID,
				Instructions: req.Instructions,
			}
			for _, s := range req.Sections {
				p.Sections = append(p.Sections, tasks.SectionRef{Label: s.Label, Ref: s.Ref})
			}
			return tasks.NewAIEditorTask(p)
		},
	})
	if err != nil {
		respondStartError(c, err)
		return
	}
	h.respondStarted(c, job)
}

// --- Status, cancel, list ---

func (h *APIHandler) JobStatusHandler(c *gin.Context) {
	jobID := c.Param("job_id")
	job, err := h.App.StatusService.Get(c.Request.Context(), jobID, CurrentUser(c))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			NotFound(c, "job not found")
			return
		}
		Internal(c, fmt.Sprintf("failed to read job status: %v", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": job})
}

func (h *APIHandler) CancelJobHandler(c *gin.Context) {
	jobID := c.Param("job_id")
	job, err := h.App.StatusService.Cancel(c.Request.Context(), jobID, CurrentUser(c))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			NotFound(c, "job not found")
		case errors.Is(err, models.ErrJobTerminal):
			BadRequest(c, "job already finished")
		default:
			Internal(c, fmt.Sprintf("failed to cancel job: %v", err))
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"job_id": job.JobID, "status": job.Status}})
}

func (h *APIHandler) ListJobsHandler(c *gin.Context) {
	limit := 20
	skip := 0
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		} else {
			BadRequest(c, "invalid limit: "+l)
			return
		}
	}
	if s := c.Query("skip"); s != "" {
		if parsed, err := strconv.Atoi(s); err == nil && parsed >= 0 {
			skip = parsed
		} else {
			BadRequest(c, "invalid skip: "+s)
			return
		}
	}

	jobs, err := h.App.StatusService.List(c.Request.Context(), CurrentUser(c), limit, skip)
	if err != nil {
		Internal(c, fmt.Sprintf("failed to list jobs: %v", err))
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}
	c.JSON(http.StatusOK, gin.H{"data": jobs})
}
