package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"brandclip-worker-service/internal/dispatch"
	"brandclip-worker-service/internal/entity"
	"brandclip-worker-service/internal/repository/postgresql"
	"brandclip-worker-service/internal/service"
	"brandclip-worker-service/internal/worker"
)

const maxWebhookBody = 64 << 10

// Processor handles one webhook delivery (implementations: worker.EditWorker,
// worker.UploadWorker).
type Processor interface {
	Process(ctx context.Context, p entity.WebhookPayload) (*worker.Outcome, error)
}

type Dispatcher interface {
	ConfirmEdit(ctx context.Context, req service.ConfirmEditRequest) (*entity.Video, error)
	RequestUpload(ctx context.Context, req service.RequestUploadRequest) (*entity.Video, error)
}

type SignatureVerifier interface {
	Verify(token string, body []byte) error
}

type Options struct {
	Edit       Processor
	Upload     Processor
	Dispatcher Dispatcher
	// Verifier checks the push queue signature; nil accepts unsigned deliveries.
	Verifier    SignatureVerifier
	ServiceName string
	Logger      *zap.Logger
}

type Handler struct {
	edit       Processor
	upload     Processor
	dispatcher Dispatcher
	verifier   SignatureVerifier
	service    string
	started    time.Time
	logger     *zap.Logger
}

func NewHandler(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		edit:       opts.Edit,
		upload:     opts.Upload,
		dispatcher: opts.Dispatcher,
		verifier:   opts.Verifier,
		service:    opts.ServiceName,
		started:    time.Now(),
		logger:     logger,
	}
}

type webhookResp struct {
	Success    bool     `json:"success"`
	Skipped    bool     `json:"skipped,omitempty"`
	Reason     string   `json:"reason,omitempty"`
	VideoID    string   `json:"videoId,omitempty"`
	DurationMs int64    `json:"duration,omitempty"`
	EditedURL  string   `json:"editedUrl,omitempty"`
	Stages     []string `json:"stages,omitempty"`
	PostURL    string   `json:"postUrl,omitempty"`
	PublishID  string   `json:"publishId,omitempty"`
}

type retryResp struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter"`
}

type healthResp struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Uptime  int64  `json:"uptime"`
}

// ProcessEdit godoc
// @Summary Edit webhook
// @Description Applies the frozen brand pattern to the video. Called by the push queue.
// @Tags webhooks
// @Accept json
// @Produce json
// @Param Upstash-Signature header string false "delivery signature"
// @Param request body entity.WebhookPayload true "delivery payload"
// @Success 200 {object} webhookResp
// @Failure 400 {object} apiError
// @Failure 401 {object} apiError
// @Failure 429 {object} retryResp
// @Failure 500 {object} apiError
// @Router /edit/process [post]
func (h *Handler) ProcessEdit(w http.ResponseWriter, r *http.Request) {
	h.deliver(w, r, h.edit)
}

// ProcessUpload godoc
// @Summary Upload webhook
// @Description Publishes an edited video to the bound account. Called by the push queue.
// @Tags webhooks
// @Accept json
// @Produce json
// @Param Upstash-Signature header string false "delivery signature"
// @Param request body entity.WebhookPayload true "delivery payload"
// @Success 200 {object} webhookResp
// @Failure 400 {object} apiError
// @Failure 401 {object} apiError
// @Failure 429 {object} retryResp
// @Failure 500 {object} apiError
// @Router /upload/process [post]
func (h *Handler) ProcessUpload(w http.ResponseWriter, r *http.Request) {
	h.deliver(w, r, h.upload)
}

func (h *Handler) deliver(w http.ResponseWriter, r *http.Request, p Processor) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if h.verifier != nil {
		if err := h.verifier.Verify(r.Header.Get(dispatch.SignatureHeader), body); err != nil {
			h.logger.Warn("webhook signature rejected", zap.String("path", r.URL.Path), zap.Error(err))
			writeErr(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	var payload entity.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	out, err := p.Process(r.Context(), payload)
	switch {
	case errors.Is(err, worker.ErrInvalidPayload):
		writeErr(w, http.StatusBadRequest, err.Error())
	case err != nil:
		writeErr(w, http.StatusInternalServerError, err.Error())
	case out.RetryAfter > 0:
		secs := int(math.Ceil(out.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, retryResp{Error: out.Reason, RetryAfter: secs})
	case out.Skipped:
		writeJSON(w, http.StatusOK, webhookResp{Success: true, Skipped: true, Reason: out.Reason, VideoID: out.VideoID.String()})
	default:
		writeJSON(w, http.StatusOK, webhookResp{
			Success:    true,
			VideoID:    out.VideoID.String(),
			DurationMs: out.Duration.Milliseconds(),
			EditedURL:  out.EditedURL,
			Stages:     out.Stages,
			PostURL:    out.PostURL,
			PublishID:  out.PublishID,
		})
	}
}

// Health godoc
// @Summary Liveness
// @Tags health
// @Produce json
// @Success 200 {object} healthResp
// @Router /health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResp{
		Status:  "ok",
		Service: h.service,
		Uptime:  int64(time.Since(h.started).Seconds()),
	})
}

type confirmEditDTO struct {
	Spec     json.RawMessage `json:"spec" swaggertype:"object"`
	Priority *int            `json:"priority,omitempty"` // 0=low,1=normal,2=high (nil => 1)
}

type requestUploadDTO struct {
	AccountID string `json:"accountId,omitempty"`
	Priority  *int   `json:"priority,omitempty"`
}

type videoResp struct {
	ID     string             `json:"id"`
	Status entity.VideoStatus `json:"status"`
}

// ConfirmEdit godoc
// @Summary Confirm an edit
// @Description Freezes the design spec, moves the video to EDITING_QUEUED and publishes an edit delivery.
// @Tags videos
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "video id (uuid)"
// @Param request body confirmEditDTO true "design spec"
// @Success 202 {object} videoResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /videos/{id}/edit [post]
func (h *Handler) ConfirmEdit(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}
	var dto confirmEditDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	v, err := h.dispatcher.ConfirmEdit(r.Context(), service.ConfirmEditRequest{
		VideoID:  id,
		Spec:     dto.Spec,
		Priority: dto.Priority,
	})
	if err != nil {
		h.writeDispatchErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, videoResp{ID: v.ID.String(), Status: v.Status})
}

// RequestUpload godoc
// @Summary Request an upload
// @Description Moves an EDITED video to UPLOAD_QUEUED and publishes an upload delivery.
// @Tags videos
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "video id (uuid)"
// @Param request body requestUploadDTO false "target account (defaults to the bound account)"
// @Success 202 {object} videoResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /videos/{id}/upload [post]
func (h *Handler) RequestUpload(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}
	var dto requestUploadDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil && !errors.Is(err, io.EOF) {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	req := service.RequestUploadRequest{VideoID: id, Priority: dto.Priority}
	if dto.AccountID != "" {
		if req.AccountID, err = uuid.Parse(dto.AccountID); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid accountId")
			return
		}
	}

	v, err := h.dispatcher.RequestUpload(r.Context(), req)
	if err != nil {
		h.writeDispatchErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, videoResp{ID: v.ID.String(), Status: v.Status})
}

func (h *Handler) writeDispatchErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, postgresql.ErrNotFound):
		writeErr(w, http.StatusNotFound, err.Error())
	case errors.Is(err, entity.ErrInvalidTransition), errors.Is(err, service.ErrLostRace):
		writeErr(w, http.StatusConflict, err.Error())
	case errors.Is(err, entity.ErrInvalidDesignSpec),
		errors.Is(err, entity.ErrMissingDesignSpec),
		errors.Is(err, service.ErrMissingAccount):
		writeErr(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("dispatch failed", zap.Error(err))
		writeErr(w, http.StatusInternalServerError, err.Error())
	}
}
