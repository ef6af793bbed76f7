package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taskhub/uploadgate/internal/database"
	"github.com/taskhub/uploadgate/internal/middleware"
	"github.com/taskhub/uploadgate/internal/storage"
	"github.com/taskhub/uploadgate/internal/upload"
	"github.com/taskhub/uploadgate/internal/uploader"
)

// Repository is the metadata store the handlers persist to.
type Repository interface {
	SaveAttachment(ctx context.Context, a *database.Attachment) (int64, error)
	GetAttachment(ctx context.Context, id int64) (*database.Attachment, error)
	ListTaskAttachments(ctx context.Context, taskID int64) ([]*database.Attachment, error)
	DeleteAttachment(ctx context.Context, id int64) error
	AttachmentPaths(ctx context.Context) (map[string]struct{}, error)
}

// Handler is the HTTP surface over the upload pipeline. All transport
// concerns, including mapping error kinds to status codes, live here
// and nowhere below.
type Handler struct {
	uploader *uploader.Uploader
	store    *storage.Store
	repo     Repository
	logger   *zap.Logger
}

func NewHandler(up *uploader.Uploader, store *storage.Store, repo Repository, logger *zap.Logger) *Handler {
	return &Handler{uploader: up, store: store, repo: repo, logger: logger}
}

// Register wires the attachment routes onto router.
func (h *Handler) Register(router *gin.Engine) {
	apiGroup := router.Group("/api", middleware.RequireUser())
	apiGroup.POST("/tasks/:taskID/attachments", h.uploadAttachment)
	apiGroup.GET("/tasks/:taskID/attachments", h.listAttachments)
	apiGroup.GET("/attachments/:id/download", h.downloadAttachment)
	apiGroup.DELETE("/attachments/:id", h.deleteAttachment)
	apiGroup.GET("/storage/stats", h.storageStats)
	apiGroup.POST("/storage/cleanup", h.cleanupStorage)
}

type attachmentResponse struct {
	ID               int64  `json:"id"`
	TaskID           int64  `json:"task_id"`
	Filename         string `json:"filename"`
	OriginalFilename string `json:"original_filename"`
	FileSize         int64  `json:"file_size"`
	MimeType         string `json:"mime_type"`
	SHA256           string `json:"sha256"`
	UploadedBy       int64  `json:"uploaded_by"`
	CreatedAt        string `json:"created_at"`
}

func toResponse(a *database.Attachment) attachmentResponse {
	return attachmentResponse{
		ID:               a.ID,
		TaskID:           a.TaskID,
		Filename:         a.Filename,
		OriginalFilename: a.OriginalFilename,
		FileSize:         a.FileSize,
		MimeType:         a.MimeType,
		SHA256:           a.SHA256,
		UploadedBy:       a.UploadedBy,
		CreatedAt:        a.CreatedAt.Format(time.RFC3339),
	}
}

func (h *Handler) uploadAttachment(c *gin.Context) {
	taskID, err := strconv.ParseInt(c.Param("taskID"), 10, 64)
	if err != nil || taskID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file field"})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file field"})
		return
	}
	defer f.Close()

	stored, err := h.uploader.Upload(c.Request.Context(), uploader.Request{
		Content:      f,
		Filename:     fileHeader.Filename,
		ContentType:  fileHeader.Header.Get("Content-Type"),
		DeclaredSize: fileHeader.Size,
		UserID:       middleware.UserID(c),
		TaskID:       taskID,
		Profile:      upload.ProfileStrict,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	attachment := &database.Attachment{
		TaskID:           stored.TaskID,
		Filename:         stored.StoredName,
		OriginalFilename: stored.OriginalName,
		FilePath:         stored.Path,
		FileSize:         stored.Size,
		MimeType:         stored.MIMEType,
		SHA256:           stored.SHA256,
		UploadedBy:       stored.UploadedBy,
		CreatedAt:        stored.CreatedAt,
	}
	id, err := h.repo.SaveAttachment(c.Request.Context(), attachment)
	if err != nil {
		// The metadata write failed, so the file must not stay behind.
		h.store.Delete(stored.Path)
		h.logger.Error("failed to persist attachment", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save attachment"})
		return
	}
	attachment.ID = id

	c.JSON(http.StatusCreated, toResponse(attachment))
}

func (h *Handler) listAttachments(c *gin.Context) {
	taskID, err := strconv.ParseInt(c.Param("taskID"), 10, 64)
	if err != nil || taskID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}

	attachments, err := h.repo.ListTaskAttachments(c.Request.Context(), taskID)
	if err != nil {
		h.logger.Error("failed to list attachments", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list attachments"})
		return
	}

	out := make([]attachmentResponse, 0, len(attachments))
	for _, a := range attachments {
		out = append(out, toResponse(a))
	}
	c.JSON(http.StatusOK, gin.H{"attachments": out})
}

func (h *Handler) downloadAttachment(c *gin.Context) {
	attachment, ok := h.attachmentByID(c)
	if !ok {
		return
	}

	reader, err := h.store.Open(attachment.FilePath)
	if err != nil {
		h.logger.Error("failed to open stored file",
			zap.String("path", attachment.FilePath), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to open file"})
		return
	}
	defer reader.Close()

	c.Header("Content-Disposition", `attachment; filename="`+attachment.OriginalFilename+`"`)
	c.DataFromReader(http.StatusOK, attachment.FileSize, attachment.MimeType, reader, nil)
}

func (h *Handler) deleteAttachment(c *gin.Context) {
	attachment, ok := h.attachmentByID(c)
	if !ok {
		return
	}

	if attachment.UploadedBy != middleware.UserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not the uploader"})
		return
	}

	// Storage first; an orphaned metadata row is recoverable, an
	// orphaned file is what the cleanup worker exists for.
	h.store.Delete(attachment.FilePath)

	if err := h.repo.DeleteAttachment(c.Request.Context(), attachment.ID); err != nil {
		h.logger.Error("failed to delete attachment record", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete attachment"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (h *Handler) storageStats(c *gin.Context) {
	stats, err := h.store.Stats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to collect stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) cleanupStorage(c *gin.Context) {
	referenced, err := h.repo.AttachmentPaths(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to load referenced paths", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load referenced paths"})
		return
	}
	deleted := h.store.CleanupOrphans(referenced)
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (h *Handler) attachmentByID(c *gin.Context) (*database.Attachment, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attachment id"})
		return nil, false
	}

	attachment, err := h.repo.GetAttachment(c.Request.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "attachment not found"})
		return nil, false
	}
	if err != nil {
		h.logger.Error("failed to load attachment", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
		return nil, false
	}
	return attachment, true
}

// respondError maps pipeline error kinds to transport status codes.
// The pipeline itself knows nothing about HTTP.
func (h *Handler) respondError(c *gin.Context, err error) {
	var ue *upload.Error
	if !errors.As(err, &ue) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	switch ue.Kind {
	case upload.KindValidation:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation failed",
			"reasons": ue.Reasons(),
		})
	case upload.KindRateLimit:
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":   "rate limit exceeded",
			"reasons": ue.Reasons(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save file"})
	}
}
