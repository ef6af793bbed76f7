package uploader

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/taskhub/uploadgate/internal/observability"
	"github.com/taskhub/uploadgate/internal/storage"
	"github.com/taskhub/uploadgate/internal/upload"
)

// Request is one upload attempt as handed over by the collaborating
// layer. DeclaredSize may be zero when the caller streams without
// knowing the size upfront.
type Request struct {
	Content      io.Reader
	Filename     string
	ContentType  string
	DeclaredSize int64
	UserID       int64
	TaskID       int64
	Profile      upload.Profile
}

// StoredFile is the record the collaborating layer persists for an
// accepted upload. It is created once and never mutated here.
type StoredFile struct {
	StoredName   string
	OriginalName string
	Path         string
	Size         int64
	MIMEType     string
	SHA256       string
	TaskID       int64
	UploadedBy   int64
	CreatedAt    time.Time
}

// Uploader sequences admission control, the disk write, and content
// validation, rolling back the written file on any late failure.
type Uploader struct {
	policy    *upload.Policy
	limiter   *upload.Limiter
	validator *upload.Validator
	store     *storage.Store
	metrics   *observability.UploadMetrics
	logger    *zap.Logger
}

func New(policy *upload.Policy, limiter *upload.Limiter, validator *upload.Validator,
	store *storage.Store, metrics *observability.UploadMetrics, logger *zap.Logger) *Uploader {
	return &Uploader{
		policy:    policy,
		limiter:   limiter,
		validator: validator,
		store:     store,
		metrics:   metrics,
		logger:    logger,
	}
}

// Upload runs the full pipeline. Either it returns a StoredFile whose
// path exists on disk with exactly Size bytes, or it returns an error
// and leaves nothing behind.
func (u *Uploader) Upload(ctx context.Context, req Request) (*StoredFile, error) {
	// Filename rules run before anything touches the disk. A blocked
	// extension never produces a file.
	if violations := u.validator.CheckFilename(req.Filename); len(violations) > 0 {
		return nil, u.reject(req, upload.NewValidationError(violations...))
	}

	if req.DeclaredSize > u.policy.MaxFileSize {
		return nil, u.reject(req, upload.NewValidationError(upload.Violation{
			Rule: upload.RuleSizeCategory,
			Detail: fmt.Sprintf("file size exceeds maximum allowed size of %s",
				humanize.IBytes(uint64(u.policy.MaxFileSize))),
		}))
	}

	// Executable signatures are checked against the stream prefix
	// before the write as well, so obvious binaries are turned away
	// without consuming disk.
	content := bufio.NewReaderSize(req.Content, 1024)
	header, err := content.Peek(1024)
	if err != nil && err != io.EOF && len(header) == 0 {
		return nil, u.reject(req, upload.NewStorageError(fmt.Errorf("read upload stream: %w", err)))
	}
	if violations := u.validator.CheckHeader(header); len(violations) > 0 {
		return nil, u.reject(req, upload.NewValidationError(violations...))
	}

	// When the true size is unknown the volume quota is checked
	// against the maximum file size. Deliberately conservative; the
	// reservation is corrected once the real size is measured.
	candidate := req.DeclaredSize
	if candidate <= 0 {
		candidate = u.policy.MaxFileSize
	}
	reservation, err := u.limiter.Reserve(req.UserID, candidate)
	if err != nil {
		return nil, u.reject(req, err)
	}

	storedName := u.store.UniqueName(req.Filename)
	path, size, sum, err := u.store.Write(content, req.TaskID, storedName)
	if err != nil {
		reservation.Cancel()
		return nil, u.reject(req, upload.NewStorageError(err))
	}

	// The caller may have lied about the size during streaming; the
	// measured size is authoritative.
	if size > u.policy.MaxFileSize {
		u.store.Delete(path)
		reservation.Cancel()
		return nil, u.reject(req, upload.NewValidationError(upload.Violation{
			Rule: upload.RuleSizeCategory,
			Detail: fmt.Sprintf("file size (%s) exceeds maximum allowed size of %s",
				humanize.IBytes(uint64(size)), humanize.IBytes(uint64(u.policy.MaxFileSize))),
		}))
	}

	if outcome := u.validator.Validate(path, req.Filename, req.ContentType, req.Profile); !outcome.Accepted {
		u.store.Delete(path)
		reservation.Cancel()
		return nil, u.reject(req, upload.NewValidationError(outcome.Violations...))
	}

	reservation.Commit(size)
	u.metrics.Accepted(size)

	mimeType := req.ContentType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	u.logger.Info("file saved",
		zap.String("path", path),
		zap.Int64("size", size),
		zap.Int64("user_id", req.UserID),
		zap.Int64("task_id", req.TaskID),
		zap.String("profile", req.Profile.String()),
	)

	return &StoredFile{
		StoredName:   storedName,
		OriginalName: req.Filename,
		Path:         path,
		Size:         size,
		MIMEType:     mimeType,
		SHA256:       sum,
		TaskID:       req.TaskID,
		UploadedBy:   req.UserID,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// reject logs and counts a rejection, then passes the error through.
func (u *Uploader) reject(req Request, err error) error {
	kind := upload.KindOf(err)
	u.metrics.Rejected(kind.String())
	u.logger.Info("upload rejected",
		zap.String("filename", req.Filename),
		zap.Int64("user_id", req.UserID),
		zap.Int64("task_id", req.TaskID),
		zap.String("kind", kind.String()),
		zap.Error(err),
	)
	return err
}
