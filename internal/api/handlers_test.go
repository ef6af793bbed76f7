package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taskhub/uploadgate/internal/database"
	"github.com/taskhub/uploadgate/internal/observability"
	"github.com/taskhub/uploadgate/internal/storage"
	"github.com/taskhub/uploadgate/internal/upload"
	"github.com/taskhub/uploadgate/internal/uploader"
)

// memRepo is an in-memory Repository for handler tests.
type memRepo struct {
	nextID      int64
	attachments map[int64]*database.Attachment
}

func newMemRepo() *memRepo {
	return &memRepo{nextID: 1, attachments: make(map[int64]*database.Attachment)}
}

func (m *memRepo) SaveAttachment(_ context.Context, a *database.Attachment) (int64, error) {
	id := m.nextID
	m.nextID++
	stored := *a
	stored.ID = id
	m.attachments[id] = &stored
	return id, nil
}

func (m *memRepo) GetAttachment(_ context.Context, id int64) (*database.Attachment, error) {
	a, ok := m.attachments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return a, nil
}

func (m *memRepo) ListTaskAttachments(_ context.Context, taskID int64) ([]*database.Attachment, error) {
	var out []*database.Attachment
	for _, a := range m.attachments {
		if a.TaskID == taskID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memRepo) DeleteAttachment(_ context.Context, id int64) error {
	if _, ok := m.attachments[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.attachments, id)
	return nil
}

func (m *memRepo) AttachmentPaths(_ context.Context) (map[string]struct{}, error) {
	paths := make(map[string]struct{})
	for _, a := range m.attachments {
		paths[a.FilePath] = struct{}{}
	}
	return paths, nil
}

func setupAPI(t *testing.T, mutate func(*upload.Policy, *upload.RateLimits)) (*gin.Engine, *memRepo, *storage.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	policy := upload.DefaultPolicy()
	limits := upload.DefaultRateLimits()
	if mutate != nil {
		mutate(policy, &limits)
	}

	fs := afero.NewMemMapFs()
	logger := zap.NewNop()

	store, err := storage.NewStore(fs, "uploads", logger)
	require.NoError(t, err)

	metrics, err := observability.NewUploadMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	validator := upload.NewValidator(policy,
		upload.NewClassifier(upload.ContentSniffer{}),
		upload.NewScanner(logger), fs, logger)
	up := uploader.New(policy, upload.NewLimiter(limits), validator, store, metrics, logger)

	repo := newMemRepo()
	router := gin.New()
	NewHandler(up, store, repo, logger).Register(router)

	return router, repo, store
}

func multipartBody(t *testing.T, filename, contentType, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	return &buf, w.FormDataContentType()
}

func doUpload(t *testing.T, router *gin.Engine, taskID int64, userID, filename, contentType, content string) *httptest.ResponseRecorder {
	t.Helper()
	body, formType := multipartBody(t, filename, contentType, content)
	req := httptest.NewRequest(http.MethodPost,
		"/api/tasks/"+strconv.FormatInt(taskID, 10)+"/attachments", body)
	req.Header.Set("Content-Type", formType)
	req.Header.Set("X-User-ID", userID)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestUploadEndpoint(t *testing.T) {
	router, repo, _ := setupAPI(t, nil)

	rec := doUpload(t, router, 7, "3", "notes.txt", "text/plain", "minutes from the sprint planning call")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "notes.txt", resp["original_filename"])
	assert.EqualValues(t, 7, resp["task_id"])
	assert.EqualValues(t, 3, resp["uploaded_by"])
	assert.NotEmpty(t, resp["sha256"])

	assert.Len(t, repo.attachments, 1)
}

func TestUploadValidationFailureMapsTo400(t *testing.T) {
	router, repo, _ := setupAPI(t, nil)

	rec := doUpload(t, router, 7, "3", "payload.exe", "application/octet-stream", "some executable bytes here")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp struct {
		Error   string   `json:"error"`
		Reasons []string `json:"reasons"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Reasons)
	assert.Empty(t, repo.attachments)
}

func TestUploadRateLimitMapsTo429(t *testing.T) {
	router, _, _ := setupAPI(t, func(_ *upload.Policy, l *upload.RateLimits) {
		l.UploadsPerMinute = 1
	})

	rec := doUpload(t, router, 1, "5", "a.txt", "text/plain", "the first one is fine")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doUpload(t, router, 1, "5", "b.txt", "text/plain", "the second one is throttled")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestUploadRequiresIdentity(t *testing.T) {
	router, _, _ := setupAPI(t, nil)

	body, formType := multipartBody(t, "a.txt", "text/plain", "anonymous upload attempt content")
	req := httptest.NewRequest(http.MethodPost, "/api/tasks/1/attachments", body)
	req.Header.Set("Content-Type", formType)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDownloadRoundTrip(t *testing.T) {
	router, _, _ := setupAPI(t, nil)

	content := "full text of the uploaded document"
	rec := doUpload(t, router, 2, "4", "doc.txt", "text/plain", content)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	req := httptest.NewRequest(http.MethodGet,
		"/api/attachments/"+strconv.FormatInt(created.ID, 10)+"/download", nil)
	req.Header.Set("X-User-ID", "4")
	dl := httptest.NewRecorder()
	router.ServeHTTP(dl, req)

	require.Equal(t, http.StatusOK, dl.Code)
	assert.Equal(t, content, dl.Body.String())
	assert.Contains(t, dl.Header().Get("Content-Disposition"), "doc.txt")
}

func TestDeleteRequiresOwnership(t *testing.T) {
	router, repo, store := setupAPI(t, nil)

	rec := doUpload(t, router, 2, "4", "mine.txt", "text/plain", "a file that belongs to user four")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	idPath := "/api/attachments/" + strconv.FormatInt(created.ID, 10)

	req := httptest.NewRequest(http.MethodDelete, idPath, nil)
	req.Header.Set("X-User-ID", "9")
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusForbidden, rec2.Code)
	assert.Len(t, repo.attachments, 1)

	req = httptest.NewRequest(http.MethodDelete, idPath, nil)
	req.Header.Set("X-User-ID", "4")
	rec3 := httptest.NewRecorder()
	router.ServeHTTP(rec3, req)
	assert.Equal(t, http.StatusOK, rec3.Code)
	assert.Empty(t, repo.attachments)

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.FileCount)
}

func TestCleanupEndpoint(t *testing.T) {
	router, _, store := setupAPI(t, nil)

	rec := doUpload(t, router, 3, "6", "kept.txt", "text/plain", "a referenced file that must stay")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// A file on disk with no metadata record is an orphan.
	_, _, _, err := store.Write(strings.NewReader("stray bytes"), 3, "orphan.txt")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/storage/cleanup", nil)
	req.Header.Set("X-User-ID", "6")
	cleanupRec := httptest.NewRecorder()
	router.ServeHTTP(cleanupRec, req)

	require.Equal(t, http.StatusOK, cleanupRec.Code)
	var resp struct {
		Deleted int `json:"deleted"`
	}
	require.NoError(t, json.Unmarshal(cleanupRec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Deleted)

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FileCount)
}

func TestStatsEndpoint(t *testing.T) {
	router, _, _ := setupAPI(t, nil)

	rec := doUpload(t, router, 1, "2", "a.txt", "text/plain", "some accounted-for bytes in storage")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/api/storage/stats", nil)
	req.Header.Set("X-User-ID", "2")
	statsRec := httptest.NewRecorder()
	router.ServeHTTP(statsRec, req)

	require.Equal(t, http.StatusOK, statsRec.Code)
	var stats storage.Stats
	require.NoError(t, json.Unmarshal(statsRec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.FileCount)
	assert.Greater(t, stats.TotalBytes, int64(0))
}
