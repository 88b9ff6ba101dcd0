// handlers_upload.go - File upload and parse job handlers
package api

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/stepdash/backend/internal/models"
	"github.com/stepdash/backend/internal/parser"
	"github.com/stepdash/backend/internal/storage"
	"go.uber.org/zap"
)

// UploadHandlerImpl implements the UploadHandler interface
type UploadHandlerImpl struct {
	store    storage.Store
	sessions SessionManager
	jobs     JobManager
	allowed  map[string]struct{}
	log      *zap.Logger
}

// NewUploadHandler creates a new upload handler instance. An empty
// allowedExts accepts every extension and leaves the check to the parsers.
func NewUploadHandler(store storage.Store, sessions SessionManager, jobs JobManager, allowedExts []string, log *zap.Logger) UploadHandler {
	allowed := make(map[string]struct{}, len(allowedExts))
	for _, ext := range allowedExts {
		allowed[strings.ToLower(ext)] = struct{}{}
	}
	return &UploadHandlerImpl{
		store:    store,
		sessions: sessions,
		jobs:     jobs,
		allowed:  allowed,
		log:      log,
	}
}

// HandleUploadFile accepts a multipart upload and starts its parse job
func (h *UploadHandlerImpl) HandleUploadFile(c echo.Context) error {
	sess, err := lookupSession(h.sessions, c)
	if err != nil {
		return err
	}

	file, err := c.FormFile("file")
	if err != nil {
		return NewBadRequestError("no file provided", err)
	}

	if !h.isAllowed(file.Filename) {
		// Recorded like a failed parse so the uploader shows it.
		sess.SetProcessingStatus(models.ProcessingError)
		sess.AddError(parser.ErrUnsupportedFileType.Error())
		return NewBadRequestError(parser.ErrUnsupportedFileType.Error(), nil)
	}

	src, err := file.Open()
	if err != nil {
		return NewInternalError("failed to open uploaded file", err)
	}
	defer src.Close()

	info, err := h.store.Save(file.Filename, src)
	if err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			return NewTooLargeError(err.Error())
		}
		return NewInternalError("failed to save file", err)
	}

	job := h.jobs.StartJob(sess, info, file.Header.Get(echo.HeaderContentType))
	h.log.Debug("upload accepted",
		zap.String("session", sess.ID()),
		zap.String("job", job.ID),
		zap.String("file", info.Name),
		zap.Int64("size", info.Size))

	return c.JSON(http.StatusAccepted, uploadResponse{
		JobID:    job.ID,
		Status:   job.Status,
		FileName: info.Name,
		Size:     info.Size,
	})
}

// HandleGetJob returns the status of a parse job of this wizard
func (h *UploadHandlerImpl) HandleGetJob(c echo.Context) error {
	sess, err := lookupSession(h.sessions, c)
	if err != nil {
		return err
	}
	jobID := c.Param("jobId")
	job, err := h.jobs.GetJob(jobID)
	if err != nil || job.SessionID != sess.ID() {
		return NewNotFoundError("job", jobID)
	}
	return c.JSON(http.StatusOK, job)
}

func (h *UploadHandlerImpl) isAllowed(name string) bool {
	if len(h.allowed) == 0 {
		return true
	}
	_, ok := h.allowed[strings.ToLower(filepath.Ext(name))]
	return ok
}

type uploadResponse struct {
	JobID    string           `json:"jobId"`
	Status   models.JobStatus `json:"status"`
	FileName string           `json:"fileName"`
	Size     int64            `json:"size"`
}
