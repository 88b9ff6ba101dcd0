// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"
	"encoding/json"

	"github.com/labstack/echo/v4"
	"github.com/stepdash/backend/internal/inference"
	"github.com/stepdash/backend/internal/models"
	"github.com/stepdash/backend/internal/session"
	"github.com/stepdash/backend/internal/upload"
	"github.com/stepdash/backend/internal/wizard"
)

// WizardHandler handles wizard session and navigation operations
type WizardHandler interface {
	HandleListFlows(c echo.Context) error
	HandleCreateWizard(c echo.Context) error
	HandleGetWizard(c echo.Context) error
	HandleDeleteWizard(c echo.Context) error
	HandleKeepAlive(c echo.Context) error
	HandleMarkComplete(c echo.Context) error
	HandleMarkIncomplete(c echo.Context) error
	HandleReachable(c echo.Context) error
	HandleGoTo(c echo.Context) error
	HandleNext(c echo.Context) error
	HandlePrev(c echo.Context) error
	HandleReset(c echo.Context) error
	HandleGetData(c echo.Context) error
	HandlePatchData(c echo.Context) error
	HandleReview(c echo.Context) error
}

// DatasetHandler handles data store operations and the dataset views
type DatasetHandler interface {
	HandleGetStore(c echo.Context) error
	HandleClearStore(c echo.Context) error
	HandleSetStatus(c echo.Context) error
	HandleAddError(c echo.Context) error
	HandleGetRows(c echo.Context) error
	HandleGetRowsMsgpack(c echo.Context) error
	HandleGetRow(c echo.Context) error
	HandleGetSummary(c echo.Context) error
	HandleGetQuality(c echo.Context) error
	HandleClean(c echo.Context) error
	HandleGetProcessed(c echo.Context) error
	HandlePutProcessed(c echo.Context) error
}

// UploadHandler handles file uploads and their parse jobs
type UploadHandler interface {
	HandleUploadFile(c echo.Context) error
	HandleGetJob(c echo.Context) error
}

// InferenceHandler proxies HuggingFace inference and hub requests
type InferenceHandler interface {
	HandleInference(c echo.Context) error
	HandleSearchModels(c echo.Context) error
	HandleModelInfo(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// SessionManager defines the interface for session management
// This allows mocking in tests
type SessionManager interface {
	Catalog() *wizard.Catalog
	Create(flowName string, initialStep int) (*session.Session, error)
	Get(id string) (*session.Session, error)
	TouchSession(id string) bool
	Delete(id string) error
	Count() int
}

// JobManager starts and reports async parse jobs
type JobManager interface {
	StartJob(target upload.Target, info *models.FileInfo, mimeType string) *upload.Job
	GetJob(id string) (*upload.Job, error)
}

// InferenceClient is the HuggingFace client used by the proxy routes
type InferenceClient interface {
	Run(ctx context.Context, req inference.Request) (*inference.Result, error)
	SearchModels(ctx context.Context, q inference.SearchQuery) (json.RawMessage, error)
	ModelInfo(ctx context.Context, modelID, apiKey string) (*inference.ModelInfo, error)
}

// lookupSession resolves the :id route parameter and marks the session used.
func lookupSession(sessions SessionManager, c echo.Context) (*session.Session, error) {
	id := c.Param("id")
	if id == "" {
		return nil, NewValidationError("id")
	}
	sess, err := sessions.Get(id)
	if err != nil {
		return nil, NewNotFoundError("wizard", id)
	}
	return sess, nil
}
