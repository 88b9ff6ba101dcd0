// routes.go - Route registration helpers
package api

import (
	"github.com/labstack/echo/v4"
	"github.com/stepdash/backend/internal/storage"
	"go.uber.org/zap"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Store       storage.Store
	Sessions    SessionManager
	Jobs        JobManager
	Inference   InferenceClient
	DefaultFlow string
	AllowedExts []string
	WSReadLimit int64
	Version     string
	Logger      *zap.Logger
}

// Handlers holds all handler instances
type Handlers struct {
	Health    HealthHandler
	Wizard    WizardHandler
	Dataset   DatasetHandler
	Upload    UploadHandler
	Inference InferenceHandler
	WebSocket *WebSocketHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{
		Health:    NewHealthHandler(deps.Version, deps.Sessions, deps.Store),
		Wizard:    NewWizardHandler(deps.Sessions, deps.DefaultFlow),
		Dataset:   NewDatasetHandler(deps.Sessions),
		Upload:    NewUploadHandler(deps.Store, deps.Sessions, deps.Jobs, deps.AllowedExts, log.Named("upload")),
		Inference: NewInferenceHandler(deps.Inference, log.Named("inference")),
		WebSocket: NewWebSocketHandler(deps.Sessions, deps.WSReadLimit, log.Named("ws")),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	api := e.Group("/api")

	// Health check
	api.GET("/health", handlers.Health.HandleHealth)
	api.GET("/flows", handlers.Wizard.HandleListFlows)

	// Wizard session and navigation routes
	wizards := api.Group("/wizards")
	wizards.POST("", handlers.Wizard.HandleCreateWizard)
	wizards.GET("/:id", handlers.Wizard.HandleGetWizard)
	wizards.DELETE("/:id", handlers.Wizard.HandleDeleteWizard)
	wizards.POST("/:id/keepalive", handlers.Wizard.HandleKeepAlive)
	wizards.POST("/:id/steps/:step/complete", handlers.Wizard.HandleMarkComplete)
	wizards.DELETE("/:id/steps/:step/complete", handlers.Wizard.HandleMarkIncomplete)
	wizards.GET("/:id/steps/:step/reachable", handlers.Wizard.HandleReachable)
	wizards.POST("/:id/goto", handlers.Wizard.HandleGoTo)
	wizards.POST("/:id/next", handlers.Wizard.HandleNext)
	wizards.POST("/:id/prev", handlers.Wizard.HandlePrev)
	wizards.POST("/:id/reset", handlers.Wizard.HandleReset)
	wizards.GET("/:id/data", handlers.Wizard.HandleGetData)
	wizards.PATCH("/:id/data", handlers.Wizard.HandlePatchData)
	wizards.GET("/:id/review", handlers.Wizard.HandleReview)
	wizards.GET("/:id/ws", handlers.WebSocket.HandleWebSocket)

	// Upload routes
	wizards.POST("/:id/files", handlers.Upload.HandleUploadFile)
	wizards.GET("/:id/jobs/:jobId", handlers.Upload.HandleGetJob)

	// Data store and dataset view routes
	wizards.GET("/:id/store", handlers.Dataset.HandleGetStore)
	wizards.DELETE("/:id/store", handlers.Dataset.HandleClearStore)
	wizards.PUT("/:id/store/status", handlers.Dataset.HandleSetStatus)
	wizards.POST("/:id/store/errors", handlers.Dataset.HandleAddError)
	wizards.GET("/:id/files/:fileId/rows", handlers.Dataset.HandleGetRows)
	wizards.GET("/:id/files/:fileId/rows/msgpack", handlers.Dataset.HandleGetRowsMsgpack)
	wizards.GET("/:id/files/:fileId/rows/:index", handlers.Dataset.HandleGetRow)
	wizards.GET("/:id/active/summary", handlers.Dataset.HandleGetSummary)
	wizards.GET("/:id/active/quality", handlers.Dataset.HandleGetQuality)
	wizards.POST("/:id/active/clean", handlers.Dataset.HandleClean)
	wizards.GET("/:id/processed/:key", handlers.Dataset.HandleGetProcessed)
	wizards.PUT("/:id/processed/:key", handlers.Dataset.HandlePutProcessed)

	// HuggingFace proxy routes
	api.POST("/huggingface", handlers.Inference.HandleInference)
	api.GET("/search-models", handlers.Inference.HandleSearchModels)
	api.GET("/model-info", handlers.Inference.HandleModelInfo)
}
