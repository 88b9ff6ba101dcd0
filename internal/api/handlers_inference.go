// handlers_inference.go - HuggingFace proxy handlers
//
// These routes answer with {error, details} bodies instead of APIError so
// existing inference clients keep working.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/stepdash/backend/internal/inference"
	"go.uber.org/zap"
)

// HeaderHuggingFaceKey lets a caller supply its own hub API key.
const HeaderHuggingFaceKey = "x-huggingface-api-key"

// InferenceHandlerImpl implements the InferenceHandler interface
type InferenceHandlerImpl struct {
	client InferenceClient
	log    *zap.Logger
}

// NewInferenceHandler creates a new inference handler
func NewInferenceHandler(client InferenceClient, log *zap.Logger) InferenceHandler {
	return &InferenceHandlerImpl{client: client, log: log}
}

type inferenceError struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// HandleInference runs an embedding or text generation request
func (h *InferenceHandlerImpl) HandleInference(c echo.Context) error {
	var req inference.Request
	// An unreadable body falls through to the route's generic 500, like
	// any other unexpected failure.
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusInternalServerError, inferenceError{Error: "Invalid request body: " + err.Error()})
	}

	result, err := h.client.Run(c.Request().Context(), req)
	if err == nil {
		return c.JSON(http.StatusOK, result)
	}

	var embErr *inference.EmbeddingError
	var genErr *inference.GenerationError
	switch {
	case errors.Is(err, inference.ErrMissingInput):
		return c.JSON(http.StatusBadRequest, inferenceError{Error: err.Error()})
	case errors.Is(err, inference.ErrMissingAPIKey):
		return c.JSON(http.StatusInternalServerError, inferenceError{Error: err.Error()})
	case errors.As(err, &embErr):
		return c.JSON(http.StatusBadRequest, inferenceError{
			Error:   "Embedding generation failed",
			Details: embErr.Err.Error(),
		})
	case errors.As(err, &genErr):
		return c.JSON(http.StatusBadRequest, inferenceError{
			Error:   "Model inference failed",
			Details: genErr.Details(),
		})
	}
	h.log.Error("inference failed", zap.String("model", req.ModelID), zap.Error(err))
	return c.JSON(http.StatusInternalServerError, inferenceError{Error: err.Error()})
}

// HandleSearchModels lists hub models by task or search term
func (h *InferenceHandlerImpl) HandleSearchModels(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	body, err := h.client.SearchModels(c.Request().Context(), inference.SearchQuery{
		Task:   c.QueryParam("task"),
		Search: c.QueryParam("search"),
		Limit:  limit,
	})
	if err != nil {
		if errors.Is(err, inference.ErrMissingQuery) {
			return c.JSON(http.StatusBadRequest, inferenceError{Error: err.Error()})
		}
		h.log.Warn("model search failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, inferenceError{Error: err.Error()})
	}
	return c.JSONBlob(http.StatusOK, body)
}

// HandleModelInfo returns hub metadata for one model
func (h *InferenceHandlerImpl) HandleModelInfo(c echo.Context) error {
	modelID := c.QueryParam("modelId")
	info, err := h.client.ModelInfo(c.Request().Context(), modelID, c.Request().Header.Get(HeaderHuggingFaceKey))
	if err != nil {
		var upErr *inference.UpstreamError
		switch {
		case errors.Is(err, inference.ErrMissingModel):
			return c.JSON(http.StatusBadRequest, inferenceError{Error: err.Error()})
		case errors.As(err, &upErr):
			return c.JSON(upErr.Status, inferenceError{Error: upErr.Error()})
		}
		h.log.Warn("model info failed", zap.String("model", modelID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, inferenceError{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, info)
}
