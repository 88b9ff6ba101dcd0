// handlers_dataset.go - Data store and dataset view handlers
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/stepdash/backend/internal/datastore"
	"github.com/stepdash/backend/internal/models"
	"github.com/stepdash/backend/internal/parser"
	"github.com/vmihailenco/msgpack/v5"
)

// MIMEMsgpack is the content type of the binary rows endpoint.
const MIMEMsgpack = "application/msgpack"

const (
	defaultGridPageSize = 50
	maxGridPageSize     = 1000
)

// DatasetHandlerImpl implements the DatasetHandler interface
type DatasetHandlerImpl struct {
	sessions SessionManager
}

// NewDatasetHandler creates a new dataset handler
func NewDatasetHandler(sessions SessionManager) DatasetHandler {
	return &DatasetHandlerImpl{sessions: sessions}
}

// HandleGetStore returns the files, processed keys and metadata of the data store
func (h *DatasetHandlerImpl) HandleGetStore(c echo.Context) error {
	sess, err := lookupSession(h.sessions, c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess.Store().Snapshot())
}

// HandleClearStore empties the data store
func (h *DatasetHandlerImpl) HandleClearStore(c echo.Context) error {
	sess, err := lookupSession(h.sessions, c)
	if err != nil {
		return err
	}
	sess.ClearStore()
	return c.NoContent(http.StatusNoContent)
}

// HandleSetStatus sets the processing status
func (h *DatasetHandlerImpl) HandleSetStatus(c echo.Context) error {
	sess, err := lookupSession(h.sessions, c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	status, err := models.ParseProcessingStatus(req.Status)
	if err != nil {
		return NewBadRequestError("invalid processing status", err)
	}
	sess.SetProcessingStatus(status)
	return c.JSON(http.StatusOK, sess.Store().Snapshot().Metadata)
}

// HandleAddError appends a message to the error log
func (h *DatasetHandlerImpl) HandleAddError(c echo.Context) error {
	sess, err := lookupSession(h.sessions, c)
	if err != nil {
		return err
	}
	var req errorRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if strings.TrimSpace(req.Message) == "" {
		return NewValidationError("message")
	}
	sess.AddError(req.Message)
	return c.JSON(http.StatusCreated, map[string][]string{"errors": sess.Store().Errors()})
}

// HandleGetRows returns one page of the data grid
func (h *DatasetHandlerImpl) HandleGetRows(c echo.Context) error {
	page, err := h.gridPage(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, page)
}

// HandleGetRowsMsgpack returns one page of the data grid in MessagePack format
func (h *DatasetHandlerImpl) HandleGetRowsMsgpack(c echo.Context) error {
	page, err := h.gridPage(c)
	if err != nil {
		return err
	}
	data, err := msgpack.Marshal(page)
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(http.StatusOK, MIMEMsgpack, data)
}

func (h *DatasetHandlerImpl) gridPage(c echo.Context) (*parser.GridPage, error) {
	sess, err := lookupSession(h.sessions, c)
	if err != nil {
		return nil, err
	}
	fileID := c.Param("fileId")

	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.QueryParam("pageSize"))
	if pageSize < 1 || pageSize > maxGridPageSize {
		pageSize = defaultGridPageSize
	}
	q := parser.GridQuery{
		Page:       page,
		PageSize:   pageSize,
		SortColumn: c.QueryParam("sort"),
		Descending: strings.EqualFold(c.QueryParam("dir"), "desc"),
		Search:     c.QueryParam("q"),
	}

	result, err := sess.Grid(c.Request().Context(), fileID, q)
	if err != nil {
		return nil, fromDomainError(err, "failed to query rows")
	}
	return result, nil
}

// HandleGetRow returns one row by zero-based index for the row viewer
func (h *DatasetHandlerImpl) HandleGetRow(c echo.Context) error {
	sess, err := lookupSession(h.sessions, c)
	if err != nil {
		return err
	}
	fileID := c.Param("fileId")
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return NewValidationError("index")
	}

	table, ok := sess.Store().GetOriginalData(fileID)
	if !ok {
		return NewNotFoundError("file", fileID)
	}
	row, err := sess.Store().Row(fileID, index)
	if err != nil {
		if errors.Is(err, datastore.ErrRowOutOfRange) {
			return NewNotFoundError("row", strconv.Itoa(index))
		}
		return fromDomainError(err, "failed to read row")
	}
	return c.JSON(http.StatusOK, rowResponse{
		FileID:  fileID,
		Index:   index,
		Total:   table.Len(),
		Columns: table.Columns,
		Row:     row,
	})
}

// HandleGetSummary returns the table summary of the active dataset
func (h *DatasetHandlerImpl) HandleGetSummary(c echo.Context) error {
	sess, err := lookupSession(h.sessions, c)
	if err != nil {
		return err
	}
	rec, table, ok := sess.Store().ActiveTable()
	if !ok {
		return fromDomainError(datastore.ErrNoData, "")
	}
	return c.JSON(http.StatusOK, datastore.Summarize(rec, table))
}

// HandleGetQuality returns the data quality metrics of the active dataset
func (h *DatasetHandlerImpl) HandleGetQuality(c echo.Context) error {
	sess, err := lookupSession(h.sessions, c)
	if err != nil {
		return err
	}
	rec, table, ok := sess.Store().ActiveTable()
	if !ok {
		return fromDomainError(datastore.ErrNoData, "")
	}
	return c.JSON(http.StatusOK, qualityResponse{
		File:    rec,
		Metrics: datastore.Measure(table),
	})
}

// HandleClean applies cleaning operations to the active dataset
func (h *DatasetHandlerImpl) HandleClean(c echo.Context) error {
	sess, err := lookupSession(h.sessions, c)
	if err != nil {
		return err
	}
	var req cleanRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	ops, err := datastore.ParseOperations(req.Operations)
	if err != nil {
		return NewBadRequestError("invalid cleaning operations", err)
	}
	if len(ops) == 0 {
		return NewValidationError("operations")
	}

	result, err := sess.Clean(c.Request().Context(), ops)
	if err != nil {
		return fromDomainError(err, "failed to clean data")
	}
	return c.JSON(http.StatusOK, result)
}

// HandleGetProcessed returns a processed data entry
func (h *DatasetHandlerImpl) HandleGetProcessed(c echo.Context) error {
	sess, err := lookupSession(h.sessions, c)
	if err != nil {
		return err
	}
	key := c.Param("key")
	value, ok := sess.Store().GetProcessedData(key)
	if !ok {
		return NewNotFoundError("processed data", key)
	}
	return c.JSONBlob(http.StatusOK, value)
}

// HandlePutProcessed stores a processed data entry under key
func (h *DatasetHandlerImpl) HandlePutProcessed(c echo.Context) error {
	sess, err := lookupSession(h.sessions, c)
	if err != nil {
		return err
	}
	key := c.Param("key")
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return NewBadRequestError("failed to read request body", err)
	}
	if !json.Valid(body) {
		return NewBadRequestError("request body must be JSON", nil)
	}
	if err := sess.Store().UpdateProcessedData(key, body); err != nil {
		return fromDomainError(err, "failed to store processed data")
	}
	return c.NoContent(http.StatusNoContent)
}

// Request/Response types

type statusRequest struct {
	Status string `json:"status"`
}

type errorRequest struct {
	Message string `json:"message"`
}

type cleanRequest struct {
	Operations []string `json:"operations"`
}

type rowResponse struct {
	FileID  string     `json:"fileId"`
	Index   int        `json:"index"`
	Total   int        `json:"total"`
	Columns []string   `json:"columns"`
	Row     models.Row `json:"row"`
}

type qualityResponse struct {
	File    models.FileRecord        `json:"file"`
	Metrics datastore.QualityMetrics `json:"metrics"`
}
