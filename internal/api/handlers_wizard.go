// handlers_wizard.go - Wizard session and step navigation handlers
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/stepdash/backend/internal/wizard"
)

// WizardHandlerImpl implements the WizardHandler interface
type WizardHandlerImpl struct {
	sessions    SessionManager
	defaultFlow string
}

// NewWizardHandler creates a new wizard handler
func NewWizardHandler(sessions SessionManager, defaultFlow string) WizardHandler {
	return &WizardHandlerImpl{
		sessions:    sessions,
		defaultFlow: defaultFlow,
	}
}

// HandleListFlows returns the flows a wizard can be created from
func (h *WizardHandlerImpl) HandleListFlows(c echo.Context) error {
	flows := h.sessions.Catalog().List()
	out := make([]flowResponse, 0, len(flows))
	for _, f := range flows {
		out = append(out, flowResponse{
			Name:        f.Name,
			Title:       f.Title,
			Description: f.Description,
			TotalSteps:  len(f.Steps),
			Default:     f.Name == h.defaultFlow,
		})
	}
	return c.JSON(http.StatusOK, out)
}

// HandleCreateWizard starts a new wizard session
func (h *WizardHandlerImpl) HandleCreateWizard(c echo.Context) error {
	var req createWizardRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return NewBadRequestError("invalid request body", err)
		}
	}
	if req.Flow == "" {
		req.Flow = h.defaultFlow
	}

	sess, err := h.sessions.Create(req.Flow, req.InitialStep)
	if err != nil {
		if errors.Is(err, wizard.ErrFlowNotFound) {
			return NewNotFoundError("flow", req.Flow)
		}
		return NewInternalError("failed to create wizard", err)
	}
	return c.JSON(http.StatusCreated, sess.State())
}

// HandleGetWizard returns the full session state
func (h *WizardHandlerImpl) HandleGetWizard(c echo.Context) error {
	sess, err := lookupSession(h.sessions, c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess.State())
}

// HandleDeleteWizard ends a session and releases its data
func (h *WizardHandlerImpl) HandleDeleteWizard(c echo.Context) error {
	id := c.Param("id")
	if err := h.sessions.Delete(id); err != nil {
		return NewNotFoundError("wizard", id)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleKeepAlive marks a session as recently used
func (h *WizardHandlerImpl) HandleKeepAlive(c echo.Context) error {
	id := c.Param("id")
	if !h.sessions.TouchSession(id) {
		return NewNotFoundError("wizard", id)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// HandleMarkComplete sets the completion flag of a step
func (h *WizardHandlerImpl) HandleMarkComplete(c echo.Context) error {
	sess, err := lookupSession(h.sessions, c)
	if err != nil {
		return err
	}
	step, err := stepParam(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess.MarkStepComplete(step))
}

// HandleMarkIncomplete clears the completion flag of a step
func (h *WizardHandlerImpl) HandleMarkIncomplete(c echo.Context) error {
	sess, err := lookupSession(h.sessions, c)
	if err != nil {
		return err
	}
	step, err := stepParam(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess.MarkStepIncomplete(step))
}

// HandleReachable reports whether a step can be navigated to
func (h *WizardHandlerImpl) HandleReachable(c echo.Context) error {
	sess, err := lookupSession(h.sessions, c)
	if err != nil {
		return err
	}
	step, err := stepParam(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, reachableResponse{
		Step:      step,
		Reachable: sess.CanNavigateToStep(step),
	})
}

// HandleGoTo jumps to a step. A refused jump answers 200 with moved=false.
func (h *WizardHandlerImpl) HandleGoTo(c echo.Context) error {
	sess, err := lookupSession(h.sessions, c)
	if err != nil {
		return err
	}
	var req gotoRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if req.Step == nil {
		return NewValidationError("step")
	}
	return c.JSON(http.StatusOK, sess.GoToStep(*req.Step))
}

// HandleNext advances one step when the current step is complete
func (h *WizardHandlerImpl) HandleNext(c echo.Context) error {
	sess, err := lookupSession(h.sessions, c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess.NextStep())
}

// HandlePrev goes back one step
func (h *WizardHandlerImpl) HandlePrev(c echo.Context) error {
	sess, err := lookupSession(h.sessions, c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess.PrevStep())
}

// HandleReset returns the wizard to its initial step with an empty ledger and data bag
func (h *WizardHandlerImpl) HandleReset(c echo.Context) error {
	sess, err := lookupSession(h.sessions, c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess.Reset())
}

// HandleGetData returns the step data bag
func (h *WizardHandlerImpl) HandleGetData(c echo.Context) error {
	sess, err := lookupSession(h.sessions, c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess.Data())
}

// HandlePatchData shallow-merges the request object into the data bag
func (h *WizardHandlerImpl) HandlePatchData(c echo.Context) error {
	sess, err := lookupSession(h.sessions, c)
	if err != nil {
		return err
	}
	var partial map[string]json.RawMessage
	if err := json.NewDecoder(c.Request().Body).Decode(&partial); err != nil {
		return NewBadRequestError("request body must be a JSON object", err)
	}
	return c.JSON(http.StatusOK, sess.MergeData(partial))
}

// HandleReview returns what the review step shows
func (h *WizardHandlerImpl) HandleReview(c echo.Context) error {
	sess, err := lookupSession(h.sessions, c)
	if err != nil {
		return err
	}
	review, err := sess.Review()
	if err != nil {
		return NewBadRequestError("step data cannot be reviewed", err)
	}
	return c.JSON(http.StatusOK, review)
}

// Request/Response types

type flowResponse struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	TotalSteps  int    `json:"totalSteps"`
	Default     bool   `json:"default"`
}

type createWizardRequest struct {
	Flow        string `json:"flow"`
	InitialStep int    `json:"initialStep"`
}

type gotoRequest struct {
	Step *int `json:"step"`
}

type reachableResponse struct {
	Step      int  `json:"step"`
	Reachable bool `json:"reachable"`
}

func stepParam(c echo.Context) (int, error) {
	step, err := strconv.Atoi(c.Param("step"))
	if err != nil {
		return 0, NewValidationError("step")
	}
	return step, nil
}
