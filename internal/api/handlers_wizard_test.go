package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stepdash/backend/internal/session"
	"github.com/stepdash/backend/internal/wizard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleListFlows(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/flows", "")
	require.Equal(t, http.StatusOK, rec.Code)

	flows := decode[[]flowResponse](t, rec)
	byName := make(map[string]flowResponse)
	for _, f := range flows {
		byName[f.Name] = f
	}
	require.Contains(t, byName, "data-pipeline")
	require.Contains(t, byName, "form-demo")
	assert.True(t, byName["data-pipeline"].Default)
	assert.Equal(t, 6, byName["data-pipeline"].TotalSteps)
	assert.Equal(t, 4, byName["form-demo"].TotalSteps)
}

func TestHandleCreateWizard(t *testing.T) {
	env := newTestEnv(t)

	t.Run("default flow without body", func(t *testing.T) {
		rec := env.do(http.MethodPost, "/api/wizards", "")
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		state := decode[session.State](t, rec)
		assert.NotEmpty(t, state.ID)
		assert.Equal(t, "data-pipeline", state.Flow)
		assert.Equal(t, 6, state.Gate.TotalSteps)
		assert.Equal(t, 0, state.Gate.CurrentStep)
	})

	t.Run("named flow and initial step", func(t *testing.T) {
		rec := env.do(http.MethodPost, "/api/wizards", `{"flow":"form-demo","initialStep":2}`)
		require.Equal(t, http.StatusCreated, rec.Code)
		state := decode[session.State](t, rec)
		assert.Equal(t, "form-demo", state.Flow)
		assert.Equal(t, 2, state.Gate.CurrentStep)
		assert.Equal(t, 2, state.Gate.InitialStep)
	})

	t.Run("initial step is clamped", func(t *testing.T) {
		rec := env.do(http.MethodPost, "/api/wizards", `{"initialStep":99}`)
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, 5, decode[session.State](t, rec).Gate.CurrentStep)
	})

	t.Run("unknown flow", func(t *testing.T) {
		rec := env.do(http.MethodPost, "/api/wizards", `{"flow":"nope"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), `"code":"NOT_FOUND"`)
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := env.do(http.MethodPost, "/api/wizards", `{"flow":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestWizardNavigation(t *testing.T) {
	env := newTestEnv(t)
	sess := env.createWizard(t, wizard.DefaultFlow)
	base := "/api/wizards/" + sess.ID()

	// Next is refused while step 0 is incomplete; not an error.
	rec := env.do(http.MethodPost, base+"/next", "")
	require.Equal(t, http.StatusOK, rec.Code)
	move := decode[session.Move](t, rec)
	assert.False(t, move.Moved)
	assert.Equal(t, 0, move.Gate.CurrentStep)

	rec = env.do(http.MethodPost, base+"/steps/0/complete", "")
	require.Equal(t, http.StatusOK, rec.Code)
	marked := decode[session.Move](t, rec)
	assert.True(t, marked.Moved)
	assert.Equal(t, []int{0}, marked.Gate.CompletedSteps)
	assert.True(t, marked.Gate.CanGoNext)

	// Marking again leaves the ledger as it was.
	rec = env.do(http.MethodPost, base+"/steps/0/complete", "")
	assert.False(t, decode[session.Move](t, rec).Moved)
	rec = env.do(http.MethodPost, base+"/steps/99/complete", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[session.Move](t, rec).Moved)

	rec = env.do(http.MethodGet, base+"/steps/1/reachable", "")
	assert.True(t, decode[reachableResponse](t, rec).Reachable)
	rec = env.do(http.MethodGet, base+"/steps/3/reachable", "")
	assert.False(t, decode[reachableResponse](t, rec).Reachable)

	rec = env.do(http.MethodPost, base+"/next", "")
	move = decode[session.Move](t, rec)
	assert.True(t, move.Moved)
	assert.Equal(t, 1, move.Gate.CurrentStep)

	// Skipping past incomplete step 1 is refused.
	rec = env.do(http.MethodPost, base+"/goto", `{"step":4}`)
	require.Equal(t, http.StatusOK, rec.Code)
	move = decode[session.Move](t, rec)
	assert.False(t, move.Moved)
	assert.Equal(t, 1, move.Gate.CurrentStep)

	// Back navigation is always allowed.
	rec = env.do(http.MethodPost, base+"/goto", `{"step":0}`)
	assert.True(t, decode[session.Move](t, rec).Moved)

	rec = env.do(http.MethodDelete, base+"/steps/0/complete", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[session.Move](t, rec).Gate.CompletedSteps)

	rec = env.do(http.MethodPost, base+"/prev", "")
	move = decode[session.Move](t, rec)
	assert.False(t, move.Moved)
	assert.Equal(t, 0, move.Gate.CurrentStep)
}

func TestWizardNavigation_Validation(t *testing.T) {
	env := newTestEnv(t)
	sess := env.createWizard(t, wizard.DefaultFlow)
	base := "/api/wizards/" + sess.ID()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"non numeric step", http.MethodPost, base + "/steps/abc/complete", "", http.StatusBadRequest},
		{"goto without step", http.MethodPost, base + "/goto", `{}`, http.StatusBadRequest},
		{"goto bad json", http.MethodPost, base + "/goto", `{"step":`, http.StatusBadRequest},
		{"unknown wizard", http.MethodPost, "/api/wizards/missing/next", "", http.StatusNotFound},
		{"unknown wizard state", http.MethodGet, "/api/wizards/missing", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestHandleReset(t *testing.T) {
	env := newTestEnv(t)
	sess, err := env.sessions.Create(wizard.DefaultFlow, 1)
	require.NoError(t, err)
	sess.MarkStepComplete(1)
	sess.NextStep()
	sess.MergeData(map[string]json.RawMessage{"name": json.RawMessage(`"Ann"`)})

	rec := env.do(http.MethodPost, "/api/wizards/"+sess.ID()+"/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	gate := decode[wizard.GateState](t, rec)
	assert.Equal(t, 1, gate.CurrentStep)
	assert.Empty(t, gate.CompletedSteps)
	assert.Empty(t, sess.Data())
}

func TestHandleData(t *testing.T) {
	env := newTestEnv(t)
	sess := env.createWizard(t, "form-demo")
	base := "/api/wizards/" + sess.ID()

	rec := env.do(http.MethodPatch, base+"/data", `{"name":"Ann","email":"ann@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodPatch, base+"/data", `{"email":"ann@example.org","selectedOption":"option2"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, base+"/data", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"name":"Ann","email":"ann@example.org","selectedOption":"option2"}`, rec.Body.String())

	rec = env.do(http.MethodGet, base+"/review", "")
	require.Equal(t, http.StatusOK, rec.Code)
	review := decode[wizard.ReviewSummary](t, rec)
	assert.Equal(t, "Ann", review.Form.Name)
	assert.Equal(t, "option2", review.SelectedOption)

	rec = env.do(http.MethodPatch, base+"/data", `[1,2]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// A name that is not a string cannot be reviewed.
	env.do(http.MethodPatch, base+"/data", `{"name":42}`)
	rec = env.do(http.MethodGet, base+"/review", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDeleteAndKeepAlive(t *testing.T) {
	env := newTestEnv(t)
	sess := env.createWizard(t, wizard.DefaultFlow)
	base := "/api/wizards/" + sess.ID()

	rec := env.do(http.MethodPost, base+"/keepalive", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(http.MethodPost, base+"/keepalive", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetWizard_DirectContext(t *testing.T) {
	env := newTestEnv(t)
	sess := env.createWizard(t, wizard.DefaultFlow)
	h := NewWizardHandler(env.sessions, wizard.DefaultFlow)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := env.e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(sess.ID())

	if assert.NoError(t, h.HandleGetWizard(c)) {
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, strings.Contains(rec.Body.String(), `"flow":"data-pipeline"`))
	}

	c = echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("missing")
	err := h.HandleGetWizard(c)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}
