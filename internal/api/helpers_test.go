package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stepdash/backend/internal/inference"
	"github.com/stepdash/backend/internal/models"
	"github.com/stepdash/backend/internal/parser"
	"github.com/stepdash/backend/internal/session"
	"github.com/stepdash/backend/internal/testutil"
	"github.com/stepdash/backend/internal/upload"
	"github.com/stepdash/backend/internal/wizard"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testEnv struct {
	e        *echo.Echo
	sessions *session.Manager
	jobs     *upload.Manager
	store    *testutil.MockStorage
	ai       *fakeInference
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	catalog, err := wizard.NewCatalog()
	require.NoError(t, err)
	sessions, err := session.NewManager(catalog, session.Options{
		TempDir: t.TempDir(),
		Duck:    parser.DuckOptions{Threads: 1},
	}, zap.NewNop())
	require.NoError(t, err)

	store := testutil.NewMockStorage()
	jobs := upload.NewManager(store, parser.NewRegistry(), zap.NewNop())
	ai := &fakeInference{}

	e := echo.New()
	e.HTTPErrorHandler = NewErrorHandler(zap.NewNop(), true)
	RegisterRoutes(e, NewHandlers(&Dependencies{
		Store:       store,
		Sessions:    sessions,
		Jobs:        jobs,
		Inference:   ai,
		DefaultFlow: wizard.DefaultFlow,
		AllowedExts: []string{".csv", ".xlsx", ".gz"},
		Version:     "test",
	}))

	t.Cleanup(func() {
		jobs.Close()
		sessions.Close()
	})
	return &testEnv{e: e, sessions: sessions, jobs: jobs, store: store, ai: ai}
}

func (env *testEnv) do(method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) createWizard(t *testing.T, flow string) *session.Session {
	t.Helper()
	sess, err := env.sessions.Create(flow, 0)
	require.NoError(t, err)
	return sess
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func peopleTable() *models.Table {
	t := models.NewTable([]string{"name", "age"})
	t.Rows = []models.Row{
		{"name": " Ann ", "age": int64(30)},
		{"name": "Bob", "age": nil},
		{"name": " Ann ", "age": int64(30)},
	}
	return t
}

func addPeople(t *testing.T, sess *session.Session) {
	t.Helper()
	require.NoError(t, sess.AddDataset(context.Background(), "file_1", "people.csv", "text/csv", 42, peopleTable()))
}

// fakeInference records requests and returns canned answers.
type fakeInference struct {
	runResult *inference.Result
	runErr    error
	lastReq   inference.Request

	search    json.RawMessage
	searchErr error
	lastQuery inference.SearchQuery

	info    *inference.ModelInfo
	infoErr error
	lastKey string
}

func (f *fakeInference) Run(_ context.Context, req inference.Request) (*inference.Result, error) {
	f.lastReq = req
	return f.runResult, f.runErr
}

func (f *fakeInference) SearchModels(_ context.Context, q inference.SearchQuery) (json.RawMessage, error) {
	f.lastQuery = q
	return f.search, f.searchErr
}

func (f *fakeInference) ModelInfo(_ context.Context, modelID, apiKey string) (*inference.ModelInfo, error) {
	f.lastKey = apiKey
	if modelID == "" {
		return nil, inference.ErrMissingModel
	}
	return f.info, f.infoErr
}
