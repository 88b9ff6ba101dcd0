package api

import (
	"net/http"
	"testing"

	"github.com/stepdash/backend/internal/datastore"
	"github.com/stepdash/backend/internal/models"
	"github.com/stepdash/backend/internal/parser"
	"github.com/stepdash/backend/internal/session"
	"github.com/stepdash/backend/internal/wizard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestHandleGetStore(t *testing.T) {
	env := newTestEnv(t)
	sess := env.createWizard(t, wizard.DefaultFlow)
	base := "/api/wizards/" + sess.ID()

	rec := env.do(http.MethodGet, base+"/store", "")
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[datastore.Snapshot](t, rec)
	assert.Empty(t, snap.Files)
	assert.Equal(t, models.ProcessingIdle, snap.Metadata.ProcessingStatus)
	assert.Nil(t, snap.Metadata.LastUpdated)

	addPeople(t, sess)

	rec = env.do(http.MethodGet, base+"/store", "")
	snap = decode[datastore.Snapshot](t, rec)
	require.Len(t, snap.Files, 1)
	assert.Equal(t, "people.csv", snap.Files[0].Name)
	assert.Equal(t, 3, snap.RowCounts["file_1"])
	assert.NotNil(t, snap.Metadata.LastUpdated)

	rec = env.do(http.MethodDelete, base+"/store", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, sess.Store().Files())

	rec = env.do(http.MethodGet, base+"/files/file_1/rows", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSetStatusAndErrors(t *testing.T) {
	env := newTestEnv(t)
	sess := env.createWizard(t, wizard.DefaultFlow)
	base := "/api/wizards/" + sess.ID()

	rec := env.do(http.MethodPut, base+"/store/status", `{"status":"processing"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	meta := decode[datastore.Metadata](t, rec)
	assert.Equal(t, models.ProcessingProcessing, meta.ProcessingStatus)

	// Any transition is allowed.
	rec = env.do(http.MethodPut, base+"/store/status", `{"status":"idle"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodPut, base+"/store/status", `{"status":"sleeping"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, base+"/store/errors", `{"message":"first"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = env.do(http.MethodPost, base+"/store/errors", `{"message":"second"}`)
	assert.JSONEq(t, `{"errors":["first","second"]}`, rec.Body.String())

	rec = env.do(http.MethodPost, base+"/store/errors", `{"message":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetRows(t *testing.T) {
	env := newTestEnv(t)
	sess := env.createWizard(t, wizard.DefaultFlow)
	addPeople(t, sess)
	base := "/api/wizards/" + sess.ID() + "/files/file_1"

	rec := env.do(http.MethodGet, base+"/rows?page=1&pageSize=2", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page := decode[parser.GridPage](t, rec)
	assert.Equal(t, []string{"name", "age"}, page.Columns)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	assert.Equal(t, []int{0, 1}, page.RowIndexes)

	rec = env.do(http.MethodGet, base+"/rows?sort=age&dir=desc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page = decode[parser.GridPage](t, rec)
	assert.Equal(t, 50, page.PageSize)
	assert.Equal(t, []int{0, 2, 1}, page.RowIndexes)

	rec = env.do(http.MethodGet, base+"/rows?q=BOB", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page = decode[parser.GridPage](t, rec)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, []int{1}, page.RowIndexes)

	rec = env.do(http.MethodGet, base+"/rows?sort=height", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodGet, "/api/wizards/"+sess.ID()+"/files/file_9/rows", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetRowsMsgpack(t *testing.T) {
	env := newTestEnv(t)
	sess := env.createWizard(t, wizard.DefaultFlow)
	addPeople(t, sess)

	rec := env.do(http.MethodGet, "/api/wizards/"+sess.ID()+"/files/file_1/rows/msgpack?pageSize=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, MIMEMsgpack, rec.Header().Get("Content-Type"))

	var page struct {
		Columns    []string `msgpack:"columns"`
		RowIndexes []int    `msgpack:"rowIndexes"`
		Total      int      `msgpack:"total"`
	}
	require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, []string{"name", "age"}, page.Columns)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, []int{0, 1, 2}, page.RowIndexes)
}

func TestHandleGetRow(t *testing.T) {
	env := newTestEnv(t)
	sess := env.createWizard(t, wizard.DefaultFlow)
	addPeople(t, sess)
	base := "/api/wizards/" + sess.ID() + "/files/file_1/rows/"

	rec := env.do(http.MethodGet, base+"1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"fileId":"file_1","index":1,"total":3,"columns":["name","age"],"row":{"name":"Bob","age":null}}`, rec.Body.String())

	rec = env.do(http.MethodGet, base+"3", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(http.MethodGet, base+"-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(http.MethodGet, base+"first", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSummaryAndQuality(t *testing.T) {
	env := newTestEnv(t)
	sess := env.createWizard(t, wizard.DefaultFlow)
	base := "/api/wizards/" + sess.ID() + "/active"

	rec := env.do(http.MethodGet, base+"/summary", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"NO_DATA"`)

	addPeople(t, sess)

	rec = env.do(http.MethodGet, base+"/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[datastore.Summary](t, rec)
	assert.Equal(t, 3, summary.RowCount)
	assert.Equal(t, 2, summary.HeaderCount)
	assert.Equal(t, 1, summary.EmptyFieldCount)
	assert.Equal(t, "16.7", summary.EmptyPercentage)

	rec = env.do(http.MethodGet, base+"/quality", "")
	require.Equal(t, http.StatusOK, rec.Code)
	q := decode[qualityResponse](t, rec)
	assert.Equal(t, "file_1", q.File.ID)
	assert.Equal(t, 3, q.Metrics.TotalRows)
	assert.Equal(t, 1, q.Metrics.RowsWithMissing)
	assert.Equal(t, 1, q.Metrics.DuplicateRows)
	assert.Equal(t, 2, q.Metrics.FieldsWithWhitespace)
}

func TestHandleClean(t *testing.T) {
	env := newTestEnv(t)
	sess := env.createWizard(t, wizard.DefaultFlow)
	base := "/api/wizards/" + sess.ID() + "/active/clean"

	rec := env.do(http.MethodPost, base, `{"operations":["remove-missing"]}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	addPeople(t, sess)

	rec = env.do(http.MethodPost, base, `{"operations":["remove-missing","shuffle"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(http.MethodPost, base, `{"operations":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, base, `{"operations":["trim-whitespace","remove-duplicates","remove-missing"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[session.CleanResult](t, rec)
	assert.Equal(t, 3, result.Report.RowsBefore)
	assert.Equal(t, 1, result.Report.RowsAfter)
	assert.Equal(t, 1, result.Metrics.TotalRows)
	assert.Zero(t, result.Metrics.FieldsWithWhitespace)

	// The grid table is reloaded with the cleaned rows.
	rec = env.do(http.MethodGet, "/api/wizards/"+sess.ID()+"/files/file_1/rows", "")
	assert.Equal(t, 1, decode[parser.GridPage](t, rec).Total)

	// Cleaning completes the processor step.
	processor := sess.Flow().StepsOfKind(wizard.KindProcessor)[0]
	assert.Contains(t, sess.Gate().CompletedSteps, processor)
}

func TestHandleProcessedData(t *testing.T) {
	env := newTestEnv(t)
	sess := env.createWizard(t, wizard.DefaultFlow)
	base := "/api/wizards/" + sess.ID() + "/processed/"

	rec := env.do(http.MethodGet, base+"chart", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodPut, base+"chart", `{"labels":["a","b"],"values":[1,2]}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(http.MethodGet, base+"chart", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"labels":["a","b"],"values":[1,2]}`, rec.Body.String())

	rec = env.do(http.MethodPut, base+"chart", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodGet, "/api/wizards/"+sess.ID()+"/store", "")
	assert.Equal(t, []string{"chart"}, decode[datastore.Snapshot](t, rec).ProcessedKeys)
}
