package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stepdash/backend/internal/inference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleInference(t *testing.T) {
	tests := []struct {
		name     string
		result   *inference.Result
		err      error
		status   int
		wantBody string
	}{
		{
			name:     "text generation",
			result:   &inference.Result{Type: "text-generation", Output: "hello", Raw: json.RawMessage(`[{"generated_text":"hello"}]`)},
			status:   http.StatusOK,
			wantBody: `{"type":"text-generation","output":"hello","raw":[{"generated_text":"hello"}]}`,
		},
		{
			name:     "missing input",
			err:      inference.ErrMissingInput,
			status:   http.StatusBadRequest,
			wantBody: `{"error":"Model ID and prompt are required"}`,
		},
		{
			name:     "missing api key",
			err:      inference.ErrMissingAPIKey,
			status:   http.StatusInternalServerError,
			wantBody: `{"error":"HUGGINGFACE_API_KEY environment variable is not set"}`,
		},
		{
			name:     "embedding failure",
			err:      &inference.EmbeddingError{Err: errors.New("model is loading")},
			status:   http.StatusBadRequest,
			wantBody: `{"error":"Embedding generation failed","details":"model is loading"}`,
		},
		{
			name: "both generation paths fail",
			err: &inference.GenerationError{
				TextGeneration: errors.New("not a text model"),
				ChatCompletion: errors.New("not a chat model"),
			},
			status: http.StatusBadRequest,
		},
		{
			name:     "unexpected",
			err:      errors.New("connection reset"),
			status:   http.StatusInternalServerError,
			wantBody: `{"error":"connection reset"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.ai.runResult = tt.result
			env.ai.runErr = tt.err

			rec := env.do(http.MethodPost, "/api/huggingface",
				`{"modelId":"gpt2","prompt":"hi","taskType":"text-generation","parameters":{"maxTokens":10}}`)
			assert.Equal(t, tt.status, rec.Code)
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, rec.Body.String())
			}
			assert.Equal(t, "gpt2", env.ai.lastReq.ModelID)
			require.NotNil(t, env.ai.lastReq.Parameters.MaxTokens)
			assert.Equal(t, 10, *env.ai.lastReq.Parameters.MaxTokens)
		})
	}
}

func TestHandleInference_GenerationDetails(t *testing.T) {
	env := newTestEnv(t)
	env.ai.runErr = &inference.GenerationError{
		TextGeneration: errors.New("not a text model"),
		ChatCompletion: errors.New("not a chat model"),
	}

	rec := env.do(http.MethodPost, "/api/huggingface", `{"modelId":"m","prompt":"p"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Error   string            `json:"error"`
		Details map[string]string `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Model inference failed", body.Error)
	assert.Equal(t, "not a text model", body.Details["textGenerationError"])
	assert.Equal(t, "not a chat model", body.Details["chatCompletionError"])
	assert.NotEmpty(t, body.Details["suggestion"])
}

func TestHandleInference_MalformedBody(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/huggingface", `{"modelId":`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "Invalid request body")
	assert.NotContains(t, body, "details")
	assert.Empty(t, env.ai.lastReq.ModelID)
}

func TestHandleSearchModels(t *testing.T) {
	env := newTestEnv(t)
	env.ai.search = json.RawMessage(`[{"id":"gpt2"}]`)

	rec := env.do(http.MethodGet, "/api/search-models?task=text-generation&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"id":"gpt2"}]`, rec.Body.String())
	assert.Equal(t, inference.SearchQuery{Task: "text-generation", Limit: 5}, env.ai.lastQuery)

	env.ai.searchErr = inference.ErrMissingQuery
	rec = env.do(http.MethodGet, "/api/search-models", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Either task or search parameter is required"}`, rec.Body.String())

	env.ai.searchErr = errors.New("HuggingFace API returned 503")
	rec = env.do(http.MethodGet, "/api/search-models?search=bert", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"HuggingFace API returned 503"}`, rec.Body.String())
}

func TestHandleModelInfo(t *testing.T) {
	env := newTestEnv(t)
	env.ai.info = &inference.ModelInfo{ModelID: "gpt2", PipelineTag: "text-generation", Tags: []string{}}

	req := httptest.NewRequest(http.MethodGet, "/api/model-info?modelId=gpt2", nil)
	req.Header.Set(HeaderHuggingFaceKey, "hf_user")
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"modelId":"gpt2"`)
	assert.Equal(t, "hf_user", env.ai.lastKey)

	rec = env.do(http.MethodGet, "/api/model-info", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Model ID is required"}`, rec.Body.String())

	env.ai.infoErr = &inference.UpstreamError{Status: http.StatusNotFound, Message: "Failed to fetch model info: Not Found"}
	rec = env.do(http.MethodGet, "/api/model-info?modelId=missing/model", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Failed to fetch model info: Not Found"}`, rec.Body.String())
}
