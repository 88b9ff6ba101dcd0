// Package inference proxies prompts to the HuggingFace inference API and
// reads model metadata from the HuggingFace hub.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultInferenceURL = "https://router.huggingface.co/hf-inference/models"
	DefaultChatURL      = "https://router.huggingface.co/v1/chat/completions"
	DefaultHubURL       = "https://huggingface.co/api"

	// maxErrorBody bounds how much of an upstream error body is read.
	maxErrorBody = 4096
)

var (
	ErrMissingInput  = errors.New("Model ID and prompt are required")
	ErrMissingAPIKey = errors.New("HUGGINGFACE_API_KEY environment variable is not set")
	ErrMissingQuery  = errors.New("Either task or search parameter is required")
	ErrMissingModel  = errors.New("Model ID is required")
)

// UpstreamError is a non-2xx answer from HuggingFace.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HuggingFace returned %d %s", e.Status, http.StatusText(e.Status))
	}
	return e.Message
}

// Options configures a Client.
type Options struct {
	APIKey       string
	InferenceURL string
	ChatURL      string
	HubURL       string
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// Client talks to the HuggingFace inference and hub APIs.
type Client struct {
	apiKey       string
	inferenceURL string
	chatURL      string
	hubURL       string
	httpClient   *http.Client
	log          *zap.Logger
}

// New creates a client. Empty URLs fall back to the public endpoints.
func New(opts Options, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		apiKey:       strings.TrimSpace(opts.APIKey),
		inferenceURL: strings.TrimRight(orDefault(opts.InferenceURL, DefaultInferenceURL), "/"),
		chatURL:      orDefault(opts.ChatURL, DefaultChatURL),
		hubURL:       strings.TrimRight(orDefault(opts.HubURL, DefaultHubURL), "/"),
		httpClient:   httpClient,
		log:          log.Named("inference"),
	}
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// HasAPIKey reports whether a server side key is configured.
func (c *Client) HasAPIKey() bool {
	return c.apiKey != ""
}

// modelPath escapes each segment of an "org/model" id.
func modelPath(modelID string) string {
	parts := strings.Split(modelID, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// newJSONRequest creates a request with JSON headers and bearer auth.
func newJSONRequest(ctx context.Context, method, target, apiKey string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	return req, nil
}

// doJSON sends req and returns the response body, or an UpstreamError for
// non-2xx answers.
func (c *Client) doJSON(req *http.Request) (json.RawMessage, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &UpstreamError{Status: resp.StatusCode, Message: upstreamMessage(data)}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return data, nil
}

// upstreamMessage pulls the "error" field out of a HuggingFace error body.
func upstreamMessage(body []byte) string {
	var e struct {
		Error any `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error != nil {
		switch v := e.Error.(type) {
		case string:
			return v
		case map[string]any:
			if msg, ok := v["message"].(string); ok {
				return msg
			}
		}
	}
	return strings.TrimSpace(string(body))
}

// SearchQuery filters the hub model listing.
type SearchQuery struct {
	Task   string
	Search string
	Limit  int
}

// SearchModels lists hub models sorted by downloads.
func (c *Client) SearchModels(ctx context.Context, q SearchQuery) (json.RawMessage, error) {
	if q.Task == "" && q.Search == "" {
		return nil, ErrMissingQuery
	}
	if q.Limit <= 0 {
		q.Limit = 20
	}

	params := url.Values{}
	params.Set("limit", strconv.Itoa(q.Limit))
	params.Set("sort", "downloads")
	if q.Task != "" {
		params.Set("filter", q.Task)
	}
	if q.Search != "" {
		params.Set("search", q.Search)
	}

	req, err := newJSONRequest(ctx, http.MethodGet, c.hubURL+"/models?"+params.Encode(), "", nil)
	if err != nil {
		return nil, err
	}
	body, err := c.doJSON(req)
	if err != nil {
		var ue *UpstreamError
		if errors.As(err, &ue) {
			return nil, fmt.Errorf("HuggingFace API returned %d", ue.Status)
		}
		return nil, err
	}
	return body, nil
}

// ModelInfo is the subset of hub metadata shown for a model.
type ModelInfo struct {
	ModelID     string   `json:"modelId"`
	PipelineTag string   `json:"pipelineTag,omitempty"`
	Tags        []string `json:"tags"`
	Downloads   int64    `json:"downloads"`
	Likes       int64    `json:"likes"`
	Library     string   `json:"library,omitempty"`
	Description string   `json:"description,omitempty"`
	Language    any      `json:"language,omitempty"`
}

type hubModel struct {
	ID          string   `json:"id"`
	ModelID     string   `json:"modelId"`
	PipelineTag string   `json:"pipeline_tag"`
	Tags        []string `json:"tags"`
	Downloads   int64    `json:"downloads"`
	Likes       int64    `json:"likes"`
	LibraryName string   `json:"library_name"`
	CardData    struct {
		Description string `json:"description"`
		Language    any    `json:"language"`
	} `json:"cardData"`
}

// ModelInfo fetches metadata for one model. apiKey overrides the configured key.
func (c *Client) ModelInfo(ctx context.Context, modelID, apiKey string) (*ModelInfo, error) {
	if modelID == "" {
		return nil, ErrMissingModel
	}
	if apiKey == "" {
		apiKey = c.apiKey
	}

	req, err := newJSONRequest(ctx, http.MethodGet, c.hubURL+"/models/"+modelPath(modelID), apiKey, nil)
	if err != nil {
		return nil, err
	}
	body, err := c.doJSON(req)
	if err != nil {
		var ue *UpstreamError
		if errors.As(err, &ue) {
			return nil, &UpstreamError{
				Status:  ue.Status,
				Message: "Failed to fetch model info: " + http.StatusText(ue.Status),
			}
		}
		return nil, err
	}

	var m hubModel
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("decoding model info: %w", err)
	}
	info := &ModelInfo{
		ModelID:     m.ID,
		PipelineTag: m.PipelineTag,
		Tags:        m.Tags,
		Downloads:   m.Downloads,
		Likes:       m.Likes,
		Library:     m.LibraryName,
		Description: m.CardData.Description,
		Language:    m.CardData.Language,
	}
	if info.ModelID == "" {
		info.ModelID = m.ModelID
	}
	if info.Tags == nil {
		info.Tags = []string{}
	}
	return info, nil
}
