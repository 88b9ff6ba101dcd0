package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

const (
	TaskEmbedding = "embedding"

	TypeEmbedding      = "embedding"
	TypeTextGeneration = "text-generation"
	TypeChatCompletion = "chat-completion"

	fallbackSuggestion = "This model may not support text generation or chat. Try a different model or task type."
)

// Parameters tune generation. Nil fields take their defaults.
type Parameters struct {
	MaxTokens         *int     `json:"maxTokens,omitempty"`
	Temperature       *float64 `json:"temperature,omitempty"`
	TopP              *float64 `json:"topP,omitempty"`
	RepetitionPenalty *float64 `json:"repetitionPenalty,omitempty"`
}

// Request is one proxied prompt.
type Request struct {
	ModelID    string     `json:"modelId"`
	Prompt     string     `json:"prompt"`
	TaskType   string     `json:"taskType"`
	Parameters Parameters `json:"parameters"`
}

// Result is the proxied answer. Raw is the upstream body as received.
type Result struct {
	Type       string          `json:"type"`
	Output     any             `json:"output"`
	Dimensions any             `json:"dimensions,omitempty"`
	Raw        json.RawMessage `json:"raw"`
}

// GenerationParams are the resolved values sent upstream.
type GenerationParams struct {
	MaxNewTokens      int     `json:"max_new_tokens"`
	Temperature       float64 `json:"temperature"`
	TopP              float64 `json:"top_p"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
}

// resolve applies defaults. A zero max token count or repetition penalty
// also falls back, while an explicit zero temperature or top_p is kept.
func (p Parameters) resolve() GenerationParams {
	g := GenerationParams{MaxNewTokens: 250, Temperature: 0.7, TopP: 0.9, RepetitionPenalty: 1.0}
	if p.MaxTokens != nil && *p.MaxTokens != 0 {
		g.MaxNewTokens = *p.MaxTokens
	}
	if p.Temperature != nil {
		g.Temperature = *p.Temperature
	}
	if p.TopP != nil {
		g.TopP = *p.TopP
	}
	if p.RepetitionPenalty != nil && *p.RepetitionPenalty != 0 {
		g.RepetitionPenalty = *p.RepetitionPenalty
	}
	return g
}

// EmbeddingError reports a failed feature extraction.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string { return "Embedding generation failed: " + e.Err.Error() }
func (e *EmbeddingError) Unwrap() error { return e.Err }

// GenerationError reports that text generation and the chat fallback both failed.
type GenerationError struct {
	TextGeneration error
	ChatCompletion error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("Model inference failed: text generation: %v; chat completion: %v", e.TextGeneration, e.ChatCompletion)
}

// Details is the body the API returns for this error.
func (e *GenerationError) Details() map[string]string {
	return map[string]string{
		"textGenerationError": e.TextGeneration.Error(),
		"chatCompletionError": e.ChatCompletion.Error(),
		"suggestion":          fallbackSuggestion,
	}
}

// Run executes a request: feature extraction for embeddings, otherwise text
// generation with one fallback to chat completion.
func (c *Client) Run(ctx context.Context, req Request) (*Result, error) {
	if req.ModelID == "" || req.Prompt == "" {
		return nil, ErrMissingInput
	}
	if !c.HasAPIKey() {
		return nil, ErrMissingAPIKey
	}
	log := c.log.With(zap.String("model", req.ModelID), zap.String("task", req.TaskType))

	if req.TaskType == TaskEmbedding {
		raw, err := c.FeatureExtraction(ctx, req.ModelID, req.Prompt)
		if err != nil {
			log.Warn("feature extraction failed", zap.Error(err))
			return nil, &EmbeddingError{Err: err}
		}
		var output any
		if err := json.Unmarshal(raw, &output); err != nil {
			return nil, &EmbeddingError{Err: err}
		}
		var dims any = "unknown"
		if arr, ok := output.([]any); ok {
			dims = len(arr)
		}
		return &Result{Type: TypeEmbedding, Output: output, Dimensions: dims, Raw: raw}, nil
	}

	params := req.Parameters.resolve()
	text, raw, genErr := c.TextGeneration(ctx, req.ModelID, req.Prompt, params)
	if genErr == nil {
		return &Result{Type: TypeTextGeneration, Output: text, Raw: raw}, nil
	}
	log.Info("text generation failed, trying chat completion", zap.Error(genErr))

	text, raw, chatErr := c.ChatCompletion(ctx, req.ModelID, req.Prompt, params)
	if chatErr == nil {
		return &Result{Type: TypeChatCompletion, Output: text, Raw: raw}, nil
	}
	log.Warn("chat completion failed", zap.Error(chatErr))
	return nil, &GenerationError{TextGeneration: genErr, ChatCompletion: chatErr}
}

// FeatureExtraction returns the embedding for input as raw JSON.
func (c *Client) FeatureExtraction(ctx context.Context, modelID, input string) (json.RawMessage, error) {
	body := map[string]any{"inputs": input}
	target := c.inferenceURL + "/" + modelPath(modelID) + "/pipeline/feature-extraction"
	req, err := newJSONRequest(ctx, http.MethodPost, target, c.apiKey, body)
	if err != nil {
		return nil, err
	}
	return c.doJSON(req)
}

// TextGeneration returns the generated text and the raw first result.
func (c *Client) TextGeneration(ctx context.Context, modelID, prompt string, params GenerationParams) (string, json.RawMessage, error) {
	body := map[string]any{"inputs": prompt, "parameters": params}
	req, err := newJSONRequest(ctx, http.MethodPost, c.inferenceURL+"/"+modelPath(modelID), c.apiKey, body)
	if err != nil {
		return "", nil, err
	}
	data, err := c.doJSON(req)
	if err != nil {
		return "", nil, err
	}

	var results []json.RawMessage
	if err := json.Unmarshal(data, &results); err != nil || len(results) == 0 {
		return "", nil, errors.New("Expected Array<{generated_text: string}>")
	}
	var first struct {
		GeneratedText *string `json:"generated_text"`
	}
	if err := json.Unmarshal(results[0], &first); err != nil || first.GeneratedText == nil {
		return "", nil, errors.New("Expected Array<{generated_text: string}>")
	}
	return *first.GeneratedText, results[0], nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p"`
}

// ChatCompletion sends the prompt as a single user message.
func (c *Client) ChatCompletion(ctx context.Context, modelID, prompt string, params GenerationParams) (string, json.RawMessage, error) {
	body := chatRequest{
		Model:       modelID,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   params.MaxNewTokens,
		Temperature: params.Temperature,
		TopP:        params.TopP,
	}
	req, err := newJSONRequest(ctx, http.MethodPost, c.chatURL, c.apiKey, body)
	if err != nil {
		return "", nil, err
	}
	data, err := c.doJSON(req)
	if err != nil {
		return "", nil, err
	}

	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", nil, fmt.Errorf("decoding chat completion: %w", err)
	}
	text := ""
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	}
	return text, data, nil
}
