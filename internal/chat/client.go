package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"promptplay/internal/logging"
)

// Message is one conversation turn on the wire.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Deployment is one entry from the upstream model catalog.
type Deployment struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Request describes one streaming completion. Payload carries the
// schema-built input or variables mapping; Params carries generation
// settings from the current preset. Both are merged into the request body.
type Request struct {
	Model    string
	Messages []Message
	Payload  map[string]interface{}
	Params   map[string]interface{}
}

// Result is the assembled outcome of a completed (or interrupted) stream.
type Result struct {
	Content string
	Tokens  int
}

// APIError is a non-2xx upstream response. Details holds the raw body when
// it was valid JSON; Message is the extracted human-readable message, or the
// verbatim body when it was not JSON.
type APIError struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.Status, e.Message)
}

func newAPIError(status int, body []byte) *APIError {
	e := &APIError{Status: status, Message: strings.TrimSpace(string(body))}
	if json.Valid(body) {
		e.Details = append(json.RawMessage(nil), body...)
		var parsed struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &parsed) == nil {
			if parsed.Error.Message != "" {
				e.Message = parsed.Error.Message
			} else if parsed.Message != "" {
				e.Message = parsed.Message
			}
		}
	}
	return e
}

// Client talks to an OpenAI-compatible completion API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *logging.Logger
}

// NewClient creates a client for the given endpoint.
func NewClient(baseURL, apiKey string, logger *logging.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 5 * time.Minute},
		logger:  logger.Component("chat"),
	}
}

// Stream runs one streaming completion, writing each content delta to w as
// it arrives. The assembled content is returned even on error, so callers
// can keep partial output after a cancel.
func (c *Client) Stream(ctx context.Context, req Request, w io.Writer) (Result, error) {
	logger := c.logger.WithFields(map[string]interface{}{
		"model":         req.Model,
		"message_count": len(req.Messages),
	})
	logger.Debug("starting chat stream request")

	start := time.Now()
	reqBody := map[string]interface{}{
		"model":    req.Model,
		"messages": req.Messages,
		"stream":   true,
	}
	for k, v := range req.Params {
		reqBody[k] = v
	}
	for k, v := range req.Payload {
		reqBody[k] = v
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal stream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create stream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		logger.WithContext("error", err.Error()).Error("stream request failed")
		return Result{}, fmt.Errorf("stream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		apiErr := newAPIError(resp.StatusCode, bodyBytes)
		logger.WithFields(map[string]interface{}{
			"status":     resp.StatusCode,
			"error":      apiErr.Message,
			"latency_ms": time.Since(start).Milliseconds(),
		}).Error("stream returned non-OK status")
		return Result{}, apiErr
	}

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	deltaCount := 0
	usageTokens := 0

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
			Usage *struct {
				TotalTokens int `json:"total_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Usage != nil && chunk.Usage.TotalTokens > 0 {
			usageTokens = chunk.Usage.TotalTokens
		}

		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			content := chunk.Choices[0].Delta.Content
			full.WriteString(content)
			deltaCount++
			if _, err := w.Write([]byte(content)); err != nil {
				return Result{Content: full.String(), Tokens: tokens(usageTokens, deltaCount)},
					fmt.Errorf("failed to write stream content: %w", err)
			}
		}
	}

	result := Result{Content: full.String(), Tokens: tokens(usageTokens, deltaCount)}

	if err := scanner.Err(); err != nil {
		logger.WithFields(map[string]interface{}{
			"error":      err.Error(),
			"latency_ms": time.Since(start).Milliseconds(),
		}).Error("failed to read stream")
		return result, fmt.Errorf("failed to read stream: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"latency_ms":      time.Since(start).Milliseconds(),
		"tokens":          result.Tokens,
		"response_length": len(result.Content),
	}).Debug("chat stream completed")

	return result, nil
}

// tokens prefers the server-reported usage total and falls back to counting
// deltas when the server did not report usage.
func tokens(usage, deltas int) int {
	if usage > 0 {
		return usage
	}
	return deltas
}

// PromptSchema fetches the raw input schema for a prompt from the upstream
// API. The body is returned as-is; flattening is the caller's concern.
func (c *Client) PromptSchema(ctx context.Context, promptID string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/v1/prompts/"+promptID+"/schema", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("schema request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newAPIError(resp.StatusCode, body)
	}
	return body, nil
}

// ListDeployments fetches the model catalog from the upstream API.
func (c *Client) ListDeployments(ctx context.Context) ([]Deployment, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create models request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("models request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, newAPIError(resp.StatusCode, bodyBytes)
	}

	var result struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode models response: %w", err)
	}

	deployments := make([]Deployment, 0, len(result.Data))
	for _, m := range result.Data {
		deployments = append(deployments, Deployment{ID: m.ID, Name: m.ID, Status: "succeeded"})
	}
	return deployments, nil
}
