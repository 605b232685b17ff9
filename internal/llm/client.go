// Package llm talks to an OpenAI-compatible generation gateway with
// per-provider rate limiting and a model fallback chain.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Client talks to a single model behind the gateway
type Client struct {
	endpoint    string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	headers     map[string]string
	limiter     *rate.Limiter
	httpClient  *http.Client
}

// ClientConfig contains configuration for the LLM client
type ClientConfig struct {
	Endpoint       string
	APIKey         string
	Model          string
	Temperature    float64
	MaxTokens      int
	RequestsPerMin int
	Headers        map[string]string
}

// NewClient creates a new gateway client for one model
func NewClient(config ClientConfig) *Client {
	if config.Endpoint == "" {
		config.Endpoint = "http://localhost:8080/v1/chat/completions"
	}
	if config.Temperature == 0 {
		config.Temperature = 0.3
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.RequestsPerMin == 0 {
		config.RequestsPerMin = 60
	}

	return &Client{
		endpoint:    config.Endpoint,
		apiKey:      config.APIKey,
		model:       config.Model,
		temperature: config.Temperature,
		maxTokens:   config.MaxTokens,
		headers:     config.Headers,
		limiter:     rate.NewLimiter(rate.Limit(float64(config.RequestsPerMin)/60.0), 1),
		httpClient:  &http.Client{},
	}
}

// Model returns the model id this client targets
func (c *Client) Model() string {
	return c.model
}

// Generate sends one prompt and returns the raw completion text. The
// caller controls the timeout through ctx.
func (c *Client) Generate(ctx context.Context, prompt string, params GenerateParams) (*Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &Error{Kind: KindTransport, Model: c.model, Err: err}
	}

	messages := make([]ChatMessage, 0, 2)
	if params.SystemPrompt != "" {
		messages = append(messages, ChatMessage{Role: "system", Content: params.SystemPrompt})
	}
	messages = append(messages, ChatMessage{Role: "user", Content: prompt})

	request := ChatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	if params.Temperature > 0 {
		request.Temperature = params.Temperature
	}
	if params.MaxTokens > 0 {
		request.MaxTokens = params.MaxTokens
	}

	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Model: c.model, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Model: c.model, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	log.Debug().
		Str("endpoint", c.endpoint).
		Str("model", c.model).
		Int("message_count", len(messages)).
		Msg("Sending LLM request")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Model: c.model, Err: fmt.Errorf("failed to send request: %w", err)}
	}
	defer resp.Body.Close()

	latency := time.Since(start)

	c.adjustBudget(resp.Header)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Model: c.model, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		message := string(body)
		errType := ""
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			message = errResp.Error.Message
			errType = errResp.Error.Type
		}
		kind := classifyStatus(resp.StatusCode, errType, message)
		return nil, &Error{
			Kind:  kind,
			Model: c.model,
			Err:   fmt.Errorf("gateway error (status %d): %s", resp.StatusCode, message),
		}
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, &Error{Kind: KindTransport, Model: c.model, Err: fmt.Errorf("failed to parse response: %w", err)}
	}

	if len(chatResp.Choices) == 0 {
		return nil, &Error{Kind: KindTransport, Model: c.model, Err: fmt.Errorf("no choices in response")}
	}

	log.Debug().
		Str("model", chatResp.Model).
		Int("prompt_tokens", chatResp.Usage.PromptTokens).
		Int("completion_tokens", chatResp.Usage.CompletionTokens).
		Dur("duration", latency).
		Msg("LLM request completed")

	return &Result{
		Text:      chatResp.Choices[0].Message.Content,
		Model:     c.model,
		LatencyMs: latency.Milliseconds(),
	}, nil
}

// adjustBudget derives the request budget from gateway rate-limit
// headers when present.
func (c *Client) adjustBudget(headers http.Header) {
	limitHeader := headers.Get("x-ratelimit-limit-requests")
	if limitHeader == "" {
		return
	}
	perMin, err := strconv.Atoi(limitHeader)
	if err != nil || perMin <= 0 {
		return
	}
	newLimit := rate.Limit(float64(perMin) / 60.0)
	if newLimit != c.limiter.Limit() {
		log.Debug().
			Str("model", c.model).
			Int("requests_per_minute", perMin).
			Msg("Adjusting request budget from gateway headers")
		c.limiter.SetLimit(newLimit)
	}
}
