package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/osqr/memvault/internal/adapters/circuitbreaker"
	"github.com/osqr/memvault/internal/adapters/metrics"
	"github.com/osqr/memvault/internal/adapters/retry"
	"github.com/osqr/memvault/internal/domain"
	"github.com/osqr/memvault/internal/ports"
)

// Client is an OpenAI-compatible LLM client. The vault only needs
// non-streaming completions: extraction prompts go in, JSON comes out.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	retryConfig retry.BackoffConfig
	breaker     *circuitbreaker.CircuitBreaker
}

// NewClient creates a new LLM client
func NewClient(baseURL, apiKey, model string, maxTokens int, temperature float64) *Client {
	baseURL = strings.TrimSuffix(baseURL, "/")
	baseURL = strings.TrimSuffix(baseURL, "/v1")

	return &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		retryConfig: retry.HTTPConfig(),
		breaker:     circuitbreaker.New("llm", 5, 30*time.Second),
	}
}

// ChatCompletionRequest represents the request to the chat completions API
type ChatCompletionRequest struct {
	Model       string             `json:"model"`
	Messages    []ports.LLMMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
	Temperature float64            `json:"temperature,omitempty"`
	Stream      bool               `json:"stream"`
}

// ChatCompletionResponse represents the response from the chat completions API
type ChatCompletionResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Chat sends a non-streaming chat completion request
func (c *Client) Chat(ctx context.Context, messages []ports.LLMMessage) (*ports.LLMResponse, error) {
	if len(messages) == 0 {
		return nil, domain.NewDomainError(domain.ErrEmptyContent, "chat requires at least one message")
	}

	req := ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Stream:      false,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var respBody []byte
	var statusCode int

	err = c.breaker.Execute(func() error {
		return retry.WithBackoffHTTP(ctx, c.retryConfig, func() (int, error) {
			httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
			if err != nil {
				return 0, fmt.Errorf("failed to create request: %w", err)
			}

			httpReq.Header.Set("Content-Type", "application/json")
			if c.apiKey != "" {
				httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
			}

			resp, err := c.httpClient.Do(httpReq)
			if err != nil {
				return 0, fmt.Errorf("failed to send request: %w", err)
			}
			defer resp.Body.Close()

			statusCode = resp.StatusCode
			respBody, err = io.ReadAll(resp.Body)
			if err != nil {
				return statusCode, fmt.Errorf("failed to read body: %w", err)
			}

			if resp.StatusCode != http.StatusOK {
				return statusCode, fmt.Errorf("API error: %s - %s", resp.Status, string(respBody))
			}

			return statusCode, nil
		})
	})

	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues("error").Inc()
		return nil, domain.NewDomainError(domain.ErrLLMUnavailable, err.Error())
	}
	metrics.LLMRequestsTotal.WithLabelValues("success").Inc()

	var response ChatCompletionResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(response.Choices) == 0 {
		return nil, domain.NewDomainError(domain.ErrLLMUnavailable, "no choices in completion response")
	}

	return &ports.LLMResponse{
		Content: response.Choices[0].Message.Content,
	}, nil
}
