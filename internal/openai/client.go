// Package openai implements the chat-completions client used for both the
// refactoring and the issue-checking model calls.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"testmend/internal/llm"
)

const defaultBaseURL = "https://api.openai.com"
const maxErrorBodyBytes = 2048

type chatRequest struct {
	Model               string        `json:"model"`
	Messages            []llm.Message `json:"messages"`
	MaxCompletionTokens int           `json:"max_completion_tokens,omitempty"`
	MaxTokens           int           `json:"max_tokens,omitempty"`
	ReasoningEffort     string        `json:"reasoning_effort,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens        int `json:"prompt_tokens"`
		CompletionTokens    int `json:"completion_tokens"`
		TotalTokens         int `json:"total_tokens"`
		PromptTokensDetails struct {
			CachedTokens int `json:"cached_tokens"`
		} `json:"prompt_tokens_details"`
	} `json:"usage"`
}

type Client struct {
	baseURL         string
	client          *http.Client
	maxTokens       int
	reasoningEffort string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if strings.TrimSpace(baseURL) != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

func WithMaxTokens(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

func WithReasoningEffort(effort string) Option {
	return func(c *Client) {
		c.reasoningEffort = strings.TrimSpace(effort)
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		client: &http.Client{
			Timeout: 600 * time.Second,
		},
		maxTokens:       20000,
		reasoningEffort: "medium",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) chatEndpoint() string {
	return c.baseURL + "/v1/chat/completions"
}

// ValidateKey checks that the API key is accepted by the models endpoint.
func (c *Client) ValidateKey(ctx context.Context, apiKey string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return llm.ErrUnauthorized
	}
	if resp.StatusCode >= 500 {
		return llm.ErrUnavailable
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("validation failed: %s", resp.Status)
	}
	return nil
}

// Chat sends one chat-completion request and returns the assistant reply text
// along with the token usage reported by the service.
func (c *Client) Chat(ctx context.Context, apiKey, model string, messages []llm.Message) (string, llm.Usage, error) {
	payload := chatRequest{
		Model:    model,
		Messages: messages,
	}
	// Reasoning models take max_completion_tokens; older models take max_tokens.
	if isReasoningModel(model) {
		payload.MaxCompletionTokens = c.maxTokens
		payload.ReasoningEffort = c.reasoningEffort
	} else {
		payload.MaxTokens = c.maxTokens
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", llm.Usage{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.chatEndpoint(), bytes.NewReader(body))
	if err != nil {
		return "", llm.Usage{}, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return "", llm.Usage{}, err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", llm.Usage{}, llm.ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", llm.Usage{}, llm.ErrRateLimited
	case resp.StatusCode >= 500:
		return "", llm.Usage{}, llm.ErrUnavailable
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", llm.Usage{}, requestError(resp)
	}
	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", llm.Usage{}, err
	}
	usage := llm.Usage{
		PromptTokens:       parsed.Usage.PromptTokens,
		CachedPromptTokens: parsed.Usage.PromptTokensDetails.CachedTokens,
		CompletionTokens:   parsed.Usage.CompletionTokens,
		TotalTokens:        parsed.Usage.TotalTokens,
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return "", usage, llm.ErrEmptyReply
	}
	return parsed.Choices[0].Message.Content, usage, nil
}

func isReasoningModel(model string) bool {
	lower := strings.ToLower(model)
	return strings.HasPrefix(lower, "o1") ||
		strings.HasPrefix(lower, "o3") ||
		strings.HasPrefix(lower, "o4")
}

func requestError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	detail := strings.TrimSpace(string(body))
	if detail == "" {
		return errors.New("openai request failed: " + resp.Status)
	}
	return fmt.Errorf("openai request failed: %s: %s", resp.Status, detail)
}
