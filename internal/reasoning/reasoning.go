// Package reasoning provides the ReasoningProvider abstraction each analyst
// calls through: a deterministic mock backend that is a first-class runtime
// mode, and a live HTTP backend speaking an OpenAI-compatible
// chat-completions shape, matching the teacher's core.AIClient interface.
package reasoning

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/threatanalysis/coordinator/internal/resilience"
)

// Options mirrors the teacher's core.AIOptions: per-call generation knobs.
type Options struct {
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// Response mirrors core.AIResponse: content plus usage accounting.
type Response struct {
	Content string
	Model   string
	Usage   TokenUsage
}

// TokenUsage mirrors core.TokenUsage.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Client is the ReasoningProvider contract: every analyst is a consumer of
// one of these, varying only the prompt and system role they supply.
type Client interface {
	GenerateResponse(ctx context.Context, prompt string, opts Options) (*Response, error)
}

// MockClient is a deterministic stand-in: same agent name and prompt always
// produce byte-identical JSON output, at a fixed 0.85 confidence. It is a
// supported runtime mode (THREATANALYSIS_REASONING_MODE=mock), not merely a
// test double.
type MockClient struct {
	AgentName string
}

// mockFinding is the JSON shape MockClient's Content unmarshals into; the
// analyst package parses this out of Response.Content into an AgentFinding.
type mockFinding struct {
	Analysis        string   `json:"analysis"`
	Confidence      float64  `json:"confidence"`
	KeyFindings     []string `json:"key_findings"`
	Recommendations []string `json:"recommendations"`
}

func (m *MockClient) GenerateResponse(ctx context.Context, prompt string, opts Options) (*Response, error) {
	seed := seedFor(m.AgentName, prompt)
	finding := mockFinding{
		Analysis:        fmt.Sprintf("%s deterministic assessment (seed %d)", m.AgentName, seed%1000),
		Confidence:      0.85,
		KeyFindings:     []string{fmt.Sprintf("derived from prompt hash %d", seed)},
		Recommendations: []string{"Continue standard monitoring"},
	}
	body, err := json.Marshal(finding)
	if err != nil {
		return nil, err
	}
	return &Response{
		Content: string(body),
		Model:   "mock",
		Usage:   TokenUsage{PromptTokens: len(prompt) / 4, CompletionTokens: len(body) / 4, TotalTokens: (len(prompt) + len(body)) / 4},
	}, nil
}

// seedFor hashes the agent name and prompt into a stable uint64 so repeated
// calls for the same inputs are reproducible across processes.
func seedFor(agent, prompt string) uint64 {
	h := sha256.Sum256([]byte(agent + "|" + prompt))
	return binary.BigEndian.Uint64(h[:8])
}

// Config configures the live HTTP backend.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// HTTPClient calls an OpenAI-compatible /chat/completions endpoint; the
// concrete vendor is whatever BaseURL points at, so no vendor SDK is
// hardcoded. Wrapped with a circuit breaker so a flapping provider degrades
// quickly instead of hanging every analyst call.
type HTTPClient struct {
	cfg     Config
	http    *http.Client
	breaker *resilience.CircuitBreaker
}

func NewHTTPClient(cfg Config, breaker *resilience.CircuitBreaker) *HTTPClient {
	return &HTTPClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (c *HTTPClient) GenerateResponse(ctx context.Context, prompt string, opts Options) (*Response, error) {
	model := opts.Model
	if model == "" {
		model = c.cfg.Model
	}
	messages := []chatMessage{}
	if opts.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: opts.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	reqBody := chatRequest{Model: model, Messages: messages, Temperature: opts.Temperature, MaxTokens: opts.MaxTokens}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("reasoning: encode request: %w", err)
	}

	var result *Response
	call := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.cfg.APIKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 300 {
			return fmt.Errorf("reasoning: provider returned status %d: %s", resp.StatusCode, string(body))
		}

		var parsed chatResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return fmt.Errorf("reasoning: decode response: %w", err)
		}
		if len(parsed.Choices) == 0 {
			return fmt.Errorf("reasoning: empty choices in provider response")
		}
		result = &Response{
			Content: parsed.Choices[0].Message.Content,
			Model:   parsed.Model,
			Usage: TokenUsage{
				PromptTokens:     parsed.Usage.PromptTokens,
				CompletionTokens: parsed.Usage.CompletionTokens,
				TotalTokens:      parsed.Usage.TotalTokens,
			},
		}
		return nil
	}

	var execErr error
	if c.breaker != nil {
		execErr = c.breaker.ExecuteWithTimeout(ctx, c.cfg.Timeout, call)
	} else {
		execErr = call()
	}
	if execErr != nil {
		return nil, execErr
	}
	return result, nil
}
