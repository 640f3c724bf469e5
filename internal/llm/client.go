package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker/v2"

	"github.com/ZhyangJ/Agent-chat/internal/tracer"
	"github.com/ZhyangJ/Agent-chat/pkg/log"
)

const (
	chatCompletionsPath = "/chat/completions"
	readBufferSize      = 4096
	maxErrorBodySize    = 4096

	defaultBreakerMaxFailures = 5
	defaultBreakerOpenTimeout = 30 * time.Second
	defaultBreakerInterval    = 60 * time.Second
)

// Client streams chat completions from an OpenAI-compatible endpoint.
// Thread-safe for concurrent use; every call gets its own Assembler.
//
// config: Configuration for the LLM API
// httpClient: HTTP client for API requests, its timeout covers the whole stream
// baseURL: Base URL for the LLM API
// breaker: Fails fast while the provider keeps refusing to open streams
type Client struct {
	config     *Config
	httpClient *http.Client
	baseURL    string
	breaker    *gobreaker.CircuitBreaker[*http.Response]
}

// NewClient creates a new LLM client with the given configuration
//
// Example:
//
//	client, err := llm.NewClient(&llm.Config{APIURL: url, Model: "xop3qwen1b7", MaxTokens: 4000, Temperature: 0.7, Timeout: 30})
//	if err != nil {
//		log.Fatal("%v", err)
//	}
//	verdict, err := client.ChatCompletionStream(ctx, messages, registry.Definitions())
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	maxFailures := uint32(defaultBreakerMaxFailures)
	if config.BreakerMaxFailures > 0 {
		maxFailures = uint32(config.BreakerMaxFailures)
	}
	openTimeout := defaultBreakerOpenTimeout
	if config.BreakerOpenTimeout > 0 {
		openTimeout = time.Duration(config.BreakerOpenTimeout) * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "llm:" + config.Model,
		MaxRequests: 1,
		Interval:    defaultBreakerInterval,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Circuit breaker %s: %s -> %s", name, from, to)
		},
		IsSuccessful: providerHealthy,
	})

	return &Client{
		config:  config,
		baseURL: strings.TrimRight(config.APIURL, "/"),
		httpClient: &http.Client{
			Timeout: time.Duration(config.Timeout) * time.Second,
		},
		breaker: breaker,
	}, nil
}

// Model returns the configured model name
func (c *Client) Model() string {
	return c.config.Model
}

// ChatCompletionStream sends one streaming completion request with the given
// tool catalog and tool_choice "auto", then assembles the whole response.
//
// Errors:
//   - *Error when the provider answers non-2xx or embeds an error in a frame
//   - gobreaker.ErrOpenState / ErrTooManyRequests while the circuit is open
//   - wrapped transport errors (timeouts satisfy os.IsTimeout or context.DeadlineExceeded)
func (c *Client) ChatCompletionStream(ctx context.Context, messages []Message, tools []openai.Tool) (*Verdict, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.chat_completion_stream",
		tracer.StringAttr("llm.model", c.config.Model),
		tracer.IntAttr("llm.messages", len(messages)),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.config.Timeout)*time.Second)
	defer cancel()

	request := c.buildRequest(messages, tools)
	payload, err := json.Marshal(request)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		return c.openStream(ctx, payload)
	})
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	defer resp.Body.Close()

	verdict, err := c.assemble(resp.Body)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	span.SetAttributes(
		tracer.IntAttr("llm.frames", len(verdict.Frames)),
		tracer.IntAttr("llm.tool_calls", len(verdict.ToolCalls)),
	)
	tracer.SetOK(span)
	return verdict, nil
}

func (c *Client) buildRequest(messages []Message, tools []openai.Tool) openai.ChatCompletionRequest {
	request := openai.ChatCompletionRequest{
		Model:       c.config.Model,
		Messages:    toOpenAIMessages(messages),
		MaxTokens:   c.config.MaxTokens,
		Temperature: float32(c.config.Temperature),
		Stream:      true,
	}
	if len(tools) > 0 {
		request.Tools = tools
		request.ToolChoice = "auto"
	}
	return request
}

// openStream posts the request and returns the response once the provider
// accepted it. Non-2xx answers are read and turned into *Error.
func (c *Client) openStream(ctx context.Context, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatCompletionsPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range c.config.GetHeaders() {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if os.IsTimeout(err) {
			return nil, fmt.Errorf("request timed out: %w", err)
		}
		return nil, fmt.Errorf("failed to make request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, statusError(resp.StatusCode, body)
	}
	return resp, nil
}

func (c *Client) assemble(body io.Reader) (*Verdict, error) {
	asm := NewAssembler()
	buf := make([]byte, readBufferSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if err := asm.Write(buf[:n]); err != nil {
				return nil, err
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if os.IsTimeout(readErr) {
				return nil, fmt.Errorf("stream timed out: %w", readErr)
			}
			return nil, fmt.Errorf("failed to read stream: %w", readErr)
		}
	}

	verdict, err := asm.Verdict()
	if err != nil {
		return nil, err
	}
	if verdict.Noise > 0 {
		log.Warn("Upstream stream carried %d unparsable frames", verdict.Noise)
	}
	return verdict, nil
}

// providerHealthy reports whether err leaves the breaker's failure count alone.
// A caller walking away or a request the provider rejected on its merits
// (4xx other than 429) says nothing about the provider's health.
func providerHealthy(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.HTTPStatus != 0 {
		status := apiErr.HTTPStatus
		return status < 500 && status != http.StatusTooManyRequests
	}
	return false
}

func statusError(status int, body []byte) *Error {
	var envelope struct {
		Error *Error `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil && envelope.Error.Message != "" {
		envelope.Error.HTTPStatus = status
		return envelope.Error
	}
	message := strings.TrimSpace(string(body))
	if message == "" {
		message = http.StatusText(status)
	}
	return &Error{Message: message, Code: status, HTTPStatus: status}
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out = append(out, msg)
	}
	return out
}
