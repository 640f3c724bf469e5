package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joho/godotenv"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(url string) *Config {
	return &Config{
		APIKey:      "test-key",
		APIURL:      url,
		Model:       "test-model",
		MaxTokens:   4000,
		Temperature: 0.7,
		Timeout:     30,
	}
}

func TestNewClient(t *testing.T) {
	config := testConfig("https://api.example.com/v1/")

	client, err := NewClient(config)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/v1", client.baseURL)
	assert.Equal(t, "test-model", client.Model())
	assert.Equal(t, 30*time.Second, client.httpClient.Timeout)

	// An empty key is allowed, the provider rejects it
	config.APIKey = ""
	_, err = NewClient(config)
	assert.NoError(t, err)

	_, err = NewClient(&Config{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestChatCompletionStream_Request(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "*/*", r.Header.Get("Accept"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body["model"])
		assert.Equal(t, true, body["stream"])
		assert.Equal(t, "auto", body["tool_choice"])
		assert.EqualValues(t, 4000, body["max_tokens"])
		assert.Len(t, body["tools"], 1)
		assert.Len(t, body["messages"], 2)

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\ndata: [DONE]\n\n")
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	tools := []openai.Tool{{
		Type:     openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{Name: "calculate", Parameters: json.RawMessage(`{"type":"object"}`)},
	}}
	verdict, err := client.ChatCompletionStream(context.Background(), []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "hello"},
	}, tools)
	require.NoError(t, err)
	assert.Equal(t, VerdictDone, verdict.Kind)
	assert.Equal(t, "hi", verdict.Content)
	assert.True(t, verdict.StreamEnded)
}

func TestChatCompletionStream_ToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		_, _ = io.WriteString(w, `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"calculate","arguments":"{\"expre`)
		flusher.Flush()
		_, _ = io.WriteString(w, `ssion\":\"3*4\"}"}}]}}]}`+"\n\ndata: [DONE]\n\n")
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	verdict, err := client.ChatCompletionStream(context.Background(), []Message{{Role: RoleUser, Content: "3*4"}}, nil)
	require.NoError(t, err)
	require.Len(t, verdict.ToolCalls, 1)
	assert.Equal(t, `{"expression":"3*4"}`, verdict.ToolCalls[0].Function.Arguments)
}

func TestChatCompletionStream_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"Invalid API key","type":"authentication_error","code":"401"}}`)
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	_, err = client.ChatCompletionStream(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	require.Error(t, err)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.HTTPStatus)
	assert.Equal(t, "Invalid API key", apiErr.Message)
	assert.Contains(t, err.Error(), "401")
}

func TestChatCompletionStream_PlainStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	_, err = client.ChatCompletionStream(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Bad Gateway", apiErr.Message)
	assert.Equal(t, http.StatusBadGateway, apiErr.Code)
}

func TestChatCompletionStream_ErrorFrame(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "data: {\"error\":{\"message\":\"rate limited\",\"code\":\"429\"}}\n\n")
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	_, err = client.ChatCompletionStream(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "rate limited", apiErr.Message)
	assert.Zero(t, apiErr.HTTPStatus)
}

func TestChatCompletionStream_CircuitOpens(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	config := testConfig(server.URL)
	config.BreakerMaxFailures = 2
	client, err := NewClient(config)
	require.NoError(t, err)

	msgs := []Message{{Role: RoleUser, Content: "hi"}}
	for i := 0; i < 2; i++ {
		_, err = client.ChatCompletionStream(context.Background(), msgs, nil)
		require.Error(t, err)
	}

	_, err = client.ChatCompletionStream(context.Background(), msgs, nil)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), hits.Load())
}

func TestChatCompletionStream_ClientErrorsDoNotTripBreaker(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"messages must alternate"}}`))
	}))
	defer server.Close()

	config := testConfig(server.URL)
	config.BreakerMaxFailures = 2
	client, err := NewClient(config)
	require.NoError(t, err)

	msgs := []Message{{Role: RoleUser, Content: "hi"}}
	for i := 0; i < 4; i++ {
		_, err = client.ChatCompletionStream(context.Background(), msgs, nil)
		var apiErr *Error
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusBadRequest, apiErr.HTTPStatus)
	}
	assert.Equal(t, int32(4), hits.Load())
}

func TestProviderHealthy(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, true},
		{"canceled", fmt.Errorf("failed to make request: %w", context.Canceled), true},
		{"bad request", &Error{Message: "bad", HTTPStatus: http.StatusBadRequest}, true},
		{"unauthorized", &Error{Message: "key", HTTPStatus: http.StatusUnauthorized}, true},
		{"too many requests", &Error{Message: "slow down", HTTPStatus: http.StatusTooManyRequests}, false},
		{"server error", &Error{Message: "boom", HTTPStatus: http.StatusBadGateway}, false},
		{"transport", errors.New("connection refused"), false},
		{"timeout", fmt.Errorf("request timed out: %w", context.DeadlineExceeded), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, providerHealthy(tt.err))
		})
	}
}

func TestChatCompletionStream_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	config := testConfig(server.URL)
	config.Timeout = 1
	client, err := NewClient(config)
	require.NoError(t, err)

	start := time.Now()
	_, err = client.ChatCompletionStream(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestToOpenAIMessages(t *testing.T) {
	out := toOpenAIMessages([]Message{
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Function: FunctionCall{Name: "calculate", Arguments: "{}"}}}},
		{Role: RoleTool, ToolCallID: "c1", Name: "calculate", Content: `{"result":1}`},
	})
	require.Len(t, out, 2)
	require.Len(t, out[0].ToolCalls, 1)
	assert.Equal(t, openai.ToolTypeFunction, out[0].ToolCalls[0].Type)
	assert.Equal(t, "c1", out[1].ToolCallID)
}

// TestUpstreamIntegration talks to the real provider.
// Skipped unless LLM_API_KEY is set.
func TestUpstreamIntegration(t *testing.T) {
	_ = godotenv.Load("./.env")
	apiKey := os.Getenv("LLM_API_KEY")
	if apiKey == "" {
		t.Skip("Set LLM_API_KEY environment variable to run this test")
	}

	client, err := NewClient(&Config{
		APIKey:      apiKey,
		APIURL:      "https://maas-api.cn-huabei-1.xf-yun.com/v1",
		Model:       "xop3qwen1b7",
		MaxTokens:   100,
		Temperature: 0.7,
		Timeout:     30,
	})
	require.NoError(t, err)

	verdict, err := client.ChatCompletionStream(context.Background(), []Message{{Role: RoleUser, Content: "你好"}}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, verdict.Frames)
}
