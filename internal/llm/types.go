package llm

import (
	"fmt"
	"strconv"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a chat message
//
// Role: "system", "user", "assistant" or "tool"
// Content: Text content of the message
// Name: Tool name for tool messages
// ToolCallID: The call a tool message answers
// ToolCalls: Calls declared by an assistant message
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is one function invocation requested by the model or synthesized locally.
// Arguments hold JSON text and grow by concatenation while a stream is assembled.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Index    int          `json:"index"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Identity is the key used to deduplicate calls: the id, or the stream index
// when the provider never sent one.
func (tc ToolCall) Identity() string {
	if tc.ID != "" {
		return tc.ID
	}
	return "index:" + strconv.Itoa(tc.Index)
}

// Chunk is a chat.completion.chunk frame produced locally.
type Chunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
}

type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason string     `json:"finish_reason"`
}

type ChunkDelta struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Error represents an API error, either returned with a non-2xx status or
// embedded in a frame of an otherwise successful stream.
//
// Message: Error message
// Type: Error type
// Param: Parameter that caused the error
// Code: Error code, string or number depending on the provider
type Error struct {
	Message    string `json:"message"`
	Type       string `json:"type,omitempty"`
	Param      string `json:"param,omitempty"`
	Code       any    `json:"code,omitempty"`
	HTTPStatus int    `json:"-"`
}

func (e *Error) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("LLM API Error: %s (status: %d, code: %v)", e.Message, e.HTTPStatus, e.Code)
	}
	return fmt.Sprintf("LLM API Error: %s (type: %s, code: %v)", e.Message, e.Type, e.Code)
}

// VerdictKind tells whether a finished stream asked for tools.
type VerdictKind int

const (
	VerdictDone VerdictKind = iota
	VerdictToolCalls
)

func (k VerdictKind) String() string {
	if k == VerdictToolCalls {
		return "tool_calls"
	}
	return "done"
}

// Verdict is the outcome of one assembled upstream stream.
//
// Frames: every non-sentinel payload, verbatim, in arrival order
// ToolCalls: merged calls sorted by index
// Content: concatenated delta content
// StreamEnded: the [DONE] sentinel was seen
// Noise: payloads that could not be parsed
type Verdict struct {
	Kind        VerdictKind
	Frames      [][]byte
	ToolCalls   []ToolCall
	Content     string
	StreamEnded bool
	Noise       int
}
