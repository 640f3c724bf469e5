package agent

import (
	"context"
	"encoding/json"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ZhyangJ/Agent-chat/internal/llm"
)

// Completer performs one streaming chat completion and returns its verdict.
// *llm.Client implements it.
type Completer interface {
	ChatCompletionStream(ctx context.Context, messages []llm.Message, tools []openai.Tool) (*llm.Verdict, error)
	Model() string
}

// ToolRunner advertises and executes tools. *tools.Registry implements it.
type ToolRunner interface {
	Definitions() []openai.Tool
	Execute(ctx context.Context, name string, args json.RawMessage) json.RawMessage
}

// Sink receives the outgoing event stream of one request. WriteFrame gets a
// complete JSON payload; framing is up to the sink.
type Sink interface {
	WriteFrame(payload []byte) error
	WriteDone() error
}

// AgentRequest represents one chat request
type AgentRequest struct {
	// Messages is the conversation as sent by the client
	Messages []llm.Message

	// MaxIterations overrides the agent default when positive
	MaxIterations int
}

// Outcome tells how a request ended.
type Outcome int

const (
	// OutcomeReplayed: the model's own frames were forwarded
	OutcomeReplayed Outcome = iota
	// OutcomeToolResponse: tools ran and one synthesized frame was sent
	OutcomeToolResponse
	// OutcomeUpstreamError: the upstream call failed and an error event was sent
	OutcomeUpstreamError
	// OutcomeGuardStop: no new user message on a later iteration
	OutcomeGuardStop
	// OutcomeMaxIterations: the iteration cap was reached
	OutcomeMaxIterations
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReplayed:
		return "replayed"
	case OutcomeToolResponse:
		return "tool_response"
	case OutcomeUpstreamError:
		return "upstream_error"
	case OutcomeGuardStop:
		return "guard_stop"
	case OutcomeMaxIterations:
		return "max_iterations"
	default:
		return "unknown"
	}
}

// AgentResult represents the result from an agent execution
type AgentResult struct {
	Outcome Outcome

	// Content is the text sent to the client: the model's free text when
	// replayed, the rendered tool reply otherwise
	Content string

	// ToolCalls contains a record of all tool calls made during execution
	ToolCalls []ToolCallRecord

	// Iterations is the number of loop iterations started
	Iterations int

	// Frames is the number of data frames written, [DONE] excluded
	Frames int
}

// ToolCallRecord records a single tool call and its result
type ToolCallRecord struct {
	ID        string
	ToolName  string
	Arguments string
	Result    string
	IsError   bool

	// Synthesized is set when the call came from the fallback detector
	Synthesized bool
}
