package agent

import (
	"context"

	"github.com/ZhyangJ/Agent-chat/internal/diag"
	"github.com/ZhyangJ/Agent-chat/internal/intent"
)

const defaultMaxIterations = 10

// Agent defines the interface for an agent that can execute tasks
type Agent interface {
	// Execute runs the agent with the given request, streaming to sink
	Execute(ctx context.Context, req AgentRequest, sink Sink) (*AgentResult, error)

	// Close releases any resources held by the agent
	Close() error
}

// LLMAgent implements the Agent interface using an LLM with tool calling
type LLMAgent struct {
	client        Completer
	registry      ToolRunner
	detector      intent.Detector
	journal       diag.Store
	maxIterations int
}

type Option func(*LLMAgent)

// WithDetector replaces the fallback intent detector. A nil detector
// disables fallback detection.
func WithDetector(d intent.Detector) Option {
	return func(a *LLMAgent) {
		a.detector = d
	}
}

// WithJournal records upstream failures in the diagnostics store.
func WithJournal(store diag.Store) Option {
	return func(a *LLMAgent) {
		a.journal = store
	}
}

// NewLLMAgent creates a new LLM-based agent
func NewLLMAgent(client Completer, registry ToolRunner, maxIterations int, opts ...Option) *LLMAgent {
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	a := &LLMAgent{
		client:        client,
		registry:      registry,
		detector:      intent.NewRuleDetector(),
		maxIterations: maxIterations,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Execute runs the agent with the given request
func (a *LLMAgent) Execute(ctx context.Context, req AgentRequest, sink Sink) (*AgentResult, error) {
	orchestrator := NewOrchestrator(a.client, a.registry, a.detector, a.getMaxIterations(req))
	orchestrator.journal = a.journal
	return orchestrator.Run(ctx, req.Messages, sink)
}

// Close releases any resources held by the agent
func (a *LLMAgent) Close() error {
	// No resources to release currently
	return nil
}

func (a *LLMAgent) getMaxIterations(req AgentRequest) int {
	if req.MaxIterations > 0 {
		return req.MaxIterations
	}
	return a.maxIterations
}
