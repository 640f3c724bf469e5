package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sony/gobreaker/v2"

	"github.com/ZhyangJ/Agent-chat/internal/llm"
)

type ErrorType int

const (
	ErrTransport ErrorType = iota
	ErrTimeout
	ErrUpstream
	ErrProtocol
	ErrToolArguments
	ErrToolExecution
	ErrCircuitOpen
)

func (t ErrorType) String() string {
	switch t {
	case ErrTransport:
		return "Transport"
	case ErrTimeout:
		return "Timeout"
	case ErrUpstream:
		return "Upstream"
	case ErrProtocol:
		return "Protocol"
	case ErrToolArguments:
		return "ToolArguments"
	case ErrToolExecution:
		return "ToolExecution"
	case ErrCircuitOpen:
		return "CircuitOpen"
	default:
		return "Unknown"
	}
}

// code is the value sent to clients in the error event when the provider
// gave none.
func (t ErrorType) code() string {
	switch t {
	case ErrTransport:
		return "transport_error"
	case ErrTimeout:
		return "timeout"
	case ErrUpstream:
		return "upstream_error"
	case ErrProtocol:
		return "protocol_error"
	case ErrToolArguments:
		return "invalid_tool_arguments"
	case ErrToolExecution:
		return "tool_execution_failed"
	case ErrCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

type AgentError struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func NewError(errorType ErrorType, message string) *AgentError {
	return &AgentError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func NewErrorWithCause(errorType ErrorType, message string, cause error) *AgentError {
	return &AgentError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
		Cause:   cause,
	}
}

func (e *AgentError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Type.String(), e.Message))

	if len(e.Context) > 0 {
		var ctxParts []string
		for k, v := range e.Context {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *AgentError) Unwrap() error {
	return e.Cause
}

func (e *AgentError) WithContext(key string, value any) *AgentError {
	e.Context[key] = value
	return e
}

// Code returns the provider's error code for upstream errors, otherwise a
// stable name derived from the error type.
func (e *AgentError) Code() any {
	var apiErr *llm.Error
	if errors.As(e.Cause, &apiErr) {
		if apiErr.Code != nil {
			return apiErr.Code
		}
		if apiErr.HTTPStatus != 0 {
			return apiErr.HTTPStatus
		}
	}
	return e.Type.code()
}

func IsErrorType(err error, errorType ErrorType) bool {
	var agentErr *AgentError
	if errors.As(err, &agentErr) {
		return agentErr.Type == errorType
	}
	return false
}

// classifyUpstream maps a failed chat completion call onto the taxonomy.
func classifyUpstream(err error) *AgentError {
	var agentErr *AgentError
	if errors.As(err, &agentErr) {
		return agentErr
	}

	var apiErr *llm.Error
	if errors.As(err, &apiErr) {
		message := apiErr.Message
		if message == "" {
			message = "API 请求失败"
		}
		return NewErrorWithCause(ErrUpstream, message, err)
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return NewErrorWithCause(ErrCircuitOpen, "上游服务暂时不可用，请稍后再试", err)
	}
	if isTimeout(err) {
		return NewErrorWithCause(ErrTimeout, "请求超时", err)
	}
	return NewErrorWithCause(ErrTransport, "上游请求失败: "+err.Error(), err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
