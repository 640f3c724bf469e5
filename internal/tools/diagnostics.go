package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ZhyangJ/Agent-chat/internal/diag"
	"github.com/ZhyangJ/Agent-chat/pkg/log"
)

// ReasoningStepTool appends to the shared reasoning log.
type ReasoningStepTool struct {
	store diag.Store
	now   func() time.Time
}

type ReasoningStepArgs struct {
	Step   string `json:"step"`
	Detail string `json:"detail"`
}

type ReasoningStepResult struct {
	Success    bool      `json:"success"`
	Entry      diag.Step `json:"entry"`
	TotalSteps int       `json:"totalSteps"`
}

func NewReasoningStepTool(store diag.Store) *ReasoningStepTool {
	return &ReasoningStepTool{store: store, now: time.Now}
}

func (t *ReasoningStepTool) Name() string {
	return "logReasoningStep"
}

func (t *ReasoningStepTool) Description() string {
	return "记录当前的思考/推理步骤，用于 CoT / ReAct 风格的显式推理链，便于后续自我审查与调试。"
}

func (t *ReasoningStepTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"step": {
				"type": "string",
				"description": "当前这一步推理的简要描述，例如“分析用户需求”、“决定是否调用工具”等。"
			},
			"detail": {
				"type": "string",
				"description": "可选的详细推理内容或中间结论，便于后续回顾与自我修正。"
			}
		},
		"required": ["step"]
	}`)
}

func (t *ReasoningStepTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	var in ReasoningStepArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("failed to parse logReasoningStep arguments: %w", err)
	}

	entry := diag.Step{Time: t.now().UTC(), Step: in.Step, Detail: in.Detail}
	total, err := t.store.AppendStep(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("record reasoning step: %w", err)
	}
	log.Info("[ReAct] step %d: %s %s", total, in.Step, in.Detail)
	return ReasoningStepResult{Success: true, Entry: entry, TotalSteps: total}, nil
}

// ClearReasoningTool empties the shared reasoning log.
type ClearReasoningTool struct {
	store diag.Store
}

type ClearReasoningResult struct {
	Success bool `json:"success"`
	Cleared int  `json:"cleared"`
}

func NewClearReasoningTool(store diag.Store) *ClearReasoningTool {
	return &ClearReasoningTool{store: store}
}

func (t *ClearReasoningTool) Name() string {
	return "clearReasoningLog"
}

func (t *ClearReasoningTool) Description() string {
	return "清空当前会话中的推理步骤日志，通常在一个大任务完成或需要开始全新任务时调用。"
}

func (t *ClearReasoningTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}, "required": []}`)
}

func (t *ClearReasoningTool) Execute(ctx context.Context, _ json.RawMessage) (any, error) {
	cleared, err := t.store.ClearSteps(ctx)
	if err != nil {
		return nil, fmt.Errorf("clear reasoning log: %w", err)
	}
	log.Info("[ReAct] reasoning log cleared, %d entries removed", cleared)
	return ClearReasoningResult{Success: true, Cleared: cleared}, nil
}

// ErrorSuggestionTool records an error and answers with remediation hints.
type ErrorSuggestionTool struct {
	store diag.Store
	now   func() time.Time
}

type ErrorSuggestionArgs struct {
	ErrorMessage string `json:"errorMessage"`
	Context      string `json:"context"`
}

func NewErrorSuggestionTool(store diag.Store) *ErrorSuggestionTool {
	return &ErrorSuggestionTool{store: store, now: time.Now}
}

func (t *ErrorSuggestionTool) Name() string {
	return "logErrorAndSuggestFix"
}

func (t *ErrorSuggestionTool) Description() string {
	return "在遇到错误时记录错误信息，并根据常见模式给出简单的自我修正建议，辅助 Agent 决定下一步修复动作。"
}

func (t *ErrorSuggestionTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"errorMessage": {
				"type": "string",
				"description": "遇到的错误信息原文（可以来自接口、终端、日志等）。"
			},
			"context": {
				"type": "string",
				"description": "可选的上下文描述，例如“调用某某接口时出错”、“解析某段 JSON 时出错”等。"
			}
		},
		"required": ["errorMessage"]
	}`)
}

func (t *ErrorSuggestionTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	var in ErrorSuggestionArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("failed to parse logErrorAndSuggestFix arguments: %w", err)
	}

	report := diag.ErrorReport{
		Time:         t.now(),
		ErrorMessage: in.ErrorMessage,
		Context:      in.Context,
		Suggestions:  diag.Suggest(in.ErrorMessage),
	}
	if err := t.store.AppendError(ctx, report); err != nil {
		return nil, fmt.Errorf("record error report: %w", err)
	}
	log.Info("[Self-Correct] %s (%d suggestions)", in.ErrorMessage, len(report.Suggestions))
	return report, nil
}
