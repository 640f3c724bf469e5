package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ZhyangJ/Agent-chat/internal/diag"
	"github.com/ZhyangJ/Agent-chat/internal/intent"
	"github.com/ZhyangJ/Agent-chat/internal/llm"
	"github.com/ZhyangJ/Agent-chat/internal/render"
	"github.com/ZhyangJ/Agent-chat/internal/tracer"
	"github.com/ZhyangJ/Agent-chat/pkg/log"
)

const toolResponseID = "tool_response"

// systemPrompt is prepended once when the conversation has no system message.
var systemPrompt = strings.Join([]string{
	"你是一个工具增强的助理，具备 ReAct（推理 + 行动）和简单自我修正能力。",
	"当用户请求计算或查询信息时：",
	"1）如果已经有明确的工具结果（例如 calculate 的 result），优先直接使用该结果回答，不要重复推导或再次计算相同表达式。",
	"2）不要重复整段解释两次。",
	"3）禁止输出 HTML 源码或转义形式（例如 &lt;p&gt;、&lt;br&gt; 等），统一使用纯文本或 Markdown。",
	"4）如果没有必要，不要重复之前已经说过的内容。",
	"",
	"【推理 / ReAct 相关要求】",
	"5）在处理复杂任务时，请在内部进行分步思考；如有必要，可以调用 logReasoningStep 工具，记录关键推理步骤和中间结论（step 用一句话概括，detail 可写更详细原因）。",
	"6）当一个大任务完成或用户显式切换到全新话题时，可以调用 clearReasoningLog 清空旧的推理记录，避免后续被旧上下文干扰。",
	"",
	"【错误处理与自我修正】",
	"7）当你在调用接口、运行代码或使用其他工具时遇到错误，请调用 logErrorAndSuggestFix：",
	"   - 将完整错误信息传入 errorMessage；",
	"   - 将当前正在做的事情简要写入 context（例如“调用某某工具时出错”、“解析某段 JSON 时出错”）；",
	"   - 阅读返回的 suggestions，根据其中的提示调整你的计划和下一步操作。",
	"8）如果连续两次尝试都仍然失败，请停止盲目重试，向用户清晰说明你已尝试的步骤、看到的错误以及后续可行的人工排查思路。",
}, "\n")

// Orchestrator drives one request through the agent loop: call the model,
// fall back to local intent detection, run tools and answer from their
// results without a second model round.
type Orchestrator struct {
	client        Completer
	registry      ToolRunner
	detector      intent.Detector
	journal       diag.Store
	maxIterations int
	now           func() time.Time
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(client Completer, registry ToolRunner, detector intent.Detector, maxIterations int) *Orchestrator {
	return &Orchestrator{
		client:        client,
		registry:      registry,
		detector:      detector,
		maxIterations: maxIterations,
		now:           time.Now,
	}
}

// loopState is the per-request state threaded through iterations.
type loopState struct {
	messages     []llm.Message
	iteration    int
	userSnapshot int
	result       *AgentResult
	out          *stream
}

// Run executes the agent loop and writes the response to sink. Exactly one
// [DONE] is written unless the sink fails first.
//
// The returned error is nil for normal endings. Upstream failures come back
// as *AgentError after the client already got an error event; sink failures
// mean the client went away.
func (o *Orchestrator) Run(ctx context.Context, messages []llm.Message, sink Sink) (*AgentResult, error) {
	ctx, span := tracer.StartSpan(ctx, "agent.run", tracer.IntAttr("agent.messages", len(messages)))
	defer span.End()

	state := o.newState(messages, sink)
	err := o.loop(ctx, state)
	state.out.finish()

	if err == nil && state.out.err != nil {
		err = fmt.Errorf("client stream closed: %w", state.out.err)
	}
	state.result.Frames = state.out.frames

	span.SetAttributes(
		tracer.StringAttr("agent.outcome", state.result.Outcome.String()),
		tracer.IntAttr("agent.iterations", state.result.Iterations),
	)
	if err != nil {
		tracer.RecordError(span, err)
	} else {
		tracer.SetOK(span)
	}
	return state.result, err
}

func (o *Orchestrator) newState(messages []llm.Message, sink Sink) *loopState {
	conversation := make([]llm.Message, 0, len(messages)+1)
	if !hasSystemMessage(messages) {
		conversation = append(conversation, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	}
	conversation = append(conversation, messages...)

	return &loopState{
		messages:     conversation,
		userSnapshot: countUsers(conversation),
		result:       &AgentResult{ToolCalls: make([]ToolCallRecord, 0)},
		out:          &stream{sink: sink},
	}
}

func (o *Orchestrator) loop(ctx context.Context, state *loopState) error {
	for state.iteration < o.maxIterations {
		state.iteration++
		state.result.Iterations = state.iteration

		done, err := o.step(ctx, state)
		if err != nil || done {
			return err
		}
	}

	log.Warn("Agent loop reached max iterations (%d)", o.maxIterations)
	state.result.Outcome = OutcomeMaxIterations
	return nil
}

// step runs one iteration. It reports whether the request is finished.
func (o *Orchestrator) step(ctx context.Context, state *loopState) (bool, error) {
	ctx, span := tracer.StartSpan(ctx, "agent.iteration", tracer.IntAttr("agent.iteration", state.iteration))
	defer span.End()

	if state.iteration > 1 && countUsers(state.messages) <= state.userSnapshot {
		log.Info("No new user message at iteration %d, ending loop", state.iteration)
		state.result.Outcome = OutcomeGuardStop
		state.out.finish()
		return true, nil
	}

	verdict, err := o.client.ChatCompletionStream(ctx, state.messages, o.registry.Definitions())
	if err != nil {
		agentErr := classifyUpstream(err).WithContext("iteration", state.iteration)
		log.Error("Upstream call failed: %v", agentErr)
		tracer.RecordError(span, agentErr)
		o.journalError(ctx, agentErr)

		state.result.Outcome = OutcomeUpstreamError
		state.out.frame(errorEvent(agentErr))
		state.out.finish()
		return true, agentErr
	}
	log.Debug("Iteration %d verdict: %s, %d frames, %d calls", state.iteration, verdict.Kind, len(verdict.Frames), len(verdict.ToolCalls))

	calls := verdict.ToolCalls
	synthesized := false
	if len(calls) == 0 && state.iteration == 1 && o.detector != nil {
		calls = o.detector.Detect(verdict.Content, state.messages)
		synthesized = len(calls) > 0
	}

	if len(calls) == 0 {
		for _, frame := range verdict.Frames {
			state.out.frame(frame)
		}
		state.out.finish()
		state.result.Outcome = OutcomeReplayed
		state.result.Content = verdict.Content
		return true, nil
	}

	o.runTools(ctx, state, calls, synthesized)
	return true, nil
}

// runTools executes a batch sequentially and answers with a single
// synthesized frame rendered from the results.
func (o *Orchestrator) runTools(ctx context.Context, state *loopState, calls []llm.ToolCall, synthesized bool) {
	ctx, span := tracer.StartSpan(ctx, "agent.tools", tracer.IntAttr("agent.tool_calls", len(calls)))
	defer span.End()

	unique := dedupe(calls)
	if len(unique) != len(calls) {
		log.Info("Deduplicated tool calls: %d -> %d", len(calls), len(unique))
	}

	state.messages = append(state.messages, llm.Message{Role: llm.RoleAssistant, ToolCalls: unique})

	results := make([]llm.Message, 0, len(unique))
	for _, call := range unique {
		record := ToolCallRecord{
			ID:          call.ID,
			ToolName:    call.Function.Name,
			Arguments:   call.Function.Arguments,
			Synthesized: synthesized,
		}

		content, err := o.executeTool(ctx, call)
		if err != nil {
			log.Warn("Tool call %s failed: %v", call.Identity(), err)
			record.IsError = true
		}
		record.Result = string(content)
		state.result.ToolCalls = append(state.result.ToolCalls, record)

		msg := llm.Message{
			Role:       llm.RoleTool,
			ToolCallID: call.ID,
			Name:       call.Function.Name,
			Content:    string(content),
		}
		results = append(results, msg)
		state.messages = append(state.messages, msg)
	}

	reply := render.Render(results)
	state.result.Content = reply
	state.result.Outcome = OutcomeToolResponse

	chunk := llm.Chunk{
		ID:      toolResponseID,
		Object:  "chat.completion.chunk",
		Created: o.now().Unix(),
		Model:   o.client.Model(),
		Choices: []llm.ChunkChoice{{
			Index:        0,
			Delta:        llm.ChunkDelta{Role: llm.RoleAssistant, Content: reply},
			FinishReason: "stop",
		}},
	}
	payload, err := json.Marshal(chunk)
	if err != nil {
		log.Error("Failed to encode tool response: %v", err)
		return
	}
	state.out.frame(payload)
	state.out.finish()
}

// executeTool runs one call. The returned content is always a JSON document;
// the error classifies failures that the content reports.
func (o *Orchestrator) executeTool(ctx context.Context, call llm.ToolCall) (json.RawMessage, error) {
	name := call.Function.Name
	args := bytes.TrimSpace([]byte(call.Function.Arguments))
	if len(args) == 0 {
		args = []byte("{}")
	}

	var object map[string]json.RawMessage
	if err := json.Unmarshal(args, &object); err != nil {
		agentErr := NewErrorWithCause(ErrToolArguments, "参数解析失败: "+err.Error(), err).
			WithContext("tool", name)
		encoded, _ := json.Marshal(map[string]string{"error": agentErr.Message})
		return encoded, agentErr
	}

	content := o.registry.Execute(ctx, name, args)
	if msg := reportedError(content); msg != "" {
		return content, NewError(ErrToolExecution, msg).WithContext("tool", name)
	}
	return content, nil
}

func (o *Orchestrator) journalError(ctx context.Context, agentErr *AgentError) {
	if o.journal == nil {
		return
	}
	report := diag.ErrorReport{
		Time:         o.now(),
		ErrorMessage: agentErr.Error(),
		Context:      "chat completion stream",
		Suggestions:  diag.Suggest(agentErr.Error()),
	}
	if err := o.journal.AppendError(ctx, report); err != nil {
		log.Warn("Failed to journal upstream error: %v", err)
	}
}

// dedupe keeps the first call per identity, in order.
func dedupe(calls []llm.ToolCall) []llm.ToolCall {
	seen := make(map[string]struct{}, len(calls))
	out := make([]llm.ToolCall, 0, len(calls))
	for _, call := range calls {
		id := call.Identity()
		if _, ok := seen[id]; ok {
			log.Info("Skipping duplicate tool call %s", id)
			continue
		}
		seen[id] = struct{}{}
		out = append(out, call)
	}
	return out
}

// reportedError extracts the message of an {"error": "..."} result.
func reportedError(content json.RawMessage) string {
	var probe struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(content, &probe); err != nil {
		return ""
	}
	return probe.Error
}

func errorEvent(agentErr *AgentError) []byte {
	payload, _ := json.Marshal(map[string]any{
		"error": map[string]any{
			"code":    agentErr.Code(),
			"message": agentErr.Message,
		},
	})
	return payload
}

func hasSystemMessage(messages []llm.Message) bool {
	for _, m := range messages {
		if m.Role == llm.RoleSystem {
			return true
		}
	}
	return false
}

func countUsers(messages []llm.Message) int {
	n := 0
	for _, m := range messages {
		if m.Role == llm.RoleUser {
			n++
		}
	}
	return n
}

// stream guards the sink: after the first write failure nothing else is
// written, and [DONE] goes out at most once.
type stream struct {
	sink   Sink
	err    error
	done   bool
	frames int
}

func (s *stream) frame(payload []byte) {
	if s.err != nil || s.done {
		return
	}
	if err := s.sink.WriteFrame(payload); err != nil {
		log.Warn("Client stream write failed: %v", err)
		s.err = err
		return
	}
	s.frames++
}

func (s *stream) finish() {
	if s.err != nil || s.done {
		return
	}
	s.done = true
	if err := s.sink.WriteDone(); err != nil {
		log.Warn("Client stream write failed: %v", err)
		s.err = err
	}
}
