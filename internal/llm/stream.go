package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ZhyangJ/Agent-chat/pkg/log"
)

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"
)

// ErrAssemblerDecided is returned by Write once Verdict has been taken.
var ErrAssemblerDecided = errors.New("assembler already produced a verdict")

// AssemblerState is the lifecycle of one upstream stream.
type AssemblerState int

const (
	StateAwaitingFrames AssemblerState = iota
	StateAccumulating
	StateDecided
)

func (s AssemblerState) String() string {
	switch s {
	case StateAwaitingFrames:
		return "awaiting_frames"
	case StateAccumulating:
		return "accumulating"
	case StateDecided:
		return "decided"
	default:
		return "unknown"
	}
}

// streamFrame covers both the streaming (delta) and the non-streaming
// (message) completion shapes, plus an in-band error value.
type streamFrame struct {
	Choices []struct {
		Delta *struct {
			Content   string             `json:"content"`
			ToolCalls []toolCallFragment `json:"tool_calls"`
		} `json:"delta"`
		Message *struct {
			ToolCalls []toolCallFragment `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Error json.RawMessage `json:"error"`
}

// toolCallFragment mirrors openai.ToolCall except that arguments may arrive
// either as JSON text in a string or as an already decoded object.
type toolCallFragment struct {
	Index    *int            `json:"index"`
	ID       string          `json:"id"`
	Type     openai.ToolType `json:"type"`
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

// arguments returns the fragment's argument text. Strings are unquoted,
// anything else is kept as compact JSON.
func (f toolCallFragment) arguments() string {
	raw := bytes.TrimSpace(f.Function.Arguments)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// frameError interprets the error member of a frame. Absent and falsy values
// (null, false, 0, "") are not errors.
func frameError(raw json.RawMessage) *Error {
	raw = bytes.TrimSpace(raw)
	switch string(raw) {
	case "", "null", "false", "0", `""`:
		return nil
	}
	switch raw[0] {
	case '{':
		var e Error
		if err := json.Unmarshal(raw, &e); err == nil {
			return &e
		}
	case '"':
		var msg string
		if err := json.Unmarshal(raw, &msg); err == nil {
			return &Error{Message: msg}
		}
	}
	return &Error{Message: string(raw)}
}

// Assembler consumes raw SSE bytes from the upstream provider and produces a
// Verdict. Chunk boundaries are arbitrary: a partial line is kept until the
// next Write completes it.
//
// It is not safe for concurrent use; one Assembler serves one stream.
type Assembler struct {
	state   AssemblerState
	partial []byte
	frames  [][]byte
	content strings.Builder
	ended   bool
	noise   int

	calls       []*ToolCall
	byID        map[string]*ToolCall
	lastAtIndex map[int]*ToolCall
}

func NewAssembler() *Assembler {
	return &Assembler{
		byID:        make(map[string]*ToolCall),
		lastAtIndex: make(map[int]*ToolCall),
	}
}

// State returns the current lifecycle state.
func (a *Assembler) State() AssemblerState {
	return a.state
}

// Write feeds the next chunk of the byte stream. It returns *Error when the
// provider embedded an error object in a frame; the stream must then be
// abandoned.
func (a *Assembler) Write(chunk []byte) error {
	if a.state == StateDecided {
		return ErrAssemblerDecided
	}
	a.partial = append(a.partial, chunk...)

	for {
		i := bytes.IndexByte(a.partial, '\n')
		if i < 0 {
			return nil
		}
		line := a.partial[:i]
		if err := a.processLine(line); err != nil {
			a.partial = a.partial[i+1:]
			return err
		}
		a.partial = a.partial[i+1:]
	}
}

// Verdict flushes any trailing partial line and returns the outcome.
// Calls are sorted by index; calls sharing an index keep first-seen order.
func (a *Assembler) Verdict() (*Verdict, error) {
	if a.state == StateDecided {
		return nil, ErrAssemblerDecided
	}
	if len(bytes.TrimSpace(a.partial)) > 0 {
		line := a.partial
		a.partial = nil
		if err := a.processLine(line); err != nil {
			a.state = StateDecided
			return nil, err
		}
	}
	a.partial = nil
	a.state = StateDecided

	calls := make([]ToolCall, 0, len(a.calls))
	for _, c := range a.calls {
		calls = append(calls, *c)
	}
	sort.SliceStable(calls, func(i, j int) bool { return calls[i].Index < calls[j].Index })

	v := &Verdict{
		Kind:        VerdictDone,
		Frames:      a.frames,
		ToolCalls:   calls,
		Content:     a.content.String(),
		StreamEnded: a.ended,
		Noise:       a.noise,
	}
	if len(calls) > 0 {
		v.Kind = VerdictToolCalls
	}
	return v, nil
}

func (a *Assembler) processLine(line []byte) error {
	line = bytes.TrimSpace(line)
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		// blank separators, comments and event: lines
		return nil
	}
	payload := bytes.TrimSpace(line[len(dataPrefix):])
	if len(payload) == 0 {
		return nil
	}
	if string(payload) == doneSentinel {
		a.ended = true
		return nil
	}
	if a.state == StateAwaitingFrames {
		a.state = StateAccumulating
	}

	var frame streamFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		a.noise++
		log.Debug("Unparsable stream frame kept for replay: %v", err)
		a.frames = append(a.frames, bytes.Clone(payload))
		return nil
	}
	if upstreamErr := frameError(frame.Error); upstreamErr != nil {
		return upstreamErr
	}
	a.frames = append(a.frames, bytes.Clone(payload))

	for _, choice := range frame.Choices {
		if choice.Delta != nil {
			a.content.WriteString(choice.Delta.Content)
			for pos, tc := range choice.Delta.ToolCalls {
				a.mergeFragment(tc, pos)
			}
		}
		if choice.Message != nil {
			for pos, tc := range choice.Message.ToolCalls {
				a.mergeFragment(tc, pos)
			}
		}
	}
	return nil
}

// mergeFragment folds one tool-call fragment into its record. A fragment with
// an id belongs to that id; without one it continues the call last seen at
// its index. Names are overwritten by the last non-empty value and arguments
// are concatenated.
func (a *Assembler) mergeFragment(tc toolCallFragment, pos int) {
	index := pos
	if tc.Index != nil {
		index = *tc.Index
	}

	var rec *ToolCall
	if tc.ID != "" {
		rec = a.byID[tc.ID]
		if rec == nil {
			if prev := a.lastAtIndex[index]; prev != nil && prev.ID == "" {
				prev.ID = tc.ID
				rec = prev
			}
		}
	} else {
		rec = a.lastAtIndex[index]
	}

	if rec == nil {
		rec = &ToolCall{ID: tc.ID, Type: string(openai.ToolTypeFunction), Index: index}
		a.calls = append(a.calls, rec)
	}
	if rec.ID != "" {
		a.byID[rec.ID] = rec
	}
	a.lastAtIndex[index] = rec

	if tc.Type != "" {
		rec.Type = string(tc.Type)
	}
	if tc.Function.Name != "" {
		rec.Function.Name = tc.Function.Name
	}
	rec.Function.Arguments += tc.arguments()
}
