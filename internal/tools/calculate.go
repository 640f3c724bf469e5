package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// CalculateTool evaluates arithmetic expressions. Input is reduced to a
// character whitelist before parsing, so nothing but arithmetic is ever
// interpreted.
type CalculateTool struct{}

type CalculateArgs struct {
	Expression string `json:"expression"`
}

// CalculateResult is {success, result, expression} or {success:false, error}.
type CalculateResult struct {
	Success    bool     `json:"success"`
	Result     *float64 `json:"result,omitempty"`
	Expression string   `json:"expression,omitempty"`
	Error      string   `json:"error,omitempty"`
}

func NewCalculateTool() *CalculateTool {
	return &CalculateTool{}
}

func (t *CalculateTool) Name() string {
	return "calculate"
}

func (t *CalculateTool) Description() string {
	return "执行数学计算。可以计算基本的数学表达式，如加法、减法、乘法、除法等。"
}

func (t *CalculateTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"expression": {
				"type": "string",
				"description": "要计算的数学表达式，例如: \"2 + 2\", \"10 * 5\", \"(3 + 4) * 2\""
			}
		},
		"required": ["expression"]
	}`)
}

func (t *CalculateTool) Execute(_ context.Context, args json.RawMessage) (any, error) {
	var in CalculateArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("failed to parse calculate arguments: %w", err)
	}
	return Calculate(in.Expression), nil
}

// Calculate evaluates expression and never fails: problems are reported in
// the result.
func Calculate(expression string) CalculateResult {
	v, err := evaluate(sanitizeExpression(expression))
	if err != nil {
		return CalculateResult{Success: false, Error: err.Error()}
	}
	return CalculateResult{Success: true, Result: &v, Expression: expression}
}
