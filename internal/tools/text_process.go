package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type TextProcessTool struct {
	upper cases.Caser
	lower cases.Caser
}

type TextProcessArgs struct {
	Text      string `json:"text"`
	Operation string `json:"operation"`
}

// TextCount is the result of the count operation. Characters are counted
// in runes.
type TextCount struct {
	Characters int `json:"characters"`
	Words      int `json:"words"`
	Lines      int `json:"lines"`
}

func NewTextProcessTool() *TextProcessTool {
	return &TextProcessTool{
		upper: cases.Upper(language.Und),
		lower: cases.Lower(language.Und),
	}
}

func (t *TextProcessTool) Name() string {
	return "textProcess"
}

func (t *TextProcessTool) Description() string {
	return "对文本进行各种处理操作，如大小写转换、反转、统计等。"
}

func (t *TextProcessTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"text": {
				"type": "string",
				"description": "要处理的文本内容"
			},
			"operation": {
				"type": "string",
				"enum": ["uppercase", "lowercase", "reverse", "count"],
				"description": "操作类型：uppercase(转大写), lowercase(转小写), reverse(反转), count(统计)"
			}
		},
		"required": ["text", "operation"]
	}`)
}

func (t *TextProcessTool) Execute(_ context.Context, args json.RawMessage) (any, error) {
	var in TextProcessArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("failed to parse textProcess arguments: %w", err)
	}

	switch in.Operation {
	case "uppercase":
		return t.upper.String(in.Text), nil
	case "lowercase":
		return t.lower.String(in.Text), nil
	case "reverse":
		return reverseRunes(in.Text), nil
	case "count":
		return TextCount{
			Characters: utf8.RuneCountInString(in.Text),
			Words:      len(strings.Fields(in.Text)),
			Lines:      strings.Count(in.Text, "\n") + 1,
		}, nil
	default:
		return ErrorResult{Error: "不支持的操作"}, nil
	}
}

func reverseRunes(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}
