// Package intent synthesizes tool calls from the user's last message when the
// model answered in free text without declaring any.
package intent

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"github.com/ZhyangJ/Agent-chat/internal/llm"
	"github.com/ZhyangJ/Agent-chat/pkg/log"
)

// Detector turns conversation state into candidate tool calls.
// Implementations must never panic and return nil when nothing matches.
type Detector interface {
	Detect(text string, history []llm.Message) []llm.ToolCall
}

const (
	toolCalculate   = "calculate"
	toolCurrentTime = "getCurrentTime"
	toolSearchWeb   = "searchWeb"
)

var (
	calcVocabulary = regexp.MustCompile(`计算|算|求|等于|结果|帮我算|帮我计算|加上|减去|乘以|除以|加|减|乘|除|是多少|等于多少`)
	bareExpression = regexp.MustCompile(`([\d\s]+[+\-*/][\d\s+\-*/()]+)`)
	phraseMath     = regexp.MustCompile(`(\d+)\s*(加上|减去|乘以|除以|加|减|乘|除)\s*(\d+)`)
	continuation   = regexp.MustCompile(`(?:再|然后|接着)?\s*(加上|减去|乘以|除以|加|减|乘|除)\s*(\d+)\s*(?:是多少|等于多少|等于|结果)`)
	assistantNum   = regexp.MustCompile(`(?:结果|等于|是)\s*(\d+(?:\.\d+)?)`)
	exprFragments  = regexp.MustCompile(`[\d+\-*/()\s]+`)
	digits         = regexp.MustCompile(`\d+`)
	whitespace     = regexp.MustCompile(`\s+`)
	hasOperator    = regexp.MustCompile(`[+\-*/]`)
	hasDigit       = regexp.MustCompile(`\d`)

	timeVocabulary   = regexp.MustCompile(`时间|现在几点|几点了|日期|几号|星期几|当前时间`)
	searchVocabulary = regexp.MustCompile(`帮我搜|搜索一下|搜索|查找|查询|找`)
	searchFillers    = regexp.MustCompile(`关于|的|信息`)

	operatorWords = strings.NewReplacer(
		"加上", "+", "减去", "-", "乘以", "*", "除以", "/",
		"加", "+", "减", "-", "乘", "*", "除", "/",
	)
)

// RuleDetector is the regular-expression detector for Chinese prompts.
type RuleDetector struct{}

func NewRuleDetector() *RuleDetector {
	return &RuleDetector{}
}

// Detect inspects the most recent user message in history. A calculation
// intent wins outright; time and search intents are independent and may
// both fire.
func (d *RuleDetector) Detect(text string, history []llm.Message) []llm.ToolCall {
	userText := lastUserContent(history)
	log.Debug("Fallback detection on %q (model said %d bytes)", truncate(userText, 100), len(text))

	if expr := d.expression(userText, history); expr != "" {
		log.Info("Fallback detected calculation: %s", expr)
		return []llm.ToolCall{newCall("calc", 0, toolCalculate, map[string]string{"expression": expr})}
	}

	var calls []llm.ToolCall
	if timeVocabulary.MatchString(userText) {
		log.Info("Fallback detected time query")
		calls = append(calls, newCall("time", len(calls), toolCurrentTime, map[string]string{"format": "full"}))
	}
	if searchVocabulary.MatchString(userText) {
		query := searchVocabulary.ReplaceAllString(userText, "")
		query = strings.TrimSpace(searchFillers.ReplaceAllString(query, ""))
		if utf8.RuneCountInString(query) > 1 {
			log.Info("Fallback detected search: %s", query)
			calls = append(calls, newCall("search", len(calls), toolSearchWeb, map[string]string{"query": query}))
		}
	}
	return calls
}

// expression returns an accepted arithmetic expression or "".
func (d *RuleDetector) expression(userText string, history []llm.Message) string {
	hasVocabulary := calcVocabulary.MatchString(userText)
	var expr string

	switch {
	case bareExpression.MatchString(userText):
		m := bareExpression.FindStringSubmatch(userText)
		expr = whitespace.ReplaceAllString(m[1], "")
	case phraseMath.MatchString(userText):
		expr = whitespace.ReplaceAllString(operatorWords.Replace(phraseMath.FindString(userText)), "")
	case continuation.MatchString(userText):
		m := continuation.FindStringSubmatch(userText)
		op := operatorWords.Replace(m[1])
		base, ok := previousResult(history)
		if !ok {
			log.Warn("Continuation %q has no prior result, starting from 0", m[0])
			base = "0"
		}
		expr = base + op + m[2]
	case hasVocabulary:
		expr = whitespace.ReplaceAllString(strings.Join(exprFragments.FindAllString(userText, -1), ""), "")
		if !hasOperator.MatchString(expr) {
			if nums := digits.FindAllString(userText, -1); len(nums) >= 2 {
				expr = strings.Join(nums, "+")
			}
		}
	}

	if expr == "" {
		return ""
	}
	// a lone sign is not an expression
	if !hasOperator.MatchString(expr) || !hasDigit.MatchString(expr) {
		log.Debug("Rejected candidate expression %q", expr)
		return ""
	}
	return expr
}

// previousResult finds the left operand for a continuation phrase: the last
// successful calculate tool result, else the newest assistant number.
func previousResult(history []llm.Message) (string, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m.Role != llm.RoleTool || m.Name != toolCalculate {
			continue
		}
		var res struct {
			Success bool     `json:"success"`
			Result  *float64 `json:"result"`
		}
		if err := json.Unmarshal([]byte(m.Content), &res); err != nil {
			log.Warn("Failed to parse previous calculate result: %v", err)
			break
		}
		if res.Success && res.Result != nil {
			return strconv.FormatFloat(*res.Result, 'f', -1, 64), true
		}
		break
	}

	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != llm.RoleAssistant {
			continue
		}
		if m := assistantNum.FindStringSubmatch(history[i].Content); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				return strconv.FormatFloat(v, 'f', -1, 64), true
			}
		}
	}
	return "", false
}

func lastUserContent(history []llm.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == llm.RoleUser {
			return history[i].Content
		}
	}
	return ""
}

func newCall(prefix string, index int, name string, args map[string]string) llm.ToolCall {
	raw, _ := json.Marshal(args)
	return llm.ToolCall{
		ID:    prefix + "_" + ulid.Make().String(),
		Type:  "function",
		Index: index,
		Function: llm.FunctionCall{
			Name:      name,
			Arguments: string(raw),
		},
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
