// Package diag keeps the process-wide reasoning log and error-suggestion log.
//
// Both logs are shared by every request. Stores serialize writes, but entries
// from concurrent requests still interleave in arrival order: there is no
// per-session isolation.
package diag

import (
	"context"
	"strings"
	"time"
)

// Step is one recorded reasoning step.
type Step struct {
	Time   time.Time `json:"time"`
	Step   string    `json:"step"`
	Detail string    `json:"detail"`
}

// ErrorReport is a recorded error with remediation hints.
type ErrorReport struct {
	Time         time.Time `json:"-"`
	ErrorMessage string    `json:"errorMessage"`
	Context      string    `json:"context"`
	Suggestions  []string  `json:"suggestions"`
}

// Store persists the diagnostic logs.
type Store interface {
	// AppendStep records a step and returns the number of steps now held.
	AppendStep(ctx context.Context, step Step) (int, error)
	// ClearSteps empties the reasoning log and returns how many steps were removed.
	ClearSteps(ctx context.Context) (int, error)
	Steps(ctx context.Context) ([]Step, error)
	AppendError(ctx context.Context, report ErrorReport) error
	Errors(ctx context.Context) ([]ErrorReport, error)
}

const genericSuggestion = "先精读错误信息，再根据关键字（如模块名、字段名）定位到最近的改动处进行检查。"

var suggestionRules = []struct {
	keywords   []string
	suggestion string
}{
	{[]string{"json"}, "检查 JSON 是否少逗号、少引号或多了尾逗号。"},
	{[]string{"timeout"}, "考虑减小请求数据量或增加超时时间，或检查网络/服务是否可用。"},
	{[]string{"not found", "enoent"}, "确认路径/资源名称是否正确，必要时打印当前工作目录或可用资源列表。"},
	{[]string{"unauthorized", "forbidden", "401", "403"}, "检查 API Key / 鉴权信息是否配置正确，或是否有对应权限。"},
	{[]string{"syntax", "unexpected"}, "检查最近修改的代码语法（括号、引号、分号等），可以尝试逐行缩小范围。"},
}

// Suggest matches the error text case-insensitively against known patterns.
// Every matching pattern contributes one hint; with no match a single generic
// hint is returned.
func Suggest(errorMessage string) []string {
	lower := strings.ToLower(errorMessage)
	var suggestions []string
	for _, rule := range suggestionRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				suggestions = append(suggestions, rule.suggestion)
				break
			}
		}
	}
	if len(suggestions) == 0 {
		suggestions = []string{genericSuggestion}
	}
	return suggestions
}
