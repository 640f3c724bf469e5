// Package render turns executed tool results into the assistant text sent
// back to the client.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ZhyangJ/Agent-chat/internal/llm"
	"github.com/ZhyangJ/Agent-chat/internal/tools"
)

const (
	maxDisplay      = 10
	minDisplay      = 5
	minPlainEntries = 3
)

var entryIcons = []string{"📖", "🔑", "📝", "📄", "💡"}

// Render builds the reply from a batch of tool messages. Only the first
// result drives the text.
func Render(results []llm.Message) string {
	if len(results) == 0 {
		return ""
	}
	first := results[0]
	raw := []byte(first.Content)

	switch first.Name {
	case "calculate":
		var res tools.CalculateResult
		err := json.Unmarshal(raw, &res)
		if err == nil && res.Success && res.Result != nil {
			return fmt.Sprintf("计算表达式 %s 的结果为：%s", res.Expression, formatNumber(*res.Result))
		}
		if err == nil && res.Error != "" {
			return "计算失败：" + res.Error
		}
		return "计算失败：" + stringify(raw)

	case "getCurrentTime":
		return "当前时间是：" + stringify(raw)

	case "searchWeb":
		var res tools.SearchResult
		if err := json.Unmarshal(raw, &res); err == nil && res.Results != nil {
			return searchDigest(res)
		}
		fallthrough

	case "textProcess":
		return "文本处理结果：" + stringify(raw)

	default:
		return stringify(raw)
	}
}

// searchDigest lists between five and ten entries, holding links back until
// at least three plain entries were shown.
func searchDigest(res tools.SearchResult) string {
	limit := min(res.Count, maxDisplay)
	if res.Count > maxDisplay {
		limit = max(minDisplay, min(maxDisplay, (res.Count+1)/2))
	}

	shown := make([]string, 0, limit)
	plain := 0
	for _, entry := range res.Results {
		if len(shown) >= limit {
			break
		}
		if !isLink(entry) {
			shown = append(shown, entry)
			plain++
		} else if plain >= minPlainEntries {
			shown = append(shown, entry)
		}
	}
	if len(shown) == 0 && len(res.Results) > 0 {
		shown = append(shown, res.Results[:min(minDisplay, len(res.Results))]...)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🔍 %s的搜索结果（共 %d 条）\n\n", res.Query, res.Count)
	for i, entry := range shown {
		fmt.Fprintf(&b, "%d. %s\n", i+1, tidyEntry(entry))
	}
	if res.Count > len(shown) {
		fmt.Fprintf(&b, "\n... 还有 %d 条结果未显示", res.Count-len(shown))
	}
	if res.Source != "" {
		b.WriteString("\n\n📚 信息来源: " + res.Source)
	}
	if res.BaikeURL != "" {
		b.WriteString("\n🔗 查看完整百科: " + res.BaikeURL)
	}
	if !res.Success && res.Error != "" {
		b.WriteString("\n\n⚠️ 注意: " + res.Error)
		if res.Suggestion != "" {
			b.WriteString("\n💡 建议: " + res.Suggestion)
		}
	}
	return b.String()
}

func isLink(entry string) bool {
	return strings.Contains(entry, "http://") ||
		strings.Contains(entry, "https://") ||
		strings.Contains(entry, "完整内容") ||
		strings.Contains(entry, "移动端")
}

func tidyEntry(entry string) string {
	if rest, ok := strings.CutPrefix(entry, "✓"); ok {
		return "• " + strings.TrimSpace(rest)
	}
	for _, icon := range entryIcons {
		if rest, ok := strings.CutPrefix(entry, icon); ok {
			return strings.TrimSpace(rest)
		}
	}
	return entry
}

// stringify returns a JSON string value unquoted and any other payload as
// compact JSON. Content that is not JSON is returned as is.
func stringify(raw []byte) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err == nil {
		return buf.String()
	}
	return string(raw)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
