package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/sync/singleflight"

	"github.com/ZhyangJ/Agent-chat/pkg/log"
)

const (
	defaultBaikeURL    = "https://baike.baidu.com/item/"
	mobileBaikeURL     = "https://m.baike.baidu.com/item/"
	defaultSearchLimit = 5
	maxPageSize        = 4 << 20

	baikeSource         = "百度百科"
	baikeEnhancedSource = "百度百科（增强解析）"
	browserUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Searcher looks a query up in an external knowledge source.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) (*SearchResult, error)
}

// SearchResult is what searchWeb returns to the agent. On failure Success is
// false, Results is empty and Error/Suggestion are set.
type SearchResult struct {
	Query      string   `json:"query"`
	Results    []string `json:"results"`
	Count      int      `json:"count"`
	Success    bool     `json:"success"`
	Source     string   `json:"source"`
	BaikeURL   string   `json:"baike_url,omitempty"`
	InfoCount  int      `json:"info_count,omitempty"`
	Error      string   `json:"error,omitempty"`
	Suggestion string   `json:"suggestion,omitempty"`
}

// WebSearchTool implements searchWeb on top of a Searcher
type WebSearchTool struct {
	searcher Searcher
}

// WebSearchArgs represents the arguments for web search
type WebSearchArgs struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

func NewWebSearchTool(searcher Searcher) *WebSearchTool {
	return &WebSearchTool{searcher: searcher}
}

func (t *WebSearchTool) Name() string {
	return "searchWeb"
}

func (t *WebSearchTool) Description() string {
	return "在网络上搜索信息。当用户需要查找信息、新闻、资料等时使用此工具。"
}

func (t *WebSearchTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {
				"type": "string",
				"description": "搜索关键词或查询内容"
			},
			"limit": {
				"type": "integer",
				"minimum": 1,
				"maximum": 20,
				"description": "期望返回的条目数，默认 5"
			}
		},
		"required": ["query"]
	}`)
}

func (t *WebSearchTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	var in WebSearchArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("failed to parse search arguments: %w", err)
	}
	if in.Limit <= 0 {
		in.Limit = defaultSearchLimit
	}

	log.Info("Searching: %q", in.Query)
	result, err := t.searcher.Search(ctx, in.Query, in.Limit)
	if err != nil {
		log.Warn("Search for %q failed: %v", in.Query, err)
		return failedSearch(in.Query, err), nil
	}
	return result, nil
}

func failedSearch(query string, err error) *SearchResult {
	return &SearchResult{
		Query:      query,
		Results:    []string{},
		Count:      0,
		Success:    false,
		Source:     baikeSource,
		Error:      err.Error(),
		Suggestion: "请检查网络连接或稍后重试，也可以直接访问 " + defaultBaikeURL + url.PathEscape(query) + " 查看。",
	}
}

// BaikeSearcher fetches a Baidu Baike entry page and extracts readable
// snippets from it. Concurrent lookups of the same query share one fetch.
type BaikeSearcher struct {
	baseURL    string
	httpClient *http.Client
	group      singleflight.Group
}

func NewBaikeSearcher(baseURL string, timeout time.Duration) *BaikeSearcher {
	if baseURL == "" {
		baseURL = defaultBaikeURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	return &BaikeSearcher{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (s *BaikeSearcher) Search(ctx context.Context, query string, limit int) (*SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	key := query + "|" + strconv.Itoa(limit)
	// The shared fetch outlives any single caller; httpClient.Timeout bounds it.
	fetchCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (any, error) {
		return s.search(fetchCtx, query, limit)
	})

	var r singleflight.Result
	select {
	case r = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if r.Err != nil {
		return nil, r.Err
	}
	if r.Shared {
		log.Debug("Search for %q shared an in-flight lookup", query)
	}
	// callers may not mutate a shared result
	res := *r.Val.(*SearchResult)
	res.Results = append([]string(nil), res.Results...)
	return &res, nil
}

func (s *BaikeSearcher) search(ctx context.Context, query string, limit int) (*SearchResult, error) {
	pageURL := s.baseURL + url.PathEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", acceptLanguage(query))
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Referer", s.baseURL)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("baike returned status %d", resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}

	lines := extractBaike(doc, query)
	escaped := url.PathEscape(query)
	lines = append(lines,
		"\n🔗 **完整内容**: "+defaultBaikeURL+escaped,
		"📱 **移动端**: "+mobileBaikeURL+escaped,
	)
	log.Info("Baike lookup for %q extracted %d entries", query, len(lines))

	shown := lines
	if keep := limit + 8; len(shown) > keep {
		shown = shown[:keep]
	}
	return &SearchResult{
		Query:     query,
		Results:   shown,
		Count:     len(lines),
		Success:   true,
		Source:    baikeEnhancedSource,
		BaikeURL:  defaultBaikeURL + escaped,
		InfoCount: len(lines),
	}, nil
}

// acceptLanguage prefers the language the query is written in.
func acceptLanguage(query string) string {
	switch whatlanggo.Detect(query).Lang {
	case whatlanggo.Eng:
		return "en-US,en;q=0.9,zh-CN;q=0.8"
	case whatlanggo.Jpn:
		return "ja-JP,ja;q=0.9,zh-CN;q=0.8"
	default:
		return "zh-CN,zh;q=0.9,en;q=0.8"
	}
}

var (
	citationRe     = regexp.MustCompile(`\[\d+(?:-\d+)?\]`)
	infoKeys       = []string{"中文名", "外文名", "别名", "简称", "提出者", "提出时间", "应用学科", "适用领域"}
	fallbackTokens = []string{"是", "包括", "分为", "主要"}
)

// extractBaike turns an entry page into prefixed text lines: title, alias,
// summary sentences, info-box pairs, body paragraphs, list items and, when
// little was found, keyword sentences from the whole page.
func extractBaike(doc *html.Node, query string) []string {
	var results []string
	seen := func(prefix string) bool {
		for _, r := range results {
			if strings.Contains(r, prefix) {
				return true
			}
		}
		return false
	}

	title := cleanText(textOf(findFirst(doc, func(n *html.Node) bool { return n.DataAtom == atom.H1 })))
	if utf8.RuneCountInString(title) < 2 {
		pageTitle := cleanText(textOf(findFirst(doc, func(n *html.Node) bool { return n.DataAtom == atom.Title })))
		pageTitle = strings.TrimSuffix(pageTitle, "_百度百科")
		pageTitle = strings.TrimSpace(strings.TrimSuffix(pageTitle, "- 百度百科"))
		title = pageTitle
	}
	if title == "" {
		title = query
	}
	results = append(results, "📖 "+title)

	if h2 := findFirst(doc, func(n *html.Node) bool { return n.DataAtom == atom.H2 }); h2 != nil {
		sub := cleanText(textOf(h2))
		if sub != "" && sub != title && !strings.Contains(sub, "目录") && !strings.Contains(sub, "参考资料") {
			results = append(results, "📌 别名: "+sub)
		}
	}

	if summary := findFirst(doc, classMatcher("lemma-summary", "lemmaSummary")); summary != nil {
		text := cleanText(textOf(summary))
		if utf8.RuneCountInString(text) > 30 {
			added := 0
			for _, sentence := range splitSentences(text) {
				if added == 3 {
					break
				}
				if utf8.RuneCountInString(sentence) <= 10 || seen(runePrefix(sentence, 20)) {
					continue
				}
				results = append(results, "📝 "+sentence+"。")
				added++
			}
		}
	}

	infoCount := 0
	for _, dt := range findAll(doc, func(n *html.Node) bool { return n.DataAtom == atom.Dt }) {
		if infoCount == 6 {
			break
		}
		dd := nextElement(dt)
		if dd == nil || dd.DataAtom != atom.Dd {
			continue
		}
		key := cleanText(textOf(dt))
		value := cleanText(textOf(dd))
		valueLen := utf8.RuneCountInString(value)
		if key == "" || valueLen <= 3 || valueLen >= 150 {
			continue
		}
		if containsAny(key, infoKeys) || utf8.RuneCountInString(key) < 10 {
			results = append(results, fmt.Sprintf("🔑 **%s**: %s", key, value))
			infoCount++
		}
	}

	paraCount := 0
	paraSeen := make(map[string]bool)
	for _, para := range findAll(doc, classMatcher("para")) {
		if paraCount >= 8 {
			break
		}
		text := cleanText(textOf(para))
		n := utf8.RuneCountInString(text)
		if n <= 60 || n >= 500 {
			continue
		}
		start := runePrefix(text, 50)
		if paraSeen[start] || tooManySpecialChars(text) {
			continue
		}
		paraSeen[start] = true
		if n <= 150 {
			results = append(results, "📄 "+text)
			paraCount++
			continue
		}
		added := 0
		for _, sentence := range splitSentences(text) {
			if added == 2 {
				break
			}
			if utf8.RuneCountInString(sentence) <= 30 || seen(runePrefix(sentence, 30)) {
				continue
			}
			results = append(results, "📄 "+sentence+"。")
			paraCount++
			added++
		}
	}

	listCount := 0
	for _, li := range findAll(doc, func(n *html.Node) bool { return n.DataAtom == atom.Li }) {
		if listCount == 5 {
			break
		}
		item := cleanText(textOf(li))
		n := utf8.RuneCountInString(item)
		if n <= 20 || n >= 200 || strings.Contains(item, "function") || strings.Contains(item, "baidu") {
			continue
		}
		if seen(runePrefix(item, 30)) {
			continue
		}
		results = append(results, "✓ "+item)
		listCount++
	}

	if len(results) < 6 {
		keyword := runePrefix(query, 3)
		var picked []string
		for _, sentence := range splitSentences(cleanText(textOf(doc))) {
			if len(picked) == 4 {
				break
			}
			n := utf8.RuneCountInString(sentence)
			if n <= 40 || n >= 300 {
				continue
			}
			if !strings.Contains(sentence, keyword) && !containsAny(sentence, fallbackTokens) {
				continue
			}
			if seen(runePrefix(sentence, 30)) || containsAny(runePrefix(sentence, 30), picked) {
				continue
			}
			picked = append(picked, sentence)
			results = append(results, "💡 "+sentence+"。")
		}
	}

	if len(results) > 3 {
		results = append(results,
			"\n📊 **信息总结**:",
			fmt.Sprintf("   • 共提取 %d 条关键信息", len(results)-1),
			"   • 包含定义、特点、应用等内容",
		)
	}
	return results
}

// textOf concatenates the text below n, skipping script and style.
func textOf(n *html.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style) {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

func findAll(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && match(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func nextElement(n *html.Node) *html.Node {
	for s := n.NextSibling; s != nil; s = s.NextSibling {
		if s.Type == html.ElementNode {
			return s
		}
	}
	return nil
}

// classMatcher matches elements whose class list has a token equal to, or
// for CSS-module class names starting with, one of names.
func classMatcher(names ...string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		for _, attr := range n.Attr {
			if attr.Key != "class" {
				continue
			}
			for _, token := range strings.Fields(attr.Val) {
				for _, name := range names {
					if token == name || strings.HasPrefix(token, name+"_") {
						return true
					}
				}
			}
		}
		return false
	}
}

func cleanText(s string) string {
	s = citationRe.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

func splitSentences(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return strings.ContainsRune("。！？；.!?;", r)
	})
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func runePrefix(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// tooManySpecialChars flags navigation or markup residue: more than a
// third of the runes are neither letters, digits, spaces nor punctuation.
func tooManySpecialChars(s string) bool {
	total, special := 0, 0
	for _, r := range s {
		total++
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) && !unicode.IsPunct(r) {
			special++
		}
	}
	return total > 0 && special*3 > total
}
