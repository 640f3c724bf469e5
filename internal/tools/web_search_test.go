package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baikeFixture = `<!DOCTYPE html>
<html><head><title>人工智能_百度百科</title><script>var x = "function baidu";</script></head>
<body>
<h1>人工智能</h1>
<h2><span>计算机科学的分支</span></h2>
<div class="lemma-summary">人工智能（Artificial Intelligence），英文缩写为AI[1]。它是研究、开发用于模拟、延伸和扩展人的智能的理论、方法、技术及应用系统的一门新的技术科学。人工智能是计算机科学的一个分支，它企图了解智能的实质。</div>
<dl>
<dt>中文名</dt><dd>人工智能</dd>
<dt>外文名</dt><dd>Artificial Intelligence</dd>
<dt>简称</dt><dd>AI</dd>
</dl>
<div class="para">人工智能是一门极富挑战性的科学，从事这项工作的人必须懂得计算机知识、心理学和哲学，研究内容包括机器人、语言识别、图像识别、自然语言处理和专家系统等。</div>
<ul>
<li>首页</li>
<li>机器学习是人工智能的一个核心研究领域，关注如何让计算机从数据中学习规律。</li>
</ul>
</body></html>`

func TestBaikeSearcher_Search(t *testing.T) {
	var gotPath, gotLang string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotLang = r.Header.Get("Accept-Language")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(baikeFixture))
	}))
	defer server.Close()

	searcher := NewBaikeSearcher(server.URL+"/item", 5*time.Second)
	res, err := searcher.Search(context.Background(), "人工智能", 20)
	require.NoError(t, err)

	assert.Equal(t, "/item/人工智能", gotPath)
	assert.True(t, strings.HasPrefix(gotLang, "zh-CN"))

	assert.True(t, res.Success)
	assert.Equal(t, "人工智能", res.Query)
	assert.Equal(t, baikeEnhancedSource, res.Source)
	assert.Equal(t, "https://baike.baidu.com/item/"+"%E4%BA%BA%E5%B7%A5%E6%99%BA%E8%83%BD", res.BaikeURL)
	assert.Equal(t, len(res.Results), res.Count)

	require.NotEmpty(t, res.Results)
	assert.Equal(t, "📖 人工智能", res.Results[0])
	assert.Contains(t, res.Results, "📌 别名: 计算机科学的分支")
	assert.Contains(t, res.Results, "🔑 **外文名**: Artificial Intelligence")
	assert.Contains(t, res.Results, "✓ 机器学习是人工智能的一个核心研究领域，关注如何让计算机从数据中学习规律。")

	joined := strings.Join(res.Results, "\n")
	assert.Contains(t, joined, "📝 人工智能（Artificial Intelligence），英文缩写为AI。")
	assert.NotContains(t, joined, "[1]")
	assert.NotContains(t, joined, "🔑 **简称**", "values of three runes or fewer are skipped")
	assert.NotContains(t, joined, "首页")
	assert.Contains(t, joined, "📊 **信息总结**")
	assert.Contains(t, res.Results[len(res.Results)-2], "完整内容")
	assert.Contains(t, res.Results[len(res.Results)-1], "移动端")
}

func TestBaikeSearcher_TruncatesToLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(baikeFixture))
	}))
	defer server.Close()

	searcher := NewBaikeSearcher(server.URL+"/item/", 5*time.Second)
	res, err := searcher.Search(context.Background(), "人工智能", 1)
	require.NoError(t, err)
	assert.Len(t, res.Results, 9)
	assert.Greater(t, res.Count, 9)
}

func TestBaikeSearcher_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	searcher := NewBaikeSearcher(server.URL, 5*time.Second)
	_, err := searcher.Search(context.Background(), "人工智能", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")

	_, err = searcher.Search(context.Background(), "  ", 5)
	require.Error(t, err)
}

func TestBaikeSearcher_ResultsAreIndependentCopies(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(baikeFixture))
	}))
	defer server.Close()

	searcher := NewBaikeSearcher(server.URL, 5*time.Second)
	first, err := searcher.Search(context.Background(), "人工智能", 20)
	require.NoError(t, err)
	first.Results[0] = "mutated"

	second, err := searcher.Search(context.Background(), "人工智能", 20)
	require.NoError(t, err)
	assert.Equal(t, "📖 人工智能", second.Results[0])
	assert.Equal(t, int32(2), hits.Load())
}

func TestBaikeSearcher_CancelledCallerDoesNotFailOthers(t *testing.T) {
	var hits atomic.Int32
	arrived := make(chan struct{})
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			close(arrived)
			<-release
		}
		_, _ = w.Write([]byte(baikeFixture))
	}))
	defer server.Close()

	searcher := NewBaikeSearcher(server.URL, 5*time.Second)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := searcher.Search(ctxA, "人工智能", 20)
		errA <- err
	}()

	select {
	case <-arrived:
	case <-time.After(2 * time.Second):
		t.Fatal("lookup never reached the server")
	}

	type outcome struct {
		res *SearchResult
		err error
	}
	resB := make(chan outcome, 1)
	go func() {
		res, err := searcher.Search(context.Background(), "人工智能", 20)
		resB <- outcome{res, err}
	}()

	cancelA()
	select {
	case err := <-errA:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(release)

	select {
	case got := <-resB:
		require.NoError(t, got.err)
		assert.True(t, got.res.Success)
		assert.Equal(t, "📖 人工智能", got.res.Results[0])
	case <-time.After(3 * time.Second):
		t.Fatal("waiting caller did not finish")
	}
}

func TestWebSearchTool_Execute(t *testing.T) {
	tool := NewWebSearchTool(stubSearcher{result: &SearchResult{Results: []string{"a"}, Count: 1, Success: true, Source: baikeSource}})
	assert.Equal(t, "searchWeb", tool.Name())

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"Go 语言"}`))
	require.NoError(t, err)
	res := out.(*SearchResult)
	assert.True(t, res.Success)
	assert.Equal(t, "Go 语言", res.Query)
}

func TestWebSearchTool_ExecuteFailure(t *testing.T) {
	tool := NewWebSearchTool(stubSearcher{err: errors.New("connection refused")})

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"人工智能"}`))
	require.NoError(t, err)

	encoded, err := json.Marshal(out)
	require.NoError(t, err)
	var res map[string]any
	require.NoError(t, json.Unmarshal(encoded, &res))
	assert.Equal(t, false, res["success"])
	assert.Equal(t, "connection refused", res["error"])
	assert.Equal(t, []any{}, res["results"])
	assert.EqualValues(t, 0, res["count"])
	assert.Contains(t, res["suggestion"], "baike.baidu.com")
}

func TestAcceptLanguage(t *testing.T) {
	assert.True(t, strings.HasPrefix(acceptLanguage("人工智能的发展历史"), "zh-CN"))
	assert.True(t, strings.HasPrefix(acceptLanguage("the history of artificial intelligence research"), "en-US"))
}

func TestCleanTextAndSentences(t *testing.T) {
	assert.Equal(t, "a b", cleanText("  a \n b[12] "))
	assert.Equal(t, []string{"第一句", "第二句", "third"}, splitSentences("第一句。第二句！ third."))
	assert.Equal(t, "人工", runePrefix("人工智能", 2))
	assert.Equal(t, "AI", runePrefix("AI", 5))
}

// TestBaikeSearcher_Integration hits the real site.
// Skipped unless BAIKE_INTEGRATION is set.
func TestBaikeSearcher_Integration(t *testing.T) {
	if os.Getenv("BAIKE_INTEGRATION") == "" {
		t.Skip("BAIKE_INTEGRATION not set, skipping integration test")
	}

	searcher := NewBaikeSearcher("", 12*time.Second)
	res, err := searcher.Search(context.Background(), "人工智能", 5)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.Results)
}
