package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/ZhyangJ/Agent-chat/internal/diag"
)

func TestDiagnosticTools(t *testing.T) {
	store := diag.NewMemoryStore()
	registry, err := NewDefaultRegistry(DefaultOptions{
		Searcher: stubSearcher{result: &SearchResult{}},
		Diag:     store,
		Locale:   language.SimplifiedChinese,
	})
	require.NoError(t, err)
	ctx := context.Background()

	out := registry.Execute(ctx, "logReasoningStep", json.RawMessage(`{"step":"分析用户需求"}`))
	var step ReasoningStepResult
	require.NoError(t, json.Unmarshal(out, &step))
	assert.True(t, step.Success)
	assert.Equal(t, 1, step.TotalSteps)
	assert.Equal(t, "分析用户需求", step.Entry.Step)
	assert.False(t, step.Entry.Time.IsZero())

	out = registry.Execute(ctx, "logReasoningStep", json.RawMessage(`{"step":"调用工具","detail":"calculate"}`))
	require.NoError(t, json.Unmarshal(out, &step))
	assert.Equal(t, 2, step.TotalSteps)

	out = registry.Execute(ctx, "clearReasoningLog", json.RawMessage(`{}`))
	assert.JSONEq(t, `{"success":true,"cleared":2}`, string(out))

	steps, err := store.Steps(ctx)
	require.NoError(t, err)
	assert.Empty(t, steps)

	out = registry.Execute(ctx, "logErrorAndSuggestFix", json.RawMessage(`{"errorMessage":"401 Unauthorized","context":"调用接口"}`))
	var report diag.ErrorReport
	require.NoError(t, json.Unmarshal(out, &report))
	assert.Equal(t, "401 Unauthorized", report.ErrorMessage)
	assert.Equal(t, "调用接口", report.Context)
	require.Len(t, report.Suggestions, 1)
	assert.Contains(t, report.Suggestions[0], "API Key")

	reports, err := store.Errors(ctx)
	require.NoError(t, err)
	assert.Len(t, reports, 1)
}
