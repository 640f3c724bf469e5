package diag

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuggest(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    int
		contain string
	}{
		{name: "json", message: "Unexpected end of JSON input", want: 2, contain: "JSON"},
		{name: "timeout", message: "request TIMEOUT after 30s", want: 1, contain: "超时"},
		{name: "not found", message: "ENOENT: no such file", want: 1, contain: "路径"},
		{name: "auth", message: "status 403", want: 1, contain: "API Key"},
		{name: "generic", message: "something odd", want: 1, contain: "精读错误信息"},
		{name: "empty", message: "", want: 1, contain: "精读错误信息"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Suggest(tt.message)
			require.Len(t, got, tt.want)
			assert.Contains(t, got[0], tt.contain)
		})
	}
}

func TestMemoryStore_Steps(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	n, err := s.AppendStep(ctx, Step{Time: time.Now(), Step: "分析用户需求"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.AppendStep(ctx, Step{Time: time.Now(), Step: "决定调用工具", Detail: "calculate"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	steps, err := s.Steps(ctx)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "calculate", steps[1].Detail)

	cleared, err := s.ClearSteps(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, cleared)

	steps, err = s.Steps(ctx)
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func TestMemoryStore_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.AppendStep(ctx, Step{Step: fmt.Sprintf("step-%d", i)})
			_ = s.AppendError(ctx, ErrorReport{ErrorMessage: "e"})
		}(i)
	}
	wg.Wait()

	steps, err := s.Steps(ctx)
	require.NoError(t, err)
	assert.Len(t, steps, 50)
	reports, err := s.Errors(ctx)
	require.NoError(t, err)
	assert.Len(t, reports, 50)
}
