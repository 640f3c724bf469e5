package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func fixedClock() time.Time {
	return time.Date(2024, 1, 5, 6, 30, 45, 0, time.UTC)
}

func TestCurrentTimeTool_Format(t *testing.T) {
	shanghai, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)

	tests := []struct {
		name   string
		locale language.Tag
		format string
		want   string
	}{
		{name: "zh full", locale: language.SimplifiedChinese, format: "full", want: "2024/01/05 14:30:45"},
		{name: "zh default", locale: language.SimplifiedChinese, format: "", want: "2024/01/05 14:30:45"},
		{name: "zh date", locale: language.SimplifiedChinese, format: "date", want: "2024/1/5"},
		{name: "zh time", locale: language.SimplifiedChinese, format: "time", want: "14:30:45"},
		{name: "zh region variant", locale: language.MustParse("zh-Hans-CN"), format: "full", want: "2024/01/05 14:30:45"},
		{name: "en-US full", locale: language.AmericanEnglish, format: "full", want: "01/05/2024, 14:30:45"},
		{name: "en-US date", locale: language.AmericanEnglish, format: "date", want: "1/5/2024"},
		{name: "en-GB date", locale: language.BritishEnglish, format: "date", want: "05/01/2024"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool := NewCurrentTimeTool(tt.locale, shanghai)
			tool.now = fixedClock
			assert.Equal(t, tt.want, tool.Format(tt.format))
		})
	}
}

func TestCurrentTimeTool_Execute(t *testing.T) {
	tool := NewCurrentTimeTool(language.SimplifiedChinese, time.UTC)
	tool.now = fixedClock

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"format":"time"}`))
	require.NoError(t, err)
	assert.Equal(t, "06:30:45", out)
}
