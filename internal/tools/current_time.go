package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/text/language"
)

type timeLayouts struct {
	full string
	date string
	time string
}

var (
	supportedLocales = []language.Tag{
		language.SimplifiedChinese,
		language.AmericanEnglish,
		language.Japanese,
		language.BritishEnglish,
	}
	localeMatcher = language.NewMatcher(supportedLocales)

	// Layouts mirror the common browser rendering of each locale with
	// 2-digit fields and a 24-hour clock.
	layoutsByLocale = map[language.Tag]timeLayouts{
		language.SimplifiedChinese: {full: "2006/01/02 15:04:05", date: "2006/1/2", time: "15:04:05"},
		language.AmericanEnglish:   {full: "01/02/2006, 15:04:05", date: "1/2/2006", time: "15:04:05"},
		language.Japanese:          {full: "2006/01/02 15:04:05", date: "2006/1/2", time: "15:04:05"},
		language.BritishEnglish:    {full: "02/01/2006, 15:04:05", date: "02/01/2006", time: "15:04:05"},
	}
)

// CurrentTimeTool reports the current date and/or time in the configured
// locale and timezone.
type CurrentTimeTool struct {
	layouts timeLayouts
	loc     *time.Location
	now     func() time.Time
}

type CurrentTimeArgs struct {
	Format string `json:"format"`
}

func NewCurrentTimeTool(locale language.Tag, loc *time.Location) *CurrentTimeTool {
	if loc == nil {
		loc = time.Local
	}
	_, index, _ := localeMatcher.Match(locale)
	return &CurrentTimeTool{
		layouts: layoutsByLocale[supportedLocales[index]],
		loc:     loc,
		now:     time.Now,
	}
}

func (t *CurrentTimeTool) Name() string {
	return "getCurrentTime"
}

func (t *CurrentTimeTool) Description() string {
	return "获取当前日期和时间。"
}

func (t *CurrentTimeTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"format": {
				"type": "string",
				"enum": ["full", "date", "time"],
				"description": "时间格式：full(完整日期时间), date(仅日期), time(仅时间)"
			}
		},
		"required": []
	}`)
}

func (t *CurrentTimeTool) Execute(_ context.Context, args json.RawMessage) (any, error) {
	var in CurrentTimeArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("failed to parse getCurrentTime arguments: %w", err)
	}
	return t.Format(in.Format), nil
}

// Format renders the current time; unknown or empty formats mean "full".
func (t *CurrentTimeTool) Format(format string) string {
	now := t.now().In(t.loc)
	switch format {
	case "date":
		return now.Format(t.layouts.date)
	case "time":
		return now.Format(t.layouts.time)
	default:
		return now.Format(t.layouts.full)
	}
}
