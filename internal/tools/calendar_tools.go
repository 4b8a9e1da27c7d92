package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/phantomtech/mirage/internal/calendar"
)

// datetimeLayout is the wire format for tool datetime arguments.
const datetimeLayout = "2006-01-02 15:04:05"

func (r *Registry) registerCalendar() {
	if r.deps.Calendar == nil {
		return
	}

	r.Register(&Tool{
		Name:        "get_calendars_info",
		Description: "获取用户的所有日历信息。在搜索日程前必须先调用，并将返回值原样传给 search_events 的 calendars_info 参数。",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.handleCalendarsInfo,
	})

	r.Register(&Tool{
		Name:        "search_events",
		Description: "在指定日历中搜索日程。calendars_info 必须是 get_calendars_info 的原始返回值。",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"calendars_info": map[string]any{
					"type":        "string",
					"description": "get_calendars_info 返回的 JSON 字符串，原样传入",
				},
				"query": map[string]any{
					"type":        "string",
					"description": "搜索关键词，匹配日程标题、地点和描述。留空则返回时间范围内的全部日程",
				},
				"min_datetime": map[string]any{
					"type":        "string",
					"description": "时间范围起点，格式 'YYYY-MM-DD HH:MM:SS'",
				},
				"max_datetime": map[string]any{
					"type":        "string",
					"description": "时间范围终点，格式 'YYYY-MM-DD HH:MM:SS'",
				},
			},
			"required": []string{"calendars_info"},
		},
		Handler: r.handleSearchEvents,
	})
}

func (r *Registry) handleCalendarsInfo(ctx context.Context, args map[string]any) (string, error) {
	infos, err := r.deps.Calendar.Calendars(ctx)
	if err != nil {
		return "", fmt.Errorf("get_calendars_info: %w", err)
	}

	data, err := json.Marshal(infos)
	if err != nil {
		return "", fmt.Errorf("get_calendars_info: encode: %w", err)
	}
	return string(data), nil
}

func (r *Registry) handleSearchEvents(ctx context.Context, args map[string]any) (string, error) {
	rawInfo, _ := args["calendars_info"].(string)
	if rawInfo == "" {
		return "", fmt.Errorf("search_events: calendars_info is required (call get_calendars_info first)")
	}

	var infos []calendar.Info
	if err := json.Unmarshal([]byte(rawInfo), &infos); err != nil {
		return "", fmt.Errorf("search_events: calendars_info 不是合法的 JSON，请原样传入 get_calendars_info 的返回值")
	}

	query, _ := args["query"].(string)

	min, err := parseDatetimeArg(args, "min_datetime")
	if err != nil {
		return "", err
	}
	max, err := parseDatetimeArg(args, "max_datetime")
	if err != nil {
		return "", err
	}

	events, err := r.deps.Calendar.SearchEvents(ctx, infos, query, min, max)
	if err != nil {
		return "", fmt.Errorf("search_events: %w", err)
	}

	return calendar.FormatEvents(events), nil
}

// parseDatetimeArg reads an optional datetime string argument. A
// missing or empty argument yields the zero time (open bound).
func parseDatetimeArg(args map[string]any, key string) (time.Time, error) {
	s, _ := args[key].(string)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(datetimeLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s 必须是 'YYYY-MM-DD HH:MM:SS' 格式，收到 %q", key, s)
	}
	return t, nil
}
