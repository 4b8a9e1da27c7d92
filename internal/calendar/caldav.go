// Package calendar queries CalDAV servers for the user's calendars and
// events.
package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	"github.com/phantomtech/mirage/internal/httpkit"
)

// Info identifies one calendar on the server.
type Info struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// Event is a calendar event in display form.
type Event struct {
	Calendar    string    `json:"calendar"`
	Summary     string    `json:"summary"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

// Client wraps a CalDAV connection.
type Client struct {
	dav    *caldav.Client
	logger *slog.Logger
}

// NewClient connects to a CalDAV endpoint with basic auth.
func NewClient(endpoint, username, password string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := webdav.HTTPClientWithBasicAuth(
		httpkit.NewClient(httpkit.WithTimeout(30*time.Second)),
		username, password,
	)
	dav, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("caldav client: %w", err)
	}

	return &Client{dav: dav, logger: logger}, nil
}

// Calendars discovers the calendars available to the authenticated user.
func (c *Client) Calendars(ctx context.Context) ([]Info, error) {
	principal, err := c.dav.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("find principal: %w", err)
	}
	homeSet, err := c.dav.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("find calendar home set: %w", err)
	}
	cals, err := c.dav.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, fmt.Errorf("find calendars: %w", err)
	}

	infos := make([]Info, 0, len(cals))
	for _, cal := range cals {
		name := cal.Name
		if name == "" {
			name = cal.Path
		}
		infos = append(infos, Info{Path: cal.Path, Name: name})
	}
	return infos, nil
}

// SearchEvents queries the given calendars for events, optionally
// bounded by a time range and filtered by a free-text query. Zero times
// leave that bound open.
func (c *Client) SearchEvents(ctx context.Context, calendars []Info, query string, min, max time.Time) ([]Event, error) {
	compFilter := caldav.CompFilter{Name: ical.CompEvent}
	if !min.IsZero() {
		compFilter.Start = min
	}
	if !max.IsZero() {
		compFilter.End = max
	}

	req := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     ical.CompCalendar,
			AllProps: true,
			Comps:    []caldav.CalendarCompRequest{{Name: ical.CompEvent, AllProps: true}},
		},
		CompFilter: caldav.CompFilter{
			Name:  ical.CompCalendar,
			Comps: []caldav.CompFilter{compFilter},
		},
	}

	var events []Event
	for _, cal := range calendars {
		objs, err := c.dav.QueryCalendar(ctx, cal.Path, req)
		if err != nil {
			c.logger.Warn("calendar query failed", "calendar", cal.Name, "error", err)
			continue
		}
		for _, obj := range objs {
			if obj.Data == nil {
				continue
			}
			for _, ev := range obj.Data.Events() {
				events = append(events, convertEvent(cal.Name, ev))
			}
		}
	}

	return FilterEvents(events, query, min, max), nil
}

func convertEvent(calendarName string, ev ical.Event) Event {
	out := Event{
		Calendar:    calendarName,
		Summary:     propText(ev.Props, ical.PropSummary),
		Location:    propText(ev.Props, ical.PropLocation),
		Description: propText(ev.Props, ical.PropDescription),
	}
	if start, err := ev.DateTimeStart(time.Local); err == nil {
		out.Start = start
	}
	if end, err := ev.DateTimeEnd(time.Local); err == nil {
		out.End = end
	}
	return out
}

func propText(props ical.Props, name string) string {
	if p := props.Get(name); p != nil {
		return p.Value
	}
	return ""
}

// FilterEvents applies the free-text query and time bounds to a list of
// events. The server already filters by range; this pass catches
// servers that ignore filters and applies the text match.
func FilterEvents(events []Event, query string, min, max time.Time) []Event {
	query = strings.ToLower(strings.TrimSpace(query))

	out := make([]Event, 0, len(events))
	for _, ev := range events {
		if !min.IsZero() && !ev.End.IsZero() && ev.End.Before(min) {
			continue
		}
		if !max.IsZero() && !ev.Start.IsZero() && ev.Start.After(max) {
			continue
		}
		if query != "" {
			haystack := strings.ToLower(ev.Summary + " " + ev.Location + " " + ev.Description)
			if !strings.Contains(haystack, query) {
				continue
			}
		}
		out = append(out, ev)
	}
	return out
}

// FormatEvents renders events as friendly Chinese text for the model to
// relay to the user.
func FormatEvents(events []Event) string {
	if len(events) == 0 {
		return "您没有找到相关日程。"
	}

	var sb strings.Builder
	sb.WriteString("您有以下安排：\n")
	for i, ev := range events {
		sb.WriteString(fmt.Sprintf("%d. %s", i+1, ev.Summary))
		if !ev.Start.IsZero() {
			sb.WriteString(fmt.Sprintf("（%s", ev.Start.Format("2006-01-02 15:04")))
			if !ev.End.IsZero() {
				sb.WriteString(fmt.Sprintf(" 至 %s", ev.End.Format("2006-01-02 15:04")))
			}
			sb.WriteString("）")
		}
		if ev.Location != "" {
			sb.WriteString(" 地点：" + ev.Location)
		}
		if ev.Calendar != "" {
			sb.WriteString(" [" + ev.Calendar + "]")
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
