// Package tools defines the tools available to the assistant.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/phantomtech/mirage/internal/artifact"
	"github.com/phantomtech/mirage/internal/calendar"
	"github.com/phantomtech/mirage/internal/config"
	"github.com/phantomtech/mirage/internal/contacts"
	"github.com/phantomtech/mirage/internal/email"
	"github.com/phantomtech/mirage/internal/events"
	"github.com/phantomtech/mirage/internal/llm"
	"github.com/phantomtech/mirage/internal/retrieval"
	"github.com/phantomtech/mirage/internal/search"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// Deps holds the service clients tools draw on. Nil fields disable the
// tools that need them, so a deployment without CalDAV or IMAP simply
// never offers those tools to the model.
type Deps struct {
	Search    *search.Manager
	Retrieval *retrieval.Index
	Calendar  *calendar.Client
	Email     *email.Client
	EmailCfg  config.EmailConfig
	Contacts  *contacts.Client
	Images    llm.ImageGenerator
	Artifacts *artifact.Store
	Handoff   *artifact.Buffer
	Bus       *events.Bus
	Logger    *slog.Logger
}

// Registry holds the available tools.
type Registry struct {
	tools map[string]*Tool
	order []string
	deps  Deps
}

// NewRegistry creates a tool registry wired to the given dependencies.
func NewRegistry(deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	r := &Registry{
		tools: make(map[string]*Tool),
		deps:  deps,
	}
	r.registerBuiltins()
	r.registerSearch()
	r.registerPolicy()
	r.registerCalendar()
	r.registerEmail()
	r.registerImage()
	return r
}

// Register adds a tool to the registry.
func (r *Registry) Register(t *Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Get retrieves a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Definitions returns the tool declarations for the model, in
// registration order.
func (r *Registry) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return defs
}

// Execute runs a tool by name, publishing start and completion events.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	tool := r.tools[name]
	if tool == nil {
		return "", fmt.Errorf("unknown tool: %s", name)
	}

	convID := ConversationIDFromContext(ctx)
	r.deps.Bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceTool,
		Kind:      events.KindToolCall,
		Data:      map[string]any{"conversation_id": convID, "tool": name},
	})

	start := time.Now()
	result, err := tool.Handler(ctx, args)

	r.deps.Bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceTool,
		Kind:      events.KindToolDone,
		Data: map[string]any{
			"conversation_id": convID,
			"tool":            name,
			"ok":              err == nil,
			"duration_ms":     time.Since(start).Milliseconds(),
		},
	})

	return result, err
}

func (r *Registry) registerBuiltins() {
	r.Register(&Tool{
		Name:        "get_current_datetime",
		Description: "获取当前的日期和时间。在查询日程或处理任何与时间相关的问题前调用。",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: handleCurrentDatetime,
	})

	r.Register(&Tool{
		Name:        "calculate_bonus",
		Description: "根据员工月薪计算年终奖金额（月薪的 20%）。",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"salary": map[string]any{
					"type":        "number",
					"description": "员工月薪（元）",
				},
			},
			"required": []string{"salary"},
		},
		Handler: handleCalculateBonus,
	})
}

// weekdayNames maps time.Weekday to Chinese day names.
var weekdayNames = [...]string{"星期日", "星期一", "星期二", "星期三", "星期四", "星期五", "星期六"}

func handleCurrentDatetime(ctx context.Context, args map[string]any) (string, error) {
	now := time.Now()
	return fmt.Sprintf("当前时间：%s %s", now.Format("2006-01-02 15:04:05"), weekdayNames[now.Weekday()]), nil
}

func handleCalculateBonus(ctx context.Context, args map[string]any) (string, error) {
	salary, ok := args["salary"].(float64)
	if !ok || salary < 0 {
		return "", fmt.Errorf("calculate_bonus: salary 必须是非负数字")
	}
	bonus := salary * 0.2
	return fmt.Sprintf("月薪 %.2f 元对应的年终奖为 %.2f 元。", salary, bonus), nil
}
