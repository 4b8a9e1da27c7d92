// Package history models conversation turns and rebuilds display
// transcripts from the persisted turn log and the image store.
//
// The agent runtime produces turns; this package only consumes them.
// Its two jobs are context window trimming (what goes back to the
// model) and reconciliation (what the user sees, with every generated
// image attached to the turn that produced it).
package history

import (
	"fmt"
	"strings"
)

// Turn roles as recorded by the agent runtime.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Part content types.
const (
	PartText  = "text"
	PartImage = "image"
)

// Part is one segment of multipart turn content. Only text segments
// matter for display; other types (image attachments sent by the user)
// are carried for the model but dropped when flattening.
type Part struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	// Data and MimeType carry inline attachments for the model.
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// ToolCall is a tool invocation recorded on an assistant turn.
type ToolCall struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Turn is one recorded step in a conversation. Turns are created once
// by the agent runtime and never mutated.
type Turn struct {
	Role       string     `json:"role"`
	Text       string     `json:"text,omitempty"`
	Parts      []Part     `json:"parts,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// FlattenText reduces the turn's content to a single display string.
// Multipart content is flattened by concatenating text segments in
// order; non-text segments are dropped. When multipart content yields
// nothing, the plain Text field is the fallback.
func (t Turn) FlattenText() string {
	if len(t.Parts) == 0 {
		return t.Text
	}

	var b strings.Builder
	for _, p := range t.Parts {
		if p.Type == PartText || (p.Type == "" && p.Text != "") {
			b.WriteString(p.Text)
		}
	}
	if b.Len() == 0 {
		return t.Text
	}
	return b.String()
}

// Stringify renders arbitrary decoded content as a display string. It
// is the last-resort fallback for malformed stored content: a turn
// whose parts failed to parse still renders as something rather than
// aborting reconciliation.
func Stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprintf("%v", v)
	}
}
