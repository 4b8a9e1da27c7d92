// Package llm provides clients for chat completion and image
// generation model APIs.
package llm

import (
	"context"
	"log/slog"

	"github.com/phantomtech/mirage/internal/config"
)

// LevelTrace re-exports the trace level for payload logging.
var LevelTrace = config.LevelTrace

// Message is a single chat message in model wire format.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	// Attachments are inline images sent alongside user text, such as
	// an uploaded photo the user wants analyzed.
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is inline binary content carried with a message. Data is
// base64 encoded.
type Attachment struct {
	Data     string `json:"data"`
	MimeType string `json:"mime_type"`
}

// ToolCall is a model request to invoke a registered tool.
type ToolCall struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolDefinition describes a callable tool to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ChatResponse is the normalized result of a chat completion call.
type ChatResponse struct {
	Model        string  `json:"model"`
	Message      Message `json:"message"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
}

// ImageResult is a generated image returned by an image model.
type ImageResult struct {
	Data     string `json:"data"` // base64-encoded bytes
	MimeType string `json:"mime_type"`
	Text     string `json:"text,omitempty"` // any text the model emitted alongside
}

// Client is the chat completion interface the agent runtime consumes.
type Client interface {
	Chat(ctx context.Context, messages []Message, tools []ToolDefinition) (*ChatResponse, error)
	Ping(ctx context.Context) error
}

// ImageGenerator produces images from text prompts.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (*ImageResult, error)
}

// nopLogger returns l or a default logger when nil.
func nopLogger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
