// Package agent implements the core assistant loop: assemble context,
// call the model, execute requested tools, and persist every step as
// an immutable turn.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/phantomtech/mirage/internal/artifact"
	"github.com/phantomtech/mirage/internal/events"
	"github.com/phantomtech/mirage/internal/history"
	"github.com/phantomtech/mirage/internal/llm"
	"github.com/phantomtech/mirage/internal/memory"
	"github.com/phantomtech/mirage/internal/prompts"
	"github.com/phantomtech/mirage/internal/tools"
)

// maxIterations bounds the model/tool round trips for one request.
// Each tool execution costs one iteration; a request that has not
// produced a user-visible reply by then gets the fallback message.
const maxIterations = 10

// Runtime drives conversations: it owns the model client, the tool
// registry, and the persistence of turns. One Runtime serves all
// conversations; per-request state lives on the stack.
type Runtime struct {
	logger     *slog.Logger
	store      *memory.Store
	artifacts  *artifact.Store
	client     llm.Client
	registry   *tools.Registry
	reconciler *history.Reconciler
	bus        *events.Bus
	brandName  string
	maxTurns   int
}

// Options configures a Runtime.
type Options struct {
	Store     *memory.Store
	Artifacts *artifact.Store
	Client    llm.Client
	Registry  *tools.Registry
	Bus       *events.Bus
	BrandName string
	// MaxTurns bounds the context window; zero means the default.
	MaxTurns int
	Logger   *slog.Logger
}

// NewRuntime creates the assistant runtime.
func NewRuntime(opts Options) *Runtime {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		logger:     logger,
		store:      opts.Store,
		artifacts:  opts.Artifacts,
		client:     opts.Client,
		registry:   opts.Registry,
		reconciler: history.NewReconciler(logger),
		bus:        opts.Bus,
		brandName:  opts.BrandName,
		maxTurns:   opts.MaxTurns,
	}
}

// State rebuilds the display transcript for a conversation: the turn
// log reconciled with the conversation's stored images.
func (r *Runtime) State(ctx context.Context, conversationID string) ([]history.Entry, error) {
	turns, err := r.store.GetTurns(conversationID)
	if err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}
	images, err := r.artifacts.ListForConversation(conversationID)
	if err != nil {
		return nil, fmt.Errorf("load images: %w", err)
	}
	return r.reconciler.Reconcile(turns, images), nil
}

// Invoke processes one text-only user message. See [Runtime.InvokeWith].
func (r *Runtime) Invoke(ctx context.Context, conversationID, userText string) (string, error) {
	return r.InvokeWith(ctx, conversationID, userText, nil)
}

// InvokeWith processes one user message, optionally carrying uploaded
// images, and returns the assistant's reply text. Every model and tool
// step is persisted before the reply is returned, so a crash
// mid-request loses at most the in-flight step.
func (r *Runtime) InvokeWith(ctx context.Context, conversationID, userText string, attachments []llm.Attachment) (string, error) {
	start := time.Now()
	ctx = tools.WithConversationID(ctx, conversationID)

	r.bus.Publish(events.Event{
		Timestamp: start,
		Source:    events.SourceAgent,
		Kind:      events.KindRequestStart,
		Data: map[string]any{
			"conversation_id": conversationID,
			"message_len":     len(userText),
			"attachments":     len(attachments),
		},
	})

	userTurn := history.Turn{Role: history.RoleUser, Text: userText}
	if len(attachments) > 0 {
		userTurn.Parts = append(userTurn.Parts, history.Part{Type: history.PartText, Text: userText})
		for _, att := range attachments {
			userTurn.Parts = append(userTurn.Parts, history.Part{
				Type:     history.PartImage,
				Data:     att.Data,
				MimeType: att.MimeType,
			})
		}
	}
	if err := r.store.AppendTurn(conversationID, userTurn); err != nil {
		return "", fmt.Errorf("persist user turn: %w", err)
	}

	turns, err := r.store.GetTurns(conversationID)
	if err != nil {
		return "", fmt.Errorf("load turns: %w", err)
	}

	instruction := history.Turn{
		Role: history.RoleSystem,
		Text: prompts.SystemPrompt(r.brandName),
	}
	messages := toMessages(history.Trim(turns, instruction, r.maxTurns))
	defs := r.registry.Definitions()

	nudged := false
	iterations := 0
	for iterations < maxIterations {
		iterations++

		r.bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceAgent,
			Kind:      events.KindLLMCall,
			Data:      map[string]any{"conversation_id": conversationID, "iter": iterations},
		})

		resp, err := r.client.Chat(ctx, messages, defs)
		if err != nil {
			return "", fmt.Errorf("model call: %w", err)
		}

		r.bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceAgent,
			Kind:      events.KindLLMResponse,
			Data: map[string]any{
				"conversation_id": conversationID,
				"iter":            iterations,
				"model":           resp.Model,
				"tool_calls":      len(resp.Message.ToolCalls),
				"input_tokens":    resp.InputTokens,
				"output_tokens":   resp.OutputTokens,
			},
		})

		if len(resp.Message.ToolCalls) > 0 {
			messages = append(messages, resp.Message)
			if err := r.store.AppendTurn(conversationID, assistantTurn(resp.Message)); err != nil {
				return "", fmt.Errorf("persist assistant turn: %w", err)
			}

			for _, call := range resp.Message.ToolCalls {
				result := r.executeTool(ctx, call)
				toolMsg := llm.Message{
					Role:       history.RoleTool,
					Content:    result,
					ToolCallID: call.ID,
				}
				messages = append(messages, toolMsg)
				if err := r.store.AppendTurn(conversationID, history.Turn{
					Role:       history.RoleTool,
					Text:       result,
					ToolCallID: call.ID,
				}); err != nil {
					return "", fmt.Errorf("persist tool turn: %w", err)
				}
			}
			continue
		}

		content := strings.TrimSpace(resp.Message.Content)
		if content != "" {
			if err := r.store.AppendTurn(conversationID, history.Turn{
				Role: history.RoleAssistant,
				Text: content,
			}); err != nil {
				return "", fmt.Errorf("persist assistant turn: %w", err)
			}
			r.publishComplete(conversationID, iterations, start)
			return content, nil
		}

		// Empty reply with no tool calls. Nudge the model once; a
		// second empty reply falls through to the canned fallback.
		if nudged {
			break
		}
		nudged = true
		r.logger.Warn("empty model response, nudging", "conversation", conversationID)
		messages = append(messages, llm.Message{
			Role:    history.RoleUser,
			Content: prompts.EmptyResponseNudge,
		})
	}

	r.logger.Warn("request ended without model reply",
		"conversation", conversationID, "iterations", iterations)
	if err := r.store.AppendTurn(conversationID, history.Turn{
		Role: history.RoleAssistant,
		Text: prompts.EmptyResponseFallback,
	}); err != nil {
		return "", fmt.Errorf("persist fallback turn: %w", err)
	}
	r.publishComplete(conversationID, iterations, start)
	return prompts.EmptyResponseFallback, nil
}

// executeTool runs one tool call. Failures become tool-result text so
// the model can explain the problem or try a different approach; only
// persistence failures abort the request.
func (r *Runtime) executeTool(ctx context.Context, call llm.ToolCall) string {
	result, err := r.registry.Execute(ctx, call.Name, call.Arguments)
	if err != nil {
		r.logger.Warn("tool execution failed", "tool", call.Name, "error", err)
		return fmt.Sprintf("工具执行失败：%v", err)
	}
	return result
}

func (r *Runtime) publishComplete(conversationID string, iterations int, start time.Time) {
	r.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAgent,
		Kind:      events.KindRequestComplete,
		Data: map[string]any{
			"conversation_id": conversationID,
			"iterations":      iterations,
			"elapsed_ms":      time.Since(start).Milliseconds(),
		},
	})
}

// toMessages converts persisted turns into the model wire form.
func toMessages(turns []history.Turn) []llm.Message {
	messages := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		msg := llm.Message{
			Role:       t.Role,
			Content:    t.FlattenText(),
			ToolCallID: t.ToolCallID,
		}
		for _, p := range t.Parts {
			if p.Type == history.PartImage && p.Data != "" {
				msg.Attachments = append(msg.Attachments, llm.Attachment{
					Data:     p.Data,
					MimeType: p.MimeType,
				})
			}
		}
		for _, tc := range t.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
				ID:        tc.ID,
				Name:      tc.Name,
				Arguments: tc.Arguments,
			})
		}
		messages = append(messages, msg)
	}
	return messages
}

// assistantTurn records a model message that requested tool calls.
func assistantTurn(msg llm.Message) history.Turn {
	turn := history.Turn{
		Role: history.RoleAssistant,
		Text: msg.Content,
	}
	for _, tc := range msg.ToolCalls {
		turn.ToolCalls = append(turn.ToolCalls, history.ToolCall{
			ID:        tc.ID,
			Name:      tc.Name,
			Arguments: tc.Arguments,
		})
	}
	return turn
}
