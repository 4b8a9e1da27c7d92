package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *GeminiClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGeminiClient("test-key", "chat-model", "image-model", nil).WithBaseURL(srv.URL)
}

func TestChatRequestMapping(t *testing.T) {
	var captured geminiRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/models/chat-model:generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("x-goog-api-key"); got != "test-key" {
			t.Errorf("api key header = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"role":  "model",
					"parts": []map[string]any{{"text": "你好"}},
				},
			}},
			"usageMetadata": map[string]any{"promptTokenCount": 10, "candidatesTokenCount": 3},
		})
	})

	messages := []Message{
		{Role: "system", Content: "你是幻影科技的员工助手。"},
		{Role: "user", Content: "你好"},
		{Role: "assistant", Content: "", ToolCalls: []ToolCall{{
			ID:        "call_web_search_0",
			Name:      "web_search",
			Arguments: map[string]any{"query": "年假"},
		}}},
		{Role: "tool", Content: "search results", ToolCallID: "call_web_search_0"},
	}
	tools := []ToolDefinition{{
		Name:        "web_search",
		Description: "搜索网络",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"query": map[string]any{"type": "string"}},
		},
	}}

	resp, err := client.Chat(context.Background(), messages, tools)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if captured.SystemInstruction == nil || captured.SystemInstruction.Parts[0].Text != "你是幻影科技的员工助手。" {
		t.Errorf("system instruction not extracted: %+v", captured.SystemInstruction)
	}
	if len(captured.Contents) != 3 {
		t.Fatalf("got %d contents, want 3 (system extracted)", len(captured.Contents))
	}
	if captured.Contents[1].Role != "model" || captured.Contents[1].Parts[0].FunctionCall == nil {
		t.Errorf("assistant tool call not mapped: %+v", captured.Contents[1])
	}
	fr := captured.Contents[2].Parts[0].FunctionResponse
	if fr == nil || fr.Name != "web_search" {
		t.Errorf("tool result not mapped to function name: %+v", fr)
	}
	if len(captured.Tools) != 1 || captured.Tools[0].FunctionDeclarations[0].Name != "web_search" {
		t.Errorf("tool declarations not mapped: %+v", captured.Tools)
	}

	if resp.Message.Content != "你好" {
		t.Errorf("content = %q", resp.Message.Content)
	}
	if resp.InputTokens != 10 || resp.OutputTokens != 3 {
		t.Errorf("tokens = %d/%d, want 10/3", resp.InputTokens, resp.OutputTokens)
	}
}

func TestChatUserAttachmentMapping(t *testing.T) {
	var captured geminiRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"role":  "model",
					"parts": []map[string]any{{"text": "这是一只猫。"}},
				},
			}},
		})
	})

	messages := []Message{{
		Role:    "user",
		Content: "这张图片里是什么？",
		Attachments: []Attachment{{
			Data:     "aGVsbG8=",
			MimeType: "image/png",
		}},
	}}
	if _, err := client.Chat(context.Background(), messages, nil); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if len(captured.Contents) != 1 {
		t.Fatalf("got %d contents, want 1", len(captured.Contents))
	}
	parts := captured.Contents[0].Parts
	if len(parts) != 2 {
		t.Fatalf("got %d parts, want text + inline data", len(parts))
	}
	if parts[0].Text != "这张图片里是什么？" {
		t.Errorf("text part = %q", parts[0].Text)
	}
	if parts[1].InlineData == nil || parts[1].InlineData.MimeType != "image/png" || parts[1].InlineData.Data != "aGVsbG8=" {
		t.Errorf("inline data part = %+v", parts[1].InlineData)
	}
}

func TestChatFunctionCallResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"role": "model",
					"parts": []map[string]any{{
						"functionCall": map[string]any{
							"name": "generate_illustration",
							"args": map[string]any{"prompt": "一只猫"},
						},
					}},
				},
			}},
		})
	})

	resp, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "画一只猫"}}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(resp.Message.ToolCalls))
	}
	tc := resp.Message.ToolCalls[0]
	if tc.Name != "generate_illustration" {
		t.Errorf("name = %q", tc.Name)
	}
	if tc.Arguments["prompt"] != "一只猫" {
		t.Errorf("arguments = %+v", tc.Arguments)
	}
	if tc.ID == "" {
		t.Error("expected synthetic tool call id")
	}
}

func TestChatAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"quota exceeded"}}`, http.StatusTooManyRequests)
	})

	_, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("error should carry status: %v", err)
	}
}

func TestGenerateImage(t *testing.T) {
	var captured geminiRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/models/image-model:generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"role": "model",
					"parts": []map[string]any{
						{"text": "Here you go"},
						{"inlineData": map[string]any{"mimeType": "image/png", "data": "aGVsbG8="}},
					},
				},
			}},
		})
	})

	img, err := client.GenerateImage(context.Background(), "一只猫在草地上")
	if err != nil {
		t.Fatalf("GenerateImage: %v", err)
	}
	if img.Data != "aGVsbG8=" || img.MimeType != "image/png" {
		t.Errorf("image = %+v", img)
	}
	if img.Text != "Here you go" {
		t.Errorf("text = %q", img.Text)
	}

	if captured.GenerationConfig == nil {
		t.Fatal("generation config missing")
	}
	mods := captured.GenerationConfig.ResponseModalities
	if len(mods) != 2 || mods[0] != "TEXT" || mods[1] != "IMAGE" {
		t.Errorf("response modalities = %v", mods)
	}
}

func TestGenerateImageNoData(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"role":  "model",
					"parts": []map[string]any{{"text": "I cannot draw that"}},
				},
			}},
		})
	})

	_, err := client.GenerateImage(context.Background(), "something")
	if err == nil {
		t.Fatal("expected error when no inline data returned")
	}
	if !strings.Contains(err.Error(), "no image data") {
		t.Errorf("error = %v", err)
	}
}

func TestToolNameFromCallID(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"call_web_search_0", "web_search"},
		{"call_generate_illustration_2", "generate_illustration"},
		{"custom-id", "custom-id"},
		{"call_x", "x"},
	}
	for _, tt := range tests {
		if got := toolNameFromCallID(tt.id); got != tt.want {
			t.Errorf("toolNameFromCallID(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}
