package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/phantomtech/mirage/internal/httpkit"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiClient is a client for the Gemini generateContent API. The same
// client serves chat completion and image generation; which model is
// called depends on the configured model names.
type GeminiClient struct {
	apiKey     string
	baseURL    string
	chatModel  string
	imageModel string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(apiKey, chatModel, imageModel string, logger *slog.Logger) *GeminiClient {
	// Generation can take a long while before headers arrive, so the
	// transport gets a generous response header timeout and the client
	// relies on ctx deadlines instead of a global timeout.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &GeminiClient{
		apiKey:     apiKey,
		baseURL:    defaultGeminiBaseURL,
		chatModel:  chatModel,
		imageModel: imageModel,
		logger:     nopLogger(logger).With("provider", "gemini"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
	}
}

// WithBaseURL points the client at an alternate endpoint. Used by tests.
func (c *GeminiClient) WithBaseURL(u string) *GeminiClient {
	c.baseURL = strings.TrimRight(u, "/")
	return c
}

// Gemini request/response types

type geminiRequest struct {
	SystemInstruction *geminiContent   `json:"system_instruction,omitempty"`
	Contents          []geminiContent  `json:"contents"`
	Tools             []geminiToolList `json:"tools,omitempty"`
	GenerationConfig  *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string              `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResp `json:"functionResponse,omitempty"`
	InlineData       *geminiInlineData   `json:"inlineData,omitempty"`
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type geminiFunctionResp struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiToolList struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations"`
}

type geminiFunctionDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiGenConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// Chat sends a chat completion request with optional tool declarations.
func (c *GeminiClient) Chat(ctx context.Context, messages []Message, tools []ToolDefinition) (*ChatResponse, error) {
	contents, system := convertToGemini(messages)

	req := geminiRequest{
		Contents: contents,
	}
	if system != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}
	if decls := convertToolsToGemini(tools); len(decls) > 0 {
		req.Tools = []geminiToolList{{FunctionDeclarations: decls}}
	}

	c.logger.Debug("preparing request",
		"model", c.chatModel,
		"contents", len(contents),
		"tools", len(tools),
		"system_len", len(system),
	)

	resp, err := c.generate(ctx, c.chatModel, req)
	if err != nil {
		return nil, err
	}

	result := convertFromGemini(c.chatModel, resp)
	c.logger.Debug("response received",
		"model", result.Model,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"tool_calls", len(result.Message.ToolCalls),
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", result.Message.Content)

	return result, nil
}

// GenerateImage asks the image model for an illustration. The response
// must carry inline image data; text-only responses are an error
// because the prompt was refused or misunderstood.
func (c *GeminiClient) GenerateImage(ctx context.Context, prompt string) (*ImageResult, error) {
	req := geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: prompt}},
		}},
		GenerationConfig: &geminiGenConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
		},
	}

	resp, err := c.generate(ctx, c.imageModel, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini returned no candidates")
	}

	var result ImageResult
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.InlineData != nil && result.Data == "" {
			result.Data = part.InlineData.Data
			result.MimeType = part.InlineData.MimeType
		}
		if part.Text != "" {
			result.Text += part.Text
		}
	}
	if result.Data == "" {
		return nil, fmt.Errorf("gemini returned no image data: %s", result.Text)
	}
	if result.MimeType == "" {
		result.MimeType = "image/png"
	}

	c.logger.Debug("image generated",
		"model", c.imageModel,
		"mime_type", result.MimeType,
		"data_len", len(result.Data),
	)
	return &result, nil
}

// Ping verifies the API key against the models endpoint.
func (c *GeminiClient) Ping(ctx context.Context) error {
	url := fmt.Sprintf("%s/models/%s", c.baseURL, c.chatModel)
	httpReq, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("invalid API key")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status from Gemini API: %d", resp.StatusCode)
	}
	return nil
}

func (c *GeminiClient) generate(ctx context.Context, model string, req geminiRequest) (*geminiResponse, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(jsonData))

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return nil, fmt.Errorf("gemini API error %d: %s", resp.StatusCode, errBody)
	}

	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// convertToGemini converts internal messages to Gemini contents,
// extracting system messages into a separate instruction.
func convertToGemini(messages []Message) ([]geminiContent, string) {
	var systemParts []string
	var result []geminiContent

	for _, msg := range messages {
		switch msg.Role {
		case "system":
			systemParts = append(systemParts, msg.Content)

		case "assistant":
			var parts []geminiPart
			if msg.Content != "" {
				parts = append(parts, geminiPart{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, geminiPart{FunctionCall: &geminiFunctionCall{
					Name: tc.Name,
					Args: tc.Arguments,
				}})
			}
			if len(parts) == 0 {
				continue
			}
			result = append(result, geminiContent{Role: "model", Parts: parts})

		case "tool":
			// Gemini carries tool results as functionResponse parts in a
			// user-role content, matched to the call by function name.
			result = append(result, geminiContent{
				Role: "user",
				Parts: []geminiPart{{FunctionResponse: &geminiFunctionResp{
					Name:     toolNameFromCallID(msg.ToolCallID),
					Response: map[string]any{"content": msg.Content},
				}}},
			})

		case "user":
			var parts []geminiPart
			if msg.Content != "" || len(msg.Attachments) == 0 {
				parts = append(parts, geminiPart{Text: msg.Content})
			}
			for _, att := range msg.Attachments {
				parts = append(parts, geminiPart{InlineData: &geminiInlineData{
					MimeType: att.MimeType,
					Data:     att.Data,
				}})
			}
			result = append(result, geminiContent{Role: "user", Parts: parts})
		}
	}

	return result, strings.Join(systemParts, "\n\n")
}

func convertToolsToGemini(tools []ToolDefinition) []geminiFunctionDecl {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]geminiFunctionDecl, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, geminiFunctionDecl{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return decls
}

// toolNameFromCallID recovers the function name from the synthetic ids
// minted by convertFromGemini ("call_<name>_<index>"). Unrecognized ids
// pass through unchanged.
func toolNameFromCallID(id string) string {
	if !strings.HasPrefix(id, "call_") {
		return id
	}
	rest := strings.TrimPrefix(id, "call_")
	if i := strings.LastIndex(rest, "_"); i > 0 {
		return rest[:i]
	}
	return rest
}

// convertFromGemini normalizes a Gemini response. Function calls get
// synthetic ids derived from their position so tool results can be
// threaded back.
func convertFromGemini(model string, resp *geminiResponse) *ChatResponse {
	out := &ChatResponse{
		Model: model,
		Message: Message{
			Role: "assistant",
		},
		InputTokens:  resp.UsageMetadata.PromptTokenCount,
		OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
	}
	if len(resp.Candidates) == 0 {
		return out
	}

	for i, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			out.Message.Content += part.Text
		}
		if part.FunctionCall != nil {
			args := part.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			out.Message.ToolCalls = append(out.Message.ToolCalls, ToolCall{
				ID:        fmt.Sprintf("call_%s_%d", part.FunctionCall.Name, i),
				Name:      part.FunctionCall.Name,
				Arguments: args,
			})
		}
	}
	return out
}
