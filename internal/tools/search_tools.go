package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/phantomtech/mirage/internal/retrieval"
	"github.com/phantomtech/mirage/internal/search"
)

func (r *Registry) registerSearch() {
	if r.deps.Search == nil || !r.deps.Search.Configured() {
		return
	}

	r.Register(&Tool{
		Name:        "web_search",
		Description: "搜索互联网获取最新信息。用于回答公司知识库之外的问题。",
		Parameters:  search.ToolDefinition(),
		Handler:     search.ToolHandler(r.deps.Search),
	})
}

func (r *Registry) registerPolicy() {
	if r.deps.Retrieval == nil {
		return
	}

	r.Register(&Tool{
		Name:        "search_company_policy",
		Description: "检索公司规章制度（请假、报销、考勤等）。回答任何公司制度相关的问题前必须调用。",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "要检索的制度问题，例如 '年假有几天'",
				},
			},
			"required": []string{"query"},
		},
		Handler: r.handlePolicySearch,
	})
}

func (r *Registry) handlePolicySearch(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return "", fmt.Errorf("search_company_policy: query is required")
	}

	chunks, err := r.deps.Retrieval.Search(ctx, query, 0)
	if err != nil {
		return "", err
	}
	return FormatPolicyChunks(chunks), nil
}

// FormatPolicyChunks renders retrieval hits as sectioned text for the
// model to quote from.
func FormatPolicyChunks(chunks []retrieval.Chunk) string {
	if len(chunks) == 0 {
		return "知识库中没有找到相关制度条目。"
	}

	var b strings.Builder
	b.WriteString("相关制度条目：\n")
	for i, ch := range chunks {
		heading := ch.Heading
		if heading == "" {
			heading = ch.Source
		}
		b.WriteString(fmt.Sprintf("%d. %s\n%s\n", i+1, heading, ch.Content))
	}
	return strings.TrimSpace(b.String())
}
