package search

import (
	"context"
	"fmt"
)

// ToolHandler returns a function compatible with the tools.Tool Handler
// signature. It wraps the Manager's search method for use as an agent tool.
func ToolHandler(mgr *Manager) func(ctx context.Context, args map[string]any) (string, error) {
	return func(ctx context.Context, args map[string]any) (string, error) {
		query, _ := args["query"].(string)
		if query == "" {
			return "", fmt.Errorf("web_search: query is required")
		}

		opts := Options{}

		if count, ok := args["count"].(float64); ok && count > 0 {
			opts.Count = int(count)
		}
		if lang, ok := args["language"].(string); ok {
			opts.Language = lang
		}

		results, err := mgr.Search(ctx, query, opts)
		if err != nil {
			return "", err
		}

		// The model summarizes results for the user, so plain numbered
		// text works better than raw JSON.
		return FormatResults(results, len(results)), nil
	}
}

// ToolDefinition returns the JSON Schema parameters for the web_search tool.
func ToolDefinition() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query string.",
			},
			"count": map[string]any{
				"type":        "integer",
				"description": "Maximum number of results to return (1-10). Default: 5.",
			},
			"language": map[string]any{
				"type":        "string",
				"description": "Language tag for results (e.g., 'en', 'zh-CN'). Default: zh-CN.",
			},
		},
		"required": []string{"query"},
	}
}
