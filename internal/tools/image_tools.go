package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/phantomtech/mirage/internal/events"
)

func (r *Registry) registerImage() {
	if r.deps.Images == nil || r.deps.Artifacts == nil {
		return
	}

	r.Register(&Tool{
		Name:        "generate_illustration",
		Description: "根据文字描述生成一张插图。生成的图片会自动展示给用户，你不需要也不能自己编写图片标签。",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"prompt": map[string]any{
					"type":        "string",
					"description": "图片的详细文字描述，用英文效果更好",
				},
			},
			"required": []string{"prompt"},
		},
		Handler: r.handleGenerateIllustration,
	})
}

func (r *Registry) handleGenerateIllustration(ctx context.Context, args map[string]any) (string, error) {
	prompt, _ := args["prompt"].(string)
	if prompt == "" {
		return "", fmt.Errorf("generate_illustration: prompt is required")
	}

	result, err := r.deps.Images.GenerateImage(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generate_illustration: %w", err)
	}

	convID := ConversationIDFromContext(ctx)
	img, err := r.deps.Artifacts.Append(convID, prompt, result.Data, result.MimeType)
	if err != nil {
		return "", fmt.Errorf("generate_illustration: store image: %w", err)
	}

	// The live render path picks the image up from the handoff buffer;
	// the token embedded below lets cold-load reconciliation attach it
	// to this exact turn later.
	if r.deps.Handoff != nil {
		r.deps.Handoff.Add(img)
	}

	r.deps.Bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceTool,
		Kind:      events.KindImageGenerated,
		Data: map[string]any{
			"conversation_id": convID,
			"image_id":        img.ID,
			"prompt":          prompt,
		},
	})

	return fmt.Sprintf("✅ 图片已成功生成！（提示词：%s）[[image:%d]]", prompt, img.ID), nil
}
