package history

import (
	"testing"
)

func TestExtractImageRefs(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		wantIDs  []int64
		wantText string
	}{
		{
			name:     "single token",
			in:       "✅ 图片已成功生成 [[image:42]]",
			wantIDs:  []int64{42},
			wantText: "✅ 图片已成功生成 ",
		},
		{
			name:     "token mid-text",
			in:       "before [[image:7]] after",
			wantIDs:  []int64{7},
			wantText: "before  after",
		},
		{
			name:     "multiple tokens",
			in:       "[[image:1]][[image:2]]",
			wantIDs:  []int64{1, 2},
			wantText: "",
		},
		{
			name:     "no token",
			in:       "plain text",
			wantIDs:  nil,
			wantText: "plain text",
		},
		{
			name:     "non-numeric payload left alone",
			in:       "[[image:cat]]",
			wantIDs:  nil,
			wantText: "[[image:cat]]",
		},
		{
			name:     "unterminated token left alone",
			in:       "[[image:42",
			wantIDs:  nil,
			wantText: "[[image:42",
		},
		{
			name:     "whitespace in payload",
			in:       "[[image: 9 ]]",
			wantIDs:  []int64{9},
			wantText: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids, text := ExtractImageRefs(tt.in)
			if len(ids) != len(tt.wantIDs) {
				t.Fatalf("ids = %v, want %v", ids, tt.wantIDs)
			}
			for i := range ids {
				if ids[i] != tt.wantIDs[i] {
					t.Errorf("ids[%d] = %d, want %d", i, ids[i], tt.wantIDs[i])
				}
			}
			if text != tt.wantText {
				t.Errorf("text = %q, want %q", text, tt.wantText)
			}
		})
	}
}

func TestOverlapScore(t *testing.T) {
	tests := []struct {
		name     string
		prompt   string
		userText string
		min, max float64
	}{
		{
			// 猫 (3 bytes), 草地, 阳光 all qualify; 猫 and 草地 hit.
			name:     "cat on grass",
			prompt:   "猫 草地 阳光",
			userText: "画一只猫在草地上",
			min:      0.66, max: 0.67,
		},
		{
			name:     "no overlap",
			prompt:   "飞船 太空",
			userText: "今天天气怎么样",
			min:      0, max: 0,
		},
		{
			name:     "full overlap english",
			prompt:   "red panda forest",
			userText: "please draw a red panda in a forest",
			min:      1, max: 1,
		},
		{
			name:     "single letters ignored",
			prompt:   "a b cat",
			userText: "a cat please",
			min:      1, max: 1,
		},
		{
			name:     "empty prompt with image keyword",
			prompt:   "",
			userText: "给我一张图片",
			min:      genericKeywordScore, max: genericKeywordScore,
		},
		{
			name:     "empty prompt without keyword",
			prompt:   "",
			userText: "今天开会吗",
			min:      0, max: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := overlapScore(tt.prompt, tt.userText)
			if got < tt.min || got > tt.max {
				t.Errorf("overlapScore = %v, want in [%v, %v]", got, tt.min, tt.max)
			}
		})
	}
}

func TestContainsAny(t *testing.T) {
	if !containsAny("✅ 图片已成功生成", successIndicators) {
		t.Error("success indicator not detected")
	}
	if containsAny("好的", successIndicators) {
		t.Error("plain acknowledgement must not count as success")
	}
	if containsAny("好的", imageKeywords) {
		t.Error("plain acknowledgement must not count as image keyword")
	}
	if !containsAny("Here is your IMAGE", imageKeywords) {
		t.Error("keyword match should be case-insensitive")
	}
}
