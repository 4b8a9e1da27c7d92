package retrieval

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

// keywordEmbedder produces deterministic vectors: one dimension per
// known keyword, set when the text mentions it.
type keywordEmbedder struct {
	keywords []string
}

func (e *keywordEmbedder) Embed(_ context.Context, text string, _ bool) ([]float32, error) {
	vec := make([]float32, len(e.keywords))
	for i, kw := range e.keywords {
		if strings.Contains(text, kw) {
			vec[i] = 1
		}
	}
	return vec, nil
}

func newTestIndex(t *testing.T) *Index {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "retrieval.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	idx, err := NewIndex(db, &keywordEmbedder{keywords: []string{"年假", "报销", "考勤"}}, slog.Default())
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	return idx
}

const samplePolicy = `# 员工手册

欢迎加入公司。

## 年假制度

员工每年享有带薪年假，工龄满一年5天。

## 报销流程

差旅费用需在出差结束后两周内提交报销单。

## 考勤规定

工作时间为每日九点至十八点。
`

func TestIngestAndSearch(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	n, err := idx.Ingest(ctx, "handbook.md", samplePolicy)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if n != 4 {
		t.Errorf("ingested %d chunks, want 4", n)
	}

	results, err := idx.Search(ctx, "年假有几天", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Heading != "年假制度" {
		t.Errorf("top result = %q, want 年假制度", results[0].Heading)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("results not ordered by score: %f then %f", results[0].Score, results[1].Score)
	}
}

func TestSearchDefaultTopK(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	if _, err := idx.Ingest(ctx, "handbook.md", samplePolicy); err != nil {
		t.Fatal(err)
	}

	results, err := idx.Search(ctx, "报销", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != DefaultTopK {
		t.Errorf("got %d results, want %d", len(results), DefaultTopK)
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	idx := newTestIndex(t)

	results, err := idx.Search(context.Background(), "anything", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results != nil {
		t.Errorf("expected nil results from empty index, got %v", results)
	}
}

func TestReingestReplacesSource(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	if _, err := idx.Ingest(ctx, "handbook.md", samplePolicy); err != nil {
		t.Fatal(err)
	}
	if _, err := idx.Ingest(ctx, "handbook.md", "# 年假制度\n\n更新后的年假规定。"); err != nil {
		t.Fatal(err)
	}

	n, err := idx.Count()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("chunks after re-ingest = %d, want 1", n)
	}
}

func TestSplitMarkdown(t *testing.T) {
	chunks := SplitMarkdown(samplePolicy)
	if len(chunks) != 4 {
		t.Fatalf("got %d chunks, want 4", len(chunks))
	}
	if chunks[0].Heading != "员工手册" {
		t.Errorf("chunk 0 heading = %q", chunks[0].Heading)
	}
	if !strings.Contains(chunks[1].Content, "带薪年假") {
		t.Errorf("chunk 1 content = %q", chunks[1].Content)
	}
}

func TestSplitMarkdownPreamble(t *testing.T) {
	chunks := SplitMarkdown("引言文字。\n\n# 第一章\n\n内容。")
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0].Heading != "" || !strings.Contains(chunks[0].Content, "引言") {
		t.Errorf("preamble chunk = %+v", chunks[0])
	}
}

func TestSplitMarkdownEmpty(t *testing.T) {
	if chunks := SplitMarkdown("\n\n  \n"); len(chunks) != 0 {
		t.Errorf("expected no chunks, got %d", len(chunks))
	}
}

func TestVectorRoundTrip(t *testing.T) {
	vec := []float32{0.5, -1.25, 3}
	got, err := decodeVector(encodeVector(vec))
	if err != nil {
		t.Fatalf("decodeVector: %v", err)
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("dim %d = %f, want %f", i, got[i], vec[i])
		}
	}
}

func TestDecodeVectorMalformed(t *testing.T) {
	if _, err := decodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for blob length not divisible by 4")
	}
}

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{1, 0}
	if got := CosineSimilarity(a, b); got < 0.999 {
		t.Errorf("identical vectors = %f, want ~1", got)
	}
	if got := CosineSimilarity(a, []float32{0, 1}); got != 0 {
		t.Errorf("orthogonal vectors = %f, want 0", got)
	}
	if got := CosineSimilarity(a, []float32{0, 0}); got != 0 {
		t.Errorf("zero vector = %f, want 0", got)
	}
	if got := CosineSimilarity(a, []float32{1}); got != 0 {
		t.Errorf("length mismatch = %f, want 0", got)
	}
}
