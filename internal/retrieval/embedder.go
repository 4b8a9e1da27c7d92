// Package retrieval answers company policy questions from ingested
// markdown documents. Documents are split into chunks, embedded, and
// stored in SQLite; queries are embedded and matched by cosine
// similarity.
package retrieval

import (
	"context"
	"fmt"
	"math"

	"google.golang.org/genai"
)

// Embedder turns text into a vector. Implemented by GenAIEmbedder in
// production and by fakes in tests.
type Embedder interface {
	Embed(ctx context.Context, text string, query bool) ([]float32, error)
}

// GenAIEmbedder generates embeddings using Google's Gemini API.
type GenAIEmbedder struct {
	client *genai.Client
	model  string
}

// NewGenAIEmbedder creates an embedder for the given model. An empty
// model falls back to gemini-embedding-001.
func NewGenAIEmbedder(ctx context.Context, apiKey, model string) (*GenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("embedding API key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &GenAIEmbedder{client: client, model: model}, nil
}

// Embed generates an embedding. Queries and documents use the matching
// retrieval task types so both sides land in the same vector space.
func (e *GenAIEmbedder) Embed(ctx context.Context, text string, query bool) ([]float32, error) {
	task := "RETRIEVAL_DOCUMENT"
	if query {
		task = "RETRIEVAL_QUERY"
	}

	contents := []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}

	result, err := e.client.Models.EmbedContent(ctx,
		e.model,
		contents,
		&genai.EmbedContentConfig{
			TaskType: task,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("embed failed: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return result.Embeddings[0].Values, nil
}

// CosineSimilarity computes cosine similarity between two vectors.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float32
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}

// topK returns indices of the k vectors most similar to query.
func topK(query []float32, vectors [][]float32, k int) []int {
	type scored struct {
		idx   int
		score float32
	}

	scores := make([]scored, len(vectors))
	for i, v := range vectors {
		scores[i] = scored{idx: i, score: CosineSimilarity(query, v)}
	}

	// Selection sort for the top k, fine for small k.
	for i := 0; i < k && i < len(scores); i++ {
		maxIdx := i
		for j := i + 1; j < len(scores); j++ {
			if scores[j].score > scores[maxIdx].score {
				maxIdx = j
			}
		}
		scores[i], scores[maxIdx] = scores[maxIdx], scores[i]
	}

	result := make([]int, 0, k)
	for i := 0; i < k && i < len(scores); i++ {
		result = append(result, scores[i].idx)
	}
	return result
}
