package embed

import (
	"context"
	"os"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIEmbedder embeds text through the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

// NewOpenAIEmbedder reads the API key from OPENAI_API_KEY.
func NewOpenAIEmbedder(model string) (Embedder, error) {
	key := os.Getenv("OPENAI_API_KEY")
	cfg := openai.DefaultConfig(key)
	cli := openai.NewClientWithConfig(cfg)
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &OpenAIEmbedder{client: cli, model: model}, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, ErrNotSupported
	}
	return resp.Data[0].Embedding, nil
}
