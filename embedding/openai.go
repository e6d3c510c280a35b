package embedding

import (
	"context"

	goopenai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/engramhq/engram/errors"
)

// Known dimensions for the OpenAI embedding models we support. Models not
// listed here need an explicit dimension from the caller.
var openaiDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

type OpenAIEmbedder struct {
	client    *goopenai.Client
	model     string
	dimension int
}

func NewOpenAIEmbedder(apiKey, model string) (*OpenAIEmbedder, error) {
	dim, ok := openaiDimensions[model]
	if !ok {
		return nil, errors.Wrapf(errors.ErrInvalidConfig, "unknown embedding model %q", model)
	}
	client := goopenai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIEmbedder{
		client:    &client,
		model:     model,
		dimension: dim,
	}, nil
}

func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts ...string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var input goopenai.EmbeddingNewParamsInputUnion
	input.OfArrayOfStrings = append(input.OfArrayOfStrings, texts...)

	resp, err := e.client.Embeddings.New(ctx, goopenai.EmbeddingNewParams{
		Input:          input,
		Model:          e.model,
		EncodingFormat: goopenai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create embeddings")
	}

	if len(resp.Data) != len(texts) {
		return nil, errors.Errorf("embedding count mismatch: got %d, expected %d", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, emb := range resp.Data {
		vec := make([]float32, len(emb.Embedding))
		for j, v := range emb.Embedding {
			vec[j] = float32(v)
		}
		vectors[i] = vec
	}
	return vectors, nil
}

var _ Embedder = (*OpenAIEmbedder)(nil)
