package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/engramhq/engram/errors"
)

const (
	NomicTextModel     = "nomic-embed-text-v1.5"
	NomicTextDimension = 768
)

// NomicEmbedder calls the Atlas text embedding endpoint. Memory content and
// queries go through the same instance so the vector space stays consistent.
type NomicEmbedder struct {
	client   *http.Client
	endpoint string
	apiKey   string
}

func NewNomicEmbedder(apiKey, endpoint string) *NomicEmbedder {
	return &NomicEmbedder{
		client:   http.DefaultClient,
		endpoint: endpoint,
		apiKey:   apiKey,
	}
}

func (e *NomicEmbedder) Dimension() int {
	return NomicTextDimension
}

func (e *NomicEmbedder) Embed(ctx context.Context, texts ...string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var requestBody bytes.Buffer
	if err := json.NewEncoder(&requestBody).Encode(struct {
		TaskType string   `json:"task_type"`
		Model    string   `json:"model"`
		Texts    []string `json:"texts"`
	}{
		TaskType: "search_document",
		Model:    NomicTextModel,
		Texts:    texts,
	}); err != nil {
		return nil, errors.Wrapf(err, "failed to encode request body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, &requestBody)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create request")
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, errors.Errorf("embedding endpoint returned HTTP %d - %s", resp.StatusCode, string(body))
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, errors.Wrapf(err, "failed to decode response")
	}

	if len(response.Embeddings) != len(texts) {
		return nil, errors.Errorf("embedding count mismatch: got %d, expected %d", len(response.Embeddings), len(texts))
	}

	return response.Embeddings, nil
}

var _ Embedder = (*NomicEmbedder)(nil)
