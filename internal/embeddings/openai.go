// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package embeddings

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
)

// OpenAIClient uses the official OpenAI SDK
type OpenAIClient struct {
	client     openai.Client
	model      string
	dimensions int
}

// Compile-time check that OpenAIClient implements Client.
var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient creates a client; an empty baseURL uses the public API
func NewOpenAIClient(apiKey, baseURL, model string, dimensions int) *OpenAIClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIClient{
		client:     openai.NewClient(opts...),
		model:      model,
		dimensions: dimensions,
	}
}

func (c *OpenAIClient) params(input openai.EmbeddingNewParamsInputUnion) openai.EmbeddingNewParams {
	p := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(c.model),
		Input: input,
	}
	if c.dimensions > 0 {
		p.Dimensions = param.NewOpt(int64(c.dimensions))
	}
	return p
}

// Embed returns the embedding vector for the given text
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.client.Embeddings.New(ctx, c.params(openai.EmbeddingNewParamsInputUnion{
		OfString: param.NewOpt(text),
	}))
	if err != nil {
		return nil, fmt.Errorf("openai embedding failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai returned empty embedding data")
	}
	return toFloat32(resp.Data[0].Embedding), nil
}

// EmbedBatch returns embedding vectors for multiple texts
func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := c.client.Embeddings.New(ctx, c.params(openai.EmbeddingNewParamsInputUnion{
		OfArrayOfStrings: texts,
	}))
	if err != nil {
		return nil, fmt.Errorf("openai batch embedding failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings, expected %d", len(resp.Data), len(texts))
	}

	result := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if int(data.Index) < len(result) {
			result[data.Index] = toFloat32(data.Embedding)
		}
	}
	return result, nil
}

// GetModelInfo returns information about the embedding model
func (c *OpenAIClient) GetModelInfo() ModelInfo {
	dims := c.dimensions
	if dims == 0 {
		switch c.model {
		case string(openai.EmbeddingModelTextEmbedding3Large):
			dims = 3072
		default:
			dims = 1536
		}
	}
	return ModelInfo{Name: c.model, Dimensions: dims, Provider: "openai"}
}

// toFloat32 converts the SDK's float64 vectors for compact storage
func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
