// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package embeddings

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	ollama "github.com/ollama/ollama/api"
)

// DefaultOllamaURL is used when no endpoint is configured
const DefaultOllamaURL = "http://localhost:11434"

// OllamaClient embeds through a local Ollama server
type OllamaClient struct {
	client *ollama.Client
	model  string
}

// Compile-time check that OllamaClient implements Client.
var _ Client = (*OllamaClient)(nil)

// NewOllamaClient creates an Ollama embedding client
func NewOllamaClient(baseURL, model string) (*OllamaClient, error) {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	hc := &http.Client{
		Timeout: 120 * time.Second,
	}
	return &OllamaClient{client: ollama.NewClient(parsedURL, hc), model: model}, nil
}

// Embed returns the embedding vector for the given text
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.client.Embed(ctx, &ollama.EmbedRequest{
		Model: c.model,
		Input: text,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get embeddings from ollama: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return resp.Embeddings[0], nil
}

// EmbedBatch returns embedding vectors for multiple texts
func (c *OllamaClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := c.client.Embed(ctx, &ollama.EmbedRequest{
		Model: c.model,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get batch embeddings from ollama: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings, expected %d", len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}

// GetModelInfo returns information about the embedding model
func (c *OllamaClient) GetModelInfo() ModelInfo {
	return ModelInfo{Name: c.model, Provider: "ollama"}
}
