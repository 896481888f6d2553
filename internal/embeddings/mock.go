// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package embeddings

import (
	"context"
	"hash/fnv"
	"sync/atomic"

	"github.com/flandriendev/briven/internal/memory"
)

// MockDimensions is the vector size produced by MockClient by default
const MockDimensions = 64

// MockClient is a deterministic in-process provider for tests and offline use
type MockClient struct {
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)
	Model     string
	calls     atomic.Int64
}

// Compile-time check that MockClient implements Client.
var _ Client = (*MockClient)(nil)

// Embed calls EmbedFunc, or hashes tokens into a bag-of-words vector
func (m *MockClient) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls.Add(1)
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	return BagOfWords(text, MockDimensions), nil
}

// EmbedBatch embeds each text in turn
func (m *MockClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := m.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}
	return vectors, nil
}

// CallCount returns the number of Embed calls so far
func (m *MockClient) CallCount() int {
	return int(m.calls.Load())
}

// GetModelInfo returns mock model info
func (m *MockClient) GetModelInfo() ModelInfo {
	name := m.Model
	if name == "" {
		name = "mock-model"
	}
	return ModelInfo{Name: name, Dimensions: MockDimensions, Provider: "mock"}
}

// BagOfWords hashes normalized tokens into a fixed number of buckets
func BagOfWords(text string, dims int) []float32 {
	v := make([]float32, dims)
	for _, term := range memory.Tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(term))
		v[h.Sum32()%uint32(dims)]++
	}
	return v
}

// KeywordEmbedding returns an EmbedFunc whose vectors count only the given
// concept words, so paraphrases that share concepts embed identically
func KeywordEmbedding(vocab ...string) func(context.Context, string) ([]float32, error) {
	index := make(map[string]int, len(vocab))
	for i, w := range vocab {
		index[w] = i
	}
	return func(_ context.Context, text string) ([]float32, error) {
		v := make([]float32, len(vocab)+1)
		for _, term := range memory.Tokenize(text) {
			if i, ok := index[term]; ok {
				v[i]++
			}
		}
		// Constant component keeps concept-free texts non-zero
		v[len(vocab)] = 0.01
		return v, nil
	}
}
