// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package embeddings

import (
	"context"
	"fmt"
	"os"

	"github.com/flandriendev/briven/internal/config"
)

// NewClient builds the provider named by cfg. It returns a nil client when
// no provider is configured, which leaves search permanently degraded.
func NewClient(ctx context.Context, cfg config.EmbeddingConfig) (Client, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}

	switch cfg.Provider {
	case config.EmbeddingProviderHTTP:
		return NewHTTPClient(cfg.Endpoint, apiKey, cfg.Model, cfg.Dimensions), nil
	case config.EmbeddingProviderOpenAI:
		if apiKey == "" {
			return nil, fmt.Errorf("API key not found in environment variable %s", cfg.APIKeyEnv)
		}
		return NewOpenAIClient(apiKey, cfg.Endpoint, cfg.Model, cfg.Dimensions), nil
	case config.EmbeddingProviderGoogle:
		if apiKey == "" {
			return nil, fmt.Errorf("API key not found in environment variable %s", cfg.APIKeyEnv)
		}
		return NewGoogleClient(ctx, apiKey, cfg.Endpoint, cfg.Model)
	case config.EmbeddingProviderOllama:
		return NewOllamaClient(cfg.Endpoint, cfg.Model)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}
