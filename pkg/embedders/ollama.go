// SPDX-License-Identifier: AGPL-3.0
// Copyright 2026 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package embedders

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/kadirpekel/engram/pkg/config"
	"github.com/kadirpekel/engram/pkg/embedder"
	"github.com/kadirpekel/engram/pkg/ollama"
)

// Serializes Ollama embedding requests. The llama runner crashes with
// SIGABRT when it receives concurrent embedding requests.
var ollamaEmbedMu sync.Mutex

type OllamaEmbedder struct {
	cfg    config.EmbedderConfig
	client *ollama.Client
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func NewOllamaEmbedder(cfg config.EmbedderConfig) *OllamaEmbedder {
	return &OllamaEmbedder{
		cfg:    cfg,
		client: ollama.NewClientWithTimeout(cfg.BaseURL, 30*time.Second),
	}
}

func (e *OllamaEmbedder) IsAvailable(ctx context.Context) bool {
	return e.client.Ping(ctx) == nil
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) (embedder.Result, error) {
	ollamaEmbedMu.Lock()
	defer ollamaEmbedMu.Unlock()

	slog.Debug("Ollama embedding request", "model", e.cfg.Model, "text_length", len(text))

	resp, err := e.client.Post(ctx, "/api/embeddings", ollamaEmbedRequest{
		Model:  e.cfg.Model,
		Prompt: text,
	})
	if err != nil {
		return embedder.Result{}, fmt.Errorf("failed to send request to Ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return embedder.Result{}, fmt.Errorf("ollama API returned status %d: %s", resp.StatusCode, string(body))
	}

	var response ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return embedder.Result{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(response.Embedding) == 0 {
		return embedder.Result{}, fmt.Errorf("received empty embedding from Ollama")
	}

	return embedder.Result{
		Vector: response.Embedding,
		Model:  e.cfg.Model,
		Tokens: approxTokens(text),
	}, nil
}

func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]embedder.Result, error) {
	// The /api/embeddings endpoint takes one prompt at a time.
	results := make([]embedder.Result, 0, len(texts))
	for _, text := range texts {
		res, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (e *OllamaEmbedder) Dimension() int {
	return e.cfg.Dimension
}

func (e *OllamaEmbedder) Model() string {
	return e.cfg.Model
}

func (e *OllamaEmbedder) Close() error {
	return nil
}
