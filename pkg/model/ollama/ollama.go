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

// Package ollama implements the generative provider over the Ollama API.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kadirpekel/engram/pkg/model"
	"github.com/kadirpekel/engram/pkg/observability"
	ollamaclient "github.com/kadirpekel/engram/pkg/ollama"
)

type Generator struct {
	modelName string
	client    *ollamaclient.Client
}

type generateRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system,omitempty"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func New(baseURL, modelName string) *Generator {
	return &Generator{
		modelName: modelName,
		client:    ollamaclient.NewClientWithTimeout(baseURL, 120*time.Second),
	}
}

func (g *Generator) Name() string {
	return g.modelName
}

func (g *Generator) Provider() model.Provider {
	return model.ProviderOllama
}

func (g *Generator) IsAvailable(ctx context.Context) bool {
	return g.client.Ping(ctx) == nil
}

func (g *Generator) Generate(ctx context.Context, req *model.Request) (text string, err error) {
	start := time.Now()
	defer func() {
		observability.GetGlobalMetrics().RecordLLMCall(ctx, g.modelName, time.Since(start), err)
	}()

	options := map[string]any{}
	if req.Temperature > 0 {
		options["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	resp, err := g.client.Post(ctx, "/api/generate", generateRequest{
		Model:   g.modelName,
		System:  req.System,
		Prompt:  req.Prompt,
		Stream:  false,
		Options: options,
	})
	if err != nil {
		return "", fmt.Errorf("generation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama API returned status %d: %s", resp.StatusCode, string(body))
	}

	var response generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("failed to decode generation response: %w", err)
	}
	return response.Response, nil
}

func (g *Generator) Close() error {
	return nil
}
