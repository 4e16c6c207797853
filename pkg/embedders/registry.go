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

// Package embedders provides embedding provider implementations and
// their registry.
package embedders

import (
	"fmt"

	"github.com/kadirpekel/engram/pkg/config"
	"github.com/kadirpekel/engram/pkg/embedder"
	"github.com/kadirpekel/engram/pkg/registry"
)

// Registry holds named embedding providers.
type Registry struct {
	*registry.BaseRegistry[embedder.Embedder]
}

func NewRegistry() *Registry {
	return &Registry{
		BaseRegistry: registry.NewBaseRegistry[embedder.Embedder](),
	}
}

func (r *Registry) RegisterEmbedder(name string, provider embedder.Embedder) error {
	if name == "" {
		return fmt.Errorf("embedder name cannot be empty")
	}
	if provider == nil {
		return fmt.Errorf("embedder provider cannot be nil")
	}
	return r.Register(name, provider)
}

// CreateFromConfig builds the provider described by cfg and registers it
// under name.
func (r *Registry) CreateFromConfig(name string, cfg config.EmbedderConfig) (embedder.Embedder, error) {
	if name == "" {
		return nil, fmt.Errorf("embedder name cannot be empty")
	}

	var provider embedder.Embedder
	switch cfg.Provider {
	case "ollama":
		provider = NewOllamaEmbedder(cfg)
	case "openai":
		provider = NewOpenAIEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unsupported embedder type: %s", cfg.Provider)
	}

	if err := r.RegisterEmbedder(name, provider); err != nil {
		return nil, fmt.Errorf("failed to register embedder: %w", err)
	}
	return provider, nil
}

// GetEmbedder returns a registered provider by name.
func (r *Registry) GetEmbedder(name string) (embedder.Embedder, error) {
	provider, exists := r.Get(name)
	if !exists {
		return nil, fmt.Errorf("embedder provider '%s' not found", name)
	}
	return provider, nil
}

// approxTokens estimates a token count for providers that do not report
// usage. Four bytes per token is close enough for budgeting.
func approxTokens(text string) int {
	return (len(text) + 3) / 4
}
