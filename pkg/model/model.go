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

// Package model defines the generative provider contract used by the
// capture classifier and the maintenance insight extractor.
package model

import (
	"context"
)

// Provider identifies the generative backend.
type Provider string

const (
	// ProviderOllama serves local models over the Ollama API.
	ProviderOllama Provider = "ollama"

	// ProviderOpenAI serves OpenAI-compatible chat completion endpoints,
	// including local servers that mimic the surface.
	ProviderOpenAI Provider = "openai"
)

// Request is one non-streaming generation call.
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Generator produces a completion for a prompt. The classifier expects
// JSON in the completion text and tolerates markdown fencing around it.
type Generator interface {
	// Name returns the model identifier.
	Name() string

	// Provider returns the backend type.
	Provider() Provider

	// Generate produces one completion.
	Generate(ctx context.Context, req *Request) (string, error)

	// IsAvailable reports whether the backend currently answers.
	IsAvailable(ctx context.Context) bool

	// Close releases any resources held by the generator.
	Close() error
}
