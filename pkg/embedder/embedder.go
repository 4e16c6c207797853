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

// Package embedder defines the embedding service contract used by the
// query pipeline, the vector index, and the maintenance pattern detector.
package embedder

import (
	"context"
)

// Result carries one embedding with its provenance.
type Result struct {
	Vector []float32
	Model  string
	Tokens int
}

// Embedder produces vector embeddings from text. Implementations are
// pluggable; callers must not assume a specific dimensionality beyond
// what Dimension reports.
type Embedder interface {
	// IsAvailable reports whether the provider currently answers.
	// Callers degrade to lexical-only retrieval when it does not.
	IsAvailable(ctx context.Context) bool

	// Embed converts text to a vector embedding.
	Embed(ctx context.Context, text string) (Result, error)

	// EmbedBatch converts multiple texts in one pass.
	EmbedBatch(ctx context.Context, texts []string) ([]Result, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// Model returns the model name being used.
	Model() string

	// Close releases any resources held by the embedder.
	Close() error
}
