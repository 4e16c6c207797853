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

// Package vector provides the embedded vector index over the memory
// entries, one collection per entry kind, plus the compression adapters
// the index can run vectors through.
package vector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/kadirpekel/engram/pkg/entry"
	"github.com/kadirpekel/engram/pkg/scope"
)

// Hit is one similarity match.
type Hit struct {
	EntryID string
	Score   float32
	Scope   scope.Scope
}

// Service is the embedded vector index. Vectors are pre-computed by the
// embedding provider; the index stores and searches them with cosine
// similarity. Single-process, memory-bound, with optional gob
// persistence.
type Service struct {
	db          *chromem.DB
	persistPath string
	compress    bool
	mu          sync.RWMutex

	collections map[string]*chromem.Collection
}

// Config configures the vector index.
type Config struct {
	// PersistPath for file persistence. Empty keeps vectors in memory
	// only.
	PersistPath string `yaml:"persist_path,omitempty"`

	// Compress enables gzip compression for persistence.
	Compress bool `yaml:"compress,omitempty"`
}

// NewService creates the index, loading a persisted database when one
// exists at the configured path.
func NewService(cfg Config) (*Service, error) {
	var db *chromem.DB

	if cfg.PersistPath != "" {
		if err := os.MkdirAll(cfg.PersistPath, 0755); err != nil {
			return nil, fmt.Errorf("failed to create persist directory: %w", err)
		}
		dbPath := dbFilePath(cfg.PersistPath, cfg.Compress)
		if _, statErr := os.Stat(dbPath); statErr == nil {
			loaded, err := chromem.NewPersistentDB(dbPath, cfg.Compress)
			if err != nil {
				slog.Warn("failed to load existing vector index, creating new",
					"path", dbPath, "error", err)
				db = chromem.NewDB()
			} else {
				slog.Info("loaded vector index from file", "path", dbPath)
				db = loaded
			}
		} else {
			db = chromem.NewDB()
		}
	} else {
		db = chromem.NewDB()
	}

	return &Service{
		db:          db,
		persistPath: cfg.PersistPath,
		compress:    cfg.Compress,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func dbFilePath(dir string, compress bool) string {
	path := dir + "/vectors.gob"
	if compress {
		path += ".gz"
	}
	return path
}

// noEmbed guards against accidental text queries; all vectors arrive
// pre-computed.
func noEmbed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("embedding function called but vectors are pre-computed")
}

func (s *Service) collection(kind entry.Kind) (*chromem.Collection, error) {
	name := string(kind)
	s.mu.RLock()
	if col, ok := s.collections[name]; ok {
		s.mu.RUnlock()
		return col, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[name]; ok {
		return col, nil
	}
	col, err := s.db.GetOrCreateCollection(name, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("failed to get/create collection %q: %w", name, err)
	}
	s.collections[name] = col
	return col, nil
}

// Upsert indexes the entry's vector under its kind and scope.
func (s *Service) Upsert(ctx context.Context, kind entry.Kind, id string, vec []float32, sc scope.Scope) error {
	col, err := s.collection(kind)
	if err != nil {
		return err
	}

	doc := chromem.Document{
		ID: id,
		Metadata: map[string]string{
			"scope_type": string(sc.Type),
			"scope_id":   sc.ID,
		},
		Embedding: vec,
	}
	if err := col.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to upsert vector: %w", err)
	}

	if err := s.persist(); err != nil {
		slog.Warn("failed to persist vector index after upsert", "error", err)
	}
	return nil
}

// Delete removes the entry's vector.
func (s *Service) Delete(ctx context.Context, kind entry.Kind, id string) error {
	col, err := s.collection(kind)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("failed to delete vector: %w", err)
	}
	if err := s.persist(); err != nil {
		slog.Warn("failed to persist vector index after delete", "error", err)
	}
	return nil
}

// Search returns the topK most similar entries whose scope is inside the
// chain. The index cannot express a scope-chain predicate, so it
// over-fetches and post-filters.
func (s *Service) Search(ctx context.Context, kind entry.Kind, vec []float32, topK int, chain []scope.Scope) ([]Hit, error) {
	col, err := s.collection(kind)
	if err != nil {
		return nil, err
	}

	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	// Over-fetch so the post-filter still has topK candidates to pick
	// from.
	fetch := topK * 3
	if len(chain) == 0 {
		fetch = topK
	}
	if fetch > count {
		fetch = count
	}

	results, err := col.QueryEmbedding(ctx, vec, fetch, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	hits := make([]Hit, 0, topK)
	for _, r := range results {
		hitScope := scope.Scope{
			Type: scope.Type(r.Metadata["scope_type"]),
			ID:   r.Metadata["scope_id"],
		}
		if len(chain) > 0 && !scope.Contains(chain, hitScope) {
			continue
		}
		hits = append(hits, Hit{EntryID: r.ID, Score: r.Similarity, Scope: hitScope})
		if len(hits) == topK {
			break
		}
	}
	return hits, nil
}

// Close persists the index if persistence is enabled.
func (s *Service) Close() error {
	return s.persist()
}

func (s *Service) persist() error {
	if s.persistPath == "" {
		return nil
	}
	//nolint:staticcheck // Export is the stable persistence surface
	if err := s.db.Export(dbFilePath(s.persistPath, s.compress), s.compress, ""); err != nil {
		return fmt.Errorf("failed to persist vector index: %w", err)
	}
	return nil
}
