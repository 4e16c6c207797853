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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/kadirpekel/engram/pkg/capture"
	"github.com/kadirpekel/engram/pkg/config"
	"github.com/kadirpekel/engram/pkg/embedder"
	"github.com/kadirpekel/engram/pkg/embedders"
	"github.com/kadirpekel/engram/pkg/entry"
	"github.com/kadirpekel/engram/pkg/graph"
	"github.com/kadirpekel/engram/pkg/maintenance"
	"github.com/kadirpekel/engram/pkg/model"
	"github.com/kadirpekel/engram/pkg/model/openai"
	"github.com/kadirpekel/engram/pkg/query"
	"github.com/kadirpekel/engram/pkg/repository"
	"github.com/kadirpekel/engram/pkg/scope"
	"github.com/kadirpekel/engram/pkg/session"
	"github.com/kadirpekel/engram/pkg/storage"
	"github.com/kadirpekel/engram/pkg/tasks"
	"github.com/kadirpekel/engram/pkg/toolkit"
	"github.com/kadirpekel/engram/pkg/vector"
)

// runtime holds every wired component a command may need. Commands that
// only touch the store leave the rest unused.
type runtime struct {
	cfg   *config.Config
	store *storage.Store

	repos     map[entry.Kind]*repository.Entries
	projects  *repository.Projects
	conflicts *repository.Conflicts
	relations *repository.Relations
	recs      *repository.Recommendations
	resolver  *repository.ScopeResolver

	sessions *session.Sessions
	episodes *session.Episodes
	messages *session.Messages

	tasks    *tasks.Tasks
	evidence *tasks.Evidence
	graph    *graph.Graph

	embed    embedder.Embedder
	gen      model.Generator
	vectors  *vector.Service
	querySvc *query.Service
	pipeline *capture.Pipeline

	registry *toolkit.Registry
}

// newRuntime opens the store and wires the full component graph. Optional
// providers (embedder, classifier) degrade to nil instead of failing
// startup.
func newRuntime(cfg *config.Config) (*runtime, error) {
	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage at %s: %w", cfg.Storage.Path, err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to migrate storage: %w", err)
	}

	rt := &runtime{cfg: cfg, store: store}

	policy := scope.Policy{Mode: cfg.PolicyMode()}
	bus := repository.NewInvalidationBus()
	tags := repository.NewTags(store)
	locks := repository.NewFileLocks(store)

	rt.repos = make(map[entry.Kind]*repository.Entries, len(entry.Kinds))
	for _, kind := range entry.Kinds {
		rt.repos[kind] = repository.NewEntries(store, kind,
			repository.WithPolicy(policy),
			repository.WithTags(tags),
			repository.WithFileLocks(locks),
			repository.WithInvalidationBus(bus),
		)
	}
	rt.projects = repository.NewProjects(store)
	rt.conflicts = repository.NewConflicts(store)
	rt.relations = repository.NewRelations(store)
	rt.recs = repository.NewRecommendations(store)
	rt.resolver = repository.NewScopeResolver(store)

	rt.sessions = session.NewSessions(store)
	rt.episodes = session.NewEpisodes(store)
	rt.messages = session.NewMessages(store)

	rt.tasks = tasks.NewTasks(store)
	rt.evidence = tasks.NewEvidence(store)
	rt.graph = graph.New(store)

	rt.embed = buildEmbedder(cfg.Embedder)
	rt.gen = buildGenerator(cfg.Classifier)
	rt.vectors = buildVectors(cfg.Storage.Path)

	rt.querySvc = query.NewService(rt.repos, rt.resolver, query.Options{
		Tags:         tags,
		Relations:    rt.relations,
		Embedder:     rt.embed,
		Vectors:      rt.vectors,
		Generator:    rt.gen,
		Bus:          bus,
		CacheSize:    cfg.Query.CacheSize,
		CacheTTL:     time.Duration(cfg.Query.CacheTTLSec) * time.Second,
		DefaultLimit: cfg.Query.DefaultLimit,
	})

	var classifier *capture.Classifier
	if cfg.Classifier.Enabled && rt.gen != nil {
		classifier = capture.NewClassifier(rt.gen, capture.ClassifierOptions{
			AutoStoreThreshold: cfg.Classifier.AutoStoreThreshold,
			SuggestThreshold:   cfg.Classifier.SuggestThreshold,
		})
	}
	rt.pipeline = capture.NewPipeline(rt.repos, capture.PipelineOptions{
		Sessions:           rt.sessions,
		Classifier:         classifier,
		Embedder:           rt.embed,
		Vectors:            rt.vectors,
		MinConfidenceScore: cfg.Capture.MinConfidenceScore,
		Cooldown:           time.Duration(cfg.Capture.CooldownMs) * time.Millisecond,
		QueueSize:          cfg.Capture.QueueSize,
		QueueInterval:      time.Duration(cfg.Capture.ProcessingIntervalMs) * time.Millisecond,
	})

	rt.registry, err = toolkit.NewMemoryRegistry(toolkit.Deps{
		Store:     store,
		Repos:     rt.repos,
		Projects:  rt.projects,
		Conflicts: rt.conflicts,
		Resolver:  rt.resolver,
		Query:     rt.querySvc,
		Capture:   rt.pipeline,
		Sessions:  rt.sessions,
		Episodes:  rt.episodes,
		Tasks:     rt.tasks,
		Evidence:  rt.evidence,
		Graph:     rt.graph,
		Embedder:  rt.embed,
		Generator: rt.gen,
		AgentID:   cfg.Server.AgentID,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to build tool registry: %w", err)
	}

	return rt, nil
}

func (rt *runtime) Close() {
	if rt.pipeline != nil {
		rt.pipeline.Stop()
	}
	if rt.querySvc != nil {
		_ = rt.querySvc.Close()
	}
	if rt.vectors != nil {
		_ = rt.vectors.Close()
	}
	if rt.store != nil {
		rt.store.Close()
	}
}

// maintenanceCatalog assembles the full task list in its canonical run
// order. Tasks missing a provider degrade to no-ops on their own.
func (rt *runtime) maintenanceCatalog() []maintenance.Task {
	cfg := rt.cfg.Maintenance

	librarian := maintenance.NewLibrarian(rt.repos[entry.KindExperience], rt.recs, rt.embed)
	librarian.AutoPromoteAt = cfg.AutoPromoteThreshold
	librarian.ReviewAt = cfg.ReviewThreshold
	librarian.MinPatternSize = cfg.MinPatternSize
	librarian.EmbeddingThreshold = cfg.SimilarityThreshold

	return []maintenance.Task{
		&maintenance.ExtractionQuality{
			Sessions:    rt.sessions,
			Episodes:    rt.episodes,
			Experiences: rt.repos[entry.KindExperience],
		},
		librarian,
		&maintenance.DuplicateRefinement{
			Repos:     rt.repos,
			Conflicts: rt.conflicts,
			Embed:     rt.embed,
			Vectors:   rt.vectors,
		},
		&maintenance.CategoryAccuracy{
			Knowledge: rt.repos[entry.KindKnowledge],
		},
		&maintenance.RelevanceCalibration{
			Experiences: rt.repos[entry.KindExperience],
		},
		&maintenance.MessageRelevanceScoring{
			Sessions: rt.sessions,
			Messages: rt.messages,
			Gen:      rt.gen,
		},
		&maintenance.ExperienceTitleImprovement{
			Experiences: rt.repos[entry.KindExperience],
			Gen:         rt.gen,
		},
		&maintenance.MessageInsightExtraction{
			Episodes:    rt.episodes,
			Messages:    rt.messages,
			Knowledge:   rt.repos[entry.KindKnowledge],
			Experiences: rt.repos[entry.KindExperience],
			Relations:   rt.relations,
			Gen:         rt.gen,
		},
		&maintenance.FeedbackLoop{},
	}
}

// maintenanceScopes returns global plus one scope per project, resolved
// at fire time.
func (rt *runtime) maintenanceScopes() []scope.Scope {
	scopes := []scope.Scope{scope.GlobalScope}
	projects, err := rt.projects.List(context.Background())
	if err != nil {
		slog.Warn("failed to list projects for maintenance", "error", err)
		return scopes
	}
	for _, p := range projects {
		scopes = append(scopes, scope.Scope{Type: scope.Project, ID: p.ID})
	}
	return scopes
}

func buildEmbedder(cfg config.EmbedderConfig) embedder.Embedder {
	provider, err := embedders.NewRegistry().CreateFromConfig("default", cfg)
	if err != nil {
		slog.Warn("embedder unavailable, hybrid search degrades to lexical", "error", err)
		return nil
	}
	return provider
}

// buildGenerator wires the extraction/classification model. The endpoint
// speaks the OpenAI chat-completions shape, which ollama also serves.
func buildGenerator(cfg config.ClassifierConfig) model.Generator {
	if !cfg.Enabled || cfg.BaseURL == "" {
		return nil
	}
	return openai.New(cfg.BaseURL, cfg.APIKey, cfg.Model)
}

// buildVectors persists the vector index next to the primary database.
func buildVectors(dbPath string) *vector.Service {
	persist := filepath.Join(filepath.Dir(dbPath), "vectors")
	svc, err := vector.NewService(vector.Config{PersistPath: persist, Compress: true})
	if err != nil {
		slog.Warn("vector index unavailable, semantic search disabled", "error", err)
		return nil
	}
	return svc
}
