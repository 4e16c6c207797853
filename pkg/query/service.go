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

package query

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/kadirpekel/engram/pkg/embedder"
	"github.com/kadirpekel/engram/pkg/entry"
	"github.com/kadirpekel/engram/pkg/logger"
	"github.com/kadirpekel/engram/pkg/memerr"
	"github.com/kadirpekel/engram/pkg/model"
	"github.com/kadirpekel/engram/pkg/observability"
	"github.com/kadirpekel/engram/pkg/repository"
	"github.com/kadirpekel/engram/pkg/scope"
	"github.com/kadirpekel/engram/pkg/vector"
)

// Service runs the retrieval pipeline. All stages are synchronous; the
// only background work is the cache invalidation consumer.
type Service struct {
	repos     map[entry.Kind]*repository.Entries
	resolver  scope.Resolver
	tags      *repository.Tags
	relations *repository.Relations

	embed    embedder.Embedder
	vectors  *vector.Service
	rewriter *rewriter
	reranker Reranker

	cache        *resultCache
	defaultLimit int
	log          *slog.Logger

	stop chan struct{}
}

// Options configures optional service collaborators. Nil fields disable
// the corresponding capability rather than erroring: the pipeline runs
// lexical-only without an embedder and without rewriting when no
// generator is configured.
type Options struct {
	Tags      *repository.Tags
	Relations *repository.Relations
	Embedder  embedder.Embedder
	Vectors   *vector.Service
	Generator model.Generator
	Reranker  Reranker
	Bus       *repository.InvalidationBus

	CacheSize    int
	CacheTTL     time.Duration
	DefaultLimit int
}

func NewService(repos map[entry.Kind]*repository.Entries, resolver scope.Resolver, opts Options) *Service {
	if opts.CacheTTL == 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.DefaultLimit == 0 {
		opts.DefaultLimit = 10
	}
	rr := opts.Reranker
	if rr == nil {
		rr = noopReranker{}
	}

	s := &Service{
		repos:        repos,
		resolver:     resolver,
		tags:         opts.Tags,
		relations:    opts.Relations,
		embed:        opts.Embedder,
		vectors:      opts.Vectors,
		rewriter:     newRewriter(opts.Generator),
		reranker:     rr,
		cache:        newResultCache(opts.CacheSize, opts.CacheTTL),
		defaultLimit: opts.DefaultLimit,
		log:          logger.GetLogger(),
		stop:         make(chan struct{}),
	}
	if opts.Bus != nil {
		go s.consumeInvalidations(opts.Bus.Subscribe())
	}
	return s
}

// Query runs the full pipeline for one request.
func (s *Service) Query(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	pc, err := s.parse(req)
	if err != nil {
		return Response{}, err
	}

	key := fingerprint(pc.req, pc.chain, pc.kinds)
	if resp, ok := s.cache.get(key); ok {
		resp.Cached = true
		return s.render(req, resp), nil
	}

	if err := s.rewriter.run(ctx, pc); err != nil {
		return Response{}, err
	}
	if err := s.generateCandidates(ctx, pc); err != nil {
		return Response{}, err
	}
	fuse(pc)
	pc.fused = s.reranker.Rerank(pc.req.Text, pc.fused)
	if err := s.hydrate(ctx, pc); err != nil {
		return Response{}, err
	}

	resp := Response{
		Results:  pc.results,
		Intent:   pc.intent,
		Strategy: pc.strategy,
		Degraded: pc.degraded,
	}
	// Degraded responses are not cached; the next call may have its
	// producers back.
	if !pc.degraded {
		s.cache.put(key, resp)
	}
	observability.GetGlobalMetrics().RecordQuery(ctx, time.Since(start), len(resp.Results))
	return s.render(req, resp), nil
}

// render applies the request's output format. The markdown digest is
// computed after the cache so cached entries stay format-agnostic.
func (s *Service) render(req Request, resp Response) Response {
	if req.Format == formatMarkdown {
		resp.Markdown = FormatMarkdown(resp.Results, req.TokenBudget)
	}
	return resp
}

// parse validates the request and resolves the scope chain and kind set.
func (s *Service) parse(req Request) (*pipelineContext, error) {
	if strings.TrimSpace(req.Text) == "" && len(req.Tags) == 0 && req.RelatedTo == "" {
		return nil, memerr.Validation("query requires text, tags, or a related entry id")
	}
	if err := req.Scope.Validate(); err != nil {
		return nil, memerr.Validation("%s", err)
	}
	if req.Limit <= 0 {
		req.Limit = s.defaultLimit
	}
	switch req.Format {
	case "", formatJSON, formatMarkdown:
	default:
		return nil, memerr.Validation("invalid format %q, expected json or markdown", req.Format)
	}

	kinds := req.Kinds
	if len(kinds) == 0 {
		kinds = entry.Kinds
	}
	for _, k := range kinds {
		if !k.Valid() {
			return nil, memerr.Validation("invalid entry kind %q", string(k))
		}
	}

	return &pipelineContext{
		req:   req,
		chain: scope.Chain(req.Scope, req.Inherit, s.resolver),
		kinds: kinds,
	}, nil
}

// consumeInvalidations evicts cached responses for every mutated scope.
func (s *Service) consumeInvalidations(ch <-chan repository.Mutation) {
	for {
		select {
		case m, ok := <-ch:
			if !ok {
				return
			}
			s.cache.invalidateScope(m.Scope)
		case <-s.stop:
			return
		}
	}
}

// CacheStats reports the result cache's occupancy. MemoryBytes is an
// approximation from the JSON encoding of each cached response.
type CacheStats struct {
	Entries     int   `json:"entries"`
	MemoryBytes int64 `json:"memoryBytes"`
}

func (s *Service) CacheStats() CacheStats {
	return CacheStats{Entries: s.cache.len(), MemoryBytes: s.cache.memoryBytes()}
}

// Close stops the invalidation consumer.
func (s *Service) Close() error {
	close(s.stop)
	return nil
}
