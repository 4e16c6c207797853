// Package engram provides a scoped, versioned, searchable memory service
// for AI agents.
//
// Engram stores an agent's tools, guidelines, knowledge, and experiences
// together with the sessions, episodes, and conversation traces that
// produced them. Entries live in a scope hierarchy (global, organization,
// team, project, session) with inheritance, every mutation creates a new
// version, and retrieval fuses full-text and vector search. A passive
// capture pipeline turns conversation signals into suggested entries, and
// a nightly maintenance loop promotes recurring experiences into reusable
// patterns.
//
// # Quick Start
//
// Install the binary:
//
//	go install github.com/kadirpekel/engram/cmd/engram@latest
//
// Start the server with the default local configuration:
//
//	engram serve
//
// Record and retrieve a learning over HTTP:
//
//	curl -X POST localhost:8700/v1/tools/memory_remember \
//	  -H 'Content-Type: application/json' \
//	  -d '{"content":"always run migrations before deploy","type":"guideline"}'
//
//	curl -X POST localhost:8700/v1/tools/memory_query \
//	  -H 'Content-Type: application/json' \
//	  -d '{"action":"search","query":"deploy checklist"}'
//
// # Using as Go Library
//
// Import specific packages:
//
//	import (
//	    "github.com/kadirpekel/engram/pkg/repository"
//	    "github.com/kadirpekel/engram/pkg/query"
//	    "github.com/kadirpekel/engram/pkg/toolkit"
//	)
//
// # Architecture
//
// The boundary is an RPC tool surface served over HTTP and MCP stdio:
//
//	Agent/Editor → Tool Dispatcher → Repositories → SQLite (WAL) + vector index
//
// Repositories serialize all writes; search fans out to FTS5 and the
// embedding index and fuses results with reciprocal rank fusion.
//
// # License
//
// AGPL-3.0 - See LICENSE.md for details.
package engram
