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

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/kadirpekel/engram"
	"github.com/kadirpekel/engram/pkg/memerr"
	"github.com/kadirpekel/engram/pkg/toolkit"
)

// MCPServer bridges the tool registry onto the Model Context Protocol so
// editors and agent runtimes can call the same surface over stdio. The
// transport is local and single-user, so no credential gate applies; the
// write policy still does.
type MCPServer struct {
	inner      *mcpserver.MCPServer
	dispatcher *toolkit.Dispatcher
	sanitizer  *memerr.Sanitizer
}

// NewMCPServer builds the MCP server over a populated registry.
func NewMCPServer(registry *toolkit.Registry) *MCPServer {
	s := &MCPServer{
		inner: mcpserver.NewMCPServer(
			"engram",
			engram.Version,
			mcpserver.WithToolCapabilities(false),
		),
		dispatcher: toolkit.NewDispatcher(registry),
		sanitizer:  memerr.NewSanitizer(false),
	}

	for _, desc := range registry.Descriptors() {
		tool, ok := registry.Get(desc.Name)
		if !ok {
			continue
		}
		schema, err := json.Marshal(requestSchema(tool))
		if err != nil {
			schema = []byte(`{"type":"object"}`)
		}
		s.inner.AddTool(
			mcp.NewToolWithRawSchema(desc.Name, desc.Description, schema),
			s.handlerFor(desc.Name),
		)
	}
	return s
}

// handlerFor adapts one registry tool to the MCP call contract. Tool
// failures are reported as tool results, not protocol errors, so the
// caller sees the taxonomy code and message.
func (s *MCPServer) handlerFor(name string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		if args == nil {
			args = map[string]any{}
		}

		data, err := s.dispatcher.Execute(ctx, name, args)
		if err != nil {
			var me *memerr.Error
			if !errors.As(err, &me) {
				me = memerr.Internal(err)
			}
			me = s.sanitizer.Sanitize(me)
			return mcp.NewToolResultError(fmt.Sprintf("[%s] %s", me.Code, me.Msg)), nil
		}

		text, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode result for %s: %w", name, err)
		}
		return mcp.NewToolResultText(string(text)), nil
	}
}

// ServeStdio blocks serving the MCP protocol over stdin/stdout.
func (s *MCPServer) ServeStdio() error {
	return mcpserver.ServeStdio(s.inner)
}
