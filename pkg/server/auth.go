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
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/kadirpekel/engram/pkg/memerr"
)

type ctxKey int

const authInfoKey ctxKey = iota

// authInfo is the authenticated caller identity carried on the request
// context for the duration of one call.
type authInfo struct {
	admin bool
}

func authFrom(ctx context.Context) authInfo {
	if info, ok := ctx.Value(authInfoKey).(authInfo); ok {
		return info
	}
	return authInfo{}
}

// extractKey reads the credential from either channel. The Bearer scheme
// wins when both are present.
func extractKey(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if key, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(key)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func keysEqual(a, b string) bool {
	return b != "" && subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// authMiddleware validates the presented credential. With no keys
// configured the boundary is open and every caller is treated as admin;
// that is the local single-user deployment mode.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey == "" && s.cfg.AdminKey == "" {
			ctx := context.WithValue(r.Context(), authInfoKey, authInfo{admin: true})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		key := extractKey(r)
		switch {
		case keysEqual(key, s.cfg.AdminKey):
			ctx := context.WithValue(r.Context(), authInfoKey, authInfo{admin: true})
			next.ServeHTTP(w, r.WithContext(ctx))
		case keysEqual(key, s.cfg.APIKey):
			ctx := context.WithValue(r.Context(), authInfoKey, authInfo{})
			next.ServeHTTP(w, r.WithContext(ctx))
		default:
			s.writeError(w, memerr.New(memerr.CodeUnauthorized).
				Message("authentication required").
				Suggestion("present a key via Authorization: Bearer or X-API-Key").
				Build())
		}
	})
}
