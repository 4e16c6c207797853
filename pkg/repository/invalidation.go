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

package repository

import (
	"sync"

	"github.com/kadirpekel/engram/pkg/entry"
	"github.com/kadirpekel/engram/pkg/scope"
)

// Mutation describes a committed write. Repositories publish one per
// user-visible mutation; the query cache consumes them for invalidation.
type Mutation struct {
	Kind    entry.Kind
	Scope   scope.Scope
	EntryID string
}

// InvalidationBus fans mutations out to subscribers. Publishing never
// blocks: a subscriber that falls behind loses events and must treat its
// caches as best-effort, which is exactly what a result cache is.
type InvalidationBus struct {
	mu   sync.RWMutex
	subs []chan Mutation
}

func NewInvalidationBus() *InvalidationBus {
	return &InvalidationBus{}
}

// Subscribe returns a buffered channel of mutations.
func (b *InvalidationBus) Subscribe() <-chan Mutation {
	ch := make(chan Mutation, 256)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Publish delivers m to all subscribers without blocking.
func (b *InvalidationBus) Publish(m Mutation) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- m:
		default:
		}
	}
}
