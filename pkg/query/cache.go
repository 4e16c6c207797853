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
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kadirpekel/engram/pkg/entry"
	"github.com/kadirpekel/engram/pkg/scope"
)

// fingerprint builds the cache key for a request. The key is the scope
// chain (narrowest first) followed by a hash of the canonical JSON of
// everything that affects the result, so invalidation can match keys by
// scope prefix without parsing them.
func fingerprint(req Request, chain []scope.Scope, kinds []entry.Kind) string {
	sortedKinds := make([]string, len(kinds))
	for i, k := range kinds {
		sortedKinds[i] = string(k)
	}
	sort.Strings(sortedKinds)

	sortedTags := append([]string(nil), req.Tags...)
	sort.Strings(sortedTags)

	chainParts := make([]string, len(chain))
	for i, sc := range chain {
		chainParts[i] = sc.String()
	}

	canonical, _ := json.Marshal(struct {
		Text      string   `json:"text"`
		Chain     []string `json:"chain"`
		Kinds     []string `json:"kinds"`
		Tags      []string `json:"tags,omitempty"`
		RelatedTo string   `json:"relatedTo,omitempty"`
		Limit     int      `json:"limit"`
		Flags     Flags    `json:"flags"`
	}{
		Text:      strings.TrimSpace(req.Text),
		Chain:     chainParts,
		Kinds:     sortedKinds,
		Tags:      sortedTags,
		RelatedTo: req.RelatedTo,
		Limit:     req.Limit,
		Flags:     req.Flags,
	})
	sum := sha256.Sum256(canonical)
	return strings.Join(chainParts, ">") + "|" + hex.EncodeToString(sum[:])
}

// resultCache is an LRU with per-entry TTL. Keys embed the scope chain so
// a mutation in any scope can evict every cached query whose chain
// includes that scope.
type resultCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List // front = most recent
	items    map[string]*list.Element
	bytes    int64
}

type cacheEntry struct {
	key     string
	resp    Response
	bytes   int64
	expires time.Time
}

// approxBytes estimates a cached response's footprint from its JSON
// encoding plus the key. Good enough for the memoryBytes report; not an
// allocator-accurate figure.
func approxBytes(key string, resp Response) int64 {
	encoded, _ := json.Marshal(resp)
	return int64(len(key) + len(encoded))
}

func newResultCache(capacity int, ttl time.Duration) *resultCache {
	if capacity <= 0 {
		capacity = 256
	}
	return &resultCache{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

func (c *resultCache) get(key string) (Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return Response{}, false
	}
	ce := el.Value.(*cacheEntry)
	if c.ttl > 0 && time.Now().After(ce.expires) {
		c.remove(el)
		return Response{}, false
	}
	c.order.MoveToFront(el)
	return ce.resp, true
}

func (c *resultCache) put(key string, resp Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := approxBytes(key, resp)
	if el, ok := c.items[key]; ok {
		ce := el.Value.(*cacheEntry)
		c.bytes += size - ce.bytes
		ce.resp = resp
		ce.bytes = size
		ce.expires = time.Now().Add(c.ttl)
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&cacheEntry{key: key, resp: resp, bytes: size, expires: time.Now().Add(c.ttl)})
	c.items[key] = el
	c.bytes += size
	for c.order.Len() > c.capacity {
		c.remove(c.order.Back())
	}
}

// remove evicts one element. Caller holds the lock.
func (c *resultCache) remove(el *list.Element) {
	ce := el.Value.(*cacheEntry)
	c.order.Remove(el)
	delete(c.items, ce.key)
	c.bytes -= ce.bytes
}

// invalidateScope evicts every cached response whose scope chain contains
// the given scope. A global mutation therefore clears project and session
// caches that inherit globals.
func (c *resultCache) invalidateScope(sc scope.Scope) {
	target := sc.String()
	c.invalidate(func(key string) bool {
		chain, _, ok := strings.Cut(key, "|")
		if !ok {
			return true
		}
		for _, part := range strings.Split(chain, ">") {
			if part == target {
				return true
			}
		}
		return false
	})
}

// invalidateByPrefix evicts keys with the given prefix. A query cached at
// a scope has that scope's chain as its key prefix.
func (c *resultCache) invalidateByPrefix(prefix string) {
	c.invalidate(func(key string) bool { return strings.HasPrefix(key, prefix) })
}

func (c *resultCache) invalidate(match func(key string) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if match(el.Value.(*cacheEntry).key) {
			c.remove(el)
		}
		el = next
	}
}

func (c *resultCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// memoryBytes approximates the cache's resident size.
func (c *resultCache) memoryBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}
