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

// Package breaker wraps the circuit breaker protecting external provider
// calls. A tripped breaker surfaces as CIRCUIT_BREAKER_OPEN so callers can
// degrade instead of hammering a failing provider.
package breaker

import (
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kadirpekel/engram/pkg/memerr"
)

// Breaker guards one named external dependency.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// Settings tune the breaker. Zero values take the defaults below.
type Settings struct {
	Name        string
	MaxFailures uint32        // consecutive failures before opening
	OpenFor     time.Duration // how long the breaker stays open
}

// New creates a breaker for the named dependency.
func New(s Settings) *Breaker {
	if s.MaxFailures == 0 {
		s.MaxFailures = 5
	}
	if s.OpenFor == 0 {
		s.OpenFor = 30 * time.Second
	}
	return &Breaker{
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    s.Name,
			Timeout: s.OpenFor,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= s.MaxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("circuit breaker state change",
					"name", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

// Do runs fn through the breaker. An open breaker returns
// CIRCUIT_BREAKER_OPEN without invoking fn.
func (b *Breaker) Do(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return memerr.New(memerr.CodeCircuitBreakerOpen).
			Message("%s is unavailable, circuit breaker open", b.cb.Name()).
			Cause(err).
			Build()
	}
	return err
}

// State reports the breaker state for health reporting.
func (b *Breaker) State() string {
	return b.cb.State().String()
}
