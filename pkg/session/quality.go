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

package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
)

// Episode quality is the weighted sum of six booleans. Each factor stores
// its contribution (the full weight when satisfied, zero otherwise) so the
// score can be audited after the fact.
const (
	weightHasEvents         = 0.25
	weightHasSemanticEvents = 0.25
	weightNameEnriched      = 0.15
	weightMessagesLinked    = 0.10
	weightMessagesScored    = 0.10
	weightHasExperiences    = 0.15
)

// Score converts factor contributions to a 0-100 integer.
func Score(factors map[string]float64) int {
	var sum float64
	for _, v := range factors {
		sum += v
	}
	return int(math.Round(sum * 100))
}

func contribution(ok bool, weight float64) float64 {
	if ok {
		return weight
	}
	return 0
}

// qualityFactorsInTx inspects the episode's trace inside the completing
// transaction so the score reflects exactly what was recorded at
// completion time.
func (r *Episodes) qualityFactorsInTx(ctx context.Context, tx *sql.Tx, episodeID string) (map[string]float64, error) {
	var events, semanticEvents, linked, scored, experiences int
	var metaJSON string

	err := tx.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(1) FROM episode_events WHERE episode_id = ?),
			(SELECT COUNT(1) FROM episode_events WHERE episode_id = ? AND semantic_summary != ''),
			(SELECT COUNT(1) FROM conversation_messages WHERE episode_id = ?),
			(SELECT COUNT(1) FROM conversation_messages WHERE episode_id = ? AND relevance_score IS NOT NULL),
			(SELECT COUNT(1) FROM entries WHERE kind = 'experience' AND episode_id = ?),
			(SELECT metadata FROM episodes WHERE id = ?)`,
		episodeID, episodeID, episodeID, episodeID, episodeID, episodeID).
		Scan(&events, &semanticEvents, &linked, &scored, &experiences, &metaJSON)
	if err != nil {
		return nil, err
	}

	meta := map[string]any{}
	_ = json.Unmarshal([]byte(metaJSON), &meta)
	nameEnriched, _ := meta["nameEnriched"].(bool)

	return map[string]float64{
		"hasEvents":         contribution(events > 0, weightHasEvents),
		"hasSemanticEvents": contribution(semanticEvents > 0, weightHasSemanticEvents),
		"nameEnriched":      contribution(nameEnriched, weightNameEnriched),
		"messagesLinked":    contribution(linked > 0, weightMessagesLinked),
		"messagesScored":    contribution(scored > 0, weightMessagesScored),
		"hasExperiences":    contribution(experiences > 0, weightHasExperiences),
	}, nil
}
