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

package tasksync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kadirpekel/engram/pkg/config"
	"github.com/kadirpekel/engram/pkg/memerr"
)

// httpAdapter speaks a cursor-paginated JSON query protocol:
//
//	POST {base_url}/databases/{database}/query
//	{"start_cursor": "..."}
//
//	{"results": [{"id": "...", "last_edited_time": "...", "properties": {...}}],
//	 "next_cursor": "...", "has_more": true}
type httpAdapter struct {
	baseURL  string
	token    string
	database string
	client   *http.Client
}

func newHTTPAdapter(cfg config.SyncAdapterConfig) (*httpAdapter, error) {
	if cfg.BaseURL == "" {
		return nil, memerr.New(memerr.CodeValidation).
			Message("http sync adapter requires base_url").Field("base_url").Build()
	}
	if cfg.Database == "" {
		return nil, memerr.New(memerr.CodeValidation).
			Message("http sync adapter requires database").Field("database").Build()
	}
	return &httpAdapter{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		token:    cfg.Token,
		database: cfg.Database,
		client:   &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type queryRequest struct {
	StartCursor string `json:"start_cursor,omitempty"`
}

type queryResponse struct {
	Results []struct {
		ID             string         `json:"id"`
		LastEditedTime time.Time      `json:"last_edited_time"`
		Properties     map[string]any `json:"properties"`
	} `json:"results"`
	NextCursor string `json:"next_cursor"`
	HasMore    bool   `json:"has_more"`
}

func (a *httpAdapter) QueryDatabase(ctx context.Context, cursor string) (*Page, error) {
	body, err := json.Marshal(queryRequest{StartCursor: cursor})
	if err != nil {
		return nil, memerr.Internal(err)
	}
	url := fmt.Sprintf("%s/databases/%s/query", a.baseURL, a.database)

	var resp queryResponse
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if a.token != "" {
			req.Header.Set("Authorization", "Bearer "+a.token)
		}

		httpResp, err := a.client.Do(req)
		if err != nil {
			return err
		}
		defer httpResp.Body.Close()

		if httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode >= 500 {
			io.Copy(io.Discard, httpResp.Body)
			return fmt.Errorf("remote returned %d", httpResp.StatusCode)
		}
		if httpResp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("remote returned %d", httpResp.StatusCode))
		}
		return json.NewDecoder(httpResp.Body).Decode(&resp)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, memerr.New(memerr.CodeNetworkError).
			Message("sync query against %s failed", a.database).
			Cause(err).
			Build()
	}

	page := &Page{NextCursor: resp.NextCursor, HasMore: resp.HasMore}
	for _, r := range resp.Results {
		page.Items = append(page.Items, Item{
			ID:         r.ID,
			Fields:     r.Properties,
			LastEdited: r.LastEditedTime,
		})
	}
	return page, nil
}
