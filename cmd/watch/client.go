// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package watch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"cabana/internal/panel"
)

// Client talks to a running bridge's diagnostics API
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the given API base URL
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Snapshot is one poll of the bridge's state
type Snapshot struct {
	Stats    map[string]interface{}
	Health   map[string]interface{}
	Entities []panel.Entity
	At       time.Time
}

// Fetch polls stats, health and entities in one go
func (c *Client) Fetch() (*Snapshot, error) {
	snapshot := &Snapshot{At: time.Now()}

	if err := c.getJSON("/api/v1/stats", &snapshot.Stats); err != nil {
		return nil, err
	}
	if err := c.getJSON("/api/v1/health", &snapshot.Health); err != nil {
		return nil, err
	}

	var entities struct {
		Entities []panel.Entity `json:"entities"`
	}
	if err := c.getJSON("/api/v1/entities", &entities); err != nil {
		return nil, err
	}
	snapshot.Entities = entities.Entities

	return snapshot, nil
}

func (c *Client) getJSON(path string, out interface{}) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("failed to reach bridge API: %w", err)
	}
	defer resp.Body.Close()

	// Health returns 503 when unhealthy but still carries a body
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return fmt.Errorf("bridge API returned %s for %s", resp.Status, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
