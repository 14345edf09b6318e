// Copyright (c) 2026 John Earle
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

package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Client calls the analysis service over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

// ClientConfig holds the settings for the analysis service client.
type ClientConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// NewClient creates an analysis service client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
	}
}

type classifyRequest struct {
	Model string `json:"model,omitempty"`
	*Request
}

// Classify sends the message to the analysis service and decodes the
// verdict. A response without a category is treated as a transient service
// failure so the message stays retryable.
func (c *Client) Classify(ctx context.Context, req *Request) (*Result, error) {
	payload, err := json.Marshal(classifyRequest{Model: c.model, Request: req})
	if err != nil {
		return nil, fmt.Errorf("marshal classify request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/classify", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build classify request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call analysis service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		slog.Error("analysis service error", "status", resp.StatusCode, "body", string(body))
		return nil, fmt.Errorf("analysis service returned HTTP %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode classify response: %w", err)
	}
	if result.Classification.Category == "" {
		return nil, fmt.Errorf("analysis service returned no category")
	}
	return &result, nil
}
