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

// Package outlook implements the provider connector for Microsoft 365
// mailboxes against the Graph REST API with app-only credentials.
// Checkpoints for this family are RFC 3339 strings.
package outlook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/therealtimex/email-automator-sub000/internal/models"
	"github.com/therealtimex/email-automator-sub000/internal/provider"
)

// DefaultBaseURL is the production Graph API endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// Connector talks to the Graph API. The http.Client carries app-only
// OAuth2 client-credentials and refreshes its token transparently.
type Connector struct {
	httpClient *http.Client
	baseURL    string
}

// NewConnector creates a Graph connector. baseURL is overridable for tests.
func NewConnector(httpClient *http.Client, baseURL string) *Connector {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Connector{
		httpClient: httpClient,
		baseURL:    baseURL,
	}
}

// Kind returns the provider family.
func (c *Connector) Kind() models.ProviderKind { return models.ProviderOutlook }

// listResponse represents a page of the /messages list response.
type listResponse struct {
	Value []struct {
		ID               string    `json:"id"`
		ReceivedDateTime time.Time `json:"receivedDateTime"`
	} `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// ListMessages lists message refs received in [from, to), oldest first.
func (c *Connector) ListMessages(ctx context.Context, acct *models.Account, from, to time.Time, max int) ([]provider.MessageRef, error) {
	params := url.Values{}
	params.Set("$filter", fmt.Sprintf("receivedDateTime ge %s and receivedDateTime lt %s",
		from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339)))
	params.Set("$select", "id,receivedDateTime")
	params.Set("$orderby", "receivedDateTime asc")
	params.Set("$top", "50")

	listURL := fmt.Sprintf("%s/users/%s/messages?%s", c.baseURL, acct.Email, params.Encode())

	var refs []provider.MessageRef
	for nextURL := listURL; nextURL != ""; {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, nextURL, nil)
		if err != nil {
			return nil, fmt.Errorf("build list request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Prefer", "odata.maxpagesize=50")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("list graph messages: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			slog.Error("graph message list error", "status", resp.StatusCode, "body", string(body))
			return nil, fmt.Errorf("graph message list returned HTTP %d", resp.StatusCode)
		}

		var page listResponse
		if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("decode message list: %w", err)
		}
		resp.Body.Close()

		for _, m := range page.Value {
			refs = append(refs, provider.MessageRef{ID: m.ID, ReceivedAt: m.ReceivedDateTime.UTC()})
			if max > 0 && len(refs) >= max {
				return refs, nil
			}
		}
		nextURL = page.NextLink
	}

	return refs, nil
}

// FetchRaw retrieves the MIME content of a message via the $value endpoint.
func (c *Connector) FetchRaw(ctx context.Context, acct *models.Account, messageID string) ([]byte, error) {
	rawURL := fmt.Sprintf("%s/users/%s/messages/%s/$value", c.baseURL, acct.Email, messageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build raw request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch raw graph message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("graph raw fetch returned HTTP %d for message %s", resp.StatusCode, messageID)
	}

	return io.ReadAll(resp.Body)
}

// Trash moves a message to the Deleted Items folder.
func (c *Connector) Trash(ctx context.Context, acct *models.Account, messageID string) error {
	return c.move(ctx, acct, messageID, "deleteditems")
}

// Archive moves a message to the Archive folder.
func (c *Connector) Archive(ctx context.Context, acct *models.Account, messageID string) error {
	return c.move(ctx, acct, messageID, "archive")
}

func (c *Connector) move(ctx context.Context, acct *models.Account, messageID, destination string) error {
	moveURL := fmt.Sprintf("%s/users/%s/messages/%s/move", c.baseURL, acct.Email, messageID)
	return c.post(ctx, moveURL, map[string]string{"destinationId": destination}, http.StatusCreated)
}

// MarkRead clears the unread flag.
func (c *Connector) MarkRead(ctx context.Context, acct *models.Account, messageID string) error {
	return c.patch(ctx, acct, messageID, map[string]any{"isRead": true})
}

// Star sets the follow-up flag.
func (c *Connector) Star(ctx context.Context, acct *models.Account, messageID string) error {
	return c.patch(ctx, acct, messageID, map[string]any{
		"flag": map[string]string{"flagStatus": "flagged"},
	})
}

// CreateDraft creates a reply draft with the given body via createReply.
func (c *Connector) CreateDraft(ctx context.Context, acct *models.Account, messageID, body string) error {
	replyURL := fmt.Sprintf("%s/users/%s/messages/%s/createReply", c.baseURL, acct.Email, messageID)
	return c.post(ctx, replyURL, map[string]string{"comment": body}, http.StatusCreated)
}

// RefreshTokenIfNeeded is a no-op for app-only credentials: the underlying
// oauth2 client refreshes its own token.
func (c *Connector) RefreshTokenIfNeeded(_ context.Context, acct *models.Account) (*models.Account, error) {
	return acct, nil
}

// FormatCursor encodes a checkpoint time as RFC 3339.
func (c *Connector) FormatCursor(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ParseCursor decodes an RFC 3339 checkpoint.
func (c *Connector) ParseCursor(cursor string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, cursor)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse outlook cursor %q: %w", cursor, err)
	}
	return t.UTC(), nil
}

func (c *Connector) post(ctx context.Context, reqURL string, payload any, wantStatus int) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("graph request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus && resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		slog.Error("graph request failed", "url", reqURL, "status", resp.StatusCode, "body", string(respBody))
		return fmt.Errorf("graph request returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func (c *Connector) patch(ctx context.Context, acct *models.Account, messageID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}
	patchURL := fmt.Sprintf("%s/users/%s/messages/%s", c.baseURL, acct.Email, messageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, patchURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("graph request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		slog.Error("graph patch failed", "url", patchURL, "status", resp.StatusCode, "body", string(respBody))
		return fmt.Errorf("graph patch returned HTTP %d", resp.StatusCode)
	}
	return nil
}
