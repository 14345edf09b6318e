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

// Package gmail implements the provider connector for Gmail accounts using
// the official Google API client. Checkpoints for this family are
// epoch-millis strings.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/therealtimex/email-automator-sub000/internal/models"
	"github.com/therealtimex/email-automator-sub000/internal/provider"
)

// Connector talks to the Gmail API on behalf of user accounts.
type Connector struct {
	oauthCfg *oauth2.Config
}

// NewConnector creates a Gmail connector with the app's OAuth client.
func NewConnector(clientID, clientSecret string) *Connector {
	return &Connector{
		oauthCfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://accounts.google.com/o/oauth2/auth",
				TokenURL: "https://oauth2.googleapis.com/token",
			},
			Scopes: []string{gmailapi.GmailModifyScope},
		},
	}
}

// Kind returns the provider family.
func (c *Connector) Kind() models.ProviderKind { return models.ProviderGmail }

func (c *Connector) token(acct *models.Account) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  acct.AccessToken,
		RefreshToken: acct.RefreshToken,
		Expiry:       acct.TokenExpiry,
	}
}

func (c *Connector) service(ctx context.Context, acct *models.Account) (*gmailapi.Service, error) {
	client := c.oauthCfg.Client(ctx, c.token(acct))
	svc, err := gmailapi.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return svc, nil
}

// ListMessages lists message refs received in [from, to), oldest first.
// Gmail's after:/before: operators work at second resolution and after: is
// exclusive, so the query backs off one second to keep the checkpoint
// boundary message included; the ingestor's dedup absorbs the overlap.
func (c *Connector) ListMessages(ctx context.Context, acct *models.Account, from, to time.Time, max int) ([]provider.MessageRef, error) {
	svc, err := c.service(ctx, acct)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("after:%d before:%d", from.Unix()-1, to.Unix())

	// The list endpoint pages newest first, so every id in the window is
	// collected before the cap is applied. Truncating while paging would
	// keep the newest refs and let the checkpoint advance past the older
	// ones that were never fetched. Id-only pages are cheap and the
	// window is time-bounded.
	var ids []string
	pageToken := ""
	for {
		call := svc.Users.Messages.List("me").Q(query).MaxResults(500).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("list gmail messages: %w", err)
		}
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	refs := make([]provider.MessageRef, 0, len(ids))
	for _, id := range ids {
		msg, err := svc.Users.Messages.Get("me", id).Format("minimal").Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("get gmail message %s: %w", id, err)
		}
		refs = append(refs, provider.MessageRef{
			ID:         msg.Id,
			ReceivedAt: time.UnixMilli(msg.InternalDate).UTC(),
		})
	}

	return oldestRefs(refs, max), nil
}

// oldestRefs sorts refs by native timestamp ascending and keeps the first
// max. A truncated listing must drop the newest refs, never the oldest:
// the checkpoint only moves past timestamps the engine has actually seen,
// so whatever is dropped here has to stay ahead of it.
func oldestRefs(refs []provider.MessageRef, max int) []provider.MessageRef {
	sort.Slice(refs, func(i, j int) bool { return refs[i].ReceivedAt.Before(refs[j].ReceivedAt) })
	if max > 0 && len(refs) > max {
		refs = refs[:max]
	}
	return refs
}

// FetchRaw retrieves the full RFC 822 content of a message.
func (c *Connector) FetchRaw(ctx context.Context, acct *models.Account, messageID string) ([]byte, error) {
	svc, err := c.service(ctx, acct)
	if err != nil {
		return nil, err
	}
	msg, err := svc.Users.Messages.Get("me", messageID).Format("raw").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("fetch raw gmail message %s: %w", messageID, err)
	}
	raw, err := base64.URLEncoding.DecodeString(msg.Raw)
	if err != nil {
		return nil, fmt.Errorf("decode raw gmail message %s: %w", messageID, err)
	}
	return raw, nil
}

// Trash moves a message to the trash.
func (c *Connector) Trash(ctx context.Context, acct *models.Account, messageID string) error {
	svc, err := c.service(ctx, acct)
	if err != nil {
		return err
	}
	if _, err := svc.Users.Messages.Trash("me", messageID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("trash gmail message %s: %w", messageID, err)
	}
	return nil
}

// Archive removes the message from the inbox.
func (c *Connector) Archive(ctx context.Context, acct *models.Account, messageID string) error {
	return c.modify(ctx, acct, messageID, nil, []string{"INBOX"})
}

// MarkRead clears the unread flag.
func (c *Connector) MarkRead(ctx context.Context, acct *models.Account, messageID string) error {
	return c.modify(ctx, acct, messageID, nil, []string{"UNREAD"})
}

// Star flags the message.
func (c *Connector) Star(ctx context.Context, acct *models.Account, messageID string) error {
	return c.modify(ctx, acct, messageID, []string{"STARRED"}, nil)
}

func (c *Connector) modify(ctx context.Context, acct *models.Account, messageID string, add, remove []string) error {
	svc, err := c.service(ctx, acct)
	if err != nil {
		return err
	}
	req := &gmailapi.ModifyMessageRequest{
		AddLabelIds:    add,
		RemoveLabelIds: remove,
	}
	if _, err := svc.Users.Messages.Modify("me", messageID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("modify gmail message %s: %w", messageID, err)
	}
	return nil
}

// CreateDraft creates a reply draft on the message's thread addressed to
// the original sender.
func (c *Connector) CreateDraft(ctx context.Context, acct *models.Account, messageID, body string) error {
	svc, err := c.service(ctx, acct)
	if err != nil {
		return err
	}

	orig, err := svc.Users.Messages.Get("me", messageID).
		Format("metadata").MetadataHeaders("From", "Subject").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get gmail message %s for draft: %w", messageID, err)
	}

	var from, subject string
	if orig.Payload != nil {
		for _, h := range orig.Payload.Headers {
			switch h.Name {
			case "From":
				from = h.Value
			case "Subject":
				subject = h.Value
			}
		}
	}

	mime := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: Re: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s",
		acct.Email, from, subject, body)

	draft := &gmailapi.Draft{
		Message: &gmailapi.Message{
			Raw:      base64.URLEncoding.EncodeToString([]byte(mime)),
			ThreadId: orig.ThreadId,
		},
	}
	if _, err := svc.Users.Drafts.Create("me", draft).Context(ctx).Do(); err != nil {
		return fmt.Errorf("create gmail draft for %s: %w", messageID, err)
	}
	return nil
}

// RefreshTokenIfNeeded exchanges the refresh token for a new access token
// when the stored one is expired or about to expire.
func (c *Connector) RefreshTokenIfNeeded(ctx context.Context, acct *models.Account) (*models.Account, error) {
	if acct.AccessToken != "" && time.Until(acct.TokenExpiry) > time.Minute {
		return acct, nil
	}
	if acct.RefreshToken == "" {
		return nil, fmt.Errorf("account %s has no refresh token", acct.ID)
	}

	tok, err := c.oauthCfg.TokenSource(ctx, c.token(acct)).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh gmail token for account %s: %w", acct.ID, err)
	}

	// Return a copy so callers can tell refreshed credentials from the
	// stored ones.
	updated := *acct
	updated.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		updated.RefreshToken = tok.RefreshToken
	}
	updated.TokenExpiry = tok.Expiry
	return &updated, nil
}

// FormatCursor encodes a checkpoint time as epoch millis.
func (c *Connector) FormatCursor(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// ParseCursor decodes an epoch-millis checkpoint.
func (c *Connector) ParseCursor(cursor string) (time.Time, error) {
	ms, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse gmail cursor %q: %w", cursor, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}
