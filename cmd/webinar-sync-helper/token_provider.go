// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// The webinar-sync-helper service.
package main

// Webex integration token handling.
//
// The integration acts on behalf of the Webex user who authorized it. Its
// access token lives for 14 days and its refresh token for 90 days since last
// use, so the token document is refreshed once the access token is past half
// of its lifetime, and the new document is saved back to the parameter store.

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/oauth2"
)

const (
	webexTokenURL       = "https://webexapis.com/v1/access_token"
	webexAccessLifetime = 14 * 24 * time.Hour
)

// TokenProvider returns a usable Webex integration access token.
type TokenProvider interface {
	ValidToken(ctx context.Context) (string, error)
}

// tokenDocument is the stored token set. Created is Unix seconds; fractional
// values written by earlier tooling are accepted.
type tokenDocument struct {
	AccessToken           string  `json:"access_token" msgpack:"access_token"`
	RefreshToken          string  `json:"refresh_token" msgpack:"refresh_token"`
	ExpiresIn             int64   `json:"expires_in,omitempty" msgpack:"expires_in,omitempty"`
	RefreshTokenExpiresIn int64   `json:"refresh_token_expires_in,omitempty" msgpack:"refresh_token_expires_in,omitempty"`
	Created               float64 `json:"created" msgpack:"created"`
}

func (d *tokenDocument) createdAt() time.Time {
	sec, frac := math.Modf(d.Created)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// decodeTokenDocument decodes a JSON token document, falling back to msgpack.
func decodeTokenDocument(data []byte) (*tokenDocument, error) {
	var doc tokenDocument
	jsonErr := json.Unmarshal(data, &doc)
	if jsonErr == nil {
		return &doc, nil
	}
	doc = tokenDocument{}
	if err := msgpack.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode token document as JSON (%v) or msgpack: %w", jsonErr, err)
	}
	return &doc, nil
}

// webexTokenProvider reads the token document from a ParamStore and refreshes
// it through the OAuth2 refresh grant.
type webexTokenProvider struct {
	store  ParamStore
	oauth  *oauth2.Config
	now    func() time.Time
	logger *slog.Logger
}

// newWebexOAuthConfig returns the OAuth2 client configuration of the
// integration. Webex expects the client credentials in the form body.
func newWebexOAuthConfig(clientID, clientSecret, tokenURL string) *oauth2.Config {
	if tokenURL == "" {
		tokenURL = webexTokenURL
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// ValidToken implements TokenProvider.
func (p *webexTokenProvider) ValidToken(ctx context.Context) (string, error) {
	raw, err := p.store.GetParam(ctx, paramWebexTokens)
	if err != nil {
		return "", fmt.Errorf("failed to read webex tokens: %w", err)
	}
	doc, err := decodeTokenDocument([]byte(raw))
	if err != nil {
		return "", err
	}

	now := p.now()
	if now.Before(doc.createdAt().Add(webexAccessLifetime / 2)) {
		return doc.AccessToken, nil
	}

	refreshed, err := p.refresh(ctx, doc, now)
	if err != nil {
		return "", err
	}
	if p.logger != nil {
		p.logger.With("previous_created", doc.createdAt().UTC().Format(time.RFC3339)).InfoContext(ctx, "refreshed webex integration token")
	}
	return refreshed.AccessToken, nil
}

// refresh exchanges the refresh token for a new token set and saves it.
func (p *webexTokenProvider) refresh(ctx context.Context, doc *tokenDocument, now time.Time) (*tokenDocument, error) {
	// An empty access token forces the token source to use the refresh grant.
	token, err := p.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: doc.RefreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh webex token: %w", err)
	}

	next := &tokenDocument{
		AccessToken:           token.AccessToken,
		RefreshToken:          token.RefreshToken,
		ExpiresIn:             token.ExpiresIn,
		RefreshTokenExpiresIn: extraInt64(token, "refresh_token_expires_in"),
		Created:               float64(now.UnixNano()) / 1e9,
	}
	if next.RefreshToken == "" {
		next.RefreshToken = doc.RefreshToken
	}

	payload, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webex tokens: %w", err)
	}
	if err := p.store.PutParam(ctx, paramWebexTokens, string(payload), true); err != nil {
		return nil, fmt.Errorf("failed to save webex tokens: %w", err)
	}
	return next, nil
}

// extraInt64 reads a numeric extra field of a token response.
func extraInt64(token *oauth2.Token, key string) int64 {
	switch v := token.Extra(key).(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case json.Number:
		n, _ := v.Int64()
		return n
	default:
		return 0
	}
}

// webexIntegration opens the Webex API with the integration's current token
// for each pass.
type webexIntegration struct {
	tokens  TokenProvider
	baseURL string
}

// OpenWebinarAPI implements WebinarAPIOpener. The token is checked with a
// people/me call so that a revoked authorization fails the pass up front.
func (w *webexIntegration) OpenWebinarAPI(ctx context.Context) (WebinarAPI, error) {
	token, err := w.tokens.ValidToken(ctx)
	if err != nil {
		return nil, &InitError{Stage: "webex", Err: err}
	}
	client := NewWebexClient(w.baseURL, oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})))
	if _, err := client.Me(ctx); err != nil {
		return nil, &InitError{Stage: "webex", Err: fmt.Errorf("failed to verify integration token: %w", err)}
	}
	return client, nil
}
