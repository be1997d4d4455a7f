// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// The webinar-sync-helper service.
package main

// HTTP client for the Webex REST API.
//
// Authentication is handled by the *http.Client (an oauth2 client carrying
// either the integration's user token or the bot token). Collection responses
// are paged with RFC 5988 Link headers; the client follows rel="next" until
// exhausted.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
)

const (
	defaultWebexAPIURL = "https://webexapis.com/v1"
	inviteePageSize    = "100"
)

// WebexClient calls the Webex REST API.
type WebexClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewWebexClient returns a client for the API at baseURL using httpClient for
// authenticated transport.
func NewWebexClient(baseURL string, httpClient *http.Client) *WebexClient {
	if baseURL == "" {
		baseURL = defaultWebexAPIURL
	}
	return &WebexClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
	}
}

// CreateWebinar schedules a new webinar.
func (c *WebexClient) CreateWebinar(ctx context.Context, spec WebinarSpec) (*Webinar, error) {
	var webinar Webinar
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/meetings", spec, &webinar); err != nil {
		return nil, err
	}
	return &webinar, nil
}

// GetWebinar fetches a webinar by ID.
func (c *WebexClient) GetWebinar(ctx context.Context, id string) (*Webinar, error) {
	var webinar Webinar
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/meetings/"+url.PathEscape(id), nil, &webinar); err != nil {
		return nil, err
	}
	return &webinar, nil
}

// UpdateWebinar replaces the webinar's properties. With notify set Webex
// emails attendees and panelists about the change.
func (c *WebexClient) UpdateWebinar(ctx context.Context, id string, spec WebinarSpec, notify bool) (*Webinar, error) {
	spec.SendEmail = &notify
	var webinar Webinar
	if err := c.do(ctx, http.MethodPut, c.baseURL+"/meetings/"+url.PathEscape(id), spec, &webinar); err != nil {
		return nil, err
	}
	return &webinar, nil
}

// ListInvitees returns every invitee of a webinar, following pagination.
// panelistsOnly restricts the listing to panelists and cohosts.
func (c *WebexClient) ListInvitees(ctx context.Context, webinarID string, panelistsOnly bool) ([]Invitee, error) {
	query := url.Values{}
	query.Set("meetingId", webinarID)
	query.Set("max", inviteePageSize)
	if panelistsOnly {
		query.Set("panelist", "true")
	}

	var invitees []Invitee
	next := c.baseURL + "/meetingInvitees?" + query.Encode()
	for next != "" {
		var page struct {
			Items []Invitee `json:"items"`
		}
		header, err := c.doWithHeader(ctx, http.MethodGet, next, nil, &page)
		if err != nil {
			return nil, err
		}
		invitees = append(invitees, page.Items...)
		next = nextLink(header.Get("Link"))
	}
	return invitees, nil
}

// CreateInvitee invites a person to a webinar.
func (c *WebexClient) CreateInvitee(ctx context.Context, spec InviteeSpec) (*Invitee, error) {
	var invitee Invitee
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/meetingInvitees", spec, &invitee); err != nil {
		return nil, err
	}
	return &invitee, nil
}

// UpdateInvitee changes an invitee's name or role.
func (c *WebexClient) UpdateInvitee(ctx context.Context, id string, spec InviteeSpec) (*Invitee, error) {
	var invitee Invitee
	if err := c.do(ctx, http.MethodPut, c.baseURL+"/meetingInvitees/"+url.PathEscape(id), spec, &invitee); err != nil {
		return nil, err
	}
	return &invitee, nil
}

// DeleteInvitee removes an invitee from a webinar.
func (c *WebexClient) DeleteInvitee(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.baseURL+"/meetingInvitees/"+url.PathEscape(id), nil, nil)
}

// Me returns the person the client's token belongs to.
func (c *WebexClient) Me(ctx context.Context) (*Person, error) {
	var person Person
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/people/me", nil, &person); err != nil {
		return nil, err
	}
	return &person, nil
}

// GetRoom fetches a room the client is a member of.
func (c *WebexClient) GetRoom(ctx context.Context, id string) (*Room, error) {
	var room Room
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/rooms/"+url.PathEscape(id), nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// PostMessage posts plain text to a room with an optional text file
// attachment.
func (c *WebexClient) PostMessage(ctx context.Context, roomID, text, fileName string, file []byte) error {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if err := form.WriteField("roomId", roomID); err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}
	if err := form.WriteField("text", text); err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}
	if fileName != "" {
		part, err := form.CreatePart(map[string][]string{
			"Content-Disposition": {fmt.Sprintf(`form-data; name="files"; filename=%q`, fileName)},
			"Content-Type":        {"text/plain"},
		})
		if err != nil {
			return fmt.Errorf("failed to build message attachment: %w", err)
		}
		if _, err := part.Write(file); err != nil {
			return fmt.Errorf("failed to build message attachment: %w", err)
		}
	}
	if err := form.Close(); err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	_, err = c.send(req, nil)
	return err
}

func (c *WebexClient) do(ctx context.Context, method, endpoint string, in, out any) error {
	_, err := c.doWithHeader(ctx, method, endpoint, in, out)
	return err
}

// doWithHeader sends a JSON request and decodes a JSON response into out,
// returning the response headers.
func (c *WebexClient) doWithHeader(ctx context.Context, method, endpoint string, in, out any) (http.Header, error) {
	var reqBody io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *WebexClient) send(req *http.Request, out any) (http.Header, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseAPIError(resp, body)
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return resp.Header, nil
}

// parseAPIError builds an APIError from a non-2xx response, keeping the raw
// body as the message when it is not the Webex error envelope.
func parseAPIError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		TrackingID: resp.Header.Get("Trackingid"),
	}
	var envelope apiErrorBody
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
		return apiErr
	}
	apiErr.Message = envelope.Message
	if envelope.TrackingID != "" {
		apiErr.TrackingID = envelope.TrackingID
	}
	for _, e := range envelope.Errors {
		if e.Description != "" {
			apiErr.Details = append(apiErr.Details, e.Description)
		}
	}
	return apiErr
}

// nextLink extracts the rel="next" target from a Link header.
func nextLink(header string) string {
	for _, link := range strings.Split(header, ",") {
		segments := strings.Split(link, ";")
		if len(segments) < 2 {
			continue
		}
		target := strings.TrimSpace(segments[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		for _, param := range segments[1:] {
			key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
			if ok && strings.EqualFold(key, "rel") && strings.Trim(value, `"`) == "next" {
				return target[1 : len(target)-1]
			}
		}
	}
	return ""
}
