// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// The webinar-sync-helper service.
package main

// SharePoint list access through Microsoft Graph.
//
// The working list folder is located from the stored parameters: the site by
// "host:path", the list by display name, and the folder by title among the
// list's folder items (content type IDs starting with 0x0120). Graph cannot
// filter list items by folder, so every item is fetched and the folder's
// rows are picked client-side by their webUrl.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"golang.org/x/oauth2"
)

const (
	defaultGraphAPIURL    = "https://graph.microsoft.com/v1.0"
	graphDefaultScope     = "https://graph.microsoft.com/.default"
	folderContentTypeID   = "0x0120"
	graphItemPageSize     = "5000"
	graphFolderTitleField = "Title"
)

// azureTokenSource adapts an azcore credential to oauth2.TokenSource.
type azureTokenSource struct {
	ctx    context.Context
	cred   azcore.TokenCredential
	scopes []string
}

// Token implements oauth2.TokenSource.
func (s *azureTokenSource) Token() (*oauth2.Token, error) {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.TODO()
	}
	tok, err := s.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: s.scopes})
	if err != nil {
		return nil, fmt.Errorf("failed to get Graph token: %w", err)
	}
	return &oauth2.Token{
		AccessToken: tok.Token,
		TokenType:   "Bearer",
		Expiry:      tok.ExpiresOn,
	}, nil
}

// newGraphHTTPClient returns an HTTP client authenticated as the SharePoint
// app registration.
func newGraphHTTPClient(ctx context.Context, tenantID, clientID, clientSecret string) (*http.Client, error) {
	if !strings.Contains(tenantID, ".") {
		tenantID += ".onmicrosoft.com"
	}
	cred, err := azidentity.NewClientSecretCredential(tenantID, clientID, clientSecret, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create SharePoint credential: %w", err)
	}
	src := oauth2.ReuseTokenSource(nil, &azureTokenSource{
		ctx:    ctx,
		cred:   cred,
		scopes: []string{graphDefaultScope},
	})
	return oauth2.NewClient(ctx, src), nil
}

// GraphClient calls the Microsoft Graph REST API.
type GraphClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGraphClient returns a client for the API at baseURL.
func NewGraphClient(baseURL string, httpClient *http.Client) *GraphClient {
	if baseURL == "" {
		baseURL = defaultGraphAPIURL
	}
	return &GraphClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
	}
}

// graphError is the Graph error envelope.
type graphError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *GraphClient) do(ctx context.Context, method, endpoint string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}
	if !strings.HasPrefix(endpoint, "http") {
		endpoint = c.baseURL + endpoint
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	// Filtering on contentType is not backed by an index.
	req.Header.Set("Prefer", "HonorNonIndexedQueriesWarningMayFailRandomly")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var ge graphError
		if json.Unmarshal(body, &ge) == nil && ge.Error.Message != "" {
			return fmt.Errorf("graph API returned status %d: %s: %s", resp.StatusCode, ge.Error.Code, ge.Error.Message)
		}
		return fmt.Errorf("graph API returned status %d: %s", resp.StatusCode, string(body))
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}

// graphCollect reads every page of a Graph collection.
func graphCollect[T any](ctx context.Context, c *GraphClient, endpoint string) ([]T, error) {
	var all []T
	for endpoint != "" {
		var page struct {
			Value    []T    `json:"value"`
			NextLink string `json:"@odata.nextLink"`
		}
		if err := c.do(ctx, http.MethodGet, endpoint, nil, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Value...)
		endpoint = page.NextLink
	}
	return all, nil
}

type graphSite struct {
	ID string `json:"id"`
}

type graphList struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type graphColumn struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

type graphItem struct {
	ID          string `json:"id"`
	WebURL      string `json:"webUrl"`
	ContentType struct {
		ID string `json:"id"`
	} `json:"contentType"`
	Fields map[string]any `json:"fields"`
}

func (i *graphItem) isFolder() bool {
	return strings.HasPrefix(i.ContentType.ID, folderContentTypeID)
}

// graphListSource is the SourceList of one SharePoint list folder.
type graphListSource struct {
	client      *GraphClient
	siteID      string
	listID      string
	folderTitle string
}

// openGraphListSource resolves the site, list and folder named by params.
func openGraphListSource(ctx context.Context, client *GraphClient, params *SharePointParams) (*graphListSource, error) {
	siteURL, err := url.Parse(params.SiteURL)
	if err != nil || siteURL.Host == "" {
		return nil, fmt.Errorf("invalid SharePoint site URL %q", params.SiteURL)
	}

	var site graphSite
	if err := client.do(ctx, http.MethodGet, "/sites/"+siteURL.Host+":"+siteURL.EscapedPath(), nil, &site); err != nil {
		return nil, fmt.Errorf("failed to get site %s: %w", params.SiteURL, err)
	}

	lists, err := graphCollect[graphList](ctx, client, "/sites/"+site.ID+"/lists")
	if err != nil {
		return nil, fmt.Errorf("failed to get lists: %w", err)
	}
	src := &graphListSource{client: client, siteID: site.ID}
	for _, l := range lists {
		if l.DisplayName == params.ListName {
			src.listID = l.ID
			break
		}
	}
	if src.listID == "" {
		return nil, fmt.Errorf("list %q not found in site %s", params.ListName, params.SiteURL)
	}

	query := url.Values{}
	query.Set("expand", "fields")
	query.Set("$filter", "startswith(contentType/id, '"+folderContentTypeID+"')")
	folders, err := graphCollect[graphItem](ctx, client, src.itemsPath()+"?"+query.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to get list folders: %w", err)
	}
	for _, f := range folders {
		if f.isFolder() && stringValue(f.Fields[graphFolderTitleField]) == params.FolderName {
			src.folderTitle = params.FolderName
			break
		}
	}
	if src.folderTitle == "" {
		return nil, fmt.Errorf("folder %q not found in list %q", params.FolderName, params.ListName)
	}
	return src, nil
}

func (s *graphListSource) itemsPath() string {
	return "/sites/" + s.siteID + "/lists/" + s.listID + "/items"
}

// ListColumns implements SourceList.
func (s *graphListSource) ListColumns(ctx context.Context) (map[string]string, error) {
	columns, err := graphCollect[graphColumn](ctx, s.client, "/sites/"+s.siteID+"/lists/"+s.listID+"/columns")
	if err != nil {
		return nil, fmt.Errorf("failed to get list columns: %w", err)
	}
	result := make(map[string]string, len(columns))
	for _, col := range columns {
		result[col.DisplayName] = col.Name
	}
	return result, nil
}

// ListRows implements SourceList.
func (s *graphListSource) ListRows(ctx context.Context) ([]Row, error) {
	query := url.Values{}
	query.Set("expand", "fields")
	query.Set("$top", graphItemPageSize)
	items, err := graphCollect[graphItem](ctx, s.client, s.itemsPath()+"?"+query.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to get list items: %w", err)
	}

	marker := "/" + url.PathEscape(s.folderTitle) + "/"
	var rows []Row
	for _, item := range items {
		if item.ContentType.ID == "" || item.isFolder() || !strings.Contains(item.WebURL, marker) {
			continue
		}
		rows = append(rows, newListRow(item.ID, item.Fields, s.patchFields))
	}
	return rows, nil
}

// patchFields saves changed field values of an item.
func (s *graphListSource) patchFields(ctx context.Context, rowID string, changes map[string]any) error {
	return s.client.do(ctx, http.MethodPatch, s.itemsPath()+"/"+url.PathEscape(rowID)+"/fields", changes, nil)
}

// sharePointSource opens the list folder named by the current parameters at
// the start of every pass, so folder changes take effect without a restart.
type sharePointSource struct {
	params ParamStore
	client *GraphClient
}

// OpenSource implements SourceOpener.
func (s *sharePointSource) OpenSource(ctx context.Context) (SourceList, error) {
	params, err := loadSharePointParams(ctx, s.params)
	if err != nil {
		return nil, &InitError{Stage: "sharepoint", Err: err}
	}
	src, err := openGraphListSource(ctx, s.client, params)
	if err != nil {
		return nil, &InitError{Stage: "sharepoint", Err: err}
	}
	return src, nil
}
