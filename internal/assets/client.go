// Package assets is the HTTP client for the asset-hosting service that
// stores vendor logos.
package assets

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
	"time"

	"stallfront/internal/onboarding"
)

const defaultTimeout = 30 * time.Second

// Client implements onboarding.AssetStore against the asset host's REST API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{BaseURL: baseURL, APIKey: apiKey}
}

type uploadResponse struct {
	AssetID string `json:"asset_id"`
	URL     string `json:"url"`
}

// Upload posts the file as multipart form data and returns the hosted asset.
func (c *Client) Upload(ctx context.Context, filename string, content []byte) (onboarding.Asset, error) {
	if filename == "" {
		filename = "upload.bin"
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return onboarding.Asset{}, err
	}
	if _, err := part.Write(content); err != nil {
		return onboarding.Asset{}, err
	}
	if err := mw.Close(); err != nil {
		return onboarding.Asset{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base()+"/upload", &buf)
	if err != nil {
		return onboarding.Asset{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)

	resp, err := c.client().Do(req)
	if err != nil {
		return onboarding.Asset{}, fmt.Errorf("asset upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return onboarding.Asset{}, apiError(resp)
	}
	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return onboarding.Asset{}, fmt.Errorf("asset upload: decode response: %w", err)
	}
	if out.AssetID == "" || out.URL == "" {
		return onboarding.Asset{}, fmt.Errorf("asset upload: response missing asset_id or url")
	}
	return onboarding.Asset{ID: out.AssetID, URL: out.URL}, nil
}

// Delete removes a hosted asset. Deleting an asset that no longer exists is
// treated as success so compensation can run repeatedly.
func (c *Client) Delete(ctx context.Context, assetID string) error {
	endpoint := c.base() + "/assets/" + url.PathEscape(assetID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	resp, err := c.client().Do(req)
	if err != nil {
		return fmt.Errorf("asset delete: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode >= 300 {
		return apiError(resp)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.APIKey != "" {
		req.Header.Set("X-Api-Key", c.APIKey)
	}
}

func (c *Client) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	c.HTTPClient = &http.Client{Timeout: defaultTimeout}
	return c.HTTPClient
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

func apiError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("asset host: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
}
