// Package stallfrontsdk is a minimal client for the Stallfront HTTP API.
package stallfrontsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to a Stallfront server. Authentication is either a vendor
// bearer token or an API key; the bearer token wins when both are set.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// WizardState mirrors the API wizard model.
type WizardState struct {
	CurrentStage    int          `json:"current_stage"`
	Stage           string       `json:"stage"`
	Stages          WizardStages `json:"stages"`
	SubmissionError string       `json:"submission_error,omitempty"`
	IsSubmitting    bool         `json:"is_submitting"`
	UpdatedAt       string       `json:"updated_at,omitempty"`
}

type WizardStages struct {
	Basics  map[string]any `json:"basics,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Social  map[string]any `json:"social,omitempty"`
	Payout  map[string]any `json:"payout,omitempty"`
}

// Vendor represents the API vendor profile model (partial).
type Vendor struct {
	VendorID           string `json:"vendor_id"`
	StoreName          string `json:"store_name"`
	OwnerName          string `json:"owner_name"`
	Bio                string `json:"bio"`
	LogoURL            string `json:"logo_url,omitempty"`
	PayoutRecipientID  string `json:"payout_recipient_id"`
	VerificationStatus string `json:"verification_status"`
	CreatedAt          string `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	VendorID   string         `json:"vendor_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// ResolvedAccount is the result of a bank account lookup.
type ResolvedAccount struct {
	BankCode      string `json:"bank_code"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Wizard returns the authenticated vendor's onboarding progress.
func (c *Client) Wizard(ctx context.Context) (WizardState, error) {
	var resp WizardState
	err := c.do(ctx, http.MethodGet, "v0/onboarding/wizard", nil, &resp)
	return resp, err
}

// SaveStage submits one stage's form values. The stage is one of basics,
// details, social or payout; fields carries the stage's form values.
func (c *Client) SaveStage(ctx context.Context, stage string, fields map[string]any) (WizardState, error) {
	var resp WizardState
	endpoint := "v0/onboarding/stages/" + url.PathEscape(stage)
	err := c.do(ctx, http.MethodPut, endpoint, fields, &resp)
	return resp, err
}

// Back navigates the wizard one stage backward.
func (c *Client) Back(ctx context.Context) (WizardState, error) {
	var resp WizardState
	err := c.do(ctx, http.MethodPost, "v0/onboarding/back", nil, &resp)
	return resp, err
}

// Submit runs the final onboarding submission.
func (c *Client) Submit(ctx context.Context) (Vendor, error) {
	var resp Vendor
	err := c.do(ctx, http.MethodPost, "v0/onboarding/submit", nil, &resp)
	return resp, err
}

// Abandon discards the wizard state.
func (c *Client) Abandon(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "v0/onboarding", nil, nil)
}

// Vendor fetches one vendor profile.
func (c *Client) Vendor(ctx context.Context, vendorID string) (Vendor, error) {
	var resp Vendor
	endpoint := "v0/vendors/" + url.PathEscape(vendorID)
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Vendors lists vendor profiles.
func (c *Client) Vendors(ctx context.Context) ([]Vendor, error) {
	var resp []Vendor
	err := c.do(ctx, http.MethodGet, "v0/vendors", nil, &resp)
	return resp, err
}

// ResolveAccount looks up the holder name of a bank account.
func (c *Client) ResolveAccount(ctx context.Context, bankCode, accountNumber string) (ResolvedAccount, error) {
	var resp ResolvedAccount
	endpoint := fmt.Sprintf("v0/banks/resolve?bank_code=%s&account_number=%s",
		url.QueryEscape(bankCode), url.QueryEscape(accountNumber))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
