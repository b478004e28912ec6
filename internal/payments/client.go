// Package payments is the HTTP client for the payout processor. It covers
// the two calls onboarding needs: account resolution for inline payout
// validation, and transfer-recipient creation. The processor manages
// recipients and offers no client-invocable delete.
package payments

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

	"stallfront/internal/onboarding"
)

const defaultTimeout = 15 * time.Second

// Client implements onboarding.PaymentsProcessor.
type Client struct {
	BaseURL    string
	SecretKey  string
	HTTPClient *http.Client
}

func New(baseURL, secretKey string) *Client {
	return &Client{BaseURL: baseURL, SecretKey: secretKey}
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type resolveData struct {
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
}

type recipientData struct {
	RecipientCode string `json:"recipient_code"`
}

// ResolveAccount looks up the account holder's name for inline validation
// during the payout stage. Read-only; not part of the saga.
func (c *Client) ResolveAccount(ctx context.Context, bankCode, accountNumber string) (string, error) {
	q := url.Values{}
	q.Set("bank_code", bankCode)
	q.Set("account_number", accountNumber)
	var data resolveData
	if err := c.do(ctx, http.MethodGet, "/bank/resolve?"+q.Encode(), nil, &data); err != nil {
		return "", err
	}
	if data.AccountName == "" {
		return "", fmt.Errorf("payments: account %s/%s did not resolve", bankCode, accountNumber)
	}
	return data.AccountName, nil
}

// CreateRecipient registers a transfer recipient for vendor payouts and
// returns the processor's opaque recipient code.
func (c *Client) CreateRecipient(ctx context.Context, details onboarding.RecipientDetails) (string, error) {
	body := map[string]any{
		"type":           "nuban",
		"name":           details.Name,
		"bank_code":      details.BankCode,
		"account_number": details.AccountNumber,
		"currency":       details.Currency,
	}
	var data recipientData
	if err := c.do(ctx, http.MethodPost, "/transferrecipient", body, &data); err != nil {
		return "", err
	}
	if data.RecipientCode == "" {
		return "", fmt.Errorf("payments: recipient response missing recipient_code")
	}
	return data.RecipientCode, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base()+endpoint, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.SecretKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	}
	resp, err := c.client().Do(req)
	if err != nil {
		return fmt.Errorf("payments: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("payments: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("payments: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("payments: decode response: %w", err)
	}
	if !env.Status {
		return fmt.Errorf("payments: %s", env.Message)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("payments: decode data: %w", err)
		}
	}
	return nil
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
