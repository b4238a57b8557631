// Package supabase talks to the GoTrue admin API of a Supabase project.
package supabase

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

// Client calls the Supabase auth admin endpoints with the service role key.
type Client struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
}

// APIError represents a GoTrue error response.
type APIError struct {
	Status  int
	Message string
	Code    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("supabase: %d %s", e.Status, e.Message)
}

// Account is the part of a GoTrue user the backend cares about.
type Account struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func NewClient(baseURL, serviceKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// FindAccountByEmail returns the id of the account registered with email, or
// "" when there is none.
func (c *Client) FindAccountByEmail(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", nil
	}
	q := url.Values{}
	q.Set("filter", email)
	q.Set("per_page", "50")
	var resp listUsersResponse
	if err := c.doJSON(ctx, http.MethodGet, "/auth/v1/admin/users?"+q.Encode(), nil, &resp); err != nil {
		return "", err
	}
	// filter is a substring match; keep only the exact address
	for _, acc := range resp.Users {
		if strings.EqualFold(acc.Email, email) {
			return acc.ID, nil
		}
	}
	return "", nil
}

// ProvisionAccount creates a confirmed, passwordless account for email and
// returns its id.
func (c *Client) ProvisionAccount(ctx context.Context, email string) (string, error) {
	payload := map[string]any{"email": email, "email_confirm": true}
	var acc Account
	if err := c.doJSON(ctx, http.MethodPost, "/auth/v1/admin/users", payload, &acc); err != nil {
		return "", err
	}
	if acc.ID == "" {
		return "", fmt.Errorf("supabase: provisioned account for %s has no id", email)
	}
	return acc.ID, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Msg       string `json:"msg"`
			Message   string `json:"message"`
			ErrorCode string `json:"error_code"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Msg
		if msg == "" {
			msg = errResp.Message
		}
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: msg, Code: strings.TrimSpace(errResp.ErrorCode)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type listUsersResponse struct {
	Users []Account `json:"users"`
}
