package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// AdminClient talks to the Supabase Admin API. Only the seed command uses
// it, to create the dev accounts that own sample notes.
type AdminClient struct {
	supabaseURL string
	serviceKey  string
	httpClient  *http.Client
}

// NewAdminClient creates a client authenticated with the service role key
func NewAdminClient(supabaseURL, serviceKey string) *AdminClient {
	return &AdminClient{
		supabaseURL: supabaseURL,
		serviceKey:  serviceKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type adminUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// EnsureUser returns the id of the user with email, creating a confirmed
// account with password when none exists.
func (c *AdminClient) EnsureUser(ctx context.Context, email, password string) (string, error) {
	var list struct {
		Users []adminUser `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/auth/v1/admin/users", nil, &list); err != nil {
		return "", fmt.Errorf("list users: %w", err)
	}
	for _, u := range list.Users {
		if u.Email == email {
			return u.ID, nil
		}
	}

	payload := map[string]interface{}{
		"email":         email,
		"password":      password,
		"email_confirm": true,
	}
	var created adminUser
	if err := c.do(ctx, http.MethodPost, "/auth/v1/admin/users", payload, &created); err != nil {
		return "", fmt.Errorf("create user %s: %w", email, err)
	}
	return created.ID, nil
}

func (c *AdminClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.supabaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("apikey", c.serviceKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
