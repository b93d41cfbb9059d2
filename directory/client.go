// Package directory is the client for the identity directory that owns
// login accounts: creation, enable/disable, password and e-mail changes,
// deletion.
package directory

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Profile is what the directory needs to open an account.
type Profile struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// Patch changes an existing account. Nil fields are left unchanged.
type Patch struct {
	Enabled  *bool   `json:"enabled,omitempty"`
	Password *string `json:"password,omitempty"`
	Email    *string `json:"email,omitempty"`
}

type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// CreateUser opens a disabled account and returns the directory id.
func (c *Client) CreateUser(ctx context.Context, p Profile) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/users", p, &out); err != nil {
		return "", fmt.Errorf("directory create user: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("directory create user: empty id in response")
	}
	return out.ID, nil
}

func (c *Client) UpdateUser(ctx context.Context, id string, p Patch) error {
	if err := c.do(ctx, http.MethodPatch, "/users/"+url.PathEscape(id), p, nil); err != nil {
		return fmt.Errorf("directory update user %s: %w", id, err)
	}
	return nil
}

func (c *Client) DeleteUser(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/users/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("directory delete user %s: %w", id, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

const passwordAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789!@#$%&*"

// GeneratePassword returns a random temporary password of length n
// (minimum 12) containing at least one upper, lower, digit and symbol.
func GeneratePassword(n int) (string, error) {
	if n < 12 {
		n = 12
	}
	classes := []string{
		"ABCDEFGHJKLMNPQRSTUVWXYZ",
		"abcdefghijkmnopqrstuvwxyz",
		"23456789",
		"!@#$%&*",
	}
	out := make([]byte, 0, n)
	for _, cls := range classes {
		ch, err := pick(cls)
		if err != nil {
			return "", err
		}
		out = append(out, ch)
	}
	for len(out) < n {
		ch, err := pick(passwordAlphabet)
		if err != nil {
			return "", err
		}
		out = append(out, ch)
	}
	// Shuffle so the class prefix is not predictable.
	for i := len(out) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", fmt.Errorf("generate password: %w", err)
		}
		out[i], out[j.Int64()] = out[j.Int64()], out[i]
	}
	return string(out), nil
}

func pick(alphabet string) (byte, error) {
	i, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
	if err != nil {
		return 0, fmt.Errorf("generate password: %w", err)
	}
	return alphabet[i.Int64()], nil
}
