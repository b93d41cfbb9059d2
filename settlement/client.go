// Package settlement is the client for the token settlement gateway that
// performs the actual on-chain movement behind a buy, sell or burn.
package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/warp/compliance-engine/ledger"
)

const defaultTimeout = 30 * time.Second

// Receipt is the gateway's proof of a completed movement.
type Receipt struct {
	TransactionHash string `json:"transactionHash"`
}

// Error is a failed or non-successful settlement call.
type Error struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("settlement ")
	b.WriteString(e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{ledger.ErrSettlement, e.Err}
	}
	return []error{ledger.ErrSettlement}
}

// Timeout reports whether the call was abandoned because it ran too long.
func (e *Error) Timeout() bool { return errors.Is(e.Err, context.DeadlineExceeded) }

// Client talks JSON over HTTP to the gateway. Every call runs under its
// own deadline; a hung gateway surfaces as a timeout Error.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.client = hc } }

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		timeout: defaultTimeout,
		client:  &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type createProductRequest struct {
	UserID        string `json:"userId"`
	ProductID     string `json:"productId"`
	Name          string `json:"name"`
	Symbol        string `json:"symbol"`
	InitialAmount int64  `json:"initialAmount"`
}

type buyRequest struct {
	ProductID string `json:"productId"`
	BuyerID   string `json:"buyerId"`
	Amount    int64  `json:"amount"`
}

type sellRequest struct {
	ProductID string `json:"productId"`
	BuyerID   string `json:"buyerId"`
	SellerID  string `json:"sellerId"`
	Amount    int64  `json:"amount"`
}

type burnRequest struct {
	ProductID string `json:"productId"`
	UserID    string `json:"userId"`
	Amount    int64  `json:"amount"`
}

type gatewayResponse struct {
	Success         bool   `json:"success"`
	TransactionHash string `json:"transactionHash"`
	Message         string `json:"message"`
}

// CreateProduct deploys the product's token with its initial supply.
func (c *Client) CreateProduct(ctx context.Context, userID, productID, name, symbol string, initialAmount int64) (Receipt, error) {
	return c.call(ctx, "create_product", "/products", createProductRequest{
		UserID: userID, ProductID: productID, Name: name, Symbol: symbol, InitialAmount: initialAmount,
	})
}

// Buy moves amount tokens from the issuer's supply to buyerID.
func (c *Client) Buy(ctx context.Context, productID, buyerID string, amount int64) (Receipt, error) {
	return c.call(ctx, "buy", "/buy", buyRequest{ProductID: productID, BuyerID: buyerID, Amount: amount})
}

// Sell moves amount tokens from sellerID to buyerID.
func (c *Client) Sell(ctx context.Context, productID, buyerID, sellerID string, amount int64) (Receipt, error) {
	return c.call(ctx, "sell", "/sell", sellRequest{ProductID: productID, BuyerID: buyerID, SellerID: sellerID, Amount: amount})
}

// Burn destroys amount tokens held by userID.
func (c *Client) Burn(ctx context.Context, productID, userID string, amount int64) (Receipt, error) {
	return c.call(ctx, "burn", "/burn", burnRequest{ProductID: productID, UserID: userID, Amount: amount})
}

func (c *Client) call(ctx context.Context, op, path string, body any) (Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return Receipt{}, &Error{Op: op, Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return Receipt{}, &Error{Op: op, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return Receipt{}, &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Receipt{}, &Error{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	var out gatewayResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil && resp.StatusCode < 300 {
			return Receipt{}, &Error{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
		}
	}

	if resp.StatusCode >= 300 {
		msg := out.Message
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return Receipt{}, &Error{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}
	if !out.Success || out.TransactionHash == "" {
		msg := out.Message
		if msg == "" {
			msg = "gateway reported no success"
		}
		return Receipt{}, &Error{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}

	return Receipt{TransactionHash: out.TransactionHash}, nil
}
