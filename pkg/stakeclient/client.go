/**
 * @description
 * This package provides a client for the external staking platform that
 * delegated reward-token balances earn yield on. It encapsulates the logic
 * for making authenticated HTTP requests to the platform's deposit and
 * withdrawal endpoints and parsing the receipt-based responses.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package stakeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Client is a client for the staking platform API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new staking platform client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// DepositRequest is the payload for staking a balance with a validator target.
type DepositRequest struct {
	Amount int64  `json:"amount"`
	Target string `json:"target"`
}

// DepositResponse carries the receipt that redeems the staked position later.
type DepositResponse struct {
	Data struct {
		Receipt string `json:"receipt"`
		Amount  int64  `json:"amount"`
		Status  string `json:"status"`
	} `json:"data"`
}

// WithdrawRequest is the payload for unstaking a previously issued receipt.
type WithdrawRequest struct {
	Receipt string `json:"receipt"`
}

// WithdrawResponse carries the value returned for a redeemed receipt.
type WithdrawResponse struct {
	Data struct {
		Amount int64  `json:"amount"`
		Status string `json:"status"`
	} `json:"data"`
}

// ErrorResponse represents an error from the staking platform API.
type ErrorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Status string `json:"status"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("stake api error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown stake api error"
}

// Deposit stakes the given amount with the configured validator target and
// returns the receipt that must be presented to withdraw.
func (c *Client) Deposit(ctx context.Context, amount int64, target string) (*DepositResponse, error) {
	payload := DepositRequest{Amount: amount, Target: target}
	var resp DepositResponse
	if err := c.do(ctx, "deposit", "/api/v1/stakes", payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Withdraw redeems a staking receipt and returns the unstaked value.
func (c *Client) Withdraw(ctx context.Context, receipt string) (*WithdrawResponse, error) {
	payload := WithdrawRequest{Receipt: receipt}
	var resp WithdrawResponse
	if err := c.do(ctx, "withdraw", "/api/v1/stakes/withdraw", payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, op, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-stake-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute %s request: %w", op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=stake_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", op, resp.StatusCode)
			return fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=stake_client op=%s status=%d title=%q", op, resp.StatusCode, firstErrorTitle(errResp))
		return &errResp
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode success response: %w", err)
	}
	return nil
}

func firstErrorTitle(resp ErrorResponse) string {
	if len(resp.Errors) == 0 {
		return ""
	}
	return resp.Errors[0].Title
}
