package coinpay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to the permanent-address provider API.
type Client struct {
	BaseURL    string
	APIKey     string
	HttpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HttpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type callbackAddressResponse struct {
	Status string `json:"status"`
	Data   struct {
		Address string `json:"address"`
		DestTag string `json:"dest_tag"`
	} `json:"data"`
	Message string `json:"message"`
}

// getCallbackAddress mints (or returns) the durable deposit address bound
// to the label; the provider notifies the IPN URL on every incoming
// transfer to it.
func (c *Client) getCallbackAddress(ctx context.Context, currency, label, ipnURL string) (*callbackAddressResponse, error) {
	form := url.Values{}
	form.Set("currency", currency)
	form.Set("label", label)
	form.Set("ipn_url", ipnURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/api/v1/get_callback_address", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HttpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("coinpay: get_callback_address: status %d: %s", resp.StatusCode, body)
	}

	var out callbackAddressResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if out.Status != "success" {
		return nil, fmt.Errorf("coinpay: get_callback_address: %s", out.Message)
	}
	return &out, nil
}
