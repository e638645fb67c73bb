package nowpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to the NOWPayments-style invoice API.
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

type createPaymentRequest struct {
	PriceAmount      string `json:"price_amount"`
	PriceCurrency    string `json:"price_currency"`
	PayCurrency      string `json:"pay_currency"`
	OrderID          string `json:"order_id"`
	IPNCallbackURL   string `json:"ipn_callback_url"`
	IsFixedRate      bool   `json:"is_fixed_rate"`
	OrderDescription string `json:"order_description,omitempty"`
}

type paymentResponse struct {
	PaymentID      json.Number `json:"payment_id"`
	PaymentStatus  string      `json:"payment_status"`
	PayAddress     string      `json:"pay_address"`
	PayinExtraID   string      `json:"payin_extra_id"`
	PayAmount      json.Number `json:"pay_amount"`
	ActuallyPaid   json.Number `json:"actually_paid"`
	ActuallyPaidAt json.Number `json:"actually_paid_at_fiat"`
	PayinHash      string      `json:"payin_hash"`
	ExpirationDate string      `json:"expiration_estimate_date"`
}

type minAmountResponse struct {
	Currency       string      `json:"currency_from"`
	MinAmount      json.Number `json:"min_amount"`
	FiatEquivalent json.Number `json:"fiat_equivalent"`
}

func (c *Client) createPayment(ctx context.Context, body createPaymentRequest) (*paymentResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/payment", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	var out paymentResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getPayment(ctx context.Context, paymentID string) (*paymentResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/payment/"+paymentID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", c.APIKey)

	var out paymentResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getMinAmount(ctx context.Context, payCurrency, fiat string) (*minAmountResponse, error) {
	url := fmt.Sprintf("%s/v1/min-amount?currency_from=%s&currency_to=%s&fiat_equivalent=%s",
		c.BaseURL, payCurrency, payCurrency, fiat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", c.APIKey)

	var out minAmountResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.HttpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("nowpay: %s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, body)
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	return dec.Decode(out)
}
