package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/leviate/backend/internal/config"
	"github.com/leviate/backend/internal/models"
	"github.com/shopspring/decimal"
)

// APIError is a non-2xx answer or a status=false envelope from Paystack.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("paystack: status %d: %s", e.StatusCode, e.Message)
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// PaystackClient talks to the Paystack REST API for bank lookups and NUBAN
// transfers. Amounts cross the wire in kobo.
type PaystackClient struct {
	baseURL    string
	secretKey  string
	country    string
	httpClient *http.Client
}

func NewPaystackClient(cfg *config.PaystackConfig, timeout time.Duration) *PaystackClient {
	return &PaystackClient{
		baseURL:    cfg.BaseURL,
		secretKey:  cfg.SecretKey,
		country:    cfg.Country,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *PaystackClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("paystack: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("paystack: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("paystack: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("paystack: read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 300 {
			return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("paystack: decode response: %w", err)
	}
	if resp.StatusCode >= 300 || !env.Status {
		return &APIError{StatusCode: resp.StatusCode, Message: env.Message}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("paystack: decode data: %w", err)
		}
	}
	return nil
}

func (c *PaystackClient) ListBanks(ctx context.Context) ([]models.Bank, error) {
	var data []struct {
		Name   string `json:"name"`
		Code   string `json:"code"`
		Active bool   `json:"active"`
	}
	path := "/bank?country=" + url.QueryEscape(c.country) + "&perPage=100"
	if err := c.do(ctx, http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}

	banks := make([]models.Bank, 0, len(data))
	for _, b := range data {
		if !b.Active || b.Code == "" {
			continue
		}
		banks = append(banks, models.Bank{Code: b.Code, Name: b.Name})
	}
	return banks, nil
}

func (c *PaystackClient) ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*models.ResolvedAccount, error) {
	var data struct {
		AccountNumber string `json:"account_number"`
		AccountName   string `json:"account_name"`
	}
	q := url.Values{}
	q.Set("account_number", accountNumber)
	q.Set("bank_code", bankCode)
	if err := c.do(ctx, http.MethodGet, "/bank/resolve?"+q.Encode(), nil, &data); err != nil {
		return nil, err
	}
	return &models.ResolvedAccount{
		AccountNumber: data.AccountNumber,
		AccountName:   data.AccountName,
		BankCode:      bankCode,
	}, nil
}

func (c *PaystackClient) CreateRecipient(ctx context.Context, accountName, accountNumber, bankCode string) (string, error) {
	body := map[string]string{
		"type":           "nuban",
		"name":           accountName,
		"account_number": accountNumber,
		"bank_code":      bankCode,
		"currency":       "NGN",
	}
	var data struct {
		RecipientCode string `json:"recipient_code"`
	}
	if err := c.do(ctx, http.MethodPost, "/transferrecipient", body, &data); err != nil {
		return "", err
	}
	return data.RecipientCode, nil
}

type transferData struct {
	TransferCode string `json:"transfer_code"`
	Reference    string `json:"reference"`
	Status       string `json:"status"`
}

func (d transferData) result() *models.TransferResult {
	return &models.TransferResult{
		Status:       models.TransferStatus(d.Status),
		TransferCode: d.TransferCode,
		Reference:    d.Reference,
	}
}

func (c *PaystackClient) InitiateTransfer(ctx context.Context, recipientToken string, amount decimal.Decimal, reason, reference string) (*models.TransferResult, error) {
	body := map[string]any{
		"source":    "balance",
		"amount":    ToKobo(amount),
		"recipient": recipientToken,
		"reason":    reason,
		"reference": reference,
	}
	var data transferData
	if err := c.do(ctx, http.MethodPost, "/transfer", body, &data); err != nil {
		return nil, err
	}
	return data.result(), nil
}

func (c *PaystackClient) VerifyTransfer(ctx context.Context, transferCode string) (*models.TransferResult, error) {
	var data transferData
	if err := c.do(ctx, http.MethodGet, "/transfer/"+url.PathEscape(transferCode), nil, &data); err != nil {
		return nil, err
	}
	return data.result(), nil
}

// ToKobo converts a naira amount with at most two decimals to kobo.
func ToKobo(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
