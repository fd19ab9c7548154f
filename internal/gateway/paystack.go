package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/spf13/viper"
)

// PaystackClient talks to the Paystack REST API. Amounts cross this boundary
// in minor units, which is also Paystack's own convention.
type PaystackClient struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

func NewPaystackClient() *PaystackClient {
	viper.SetDefault("paystack.base_url", "https://api.paystack.co")
	viper.SetDefault("paystack.timeout", 15*time.Second)

	return &PaystackClient{
		baseURL:   viper.GetString("paystack.base_url"),
		secretKey: viper.GetString("paystack.secret_key"),
		httpClient: &http.Client{
			Timeout: viper.GetDuration("paystack.timeout"),
		},
	}
}

type initializeBody struct {
	Email       string `json:"email"`
	Amount      int64  `json:"amount"`
	Reference   string `json:"reference"`
	CallbackURL string `json:"callback_url,omitempty"`
}

type initializeResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

// Initiate sets up a hosted payment page for the given reference.
func (c *PaystackClient) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error) {
	payload, err := json.Marshal(initializeBody{
		Email:       req.Email,
		Amount:      req.Amount,
		Reference:   req.Reference,
		CallbackURL: req.CallbackURL,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/transaction/initialize", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.secretKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		log.Printf("[GATEWAY] Initialize request failed for %s: %v", req.Reference, err)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("[GATEWAY] Initialize returned status %d for %s", resp.StatusCode, req.Reference)
		return nil, fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	var out initializeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if !out.Status {
		return nil, fmt.Errorf("gateway rejected initialization: %s", out.Message)
	}

	return &InitiateResponse{
		AuthorizationURL: out.Data.AuthorizationURL,
		AccessCode:       out.Data.AccessCode,
		Reference:        out.Data.Reference,
	}, nil
}

type webhookEnvelope struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
		PaidAt    string `json:"paid_at"`
	} `json:"data"`
}

// ParseWebhookEvent verifies the x-paystack-signature header (HMAC-SHA512 of
// the raw body keyed with the secret key) and normalizes the envelope.
func (c *PaystackClient) ParseWebhookEvent(signature string, body []byte) (*WebhookEvent, error) {
	if !c.verifySignature(signature, body) {
		return nil, ErrInvalidSignature
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("unparseable webhook body: %w", err)
	}

	if envelope.Data.Reference == "" {
		return nil, ErrMalformedEvent
	}

	return &WebhookEvent{
		Event:     envelope.Event,
		Reference: envelope.Data.Reference,
		Status:    envelope.Data.Status,
		Amount:    envelope.Data.Amount,
		Currency:  envelope.Data.Currency,
		PaidAt:    envelope.Data.PaidAt,
	}, nil
}

func (c *PaystackClient) verifySignature(signature string, body []byte) bool {
	if signature == "" {
		return false
	}

	h := hmac.New(sha512.New, []byte(c.secretKey))
	h.Write(body)
	expected := hex.EncodeToString(h.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}
