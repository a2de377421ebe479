package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ivmarkov/ticketflow/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const ProviderPayvault = "payvault"

// PayvaultProvider talks to the payvault REST API. Charge requests are
// authenticated with a basic auth key; incoming webhooks carry an
// HMAC-SHA256 hex signature computed over the raw body with a shared secret.
type PayvaultProvider struct {
	baseURL       string
	basicAuthKey  string
	webhookSecret []byte
	logger        *logrus.Logger
	hc            *http.Client
}

func NewPayvaultProvider(baseURL, basicAuthKey, webhookSecret string, logger *logrus.Logger, hc *http.Client) *PayvaultProvider {
	return &PayvaultProvider{
		baseURL:       baseURL,
		basicAuthKey:  basicAuthKey,
		webhookSecret: []byte(webhookSecret),
		logger:        logger,
		hc:            hc,
	}
}

func (p *PayvaultProvider) Name() string { return ProviderPayvault }

type payvaultChargeRequest struct {
	OrderRef      string `json:"order_ref"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	CustomerEmail string `json:"customer_email"`
	Description   string `json:"description,omitempty"`
}

type payvaultChargeResponse struct {
	TransactionRef string `json:"transaction_ref"`
	RedirectURL    string `json:"redirect_url"`
	Status         string `json:"status"`
}

func (p *PayvaultProvider) Open(ctx context.Context, req OpenRequest) (OpenResult, error) {
	charge := payvaultChargeRequest{
		OrderRef:      req.OrderID,
		Amount:        decimal.NewFromInt(req.AmountCents).Div(decimal.NewFromInt(100)).StringFixed(2),
		Currency:      req.Currency,
		CustomerEmail: req.CustomerEmail,
		Description:   req.Description,
	}

	reqBuff, _ := json.Marshal(charge)
	url := fmt.Sprintf("%s/v1/charges", p.baseURL)

	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(reqBuff))
	if err != nil {
		return OpenResult{}, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}

	hr.Header.Set("Content-Type", "application/json")
	hr.Header.Set("Accept", "application/json")
	hr.Header.Set("Authorization", fmt.Sprintf("Basic %s", p.basicAuthKey))

	hresp, err := p.hc.Do(hr)
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("payvault charge request failed")
		return OpenResult{}, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer hresp.Body.Close()

	respBody, err := io.ReadAll(hresp.Body)
	if err != nil {
		return OpenResult{}, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}

	if hresp.StatusCode < 200 || hresp.StatusCode > 299 {
		p.logger.WithContext(ctx).WithField("status", hresp.StatusCode).Error("payvault charge rejected")
		return OpenResult{}, fmt.Errorf("%w: status %d: %s", domain.ErrGatewayUnavailable, hresp.StatusCode, respBody)
	}

	var resp payvaultChargeResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return OpenResult{}, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}

	return OpenResult{ProviderRef: resp.TransactionRef, RedirectURL: resp.RedirectURL}, nil
}

type payvaultWebhook struct {
	TransactionID string `json:"transaction_id"`
	OrderRef      string `json:"order_ref"`
	Status        string `json:"status"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Reason        string `json:"reason,omitempty"`
}

// Translate verifies the webhook signature and maps the payload to an
// internal event. Verification happens before any field of the payload is
// trusted; a bad signature is rejected regardless of content.
func (p *PayvaultProvider) Translate(body []byte, signature string) (Event, error) {
	if !p.verify(body, signature) {
		return nil, domain.ErrInvalidSignature
	}

	var wh payvaultWebhook
	if err := json.Unmarshal(body, &wh); err != nil {
		return nil, fmt.Errorf("malformed webhook payload: %w", err)
	}
	if wh.TransactionID == "" {
		return nil, fmt.Errorf("webhook payload missing transaction_id")
	}

	switch wh.Status {
	case "settled", "captured":
		amount, err := decimal.NewFromString(wh.Amount)
		if err != nil {
			return nil, fmt.Errorf("malformed webhook amount %q: %w", wh.Amount, err)
		}
		return PaymentSucceeded{
			OrderRef:      wh.OrderRef,
			ExternalTxnID: wh.TransactionID,
			Amount:        amount,
			Currency:      wh.Currency,
			Raw:           body,
		}, nil
	case "failed", "declined", "expired":
		return PaymentFailed{
			OrderRef:      wh.OrderRef,
			ExternalTxnID: wh.TransactionID,
			Reason:        wh.Reason,
			Raw:           body,
		}, nil
	case "disputed", "chargeback":
		return ChargeDisputed{ExternalTxnID: wh.TransactionID, Raw: body}, nil
	default:
		return nil, fmt.Errorf("unknown webhook status %q", wh.Status)
	}
}

func (p *PayvaultProvider) verify(body []byte, signature string) bool {
	h := hmac.New(sha256.New, p.webhookSecret)
	h.Write(body)
	expected := hex.EncodeToString(h.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Sign computes the signature payvault would attach to the given body. Used
// by tests and by the local provider simulator.
func (p *PayvaultProvider) Sign(body []byte) string {
	h := hmac.New(sha256.New, p.webhookSecret)
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

var _ Provider = (*PayvaultProvider)(nil)
