package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"payment-engine/internal/biz"
	"payment-engine/internal/conf"
	"payment-engine/internal/constants"
	"payment-engine/internal/metrics"

	paymentErrors "payment-engine/internal/errors"

	pkgErrors "github.com/gaoyong06/go-pkg/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
)

const mpExpiryFormat = "2006-01-02T15:04:05.000-07:00"

// MercadoPagoClient serves the PIX and tokenized-card flows against the
// Mercado Pago payments API.
type MercadoPagoClient struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	conf    *conf.MercadoPago
	log     *log.Helper
	metrics *metrics.PaymentMetrics
}

// NewMercadoPagoClient creates the Mercado Pago adapter.
func NewMercadoPagoClient(c *conf.Bootstrap, logger log.Logger) (*MercadoPagoClient, error) {
	if c.Gateway == nil || c.Gateway.Mercadopago == nil {
		return nil, pkgErrors.NewBizErrorWithLang(context.Background(), paymentErrors.ErrCodeGatewayConfigNil)
	}
	cfg := c.Gateway.Mercadopago

	// No automatic retries: create-charge sits in a synchronous
	// user-facing path and carries an idempotency key; retrying is the
	// caller's decision.
	client := resty.New().
		SetBaseURL(cfg.BaseUrl).
		SetAuthToken(cfg.AccessToken).
		SetTimeout(cfg.GetTimeout()).
		SetRetryCount(0)

	return &MercadoPagoClient{
		http:    client,
		breaker: newBreaker(constants.ProviderMercadoPago, logger),
		conf:    cfg,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
	}, nil
}

// Provider implements biz.GatewayAdapter.
func (c *MercadoPagoClient) Provider() string {
	return constants.ProviderMercadoPago
}

type mpPayer struct {
	Email string `json:"email"`
}

type mpPaymentRequest struct {
	TransactionAmount float64  `json:"transaction_amount"`
	Description       string   `json:"description"`
	PaymentMethodID   string   `json:"payment_method_id,omitempty"`
	Token             string   `json:"token,omitempty"`
	Installments      int      `json:"installments,omitempty"`
	ExternalReference string   `json:"external_reference"`
	DateOfExpiration  string   `json:"date_of_expiration,omitempty"`
	Payer             *mpPayer `json:"payer,omitempty"`
}

type mpPayment struct {
	ID                 json.Number `json:"id"`
	Status             string      `json:"status"`
	StatusDetail       string      `json:"status_detail"`
	ExternalReference  string      `json:"external_reference"`
	DateOfExpiration   string      `json:"date_of_expiration"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode string `json:"qr_code"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

type mpErrorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// CreateCharge implements biz.GatewayAdapter. PIX charges come back with a
// provider-built BR Code and an expiry; card charges may already be terminal.
func (c *MercadoPagoClient) CreateCharge(ctx context.Context, req *biz.GatewayChargeRequest) (*biz.GatewayChargeResult, error) {
	body := &mpPaymentRequest{
		TransactionAmount: req.Amount,
		Description:       req.Description,
		ExternalReference: req.ExternalReference,
	}
	switch req.Method {
	case constants.MethodPix:
		body.PaymentMethodID = "pix"
		if req.ExpiresAt != nil {
			body.DateOfExpiration = req.ExpiresAt.Format(mpExpiryFormat)
		}
	case constants.MethodCard:
		body.Token = req.CardToken
		body.Installments = 1
	default:
		return nil, &biz.ValidationError{Code: paymentErrors.ErrCodeUnknownMethod, Message: "method not supported by mercadopago adapter"}
	}
	if req.PayerEmail != "" {
		body.Payer = &mpPayer{Email: req.PayerEmail}
	}

	var payment mpPayment
	err := c.do(ctx, "create", func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetHeader("X-Idempotency-Key", req.IdempotencyKey).
			SetBody(body).
			SetResult(&payment).
			Post("/v1/payments")
	})
	if err != nil {
		return nil, err
	}

	return c.toResult(&payment), nil
}

// QueryCharge implements biz.GatewayAdapter; nil result means the provider
// does not know the charge.
func (c *MercadoPagoClient) QueryCharge(ctx context.Context, externalID string) (*biz.GatewayChargeResult, error) {
	var payment mpPayment
	var notFound bool
	err := c.do(ctx, "query", func() (*resty.Response, error) {
		resp, err := c.http.R().
			SetContext(ctx).
			SetResult(&payment).
			Get("/v1/payments/" + externalID)
		if err == nil && resp.StatusCode() == http.StatusNotFound {
			notFound = true
		}
		return resp, err
	})
	if notFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c.toResult(&payment), nil
}

// QueryByReference recovers a remote charge by external reference via the
// payments search endpoint.
func (c *MercadoPagoClient) QueryByReference(ctx context.Context, externalReference string) (*biz.GatewayChargeResult, error) {
	var search struct {
		Results []mpPayment `json:"results"`
	}
	err := c.do(ctx, "query", func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetQueryParam("external_reference", externalReference).
			SetQueryParam("sort", "date_created").
			SetQueryParam("criteria", "desc").
			SetResult(&search).
			Get("/v1/payments/search")
	})
	if err != nil {
		return nil, err
	}
	if len(search.Results) == 0 {
		return nil, nil
	}
	return c.toResult(&search.Results[0]), nil
}

// VerifySignature implements biz.WebhookVerifier. Mercado Pago signs a
// manifest built from the resource id, the request id and the timestamp in
// the x-signature header.
func (c *MercadoPagoClient) VerifySignature(header http.Header, body []byte) error {
	ts, v1, err := parseSignatureHeader(header.Get("x-signature"))
	if err != nil {
		return err
	}

	var notification struct {
		Data struct {
			ID json.Number `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &notification); err != nil {
		return fmt.Errorf("unparseable notification body: %w", err)
	}

	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;",
		strings.ToLower(notification.Data.ID.String()), header.Get("x-request-id"), ts)
	mac := hmac.New(sha256.New, []byte(c.conf.WebhookSecret))
	mac.Write([]byte(manifest))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(v1)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

// ParseEvent implements biz.WebhookVerifier. Mercado Pago notifications do
// not carry the payment status, so every relevant event is ambiguous and
// resolved through a direct status query.
func (c *MercadoPagoClient) ParseEvent(body []byte, _ http.Header) (*biz.WebhookEvent, error) {
	var notification struct {
		ID   json.Number `json:"id"`
		Type string      `json:"type"`
		Data struct {
			ID json.Number `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &notification); err != nil {
		return nil, err
	}

	event := &biz.WebhookEvent{
		Provider: constants.ProviderMercadoPago,
		EventID:  notification.ID.String(),
		Type:     notification.Type,
	}
	if notification.Type != "payment" {
		return event, nil
	}
	event.Relevant = true
	event.ExternalID = notification.Data.ID.String()
	event.Ambiguous = true
	return event, nil
}

// do runs one provider call through the circuit breaker and normalizes
// failures into GatewayError.
func (c *MercadoPagoClient) do(ctx context.Context, op string, fn func() (*resty.Response, error)) error {
	startTime := time.Now()
	defer func() {
		c.metrics.GatewayRequestDuration.WithLabelValues(constants.ProviderMercadoPago, op).Observe(time.Since(startTime).Seconds())
	}()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := fn()
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() >= http.StatusInternalServerError || resp.StatusCode() == http.StatusTooManyRequests {
			return resp, fmt.Errorf("provider status %d", resp.StatusCode())
		}
		return resp, nil
	})
	if err != nil {
		c.metrics.GatewayErrorsTotal.WithLabelValues(constants.ProviderMercadoPago, string(biz.GatewayUnavailable)).Inc()
		return &biz.GatewayError{
			Kind:     biz.GatewayUnavailable,
			Provider: constants.ProviderMercadoPago,
			Message:  err.Error(),
		}
	}

	resp := result.(*resty.Response)
	if resp.IsError() && resp.StatusCode() != http.StatusNotFound {
		var errBody mpErrorBody
		_ = json.Unmarshal(resp.Body(), &errBody)
		message := errBody.Message
		if message == "" {
			message = resp.Status()
		}
		c.metrics.GatewayErrorsTotal.WithLabelValues(constants.ProviderMercadoPago, string(biz.GatewayRejected)).Inc()
		return &biz.GatewayError{
			Kind:     biz.GatewayRejected,
			Provider: constants.ProviderMercadoPago,
			Code:     errBody.Error,
			Message:  message,
		}
	}
	return nil
}

func (c *MercadoPagoClient) toResult(payment *mpPayment) *biz.GatewayChargeResult {
	status, ambiguous := mapMercadoPagoStatus(payment.Status)
	result := &biz.GatewayChargeResult{
		Provider:          constants.ProviderMercadoPago,
		ExternalID:        payment.ID.String(),
		ExternalReference: payment.ExternalReference,
		Status:            status,
		Ambiguous:         ambiguous,
		QRData:            payment.PointOfInteraction.TransactionData.QRCode,
	}
	if payment.DateOfExpiration != "" {
		if t, err := time.Parse(mpExpiryFormat, payment.DateOfExpiration); err == nil {
			result.ExpiresAt = &t
		}
	}
	return result
}

// mapMercadoPagoStatus translates the provider vocabulary into the internal
// enum; ambiguous means a non-terminal provider state.
func mapMercadoPagoStatus(s string) (string, bool) {
	switch s {
	case "approved":
		return constants.ChargeStatusApproved, false
	case "rejected", "cancelled":
		return constants.ChargeStatusRejected, false
	case "expired":
		return constants.ChargeStatusExpired, false
	case "pending", "in_process", "authorized", "in_mediation":
		return constants.ChargeStatusPending, true
	default:
		return "", true
	}
}

// parseSignatureHeader splits "ts=...,v1=..." headers (shared by both
// providers' signature schemes).
func parseSignatureHeader(raw string) (ts string, v1 string, err error) {
	if raw == "" {
		return "", "", fmt.Errorf("missing signature header")
	}
	for _, part := range strings.Split(raw, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "ts", "t":
			ts = kv[1]
		case "v1":
			v1 = kv[1]
		}
	}
	if ts == "" || v1 == "" {
		return "", "", fmt.Errorf("incomplete signature header")
	}
	return ts, v1, nil
}
