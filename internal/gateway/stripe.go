package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
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

// StripeClient serves the hosted-checkout flow through Stripe Checkout
// Sessions.
type StripeClient struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	conf    *conf.Stripe
	log     *log.Helper
	metrics *metrics.PaymentMetrics

	// now is swapped out in tests to pin the signature tolerance window.
	now func() time.Time
}

// NewStripeClient creates the Stripe adapter.
func NewStripeClient(c *conf.Bootstrap, logger log.Logger) (*StripeClient, error) {
	if c.Gateway == nil || c.Gateway.Stripe == nil {
		return nil, pkgErrors.NewBizErrorWithLang(context.Background(), paymentErrors.ErrCodeGatewayConfigNil)
	}
	cfg := c.Gateway.Stripe

	client := resty.New().
		SetBaseURL(cfg.BaseUrl).
		SetAuthToken(cfg.SecretKey).
		SetTimeout(cfg.GetTimeout()).
		SetRetryCount(0)

	return &StripeClient{
		http:    client,
		breaker: newBreaker(constants.ProviderStripe, logger),
		conf:    cfg,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
		now:     time.Now,
	}, nil
}

// Provider implements biz.GatewayAdapter.
func (c *StripeClient) Provider() string {
	return constants.ProviderStripe
}

type stripeSession struct {
	ID                string `json:"id"`
	PaymentStatus     string `json:"payment_status"`
	Status            string `json:"status"`
	ClientReferenceID string `json:"client_reference_id"`
	PaymentIntent     string `json:"payment_intent"`
	URL               string `json:"url"`
	ExpiresAt         int64  `json:"expires_at"`
}

type stripePaymentIntent struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type stripeErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateCharge implements biz.GatewayAdapter. Checkout charges resolve
// through a hosted redirect URL; the session stays open until the payer
// completes or the session expires.
func (c *StripeClient) CreateCharge(ctx context.Context, req *biz.GatewayChargeRequest) (*biz.GatewayChargeResult, error) {
	if req.Method != constants.MethodCheckout {
		return nil, &biz.ValidationError{Code: paymentErrors.ErrCodeUnknownMethod, Message: "method not supported by stripe adapter"}
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("client_reference_id", req.ExternalReference)
	form.Set("success_url", c.conf.SuccessUrl)
	form.Set("cancel_url", c.conf.CancelUrl)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", "brl")
	form.Set("line_items[0][price_data][product_data][name]", req.Description)
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(int64(math.Round(req.Amount*100)), 10))
	if req.PayerEmail != "" {
		form.Set("customer_email", req.PayerEmail)
	}
	if req.ExpiresAt != nil {
		form.Set("expires_at", strconv.FormatInt(req.ExpiresAt.Unix(), 10))
	}

	var session stripeSession
	err := c.do(ctx, "create", func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetHeader("Idempotency-Key", req.IdempotencyKey).
			SetHeader("Content-Type", "application/x-www-form-urlencoded").
			SetBody(form.Encode()).
			SetResult(&session).
			Post("/v1/checkout/sessions")
	})
	if err != nil {
		return nil, err
	}

	return c.sessionToResult(&session), nil
}

// QueryCharge implements biz.GatewayAdapter. The external id may be a
// checkout session or, after reassignment, a payment intent.
func (c *StripeClient) QueryCharge(ctx context.Context, externalID string) (*biz.GatewayChargeResult, error) {
	if strings.HasPrefix(externalID, "pi_") {
		return c.queryPaymentIntent(ctx, externalID)
	}
	return c.querySession(ctx, externalID)
}

func (c *StripeClient) querySession(ctx context.Context, sessionID string) (*biz.GatewayChargeResult, error) {
	var session stripeSession
	var notFound bool
	err := c.do(ctx, "query", func() (*resty.Response, error) {
		resp, err := c.http.R().
			SetContext(ctx).
			SetResult(&session).
			Get("/v1/checkout/sessions/" + sessionID)
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
	return c.sessionToResult(&session), nil
}

func (c *StripeClient) queryPaymentIntent(ctx context.Context, intentID string) (*biz.GatewayChargeResult, error) {
	var intent stripePaymentIntent
	var notFound bool
	err := c.do(ctx, "query", func() (*resty.Response, error) {
		resp, err := c.http.R().
			SetContext(ctx).
			SetResult(&intent).
			Get("/v1/payment_intents/" + intentID)
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
	status, ambiguous := mapStripeIntentStatus(intent.Status)
	return &biz.GatewayChargeResult{
		Provider:   constants.ProviderStripe,
		ExternalID: intent.ID,
		Status:     status,
		Ambiguous:  ambiguous,
	}, nil
}

// QueryByReference implements biz.GatewayAdapter. Stripe sessions are keyed
// by client_reference_id through the sessions list endpoint.
func (c *StripeClient) QueryByReference(ctx context.Context, externalReference string) (*biz.GatewayChargeResult, error) {
	var list struct {
		Data []stripeSession `json:"data"`
	}
	err := c.do(ctx, "query", func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetQueryParam("client_reference_id", externalReference).
			SetQueryParam("limit", "1").
			SetResult(&list).
			Get("/v1/checkout/sessions")
	})
	if err != nil {
		return nil, err
	}
	if len(list.Data) == 0 {
		return nil, nil
	}
	return c.sessionToResult(&list.Data[0]), nil
}

// VerifySignature implements biz.WebhookVerifier. Stripe signs
// "<timestamp>.<body>" and the timestamp must fall inside the tolerance
// window to block replays.
func (c *StripeClient) VerifySignature(header http.Header, body []byte) error {
	ts, v1, err := parseSignatureHeader(header.Get("Stripe-Signature"))
	if err != nil {
		return err
	}

	tsSec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("unparseable signature timestamp: %w", err)
	}
	age := c.now().Sub(time.Unix(tsSec, 0))
	if age > c.conf.GetTolerance() || age < -c.conf.GetTolerance() {
		return fmt.Errorf("signature timestamp outside tolerance")
	}

	mac := hmac.New(sha256.New, []byte(c.conf.WebhookSecret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(v1)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

// ParseEvent implements biz.WebhookVerifier. Session events still carry the
// session id as the external id; a completed session also reports the
// payment intent that later intent events will reference.
func (c *StripeClient) ParseEvent(body []byte, _ http.Header) (*biz.WebhookEvent, error) {
	var envelope struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}

	event := &biz.WebhookEvent{
		Provider: constants.ProviderStripe,
		EventID:  envelope.ID,
		Type:     envelope.Type,
	}

	switch envelope.Type {
	case "checkout.session.completed", "checkout.session.expired":
		var session stripeSession
		if err := json.Unmarshal(envelope.Data.Object, &session); err != nil {
			return nil, err
		}
		event.Relevant = true
		event.ExternalID = session.ID
		event.ExternalReference = session.ClientReferenceID
		if envelope.Type == "checkout.session.expired" {
			event.Status = constants.ChargeStatusExpired
			return event, nil
		}
		if session.PaymentStatus == "paid" {
			event.Status = constants.ChargeStatusApproved
			event.ReassignedExternalID = session.PaymentIntent
			return event, nil
		}
		// Completed but unpaid: async payment method still settling.
		event.Ambiguous = true
		return event, nil
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled":
		var intent stripePaymentIntent
		if err := json.Unmarshal(envelope.Data.Object, &intent); err != nil {
			return nil, err
		}
		event.Relevant = true
		event.ExternalID = intent.ID
		if envelope.Type == "payment_intent.succeeded" {
			event.Status = constants.ChargeStatusApproved
		} else {
			event.Status = constants.ChargeStatusRejected
		}
		return event, nil
	default:
		return event, nil
	}
}

func (c *StripeClient) do(ctx context.Context, op string, fn func() (*resty.Response, error)) error {
	startTime := time.Now()
	defer func() {
		c.metrics.GatewayRequestDuration.WithLabelValues(constants.ProviderStripe, op).Observe(time.Since(startTime).Seconds())
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
		c.metrics.GatewayErrorsTotal.WithLabelValues(constants.ProviderStripe, string(biz.GatewayUnavailable)).Inc()
		return &biz.GatewayError{
			Kind:     biz.GatewayUnavailable,
			Provider: constants.ProviderStripe,
			Message:  err.Error(),
		}
	}

	resp := result.(*resty.Response)
	if resp.IsError() && resp.StatusCode() != http.StatusNotFound {
		var errBody stripeErrorBody
		_ = json.Unmarshal(resp.Body(), &errBody)
		message := errBody.Error.Message
		if message == "" {
			message = resp.Status()
		}
		c.metrics.GatewayErrorsTotal.WithLabelValues(constants.ProviderStripe, string(biz.GatewayRejected)).Inc()
		return &biz.GatewayError{
			Kind:     biz.GatewayRejected,
			Provider: constants.ProviderStripe,
			Code:     errBody.Error.Code,
			Message:  message,
		}
	}
	return nil
}

func (c *StripeClient) sessionToResult(session *stripeSession) *biz.GatewayChargeResult {
	result := &biz.GatewayChargeResult{
		Provider:          constants.ProviderStripe,
		ExternalID:        session.ID,
		ExternalReference: session.ClientReferenceID,
		RedirectURL:       session.URL,
	}
	switch {
	case session.PaymentStatus == "paid":
		result.Status = constants.ChargeStatusApproved
	case session.Status == "expired":
		result.Status = constants.ChargeStatusExpired
	default:
		result.Status = constants.ChargeStatusPending
		result.Ambiguous = true
	}
	if session.ExpiresAt > 0 {
		t := time.Unix(session.ExpiresAt, 0)
		result.ExpiresAt = &t
	}
	return result
}

// mapStripeIntentStatus translates payment-intent states into the internal
// enum.
func mapStripeIntentStatus(s string) (string, bool) {
	switch s {
	case "succeeded":
		return constants.ChargeStatusApproved, false
	case "canceled":
		return constants.ChargeStatusRejected, false
	case "processing", "requires_payment_method", "requires_confirmation", "requires_action", "requires_capture":
		return constants.ChargeStatusPending, true
	default:
		return "", true
	}
}
