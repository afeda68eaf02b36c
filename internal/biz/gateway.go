package biz

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// GatewayErrorKind classifies provider failures for retry decisions.
type GatewayErrorKind string

const (
	// GatewayUnavailable network failure, timeout or open circuit; the
	// caller may retry with backoff.
	GatewayUnavailable GatewayErrorKind = "unavailable"
	// GatewayRejected provider-side validation or decline; terminal,
	// surfaced to the end user, never retried.
	GatewayRejected GatewayErrorKind = "rejected"
)

// GatewayError is the normalized failure of an outbound provider call.
type GatewayError struct {
	Kind     GatewayErrorKind
	Provider string
	Code     string
	Message  string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s: %s (%s %s)", e.Provider, e.Message, e.Kind, e.Code)
}

// GatewayChargeRequest is the provider-agnostic create-charge input.
type GatewayChargeRequest struct {
	IdempotencyKey    string
	ExternalReference string
	Method            string // constants.MethodPix / MethodCard / MethodCheckout
	Amount            float64
	Description       string
	CardToken         string
	PayerEmail        string
	ExpiresAt         *time.Time
}

// GatewayChargeResult normalizes the three remote flows into one shape.
// Exactly one of QRData / RedirectURL is meaningful depending on the method;
// Status may already be terminal for synchronous card charges.
type GatewayChargeResult struct {
	Provider          string
	ExternalID        string
	ExternalReference string
	Status            string // internal status vocabulary, "" when unknown
	Ambiguous         bool   // provider reported a non-terminal state
	QRData            string
	RedirectURL       string
	ExpiresAt         *time.Time
}

// WebhookEvent is a provider notification mapped into internal vocabulary.
type WebhookEvent struct {
	Provider   string
	EventID    string
	Type       string
	Relevant   bool // false: acknowledge and ignore
	ExternalID string
	// ReassignedExternalID is set when the provider replaced the original
	// charge id (checkout session id superseded by a payment intent id).
	ReassignedExternalID string
	ExternalReference    string
	Status               string // internal vocabulary, "" when unknown
	Ambiguous            bool   // requires a direct provider status query
}

// GatewayAdapter abstracts one payment provider.
type GatewayAdapter interface {
	Provider() string
	CreateCharge(ctx context.Context, req *GatewayChargeRequest) (*GatewayChargeResult, error)
	// QueryCharge fetches the authoritative state of a remote charge.
	QueryCharge(ctx context.Context, externalID string) (*GatewayChargeResult, error)
	// QueryByReference recovers a remote charge by the correlation key this
	// engine handed to the provider at creation time.
	QueryByReference(ctx context.Context, externalReference string) (*GatewayChargeResult, error)
}

// WebhookVerifier validates and decodes one provider's webhook deliveries.
type WebhookVerifier interface {
	// VerifySignature must fail before any business data is trusted.
	VerifySignature(header http.Header, body []byte) error
	ParseEvent(body []byte, header http.Header) (*WebhookEvent, error)
}

// GatewayRegistry routes charge kinds and webhook providers to adapters.
type GatewayRegistry interface {
	ForMethod(method string) (GatewayAdapter, error)
	ForProvider(name string) (GatewayAdapter, error)
	VerifierFor(name string) (WebhookVerifier, error)
}
