// Package gateway holds the provider adapters normalizing Mercado Pago and
// Stripe into the engine's single charge/webhook vocabulary.
package gateway

import (
	"payment-engine/internal/biz"
	"payment-engine/internal/constants"

	paymentErrors "payment-engine/internal/errors"

	"github.com/google/wire"
)

// ProviderSet is gateway providers.
var ProviderSet = wire.NewSet(
	NewMercadoPagoClient,
	NewStripeClient,
	NewRegistry,
	wire.Bind(new(biz.GatewayRegistry), new(*Registry)),
)

// Registry routes payment methods and webhook providers to their adapters.
// The ledger and reconciler never branch on provider identity directly.
type Registry struct {
	byMethod  map[string]biz.GatewayAdapter
	adapters  map[string]biz.GatewayAdapter
	verifiers map[string]biz.WebhookVerifier
}

// NewRegistry wires the provider adapters: Mercado Pago serves the PIX and
// tokenized card flows, Stripe serves the hosted checkout flow.
func NewRegistry(mp *MercadoPagoClient, stripe *StripeClient) *Registry {
	return &Registry{
		byMethod: map[string]biz.GatewayAdapter{
			constants.MethodPix:      mp,
			constants.MethodCard:     mp,
			constants.MethodCheckout: stripe,
		},
		adapters: map[string]biz.GatewayAdapter{
			constants.ProviderMercadoPago: mp,
			constants.ProviderStripe:      stripe,
		},
		verifiers: map[string]biz.WebhookVerifier{
			constants.ProviderMercadoPago: mp,
			constants.ProviderStripe:      stripe,
		},
	}
}

// ForMethod returns the adapter handling a payment method.
func (r *Registry) ForMethod(method string) (biz.GatewayAdapter, error) {
	adapter, ok := r.byMethod[method]
	if !ok {
		return nil, &biz.ValidationError{Code: paymentErrors.ErrCodeUnknownMethod, Message: "unsupported payment method"}
	}
	return adapter, nil
}

// ForProvider returns the adapter for a provider name.
func (r *Registry) ForProvider(name string) (biz.GatewayAdapter, error) {
	adapter, ok := r.adapters[name]
	if !ok {
		return nil, &biz.ValidationError{Code: paymentErrors.ErrCodeUnknownProvider, Message: "unknown provider"}
	}
	return adapter, nil
}

// VerifierFor returns the webhook verifier for a provider name.
func (r *Registry) VerifierFor(name string) (biz.WebhookVerifier, error) {
	verifier, ok := r.verifiers[name]
	if !ok {
		return nil, &biz.ValidationError{Code: paymentErrors.ErrCodeUnknownProvider, Message: "unknown provider"}
	}
	return verifier, nil
}
