package constants

// Redis key prefixes
const (
	// RedisKeyChargeStatus caches terminal charge statuses for the polling endpoint
	RedisKeyChargeStatus = "charge:status:"
	// RedisKeyIdempotency maps an idempotency key to the charge it created
	RedisKeyIdempotency = "charge:idem:"
	// RedisKeyBeneficiary caches beneficiary lookups
	RedisKeyBeneficiary = "beneficiary:"
	// RedisKeyTransitionLock advisory lock serializing transitions per charge
	RedisKeyTransitionLock = "charge:transition:lock:"
	// RedisKeySweepLock leader lock so a sweep tick runs on one instance only
	RedisKeySweepLock = "charge:sweep:lock:"
)

// Charge statuses
const (
	// ChargeStatusPending awaiting provider confirmation
	ChargeStatusPending = "pending"
	// ChargeStatusApproved paid, terminal
	ChargeStatusApproved = "approved"
	// ChargeStatusRejected declined or cancelled, terminal
	ChargeStatusRejected = "rejected"
	// ChargeStatusExpired timed out before payment, terminal
	ChargeStatusExpired = "expired"
)

// Payment methods
const (
	// MethodPix instant transfer, scannable BR Code
	MethodPix = "pix"
	// MethodCard tokenized card charge
	MethodCard = "card"
	// MethodCheckout hosted checkout session, redirect URL
	MethodCheckout = "checkout"
)

// Providers
const (
	ProviderMercadoPago = "mercadopago"
	ProviderStripe      = "stripe"
)

// Beneficiary tiers
const (
	TierFree = "free"
	TierPro  = "pro"
)

// Webhook intake results (used for metrics labels)
const (
	WebhookResultProcessed = "processed"
	WebhookResultDuplicate = "duplicate"
	WebhookResultIgnored   = "ignored"
	WebhookResultPending   = "pending"
	WebhookResultNotFound  = "not_found"
)

// Generic operation results (used for metrics labels)
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
)

// ExternalReferencePrefix marks correlation keys this engine hands to
// providers. The full reference doubles as the BR Code transaction id, so
// its total length stays within the 25 character EMV limit.
const ExternalReferencePrefix = "TOCA"

// MQ tags for domain events
const (
	EventTagChargeApproved = "charge.approved"
)
