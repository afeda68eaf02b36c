package errors

import (
	pkgErrors "github.com/gaoyong06/go-pkg/errors"
	i18nPkg "github.com/gaoyong06/go-pkg/middleware/i18n"
)

func init() {
	pkgErrors.InitGlobalErrorManager("i18n", i18nPkg.Language)
}

// Payment Engine error codes
// Code format: SSMMEE (6 digits)
//   SS: service id, fixed 23 for the payment engine
//   MM: module id
//   EE: error number within the module
//
// Modules:
//   00: common (reuses go-pkg generic codes)
//   01: charge
//   02: gateway
//   03: webhook
//   04: beneficiary
//   05: sweep
//   06-99: reserved

// Charge module error codes (230100-230199)
const (
	// ErrCodeInvalidAmount gross amount missing or not positive
	ErrCodeInvalidAmount = 230101
	// ErrCodeInvalidPayer exactly one of payer ref / session token must be set
	ErrCodeInvalidPayer = 230102
	// ErrCodeUnknownMethod unsupported payment method
	ErrCodeUnknownMethod = 230103
	// ErrCodeChargeNotFound charge record does not exist
	ErrCodeChargeNotFound = 230104
	// ErrCodeChargeCreateFailed failed to persist charge record
	ErrCodeChargeCreateFailed = 230105
	// ErrCodeIdempotencyConflict duplicate idempotency key raced charge creation
	ErrCodeIdempotencyConflict = 230106
)

// Gateway module error codes (230200-230299)
const (
	// ErrCodeGatewayConfigNil provider configuration is missing
	ErrCodeGatewayConfigNil = 230201
	// ErrCodeGatewayUnavailable provider unreachable or timed out
	ErrCodeGatewayUnavailable = 230202
	// ErrCodeGatewayRejected provider declined the charge
	ErrCodeGatewayRejected = 230203
	// ErrCodeGatewayQueryFailed provider status query failed
	ErrCodeGatewayQueryFailed = 230204
	// ErrCodeUnknownProvider no adapter registered for provider
	ErrCodeUnknownProvider = 230205
)

// Webhook module error codes (230300-230399)
const (
	// ErrCodeSignatureInvalid webhook signature verification failed
	ErrCodeSignatureInvalid = 230301
	// ErrCodeMalformedPayload webhook body could not be parsed
	ErrCodeMalformedPayload = 230302
	// ErrCodeWebhookRecordNotFound webhook references an unknown charge
	ErrCodeWebhookRecordNotFound = 230303
)

// Beneficiary module error codes (230400-230499)
const (
	// ErrCodeBeneficiaryNotFound beneficiary does not exist
	ErrCodeBeneficiaryNotFound = 230401
	// ErrCodeBeneficiaryInactive beneficiary exists but cannot receive charges
	ErrCodeBeneficiaryInactive = 230402
)

// Sweep module error codes (230500-230599)
const (
	// ErrCodeSweepLockFailed another instance holds the sweep leader lock
	ErrCodeSweepLockFailed = 230501
	// ErrCodeTransitionLockFailed failed to acquire the per-charge lock
	ErrCodeTransitionLockFailed = 230502
)

// Data access error codes (230700-230799)
const (
	// ErrCodeChargeGetFailed failed to load charge record
	ErrCodeChargeGetFailed = 230701
	// ErrCodeChargeUpdateFailed failed to update charge record
	ErrCodeChargeUpdateFailed = 230702
	// ErrCodeBeneficiaryGetFailed failed to load beneficiary record
	ErrCodeBeneficiaryGetFailed = 230703
)
