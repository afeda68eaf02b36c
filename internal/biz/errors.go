package biz

import "fmt"

// ValidationError is the caller's fault: bad shape, bad amount, unknown or
// inactive beneficiary. Mapped to HTTP 400, never retried.
type ValidationError struct {
	Code    int
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s (%d)", e.Message, e.Code)
}

// NotFoundError marks a charge lookup miss. Mapped to HTTP 404.
type NotFoundError struct {
	Code    int
	Message string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s (%d)", e.Message, e.Code)
}

// SignatureError marks a failed webhook signature check. Mapped to HTTP 401
// and logged as a potential security event.
type SignatureError struct {
	Provider string
	Message  string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("signature: %s (%s)", e.Message, e.Provider)
}

// MalformedPayloadError marks an unparseable webhook body. Mapped to HTTP 400
// so the provider retries.
type MalformedPayloadError struct {
	Provider string
	Message  string
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("malformed payload: %s (%s)", e.Message, e.Provider)
}
