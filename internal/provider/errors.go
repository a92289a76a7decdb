package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Postmark API error codes the service reacts to.
const (
	ErrorCodeInvalidRequest  = 300
	ErrorCodeInactiveAddress = 406
)

// ProviderError is a failed submission. StatusCode is the HTTP status and
// ErrorCode the provider's API error code, each zero when absent.
type ProviderError struct {
	StatusCode int
	ErrorCode  int
	Message    string
	Transient  bool
	Cause      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	var b strings.Builder
	b.WriteString("postmark")
	switch {
	case e.StatusCode > 0 && e.ErrorCode > 0:
		fmt.Fprintf(&b, " (http %d, code %d)", e.StatusCode, e.ErrorCode)
	case e.StatusCode > 0:
		fmt.Fprintf(&b, " (http %d)", e.StatusCode)
	case e.ErrorCode > 0:
		fmt.Fprintf(&b, " (code %d)", e.ErrorCode)
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether a failed submission may succeed if repeated.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, context.Canceled):
		return false
	}

	if providerErr, ok := asProviderError(err); ok {
		return providerErr.Transient
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ErrorCodeOf extracts the provider API error code from err, if any.
func ErrorCodeOf(err error) (int, bool) {
	if providerErr, ok := asProviderError(err); ok && providerErr.ErrorCode > 0 {
		return providerErr.ErrorCode, true
	}
	return 0, false
}

// IsInactiveAddress reports whether the provider refused a recipient it has
// deactivated after earlier hard bounces.
func IsInactiveAddress(err error) bool {
	code, ok := ErrorCodeOf(err)
	return ok && code == ErrorCodeInactiveAddress
}

func asProviderError(err error) (*ProviderError, bool) {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) && providerErr != nil {
		return providerErr, true
	}
	return nil, false
}
