package telephony

import (
	"errors"
	"fmt"
)

var (
	// ErrUpstream wraps every carrier client failure.
	ErrUpstream = errors.New("telephony: upstream failure")

	ErrSignatureInvalid = errors.New("telephony: invalid webhook signature")
	ErrMalformedEvent   = errors.New("telephony: malformed webhook event")
	ErrNotConfigured    = errors.New("telephony: carrier not configured")
)

// APIError is a non-2xx response from a carrier REST API.
type APIError struct {
	Provider string
	Status   int
	Code     string
	Detail   string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: http %d: %s (%s)", e.Provider, e.Status, e.Detail, e.Code)
	}
	return fmt.Sprintf("%s: http %d: %s", e.Provider, e.Status, e.Detail)
}

func (e *APIError) Unwrap() error { return ErrUpstream }

func upstream(provider, op string, err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s %s: %w", provider, op, err)
	}
	return fmt.Errorf("%s %s: %w: %w", provider, op, ErrUpstream, err)
}
