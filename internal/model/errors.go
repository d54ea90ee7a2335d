package model

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration         = errors.New("configuration error")
	ErrSigningFailure        = errors.New("signing failure")
	ErrExchangeFailure       = errors.New("ticket exchange failure")
	ErrMalformedTicket       = errors.New("malformed login ticket")
	ErrSequenceQueryFailure  = errors.New("sequence query failure")
	ErrTransportFailure      = errors.New("transport failure")
	ErrResponseParseFailure  = errors.New("response parse failure")
	ErrStorageCorrupt        = errors.New("storage corrupt")
	ErrCredentialUnavailable = errors.New("credential unavailable")
	ErrInvalidInvoice        = errors.New("invalid invoice")
)

// Error tags a failure with its kind and the key it concerns (a service name
// or a sales point tuple). Both Kind and the cause are visible to errors.Is.
type Error struct {
	Kind error
	Key  string
	Err  error
}

func NewError(kind error, key string, err error) *Error {
	return &Error{Kind: kind, Key: key, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Key != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Key)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KeyOf returns the key of the outermost tagged error in err's chain.
func KeyOf(err error) string {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Key
	}
	return ""
}

// PublicMessage returns a caller-facing message for err. It never includes
// remote payloads, credentials or key material.
func PublicMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInvoice):
		return "The invoice request is invalid."
	case errors.Is(err, ErrConfiguration):
		return "The service is not configured correctly."
	case errors.Is(err, ErrCredentialUnavailable):
		return "Could not obtain an access ticket from the identity service."
	case errors.Is(err, ErrSequenceQueryFailure):
		return "Could not read the last authorized voucher number."
	case errors.Is(err, ErrTransportFailure), errors.Is(err, ErrResponseParseFailure):
		return "The invoicing service could not be reached or answered unexpectedly."
	default:
		return "Internal server error."
	}
}
