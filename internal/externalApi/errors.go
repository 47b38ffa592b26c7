package externalApi

import "errors"

var (
	ErrNotFound = errors.New("error not found")

	// ErrCustodianUnavailable covers transport failures and 5xx answers.
	// These are transient; the monitor's next polling cycle retries, never
	// the caller inline.
	ErrCustodianUnavailable = errors.New("error custodian unavailable")
	ErrCustodianTimeout     = errors.New("error custodian timeout")
)
