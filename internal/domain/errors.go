package domain

import "errors"

var (
	// ErrValidation marks caller-contract violations and malformed input.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks lookups for records that do not exist in the caller's tenant.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks operations rejected because of concurrent state changes.
	ErrConflict = errors.New("conflict")

	// ErrStorage marks audit trail persistence failures. These are escalated to the
	// caller because dispatch cannot fulfill its audit-of-record guarantee without
	// a durable write.
	ErrStorage = errors.New("storage error")
)
