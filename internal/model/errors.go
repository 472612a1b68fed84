package model

import "errors"

var (
	// ErrSourceUnavailable means the record source could not be queried.
	// It aborts a detection run before any delivery attempt.
	ErrSourceUnavailable = errors.New("record source unavailable")

	// ErrChannelUnavailable means a channel sender is not configured or
	// unreachable. It is isolated to that channel's outcome.
	ErrChannelUnavailable = errors.New("channel unavailable")

	// ErrStoreUnavailable means the idempotency store could not be read or written.
	ErrStoreUnavailable = errors.New("idempotency store unavailable")

	// ErrRender means a record payload could not be formatted.
	ErrRender = errors.New("record cannot be rendered")

	// ErrRecordNotFound is returned by manual lookups of unknown record ids.
	ErrRecordNotFound = errors.New("record not found")
)
