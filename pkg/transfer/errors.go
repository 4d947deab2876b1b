package transfer

import "errors"

var (
	// ErrMaxRetriesExceeded is returned when all retry attempts have
	// been exhausted for a transient transport error.
	ErrMaxRetriesExceeded = errors.New("transfer: maximum retry attempts exceeded")

	// ErrZeroProgress is returned when a Range GET responds without error
	// but appends zero bytes while the transfer is still short of the
	// HEAD-reported content length: the peer stopped sending without
	// closing the connection. Callers can check via errors.Is.
	ErrZeroProgress = errors.New("transfer: range request made no progress")
)
