package fork

import (
	"errors"
	"fmt"
)

var (
	// ErrRemoteFetchFailed is matched by every error caused by a failing
	// connector call. Such failures are neither retried nor defaulted.
	ErrRemoteFetchFailed = errors.New("remote fetch failed")

	// ErrOverrideOnNonContract is returned when storage is overridden on an
	// account without bytecode.
	ErrOverrideOnNonContract = errors.New("storage override on account without code")

	// ErrInvalidPinnedBlock is returned when a factory is built without the
	// block metadata needed to pin the session.
	ErrInvalidPinnedBlock = errors.New("invalid pinned block")

	errNilConnector = errors.New("nil connector")
)

// FetchError describes a failed remote lookup.
type FetchError struct {
	Op  string // account, storage or blockhash
	Key string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is makes every FetchError match ErrRemoteFetchFailed.
func (e *FetchError) Is(target error) bool {
	return target == ErrRemoteFetchFailed
}
