package vos

import (
	"errors"
	"fmt"

	"github.com/BiyanKilani/daos/lib/btr"
	"github.com/BiyanKilani/daos/lib/umem"
	"github.com/BiyanKilani/daos/lib/vos/record"
)

// --------------------------------------------------------------------------
// Sentinel errors
// --------------------------------------------------------------------------

var (
	// ErrCacheExhausted is returned by Acquire when every cached reference is held.
	ErrCacheExhausted = errors.New("vos: object cache exhausted")
	// ErrInvalidRelease is returned when a reference is released more often than acquired.
	ErrInvalidRelease = errors.New("vos: invalid release")
	// ErrInvalidState is returned when an iterator operation is not allowed in its state.
	ErrInvalidState = errors.New("vos: invalid state")
	// ErrNoMoreEntries is returned when an iterator runs past its last entry.
	ErrNoMoreEntries = errors.New("vos: no more entries")
	// ErrBusy is returned when a pinned object or container cannot be removed.
	ErrBusy = errors.New("vos: busy")
	// ErrExist is returned when creating something that already exists.
	ErrExist = errors.New("vos: already exists")
	// ErrInvalidArgument is returned for malformed requests.
	ErrInvalidArgument = errors.New("vos: invalid argument")

	// ErrNonexist is shared with the tree engine so lookups need no translation.
	ErrNonexist = btr.ErrNonexist
	// ErrRecordSizeMismatch is shared with the record codec.
	ErrRecordSizeMismatch = record.ErrRecordSizeMismatch
)

// --------------------------------------------------------------------------
// Return codes
// --------------------------------------------------------------------------

// RetCode is a numeric error code, used by the command line tools.
type RetCode uint64

const (
	RetCSuccess            RetCode = iota // 0: no error
	RetCInternalError                     // 1: unclassified error
	RetCCacheExhausted                    // 2: no evictable cache entry
	RetCInvalidRelease                    // 3: refcount underflow
	RetCInvalidState                      // 4: iterator misuse
	RetCNoMoreEntries                     // 5: iterator at end
	RetCRecordSizeMismatch                // 6: corrupt record
	RetCNonexist                          // 7: not found
	RetCBusy                              // 8: still referenced
	RetCExist                             // 9: already exists
	RetCInvalidArgument                   // 10: malformed request
	RetCOutOfSpace                        // 11: allocator exhausted
)

var retCodes = []struct {
	err  error
	code RetCode
}{
	{ErrCacheExhausted, RetCCacheExhausted},
	{ErrInvalidRelease, RetCInvalidRelease},
	{ErrInvalidState, RetCInvalidState},
	{ErrNoMoreEntries, RetCNoMoreEntries},
	{ErrRecordSizeMismatch, RetCRecordSizeMismatch},
	{ErrNonexist, RetCNonexist},
	{ErrBusy, RetCBusy},
	{ErrExist, RetCExist},
	{ErrInvalidArgument, RetCInvalidArgument},
	{umem.ErrOutOfSpace, RetCOutOfSpace},
}

// Code returns the return code for err.
func Code(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	for _, rc := range retCodes {
		if errors.Is(err, rc.err) {
			return rc.code
		}
	}
	return RetCInternalError
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error wraps an error together with its return code.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message
	Err  error   // The wrapped error, may be nil
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("VOSError (code %d): %s", e.Code, e.Msg)
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error { return e.Err }

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// AsError converts err into an *Error carrying its return code.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: Code(err), Msg: err.Error(), Err: err}
}
