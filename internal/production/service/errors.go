package service

import (
	"errors"
	"fmt"

	"github.com/bitfantasy/nimo-print/internal/production/repository"
)

// ErrorKind 错误类别
type ErrorKind string

const (
	KindNotFound   ErrorKind = "RESOURCE_NOT_FOUND"
	KindConflict   ErrorKind = "RESOURCE_CONFLICT"
	KindInvariant  ErrorKind = "INVARIANT_VIOLATION"
	KindValidation ErrorKind = "VALIDATION_ERROR"
	KindIncomplete ErrorKind = "PARTIAL_BATCH_INCOMPLETE"
)

// Error is the typed failure returned by every production operation.
// Reason narrows the kind (SLOT_OCCUPIED, MACHINE_BUSY, ...).
type Error struct {
	Kind    ErrorKind
	Reason  string
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Reason != "" {
		return string(e.Kind) + ": " + e.Reason
	}
	return string(e.Kind)
}

// Is matches on kind, and on reason when the target carries one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// Kind sentinels
var (
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrConflict   = &Error{Kind: KindConflict}
	ErrInvariant  = &Error{Kind: KindInvariant}
	ErrValidation = &Error{Kind: KindValidation}
	ErrIncomplete = &Error{Kind: KindIncomplete}
)

// Reason sentinels
var (
	ErrSlotNotFound      = &Error{Kind: KindNotFound, Reason: "SLOT_NOT_FOUND"}
	ErrSpoolNotFound     = &Error{Kind: KindNotFound, Reason: "SPOOL_NOT_FOUND"}
	ErrBatchNotFound     = &Error{Kind: KindNotFound, Reason: "BATCH_NOT_FOUND"}
	ErrMachineNotFound   = &Error{Kind: KindNotFound, Reason: "MACHINE_NOT_FOUND"}
	ErrOrderNotFound     = &Error{Kind: KindNotFound, Reason: "ORDER_NOT_FOUND"}
	ErrSlotOccupied      = &Error{Kind: KindConflict, Reason: "SLOT_OCCUPIED"}
	ErrSlotEmpty         = &Error{Kind: KindConflict, Reason: "SLOT_EMPTY"}
	ErrSpoolNotAvailable = &Error{Kind: KindConflict, Reason: "SPOOL_NOT_AVAILABLE"}
	ErrMachineBusy       = &Error{Kind: KindConflict, Reason: "MACHINE_BUSY"}
	ErrBatchRunning      = &Error{Kind: KindConflict, Reason: "BATCH_RUNNING"}
	ErrBatchClosed       = &Error{Kind: KindConflict, Reason: "BATCH_CLOSED"}
	ErrBatchState        = &Error{Kind: KindConflict, Reason: "BATCH_STATE"}
	ErrOrderAssigned     = &Error{Kind: KindConflict, Reason: "ORDER_ASSIGNED"}
	ErrOrderState        = &Error{Kind: KindConflict, Reason: "ORDER_STATE"}
	ErrMachineInactive   = &Error{Kind: KindConflict, Reason: "MACHINE_INACTIVE"}
	ErrSlotMismatch      = &Error{Kind: KindInvariant, Reason: "SLOT_MISMATCH"}
	ErrWouldUnderflow    = &Error{Kind: KindInvariant, Reason: "WOULD_UNDERFLOW"}
	ErrMaterialMismatch  = &Error{Kind: KindInvariant, Reason: "MATERIAL_MISMATCH"}
	ErrSpoolKind         = &Error{Kind: KindInvariant, Reason: "SPOOL_KIND_MISMATCH"}
	ErrIncompleteOrders  = &Error{Kind: KindIncomplete, Reason: "INCOMPLETE_ORDERS"}
)

func newError(sentinel *Error, format string, args ...interface{}) *Error {
	return &Error{Kind: sentinel.Kind, Reason: sentinel.Reason, Message: fmt.Sprintf(format, args...)}
}

func validation(format string, args ...interface{}) *Error {
	return newError(ErrValidation, format, args...)
}

// notFound converts repository.ErrNotFound into the given typed error and
// passes every other error through unchanged.
func notFound(err error, sentinel *Error, format string, args ...interface{}) error {
	if errors.Is(err, repository.ErrNotFound) {
		return newError(sentinel, format, args...)
	}
	return err
}
