package catalog

import "errors"

var (
	ErrNotFound          = errors.New("item not found")
	ErrAlreadyCheckedOut = errors.New("item is already checked out")
	ErrNotCheckedOut     = errors.New("item is not checked out")
	ErrInvalidKind       = errors.New("invalid item kind")
	ErrInvalidLoanPeriod = errors.New("invalid loan period")
)
