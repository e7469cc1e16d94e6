package domain

import "errors"

var (
	ErrEmptyStatement    = errors.New("empty statement")
	ErrStatementRejected = errors.New("statement rejected")
	ErrNilRequest        = errors.New("query request is required")
	ErrNilResult         = errors.New("query result is required")
	ErrNotFound          = errors.New("not found")
	ErrReferenceSet      = errors.New("published reference already set")
)
