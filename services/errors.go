package services

import (
	"errors"

	"qbanksync/qformat"
)

var (
	ErrQuestionNotFound = errors.New("question not found")
	ErrCategoryNotFound = errors.New("question category not found")
	ErrSeedNotFound     = errors.New("deployed seed not found")
	ErrSeedClaimed      = errors.New("seed already has a variant copy")
	ErrCloneFailed      = errors.New("cannot import variant copy")
	ErrInvalidDocument  = qformat.ErrInvalidDocument
	ErrInvalidRequest   = errors.New("invalid request")
	ErrUnauthorized     = errors.New("invalid credentials")

	// ErrObserverFailed wraps observer errors raised after a change was
	// committed. The change itself stands.
	ErrObserverFailed = errors.New("change saved but synchronization failed")
)
