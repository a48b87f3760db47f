package session

import (
	"fmt"

	"bus-tracker/internal/domain/apperrors"
)

var (
	ErrAlreadyActive     = fmt.Errorf("%w: a ride session is already active", apperrors.ErrConflict)
	ErrSessionNotFound   = fmt.Errorf("%w: ride session not found", apperrors.ErrNotFound)
	ErrSessionNotActive  = fmt.Errorf("%w: ride session is not active", apperrors.ErrState)
	ErrEmptyAccessCode   = fmt.Errorf("%w: driver code is required", apperrors.ErrValidation)
	ErrInvalidAccessCode = fmt.Errorf("%w: invalid driver code", apperrors.ErrAuth)
	ErrEmptySessionID    = fmt.Errorf("%w: session id is required", apperrors.ErrValidation)
	ErrEmptyDriverID     = fmt.Errorf("%w: driver identity is required", apperrors.ErrValidation)
)
