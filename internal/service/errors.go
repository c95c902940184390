package service

import (
	"errors"

	"github.com/macleangm-debug/FieldForce/internal/access"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = access.ErrForbidden
	ErrInvalidState = errors.New("invalid state")
	ErrValidation   = errors.New("validation failed")
)
