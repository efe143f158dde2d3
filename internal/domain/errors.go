package domain

import "errors"

var (
	ErrAdNotFound       = errors.New("ad not found")
	ErrAccountNotFound  = errors.New("account not found")
	ErrInvalidEventKind = errors.New("invalid event type")
	ErrInvalidAdID      = errors.New("invalid ad id")
	ErrForbidden        = errors.New("forbidden")
)
