package services

import "errors"

// Common service errors
var (
	ErrNotFound           = errors.New("record not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountInactive    = errors.New("account is inactive or suspended")
	ErrUnauthorized       = errors.New("not authorized")
	ErrInvalidState       = errors.New("invalid state transition")
	ErrDuplicate          = errors.New("duplicate record")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)
