package processor

import (
	"errors"
)

var (
	ErrPermissionDenied   = errors.New("permission denied")
	ErrInvalidState       = errors.New("invalid request state")
	ErrInvalidEntitlement = errors.New("invalid entitlement")
	ErrInvalidArgument    = errors.New("invalid argument")
)
