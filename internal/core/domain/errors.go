package domain

import "errors"

var (
	ErrUnknownField     = errors.New("unknown telemetry field")
	ErrMalformedValue   = errors.New("malformed telemetry value")
	ErrUnknownDevice    = errors.New("unknown device")
	ErrDuplicateDevice  = errors.New("device already registered")
	ErrUnknownFuseGroup = errors.New("unknown fuse group")
	ErrInvalidMode      = errors.New("invalid operating mode")
)
