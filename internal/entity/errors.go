package entity

import "errors"

var (
	ErrDecode               = errors.New("decode feed frame")
	ErrAuthorization        = errors.New("authorize market data feed")
	ErrInvalidCredential    = errors.New("invalid or expired feed credential")
	ErrConnection           = errors.New("market data feed connection")
	ErrRetriesExhausted     = errors.New("retries exhausted")
	ErrSchemaNotInitialized = errors.New("feed schema is not initialized")
	ErrRegistryStopped      = errors.New("fan-out registry is stopped")
	ErrInvalidInstrumentKey = errors.New("invalid instrument key")
)
