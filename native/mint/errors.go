package mint

import "errors"

var (
	ErrUnrecognizedChannel = errors.New("mint engine: unrecognized payment channel")
	ErrPaymentMismatch     = errors.New("mint engine: payment does not equal price times quantity")
	ErrEmptyRequest        = errors.New("mint engine: quantity must be positive")
	ErrPoolExhausted       = errors.New("mint engine: all items have been minted")
	ErrInsufficientSupply  = errors.New("mint engine: not enough items left in the pool")
	ErrNotOwner            = errors.New("mint engine: caller is not allowed to use this function")
	ErrUnauthorized        = errors.New("mint engine: wrong viewing key for this address or viewing key not set")
	// ErrPoolCorrupt means an index inside 1..=total was missing. It is never
	// retried; the engine stops allocating once it has been observed.
	ErrPoolCorrupt = errors.New("mint engine: item pool is corrupt")

	ErrNotInstantiated     = errors.New("mint engine: not instantiated")
	ErrAlreadyInstantiated = errors.New("mint engine: already instantiated")
	ErrIntentRequired      = errors.New("mint engine: payment notice carries no mint intent")
	ErrInvalidIntent       = errors.New("mint engine: malformed mint intent")
	ErrPoolCapacity        = errors.New("mint engine: pool capacity exceeded")
	ErrInvalidParams       = errors.New("mint engine: invalid parameters")
	ErrItemNotFound        = errors.New("mint engine: pool item not found")

	errNilState = errors.New("mint engine: state not configured")
)
