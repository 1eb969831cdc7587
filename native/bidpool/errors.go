package bidpool

import (
	"errors"

	"coharvest/core/decimal"
	"coharvest/crypto"
)

var (
	ErrUnauthorized = errors.New("bidpool: unauthorized")

	ErrInvalidTimeRange = errors.New("bidpool: invalid bidding time range")
	ErrBelowMinimum     = errors.New("bidpool: deposit below minimum")
	ErrInvalidSlot      = errors.New("bidpool: slot out of range")
	ErrRoundNotOpen     = errors.New("bidpool: round is not open for bidding")
	ErrRoundNotEnded    = errors.New("bidpool: round has not ended")
	ErrRoundReleased    = errors.New("bidpool: round already finalized")
	ErrRoundNotReleased = errors.New("bidpool: round not finalized")
	ErrRoundStarted     = errors.New("bidpool: round already started")
	ErrInvalidAsset     = errors.New("bidpool: invalid bidding token")
	ErrInvalidConfig    = errors.New("bidpool: invalid config")
	ErrInvalidAmount    = errors.New("bidpool: invalid amount")

	ErrRoundNotFound      = errors.New("bidpool: round not found")
	ErrBidNotFound        = errors.New("bidpool: bid not found")
	ErrNotInitialised     = errors.New("bidpool: engine not initialised")
	ErrAlreadyInitialised = errors.New("bidpool: engine already initialised")

	errNilState = errors.New("bidpool engine: state not configured")
)

// Kind groups errors for transports that map them onto status codes.
type Kind uint8

const (
	KindInternal Kind = iota
	KindAuthorization
	KindValidation
	KindNotFound
	KindState
	KindArithmetic
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindState:
		return "state"
	case KindArithmetic:
		return "arithmetic"
	default:
		return "internal"
	}
}

// KindOf classifies err. Unknown errors are internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrUnauthorized):
		return KindAuthorization
	case errors.Is(err, ErrRoundNotFound), errors.Is(err, ErrBidNotFound):
		return KindNotFound
	case errors.Is(err, ErrNotInitialised), errors.Is(err, ErrAlreadyInitialised):
		return KindState
	case errors.Is(err, decimal.ErrOverflow), errors.Is(err, decimal.ErrUnderflow),
		errors.Is(err, decimal.ErrDivideByZero):
		return KindArithmetic
	case errors.Is(err, ErrInvalidTimeRange), errors.Is(err, ErrBelowMinimum),
		errors.Is(err, ErrInvalidSlot), errors.Is(err, ErrRoundNotOpen),
		errors.Is(err, ErrRoundNotEnded), errors.Is(err, ErrRoundReleased),
		errors.Is(err, ErrRoundNotReleased), errors.Is(err, ErrRoundStarted),
		errors.Is(err, ErrInvalidAsset), errors.Is(err, ErrInvalidConfig),
		errors.Is(err, ErrInvalidAmount), errors.Is(err, crypto.ErrInvalidAddress),
		errors.Is(err, decimal.ErrInvalidDecimal):
		return KindValidation
	default:
		return KindInternal
	}
}
