package types

import "errors"

// Error taxonomy for the trade lifecycle. Handlers map these onto HTTP
// responses; services wrap them with context and callers test with errors.Is.
var (
	// ErrRateUnavailable means upstream pricing failed or returned a
	// non-positive price. Recoverable by retrying the quote fetch.
	ErrRateUnavailable = errors.New("rate unavailable")

	// ErrUnsupportedPair means the requested pair is not tradeable.
	ErrUnsupportedPair = errors.New("unsupported currency pair")

	// ErrQuoteExpired means the quote's rate lock lapsed before the trade
	// consumed it. An expired quote never seeds a trade.
	ErrQuoteExpired = errors.New("quote expired")

	// ErrInvalidStateTransition means a transition outside the lifecycle
	// table was attempted. The trade is left untouched.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrLimitExceeded means the trade would push the user past their KYC
	// tier's daily or monthly volume limit.
	ErrLimitExceeded = errors.New("trade limit exceeded")

	// ErrInsufficientBalance means the wallet's available (non-pending)
	// balance cannot cover the reservation.
	ErrInsufficientBalance = errors.New("insufficient wallet balance")

	// ErrPaymentRejected means the execution adapter or upstream exchange
	// rejected the payment. The trade fails and compensation runs.
	ErrPaymentRejected = errors.New("payment rejected")

	// ErrSignatureInvalid means a webhook payload failed HMAC verification.
	ErrSignatureInvalid = errors.New("webhook signature invalid")

	// ErrUnknownReference means a webhook referenced a trade we do not know.
	ErrUnknownReference = errors.New("unknown external reference")

	// ErrCompensationFailed means a reserved amount could not be returned to
	// the wallet. It implies ledger inconsistency and must alert operators.
	ErrCompensationFailed = errors.New("compensation failed")
)
