package transaction

import "errors"

var (
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrSelfPayment          = errors.New("cannot pay a token issued by yourself")
	ErrInvalidTransition    = errors.New("transaction cannot change to the requested status")
	ErrForbidden            = errors.New("not allowed to act on this transaction")

	// ErrInternal means nothing was committed and the payment may be retried
	ErrInternal = errors.New("payment could not be completed")
)
