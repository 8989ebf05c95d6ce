package billing

import "errors"

var (
	// ErrCustomerNotFound indicates the customer id does not exist.
	ErrCustomerNotFound = errors.New("billing: customer not found")
	// ErrInvalidFee rejects collection when the customer's monthly fee is
	// unset or not positive.
	ErrInvalidFee = errors.New("billing: monthly fee not set")
	// ErrInvalidAmount rejects non-positive collection amounts.
	ErrInvalidAmount = errors.New("billing: amount must be positive")
	// ErrNoBillableMonths indicates no target period could be resolved.
	ErrNoBillableMonths = errors.New("billing: no billable months")
	// ErrNoPayableBills indicates every targeted bill was already settled
	// and the collection would have no effect.
	ErrNoPayableBills = errors.New("billing: no payable bills")
	// ErrOverflowLimit indicates the payment exceeded the overflow period
	// cap and cannot be allocated safely.
	ErrOverflowLimit = errors.New("billing: advance payment exceeds overflow limit")
	// ErrPaymentNotFound indicates the payment id does not exist.
	ErrPaymentNotFound = errors.New("billing: payment not found")
)
