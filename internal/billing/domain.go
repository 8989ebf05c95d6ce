package billing

import (
	"time"
)

// BillStatus enumerates bill settlement states.
type BillStatus string

const (
	BillStatusDue     BillStatus = "DUE"
	BillStatusPartial BillStatus = "PARTIAL"
	BillStatusPaid    BillStatus = "PAID"
	BillStatusAdvance BillStatus = "ADVANCE"
)

// BillingMode selects which periods a collection targets.
type BillingMode string

const (
	// ModePostpaid bills in arrears: payments clear the most recent
	// completed months first.
	ModePostpaid BillingMode = "POSTPAID"
	// ModePrepaid bills in advance: payments buy months starting with the
	// current one.
	ModePrepaid BillingMode = "PREPAID"
)

// CustomerStatus gates recurring bill generation.
type CustomerStatus string

const (
	CustomerActive   CustomerStatus = "ACTIVE"
	CustomerInactive CustomerStatus = "INACTIVE"
)

// Customer is read-only input to the billing core; customer lifecycle is
// owned elsewhere.
type Customer struct {
	ID             int64
	Name           string
	AreaID         int64
	MonthlyFee     *int64
	DueBalance     int64
	BillingMode    BillingMode
	Status         CustomerStatus
	ConnectionDate time.Time
}

// Bill is one customer's obligation for one calendar month. Amount is the
// fee snapshot taken at creation and never recomputed. Status is a cached
// projection of ResolveStatus over the bill's allocations.
type Bill struct {
	ID         int64      `json:"id"`
	CustomerID int64      `json:"customer_id"`
	Period     Period     `json:"period"`
	Amount     int64      `json:"amount"`
	Status     BillStatus `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Payment records one cash collection event. BillID denormalises the first
// bill the payment settled, for display only; the authoritative effect of a
// payment is its allocation rows.
type Payment struct {
	ID          int64     `json:"id"`
	Number      string    `json:"number"`
	CustomerID  int64     `json:"customer_id"`
	BillID      int64     `json:"bill_id"`
	Amount      int64     `json:"amount"`
	PaidAt      time.Time `json:"paid_at"`
	Method      string    `json:"method"`
	CollectorID int64     `json:"collector_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// PaymentAllocation applies a portion of a payment to one bill.
type PaymentAllocation struct {
	ID        int64
	PaymentID int64
	BillID    int64
	Amount    int64
}

// ResolveStatus derives a bill's status from its amount and the sum of its
// allocations. A zero-amount bill with no payments stays DUE rather than
// PAID; collectors rely on that to spot customers whose fee was never set
// for the period.
func ResolveStatus(billed, paid int64) BillStatus {
	switch {
	case paid > billed:
		return BillStatusAdvance
	case paid == billed && billed > 0:
		return BillStatusPaid
	case paid > 0 && paid < billed:
		return BillStatusPartial
	default:
		return BillStatusDue
	}
}
