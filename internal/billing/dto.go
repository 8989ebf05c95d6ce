package billing

import "time"

// CollectPaymentInput carries one cash collection request.
type CollectPaymentInput struct {
	CustomerID  int64
	Amount      int64
	PaidAt      time.Time
	Method      string
	CollectorID int64
}

// AllocationResult reports how much of a payment landed on one bill.
type AllocationResult struct {
	BillID int64  `json:"bill_id"`
	Period Period `json:"period"`
	Amount int64  `json:"amount"`
}

// CollectPaymentResult summarises a committed collection.
type CollectPaymentResult struct {
	PaymentID     int64              `json:"payment_id"`
	PaymentNumber string             `json:"payment_number"`
	Amount        int64              `json:"amount"`
	Allocations   []AllocationResult `json:"allocations"`
	AffectedBills []Bill             `json:"affected_bills"`
}

// MonthCovered is one period settled (fully or partially) by a payment.
type MonthCovered struct {
	Period Period `json:"period"`
	Label  string `json:"label"`
	Amount int64  `json:"amount"`
}

// PaymentHistoryEntry groups a payment with the months it covered.
type PaymentHistoryEntry struct {
	PaymentID     int64          `json:"payment_id"`
	PaymentNumber string         `json:"payment_number"`
	Amount        int64          `json:"amount"`
	PaidAt        time.Time      `json:"paid_at"`
	Method        string         `json:"method"`
	CollectorID   int64          `json:"collector_id,omitempty"`
	MonthsCovered []MonthCovered `json:"months_covered"`
}

// CustomerSummary is the derived ledger view for one customer.
type CustomerSummary struct {
	CustomerID    int64  `json:"customer_id"`
	TotalDue      int64  `json:"total_due"`
	PaidTotal     int64  `json:"paid_total"`
	AdvanceAmount int64  `json:"advance_amount"`
	LegacyBalance int64  `json:"legacy_balance"`
	Bills         []Bill `json:"bills"`
}

// RecurringRunResult reports one recurring bill generation pass.
type RecurringRunResult struct {
	Period              Period `json:"period"`
	Created             int    `json:"created"`
	CustomersConsidered int    `json:"customers_considered"`
}

// StatementLine is one row of a customer statement export.
type StatementLine struct {
	Period    Period     `json:"period"`
	Label     string     `json:"label"`
	Billed    int64      `json:"billed"`
	Paid      int64      `json:"paid"`
	Status    BillStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}
