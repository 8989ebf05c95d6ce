package billing

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
)

// DefaultOverflowCap bounds how many extra periods an overflowing payment may
// synthesise beyond its target set. Two years of advance payment is treated
// as an input error rather than a bulk-prepay.
const DefaultOverflowCap = 24

// LedgerAllocation is an allocation row joined with its bill's period, the
// shape reporting queries work with.
type LedgerAllocation struct {
	PaymentID int64
	BillID    int64
	Period    Period
	Amount    int64
}

// TxPort exposes the mutations available inside one billing transaction.
type TxPort interface {
	GetCustomer(ctx context.Context, id int64) (*Customer, error)
	FindBill(ctx context.Context, customerID int64, period Period) (*Bill, error)
	InsertBill(ctx context.Context, customerID int64, period Period, amount int64) (*Bill, bool, error)
	GetBill(ctx context.Context, id int64) (*Bill, error)
	SumBillAllocations(ctx context.Context, billID int64) (int64, error)
	InsertPayment(ctx context.Context, p *Payment) error
	InsertAllocation(ctx context.Context, a *PaymentAllocation) error
	UpdateBillStatus(ctx context.Context, billID int64, status BillStatus) error
	GetPayment(ctx context.Context, id int64) (*Payment, error)
	DeletePaymentAllocations(ctx context.Context, paymentID int64) ([]int64, error)
	DeletePayment(ctx context.Context, id int64) error
}

// RepositoryPort defines data access for the billing service.
type RepositoryPort interface {
	GetCustomer(ctx context.Context, id int64) (*Customer, error)
	ListActiveCustomers(ctx context.Context) ([]Customer, error)
	ListCustomerBills(ctx context.Context, customerID int64) ([]Bill, error)
	ListCustomerPayments(ctx context.Context, customerID int64) ([]Payment, error)
	ListCustomerAllocations(ctx context.Context, customerID int64) ([]LedgerAllocation, error)
	WithTx(ctx context.Context, fn func(context.Context, TxPort) error) error
}

// ServiceConfig tunes the billing service.
type ServiceConfig struct {
	// OverflowCap caps overflow period synthesis; zero means DefaultOverflowCap.
	OverflowCap int
	// Location resolves "the current month" for period targeting and the
	// recurring generator. Defaults to UTC.
	Location *time.Location
}

// Service implements the billing core: payment allocation, ledger
// recomputation and recurring bill generation.
type Service struct {
	repo        RepositoryPort
	cache       *SummaryCache
	logger      *slog.Logger
	overflowCap int
	loc         *time.Location
	now         func() time.Time
}

// NewService builds a Service instance. cache may be nil.
func NewService(repo RepositoryPort, cache *SummaryCache, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	cap := cfg.OverflowCap
	if cap <= 0 {
		cap = DefaultOverflowCap
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		repo:        repo,
		cache:       cache,
		logger:      logger,
		overflowCap: cap,
		loc:         loc,
		now:         time.Now,
	}
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

// pendingAllocation is an allocation computed but not yet written.
type pendingAllocation struct {
	bill    *Bill
	applied int64
}

// CollectPayment records one cash collection: it resolves the target periods
// for the customer's billing mode, materialises any missing bills, allocates
// the amount oldest-first, synthesises overflow periods when the amount
// exceeds every target, and commits payment, allocations and refreshed bill
// statuses as one transaction.
func (s *Service) CollectPayment(ctx context.Context, input CollectPaymentInput) (*CollectPaymentResult, error) {
	if input.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	paidAt := input.PaidAt
	if paidAt.IsZero() {
		paidAt = s.now()
	}
	method := input.Method
	if method == "" {
		method = "CASH"
	}

	var result *CollectPaymentResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxPort) error {
		customer, err := tx.GetCustomer(ctx, input.CustomerID)
		if err != nil {
			return err
		}
		if customer == nil {
			return ErrCustomerNotFound
		}
		if customer.MonthlyFee == nil || *customer.MonthlyFee <= 0 {
			return ErrInvalidFee
		}
		fee := *customer.MonthlyFee

		periods, err := s.targetPeriods(ctx, tx, customer, input.Amount, fee)
		if err != nil {
			return err
		}
		if len(periods) == 0 {
			return ErrNoBillableMonths
		}

		bills, err := s.ensureBills(ctx, tx, customer.ID, fee, periods)
		if err != nil {
			return err
		}
		sort.Slice(bills, func(i, j int) bool { return bills[i].Period.Before(bills[j].Period) })

		remaining := input.Amount
		var pending []pendingAllocation
		for i := range bills {
			if remaining <= 0 {
				break
			}
			applied, err := s.applyToBill(ctx, tx, bills[i], remaining)
			if err != nil {
				return err
			}
			if applied == 0 {
				continue
			}
			pending = append(pending, pendingAllocation{bill: bills[i], applied: applied})
			remaining -= applied
		}

		// A collection that settled nothing in its target window is a
		// mistake, not an advance; reject it before overflow can turn it
		// into future bills.
		if len(pending) == 0 {
			return ErrNoPayableBills
		}

		// Overflow: the payment exceeds every targeted period, so buy
		// consecutive future months one at a time, up to the cap.
		next := bills[len(bills)-1].Period
		for extra := 0; remaining > 0; extra++ {
			if extra >= s.overflowCap {
				return ErrOverflowLimit
			}
			next = next.AddMonths(1)
			bill, _, err := tx.InsertBill(ctx, customer.ID, next, fee)
			if err != nil {
				return err
			}
			applied, err := s.applyToBill(ctx, tx, bill, remaining)
			if err != nil {
				return err
			}
			if applied == 0 {
				continue
			}
			pending = append(pending, pendingAllocation{bill: bill, applied: applied})
			remaining -= applied
		}

		payment := &Payment{
			Number:      "PAY-" + uuid.NewString(),
			CustomerID:  customer.ID,
			BillID:      pending[0].bill.ID,
			Amount:      input.Amount,
			PaidAt:      paidAt,
			Method:      method,
			CollectorID: input.CollectorID,
		}
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return fmt.Errorf("billing: insert payment: %w", err)
		}

		res := &CollectPaymentResult{
			PaymentID:     payment.ID,
			PaymentNumber: payment.Number,
			Amount:        payment.Amount,
		}
		for _, p := range pending {
			alloc := &PaymentAllocation{PaymentID: payment.ID, BillID: p.bill.ID, Amount: p.applied}
			if err := tx.InsertAllocation(ctx, alloc); err != nil {
				return fmt.Errorf("billing: insert allocation: %w", err)
			}
			res.Allocations = append(res.Allocations, AllocationResult{
				BillID: p.bill.ID,
				Period: p.bill.Period,
				Amount: p.applied,
			})
		}
		for _, p := range pending {
			refreshed, err := s.refreshBillStatus(ctx, tx, p.bill.ID)
			if err != nil {
				return err
			}
			res.AffectedBills = append(res.AffectedBills, *refreshed)
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.bumpCache(ctx, input.CustomerID)
	s.logger.Info("payment collected",
		slog.Int64("customer_id", input.CustomerID),
		slog.Int64("payment_id", result.PaymentID),
		slog.Int64("amount", result.Amount),
		slog.Int("allocations", len(result.Allocations)))
	return result, nil
}

// targetPeriods resolves which months a collection applies to.
func (s *Service) targetPeriods(ctx context.Context, tx TxPort, customer *Customer, amount, fee int64) ([]Period, error) {
	current := PeriodOf(s.now().In(s.loc))
	switch customer.BillingMode {
	case ModePrepaid:
		monthsNeeded := ceilDiv(amount, fee)
		if monthsNeeded < 1 {
			monthsNeeded = 1
		}
		start := current.Time(s.loc)
		return MonthRange(start, current.AddMonths(int(monthsNeeded)-1).Time(s.loc)), nil
	default:
		// Postpaid clears completed months, ending at the one before the
		// current period. The month count follows the outstanding
		// aggregate, not the collected amount.
		endPeriod := current.AddMonths(-1)
		currentAmount := fee
		if bill, err := tx.FindBill(ctx, customer.ID, current); err != nil {
			return nil, err
		} else if bill != nil {
			currentAmount = bill.Amount
		}
		totalOwed := customer.DueBalance + currentAmount
		monthsOwed := ceilDiv(totalOwed, fee)
		if monthsOwed < 1 {
			monthsOwed = 1
		}
		return TrailingMonths(endPeriod.Time(s.loc), int(monthsOwed)), nil
	}
}

// ensureBills materialises a bill for each requested period, reusing bills
// that already exist.
func (s *Service) ensureBills(ctx context.Context, tx TxPort, customerID, fee int64, periods []Period) ([]*Bill, error) {
	bills := make([]*Bill, 0, len(periods))
	for _, period := range periods {
		bill, _, err := tx.InsertBill(ctx, customerID, period, fee)
		if err != nil {
			return nil, fmt.Errorf("billing: ensure bill %s: %w", period.Key(), err)
		}
		bills = append(bills, bill)
	}
	return bills, nil
}

// applyToBill computes how much of remaining the bill can still absorb. A
// bill already covered by earlier payments absorbs nothing.
func (s *Service) applyToBill(ctx context.Context, tx TxPort, bill *Bill, remaining int64) (int64, error) {
	paid, err := tx.SumBillAllocations(ctx, bill.ID)
	if err != nil {
		return 0, err
	}
	available := bill.Amount - paid
	if available <= 0 {
		return 0, nil
	}
	if available < remaining {
		return available, nil
	}
	return remaining, nil
}

// refreshBillStatus recomputes a bill's status from a fresh read of all its
// allocations and persists it.
func (s *Service) refreshBillStatus(ctx context.Context, tx TxPort, billID int64) (*Bill, error) {
	bill, err := tx.GetBill(ctx, billID)
	if err != nil {
		return nil, err
	}
	paid, err := tx.SumBillAllocations(ctx, billID)
	if err != nil {
		return nil, err
	}
	status := ResolveStatus(bill.Amount, paid)
	if err := tx.UpdateBillStatus(ctx, billID, status); err != nil {
		return nil, err
	}
	bill.Status = status
	return bill, nil
}

// DeletePayment reverses a collection: its allocations are removed and every
// bill they touched is recomputed from the allocations that remain.
func (s *Service) DeletePayment(ctx context.Context, paymentID int64) error {
	var customerID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxPort) error {
		payment, err := tx.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return ErrPaymentNotFound
		}
		customerID = payment.CustomerID

		billIDs, err := tx.DeletePaymentAllocations(ctx, paymentID)
		if err != nil {
			return err
		}
		if err := tx.DeletePayment(ctx, paymentID); err != nil {
			return err
		}
		for _, billID := range billIDs {
			if _, err := s.refreshBillStatus(ctx, tx, billID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.bumpCache(ctx, customerID)
	s.logger.Info("payment deleted",
		slog.Int64("payment_id", paymentID),
		slog.Int64("customer_id", customerID))
	return nil
}

// PaymentHistory lists a customer's payments with the months each covered.
func (s *Service) PaymentHistory(ctx context.Context, customerID int64) ([]PaymentHistoryEntry, error) {
	customer, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, ErrCustomerNotFound
	}
	payments, err := s.repo.ListCustomerPayments(ctx, customerID)
	if err != nil {
		return nil, err
	}
	allocations, err := s.repo.ListCustomerAllocations(ctx, customerID)
	if err != nil {
		return nil, err
	}

	covered := make(map[int64][]MonthCovered, len(payments))
	for _, alloc := range allocations {
		covered[alloc.PaymentID] = append(covered[alloc.PaymentID], MonthCovered{
			Period: alloc.Period,
			Label:  alloc.Period.Label(),
			Amount: alloc.Amount,
		})
	}

	entries := make([]PaymentHistoryEntry, 0, len(payments))
	for _, p := range payments {
		months := covered[p.ID]
		sort.Slice(months, func(i, j int) bool { return months[i].Period.Before(months[j].Period) })
		entries = append(entries, PaymentHistoryEntry{
			PaymentID:     p.ID,
			PaymentNumber: p.Number,
			Amount:        p.Amount,
			PaidAt:        p.PaidAt,
			Method:        p.Method,
			CollectorID:   p.CollectorID,
			MonthsCovered: months,
		})
	}
	return entries, nil
}

// Summary derives the customer-facing ledger totals from bills and their
// allocations plus the legacy carried-over balance.
func (s *Service) Summary(ctx context.Context, customerID int64) (*CustomerSummary, error) {
	if s.cache != nil {
		var cached CustomerSummary
		err := s.cache.Fetch(ctx, customerID, &cached, func(ctx context.Context) (*CustomerSummary, error) {
			return s.buildSummary(ctx, customerID)
		})
		if err != nil {
			return nil, err
		}
		return &cached, nil
	}
	return s.buildSummary(ctx, customerID)
}

func (s *Service) buildSummary(ctx context.Context, customerID int64) (*CustomerSummary, error) {
	customer, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, ErrCustomerNotFound
	}
	bills, err := s.repo.ListCustomerBills(ctx, customerID)
	if err != nil {
		return nil, err
	}
	allocations, err := s.repo.ListCustomerAllocations(ctx, customerID)
	if err != nil {
		return nil, err
	}

	paidByBill := make(map[int64]int64, len(bills))
	for _, alloc := range allocations {
		paidByBill[alloc.BillID] += alloc.Amount
	}

	summary := &CustomerSummary{
		CustomerID:    customerID,
		LegacyBalance: customer.DueBalance,
		TotalDue:      customer.DueBalance,
		Bills:         bills,
	}
	for _, bill := range bills {
		paid := paidByBill[bill.ID]
		summary.PaidTotal += paid
		if due := bill.Amount - paid; due > 0 {
			summary.TotalDue += due
		} else if due < 0 {
			summary.AdvanceAmount += -due
		}
	}
	return summary, nil
}

// Statement renders the per-period ledger rows used by the CSV export,
// oldest period first.
func (s *Service) Statement(ctx context.Context, customerID int64) ([]StatementLine, error) {
	summary, err := s.buildSummary(ctx, customerID)
	if err != nil {
		return nil, err
	}
	allocations, err := s.repo.ListCustomerAllocations(ctx, customerID)
	if err != nil {
		return nil, err
	}
	paidByBill := make(map[int64]int64, len(summary.Bills))
	for _, alloc := range allocations {
		paidByBill[alloc.BillID] += alloc.Amount
	}

	lines := make([]StatementLine, 0, len(summary.Bills))
	for _, bill := range summary.Bills {
		lines = append(lines, StatementLine{
			Period:    bill.Period,
			Label:     bill.Period.Label(),
			Billed:    bill.Amount,
			Paid:      paidByBill[bill.ID],
			Status:    bill.Status,
			CreatedAt: bill.CreatedAt,
		})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].Period.Before(lines[j].Period) })
	return lines, nil
}

// GenerateRecurringBills materialises one DUE bill per active customer for
// the given period (defaulting to the current month in the configured zone).
// Safe to re-run within the same period; per-customer failures are logged
// and skipped.
func (s *Service) GenerateRecurringBills(ctx context.Context, period *Period) (RecurringRunResult, error) {
	target := PeriodOf(s.now().In(s.loc))
	if period != nil {
		target = *period
	}
	result := RecurringRunResult{Period: target}

	customers, err := s.repo.ListActiveCustomers(ctx)
	if err != nil {
		return result, err
	}
	for _, customer := range customers {
		result.CustomersConsidered++
		if customer.MonthlyFee == nil || *customer.MonthlyFee <= 0 {
			s.logger.Warn("recurring bill skipped",
				slog.Int64("customer_id", customer.ID),
				slog.String("reason", "monthly fee not set"))
			continue
		}
		fee := *customer.MonthlyFee
		var created bool
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxPort) error {
			_, didCreate, err := tx.InsertBill(ctx, customer.ID, target, fee)
			created = didCreate
			return err
		})
		if err != nil {
			s.logger.Error("recurring bill failed",
				slog.Int64("customer_id", customer.ID),
				slog.String("period", target.Key()),
				slog.Any("error", err))
			continue
		}
		if created {
			result.Created++
			s.bumpCache(ctx, customer.ID)
		}
	}

	s.logger.Info("recurring bills generated",
		slog.String("period", target.Key()),
		slog.Int("created", result.Created),
		slog.Int("customers", result.CustomersConsidered))
	return result, nil
}

func (s *Service) bumpCache(ctx context.Context, customerID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx, customerID); err != nil {
		s.logger.Warn("summary cache bump", slog.Int64("customer_id", customerID), slog.Any("error", err))
	}
}
