package billing

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestHandler(repo RepositoryPort) http.Handler {
	svc := NewService(repo, nil, discardLogger(), ServiceConfig{})
	svc.now = func() time.Time { return testNow }
	h := NewHandler(discardLogger(), svc, nil)
	r := chi.NewRouter()
	r.Route("/billing", h.MountRoutes)
	return r
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCollectPaymentEndpoint(t *testing.T) {
	repo := newMemoryBillingRepo()
	repo.addCustomer(Customer{ID: 1, MonthlyFee: fee(350), BillingMode: ModePostpaid, Status: CustomerActive})
	router := newTestHandler(repo)

	body := strings.NewReader(`{"amount":350,"method":"CASH","collector_id":7}`)
	req := httptest.NewRequest(http.MethodPost, "/billing/customers/1/payments", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var result CollectPaymentResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.NotZero(t, result.PaymentID)
	require.Equal(t, int64(350), result.Amount)
	require.Len(t, result.Allocations, 1)
}

func TestCollectPaymentEndpointRejectsBadInput(t *testing.T) {
	repo := newMemoryBillingRepo()
	repo.addCustomer(Customer{ID: 1, MonthlyFee: fee(350), BillingMode: ModePostpaid, Status: CustomerActive})
	router := newTestHandler(repo)

	cases := []struct {
		name string
		path string
		body string
		code int
	}{
		{"zero amount", "/billing/customers/1/payments", `{"amount":0}`, http.StatusBadRequest},
		{"bad method", "/billing/customers/1/payments", `{"amount":100,"method":"BARTER"}`, http.StatusBadRequest},
		{"bad paid_at", "/billing/customers/1/payments", `{"amount":100,"paid_at":"yesterday"}`, http.StatusBadRequest},
		{"bad path id", "/billing/customers/abc/payments", `{"amount":100}`, http.StatusBadRequest},
		{"unknown customer", "/billing/customers/99/payments", `{"amount":100}`, http.StatusNotFound},
		{"not json", "/billing/customers/1/payments", `amount=100`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tc.path, strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			require.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestPaymentHistoryEndpoint(t *testing.T) {
	repo := newMemoryBillingRepo()
	repo.addCustomer(Customer{ID: 1, MonthlyFee: fee(350), BillingMode: ModePostpaid, Status: CustomerActive})
	router := newTestHandler(repo)

	collect := httptest.NewRequest(http.MethodPost, "/billing/customers/1/payments", strings.NewReader(`{"amount":350}`))
	collect.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, collect)
	require.Equal(t, http.StatusCreated, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/billing/customers/1/payments", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Payments []PaymentHistoryEntry `json:"payments"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Payments, 1)
	require.Len(t, payload.Payments[0].MonthsCovered, 1)
}

func TestCustomerSummaryEndpoint(t *testing.T) {
	repo := newMemoryBillingRepo()
	repo.addCustomer(Customer{ID: 1, MonthlyFee: fee(350), DueBalance: 200, BillingMode: ModePostpaid, Status: CustomerActive})
	repo.seedBill(1, Period{Year: 2024, Month: time.March}, 350, BillStatusDue)
	router := newTestHandler(repo)

	req := httptest.NewRequest(http.MethodGet, "/billing/customers/1/summary", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary CustomerSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	require.Equal(t, int64(550), summary.TotalDue)
	require.Equal(t, int64(200), summary.LegacyBalance)
}

// ctxCheckRepo fails reads once the caller's context is done, the way a real
// driver would.
type ctxCheckRepo struct {
	*memoryBillingRepo
}

func (r *ctxCheckRepo) GetCustomer(ctx context.Context, id int64) (*Customer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.memoryBillingRepo.GetCustomer(ctx, id)
}

func TestCustomerSummaryEndpointSurvivesCallerCancel(t *testing.T) {
	repo := newMemoryBillingRepo()
	repo.addCustomer(Customer{ID: 1, MonthlyFee: fee(350), BillingMode: ModePostpaid, Status: CustomerActive})
	repo.seedBill(1, Period{Year: 2024, Month: time.March}, 350, BillStatusDue)
	router := newTestHandler(&ctxCheckRepo{repo})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/billing/customers/1/summary", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var summary CustomerSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	require.Equal(t, int64(350), summary.TotalDue)
}

func TestStatementCSVEndpoint(t *testing.T) {
	repo := newMemoryBillingRepo()
	repo.addCustomer(Customer{ID: 1, MonthlyFee: fee(1500), BillingMode: ModePostpaid, Status: CustomerActive})
	bill := repo.seedBill(1, Period{Year: 2024, Month: time.January}, 1500, BillStatusPaid)
	repo.seedAllocation(1, bill.ID, 1500)
	router := newTestHandler(repo)

	req := httptest.NewRequest(http.MethodGet, "/billing/customers/1/statement.csv", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), "statement-1.csv")

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, "Period,Billed,Paid,Status", lines[0])
	require.Equal(t, "January 2024,\"1,500\",\"1,500\",PAID", lines[1])
}

func TestDeletePaymentEndpoint(t *testing.T) {
	repo := newMemoryBillingRepo()
	repo.addCustomer(Customer{ID: 1, MonthlyFee: fee(350), BillingMode: ModePostpaid, Status: CustomerActive})
	router := newTestHandler(repo)

	collect := httptest.NewRequest(http.MethodPost, "/billing/customers/1/payments", strings.NewReader(`{"amount":350}`))
	collect.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, collect)
	require.Equal(t, http.StatusCreated, rec.Code)

	var result CollectPaymentResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))

	req := httptest.NewRequest(http.MethodDelete, "/billing/payments/1", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/billing/payments/1", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunRecurringEndpoint(t *testing.T) {
	repo := newMemoryBillingRepo()
	repo.addCustomer(Customer{ID: 1, MonthlyFee: fee(350), BillingMode: ModePostpaid, Status: CustomerActive})
	router := newTestHandler(repo)

	body := strings.NewReader(`{"period":"2024-02"}`)
	req := httptest.NewRequest(http.MethodPost, "/billing/recurring/run", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var result RecurringRunResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, 1, result.Created)
	require.Equal(t, Period{Year: 2024, Month: time.February}, result.Period)

	rec = httptest.NewRecorder()
	bad := httptest.NewRequest(http.MethodPost, "/billing/recurring/run", strings.NewReader(`{"period":"2024-13"}`))
	bad.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, bad)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
