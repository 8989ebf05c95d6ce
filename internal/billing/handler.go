package billing

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/cablegrid/cablegrid/internal/observability"
	"github.com/cablegrid/cablegrid/internal/platform/httpx"
)

// summaryLoadTimeout bounds a detached summary load.
const summaryLoadTimeout = 5 * time.Second

// Handler exposes the billing core over HTTP.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	metrics   *observability.Metrics
	validator *validator.Validate
	summaries singleflight.Group
	printer   *message.Printer
}

// NewHandler builds a Handler instance. metrics may be nil.
func NewHandler(logger *slog.Logger, service *Service, metrics *observability.Metrics) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		metrics:   metrics,
		validator: validator.New(),
		printer:   message.NewPrinter(language.English),
	}
}

// MountRoutes registers billing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/customers/{customerID}/payments", h.collectPayment)
	r.Get("/customers/{customerID}/payments", h.paymentHistory)
	r.Get("/customers/{customerID}/summary", h.customerSummary)
	r.Get("/customers/{customerID}/statement.csv", h.statementCSV)
	r.Delete("/payments/{paymentID}", h.deletePayment)
	r.Post("/recurring/run", h.runRecurring)
}

type collectPaymentRequest struct {
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	PaidAt      string `json:"paid_at" validate:"omitempty"`
	Method      string `json:"method" validate:"omitempty,oneof=CASH TRANSFER QRIS"`
	CollectorID int64  `json:"collector_id" validate:"omitempty,gt=0"`
}

func (h *Handler) collectPayment(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.pathID(w, r, "customerID")
	if !ok {
		return
	}

	var req collectPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}

	var paidAt time.Time
	if req.PaidAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.PaidAt)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "paid_at must be RFC3339")
			return
		}
		paidAt = parsed
	}

	result, err := h.service.CollectPayment(r.Context(), CollectPaymentInput{
		CustomerID:  customerID,
		Amount:      req.Amount,
		PaidAt:      paidAt,
		Method:      req.Method,
		CollectorID: req.CollectorID,
	})
	if err != nil {
		h.metrics.CountCollection(collectionOutcome(err))
		h.respondError(w, "collect payment", err)
		return
	}
	h.metrics.CountCollection("success")
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) paymentHistory(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.pathID(w, r, "customerID")
	if !ok {
		return
	}
	entries, err := h.service.PaymentHistory(r.Context(), customerID)
	if err != nil {
		h.respondError(w, "payment history", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"payments": entries})
}

func (h *Handler) customerSummary(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.pathID(w, r, "customerID")
	if !ok {
		return
	}

	// Concurrent collectors refresh the same customer screen; collapse
	// duplicate reads into one service call. The loader runs detached from
	// the leader's request context so one cancelled caller cannot fail the
	// waiters sharing the flight.
	key := strconv.FormatInt(customerID, 10)
	value, err, _ := h.summaries.Do(key, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), summaryLoadTimeout)
		defer cancel()
		return h.service.Summary(ctx, customerID)
	})
	if err != nil {
		h.respondError(w, "customer summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, value)
}

func (h *Handler) statementCSV(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.pathID(w, r, "customerID")
	if !ok {
		return
	}
	lines, err := h.service.Statement(r.Context(), customerID)
	if err != nil {
		h.respondError(w, "statement export", err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=statement-%d.csv", customerID))

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"Period", "Billed", "Paid", "Status"})
	for _, line := range lines {
		_ = cw.Write([]string{
			line.Label,
			h.printer.Sprintf("%d", line.Billed),
			h.printer.Sprintf("%d", line.Paid),
			string(line.Status),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.logger.Error("write statement csv", slog.Any("error", err))
	}
}

func (h *Handler) deletePayment(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := h.pathID(w, r, "paymentID")
	if !ok {
		return
	}
	if err := h.service.DeletePayment(r.Context(), paymentID); err != nil {
		h.respondError(w, "delete payment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type runRecurringRequest struct {
	Period string `json:"period" validate:"omitempty,len=7"`
}

func (h *Handler) runRecurring(w http.ResponseWriter, r *http.Request) {
	var req runRecurringRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
			return
		}
		if err := h.validator.Struct(req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
			return
		}
	}

	var period *Period
	if req.Period != "" {
		parsed, err := ParsePeriodKey(req.Period)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "period must look like 2024-01")
			return
		}
		period = &parsed
	}

	result, err := h.service.GenerateRecurringBills(r.Context(), period)
	if err != nil {
		h.respondError(w, "run recurring", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Path", name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrCustomerNotFound), errors.Is(err, ErrPaymentNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidFee),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrNoBillableMonths),
		errors.Is(err, ErrNoPayableBills),
		errors.Is(err, ErrOverflowLimit):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, context.Canceled):
		httpx.Problem(w, http.StatusRequestTimeout, "Request Cancelled", "")
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func collectionOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidFee),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrNoBillableMonths),
		errors.Is(err, ErrNoPayableBills),
		errors.Is(err, ErrOverflowLimit),
		errors.Is(err, ErrCustomerNotFound):
		return "rejected"
	default:
		return "error"
	}
}

func validationDetail(err error) string {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return fieldErrs[0].Field() + " failed " + fieldErrs[0].Tag() + " validation"
	}
	return "invalid request"
}
