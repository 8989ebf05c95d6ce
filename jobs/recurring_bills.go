package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/cablegrid/cablegrid/internal/billing"
	jobmetrics "github.com/cablegrid/cablegrid/internal/jobs"
)

// TaskBillingRecurring is the task type for monthly bill generation.
const TaskBillingRecurring = "billing:recurring"

type recurringBillsPayload struct {
	Period string `json:"period,omitempty"`
}

// NewRecurringBillsTask builds the recurring bill generation task.
// An empty periodKey means the current period at execution time.
func NewRecurringBillsTask(periodKey string) (*asynq.Task, error) {
	payload, err := json.Marshal(recurringBillsPayload{Period: periodKey})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBillingRecurring, payload, asynq.MaxRetry(3)), nil
}

// RecurringBillsJob generates the monthly bills for active subscribers.
type RecurringBillsJob struct {
	service *billing.Service
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewRecurringBillsJob constructs the job.
func NewRecurringBillsJob(service *billing.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *RecurringBillsJob {
	return &RecurringBillsJob{service: service, logger: logger, metrics: metrics}
}

// Handle processes a recurring bill generation task.
func (j *RecurringBillsJob) Handle(ctx context.Context, task *asynq.Task) error {
	tracker := j.metrics.Track(TaskBillingRecurring)

	var payload recurringBillsPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			tracker.End(err)
			return err
		}
	}

	var period *billing.Period
	if payload.Period != "" {
		p, err := billing.ParsePeriodKey(payload.Period)
		if err != nil {
			tracker.End(err)
			return err
		}
		period = &p
	}

	result, err := j.service.GenerateRecurringBills(ctx, period)
	tracker.End(err)
	if err != nil {
		return err
	}

	j.metrics.AddBillsCreated(TaskBillingRecurring, result.Created)
	j.logger.Info("recurring bills generated",
		slog.String("period", result.Period.Key()),
		slog.Int("created", result.Created),
		slog.Int("customers", result.CustomersConsidered))
	return nil
}
