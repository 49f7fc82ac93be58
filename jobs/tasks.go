package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCloseFinalize runs the finalize workflow for one tenant month.
	TaskCloseFinalize = "close:finalize"
	// TaskCloseStaleSweep reclaims finalize jobs abandoned by crashed workers.
	TaskCloseStaleSweep = "close:sweep-stale"
	// TaskCloseMonthly fans out finalize runs for the previous month.
	TaskCloseMonthly = "close:monthly"
)

// FinalizePayload identifies the tenant month to finalize.
type FinalizePayload struct {
	TenantID string `json:"tenantId"`
	MonthKey string `json:"monthKey"`
}

// NewFinalizeTask constructs an Asynq task for a finalize run.
func NewFinalizeTask(payload FinalizePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCloseFinalize, data), nil
}

// MonthlyPayload lists the tenants to enqueue finalize runs for.
type MonthlyPayload struct {
	Tenants []string `json:"tenants"`
}

// NewMonthlyTask constructs an Asynq task for the monthly fan-out.
func NewMonthlyTask(payload MonthlyPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCloseMonthly, data), nil
}

// StaleSweepPayload parameterises the stale job sweep.
type StaleSweepPayload struct {
	OlderThanMinutes int `json:"olderThanMinutes"`
}

// NewStaleSweepTask constructs an Asynq task for the stale sweep.
func NewStaleSweepTask(payload StaleSweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCloseStaleSweep, data), nil
}
