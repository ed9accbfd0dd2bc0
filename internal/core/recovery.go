package core

import (
	"context"
	"fmt"

	"github.com/eleven-am/researchflow/internal/domain"
)

type RecoveryReport struct {
	Flows       int `json:"flows"`
	Resumed     int `json:"resumed"`
	Paused      int `json:"paused"`
	Finalized   int `json:"finalized"`
	Interrupted int `json:"interrupted_tasks"`
	Requeued    int `json:"requeued_tasks"`
}

// Recover reconciles flows that were running or paused when the process
// last stopped. Execution slots and rate budgets are not persisted, so every
// task that held a worker is either failed as interrupted or requeued from
// its checkpoint, depending on the recovery mode.
func (o *Orchestrator) Recover(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport

	flows, err := o.store.List(ctx)
	if err != nil {
		return report, err
	}

	for _, stored := range flows {
		o.metrics.FlowStatusChanged("", string(stored.Status))
		if stored.Status != domain.FlowStatusRunning && stored.Status != domain.FlowStatusPaused {
			continue
		}
		report.Flows++

		if err := o.recoverFlow(ctx, stored.ID, &report); err != nil {
			o.logger.Error("flow recovery failed", "flow_id", stored.ID, "error", err)
		}
	}

	o.logger.Info("recovery complete",
		"mode", o.config.Orchestrator.RecoveryMode,
		"flows", report.Flows,
		"resumed", report.Resumed,
		"paused", report.Paused,
		"finalized", report.Finalized,
		"interrupted_tasks", report.Interrupted,
		"requeued_tasks", report.Requeued)
	return report, nil
}

func (o *Orchestrator) recoverFlow(ctx context.Context, flowID string, report *RecoveryReport) error {
	unlock := o.locks.lock(flowID)
	defer unlock()

	o.mu.RLock()
	_, active := o.runs[flowID]
	o.mu.RUnlock()
	if active {
		return nil
	}

	flow, err := o.store.Get(ctx, flowID)
	if err != nil {
		return err
	}

	now := o.now()
	interrupted, requeued := 0, 0
	for _, t := range flow.Tasks {
		switch {
		case t.Status == domain.TaskStatusRunning && o.config.Orchestrator.RecoveryMode == domain.RecoveryModeFail:
			t.Status = domain.TaskStatusFailed
			t.Error = "interrupted"
			t.Checkpoint.Items = nil
			t.FinishedAt = &now
			flow.AppendLog(now, domain.LogLevelError, t.ID, fmt.Sprintf("task %s failed: interrupted by restart", t.Name))
			interrupted++
		case t.Status.IsActive():
			t.Status = domain.TaskStatusPending
			flow.AppendLog(now, domain.LogLevelInfo, t.ID, fmt.Sprintf("task %s requeued from page %d after restart", t.Name, t.Checkpoint.NextPage))
			requeued++
		}
	}
	report.Interrupted += interrupted
	report.Requeued += requeued
	flow.Stalled = false
	flow.AppendLog(now, domain.LogLevelWarn, "", fmt.Sprintf("recovered after restart: %d tasks interrupted, %d requeued", interrupted, requeued))

	if err := o.save(ctx, flow, domain.EventFlowUpdated, ""); err != nil {
		return err
	}

	switch flow.Status {
	case domain.FlowStatusPaused:
		report.Paused++
	default:
		if flow.AllTasksTerminal() {
			report.Finalized++
		} else {
			report.Resumed++
		}
	}

	o.launch(flow)
	return nil
}
