package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eleven-am/researchflow/internal/domain"
)

// flowRun is the live state of a running or paused flow. flow is the
// authoritative copy and is only touched under the flow lock.
type flowRun struct {
	flow *domain.Flow
	gate *gate

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}

	// guarded by the flow lock
	workers map[string]struct{}

	activityMu   sync.Mutex
	lastActivity time.Time
}

func (r *flowRun) wakeUp() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *flowRun) stop() {
	r.cancel()
	r.gate.Resume()
}

func (r *flowRun) touch(now time.Time) {
	r.activityMu.Lock()
	r.lastActivity = now
	r.activityMu.Unlock()
}

func (r *flowRun) idleSince() time.Time {
	r.activityMu.Lock()
	defer r.activityMu.Unlock()
	return r.lastActivity
}

// launch registers a run for flow and starts its scheduler. Tasks left
// active without a worker go back to pending and continue from their
// checkpoint once admitted. Callers hold the flow lock.
func (o *Orchestrator) launch(flow *domain.Flow) *flowRun {
	for _, t := range flow.Tasks {
		if t.Status.IsActive() {
			t.Status = domain.TaskStatusPending
		}
	}

	ctx, cancel := context.WithCancel(o.ctx)
	run := &flowRun{
		flow:    flow,
		gate:    newGate(),
		ctx:     ctx,
		cancel:  cancel,
		wake:    make(chan struct{}, 1),
		workers: make(map[string]struct{}),
	}
	run.touch(o.now())
	if flow.Status == domain.FlowStatusPaused {
		run.gate.Pause()
	}

	o.mu.Lock()
	o.runs[flow.ID] = run
	o.mu.Unlock()

	o.locks.retain(flow.ID)
	o.wg.Add(1)
	go o.schedule(run)
	return run
}

func (o *Orchestrator) detach(run *flowRun) {
	o.mu.Lock()
	if o.runs[run.flow.ID] == run {
		delete(o.runs, run.flow.ID)
	}
	o.mu.Unlock()
}

// schedule admits tasks for one flow until the flow is terminal or stopped.
// It wakes on task exits, resume, and every scheduling interval so denied
// admissions are retried.
func (o *Orchestrator) schedule(run *flowRun) {
	defer o.wg.Done()
	defer o.locks.release(run.flow.ID)

	ticker := time.NewTicker(o.config.Orchestrator.SchedulingInterval)
	defer ticker.Stop()

	for {
		if finished := o.admit(run); finished {
			return
		}

		select {
		case <-run.ctx.Done():
			return
		case <-run.wake:
		case <-ticker.C:
		}
	}
}

// admit starts every task that can run now and finalizes the flow once all
// tasks are terminal. It reports whether the run is over.
func (o *Orchestrator) admit(run *flowRun) bool {
	flowID := run.flow.ID
	unlock := o.locks.lock(flowID)
	defer unlock()

	if run.ctx.Err() != nil {
		return true
	}

	flow := run.flow
	if flow.Status != domain.FlowStatusRunning {
		return flow.Status.IsTerminal()
	}

	now := o.now()
	changed := false

	for _, t := range flow.Tasks {
		if t.Status != domain.TaskStatusPending {
			continue
		}

		ready, blocker := dependencyState(flow, t)
		if blocker != "" {
			t.Status = domain.TaskStatusFailed
			t.Error = fmt.Sprintf("dependency %s did not complete", blocker)
			t.FinishedAt = &now
			flow.AppendLog(now, domain.LogLevelError, t.ID, fmt.Sprintf("task %s failed: %s", t.Name, t.Error))
			changed = true
			continue
		}
		if !ready {
			continue
		}

		if len(run.workers) >= flow.ParallelWorkers {
			break
		}
		if !o.governor.TryAdmit(t.Source) {
			o.logger.Debug("task admission deferred", "flow_id", flowID, "task_id", t.ID, "source", t.Source)
			continue
		}

		t.Status = domain.TaskStatusRunning
		t.Error = ""
		if t.StartedAt == nil {
			t.StartedAt = &now
		}
		msg := fmt.Sprintf("task %s started", t.Name)
		if t.Checkpoint.NextPage > 0 {
			msg = fmt.Sprintf("task %s continuing from page %d", t.Name, t.Checkpoint.NextPage)
		}
		flow.AppendLog(now, domain.LogLevelInfo, t.ID, msg)
		o.metrics.TaskStarted(t.Source)

		run.workers[t.ID] = struct{}{}
		o.locks.retain(flowID)
		o.wg.Add(1)
		go o.runTask(run, t.ID)
		changed = true
	}

	if changed {
		run.touch(now)
		if flow.Stalled {
			flow.Stalled = false
		}
	}

	if flow.AllTasksTerminal() {
		o.finalize(run)
		return true
	}

	if changed {
		_ = o.save(context.Background(), flow, domain.EventFlowUpdated, "")
	}
	return false
}

// dependencyState reports whether every dependency of t has completed, or
// names the first one that never will.
func dependencyState(flow *domain.Flow, t *domain.Task) (bool, string) {
	ready := true
	for _, depID := range t.DependsOn {
		dep := flow.Task(depID)
		if dep == nil {
			return false, depID
		}
		switch dep.Status {
		case domain.TaskStatusCompleted:
		case domain.TaskStatusFailed, domain.TaskStatusCancelled:
			return false, dep.Name
		default:
			ready = false
		}
	}
	return ready, ""
}

// finalize applies the failure policy to a flow whose tasks are all
// terminal. Callers hold the flow lock.
func (o *Orchestrator) finalize(run *flowRun) {
	flow := run.flow
	now := o.now()

	flow.RefreshOutcome()
	status, reason := domain.PolicyFor(flow, o.config.Orchestrator.FailureTolerance).Evaluate(flow.Counts())

	o.setFlowStatus(flow, status)
	flow.FinishedAt = &now
	flow.Stalled = false
	flow.Error = reason

	switch status {
	case domain.FlowStatusFailed:
		flow.AppendLog(now, domain.LogLevelError, "", "flow failed: "+reason)
	case domain.FlowStatusCompleted:
		msg := fmt.Sprintf("flow completed with %d results", len(flow.Results))
		if n := len(flow.FailedTasks); n > 0 {
			msg = fmt.Sprintf("%s, %d tasks failed", msg, n)
			flow.AppendLog(now, domain.LogLevelWarn, "", msg)
		} else {
			flow.AppendLog(now, domain.LogLevelInfo, "", msg)
		}
	default:
		flow.AppendLog(now, domain.LogLevelInfo, "", "flow ended with status "+string(status))
	}

	o.detach(run)
	run.cancel()

	if err := o.save(context.Background(), flow, domain.EventFlowStatus, ""); err == nil {
		o.logger.Info("flow finished", "flow_id", flow.ID, "status", status,
			"completed", len(flow.CompletedTasks), "failed", len(flow.FailedTasks))
	}
}
