package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/eleven-am/researchflow/internal/adapters/retry"
	"github.com/eleven-am/researchflow/internal/domain"
	"github.com/eleven-am/researchflow/internal/ports"
)

// taskPlan is the part of a task a worker reads once at admission.
type taskPlan struct {
	flowID   string
	taskID   string
	name     string
	source   string
	config   map[string]interface{}
	maxPages int
	pageSize int
}

// runTask drives one admitted task page by page. Each page is a checkpoint:
// the worker parks at the gate while the flow is paused, and a committed
// page is never fetched again.
func (o *Orchestrator) runTask(run *flowRun, taskID string) {
	defer o.wg.Done()
	defer o.locks.release(run.flow.ID)

	plan, src, ok := o.plan(run, taskID)
	defer o.releaseWorker(run, plan)
	if !ok {
		return
	}

	logger := o.logger.With("flow_id", plan.flowID, "task_id", plan.taskID, "source", plan.source)
	logger.Debug("task worker started", "max_pages", plan.maxPages, "page_size", plan.pageSize)

	for {
		if err := run.gate.Wait(run.ctx); err != nil {
			return
		}

		page, cursor, done, active := o.position(run, plan)
		if !active {
			return
		}
		if done {
			if o.complete(run, plan) {
				return
			}
			continue
		}

		fetched, err := o.fetchPage(run, plan, src, page, cursor)
		if err != nil {
			if run.ctx.Err() != nil {
				return
			}
			o.fail(run, plan, err)
			logger.Warn("task failed", "page", page, "error", err)
			return
		}

		if !o.commit(run, plan, page, fetched) {
			return
		}
	}
}

func (o *Orchestrator) plan(run *flowRun, taskID string) (taskPlan, ports.Source, bool) {
	unlock := o.locks.lock(run.flow.ID)
	defer unlock()

	t := run.flow.Task(taskID)
	plan := taskPlan{flowID: run.flow.ID, taskID: taskID}
	if t == nil {
		return plan, nil, false
	}
	plan.name = t.Name
	plan.source = t.Source
	plan.config = t.SourceConfig
	plan.maxPages = domain.ConfigInt(t.SourceConfig, "max_pages", o.config.Orchestrator.DefaultMaxPages)
	if plan.maxPages <= 0 {
		plan.maxPages = o.config.Orchestrator.DefaultMaxPages
	}
	plan.pageSize = domain.ConfigInt(t.SourceConfig, "page_size", o.config.Orchestrator.DefaultPageSize)

	src, ok := o.sources.Get(t.Source)
	if !ok {
		now := o.now()
		t.Status = domain.TaskStatusFailed
		t.Error = fmt.Sprintf("no backend registered for source %q", t.Source)
		t.FinishedAt = &now
		run.flow.AppendLog(now, domain.LogLevelError, t.ID, fmt.Sprintf("task %s failed: %s", t.Name, t.Error))
		_ = o.save(context.Background(), run.flow, domain.EventTaskUpdated, t.ID)
		return plan, nil, false
	}
	return plan, src, true
}

func (o *Orchestrator) releaseWorker(run *flowRun, plan taskPlan) {
	unlock := o.locks.lock(run.flow.ID)
	delete(run.workers, plan.taskID)
	unlock()

	if plan.source != "" {
		if err := o.governor.Release(plan.source); err != nil {
			o.logger.Error("failed to release execution slot", "flow_id", plan.flowID, "task_id", plan.taskID, "error", err)
		}
	}
	run.wakeUp()
}

// position reads the task's checkpoint. done is set once every page the
// task needs has been committed.
func (o *Orchestrator) position(run *flowRun, plan taskPlan) (page int, cursor string, done, active bool) {
	unlock := o.locks.lock(plan.flowID)
	defer unlock()

	t := run.flow.Task(plan.taskID)
	if t == nil || !t.Status.IsActive() || run.ctx.Err() != nil {
		return 0, "", false, false
	}
	done = t.Progress >= 1 || t.Checkpoint.NextPage >= plan.maxPages
	return t.Checkpoint.NextPage, t.Checkpoint.Cursor, done, true
}

func (o *Orchestrator) fetchPage(run *flowRun, plan taskPlan, src ports.Source, page int, cursor string) (*ports.Page, error) {
	req := ports.FetchRequest{
		Config:   plan.config,
		Page:     page,
		PageSize: plan.pageSize,
		Cursor:   cursor,
		APIKey:   o.config.Services[plan.source].APIKey,
	}

	var result *ports.Page
	op := func(ctx context.Context) error {
		p, err := src.Fetch(ctx, req)
		if err != nil {
			return err
		}
		if p == nil {
			p = &ports.Page{}
		}
		result = p
		return nil
	}

	opts := append([]retry.Option{
		retry.OnRetry(func(ev retry.RetryEvent) {
			o.recordRetry(run, plan, page, ev)
		}),
		retry.BeforeAttempt(func(ctx context.Context) error {
			return o.limiter.Wait(ctx, plan.source)
		}),
	}, o.config.RetryOptions...)

	if err := o.config.Retry.Execute(run.ctx, op, opts...); err != nil {
		return nil, err
	}
	return result, nil
}

func (o *Orchestrator) recordRetry(run *flowRun, plan taskPlan, page int, ev retry.RetryEvent) {
	o.metrics.Retry(plan.source)

	unlock := o.locks.lock(plan.flowID)
	defer unlock()

	t := run.flow.Task(plan.taskID)
	if t == nil || !t.Status.IsActive() {
		return
	}
	now := o.now()
	t.RetryCount++
	run.touch(now)
	run.flow.AppendLog(now, domain.LogLevelWarn, t.ID,
		fmt.Sprintf("task %s page %d attempt %d failed, retrying in %s: %v", t.Name, page+1, ev.Attempt, ev.Delay, ev.Err))
	_ = o.save(context.Background(), run.flow, domain.EventTaskUpdated, t.ID)
}

// commit records one fetched page in the task checkpoint. A page that
// arrives after the task stopped being active is discarded.
func (o *Orchestrator) commit(run *flowRun, plan taskPlan, page int, fetched *ports.Page) bool {
	unlock := o.locks.lock(plan.flowID)
	defer unlock()

	t := run.flow.Task(plan.taskID)
	if t == nil || !t.Status.IsActive() || run.ctx.Err() != nil {
		return false
	}
	if t.Checkpoint.NextPage != page {
		return true
	}

	now := o.now()
	for i := range fetched.Items {
		if fetched.Items[i].Source == "" {
			fetched.Items[i].Source = plan.source
		}
	}
	t.Checkpoint.Items = append(t.Checkpoint.Items, fetched.Items...)
	t.Checkpoint.NextPage = page + 1
	t.Checkpoint.Cursor = fetched.NextCursor
	t.ItemsFetched += len(fetched.Items)

	if !fetched.HasMore || t.Checkpoint.NextPage >= plan.maxPages {
		t.SetProgress(1)
	} else {
		t.SetProgress(float64(t.Checkpoint.NextPage) / float64(plan.maxPages))
	}

	run.touch(now)
	if run.flow.Stalled {
		run.flow.Stalled = false
		run.flow.AppendLog(now, domain.LogLevelInfo, "", "flow activity resumed")
	}
	o.metrics.ItemsFetched(plan.source, len(fetched.Items))
	o.logger.Debug("page committed", "flow_id", plan.flowID, "task_id", plan.taskID,
		"page", page, "items", len(fetched.Items), "progress", t.Progress)

	_ = o.save(context.Background(), run.flow, domain.EventTaskUpdated, t.ID)
	return true
}

// complete publishes the task's result. A paused task defers completion
// until resume and complete reports false so the worker waits at the gate.
func (o *Orchestrator) complete(run *flowRun, plan taskPlan) bool {
	unlock := o.locks.lock(plan.flowID)
	defer unlock()

	t := run.flow.Task(plan.taskID)
	if t == nil || !t.Status.IsActive() || run.ctx.Err() != nil {
		return true
	}
	if t.Status == domain.TaskStatusPaused {
		return false
	}

	now := o.now()
	items := t.Checkpoint.Items
	if items == nil {
		items = []domain.Item{}
	}
	record := domain.ResultRecord{
		ResultID:  uuid.NewString(),
		TaskID:    t.ID,
		TaskName:  t.Name,
		Source:    t.Source,
		Items:     items,
		CreatedAt: now,
	}
	run.flow.Results = append(run.flow.Results, record)

	t.SetProgress(1)
	t.Status = domain.TaskStatusCompleted
	t.Result = &domain.TaskResult{ResultID: record.ResultID, ItemCount: len(items), Pages: t.Checkpoint.NextPage}
	t.Checkpoint.Items = nil
	t.FinishedAt = &now

	run.touch(now)
	run.flow.AppendLog(now, domain.LogLevelInfo, t.ID, fmt.Sprintf("task %s completed with %d items", t.Name, len(items)))
	o.metrics.TaskFinished(t.Source, string(domain.TaskStatusCompleted), since(t.StartedAt, now))

	_ = o.save(context.Background(), run.flow, domain.EventTaskUpdated, t.ID)
	return true
}

func (o *Orchestrator) fail(run *flowRun, plan taskPlan, cause error) {
	unlock := o.locks.lock(plan.flowID)
	defer unlock()

	t := run.flow.Task(plan.taskID)
	if t == nil || !t.Status.CanTransition(domain.TaskStatusFailed) {
		return
	}

	now := o.now()
	t.Status = domain.TaskStatusFailed
	t.Error = cause.Error()
	t.Checkpoint.Items = nil
	t.FinishedAt = &now

	run.touch(now)
	run.flow.AppendLog(now, domain.LogLevelError, t.ID, fmt.Sprintf("task %s failed: %s", t.Name, t.Error))
	o.metrics.TaskFinished(t.Source, string(domain.TaskStatusFailed), since(t.StartedAt, now))

	_ = o.save(context.Background(), run.flow, domain.EventTaskUpdated, t.ID)
}
