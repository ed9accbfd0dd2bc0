package core

import (
	"context"
	"fmt"
	"time"

	"github.com/eleven-am/researchflow/internal/domain"
)

// watchStalls flags running flows that have shown no task activity for the
// stall timeout, so a stuck flow is never indistinguishable from a busy one.
func (o *Orchestrator) watchStalls() {
	defer o.wg.Done()

	interval := o.config.Orchestrator.StallTimeout / 4
	if interval > 30*time.Second {
		interval = 30 * time.Second
	}
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.checkStalls()
		}
	}
}

func (o *Orchestrator) checkStalls() {
	o.mu.RLock()
	runs := make([]*flowRun, 0, len(o.runs))
	for _, run := range o.runs {
		runs = append(runs, run)
	}
	o.mu.RUnlock()

	now := o.now()
	for _, run := range runs {
		idle := now.Sub(run.idleSince())
		if idle < o.config.Orchestrator.StallTimeout {
			continue
		}
		o.markStalled(run, idle, now)
	}
}

func (o *Orchestrator) markStalled(run *flowRun, idle time.Duration, now time.Time) {
	unlock := o.locks.lock(run.flow.ID)
	defer unlock()

	flow := run.flow
	if run.ctx.Err() != nil || flow.Status != domain.FlowStatusRunning || flow.Stalled {
		return
	}

	flow.Stalled = true
	flow.AppendLog(now, domain.LogLevelWarn, "",
		fmt.Sprintf("flow stalled: no task activity for %s", idle.Truncate(time.Second)))
	o.logger.Warn("flow stalled", "flow_id", flow.ID, "idle", idle)
	_ = o.save(context.Background(), flow, domain.EventFlowStalled, "")
}
