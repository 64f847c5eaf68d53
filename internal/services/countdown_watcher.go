package services

import (
	"context"
	"fmt"
	"time"

	"github.com/raulk/clock"

	"github.com/GroupLang/agent-market-client/internal/constants"
	"github.com/GroupLang/agent-market-client/internal/dtos"
	"github.com/GroupLang/agent-market-client/internal/utils"
)

// CountdownWatcher re-derives an instance's projection on a fixed tick so
// a view can show a live countdown. Time-driven transitions fire as their
// deadlines pass.
type CountdownWatcher struct {
	instances  *InstanceService
	projection *ProjectionService
	clock      clock.Clock
	interval   time.Duration
}

func NewCountdownWatcher(instances *InstanceService, projection *ProjectionService, clk clock.Clock) *CountdownWatcher {
	if clk == nil {
		clk = clock.New()
	}
	return &CountdownWatcher{
		instances:  instances,
		projection: projection,
		clock:      clk,
		interval:   constants.CountdownRefreshInterval,
	}
}

// Watch calls render once immediately and then on every tick, until ctx
// is cancelled or the instance reaches a terminal state. The instance must
// already be cached.
func (w *CountdownWatcher) Watch(ctx context.Context, id string, render func(dtos.InstanceProjection)) error {
	p, ok := w.projection.Project(id)
	if !ok {
		return fmt.Errorf("%w: instance %s has not been loaded", utils.ErrNotFound, id)
	}
	render(*p)
	if p.Instance.Status.IsTerminal() {
		return nil
	}

	ticker := w.clock.Ticker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		w.instances.Tick(ctx)
		p, ok := w.projection.Project(id)
		if !ok {
			return fmt.Errorf("%w: instance %s", utils.ErrNotFound, id)
		}
		render(*p)
		if p.Instance.Status.IsTerminal() {
			return nil
		}
	}
}
