package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/GroupLang/agent-market-client/internal/constants"
	"github.com/GroupLang/agent-market-client/internal/services"
	"github.com/GroupLang/agent-market-client/internal/utils"
)

// StartScheduler runs the mirror sync and the instance tick in the
// background while the render bridge is up. Jobs are skipped while no
// session is active.
func (a *App) StartScheduler() error {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(utils.Logger))),
	)

	if _, err := c.AddFunc(constants.MirrorSyncCronSpec, func() {
		if a.Session.State() != services.SessionAuthenticated {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), constants.MirrorSyncJobTimeout)
		defer cancel()
		utils.Logger.Debug("Starting mirror sync cron job...")
		if _, err := a.Mirror.SyncAll(ctx); err != nil {
			utils.Logger.WithError(err).Error("Mirror sync finished with errors")
		}
	}); err != nil {
		return err
	}

	if _, err := c.AddFunc(constants.InstanceTickCronSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), constants.InstanceTickJobTimeout)
		defer cancel()
		for _, o := range a.Instances.Tick(ctx) {
			utils.Logger.Debugf("Instance moved %s -> %s", o.From, o.To)
		}
	}); err != nil {
		return err
	}

	c.Start()
	a.cron = c
	utils.Logger.Info("Scheduled mirror sync and instance tick jobs")
	return nil
}

func (a *App) StopScheduler() {
	if a.cron == nil {
		return
	}
	<-a.cron.Stop().Done()
	a.cron = nil
}
