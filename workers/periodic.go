// Package workers contains the node's long-running control loops: the
// upload worker that commits bundles on chain and the challenge worker that
// competes for sheltering peers' bundles.
package workers

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/kindomxu/ambrosus-node/async"
)

// PeriodicWorker runs a task at a fixed interval. It satisfies
// runtime.Service: Start launches the loop, Stop cancels it at the next tick
// boundary. The first tick runs immediately on Start.
type PeriodicWorker struct {
	name     string
	interval time.Duration
	task     func(ctx context.Context)
	log      *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
}

// NewPeriodicWorker wraps task into a worker named name. All of the worker's
// own logging goes through logger, so callers can attach durable log hooks.
func NewPeriodicWorker(name string, interval time.Duration, logger *logrus.Logger, task func(ctx context.Context)) *PeriodicWorker {
	ctx, cancel := context.WithCancel(context.Background())
	return &PeriodicWorker{
		name:     name,
		interval: interval,
		task:     task,
		log:      logger.WithField("prefix", name),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start runs the first tick and schedules the loop.
func (w *PeriodicWorker) Start() {
	w.log.WithField("interval", w.interval).Info("Worker started")
	w.task(w.ctx)
	async.RunEvery(w.ctx, w.interval, w.task)
}

// Stop cancels the loop. An in-flight tick runs to completion.
func (w *PeriodicWorker) Stop() error {
	w.cancel()
	w.log.Info("Worker stopped")
	return nil
}

// Status reports whether the loop is still scheduled.
func (w *PeriodicWorker) Status() error {
	if err := w.ctx.Err(); err != nil {
		return errors.Wrapf(err, "%s worker is not running", w.name)
	}
	return nil
}
