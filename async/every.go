// Package async schedules the node's periodic work.
package async

import (
	"context"
	"reflect"
	"runtime"
	"time"

	log "github.com/sirupsen/logrus"
)

// RunEvery runs f every period on its own goroutine until ctx is cancelled.
// Cancellation is honoured between invocations; an in-flight invocation
// always runs to completion.
func RunEvery(ctx context.Context, period time.Duration, f func(context.Context)) {
	funcName := runtime.FuncForPC(reflect.ValueOf(f).Pointer()).Name()
	ticker := time.NewTicker(period)
	go func() {
		for {
			select {
			case <-ticker.C:
				log.WithField("function", funcName).Trace("running")
				f(ctx)
			case <-ctx.Done():
				log.WithField("function", funcName).Debug("context is closed, exiting")
				ticker.Stop()
				return
			}
		}
	}()
}
