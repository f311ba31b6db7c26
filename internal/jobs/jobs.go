// Package jobs runs fire-and-forget background work with panic isolation
// and graceful-shutdown draining.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// defaultJobTimeout bounds a single background job.
const defaultJobTimeout = 60 * time.Second

// Runner dispatches background jobs detached from the request that spawned
// them. Jobs run on their own context so an HTTP request finishing (or
// failing) never cancels the maintenance work it triggered.
type Runner struct {
	log     *logrus.Logger
	timeout time.Duration
	wg      sync.WaitGroup

	// Synchronous makes Go run jobs inline. Tests set it to assert on job
	// side effects without sleeping.
	Synchronous bool
}

// NewRunner creates a Runner logging through log.
func NewRunner(log *logrus.Logger) *Runner {
	return &Runner{log: log, timeout: defaultJobTimeout}
}

// Go schedules fn as a background job. A panic inside fn is recovered and
// logged; it never takes down the process.
func (r *Runner) Go(name string, fn func(ctx context.Context)) {
	run := func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.log.WithFields(logrus.Fields{"job": name, "panic": rec}).Error("background job panicked")
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		fn(ctx)
	}

	if r.Synchronous {
		run()
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		run()
	}()
}

// Wait blocks until all in-flight jobs finish. Called during shutdown.
func (r *Runner) Wait() {
	r.wg.Wait()
}
