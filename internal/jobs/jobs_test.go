package jobs

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestGo_RunsJob(t *testing.T) {
	r := NewRunner(quietLogger())
	var ran atomic.Bool

	r.Go("test", func(ctx context.Context) { ran.Store(true) })
	r.Wait()

	if !ran.Load() {
		t.Fatal("job did not run")
	}
}

func TestGo_SynchronousRunsInline(t *testing.T) {
	r := NewRunner(quietLogger())
	r.Synchronous = true

	ran := false
	r.Go("test", func(ctx context.Context) { ran = true })

	if !ran {
		t.Fatal("synchronous job did not run inline")
	}
}

func TestGo_RecoverFromPanic(t *testing.T) {
	r := NewRunner(quietLogger())
	r.Synchronous = true

	r.Go("boom", func(ctx context.Context) { panic("kaboom") })
	// Reaching here without the test process dying is the assertion.

	var after atomic.Bool
	r.Go("after", func(ctx context.Context) { after.Store(true) })
	if !after.Load() {
		t.Fatal("runner unusable after a panicking job")
	}
}

func TestWait_DrainsAllJobs(t *testing.T) {
	r := NewRunner(quietLogger())
	var count atomic.Int32

	for i := 0; i < 8; i++ {
		r.Go("n", func(ctx context.Context) { count.Add(1) })
	}
	r.Wait()

	if got := count.Load(); got != 8 {
		t.Fatalf("got %d completed jobs, want 8", got)
	}
}
