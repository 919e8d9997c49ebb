// Package job implements the Session Control Core's periodic job scheduler
// (spec.md §5, "JobManager"). Jobs run synchronously on the control loop's
// own goroutine when their interval has elapsed; none of them block on I/O
// themselves — a job that needs to talk to a subsystem enqueues a request
// through the shared cio.CIO and reacts to the result on a later Event.
package job

import (
	"time"

	"github.com/aereaux/synapse/internal/cio"
	"github.com/aereaux/synapse/internal/table"
	"github.com/aereaux/synapse/internal/throttle"
	"github.com/andres-erbsen/clock"
)

// Context is the shared collaborator surface every Job's Execute gets: the
// I/O handle to enqueue subsystem requests on, the shared Throttler, and the
// wall clock to read (injectable for tests, following the teacher's use of a
// real OS clock versus uber-kraken's andres-erbsen/clock fake in its
// scheduler tests).
type Context struct {
	IO       cio.CIO
	Throttle *throttle.Throttler
	Clock    clock.Clock
}

// Job is one periodic unit of work the JobManager drives.
type Job interface {
	// Name identifies the job for logging.
	Name() string
	// Interval is how often Execute should run.
	Interval() time.Duration
	// Execute runs one tick of the job against the current torrent table.
	Execute(tt *table.TorrentTable, ctx *Context)
}

// entry pairs a Job with the earliest time it may run next.
type entry struct {
	job     Job
	nextRun time.Time
}

// JobManager drives a fixed set of registered Jobs, running each one when
// its interval has elapsed since the last run, matching the teacher's
// UnchokeUpdate/InfoUpdate/etc. recurring-timer pattern but generalized to
// support the synchronous Update(tt) call the event loop makes at each
// clock tick instead of separate goroutine timers per job.
type JobManager struct {
	entries []*entry
	ctx     *Context
}

// New builds a JobManager with the given clock and I/O handle, and
// registers the default session jobs (spec.md §5): TrackerUpdate (60s),
// UnchokeUpdate (15s), and SessionUpdate (60s). Draining the Throttler's own
// counters is driven directly by its refresh/flush timers in the control
// loop, not by a job, since those two timers are registered separately from
// the job-tick timer this manager runs on.
func New(io cio.CIO, thr *throttle.Throttler, clk clock.Clock) *JobManager {
	if clk == nil {
		clk = clock.New()
	}
	ctx := &Context{IO: io, Throttle: thr, Clock: clk}
	jm := &JobManager{ctx: ctx}
	now := clk.Now()
	for _, j := range []Job{
		&TrackerUpdate{},
		&UnchokeUpdate{},
		&SessionUpdate{},
	} {
		jm.entries = append(jm.entries, &entry{job: j, nextRun: now})
	}
	return jm
}

// Register adds an additional Job to the manager, e.g. for tests that want
// to observe a fake job's call count.
func (jm *JobManager) Register(j Job) {
	jm.entries = append(jm.entries, &entry{job: j, nextRun: jm.ctx.Clock.Now()})
}

// Update runs every registered job whose interval has elapsed, in
// registration order.
func (jm *JobManager) Update(tt *table.TorrentTable) {
	now := jm.ctx.Clock.Now()
	for _, e := range jm.entries {
		if now.Before(e.nextRun) {
			continue
		}
		e.job.Execute(tt, jm.ctx)
		e.nextRun = now.Add(e.job.Interval())
	}
}
