// Package statsjob runs a periodic background job that logs scheduler
// throughput: in-flight test count, runs started, runs finished. Grounded
// on the teacher's internal/scheduler/scheduler.go, which wraps
// go-co-op/gocron around a periodic fetch job; here the job reports
// rather than fetches (SPEC_FULL.md §4 item 6 — ambient observability,
// not catalog reload, which stays a Non-goal).
package statsjob

import (
	"log"
	"time"

	"github.com/go-co-op/gocron"
)

// Stats mirrors scheduler.Stats's shape without importing it, so this
// package stays a leaf dependency, the way the teacher's own periodic job
// depends only on a narrow method set of internal/weather.Service rather
// than the whole package.
type Stats struct {
	RunsStarted   int64
	RunsFinished  int64
	TestsInflight int64
}

// StatsFunc reports the current scheduler throughput snapshot.
type StatsFunc func() Stats

// Job periodically logs throughput reported by a StatsFunc.
type Job struct {
	cron     *gocron.Scheduler
	stats    StatsFunc
	interval time.Duration
}

// New creates a Job that will report stats() every interval once started.
func New(stats StatsFunc, interval time.Duration) *Job {
	return &Job{
		cron:     gocron.NewScheduler(time.UTC),
		stats:    stats,
		interval: interval,
	}
}

// Start schedules the periodic report and starts the underlying cron
// scheduler.
func (j *Job) Start() error {
	seconds := int(j.interval.Seconds())
	if seconds <= 0 {
		seconds = 60
	}

	_, err := j.cron.Every(seconds).Seconds().Do(func() {
		stats := j.stats()
		log.Printf("INFO: scheduler stats: started=%d finished=%d inflight=%d",
			stats.RunsStarted, stats.RunsFinished, stats.TestsInflight)
	})
	if err != nil {
		return err
	}

	j.cron.StartAsync()
	return nil
}

// Stop stops the periodic report and cancels any future runs.
func (j *Job) Stop() {
	if j.cron != nil {
		j.cron.Stop()
	}
}
