// Package cron runs periodic maintenance: state snapshots, expiry of
// unanswered prompts and pruning of idle rate limiters.
package cron

import "context"

// Job is a periodic background task.
type Job interface {
	// Name identifies the job in logs and RunNow.
	Name() string

	// Schedule returns a 5-field cron expression.
	Schedule() string

	// Run executes one tick.
	Run(ctx context.Context) error
}
