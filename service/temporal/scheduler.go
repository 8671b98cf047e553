package temporal

import (
	"context"
	"time"
)

// FollowScheduleID is the Temporal schedule that keeps the ledger at the tip.
const FollowScheduleID = "solflow-follow"

// FollowSchedule describes the follow schedule.
type FollowSchedule struct {
	ID         string        `json:"id"`
	Interval   time.Duration `json:"interval"`
	MaxSlots   int           `json:"max_slots"`
	Paused     bool          `json:"paused"`
	NextRuns   []time.Time   `json:"next_runs"`
	ActionsRun int           `json:"actions_run"`
}

// Scheduler manages the Temporal schedule that triggers ProcessSlotsWorkflow
// on a fixed interval.
type Scheduler interface {
	// CreateFollowSchedule creates the follow schedule. Each run resumes after
	// the cursor and processes at most maxSlots slots.
	CreateFollowSchedule(ctx context.Context, interval time.Duration, maxSlots int) error

	// DeleteFollowSchedule deletes the follow schedule.
	DeleteFollowSchedule(ctx context.Context) error

	// DescribeFollowSchedule returns the current follow schedule.
	DescribeFollowSchedule(ctx context.Context) (*FollowSchedule, error)
}
