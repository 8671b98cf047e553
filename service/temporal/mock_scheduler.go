package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockScheduler is a mock implementation of Scheduler for testing.
type MockScheduler struct {
	mu        sync.Mutex
	schedule  *FollowSchedule
	createErr error
	deleteErr error
}

var _ Scheduler = (*MockScheduler)(nil)

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{}
}

// CreateFollowSchedule records that the schedule was created.
func (m *MockScheduler) CreateFollowSchedule(ctx context.Context, interval time.Duration, maxSlots int) error {
	if m.createErr != nil {
		return m.createErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.schedule != nil {
		return fmt.Errorf("schedule %q already exists", FollowScheduleID)
	}
	m.schedule = &FollowSchedule{ID: FollowScheduleID, Interval: interval, MaxSlots: maxSlots}
	return nil
}

// DeleteFollowSchedule records that the schedule was deleted.
func (m *MockScheduler) DeleteFollowSchedule(ctx context.Context) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.schedule == nil {
		return fmt.Errorf("schedule %q not found", FollowScheduleID)
	}
	m.schedule = nil
	return nil
}

// DescribeFollowSchedule returns a copy of the recorded schedule.
func (m *MockScheduler) DescribeFollowSchedule(ctx context.Context) (*FollowSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.schedule == nil {
		return nil, fmt.Errorf("schedule %q not found", FollowScheduleID)
	}
	s := *m.schedule
	return &s, nil
}

// SetCreateError makes CreateFollowSchedule return an error.
func (m *MockScheduler) SetCreateError(err error) {
	m.createErr = err
}

// SetDeleteError makes DeleteFollowSchedule return an error.
func (m *MockScheduler) SetDeleteError(err error) {
	m.deleteErr = err
}

// Reset clears the schedule and errors.
func (m *MockScheduler) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedule = nil
	m.createErr = nil
	m.deleteErr = nil
}
