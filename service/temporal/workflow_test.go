package temporal

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
)

func TestProcessSlotsWorkflow(t *testing.T) {
	tests := []struct {
		name           string
		input          ProcessSlotsInput
		mockActivities func(*testsuite.TestWorkflowEnvironment, *Activities)
		expectedError  bool
		validateResult func(*testing.T, *ProcessSlotsResult)
	}{
		{
			name:  "processes every slot in range",
			input: ProcessSlotsInput{StartSlot: 10, EndSlot: 12},
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, activities *Activities) {
				env.OnActivity(activities.ResolveSlotRange, mock.Anything, ResolveSlotRangeInput{StartSlot: 10, EndSlot: 12}).
					Return(&SlotRange{Start: 10, End: 12}, nil)
				env.OnActivity(activities.ProcessSlot, mock.Anything, ProcessSlotInput{Slot: 10}).
					Return(&ProcessSlotResult{Slot: 10, Transactions: 3, BalanceChanges: 5}, nil)
				env.OnActivity(activities.ProcessSlot, mock.Anything, ProcessSlotInput{Slot: 11}).
					Return(&ProcessSlotResult{Slot: 11, Skipped: true}, nil)
				env.OnActivity(activities.ProcessSlot, mock.Anything, ProcessSlotInput{Slot: 12}).
					Return(&ProcessSlotResult{Slot: 12, AlreadyApplied: true}, nil)
			},
			validateResult: func(t *testing.T, result *ProcessSlotsResult) {
				assert.Equal(t, uint64(10), result.StartSlot)
				assert.Equal(t, uint64(12), result.EndSlot)
				assert.Equal(t, 1, result.Processed)
				assert.Equal(t, 1, result.Skipped)
				assert.Equal(t, 1, result.AlreadyApplied)
				assert.Equal(t, 3, result.Transactions)
				assert.Equal(t, 5, result.BalanceChanges)
				assert.Equal(t, uint64(12), result.LastSlot)
			},
		},
		{
			name:  "empty range does nothing",
			input: ProcessSlotsInput{MaxSlots: 50},
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, activities *Activities) {
				env.OnActivity(activities.ResolveSlotRange, mock.Anything, mock.Anything).
					Return(&SlotRange{Start: 101, End: 100, Empty: true}, nil)
			},
			validateResult: func(t *testing.T, result *ProcessSlotsResult) {
				assert.Equal(t, 0, result.Processed)
				assert.Equal(t, uint64(0), result.LastSlot)
			},
		},
		{
			name:  "resolve failure fails workflow",
			input: ProcessSlotsInput{},
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, activities *Activities) {
				env.OnActivity(activities.ResolveSlotRange, mock.Anything, mock.Anything).
					Return(nil, temporalsdk.NewNonRetryableApplicationError("cursor unavailable", "Test", nil))
			},
			expectedError: true,
		},
		{
			name:  "invalid block stops the run",
			input: ProcessSlotsInput{StartSlot: 10, EndSlot: 12},
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, activities *Activities) {
				env.OnActivity(activities.ResolveSlotRange, mock.Anything, mock.Anything).
					Return(&SlotRange{Start: 10, End: 12}, nil)
				env.OnActivity(activities.ProcessSlot, mock.Anything, ProcessSlotInput{Slot: 10}).
					Return(&ProcessSlotResult{Slot: 10}, nil)
				env.OnActivity(activities.ProcessSlot, mock.Anything, ProcessSlotInput{Slot: 11}).
					Return(nil, temporalsdk.NewNonRetryableApplicationError("cannot process block 11", "InvalidBlock", nil))
			},
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testSuite := &testsuite.WorkflowTestSuite{}
			env := testSuite.NewTestWorkflowEnvironment()

			activities := &Activities{}
			env.RegisterActivity(activities.ResolveSlotRange)
			env.RegisterActivity(activities.ProcessSlot)

			tt.mockActivities(env, activities)

			env.ExecuteWorkflow(ProcessSlotsWorkflow, tt.input)

			require.True(t, env.IsWorkflowCompleted())

			if tt.expectedError {
				assert.Error(t, env.GetWorkflowError())
				return
			}
			require.NoError(t, env.GetWorkflowError())

			var result ProcessSlotsResult
			require.NoError(t, env.GetWorkflowResult(&result))
			if tt.validateResult != nil {
				tt.validateResult(t, &result)
			}
		})
	}
}

func TestProcessSlotsWorkflow_ActivityRetries(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	activities := &Activities{}
	env.RegisterActivity(activities.ResolveSlotRange)
	env.RegisterActivity(activities.ProcessSlot)

	env.OnActivity(activities.ResolveSlotRange, mock.Anything, mock.Anything).
		Return(&SlotRange{Start: 7, End: 7}, nil)

	attempts := 0
	env.OnActivity(activities.ProcessSlot, mock.Anything, mock.Anything).
		Return(func(_ context.Context, input ProcessSlotInput) (*ProcessSlotResult, error) {
			attempts++
			if attempts < 3 {
				return nil, errors.New("rpc timeout")
			}
			return &ProcessSlotResult{Slot: input.Slot, Transactions: 1}, nil
		})

	env.ExecuteWorkflow(ProcessSlotsWorkflow, ProcessSlotsInput{})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	assert.Equal(t, 3, attempts)

	var result ProcessSlotsResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, uint64(7), result.LastSlot)
}

func TestUndoSlotsWorkflow(t *testing.T) {
	t.Run("undoes newest first", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()

		activities := &Activities{}
		env.RegisterActivity(activities.UndoSlot)

		var order []uint64
		env.OnActivity(activities.UndoSlot, mock.Anything, mock.Anything).
			Return(func(_ context.Context, input UndoSlotInput) (*UndoSlotResult, error) {
				order = append(order, input.Slot)
				return &UndoSlotResult{Slot: input.Slot}, nil
			})

		env.ExecuteWorkflow(UndoSlotsWorkflow, UndoSlotsInput{Slots: []uint64{12, 11, 10}})

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())
		assert.Equal(t, []uint64{12, 11, 10}, order)

		var result UndoSlotsResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.Equal(t, []uint64{12, 11, 10}, result.Undone)
	})

	t.Run("rejects slots that are not descending", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()

		activities := &Activities{}
		env.RegisterActivity(activities.UndoSlot)

		env.ExecuteWorkflow(UndoSlotsWorkflow, UndoSlotsInput{Slots: []uint64{10, 11}})

		require.True(t, env.IsWorkflowCompleted())
		err := env.GetWorkflowError()
		require.Error(t, err)
		var appErr *temporalsdk.ApplicationError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, "InvalidInput", appErr.Type())
	})

	t.Run("stops at first rejected undo", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()

		activities := &Activities{}
		env.RegisterActivity(activities.UndoSlot)

		env.OnActivity(activities.UndoSlot, mock.Anything, UndoSlotInput{Slot: 12}).
			Return(&UndoSlotResult{Slot: 12}, nil)
		env.OnActivity(activities.UndoSlot, mock.Anything, UndoSlotInput{Slot: 11}).
			Return(nil, temporalsdk.NewNonRetryableApplicationError("cannot undo slot 11", "UndoRejected", nil))

		env.ExecuteWorkflow(UndoSlotsWorkflow, UndoSlotsInput{Slots: []uint64{12, 11, 10}})

		require.True(t, env.IsWorkflowCompleted())
		assert.Error(t, env.GetWorkflowError())
	})
}
