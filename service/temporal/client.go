package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	commonpb "go.temporal.io/api/common/v1"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"
)

// Client is a production implementation of Scheduler that talks to Temporal.
// It also starts and inspects ledger workflows.
type Client struct {
	client    client.Client
	namespace string
	taskQueue string
	logger    *slog.Logger
}

var _ Scheduler = (*Client)(nil)

// WorkflowSummary is one entry of ListWorkflows.
type WorkflowSummary struct {
	WorkflowID string     `json:"workflow_id"`
	RunID      string     `json:"run_id"`
	Type       string     `json:"type"`
	Status     string     `json:"status"`
	StartTime  time.Time  `json:"start_time"`
	CloseTime  *time.Time `json:"close_time,omitempty"`
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "temporal_client")

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		namespace: namespace,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// StartProcessSlots starts ProcessSlotsWorkflow. A bounded range gets a
// deterministic workflow ID so the same backfill cannot run twice at once.
func (c *Client) StartProcessSlots(ctx context.Context, input ProcessSlotsInput) (workflowID, runID string, err error) {
	workflowID = "solflow-process-" + uuid.NewString()
	if input.StartSlot > 0 && input.EndSlot > 0 {
		workflowID = fmt.Sprintf("solflow-backfill-%d-%d", input.StartSlot, input.EndSlot)
	}

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: c.taskQueue,
	}, ProcessSlotsWorkflow, input)
	if err != nil {
		return "", "", fmt.Errorf("failed to start ProcessSlotsWorkflow: %w", err)
	}

	c.logger.InfoContext(ctx, "started process workflow",
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
		"start_slot", input.StartSlot,
		"end_slot", input.EndSlot,
	)
	return run.GetID(), run.GetRunID(), nil
}

// StartUndoSlots starts UndoSlotsWorkflow.
func (c *Client) StartUndoSlots(ctx context.Context, input UndoSlotsInput) (workflowID, runID string, err error) {
	if len(input.Slots) == 0 {
		return "", "", fmt.Errorf("no slots to undo")
	}

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        fmt.Sprintf("solflow-undo-%d-%s", input.Slots[0], uuid.NewString()),
		TaskQueue: c.taskQueue,
	}, UndoSlotsWorkflow, input)
	if err != nil {
		return "", "", fmt.Errorf("failed to start UndoSlotsWorkflow: %w", err)
	}

	c.logger.InfoContext(ctx, "started undo workflow",
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
		"slots", input.Slots,
	)
	return run.GetID(), run.GetRunID(), nil
}

// GetWorkflowResult blocks until the workflow completes and decodes its result into valuePtr.
func (c *Client) GetWorkflowResult(ctx context.Context, workflowID, runID string, valuePtr any) error {
	if err := c.client.GetWorkflow(ctx, workflowID, runID).Get(ctx, valuePtr); err != nil {
		return fmt.Errorf("workflow %s failed: %w", workflowID, err)
	}
	return nil
}

// ListWorkflows lists workflow executions matching a visibility query.
func (c *Client) ListWorkflows(ctx context.Context, query string, pageSize int) ([]WorkflowSummary, error) {
	resp, err := c.client.ListWorkflow(ctx, &workflowservice.ListWorkflowExecutionsRequest{
		Namespace: c.namespace,
		PageSize:  int32(pageSize),
		Query:     query,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	out := make([]WorkflowSummary, 0, len(resp.GetExecutions()))
	for _, info := range resp.GetExecutions() {
		s := WorkflowSummary{
			WorkflowID: info.GetExecution().GetWorkflowId(),
			RunID:      info.GetExecution().GetRunId(),
			Type:       info.GetType().GetName(),
			Status:     info.GetStatus().String(),
			StartTime:  info.GetStartTime().AsTime(),
		}
		if info.GetCloseTime() != nil {
			closed := info.GetCloseTime().AsTime()
			s.CloseTime = &closed
		}
		out = append(out, s)
	}
	return out, nil
}

// CreateFollowSchedule creates the schedule that runs ProcessSlotsWorkflow every interval.
// Overlapping runs are skipped so the ledger has one writer at a time.
func (c *Client) CreateFollowSchedule(ctx context.Context, interval time.Duration, maxSlots int) error {
	c.logger.Debug("creating follow schedule",
		"schedule_id", FollowScheduleID,
		"interval", interval,
		"max_slots", maxSlots,
	)

	_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: FollowScheduleID,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{{Every: interval}},
		},
		Overlap: enumspb.SCHEDULE_OVERLAP_POLICY_SKIP,
		Action: &client.ScheduleWorkflowAction{
			ID:        "solflow-follow-run",
			Workflow:  ProcessSlotsWorkflow,
			TaskQueue: c.taskQueue,
			Args:      []any{ProcessSlotsInput{MaxSlots: maxSlots}},
		},
		Memo: map[string]any{
			"max_slots":  maxSlots,
			"created_by": "solflow",
		},
	})
	if err != nil {
		c.logger.Error("failed to create schedule", "schedule_id", FollowScheduleID, "error", err)
		return fmt.Errorf("failed to create schedule %q: %w", FollowScheduleID, err)
	}

	c.logger.Info("follow schedule created",
		"schedule_id", FollowScheduleID,
		"interval", interval,
		"max_slots", maxSlots,
	)
	return nil
}

// DeleteFollowSchedule deletes the follow schedule.
func (c *Client) DeleteFollowSchedule(ctx context.Context) error {
	handle := c.client.ScheduleClient().GetHandle(ctx, FollowScheduleID)
	if err := handle.Delete(ctx); err != nil {
		c.logger.Error("failed to delete schedule", "schedule_id", FollowScheduleID, "error", err)
		return fmt.Errorf("failed to delete schedule %q: %w", FollowScheduleID, err)
	}

	c.logger.Info("follow schedule deleted", "schedule_id", FollowScheduleID)
	return nil
}

// DescribeFollowSchedule returns the follow schedule's spec and state.
func (c *Client) DescribeFollowSchedule(ctx context.Context) (*FollowSchedule, error) {
	desc, err := c.client.ScheduleClient().GetHandle(ctx, FollowScheduleID).Describe(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to describe schedule %q: %w", FollowScheduleID, err)
	}

	out := &FollowSchedule{
		ID:         FollowScheduleID,
		NextRuns:   desc.Info.NextActionTimes,
		ActionsRun: desc.Info.NumActions,
	}
	if spec := desc.Schedule.Spec; spec != nil && len(spec.Intervals) > 0 {
		out.Interval = spec.Intervals[0].Every
	}
	if state := desc.Schedule.State; state != nil {
		out.Paused = state.Paused
	}
	if action, ok := desc.Schedule.Action.(*client.ScheduleWorkflowAction); ok && len(action.Args) > 0 {
		// described args come back as raw payloads
		if payload, ok := action.Args[0].(*commonpb.Payload); ok {
			var input ProcessSlotsInput
			if err := converter.GetDefaultDataConverter().FromPayload(payload, &input); err == nil {
				out.MaxSlots = input.MaxSlots
			}
		}
	}
	return out, nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...any) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...any) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...any) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...any) {
	l.logger.Error(msg, keyvals...)
}
