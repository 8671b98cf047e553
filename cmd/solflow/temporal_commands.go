package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/brojonat/solflow/service/temporal"
	"github.com/urfave/cli/v2"
)

func backfillCommand() *cli.Command {
	return &cli.Command{
		Name:  "backfill",
		Usage: "Process an inclusive slot range",
		Flags: []cli.Flag{
			&cli.Uint64Flag{
				Name:     "start",
				Usage:    "First slot",
				Required: true,
			},
			&cli.Uint64Flag{
				Name:     "end",
				Usage:    "Last slot",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "wait",
				Usage: "Block until the workflow completes and print its result",
			},
		},
		Action: func(c *cli.Context) error {
			start, end := c.Uint64("start"), c.Uint64("end")
			if start == 0 || end < start {
				return fmt.Errorf("invalid slot range %d..%d", start, end)
			}

			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := context.Background()
			workflowID, runID, err := temporalClient.StartProcessSlots(ctx, temporal.ProcessSlotsInput{
				StartSlot: start,
				EndSlot:   end,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.ErrWriter, "✓ Started backfill %d..%d\n  Workflow ID: %s\n  Run ID:      %s\n", start, end, workflowID, runID)

			if !c.Bool("wait") {
				return nil
			}

			var result temporal.ProcessSlotsResult
			if err := temporalClient.GetWorkflowResult(ctx, workflowID, runID, &result); err != nil {
				return err
			}
			return outputJSON(c.App.Writer, result)
		},
	}
}

func undoCommand() *cli.Command {
	return &cli.Command{
		Name:      "undo",
		Usage:     "Revert applied slots, newest first",
		ArgsUsage: "<slot> [slot...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "wait",
				Usage: "Block until the workflow completes and print its result",
			},
		},
		Action: func(c *cli.Context) error {
			slots, err := parseSlots(c.Args().Slice())
			if err != nil {
				return err
			}

			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := context.Background()
			workflowID, runID, err := temporalClient.StartUndoSlots(ctx, temporal.UndoSlotsInput{Slots: slots})
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.ErrWriter, "✓ Started undo of %d slots\n  Workflow ID: %s\n  Run ID:      %s\n", len(slots), workflowID, runID)

			if !c.Bool("wait") {
				return nil
			}

			var result temporal.UndoSlotsResult
			if err := temporalClient.GetWorkflowResult(ctx, workflowID, runID, &result); err != nil {
				return err
			}
			return outputJSON(c.App.Writer, result)
		},
	}
}

// parseSlots parses undo arguments. Slots must be strictly descending.
func parseSlots(args []string) ([]uint64, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("at least one slot is required")
	}

	slots := make([]uint64, 0, len(args))
	for _, arg := range args {
		slot, err := strconv.ParseUint(arg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid slot %q: %w", arg, err)
		}
		if n := len(slots); n > 0 && slot >= slots[n-1] {
			return nil, fmt.Errorf("slots must be newest first: %d after %d", slot, slots[n-1])
		}
		slots = append(slots, slot)
	}
	return slots, nil
}

func followCommands() *cli.Command {
	return &cli.Command{
		Name:  "follow",
		Usage: "Manage the schedule that keeps the ledger at the tip",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create the follow schedule",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "interval",
						Usage: "Time between runs",
						Value: 30 * time.Second,
					},
					&cli.IntFlag{
						Name:  "max-slots",
						Usage: "Maximum slots per run",
						Value: 100,
					},
				},
				Action: func(c *cli.Context) error {
					temporalClient, err := getTemporalClient(c)
					if err != nil {
						return err
					}
					defer temporalClient.Close()

					if err := temporalClient.CreateFollowSchedule(context.Background(), c.Duration("interval"), c.Int("max-slots")); err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "✓ Created schedule %s (every %v, max %d slots)\n",
						temporal.FollowScheduleID, c.Duration("interval"), c.Int("max-slots"))
					return nil
				},
			},
			{
				Name:  "delete",
				Usage: "Delete the follow schedule",
				Action: func(c *cli.Context) error {
					temporalClient, err := getTemporalClient(c)
					if err != nil {
						return err
					}
					defer temporalClient.Close()

					if err := temporalClient.DeleteFollowSchedule(context.Background()); err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "✓ Deleted schedule %s\n", temporal.FollowScheduleID)
					return nil
				},
			},
			{
				Name:    "describe",
				Usage:   "Describe the follow schedule",
				Aliases: []string{"desc"},
				Action: func(c *cli.Context) error {
					temporalClient, err := getTemporalClient(c)
					if err != nil {
						return err
					}
					defer temporalClient.Close()

					desc, err := temporalClient.DescribeFollowSchedule(context.Background())
					if err != nil {
						return err
					}

					if c.Bool("json") {
						return outputJSON(c.App.Writer, desc)
					}

					out := c.App.Writer
					fmt.Fprintf(out, "Schedule ID: %s\n", desc.ID)
					fmt.Fprintf(out, "Interval:    %v\n", desc.Interval)
					fmt.Fprintf(out, "Max Slots:   %d\n", desc.MaxSlots)
					fmt.Fprintf(out, "Paused:      %v\n", desc.Paused)
					fmt.Fprintf(out, "Actions Run: %d\n", desc.ActionsRun)
					for _, next := range desc.NextRuns {
						fmt.Fprintf(out, "Next Run:    %s\n", next.Format(time.RFC3339))
					}
					return nil
				},
			},
		},
	}
}

func listWorkflowsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-workflows",
		Usage:   "List ledger workflow executions",
		Aliases: []string{"workflows"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "query",
				Aliases: []string{"q"},
				Usage:   "Visibility query",
				Value:   "WorkflowType = 'ProcessSlotsWorkflow' OR WorkflowType = 'UndoSlotsWorkflow'",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of workflows",
				Value:   20,
			},
		},
		Action: func(c *cli.Context) error {
			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			workflows, err := temporalClient.ListWorkflows(context.Background(), c.String("query"), c.Int("limit"))
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, workflows)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "WORKFLOW ID\tTYPE\tSTATUS\tSTARTED")
			for _, wf := range workflows {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					wf.WorkflowID,
					wf.Type,
					wf.Status,
					wf.StartTime.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d workflows\n", len(workflows))
			return nil
		},
	}
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Helper function to connect to Temporal
func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	host := c.String("temporal-host")
	if host == "" {
		host = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	}

	namespace := c.String("temporal-namespace")
	if namespace == "" {
		namespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	}

	taskQueue := c.String("temporal-task-queue")
	if taskQueue == "" {
		taskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "solflow-ledger")
	}

	return temporal.NewClient(host, namespace, taskQueue, cliLogger())
}
