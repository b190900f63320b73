package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/quantpilot/quantpilot/pkg/agent"
	"github.com/quantpilot/quantpilot/pkg/agent/types"
	"github.com/spf13/cobra"
)

func NewRunCommand() *cobra.Command {
	var autoApprove bool
	var overrides agentOverrides

	cmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Plan and execute a coding task",
		Long: `Create a step-by-step plan for the task and execute it. Without
--auto-approve the plan is shown for review first.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTask(strings.Join(args, " "), autoApprove, overrides)
		},
	}

	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "Execute the plan without asking for approval")
	cmd.Flags().StringVar(&overrides.workspaceDir, "workspace", "", "Workspace directory to operate in")
	cmd.Flags().IntVar(&overrides.maxToolIterations, "max-iterations", 0, "Max tool-call iterations per step")

	return cmd
}

func runTask(task string, autoApprove bool, overrides agentOverrides) error {
	a, cfg, err := buildAgent(overrides)
	if err != nil {
		return err
	}
	if cfg.AutoApprove {
		autoApprove = true
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// A second interrupt kills the process; the first one requests a
	// cooperative stop.
	go func() {
		<-ctx.Done()
		a.CancelExecution()
	}()

	stream, err := a.Run(ctx, task, autoApprove)
	if err != nil {
		return err
	}

	awaiting := renderStream(stream)
	if err := stream.Err(); err != nil {
		return err
	}

	if awaiting {
		return promptApproval(ctx, a)
	}

	return nil
}

func promptApproval(ctx context.Context, a *agent.Agent) error {
	fmt.Print("\nExecute this plan? [y/N] ")

	reader := bufio.NewReader(os.Stdin)
	answer, _ := reader.ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))

	if answer != "y" && answer != "yes" {
		if err := a.RejectPlan("declined by user"); err != nil {
			return err
		}
		fmt.Println("Plan rejected.")
		return nil
	}

	stream, err := a.ApprovePlan(ctx, nil)
	if err != nil {
		return err
	}

	renderStream(stream)
	return stream.Err()
}

// renderStream prints events as they arrive and reports whether the run
// stopped to await plan approval.
func renderStream(stream agent.RunStream) bool {
	awaiting := false

	for event := range stream.EventChan {
		switch e := event.(type) {
		case *types.StatusEvent:
			fmt.Printf("· %s\n", e.Message)
		case *types.PlanCreatedEvent:
			printPlan(e.Plan)
		case *types.AwaitingApprovalEvent:
			awaiting = true
		case *types.ExecutionStartedEvent:
			fmt.Printf("▶ Executing plan %s (%d steps)\n", e.PlanID, e.StepCount)
		case *types.StepStartedEvent:
			fmt.Printf("\n[%d] %s\n", e.Step.ID, e.Step.Description)
		case *types.ToolCallsEvent:
			for _, call := range e.ToolCalls {
				fmt.Printf("    → %s\n", call.Name)
			}
		case *types.AnomalyDetectedEvent:
			fmt.Printf("    ⚠ %s\n", e.Anomaly)
		case *types.ReplanWarningEvent:
			fmt.Printf("    ⚠ execution keeps drifting from the plan (%d anomalies), consider revising the task\n", e.AnomalyCount)
		case *types.StepCompletedEvent:
			fmt.Printf("    ✓ step %d done (%d/%d)\n", e.Step.ID, e.Progress.Done, e.Progress.Total)
		case *types.ExecutionCompletedEvent:
			fmt.Printf("\n✓ Plan completed: %d/%d steps done\n", e.Progress.Done, e.Progress.Total)
		case *types.ExecutionFailedEvent:
			fmt.Printf("\n✗ Plan failed at step %d: %s\n", e.StepID, e.Error)
		case *types.ExecutionCancelledEvent:
			fmt.Println("\n■ Execution cancelled")
		case *types.ErrorEvent:
			fmt.Printf("\n✗ Error: %s\n", e.Error)
		}
	}

	return awaiting
}

func printPlan(plan types.Plan) {
	fmt.Printf("\nPlan %s: %s\n", plan.ID, plan.Task)
	for _, step := range plan.Steps {
		fmt.Printf("  %d. %s\n", step.ID, step.Description)
		if step.ExpectedOutcome != "" {
			fmt.Printf("     expected: %s\n", step.ExpectedOutcome)
		}
	}
}
