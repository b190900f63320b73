package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func NewResumeCommand() *cobra.Command {
	var overrides agentOverrides

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume the unfinished plan from a previous run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResume(overrides)
		},
	}

	cmd.Flags().StringVar(&overrides.workspaceDir, "workspace", "", "Workspace directory to operate in")

	return cmd
}

func runResume(overrides agentOverrides) error {
	a, _, err := buildAgent(overrides)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		a.CancelExecution()
	}()

	stream, err := a.Resume(ctx)
	if err != nil {
		return err
	}

	awaiting := renderStream(stream)
	if err := stream.Err(); err != nil {
		return err
	}

	if awaiting {
		if plan := a.CurrentPlan(); plan != nil {
			printPlan(*plan)
		}
		return promptApproval(ctx, a)
	}

	fmt.Println("Done.")
	return nil
}
