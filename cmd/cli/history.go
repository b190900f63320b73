package cli

import (
	"fmt"
	"path/filepath"

	"github.com/quantpilot/quantpilot/internal/config"
	"github.com/quantpilot/quantpilot/pkg/agent/storage"
	"github.com/spf13/cobra"
)

func NewHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently archived plans",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of plans to show")

	return cmd
}

func runHistory(limit int) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	plansDir := cfg.PlansDir
	if plansDir == "" {
		plansDir = filepath.Join(cfg.WorkspaceDir, ".plans")
	}

	store, err := storage.New(plansDir)
	if err != nil {
		return err
	}

	entries := store.GetHistory(limit)
	if len(entries) == 0 {
		fmt.Println("No archived plans.")
		return nil
	}

	for _, entry := range entries {
		fmt.Printf("%s  %-10s  v%d  %d steps  %s\n",
			entry.ArchivedAt.Format("2006-01-02 15:04"),
			entry.Status,
			entry.Version,
			entry.StepCount,
			entry.Task)
	}

	return nil
}
