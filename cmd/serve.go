package cmd

import (
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, dispatcher and scheduler",
		Long: `Starts the HTTP API, the bounded worker pool that executes price checks
and, when enabled, the scheduler that queues periodic sweeps and weekly
retrain requests. Blocks until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := resolveSession(cmd.Context())
			if err != nil {
				return err
			}
			return s.app.Run(cmd.Context())
		},
	}
}
