package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"playback-control-plane/backend/internal/monitor"
)

func newStatusCommand(g *globalFlags) *cobra.Command {
	var leaseID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the current playback status once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := monitor.NewHTTPClient(g.server, g.token).Status(cmd.Context(), leaseID)
			if err != nil {
				return err
			}
			fmt.Printf("conflict=%t desktop_present=%t\n", st.Conflict, st.DesktopPresent)
			return nil
		},
	}
	cmd.Flags().StringVar(&leaseID, "lease-id", "", "Lease to refresh with this poll")
	return cmd
}
