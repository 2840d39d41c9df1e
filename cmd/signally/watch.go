package main

import (
	"github.com/spf13/cobra"

	"pkt.systems/signally/internal/tui"
)

func newWatchCmd() *cobra.Command {
	var flags controlFlags
	var source string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Attach a terminal surface to the coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			return tui.Run(cmd.Context(), client.baseURL, source)
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVar(&source, "source", "", "audio source used when the toggle key starts recording")
	return cmd
}
