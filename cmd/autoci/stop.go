package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rrfs-ci/autoci/internal/watch"
)

var stopCmd = &cobra.Command{
	Use:   "stop [stop-file]",
	Short: "Ask running poll sessions to stop",
	Long: `Create the stop file watched by running poll sessions. Each session
ends its current iteration, posts its comment, and exits.

Without an argument the default stop file next to the history database
is used, which every poll started without --stop-file watches.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := defaultStopFile()
		if len(args) == 1 {
			path = args[0]
		}
		if err := watch.RaiseStop(path); err != nil {
			return err
		}
		fmt.Printf("Stop requested: %s\n", path)
		return nil
	},
}
