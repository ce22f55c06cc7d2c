package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var verboseFlag bool

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "routerd",
		Short:         "Disk-backed event transport fabric",
		Long:          "routerd inspects and migrates the on-disk buffers behind the event transport fabric.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verboseFlag {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}

	cmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "debug-level logging")

	cmd.AddCommand(newInspectCmd())
	cmd.AddCommand(newMigrateCmd())
	return cmd
}
