// Package commands implements the remindctl command line.
package commands

import (
	"github.com/spf13/cobra"
)

// New builds the remindctl root command
func New() *cobra.Command {
	return newRoot(&app{})
}

func newRoot(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "remindctl",
		Short:         "Recurring reminders and alarms on the command line.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVar(&a.configPath, "config", defaultConfigPath(),
		"Path of the configuration file.")
	cmd.PersistentFlags().StringVarP(&a.calendar, "calendar", "c", "",
		"Calendar to operate on. Defaults to the configured one.")

	addCommands(cmd, a)
	return cmd
}

// addCommands registers every subcommand on topLevel
func addCommands(topLevel *cobra.Command, a *app) {
	addRule(topLevel, a)
	addRange(topLevel, a)
	addNext(topLevel, a)
	addExport(topLevel, a)
	addImport(topLevel, a)
	addAlarms(topLevel, a)
	addSnooze(topLevel, a)
	addDismiss(topLevel, a)
	addRun(topLevel, a)
	addServe(topLevel, a)
}
