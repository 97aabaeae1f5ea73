package main

import (
	"fmt"

	"handoffdesk/backend/internal/config"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect handoff settings files",
	}
	cmd.AddCommand(newSettingsShowCmd())
	cmd.AddCommand(newSettingsValidateCmd())
	return cmd
}

func newSettingsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [file]",
		Short: "Print effective settings (defaults when no file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := config.DefaultHandoffSettings()
			if len(args) == 1 {
				loaded, err := config.LoadHandoffSettings(args[0])
				if err != nil {
					return err
				}
				settings = *loaded
			}
			out, err := yaml.Marshal(settings)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(out))
			fmt.Fprintf(cmd.OutOrStdout(), "# schedule: %s\n", settings.FormatWorkingSchedule())
			return nil
		},
	}
}

func newSettingsValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a settings file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.LoadHandoffSettings(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid: %s, timeout %s\n", args[0], settings.FormatWorkingSchedule(), settings.Timeout())
			return nil
		},
	}
}
