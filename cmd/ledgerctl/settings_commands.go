package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSettingsCommand(ctx *commandContext) *cobra.Command {
	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect and override ledger defaults",
	}

	settingsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show every setting and where its value comes from",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := ctx.ensureBackend(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := b.settings.List(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(entries))
			for _, entry := range entries {
				rows = append(rows, []string{entry.Key, entry.Value, entry.Source})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Key", "Value", "Source"}, rows))
			return nil
		},
	})

	settingsCmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store an override",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := ctx.ensureBackend(cmd.Context())
			if err != nil {
				return err
			}
			if err := b.settings.Set(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], args[1])
			return nil
		},
	})

	settingsCmd.AddCommand(&cobra.Command{
		Use:   "unset <key>",
		Short: "Remove an override and fall back to config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := ctx.ensureBackend(cmd.Context())
			if err != nil {
				return err
			}
			if err := b.settings.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s reset\n", args[0])
			return nil
		},
	})

	return settingsCmd
}
