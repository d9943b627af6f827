package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand(open openFunc) *cobra.Command {
	var actorID int64
	ctx := newCommandContext(open, &actorID)

	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operate the asset entitlement ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return ctx.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().Int64Var(&actorID, "actor-id", 0, "Operator user id recorded on emitted events")

	rootCmd.AddCommand(newGrantCommand(ctx))
	rootCmd.AddCommand(newRevokeCommand(ctx))
	rootCmd.AddCommand(newUnrevokeCommand(ctx))
	rootCmd.AddCommand(newSetStatusCommand(ctx))
	rootCmd.AddCommand(newListCommand(ctx))
	rootCmd.AddCommand(newOwnsCommand(ctx))
	rootCmd.AddCommand(newViewsCommand(ctx))
	rootCmd.AddCommand(newSettingsCommand(ctx))
	rootCmd.AddCommand(newDLQCommand(ctx))

	return rootCmd
}
