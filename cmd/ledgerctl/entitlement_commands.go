package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/assetledger-backend/internal/entitlements"
	"github.com/angelmondragon/assetledger-backend/pkg/enums"
	"github.com/angelmondragon/assetledger-backend/pkg/pagination"
)

func newGrantCommand(ctx *commandContext) *cobra.Command {
	var userID int64
	var assetIDs []int64

	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant manual ownership of one or more assets",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(assetIDs) == 0 {
				return errors.New("at least one --asset is required")
			}
			b, err := ctx.ensureBackend(cmd.Context())
			if err != nil {
				return err
			}
			runCtx := ctx.actorContext(cmd.Context())
			out := cmd.OutOrStdout()

			if len(assetIDs) == 1 {
				result, err := b.ledger.GrantManual(runCtx, userID, assetIDs[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Outcome: %s\n", result.Outcome)
				fmt.Fprintln(out, renderEntitlements([]entitlements.Entitlement{entitlements.NewEntitlement(result.Record)}))
				return nil
			}

			result, err := b.ledger.GrantMany(runCtx, userID, assetIDs)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Granted: %d  Skipped: %d\n", len(result.Granted), len(result.Skipped))
			if len(result.Granted) > 0 {
				fmt.Fprintln(out, renderEntitlements(result.Granted))
			}
			if len(result.Skipped) > 0 {
				rows := make([][]string, 0, len(result.Skipped))
				for _, skip := range result.Skipped {
					rows = append(rows, []string{strconv.FormatInt(skip.AssetID, 10), skip.Reason})
				}
				fmt.Fprintln(out, renderTable([]string{"Asset", "Reason"}, rows, 0))
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 0, "User id receiving the grant")
	cmd.Flags().Int64SliceVar(&assetIDs, "asset", nil, "Asset id (repeatable)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newRevokeCommand(ctx *commandContext) *cobra.Command {
	var hard bool

	cmd := &cobra.Command{
		Use:   "revoke <entitlement-id>...",
		Short: "Revoke entitlements, or delete them with --hard",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseRecordIDs(args)
			if err != nil {
				return err
			}
			b, err := ctx.ensureBackend(cmd.Context())
			if err != nil {
				return err
			}
			mode := entitlements.RevokeModeRevoke
			if hard {
				mode = entitlements.RevokeModeDelete
			}

			result, err := b.override.RevokeMany(ctx.actorContext(cmd.Context()), ids, mode)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(ids))
			for _, id := range result.Revoked {
				rows = append(rows, []string{id.String(), "revoked"})
			}
			for _, id := range result.Deleted {
				rows = append(rows, []string{id.String(), "deleted"})
			}
			for _, skip := range result.Skipped {
				id := ""
				if skip.RecordID != nil {
					id = skip.RecordID.String()
				}
				rows = append(rows, []string{id, "skipped: " + skip.Reason})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"ID", "Result"}, rows))
			return nil
		},
	}

	cmd.Flags().BoolVar(&hard, "hard", false, "Physically delete instead of revoking")
	return cmd
}

func newUnrevokeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "unrevoke <entitlement-id>",
		Short: "Restore a revoked entitlement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid entitlement id %q", args[0])
			}
			b, err := ctx.ensureBackend(cmd.Context())
			if err != nil {
				return err
			}
			changed, err := b.ledger.Unrevoke(ctx.actorContext(cmd.Context()), id)
			if err != nil {
				return err
			}
			if !changed {
				fmt.Fprintln(cmd.OutOrStdout(), "Entitlement was not revoked; nothing to do")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Entitlement restored")
			return nil
		},
	}
}

func newSetStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set-status <entitlement-id> <status>",
		Short: "Force an entitlement into a status",
		Long: "Force an entitlement into a status. Valid statuses: " +
			strings.Join(enums.EntitlementStatuses(), ", ") + ".",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid entitlement id %q", args[0])
			}
			status, err := enums.ParseEntitlementStatus(args[1])
			if err != nil {
				return err
			}
			b, err := ctx.ensureBackend(cmd.Context())
			if err != nil {
				return err
			}
			record, err := b.override.SetStatus(ctx.actorContext(cmd.Context()), id, status)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderEntitlements([]entitlements.Entitlement{entitlements.NewEntitlement(record)}))
			return nil
		},
	}
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var (
		userID     int64
		limit      int
		cursor     string
		activeOnly bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's entitlements, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := ctx.ensureBackend(cmd.Context())
			if err != nil {
				return err
			}
			page, err := b.ledger.ListForUser(cmd.Context(), entitlements.ListParams{
				UserID:     userID,
				ActiveOnly: activeOnly,
				Params:     pagination.Params{Limit: limit, Cursor: cursor},
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(page.Items) == 0 {
				fmt.Fprintln(out, "No entitlements")
				return nil
			}
			fmt.Fprintln(out, renderEntitlements(page.Items))
			if page.NextCursor != "" {
				fmt.Fprintf(out, "Next cursor: %s\n", page.NextCursor)
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 0, "User id")
	cmd.Flags().IntVar(&limit, "limit", 25, "Page size")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Cursor from a previous page")
	cmd.Flags().BoolVar(&activeOnly, "active-only", false, "Only show owned entitlements")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newOwnsCommand(ctx *commandContext) *cobra.Command {
	var userID, assetID int64

	cmd := &cobra.Command{
		Use:   "owns",
		Short: "Check whether a user owns an asset",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := ctx.ensureBackend(cmd.Context())
			if err != nil {
				return err
			}
			owned, err := b.ledger.Owns(cmd.Context(), userID, assetID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %d owns asset %d: %t\n", userID, assetID, owned)
			return nil
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 0, "User id")
	cmd.Flags().Int64Var(&assetID, "asset", 0, "Asset id")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("asset")
	return cmd
}

func newViewsCommand(ctx *commandContext) *cobra.Command {
	var (
		assetID int64
		since   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "views",
		Short: "Count unique views of an asset",
		RunE: func(cmd *cobra.Command, args []string) error {
			if since <= 0 {
				return errors.New("--since must be positive")
			}
			b, err := ctx.ensureBackend(cmd.Context())
			if err != nil {
				return err
			}
			from := time.Now().UTC().Add(-since)
			count, err := b.views.CountUnique(cmd.Context(), assetID, from)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "asset %d: %d unique views since %s\n", assetID, count, from.Local().Format(stampLayout))
			return nil
		},
	}

	cmd.Flags().Int64Var(&assetID, "asset", 0, "Asset id")
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "Look-back window")
	_ = cmd.MarkFlagRequired("asset")
	return cmd
}

func parseRecordIDs(args []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(args))
	for _, arg := range args {
		id, err := uuid.Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid entitlement id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
