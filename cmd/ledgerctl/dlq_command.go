package main

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/assetledger-backend/pkg/enums"
	"github.com/angelmondragon/assetledger-backend/pkg/outbox"
)

func newDLQCommand(ctx *commandContext) *cobra.Command {
	var (
		recordID string
		reason   string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "List entitlement events the publisher gave up on",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := outbox.DLQFilter{Limit: limit}
			if recordID != "" {
				id, err := uuid.Parse(recordID)
				if err != nil {
					return fmt.Errorf("invalid entitlement id %q", recordID)
				}
				filter.AggregateID = &id
			}
			if reason != "" {
				parsed, err := enums.ParseOutboxDLQErrorReason(reason)
				if err != nil {
					return err
				}
				filter.Reason = parsed
			}

			b, err := ctx.ensureBackend(cmd.Context())
			if err != nil {
				return err
			}
			pending, err := b.pending.CountPending(cmd.Context())
			if err != nil {
				return err
			}
			rows, err := b.dlq.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Pending outbox events: %d\n", pending)
			if len(rows) == 0 {
				fmt.Fprintln(out, "Dead-letter queue is empty")
				return nil
			}

			table := make([][]string, 0, len(rows))
			for _, row := range rows {
				message := ""
				if row.ErrorMessage != nil {
					message = *row.ErrorMessage
					if len(message) > 60 {
						message = message[:57] + "..."
					}
				}
				table = append(table, []string{
					row.EventID.String(),
					string(row.EventType),
					row.AggregateID.String(),
					string(row.ErrorReason),
					strconv.Itoa(row.AttemptCount),
					row.FailedAt.Local().Format(stampLayout),
					message,
				})
			}
			fmt.Fprintln(out, renderTable([]string{"Event", "Type", "Entitlement", "Reason", "Attempts", "Failed", "Error"}, table, 4))
			return nil
		},
	}

	cmd.Flags().StringVar(&recordID, "record", "", "Only events about this entitlement id")
	cmd.Flags().StringVar(&reason, "reason", "", "max_attempts or non_retryable")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows")
	return cmd
}
