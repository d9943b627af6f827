package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/assetledger-backend/pkg/config"
	"github.com/angelmondragon/assetledger-backend/pkg/db"
	"github.com/angelmondragon/assetledger-backend/pkg/db/dbtest"
	"github.com/angelmondragon/assetledger-backend/pkg/db/models"
	"github.com/angelmondragon/assetledger-backend/pkg/enums"
	"github.com/angelmondragon/assetledger-backend/pkg/logger"
	"github.com/angelmondragon/assetledger-backend/pkg/outbox"
)

func testBackend(t *testing.T) (*db.Client, openFunc) {
	t.Helper()
	client := dbtest.NewSQLite(t)
	for _, id := range []int64{11, 12, 13} {
		dbtest.SeedAsset(t, client, id, "")
	}
	logg := logger.New(logger.Options{ServiceName: "ledgerctl-test", Output: io.Discard})
	open := func(context.Context) (*backend, error) {
		b, err := buildBackend(client, config.Config{}, logg)
		if err != nil {
			return nil, err
		}
		// dbtest owns the connection
		b.close = nil
		return b, nil
	}
	return client, open
}

func runCLI(t *testing.T, open openFunc, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(open)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func loadRecord(t *testing.T, client *db.Client, userID, assetID int64) models.EntitlementRecord {
	t.Helper()
	var record models.EntitlementRecord
	require.NoError(t, client.DB().Where("user_id = ? AND asset_id = ?", userID, assetID).Take(&record).Error)
	return record
}

func TestGrantThenOwns(t *testing.T) {
	_, open := testBackend(t)

	out, err := runCLI(t, open, "grant", "--user", "5", "--asset", "11")
	require.NoError(t, err)
	require.Contains(t, out, "Outcome: created")

	out, err = runCLI(t, open, "owns", "--user", "5", "--asset", "11")
	require.NoError(t, err)
	require.Contains(t, out, "owns asset 11: true")
}

func TestBulkGrantReportsSkips(t *testing.T) {
	_, open := testBackend(t)

	_, err := runCLI(t, open, "grant", "--user", "5", "--asset", "11")
	require.NoError(t, err)

	out, err := runCLI(t, open, "grant", "--user", "5", "--asset", "11", "--asset", "12", "--asset", "13")
	require.NoError(t, err)
	require.Contains(t, out, "Granted: 2  Skipped: 1")
	require.Contains(t, out, "already_owned")
}

func TestRevokeAndUnrevoke(t *testing.T) {
	client, open := testBackend(t)

	_, err := runCLI(t, open, "grant", "--user", "6", "--asset", "12")
	require.NoError(t, err)
	record := loadRecord(t, client, 6, 12)

	out, err := runCLI(t, open, "revoke", record.ID.String())
	require.NoError(t, err)
	require.Contains(t, out, "revoked")

	out, err = runCLI(t, open, "owns", "--user", "6", "--asset", "12")
	require.NoError(t, err)
	require.Contains(t, out, "false")

	out, err = runCLI(t, open, "unrevoke", record.ID.String())
	require.NoError(t, err)
	require.Contains(t, out, "Entitlement restored")

	out, err = runCLI(t, open, "unrevoke", record.ID.String())
	require.NoError(t, err)
	require.Contains(t, out, "nothing to do")
}

func TestHardRevokeDeletesRow(t *testing.T) {
	client, open := testBackend(t)

	_, err := runCLI(t, open, "grant", "--user", "7", "--asset", "13")
	require.NoError(t, err)
	record := loadRecord(t, client, 7, 13)

	out, err := runCLI(t, open, "revoke", "--hard", record.ID.String())
	require.NoError(t, err)
	require.Contains(t, out, "deleted")

	var count int64
	require.NoError(t, client.DB().Model(&models.EntitlementRecord{}).Where("id = ?", record.ID).Count(&count).Error)
	require.Zero(t, count)
}

func TestListShowsEntitlements(t *testing.T) {
	_, open := testBackend(t)

	_, err := runCLI(t, open, "grant", "--user", "8", "--asset", "11", "--asset", "12")
	require.NoError(t, err)

	out, err := runCLI(t, open, "list", "--user", "8")
	require.NoError(t, err)
	require.Equal(t, 2, strings.Count(out, "manual"))

	out, err = runCLI(t, open, "list", "--user", "9")
	require.NoError(t, err)
	require.Contains(t, out, "No entitlements")
}

func TestSetStatusRejectsUnknownStatus(t *testing.T) {
	_, open := testBackend(t)

	_, err := runCLI(t, open, "set-status", "00000000-0000-0000-0000-000000000001", "archived")
	require.Error(t, err)
}

func TestSettingsRoundTrip(t *testing.T) {
	_, open := testBackend(t)

	_, err := runCLI(t, open, "settings", "set", "default_currency", "EUR")
	require.NoError(t, err)

	out, err := runCLI(t, open, "settings", "list")
	require.NoError(t, err)
	require.Contains(t, out, "EUR")
	require.Contains(t, out, "database")

	_, err = runCLI(t, open, "settings", "unset", "default_currency")
	require.NoError(t, err)

	out, err = runCLI(t, open, "settings", "list")
	require.NoError(t, err)
	require.NotContains(t, out, "EUR")

	_, err = runCLI(t, open, "settings", "set", "bogus", "1")
	require.Error(t, err)
}

func TestGrantRequiresAsset(t *testing.T) {
	_, open := testBackend(t)

	_, err := runCLI(t, open, "grant", "--user", "5")
	require.Error(t, err)
}

func TestDLQListsDeadLetters(t *testing.T) {
	client, open := testBackend(t)

	out, err := runCLI(t, open, "dlq")
	require.NoError(t, err)
	require.Contains(t, out, "Pending outbox events: 0")
	require.Contains(t, out, "empty")

	recordID := uuid.New()
	require.NoError(t, outbox.NewDLQRepository(client.DB()).Insert(client.DB(), models.OutboxDLQ{
		EventID:       uuid.New(),
		EventType:     enums.EventEntitlementRevoked,
		AggregateType: enums.AggregateEntitlementRecord,
		AggregateID:   recordID,
		Payload:       json.RawMessage(`{}`),
		ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
		AttemptCount:  5,
	}))

	out, err = runCLI(t, open, "dlq", "--record", recordID.String(), "--reason", "max_attempts")
	require.NoError(t, err)
	require.Contains(t, out, recordID.String())

	_, err = runCLI(t, open, "dlq", "--reason", "bogus")
	require.Error(t, err)
}
