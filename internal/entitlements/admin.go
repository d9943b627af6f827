package entitlements

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/assetledger-backend/pkg/db"
	"github.com/angelmondragon/assetledger-backend/pkg/db/models"
	"github.com/angelmondragon/assetledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/assetledger-backend/pkg/errors"
	"github.com/angelmondragon/assetledger-backend/pkg/outbox/payloads"
)

// AdminOverride bypasses the guarded lifecycle. Only admin routes and the
// operator CLI are handed one.
type AdminOverride struct {
	*core
}

// NewAdminOverride builds the override capability over the same collaborators
// as the guarded service.
func NewAdminOverride(params ServiceParams) (*AdminOverride, error) {
	c, err := newCore(params)
	if err != nil {
		return nil, err
	}
	return &AdminOverride{core: c}, nil
}

// SetStatus moves a record to any status. revoked_at follows the status: it is
// stamped when entering revoked and cleared otherwise. Landing on a triple
// held by another row is a Conflict.
func (a *AdminOverride) SetStatus(ctx context.Context, recordID uuid.UUID, status enums.EntitlementStatus) (*models.EntitlementRecord, error) {
	if recordID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "entitlement id required")
	}
	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid entitlement status").
			WithDetails(map[string]string{"status": string(status)})
	}

	var updated *models.EntitlementRecord
	var previous enums.EntitlementStatus
	err := a.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := a.repo.WithTx(tx)
		record, err := repo.FindByID(ctx, recordID)
		if err != nil {
			if isNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "entitlement not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load entitlement")
		}
		previous = record.Status

		if status != record.Status {
			holder, err := repo.FindByTriple(ctx, record.UserID, record.AssetID, status)
			if err != nil && !isNotFound(err) {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check status collision")
			}
			if holder != nil && holder.ID != record.ID {
				return pkgerrors.New(pkgerrors.CodeConflict, "another entitlement already holds this status").
					WithDetails(map[string]string{"conflicting_id": holder.ID.String()})
			}
		}

		var revokedAt *time.Time
		if status == enums.EntitlementStatusRevoked {
			revokedAt = record.RevokedAt
			if revokedAt == nil {
				at := a.clock().UTC()
				revokedAt = &at
			}
		}
		if status == record.Status && sameInstant(revokedAt, record.RevokedAt) {
			updated = record
			return nil
		}

		if err := repo.UpdateStatus(ctx, record.ID, status, revokedAt); err != nil {
			if db.IsUniqueViolation(err, models.EntitlementRecordUniqueConstraint) {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "another entitlement already holds this status")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update entitlement status")
		}
		updated, err = repo.FindByID(ctx, record.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload entitlement")
		}
		return a.emit(ctx, tx, enums.EventEntitlementStatusChanged, record.ID, payloads.EntitlementStatusChangedEvent{
			RecordID:       record.ID,
			UserID:         record.UserID,
			AssetID:        record.AssetID,
			PreviousStatus: record.Status,
			Status:         status,
		})
	})
	if err != nil {
		return nil, asDependency(err, "set entitlement status")
	}

	a.logg.Warn(a.logg.WithFields(ctx, map[string]any{
		"entitlement_id":  recordID.String(),
		"previous_status": previous,
		"status":          status,
	}), "entitlements.admin.status_overridden")
	return updated, nil
}

// HardDelete physically removes the record. It cannot be undone.
func (a *AdminOverride) HardDelete(ctx context.Context, recordID uuid.UUID) error {
	if recordID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "entitlement id required")
	}
	err := a.tx.WithTx(ctx, func(tx *gorm.DB) error {
		deleted, err := a.deleteTx(ctx, tx, recordID)
		if err != nil {
			return err
		}
		if !deleted {
			return pkgerrors.New(pkgerrors.CodeNotFound, "entitlement not found")
		}
		return nil
	})
	if err != nil {
		if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			a.metrics.IncRevoke(string(RevokeModeDelete), "error")
		}
		return asDependency(err, "delete entitlement")
	}
	a.metrics.IncRevoke(string(RevokeModeDelete), "deleted")
	a.logg.Warn(a.logg.WithField(ctx, "entitlement_id", recordID.String()), "entitlements.admin.hard_deleted")
	return nil
}

func (a *AdminOverride) deleteTx(ctx context.Context, tx *gorm.DB, recordID uuid.UUID) (bool, error) {
	repo := a.repo.WithTx(tx)
	record, err := repo.FindByID(ctx, recordID)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load entitlement")
	}
	deleted, err := repo.Delete(ctx, record.ID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete entitlement")
	}
	if !deleted {
		return false, nil
	}
	err = a.emit(ctx, tx, enums.EventEntitlementDeleted, record.ID, payloads.EntitlementDeletedEvent{
		RecordID: record.ID,
		UserID:   record.UserID,
		AssetID:  record.AssetID,
		Status:   record.Status,
	})
	return err == nil, err
}

// RevokeMany applies mode to every record in one transaction. Soft revokes
// skip records that do not confer ownership; missing ids are skipped in both
// modes.
func (a *AdminOverride) RevokeMany(ctx context.Context, recordIDs []uuid.UUID, mode RevokeMode) (*BulkRevokeResult, error) {
	if mode != RevokeModeRevoke && mode != RevokeModeDelete {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid revoke mode").
			WithDetails(map[string]string{"mode": string(mode)})
	}
	ids, err := normalizeRecordIDs(recordIDs)
	if err != nil {
		return nil, err
	}

	var result *BulkRevokeResult
	err = a.inTx(ctx, func(tx *gorm.DB) error {
		result = &BulkRevokeResult{Revoked: []uuid.UUID{}, Deleted: []uuid.UUID{}, Skipped: []BulkSkip{}}
		for _, id := range ids {
			recordID := id
			switch mode {
			case RevokeModeDelete:
				deleted, err := a.deleteTx(ctx, tx, id)
				if err != nil {
					return err
				}
				if !deleted {
					result.Skipped = append(result.Skipped, BulkSkip{RecordID: &recordID, Reason: SkipNotFound})
					continue
				}
				result.Deleted = append(result.Deleted, id)
			default:
				revoked, err := a.revokeTx(ctx, tx, id)
				if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
					result.Skipped = append(result.Skipped, BulkSkip{RecordID: &recordID, Reason: SkipNotFound})
					continue
				}
				if pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
					result.Skipped = append(result.Skipped, BulkSkip{RecordID: &recordID, Reason: SkipStatusCollision})
					continue
				}
				if err != nil {
					return err
				}
				if !revoked {
					result.Skipped = append(result.Skipped, BulkSkip{RecordID: &recordID, Reason: SkipNotCompleted})
					continue
				}
				result.Revoked = append(result.Revoked, id)
			}
		}
		return nil
	})
	if err != nil {
		a.metrics.IncRevoke(string(mode), "error")
		return nil, asDependency(err, "bulk revoke entitlements")
	}

	for range result.Revoked {
		a.metrics.IncRevoke(string(RevokeModeRevoke), "revoked")
	}
	for range result.Deleted {
		a.metrics.IncRevoke(string(RevokeModeDelete), "deleted")
	}
	for range result.Skipped {
		a.metrics.IncRevoke(string(mode), "skipped")
	}
	a.logg.Info(a.logg.WithFields(ctx, map[string]any{
		"mode":    mode,
		"revoked": len(result.Revoked),
		"deleted": len(result.Deleted),
		"skipped": len(result.Skipped),
	}), "entitlements.bulk_revoke.completed")
	return result, nil
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
