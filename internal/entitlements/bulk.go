package entitlements

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/assetledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/assetledger-backend/pkg/errors"
)

// MaxBulkItems caps how many assets or records a bulk call may touch.
const MaxBulkItems = 200

// GrantMany grants every asset to the user in one transaction. Pairs already
// owned are reported as skipped; any other failure rolls the whole batch back.
func (s *service) GrantMany(ctx context.Context, userID int64, assetIDs []int64) (*BulkGrantResult, error) {
	ids, err := normalizeAssetIDs(userID, assetIDs)
	if err != nil {
		return nil, err
	}
	terms := s.manualTerms(ctx)

	var result *BulkGrantResult
	var grants []grantOutcome
	err = s.inTx(ctx, func(tx *gorm.DB) error {
		result = &BulkGrantResult{Granted: []Entitlement{}, Skipped: []BulkSkip{}}
		grants = grants[:0]
		for _, assetID := range ids {
			req := grantRequest{userID: userID, assetID: assetID, terms: terms}
			granted, err := s.grantTx(ctx, tx, req)
			if err != nil {
				return err
			}
			grants = append(grants, grantOutcome{req: req, result: granted})
			if !granted.Outcome.Granted() {
				id := granted.Record.ID
				result.Skipped = append(result.Skipped, BulkSkip{AssetID: assetID, RecordID: &id, Reason: SkipAlreadyOwned})
				continue
			}
			result.Granted = append(result.Granted, NewEntitlement(granted.Record))
		}
		return nil
	})
	if err != nil {
		s.metrics.IncGrant(string(enums.EntitlementSourceManual), "error")
		return nil, asDependency(err, "bulk grant entitlements")
	}
	for _, g := range grants {
		s.recordGrant(ctx, g.req, g.result)
	}
	return result, nil
}

type grantOutcome struct {
	req    grantRequest
	result *GrantResult
}

// normalizeAssetIDs validates the batch and drops repeated ids, keeping the
// first occurrence order.
func normalizeAssetIDs(userID int64, assetIDs []int64) ([]int64, error) {
	var errs error
	if userID <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("user_id must be a positive integer"))
	}
	if len(assetIDs) == 0 {
		errs = multierr.Append(errs, fmt.Errorf("asset_ids must not be empty"))
	}
	if len(assetIDs) > MaxBulkItems {
		errs = multierr.Append(errs, fmt.Errorf("asset_ids accepts at most %d items", MaxBulkItems))
	}
	seen := make(map[int64]struct{}, len(assetIDs))
	ids := make([]int64, 0, len(assetIDs))
	for i, id := range assetIDs {
		if id <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("asset_ids[%d] must be a positive integer", i))
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if errs != nil {
		return nil, validationFrom(errs, "invalid bulk grant")
	}
	return ids, nil
}

func normalizeRecordIDs(recordIDs []uuid.UUID) ([]uuid.UUID, error) {
	var errs error
	if len(recordIDs) == 0 {
		errs = multierr.Append(errs, fmt.Errorf("purchase_ids must not be empty"))
	}
	if len(recordIDs) > MaxBulkItems {
		errs = multierr.Append(errs, fmt.Errorf("purchase_ids accepts at most %d items", MaxBulkItems))
	}
	seen := make(map[uuid.UUID]struct{}, len(recordIDs))
	ids := make([]uuid.UUID, 0, len(recordIDs))
	for i, id := range recordIDs {
		if id == uuid.Nil {
			errs = multierr.Append(errs, fmt.Errorf("purchase_ids[%d] must be a uuid", i))
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if errs != nil {
		return nil, validationFrom(errs, "invalid bulk revoke")
	}
	return ids, nil
}

func validationFrom(errs error, message string) error {
	problems := multierr.Errors(errs)
	details := make([]string, 0, len(problems))
	for _, p := range problems {
		details = append(details, p.Error())
	}
	return pkgerrors.New(pkgerrors.CodeValidation, message).WithDetails(map[string]any{"errors": details})
}
