package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/assetledger-backend/api/middleware"
	"github.com/angelmondragon/assetledger-backend/api/responses"
	"github.com/angelmondragon/assetledger-backend/api/validators"
	"github.com/angelmondragon/assetledger-backend/internal/entitlements"
	"github.com/angelmondragon/assetledger-backend/pkg/db/models"
	"github.com/angelmondragon/assetledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/assetledger-backend/pkg/errors"
	"github.com/angelmondragon/assetledger-backend/pkg/logger"
	"github.com/angelmondragon/assetledger-backend/pkg/pagination"
)

// EntitlementOverride is the admin-only capability behind status overrides,
// hard deletes and bulk revocation.
type EntitlementOverride interface {
	SetStatus(ctx context.Context, recordID uuid.UUID, status enums.EntitlementStatus) (*models.EntitlementRecord, error)
	HardDelete(ctx context.Context, recordID uuid.UUID) error
	RevokeMany(ctx context.Context, recordIDs []uuid.UUID, mode entitlements.RevokeMode) (*entitlements.BulkRevokeResult, error)
}

type grantRequest struct {
	UserID  int64 `json:"user_id" validate:"required,gt=0"`
	AssetID int64 `json:"asset_id" validate:"required,gt=0"`
}

type grantResponse struct {
	entitlements.Entitlement
	Outcome entitlements.Outcome `json:"outcome"`
}

// AdminGrantEntitlement grants an asset manually. A new or restored
// entitlement answers 201; an already owned pair answers 200.
func AdminGrantEntitlement(svc entitlements.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "entitlement service unavailable"))
			return
		}

		var payload grantRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.GrantManual(r.Context(), payload.UserID, payload.AssetID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusOK
		if result.Outcome.Granted() {
			status = http.StatusCreated
		}
		responses.WriteSuccessStatus(w, status, grantResponse{
			Entitlement: entitlements.NewEntitlement(result.Record),
			Outcome:     result.Outcome,
		})
	}
}

type bulkGrantRequest struct {
	UserID   int64   `json:"user_id" validate:"required,gt=0"`
	AssetIDs []int64 `json:"asset_ids" validate:"required,min=1"`
}

// AdminBulkGrantEntitlements grants many assets to one user atomically.
func AdminBulkGrantEntitlements(svc entitlements.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "entitlement service unavailable"))
			return
		}

		var payload bulkGrantRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.GrantMany(r.Context(), payload.UserID, payload.AssetIDs)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// AdminGetEntitlement returns a single record by id.
func AdminGetEntitlement(svc entitlements.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recordID, err := parseRecordID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		record, err := svc.Get(r.Context(), recordID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, entitlements.NewEntitlement(record))
	}
}

type updateEntitlementRequest struct {
	Action *string `json:"action" validate:"omitempty,oneof=revoke unrevoke"`
	Status *string `json:"status"`
}

type updateEntitlementResponse struct {
	Entitlement entitlements.Entitlement `json:"entitlement"`
	Changed     bool                     `json:"changed"`
}

// AdminUpdateEntitlement applies either a guarded lifecycle action or a raw
// status override. Exactly one of action and status must be given.
func AdminUpdateEntitlement(svc entitlements.Service, override EntitlementOverride, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || override == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "entitlement service unavailable"))
			return
		}
		recordID, err := parseRecordID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload updateEntitlementRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if (payload.Action == nil) == (payload.Status == nil) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "exactly one of action or status is required"))
			return
		}

		if payload.Status != nil {
			status := enums.EntitlementStatus(strings.ToLower(strings.TrimSpace(*payload.Status)))
			before, err := svc.Get(r.Context(), recordID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			record, err := override.SetStatus(r.Context(), recordID, status)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			responses.WriteSuccess(w, updateEntitlementResponse{
				Entitlement: entitlements.NewEntitlement(record),
				Changed:     record.Status != before.Status || (record.RevokedAt == nil) != (before.RevokedAt == nil),
			})
			return
		}

		var changed bool
		switch *payload.Action {
		case "revoke":
			changed, err = svc.Revoke(r.Context(), recordID)
		default:
			changed, err = svc.Unrevoke(r.Context(), recordID)
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		record, err := svc.Get(r.Context(), recordID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, updateEntitlementResponse{
			Entitlement: entitlements.NewEntitlement(record),
			Changed:     changed,
		})
	}
}

type deleteEntitlementResponse struct {
	ID      uuid.UUID               `json:"purchase_id"`
	Mode    entitlements.RevokeMode `json:"mode"`
	Changed bool                    `json:"changed"`
}

// AdminDeleteEntitlement soft revokes by default; ?mode=delete removes the row.
func AdminDeleteEntitlement(svc entitlements.Service, override EntitlementOverride, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || override == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "entitlement service unavailable"))
			return
		}
		recordID, err := parseRecordID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		mode, err := entitlements.ParseRevokeMode(r.URL.Query().Get("mode"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := deleteEntitlementResponse{ID: recordID, Mode: mode}
		if mode == entitlements.RevokeModeDelete {
			if err := override.HardDelete(r.Context(), recordID); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			resp.Changed = true
		} else {
			resp.Changed, err = svc.Revoke(r.Context(), recordID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		responses.WriteSuccess(w, resp)
	}
}

type bulkRevokeRequest struct {
	PurchaseIDs []uuid.UUID `json:"purchase_ids" validate:"required,min=1"`
	Mode        string      `json:"mode"`
}

// AdminBulkRevokeEntitlements revokes or deletes many records in one transaction.
func AdminBulkRevokeEntitlements(override EntitlementOverride, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if override == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "entitlement override unavailable"))
			return
		}

		var payload bulkRevokeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		mode, err := entitlements.ParseRevokeMode(payload.Mode)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := override.RevokeMany(r.Context(), payload.PurchaseIDs, mode)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// ListMyEntitlements pages through the caller's entitlements, newest first.
func ListMyEntitlements(svc entitlements.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())
		if userID <= 0 {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		activeOnly, err := validators.ParseQueryBool(r, "active_only", false)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ListForUser(r.Context(), entitlements.ListParams{
			UserID:     userID,
			ActiveOnly: activeOnly,
			Params: pagination.Params{
				Limit:  limit,
				Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
			},
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

type ownershipResponse struct {
	AssetID int64 `json:"asset_id"`
	Owned   bool  `json:"owned"`
}

// AssetOwnership reports whether the caller currently owns the asset.
func AssetOwnership(svc entitlements.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())
		if userID <= 0 {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}
		assetID, err := validators.ParsePathID(r, "assetId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		owned, err := svc.Owns(r.Context(), userID, assetID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, ownershipResponse{AssetID: assetID, Owned: owned})
	}
}

func parseRecordID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "id")))
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid entitlement id")
	}
	return id, nil
}
