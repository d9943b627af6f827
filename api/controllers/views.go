package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/assetledger-backend/api/middleware"
	"github.com/angelmondragon/assetledger-backend/api/responses"
	"github.com/angelmondragon/assetledger-backend/api/validators"
	"github.com/angelmondragon/assetledger-backend/internal/views"
	pkgerrors "github.com/angelmondragon/assetledger-backend/pkg/errors"
	"github.com/angelmondragon/assetledger-backend/pkg/logger"
)

type ViewRecorder interface {
	RecordUnique(ctx context.Context, assetID int64, identity views.Identity, window time.Duration) (views.Result, error)
}

type ViewCounter interface {
	CountUnique(ctx context.Context, assetID int64, since time.Time) (int64, error)
}

// RecordAssetView counts one impression per identity per window. Works for
// anonymous visitors as long as they carry a session.
func RecordAssetView(recorder ViewRecorder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if recorder == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "view service unavailable"))
			return
		}
		assetID, err := validators.ParsePathID(r, "assetId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		identity := views.Identity{
			SessionID: middleware.SessionIDFromContext(ctx),
			IP:        middleware.ClientIPFromContext(ctx),
			UserAgent: middleware.UserAgentFromContext(ctx),
		}
		if userID := middleware.UserIDFromContext(ctx); userID > 0 {
			identity.UserID = &userID
		}

		result, err := recorder.RecordUnique(ctx, assetID, identity, 0)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		status := http.StatusOK
		if result.Created {
			status = http.StatusCreated
		}
		responses.WriteSuccessStatus(w, status, result)
	}
}

type viewCountResponse struct {
	AssetID     int64     `json:"asset_id"`
	Since       time.Time `json:"since"`
	UniqueViews int64     `json:"unique_views"`
}

// AdminAssetViewCount reports deduplicated views over the last
// since_hours hours (default 24, at most 90 days).
func AdminAssetViewCount(counter ViewCounter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if counter == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "view service unavailable"))
			return
		}
		assetID, err := validators.ParsePathID(r, "assetId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		hours, err := validators.ParseQueryInt(r, "since_hours", 24, 1, 90*24)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
		count, err := counter.CountUnique(r.Context(), assetID, since)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, viewCountResponse{AssetID: assetID, Since: since, UniqueViews: count})
	}
}
