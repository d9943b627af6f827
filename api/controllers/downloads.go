package controllers

import (
	"context"
	"mime"
	"net/http"
	"os"

	"github.com/angelmondragon/assetledger-backend/api/middleware"
	"github.com/angelmondragon/assetledger-backend/api/responses"
	"github.com/angelmondragon/assetledger-backend/api/validators"
	"github.com/angelmondragon/assetledger-backend/internal/downloads"
	pkgerrors "github.com/angelmondragon/assetledger-backend/pkg/errors"
	"github.com/angelmondragon/assetledger-backend/pkg/logger"
)

// DownloadAuthorizer decides how, and whether, a user may fetch an asset.
type DownloadAuthorizer interface {
	Authorize(ctx context.Context, req downloads.Request) (*downloads.Decision, error)
}

// AssetDownload redirects to public files and streams private ones. Non-owners
// get 403 and missing files 404.
func AssetDownload(gate DownloadAuthorizer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if gate == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "download gate unavailable"))
			return
		}
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

		decision, err := gate.Authorize(r.Context(), downloads.Request{
			UserID:    userID,
			AssetID:   assetID,
			IP:        middleware.ClientIPFromContext(r.Context()),
			UserAgent: middleware.UserAgentFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if decision.Kind == downloads.DecisionRedirect {
			http.Redirect(w, r, decision.URL, http.StatusFound)
			return
		}
		streamFile(w, r, decision, logg)
	}
}

func streamFile(w http.ResponseWriter, r *http.Request, decision *downloads.Decision, logg *logger.Logger) {
	f, err := os.Open(decision.Path)
	if err != nil {
		if os.IsNotExist(err) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "asset file not available"))
			return
		}
		responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "open asset file"))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "stat asset file"))
		return
	}

	if decision.ContentType != "" {
		w.Header().Set("Content-Type", decision.ContentType)
	}
	if decision.Filename != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": decision.Filename}))
	}
	w.Header().Set("Cache-Control", "private, no-store")
	http.ServeContent(w, r, decision.Filename, info.ModTime(), f)
}
