// Package downloads authorizes asset downloads against the entitlement ledger
// and records who fetched what.
package downloads

import (
	"context"
	"errors"
	"fmt"

	pkgerrors "github.com/angelmondragon/assetledger-backend/pkg/errors"
	"github.com/angelmondragon/assetledger-backend/pkg/logger"
	"github.com/angelmondragon/assetledger-backend/pkg/metrics"
	"github.com/angelmondragon/assetledger-backend/pkg/storage"
)

// OwnershipChecker answers whether a user currently owns an asset.
type OwnershipChecker interface {
	Owns(ctx context.Context, userID, assetID int64) (bool, error)
}

type DecisionKind string

const (
	DecisionRedirect DecisionKind = "redirect"
	DecisionStream   DecisionKind = "stream"
)

// Decision tells the transport how to deliver an authorized download.
// Denials are returned as typed errors instead.
type Decision struct {
	Kind        DecisionKind
	URL         string
	Path        string
	Filename    string
	ContentType string
}

// Request identifies the downloader.
type Request struct {
	UserID    int64
	AssetID   int64
	IP        string
	UserAgent string
}

type GateParams struct {
	Owners     OwnershipChecker
	Assets     AssetFileLookup
	Resolver   storage.Resolver
	AccessLogs AccessLogRepository
	Metrics    *metrics.LedgerMetrics
	Logger     *logger.Logger
}

type Gate struct {
	owners     OwnershipChecker
	assets     AssetFileLookup
	resolver   storage.Resolver
	accessLogs AccessLogRepository
	metrics    *metrics.LedgerMetrics
	logg       *logger.Logger
}

func NewGate(params GateParams) (*Gate, error) {
	if params.Owners == nil {
		return nil, fmt.Errorf("ownership checker required")
	}
	if params.Assets == nil {
		return nil, fmt.Errorf("asset lookup required")
	}
	if params.Resolver == nil {
		return nil, fmt.Errorf("storage resolver required")
	}
	if params.AccessLogs == nil {
		return nil, fmt.Errorf("access log repository required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Gate{
		owners:     params.Owners,
		assets:     params.Assets,
		resolver:   params.Resolver,
		accessLogs: params.AccessLogs,
		metrics:    params.Metrics,
		logg:       logg,
	}, nil
}

// Authorize checks ownership, resolves the file and logs the access. It
// returns FORBIDDEN for non-owners and NOT_FOUND when the file cannot be
// located; an ownership lookup failure is never treated as ownership.
func (g *Gate) Authorize(ctx context.Context, req Request) (*Decision, error) {
	if req.UserID <= 0 || req.AssetID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user and asset required")
	}
	ctx = g.logg.WithFields(ctx, map[string]any{"user_id": req.UserID, "asset_id": req.AssetID})

	owned, err := g.owners.Owns(ctx, req.UserID, req.AssetID)
	if err != nil {
		g.metrics.IncDownload("error")
		return nil, wrapDependency(err, "check ownership")
	}
	if !owned {
		g.metrics.IncDownload("forbidden")
		g.logg.Info(ctx, "downloads.denied")
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "asset not owned")
	}

	storedPath, err := g.assets.FilePath(ctx, req.AssetID)
	if err != nil && !errors.Is(err, ErrAssetNotFound) {
		g.metrics.IncDownload("error")
		return nil, wrapDependency(err, "load asset file path")
	}
	if storedPath == "" {
		g.metrics.IncDownload("not_found")
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "asset file not available")
	}

	loc, err := g.resolver.Resolve(ctx, storedPath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			g.metrics.IncDownload("not_found")
			g.logg.Warn(g.logg.WithField(ctx, "stored_path", storedPath), "downloads.file.missing")
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "asset file not available")
		}
		g.metrics.IncDownload("error")
		return nil, wrapDependency(err, "resolve asset file")
	}

	g.recordAccess(ctx, req)

	decision := &Decision{Filename: loc.Filename}
	switch loc.Kind {
	case storage.KindRedirect:
		decision.Kind = DecisionRedirect
		decision.URL = loc.URL
	default:
		decision.Kind = DecisionStream
		decision.Path = loc.Path
		decision.ContentType = loc.ContentType
		if loc.Fallback {
			g.logg.Debug(ctx, "downloads.file.fallback_root")
		}
	}
	g.metrics.IncDownload(string(decision.Kind))
	return decision, nil
}

// recordAccess never fails the download.
func (g *Gate) recordAccess(ctx context.Context, req Request) {
	err := g.accessLogs.Record(ctx, AccessEntry{
		UserID:    req.UserID,
		AssetID:   req.AssetID,
		IP:        req.IP,
		UserAgent: req.UserAgent,
	})
	if err != nil {
		g.metrics.IncAccessLogFailure()
		g.logg.Error(ctx, "downloads.access_log.failed", err)
	}
}

func wrapDependency(err error, message string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
}
