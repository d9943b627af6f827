// Package views records unique asset impressions. Deduplication is
// best-effort: two simultaneous first views may both be stored.
package views

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/angelmondragon/assetledger-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/assetledger-backend/pkg/errors"
	"github.com/angelmondragon/assetledger-backend/pkg/logger"
	"github.com/angelmondragon/assetledger-backend/pkg/metrics"
	"github.com/angelmondragon/assetledger-backend/pkg/redis"
	"github.com/angelmondragon/assetledger-backend/pkg/settings"
)

const (
	defaultWindow     = 30 * time.Minute
	maxUserAgentRunes = 255
)

// Identity is who viewed. UserID wins over SessionID when both are present.
type Identity struct {
	UserID    *int64
	SessionID string
	IP        string
	UserAgent string
}

func (i Identity) Authenticated() bool {
	return i.UserID != nil && *i.UserID > 0
}

func (i Identity) key() string {
	if i.Authenticated() {
		return "u:" + strconv.FormatInt(*i.UserID, 10)
	}
	return "s:" + i.SessionID
}

// Result reports whether the view was stored or collapsed into an earlier one.
type Result struct {
	Created bool `json:"created"`
	Deduped bool `json:"deduped"`
}

type ServiceParams struct {
	Repo     Repository
	Settings settings.Provider
	// Claimer is optional. When set, a window bucket is claimed in redis
	// before inserting.
	Claimer redis.Claimer
	Metrics *metrics.LedgerMetrics
	Logger  *logger.Logger
	Clock   func() time.Time
}

type Service struct {
	repo     Repository
	settings settings.Provider
	claimer  redis.Claimer
	metrics  *metrics.LedgerMetrics
	logg     *logger.Logger
	clock    func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("views repository required")
	}
	if params.Settings == nil {
		return nil, fmt.Errorf("settings provider required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		repo:     params.Repo,
		settings: params.Settings,
		claimer:  params.Claimer,
		metrics:  params.Metrics,
		logg:     logg,
		clock:    clock,
	}, nil
}

// Window returns the configured dedup window.
func (s *Service) Window(ctx context.Context) time.Duration {
	minutes := s.settings.Int(ctx, settings.KeyViewWindowMinutes)
	if minutes <= 0 {
		return defaultWindow
	}
	return time.Duration(minutes) * time.Minute
}

// RecordUnique stores a view unless the same identity viewed the asset within
// window. A non-positive window uses the configured one.
func (s *Service) RecordUnique(ctx context.Context, assetID int64, identity Identity, window time.Duration) (Result, error) {
	identity.SessionID = strings.TrimSpace(identity.SessionID)
	if assetID <= 0 {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "asset id required")
	}
	if !identity.Authenticated() && identity.SessionID == "" {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "user or session identity required")
	}
	if window <= 0 {
		window = s.Window(ctx)
	}

	now := s.clock().UTC()
	seen, err := s.repo.SeenSince(ctx, assetID, identity, now.Add(-window))
	if err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check recent views")
	}
	if seen || !s.claim(ctx, assetID, identity, window, now) {
		s.metrics.IncView("deduped")
		return Result{Deduped: true}, nil
	}

	event := &models.AssetViewEvent{
		AssetID:    assetID,
		UserID:     identity.UserID,
		SessionID:  optional(identity.SessionID),
		IPAddress:  optional(identity.IP),
		UserAgent:  optional(truncateRunes(identity.UserAgent, maxUserAgentRunes)),
		OccurredAt: now,
	}
	if !identity.Authenticated() {
		event.UserID = nil
	}
	if err := s.repo.Insert(ctx, event); err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record view")
	}
	s.metrics.IncView("created")
	return Result{Created: true}, nil
}

// claim reports false only when another request already holds the window
// bucket. Redis errors fail open.
func (s *Service) claim(ctx context.Context, assetID int64, identity Identity, window time.Duration, now time.Time) bool {
	if s.claimer == nil {
		return true
	}
	span := int64(window / time.Second)
	if span <= 0 {
		span = 1
	}
	bucket := now.Unix() / span
	key := s.claimer.ViewClaimKey(assetID, identity.key(), bucket)
	ok, err := s.claimer.SetNX(ctx, key, "1", window)
	if err != nil {
		s.metrics.IncViewClaimFailure()
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"asset_id": assetID,
			"error":    err.Error(),
		}), "views.claim.failed")
		return true
	}
	return ok
}

// CountUnique returns how many deduplicated views the asset received since.
func (s *Service) CountUnique(ctx context.Context, assetID int64, since time.Time) (int64, error) {
	if assetID <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "asset id required")
	}
	n, err := s.repo.CountSince(ctx, assetID, since.UTC())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count views")
	}
	return n, nil
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func truncateRunes(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	return string([]rune(value)[:limit])
}
