package entitlements

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/assetledger-backend/pkg/db"
	"github.com/angelmondragon/assetledger-backend/pkg/db/models"
	"github.com/angelmondragon/assetledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/assetledger-backend/pkg/errors"
	"github.com/angelmondragon/assetledger-backend/pkg/logger"
	"github.com/angelmondragon/assetledger-backend/pkg/metrics"
	"github.com/angelmondragon/assetledger-backend/pkg/outbox"
	"github.com/angelmondragon/assetledger-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/assetledger-backend/pkg/pagination"
	"github.com/angelmondragon/assetledger-backend/pkg/settings"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service is the guarded grant/revoke surface. Status overrides and hard
// deletes live on AdminOverride.
type Service interface {
	GrantManual(ctx context.Context, userID, assetID int64) (*GrantResult, error)
	GrantFromCheckout(ctx context.Context, input CheckoutGrantInput) (*GrantResult, error)
	GrantMany(ctx context.Context, userID int64, assetIDs []int64) (*BulkGrantResult, error)
	Revoke(ctx context.Context, recordID uuid.UUID) (bool, error)
	Unrevoke(ctx context.Context, recordID uuid.UUID) (bool, error)
	Owns(ctx context.Context, userID, assetID int64) (bool, error)
	Get(ctx context.Context, recordID uuid.UUID) (*models.EntitlementRecord, error)
	ListForUser(ctx context.Context, params ListParams) (*ListResult, error)
}

// ServiceParams wires the collaborators shared by Service and AdminOverride.
type ServiceParams struct {
	Repo     Repository
	Tx       txRunner
	Outbox   outboxPublisher
	Settings settings.Provider
	Metrics  *metrics.LedgerMetrics
	Logger   *logger.Logger
	Clock    func() time.Time
}

type core struct {
	repo     Repository
	tx       txRunner
	outbox   outboxPublisher
	settings settings.Provider
	metrics  *metrics.LedgerMetrics
	logg     *logger.Logger
	clock    func() time.Time
}

type service struct {
	*core
}

func newCore(params ServiceParams) (*core, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("entitlement repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
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
	return &core{
		repo:     params.Repo,
		tx:       params.Tx,
		outbox:   params.Outbox,
		settings: params.Settings,
		metrics:  params.Metrics,
		logg:     logg,
		clock:    clock,
	}, nil
}

// NewService builds the entitlement service.
func NewService(params ServiceParams) (Service, error) {
	c, err := newCore(params)
	if err != nil {
		return nil, err
	}
	return &service{core: c}, nil
}

// grantRequest is the normalized form of a manual or checkout grant.
type grantRequest struct {
	userID  int64
	assetID int64
	terms   commercialTerms
}

func (s *service) GrantManual(ctx context.Context, userID, assetID int64) (*GrantResult, error) {
	if err := validatePair(userID, assetID); err != nil {
		return nil, err
	}
	req := grantRequest{userID: userID, assetID: assetID, terms: s.manualTerms(ctx)}

	var result *GrantResult
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = s.grantTx(ctx, tx, req)
		return err
	})
	if err != nil {
		s.metrics.IncGrant(string(enums.EntitlementSourceManual), "error")
		return nil, asDependency(err, "grant entitlement")
	}
	s.recordGrant(ctx, req, result)
	return result, nil
}

func (s *service) GrantFromCheckout(ctx context.Context, input CheckoutGrantInput) (*GrantResult, error) {
	req, err := s.checkoutRequest(ctx, input)
	if err != nil {
		return nil, err
	}

	var result *GrantResult
	err = s.inTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = s.grantTx(ctx, tx, req)
		return err
	})
	if err != nil {
		s.metrics.IncGrant(string(enums.EntitlementSourceCheckout), "error")
		return nil, asDependency(err, "grant entitlement from checkout")
	}
	s.recordGrant(ctx, req, result)
	return result, nil
}

// grantTx makes (user, asset) owned inside tx. The unique (user, asset,
// status) index serializes concurrent grants; a lost insert re-reads the
// winner instead of failing.
func (c *core) grantTx(ctx context.Context, tx *gorm.DB, req grantRequest) (*GrantResult, error) {
	repo := c.repo.WithTx(tx)

	completed, err := repo.FindByTriple(ctx, req.userID, req.assetID, enums.EntitlementStatusCompleted)
	if err != nil && !isNotFound(err) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load completed entitlement")
	}
	if completed != nil {
		if completed.RevokedAt == nil {
			return &GrantResult{Record: completed, Outcome: OutcomeExisting}, nil
		}
		// Completed but stamped revoked: lift the stamp and keep its terms.
		if isReplay(completed, req.terms) {
			return &GrantResult{Record: completed, Outcome: OutcomeReplay}, nil
		}
		if err := repo.ClearRevokedAt(ctx, completed.ID); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "restore entitlement")
		}
		return c.finishReactivation(ctx, tx, completed.ID)
	}

	revoked, err := repo.FindByTriple(ctx, req.userID, req.assetID, enums.EntitlementStatusRevoked)
	if err != nil && !isNotFound(err) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load revoked entitlement")
	}
	if revoked != nil {
		if isReplay(revoked, req.terms) {
			return &GrantResult{Record: revoked, Outcome: OutcomeReplay}, nil
		}
		ok, err := repo.Reactivate(ctx, revoked.ID, reactivationTerms(revoked, req.terms))
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reactivate entitlement")
		}
		if ok {
			return c.finishReactivation(ctx, tx, revoked.ID)
		}
		return c.rereadCompleted(ctx, repo, req)
	}

	record := &models.EntitlementRecord{
		UserID:           req.userID,
		AssetID:          req.assetID,
		Status:           enums.EntitlementStatusCompleted,
		Source:           req.terms.Source,
		PointsSpent:      req.terms.PointsSpent,
		CostAmount:       req.terms.CostAmount,
		Currency:         req.terms.Currency,
		PaymentReference: req.terms.PaymentReference,
	}
	inserted, err := repo.InsertIfAbsent(ctx, record)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert entitlement")
	}
	if !inserted {
		return c.rereadCompleted(ctx, repo, req)
	}
	if err := c.emitGranted(ctx, tx, record, false); err != nil {
		return nil, err
	}
	return &GrantResult{Record: record, Outcome: OutcomeCreated}, nil
}

func (c *core) finishReactivation(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*GrantResult, error) {
	record, err := c.repo.WithTx(tx).FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload entitlement")
	}
	if err := c.emitGranted(ctx, tx, record, true); err != nil {
		return nil, err
	}
	return &GrantResult{Record: record, Outcome: OutcomeReactivated}, nil
}

func (c *core) rereadCompleted(ctx context.Context, repo Repository, req grantRequest) (*GrantResult, error) {
	record, err := repo.FindByTriple(ctx, req.userID, req.assetID, enums.EntitlementStatusCompleted)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "re-read entitlement after conflict")
	}
	return &GrantResult{Record: record, Outcome: OutcomeExisting}, nil
}

// isReplay reports whether a checkout grant carries the payment that already
// produced this record. Replays never resurrect a revoked purchase.
func isReplay(record *models.EntitlementRecord, terms commercialTerms) bool {
	if terms.Source != enums.EntitlementSourceCheckout || terms.PaymentReference == nil {
		return false
	}
	return record.PaymentReference != nil && *record.PaymentReference == *terms.PaymentReference
}

// reactivationTerms picks the commercial columns written when a revoked row
// regains ownership. A manual re-grant keeps the terms of a paid purchase.
func reactivationTerms(record *models.EntitlementRecord, terms commercialTerms) *commercialTerms {
	if terms.Source == enums.EntitlementSourceManual && record.Source == enums.EntitlementSourceCheckout {
		return nil
	}
	return &terms
}

func (s *service) Revoke(ctx context.Context, recordID uuid.UUID) (bool, error) {
	if recordID == uuid.Nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "entitlement id required")
	}

	var revoked bool
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		var err error
		revoked, err = s.revokeTx(ctx, tx, recordID)
		return err
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return false, err
		}
		if pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
			s.metrics.IncRevoke(string(RevokeModeRevoke), "conflict")
			return false, err
		}
		s.metrics.IncRevoke(string(RevokeModeRevoke), "error")
		return false, asDependency(err, "revoke entitlement")
	}
	if revoked {
		s.metrics.IncRevoke(string(RevokeModeRevoke), "revoked")
		s.logg.Info(s.logg.WithField(ctx, "entitlement_id", recordID.String()), "entitlements.revoke.applied")
	} else {
		s.metrics.IncRevoke(string(RevokeModeRevoke), "skipped")
	}
	return revoked, nil
}

// revokeTx soft-revokes a completed record. It reports false for records that
// are not currently conferring ownership.
func (c *core) revokeTx(ctx context.Context, tx *gorm.DB, recordID uuid.UUID) (bool, error) {
	repo := c.repo.WithTx(tx)
	record, err := repo.FindByID(ctx, recordID)
	if err != nil {
		if isNotFound(err) {
			return false, pkgerrors.New(pkgerrors.CodeNotFound, "entitlement not found")
		}
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load entitlement")
	}
	if !record.Active() {
		return false, nil
	}

	// Another revoked row for the pair already holds the unique triple. It
	// stays in place; only the hard-delete admin path removes rows.
	holder, err := repo.FindByTriple(ctx, record.UserID, record.AssetID, enums.EntitlementStatusRevoked)
	if err != nil && !isNotFound(err) {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load revoked entitlement")
	}
	if holder != nil && holder.ID != record.ID {
		return false, revokeCollision(holder.ID)
	}

	at := c.clock().UTC()
	ok, err := repo.Revoke(ctx, record.ID, at)
	if err != nil {
		if db.IsUniqueViolation(err, models.EntitlementRecordUniqueConstraint) {
			return false, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "another entitlement already holds this status")
		}
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "revoke entitlement")
	}
	if !ok {
		return false, nil
	}
	err = c.emit(ctx, tx, enums.EventEntitlementRevoked, record.ID, payloads.EntitlementRevokedEvent{
		RecordID:  record.ID,
		UserID:    record.UserID,
		AssetID:   record.AssetID,
		RevokedAt: at,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func revokeCollision(holderID uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeConflict, "another entitlement already holds this status").
		WithDetails(map[string]string{"conflicting_id": holderID.String()})
}

func (s *service) Unrevoke(ctx context.Context, recordID uuid.UUID) (bool, error) {
	if recordID == uuid.Nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "entitlement id required")
	}

	var restored bool
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		restored = false
		repo := s.repo.WithTx(tx)
		record, err := repo.FindByID(ctx, recordID)
		if err != nil {
			if isNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "entitlement not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load entitlement")
		}

		switch {
		case record.Status == enums.EntitlementStatusRevoked:
			owned, err := repo.Owns(ctx, record.UserID, record.AssetID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check ownership")
			}
			if owned {
				return nil
			}
			ok, err := repo.Reactivate(ctx, record.ID, nil)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "unrevoke entitlement")
			}
			if !ok {
				return nil
			}
		case record.Status == enums.EntitlementStatusCompleted && record.RevokedAt != nil:
			if err := repo.ClearRevokedAt(ctx, record.ID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "unrevoke entitlement")
			}
		default:
			return nil
		}

		if _, err := s.finishReactivation(ctx, tx, record.ID); err != nil {
			return err
		}
		restored = true
		return nil
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return false, err
		}
		return false, asDependency(err, "unrevoke entitlement")
	}
	if restored {
		s.metrics.IncRevoke("unrevoke", "restored")
		s.logg.Info(s.logg.WithField(ctx, "entitlement_id", recordID.String()), "entitlements.unrevoke.applied")
	}
	return restored, nil
}

// Owns fails closed: a lookup error is returned, never treated as ownership.
func (s *service) Owns(ctx context.Context, userID, assetID int64) (bool, error) {
	if err := validatePair(userID, assetID); err != nil {
		return false, err
	}
	owned, err := s.repo.Owns(ctx, userID, assetID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check ownership")
	}
	return owned, nil
}

func (s *service) Get(ctx context.Context, recordID uuid.UUID) (*models.EntitlementRecord, error) {
	return s.load(ctx, recordID)
}

func (c *core) load(ctx context.Context, recordID uuid.UUID) (*models.EntitlementRecord, error) {
	if recordID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "entitlement id required")
	}
	record, err := c.repo.FindByID(ctx, recordID)
	if err != nil {
		if isNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "entitlement not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load entitlement")
	}
	return record, nil
}

func (s *service) ListForUser(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.UserID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	records, next, err := s.repo.ListForUser(ctx, listQuery{
		UserID:     params.UserID,
		Limit:      params.Limit,
		Cursor:     cursor,
		ActiveOnly: params.ActiveOnly,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list entitlements")
	}

	result := &ListResult{Items: make([]Entitlement, 0, len(records))}
	for i := range records {
		result.Items = append(result.Items, NewEntitlement(&records[i]))
	}
	if next != nil {
		result.NextCursor = next.Encode()
	}
	return result, nil
}

// inTx runs fn in a transaction. A unique violation means a concurrent writer
// won the triple; postgres has aborted the transaction by then, so the whole
// unit is replayed once against the committed state.
func (c *core) inTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	err := c.tx.WithTx(ctx, fn)
	if err != nil && db.IsUniqueViolation(err, models.EntitlementRecordUniqueConstraint) {
		c.logg.Warn(ctx, "entitlements.tx.conflict_retry")
		err = c.tx.WithTx(ctx, fn)
	}
	return err
}

func (c *core) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, recordID uuid.UUID, data any) error {
	err := c.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateEntitlementRecord,
		AggregateID:   recordID,
		Data:          data,
		OccurredAt:    c.clock().UTC(),
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit entitlement event")
	}
	return nil
}

func (c *core) emitGranted(ctx context.Context, tx *gorm.DB, record *models.EntitlementRecord, reactivated bool) error {
	return c.emit(ctx, tx, enums.EventEntitlementGranted, record.ID, payloads.EntitlementGrantedEvent{
		RecordID:    record.ID,
		UserID:      record.UserID,
		AssetID:     record.AssetID,
		Source:      record.Source,
		PointsSpent: record.PointsSpent,
		CostAmount:  record.CostAmount.StringFixed(2),
		Currency:    record.Currency,
		Reactivated: reactivated,
	})
}

func (c *core) recordGrant(ctx context.Context, req grantRequest, result *GrantResult) {
	c.metrics.IncGrant(string(req.terms.Source), string(result.Outcome))
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"user_id":        req.userID,
		"asset_id":       req.assetID,
		"source":         req.terms.Source,
		"entitlement_id": result.Record.ID.String(),
	})
	switch result.Outcome {
	case OutcomeCreated:
		c.logg.Info(logCtx, "entitlements.grant.created")
	case OutcomeReactivated:
		c.logg.Info(logCtx, "entitlements.grant.reactivated")
	case OutcomeReplay:
		c.logg.Warn(logCtx, "entitlements.grant.replay_ignored")
	default:
		c.logg.Debug(logCtx, "entitlements.grant.existing")
	}
}

func (c *core) manualTerms(ctx context.Context) commercialTerms {
	return commercialTerms{
		Source:     enums.EntitlementSourceManual,
		CostAmount: decimal.Zero,
		Currency:   c.defaultCurrency(ctx),
	}
}

func (c *core) checkoutRequest(ctx context.Context, input CheckoutGrantInput) (grantRequest, error) {
	if err := validatePair(input.UserID, input.AssetID); err != nil {
		return grantRequest{}, err
	}
	details := map[string]string{}
	if input.PointsSpent < 0 {
		details["points_spent"] = "must be zero or greater"
	}
	if input.CostAmount.IsNegative() {
		details["cost_amount"] = "must be zero or greater"
	} else if !input.CostAmount.Equal(input.CostAmount.Round(2)) {
		details["cost_amount"] = "at most two decimal places"
	}
	currency := c.defaultCurrency(ctx)
	if raw := strings.TrimSpace(input.Currency); raw != "" {
		parsed, err := enums.ParseCurrency(raw)
		if err != nil {
			details["currency"] = err.Error()
		} else {
			currency = parsed.String()
		}
	}
	if len(details) > 0 {
		return grantRequest{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid checkout grant").WithDetails(details)
	}

	terms := commercialTerms{
		Source:      enums.EntitlementSourceCheckout,
		PointsSpent: input.PointsSpent,
		CostAmount:  input.CostAmount.Round(2),
		Currency:    currency,
	}
	if ref := strings.TrimSpace(input.PaymentReference); ref != "" {
		terms.PaymentReference = &ref
	}
	return grantRequest{userID: input.UserID, assetID: input.AssetID, terms: terms}, nil
}

// defaultCurrency resolves the configured default and falls back to USD when
// the stored value is not a supported code.
func (c *core) defaultCurrency(ctx context.Context) string {
	raw := c.settings.String(ctx, settings.KeyDefaultCurrency)
	currency, err := enums.ParseCurrency(raw)
	if err != nil {
		c.logg.Warn(c.logg.WithField(ctx, "value", raw), "entitlements.default_currency.invalid")
		return enums.CurrencyUSD.String()
	}
	return currency.String()
}

func validatePair(userID, assetID int64) error {
	details := map[string]string{}
	if userID <= 0 {
		details["user_id"] = "must be a positive integer"
	}
	if assetID <= 0 {
		details["asset_id"] = "must be a positive integer"
	}
	if len(details) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid user or asset").WithDetails(details)
	}
	return nil
}

// asDependency keeps typed errors and wraps anything else.
func asDependency(err error, message string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
}
