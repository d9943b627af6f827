package entitlements

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/assetledger-backend/pkg/db/models"
	"github.com/angelmondragon/assetledger-backend/pkg/enums"
	"github.com/angelmondragon/assetledger-backend/pkg/pagination"
)

// CheckoutGrantInput carries a confirmed purchase. PaymentReference is the id
// of the upstream payment event and is stored for audit only.
type CheckoutGrantInput struct {
	UserID           int64
	AssetID          int64
	PointsSpent      int
	CostAmount       decimal.Decimal
	Currency         string
	PaymentReference string
}

// Outcome describes what a grant did to the ledger.
type Outcome string

const (
	OutcomeCreated     Outcome = "created"
	OutcomeReactivated Outcome = "reactivated"
	OutcomeExisting    Outcome = "existing"
	OutcomeReplay      Outcome = "replay"
)

// Granted reports whether the call produced ownership that did not exist before.
func (o Outcome) Granted() bool {
	return o == OutcomeCreated || o == OutcomeReactivated
}

// GrantResult is returned by grant operations.
type GrantResult struct {
	Record  *models.EntitlementRecord
	Outcome Outcome
}

// Entitlement is the API view of an entitlement record.
type Entitlement struct {
	ID               uuid.UUID               `json:"id"`
	UserID           int64                   `json:"user_id"`
	AssetID          int64                   `json:"asset_id"`
	Status           enums.EntitlementStatus `json:"status"`
	Source           enums.EntitlementSource `json:"source"`
	PointsSpent      int                     `json:"points_spent"`
	CostAmount       string                  `json:"cost_amount"`
	Currency         string                  `json:"currency"`
	PaymentReference *string                 `json:"payment_reference,omitempty"`
	Owned            bool                    `json:"owned"`
	RevokedAt        *time.Time              `json:"revoked_at,omitempty"`
	CreatedAt        time.Time               `json:"created_at"`
	UpdatedAt        time.Time               `json:"updated_at"`
}

// NewEntitlement maps a stored record to its API view.
func NewEntitlement(record *models.EntitlementRecord) Entitlement {
	if record == nil {
		return Entitlement{}
	}
	return Entitlement{
		ID:               record.ID,
		UserID:           record.UserID,
		AssetID:          record.AssetID,
		Status:           record.Status,
		Source:           record.Source,
		PointsSpent:      record.PointsSpent,
		CostAmount:       record.CostAmount.StringFixed(2),
		Currency:         record.Currency,
		PaymentReference: record.PaymentReference,
		Owned:            record.Active(),
		RevokedAt:        record.RevokedAt,
		CreatedAt:        record.CreatedAt,
		UpdatedAt:        record.UpdatedAt,
	}
}

// ListParams drives ListForUser.
type ListParams struct {
	UserID     int64
	ActiveOnly bool
	pagination.Params
}

// ListResult is a cursor page of entitlements.
type ListResult struct {
	Items      []Entitlement `json:"items"`
	NextCursor string        `json:"next_cursor"`
}

// Skip reasons reported by bulk operations.
const (
	SkipAlreadyOwned    = "already_owned"
	SkipNotFound        = "not_found"
	SkipNotCompleted    = "not_completed"
	// SkipStatusCollision means another row for the pair already holds the
	// target status.
	SkipStatusCollision = "status_collision"
)

// BulkSkip is one item a bulk call left untouched.
type BulkSkip struct {
	AssetID  int64      `json:"asset_id,omitempty"`
	RecordID *uuid.UUID `json:"purchase_id,omitempty"`
	Reason   string     `json:"reason"`
}

// BulkGrantResult reports the outcome of GrantMany.
type BulkGrantResult struct {
	Granted []Entitlement `json:"granted"`
	Skipped []BulkSkip    `json:"skipped"`
}

// RevokeMode selects soft revocation or physical deletion.
type RevokeMode string

const (
	RevokeModeRevoke RevokeMode = "revoke"
	RevokeModeDelete RevokeMode = "delete"
)

// ParseRevokeMode treats a blank value as a soft revoke.
func ParseRevokeMode(value string) (RevokeMode, error) {
	switch RevokeMode(strings.ToLower(strings.TrimSpace(value))) {
	case "", RevokeModeRevoke:
		return RevokeModeRevoke, nil
	case RevokeModeDelete:
		return RevokeModeDelete, nil
	default:
		return "", fmt.Errorf("invalid revoke mode %q", value)
	}
}

// BulkRevokeResult reports the outcome of RevokeMany.
type BulkRevokeResult struct {
	Revoked []uuid.UUID `json:"revoked"`
	Deleted []uuid.UUID `json:"deleted"`
	Skipped []BulkSkip  `json:"skipped"`
}
