package enums

// EntitlementStatus maps to the entitlement_status enum in Postgres. Only
// completed rows without a revocation grant ownership.
type EntitlementStatus string

const (
	EntitlementStatusPending   EntitlementStatus = "pending"
	EntitlementStatusCompleted EntitlementStatus = "completed"
	EntitlementStatusFailed    EntitlementStatus = "failed"
	EntitlementStatusRefunded  EntitlementStatus = "refunded"
	EntitlementStatusRevoked   EntitlementStatus = "revoked"
)

var validEntitlementStatuses = set[EntitlementStatus]{
	EntitlementStatusPending,
	EntitlementStatusCompleted,
	EntitlementStatusFailed,
	EntitlementStatusRefunded,
	EntitlementStatusRevoked,
}

// EntitlementStatuses returns every status in declaration order.
func EntitlementStatuses() []string { return validEntitlementStatuses.Strings() }

func (s EntitlementStatus) String() string { return string(s) }

func (s EntitlementStatus) IsValid() bool { return validEntitlementStatuses.has(s) }

// ParseEntitlementStatus is case-sensitive; stored values are lower case.
func ParseEntitlementStatus(value string) (EntitlementStatus, error) {
	return validEntitlementStatuses.parse(value, "entitlement status")
}
