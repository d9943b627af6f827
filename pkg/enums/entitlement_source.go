package enums

// EntitlementSource maps to the entitlement_source enum in Postgres.
type EntitlementSource string

const (
	EntitlementSourceManual   EntitlementSource = "manual"
	EntitlementSourceCheckout EntitlementSource = "checkout"
	EntitlementSourceSystem   EntitlementSource = "system"
)

var validEntitlementSources = set[EntitlementSource]{
	EntitlementSourceManual,
	EntitlementSourceCheckout,
	EntitlementSourceSystem,
}

func (s EntitlementSource) String() string { return string(s) }

func (s EntitlementSource) IsValid() bool { return validEntitlementSources.has(s) }

func ParseEntitlementSource(value string) (EntitlementSource, error) {
	return validEntitlementSources.parse(value, "entitlement source")
}
