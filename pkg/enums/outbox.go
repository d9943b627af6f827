package enums

// OutboxAggregateType maps to the aggregate_type enum in Postgres. The ledger
// publishes events for a single aggregate.
type OutboxAggregateType string

const AggregateEntitlementRecord OutboxAggregateType = "entitlement_record"

var validAggregateTypes = set[OutboxAggregateType]{AggregateEntitlementRecord}

func (a OutboxAggregateType) IsValid() bool { return validAggregateTypes.has(a) }

func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return validAggregateTypes.parse(value, "aggregate type")
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventEntitlementGranted       OutboxEventType = "entitlement_granted"
	EventEntitlementRevoked       OutboxEventType = "entitlement_revoked"
	EventEntitlementStatusChanged OutboxEventType = "entitlement_status_changed"
	EventEntitlementDeleted       OutboxEventType = "entitlement_deleted"
)

var validOutboxEventTypes = set[OutboxEventType]{
	EventEntitlementGranted,
	EventEntitlementRevoked,
	EventEntitlementStatusChanged,
	EventEntitlementDeleted,
}

func (e OutboxEventType) IsValid() bool { return validOutboxEventTypes.has(e) }

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return validOutboxEventTypes.parse(value, "event type")
}
