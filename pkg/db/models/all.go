package models

// All lists every table the ledger owns, in dependency order. Used by the
// sqlite dev bootstrap and by tests.
func All() []any {
	return []any{
		&Asset{},
		&EntitlementRecord{},
		&EntitlementAccessLog{},
		&AssetViewEvent{},
		&LedgerSetting{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
