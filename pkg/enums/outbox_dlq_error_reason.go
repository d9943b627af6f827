package enums

// OutboxDLQErrorReason records why an entitlement event was dead-lettered.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

var validDLQReasons = set[OutboxDLQErrorReason]{OutboxDLQReasonMaxAttempts, OutboxDLQReasonNonRetryable}

func (r OutboxDLQErrorReason) IsValid() bool { return validDLQReasons.has(r) }

func ParseOutboxDLQErrorReason(value string) (OutboxDLQErrorReason, error) {
	return validDLQReasons.parse(value, "dlq reason")
}
