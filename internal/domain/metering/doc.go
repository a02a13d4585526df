// Package metering contains the domain model for AI usage metering:
// billable entities, plans and subscriptions, usage records, the prepaid
// credit ledger, plan-mode overages and the pure calculators (billing
// periods and token pricing) that the application layer composes into
// quota enforcement and billing settlement.
//
// Money is represented with shopspring/decimal throughout. Token counts
// are int64. Optional figures (unlimited limits, unknown token counts)
// are pointers, where nil means "not set".
package metering
