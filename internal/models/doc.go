// Package models defines the core domain models of the settlement ledger.
//
// # Entities
//
//   - Expense: an amount paid by one member of a group and split among a subset of members
//   - Split: one member's share of an expense (embedded, no identity of its own)
//   - Settlement: a directed pairwise debt (from owes to) inside one group
//   - JournalLine: one expense's contribution to the debt between two members
//   - Group: the owner of expenses, carrying the denormalized TotalExpenses counter
//
// # Money
//
// Every amount is a decimal.Decimal. Amounts are never stored as floats.
//
// # Relationships
//
// Entities reference each other by id strings. Member ids come from the identity
// service and are opaque to this module.
package models
