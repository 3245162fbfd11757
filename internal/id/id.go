// Package id generates the prefixed, K-sortable identifiers used for ledger entities.
//
// Ids look like "stl_01h2xcejqtf2nbrexx3vqjhp41". Member ids are owned by the
// identity service and are treated as opaque strings; only entities created by
// this module carry a prefix.
package id

import (
	"encoding/hex"
	"fmt"

	"go.jetify.com/typeid/v2"
	"golang.org/x/crypto/blake2b"
)

// Prefix identifies the entity type encoded in an id.
type Prefix string

const (
	PrefixExpense    Prefix = "exp"
	PrefixSettlement Prefix = "stl"
	PrefixGroup      Prefix = "grp"
	PrefixJournal    Prefix = "jrn"
)

// New generates a new id with the given prefix.
// It panics if prefix is not a valid TypeID prefix (programming error).
func New(prefix Prefix) string {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return tid.String()
}

// NewExpense generates a new expense id.
func NewExpense() string { return New(PrefixExpense) }

// NewSettlement generates a new settlement id.
func NewSettlement() string { return New(PrefixSettlement) }

// NewGroup generates a new group id.
func NewGroup() string { return New(PrefixGroup) }

// Journal returns the deterministic id of the journal line recording the debt
// from owes to for one expense. Unlike the other ids it is a blake2b fingerprint,
// so replaying the same contribution always yields the same id.
func Journal(expenseID, from, to string) string {
	sum := blake2b.Sum256([]byte(expenseID + "\x00" + from + "\x00" + to))
	return string(PrefixJournal) + "_" + hex.EncodeToString(sum[:16])
}

// Validate checks that s is a well-formed id carrying the expected prefix.
func Validate(s string, expected Prefix) error {
	if s == "" {
		return fmt.Errorf("id: empty %s id", expected)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return fmt.Errorf("id: parse %q: %w", s, err)
	}
	if tid.Prefix() != string(expected) {
		return fmt.Errorf("id: expected prefix %q, got %q", expected, tid.Prefix())
	}
	return nil
}
