package calculator

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmynk/splitledger/internal/models"
)

// Strategy selects how an expense amount is divided among participants.
type Strategy string

const (
	StrategyEqual      Strategy = "EQUAL"
	StrategyExact      Strategy = "EXACT"
	StrategyPercentage Strategy = "PERCENTAGE"
)

// ParseStrategy accepts strategy names case-insensitively.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToUpper(strings.TrimSpace(s))) {
	case StrategyEqual:
		return StrategyEqual, nil
	case StrategyExact:
		return StrategyExact, nil
	case StrategyPercentage:
		return StrategyPercentage, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
}

// Tolerance is the absolute slack allowed when checking supplied shares against their total.
var Tolerance = decimal.RequireFromString("0.01")

var (
	cent    = decimal.New(1, -2)
	hundred = decimal.NewFromInt(100)
)

// Share is one participant's input to a split.
// Value is an amount for EXACT, a percentage for PERCENTAGE and ignored for EQUAL.
type Share struct {
	UserID string          `json:"user_id"`
	Value  decimal.Decimal `json:"value"`
}

// Split divides amount among the shares according to strategy.
// The returned splits keep the order of shares.
func Split(strategy Strategy, amount decimal.Decimal, shares []Share) ([]models.Split, error) {
	switch strategy {
	case StrategyEqual:
		participants := make([]string, len(shares))
		for i, s := range shares {
			participants[i] = s.UserID
		}
		return Equal(amount, participants)
	case StrategyExact:
		return Exact(amount, shares)
	case StrategyPercentage:
		return Percentage(amount, shares)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
}

// Equal divides amount evenly. The amount is rounded to cents, every participant
// gets the truncated base share and the leftover cents go one each to the first
// participants in the order given.
func Equal(amount decimal.Decimal, participants []string) ([]models.Split, error) {
	if err := checkInputs(amount, len(participants)); err != nil {
		return nil, err
	}
	if err := checkParticipants(participants); err != nil {
		return nil, err
	}

	total := amount.Round(2)
	n := decimal.NewFromInt(int64(len(participants)))
	base := total.Div(n).Truncate(2)
	remainder := total.Sub(base.Mul(n)).Div(cent).IntPart()

	splits := make([]models.Split, len(participants))
	for i, p := range participants {
		owed := base
		if int64(i) < remainder {
			owed = owed.Add(cent)
		}
		splits[i] = models.Split{UserID: p, Amount: owed}
	}
	return splits, nil
}

// Exact takes caller-supplied amounts and checks that they sum to amount within Tolerance.
func Exact(amount decimal.Decimal, shares []Share) ([]models.Split, error) {
	if err := checkShares(amount, shares); err != nil {
		return nil, err
	}

	total := decimal.Zero
	splits := make([]models.Split, len(shares))
	for i, s := range shares {
		total = total.Add(s.Value)
		splits[i] = models.Split{UserID: s.UserID, Amount: s.Value}
	}
	if total.Sub(amount).Abs().GreaterThan(Tolerance) {
		return nil, &ReconcileError{Strategy: StrategyExact, Total: total, Expected: amount}
	}
	return splits, nil
}

// Percentage converts percentages into amounts. Percentages must sum to 100 within
// Tolerance. Each amount is rounded to cents and the rounding residue is spread one
// cent at a time over participants in order, so the splits sum to the rounded amount.
func Percentage(amount decimal.Decimal, shares []Share) ([]models.Split, error) {
	if err := checkShares(amount, shares); err != nil {
		return nil, err
	}

	pct := decimal.Zero
	for _, s := range shares {
		pct = pct.Add(s.Value)
	}
	if pct.Sub(hundred).Abs().GreaterThan(Tolerance) {
		return nil, &ReconcileError{Strategy: StrategyPercentage, Total: pct, Expected: hundred}
	}

	target := amount.Round(2)
	splits := make([]models.Split, len(shares))
	sum := decimal.Zero
	for i, s := range shares {
		owed := target.Mul(s.Value).Div(hundred).Round(2)
		splits[i] = models.Split{UserID: s.UserID, Amount: owed}
		sum = sum.Add(owed)
	}

	residue := target.Sub(sum)
	for i := 0; !residue.IsZero(); i = (i + 1) % len(splits) {
		if residue.IsPositive() {
			if shares[i].Value.IsZero() {
				continue
			}
			splits[i].Amount = splits[i].Amount.Add(cent)
			residue = residue.Sub(cent)
			continue
		}
		if splits[i].Amount.LessThan(cent) {
			continue
		}
		splits[i].Amount = splits[i].Amount.Sub(cent)
		residue = residue.Add(cent)
	}
	return splits, nil
}

func checkInputs(amount decimal.Decimal, participants int) error {
	if participants == 0 {
		return ErrNoParticipants
	}
	if !amount.Round(2).IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount.String())
	}
	return nil
}

func checkParticipants(participants []string) error {
	seen := make(map[string]struct{}, len(participants))
	for _, p := range participants {
		if p == "" {
			return fmt.Errorf("%w: empty participant id", ErrInvalidShare)
		}
		if _, ok := seen[p]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateParticipant, p)
		}
		seen[p] = struct{}{}
	}
	return nil
}

func checkShares(amount decimal.Decimal, shares []Share) error {
	if err := checkInputs(amount, len(shares)); err != nil {
		return err
	}
	participants := make([]string, len(shares))
	for i, s := range shares {
		if s.Value.IsNegative() {
			return fmt.Errorf("%w: negative share for %s", ErrInvalidShare, s.UserID)
		}
		participants[i] = s.UserID
	}
	return checkParticipants(participants)
}
