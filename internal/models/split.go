package models

import "github.com/shopspring/decimal"

// Split is one member's share of an expense.
type Split struct {
	// UserID is the member who owes this share.
	UserID string `json:"user_id"`

	// Amount is the owed amount. Never negative.
	Amount decimal.Decimal `json:"amount"`
}

// SumSplits returns the total of all split amounts.
func SumSplits(splits []Split) decimal.Decimal {
	total := decimal.Zero
	for _, s := range splits {
		total = total.Add(s.Amount)
	}
	return total
}

// Debt is the amount one member owes the payer of an expense.
type Debt struct {
	From   string
	Amount decimal.Decimal
}

// Debts folds the splits of an expense into per-debtor amounts owed to the payer.
// Rows for the same member are summed, the payer's own share is dropped and so
// are zero shares. The result keeps the order in which members first appear.
func Debts(payer string, splits []Split) []Debt {
	index := make(map[string]int, len(splits))
	var debts []Debt
	for _, s := range splits {
		if s.UserID == payer {
			continue
		}
		if i, ok := index[s.UserID]; ok {
			debts[i].Amount = debts[i].Amount.Add(s.Amount)
			continue
		}
		index[s.UserID] = len(debts)
		debts = append(debts, Debt{From: s.UserID, Amount: s.Amount})
	}

	out := debts[:0]
	for _, d := range debts {
		if d.Amount.IsPositive() {
			out = append(out, d)
		}
	}
	return out
}
