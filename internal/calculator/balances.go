package calculator

import (
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmynk/splitledger/internal/models"
)

// CounterpartyBalance is the signed net position between a user and one counterparty.
// Negative means the user owes the counterparty, positive means the counterparty owes the user.
type CounterpartyBalance struct {
	UserID string          `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
	// Groups lists the names of every group contributing to this bucket.
	Groups []string `json:"groups"`
}

// UserBalance is the outstanding position of one user across all groups.
type UserBalance struct {
	UserID string `json:"user_id"`
	// TotalOwed is what others owe the user.
	TotalOwed decimal.Decimal `json:"total_owed"`
	// TotalOwes is what the user owes others.
	TotalOwes decimal.Decimal `json:"total_owes"`
	// Net is TotalOwed - TotalOwes.
	Net            decimal.Decimal       `json:"net"`
	Counterparties []CounterpartyBalance `json:"counterparties"`
}

// MemberBalance is a member's net outstanding position inside one group.
// Positive means the member is owed money, negative means the member owes money.
type MemberBalance struct {
	UserID string          `json:"user_id"`
	Net    decimal.Decimal `json:"net"`
	Owed   decimal.Decimal `json:"owed"`
	Owes   decimal.Decimal `json:"owes"`
	// Groups lists the names of the groups whose settlements make up the position.
	Groups []string `json:"groups"`
}

func groupName(names map[string]string, groupID string) string {
	if name := names[groupID]; name != "" {
		return name
	}
	return groupID
}

func addGroup(groups []string, name string) []string {
	if slices.Contains(groups, name) {
		return groups
	}
	return append(groups, name)
}

// UserBalances folds the pending settlements a user takes part in into per-counterparty
// buckets. Completed settlements are ignored. groupNames maps group ids to display names;
// unknown groups are shown by id. Counterparties are sorted by |amount| descending, then id.
func UserBalances(userID string, settlements []*models.Settlement, groupNames map[string]string) UserBalance {
	result := UserBalance{
		UserID:    userID,
		TotalOwed: decimal.Zero,
		TotalOwes: decimal.Zero,
	}

	buckets := make(map[string]*CounterpartyBalance)
	bucket := func(id string) *CounterpartyBalance {
		b, ok := buckets[id]
		if !ok {
			b = &CounterpartyBalance{UserID: id, Amount: decimal.Zero}
			buckets[id] = b
		}
		return b
	}

	for _, s := range settlements {
		if !s.IsPending() {
			continue
		}

		var b *CounterpartyBalance
		switch userID {
		case s.FromUserID:
			result.TotalOwes = result.TotalOwes.Add(s.Amount)
			b = bucket(s.ToUserID)
			b.Amount = b.Amount.Sub(s.Amount)
		case s.ToUserID:
			result.TotalOwed = result.TotalOwed.Add(s.Amount)
			b = bucket(s.FromUserID)
			b.Amount = b.Amount.Add(s.Amount)
		default:
			continue
		}

		b.Groups = addGroup(b.Groups, groupName(groupNames, s.GroupID))
	}

	result.Net = result.TotalOwed.Sub(result.TotalOwes)
	for _, b := range buckets {
		slices.Sort(b.Groups)
		result.Counterparties = append(result.Counterparties, *b)
	}
	slices.SortFunc(result.Counterparties, func(a, b CounterpartyBalance) int {
		if c := b.Amount.Abs().Cmp(a.Amount.Abs()); c != 0 {
			return c
		}
		return strings.Compare(a.UserID, b.UserID)
	})
	return result
}

// GroupSettlementBalances computes each member's net outstanding position from the
// pending settlements of one group. The nets always sum to zero. groupNames works as
// in UserBalances. The result is sorted by member id.
func GroupSettlementBalances(settlements []*models.Settlement, groupNames map[string]string) []MemberBalance {
	members := make(map[string]*MemberBalance)
	member := func(id string) *MemberBalance {
		m, ok := members[id]
		if !ok {
			m = &MemberBalance{UserID: id, Net: decimal.Zero, Owed: decimal.Zero, Owes: decimal.Zero}
			members[id] = m
		}
		return m
	}

	for _, s := range settlements {
		if !s.IsPending() {
			continue
		}
		debtor := member(s.FromUserID)
		debtor.Owes = debtor.Owes.Add(s.Amount)
		debtor.Net = debtor.Net.Sub(s.Amount)

		creditor := member(s.ToUserID)
		creditor.Owed = creditor.Owed.Add(s.Amount)
		creditor.Net = creditor.Net.Add(s.Amount)

		name := groupName(groupNames, s.GroupID)
		debtor.Groups = addGroup(debtor.Groups, name)
		creditor.Groups = addGroup(creditor.Groups, name)
	}

	result := make([]MemberBalance, 0, len(members))
	for _, m := range members {
		slices.Sort(m.Groups)
		result = append(result, *m)
	}
	slices.SortFunc(result, func(a, b MemberBalance) int {
		return strings.Compare(a.UserID, b.UserID)
	})
	return result
}

// ExpenseBalances is the historical gross view of a group: every split adds its amount
// to the member and every expense subtracts its full amount from the payer.
// Positive means the member consumed more than they paid for. Completed settlements
// are not taken into account.
func ExpenseBalances(expenses []*models.Expense) map[string]decimal.Decimal {
	balances := make(map[string]decimal.Decimal)
	for _, e := range expenses {
		for _, s := range e.Splits {
			balances[s.UserID] = balances[s.UserID].Add(s.Amount)
		}
		balances[e.PaidBy] = balances[e.PaidBy].Sub(e.Amount)
	}
	return balances
}
