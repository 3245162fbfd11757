package mongo

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mmynk/splitledger/internal/models"
)

type expenseModel struct {
	ID          string          `bson:"_id"`
	Title       string          `bson:"title"`
	Description string          `bson:"description,omitempty"`
	Amount      bson.Decimal128 `bson:"amount"`
	Category    string          `bson:"category"`
	GroupID     string          `bson:"group_id"`
	PaidBy      string          `bson:"paid_by"`
	Date        time.Time       `bson:"date"`
	Splits      []splitModel    `bson:"splits"`
	Notes       string          `bson:"notes,omitempty"`
	Version     int64           `bson:"version"`
	CreatedAt   time.Time       `bson:"created_at"`
	UpdatedAt   time.Time       `bson:"updated_at"`
}

type splitModel struct {
	UserID string          `bson:"user"`
	Amount bson.Decimal128 `bson:"amount"`
}

type groupModel struct {
	ID            string          `bson:"_id"`
	Name          string          `bson:"name"`
	Description   string          `bson:"description,omitempty"`
	Category      string          `bson:"category"`
	CreatedBy     string          `bson:"created_by"`
	Members       []memberModel   `bson:"members"`
	Active        bool            `bson:"active"`
	TotalExpenses bson.Decimal128 `bson:"total_expenses"`
	CreatedAt     time.Time       `bson:"created_at"`
}

type memberModel struct {
	UserID   string    `bson:"user"`
	Name     string    `bson:"name"`
	Role     string    `bson:"role"`
	JoinedAt time.Time `bson:"joined_at"`
}

type settlementModel struct {
	ID            string          `bson:"_id"`
	GroupID       string          `bson:"group_id"`
	From          string          `bson:"from"`
	To            string          `bson:"to"`
	Amount        bson.Decimal128 `bson:"amount"`
	PaymentMethod string          `bson:"payment_method"`
	Status        string          `bson:"status"`
	Notes         string          `bson:"notes,omitempty"`
	Proof         string          `bson:"proof,omitempty"`
	Active        bool            `bson:"active"`
	Version       int64           `bson:"version"`
	Date          time.Time       `bson:"date"`
	CreatedAt     time.Time       `bson:"created_at"`
	UpdatedAt     time.Time       `bson:"updated_at"`
}

type journalModel struct {
	ID           string          `bson:"_id"`
	ExpenseID    string          `bson:"expense_id"`
	GroupID      string          `bson:"group_id"`
	From         string          `bson:"from"`
	To           string          `bson:"to"`
	Amount       bson.Decimal128 `bson:"amount"`
	SettlementID string          `bson:"settlement_id"`
	Settled      bool            `bson:"settled"`
	CreatedAt    time.Time       `bson:"created_at"`
}

func toDecimal128(d decimal.Decimal) (bson.Decimal128, error) {
	v, err := bson.ParseDecimal128(d.String())
	if err != nil {
		return bson.Decimal128{}, fmt.Errorf("convert %s to decimal128: %w", d, err)
	}
	return v, nil
}

func fromDecimal128(v bson.Decimal128) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("convert decimal128 %s: %w", v, err)
	}
	return d, nil
}

func toExpenseModel(e *models.Expense) (*expenseModel, error) {
	amount, err := toDecimal128(e.Amount)
	if err != nil {
		return nil, err
	}
	m := &expenseModel{
		ID:          e.ID,
		Title:       e.Title,
		Description: e.Description,
		Amount:      amount,
		Category:    e.Category,
		GroupID:     e.GroupID,
		PaidBy:      e.PaidBy,
		Date:        e.Date,
		Splits:      make([]splitModel, len(e.Splits)),
		Notes:       e.Notes,
		Version:     e.Version,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
	for i, s := range e.Splits {
		owed, err := toDecimal128(s.Amount)
		if err != nil {
			return nil, err
		}
		m.Splits[i] = splitModel{UserID: s.UserID, Amount: owed}
	}
	return m, nil
}

func fromExpenseModel(m *expenseModel) (*models.Expense, error) {
	amount, err := fromDecimal128(m.Amount)
	if err != nil {
		return nil, err
	}
	e := &models.Expense{
		ID:          m.ID,
		Title:       m.Title,
		Description: m.Description,
		Amount:      amount,
		Category:    m.Category,
		GroupID:     m.GroupID,
		PaidBy:      m.PaidBy,
		Date:        m.Date.UTC(),
		Splits:      make([]models.Split, len(m.Splits)),
		Notes:       m.Notes,
		Version:     m.Version,
		CreatedAt:   m.CreatedAt.UTC(),
		UpdatedAt:   m.UpdatedAt.UTC(),
	}
	for i, s := range m.Splits {
		owed, err := fromDecimal128(s.Amount)
		if err != nil {
			return nil, err
		}
		e.Splits[i] = models.Split{UserID: s.UserID, Amount: owed}
	}
	return e, nil
}

func toGroupModel(g *models.Group) (*groupModel, error) {
	total, err := toDecimal128(g.TotalExpenses)
	if err != nil {
		return nil, err
	}
	m := &groupModel{
		ID:            g.ID,
		Name:          g.Name,
		Description:   g.Description,
		Category:      g.Category,
		CreatedBy:     g.CreatedBy,
		Members:       make([]memberModel, len(g.Members)),
		Active:        g.Active,
		TotalExpenses: total,
		CreatedAt:     g.CreatedAt,
	}
	for i, mem := range g.Members {
		m.Members[i] = memberModel{UserID: mem.UserID, Name: mem.Name, Role: mem.Role, JoinedAt: mem.JoinedAt}
	}
	return m, nil
}

func fromGroupModel(m *groupModel) (*models.Group, error) {
	total, err := fromDecimal128(m.TotalExpenses)
	if err != nil {
		return nil, err
	}
	g := &models.Group{
		ID:            m.ID,
		Name:          m.Name,
		Description:   m.Description,
		Category:      m.Category,
		CreatedBy:     m.CreatedBy,
		Active:        m.Active,
		TotalExpenses: total,
		CreatedAt:     m.CreatedAt.UTC(),
	}
	for _, mem := range m.Members {
		g.Members = append(g.Members, models.Member{UserID: mem.UserID, Name: mem.Name, Role: mem.Role, JoinedAt: mem.JoinedAt.UTC()})
	}
	return g, nil
}

func toSettlementModel(s *models.Settlement) (*settlementModel, error) {
	amount, err := toDecimal128(s.Amount)
	if err != nil {
		return nil, err
	}
	return &settlementModel{
		ID:            s.ID,
		GroupID:       s.GroupID,
		From:          s.FromUserID,
		To:            s.ToUserID,
		Amount:        amount,
		PaymentMethod: s.PaymentMethod,
		Status:        string(s.Status),
		Notes:         s.Notes,
		Proof:         s.Proof,
		Active:        s.Active,
		Version:       s.Version,
		Date:          s.Date,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}, nil
}

func fromSettlementModel(m *settlementModel) (*models.Settlement, error) {
	amount, err := fromDecimal128(m.Amount)
	if err != nil {
		return nil, err
	}
	return &models.Settlement{
		ID:            m.ID,
		GroupID:       m.GroupID,
		FromUserID:    m.From,
		ToUserID:      m.To,
		Amount:        amount,
		PaymentMethod: m.PaymentMethod,
		Status:        models.SettlementStatus(m.Status),
		Notes:         m.Notes,
		Proof:         m.Proof,
		Active:        m.Active,
		Version:       m.Version,
		Date:          m.Date.UTC(),
		CreatedAt:     m.CreatedAt.UTC(),
		UpdatedAt:     m.UpdatedAt.UTC(),
	}, nil
}

func toJournalModel(l *models.JournalLine) (*journalModel, error) {
	amount, err := toDecimal128(l.Amount)
	if err != nil {
		return nil, err
	}
	return &journalModel{
		ID:           l.ID,
		ExpenseID:    l.ExpenseID,
		GroupID:      l.GroupID,
		From:         l.From,
		To:           l.To,
		Amount:       amount,
		SettlementID: l.SettlementID,
		Settled:      l.Settled,
		CreatedAt:    l.CreatedAt,
	}, nil
}

func fromJournalModel(m *journalModel) (*models.JournalLine, error) {
	amount, err := fromDecimal128(m.Amount)
	if err != nil {
		return nil, err
	}
	return &models.JournalLine{
		ID:           m.ID,
		ExpenseID:    m.ExpenseID,
		GroupID:      m.GroupID,
		From:         m.From,
		To:           m.To,
		Amount:       amount,
		SettlementID: m.SettlementID,
		Settled:      m.Settled,
		CreatedAt:    m.CreatedAt.UTC(),
	}, nil
}
