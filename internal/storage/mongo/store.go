// Package mongo implements storage.Store on MongoDB.
//
// Amounts are stored as Decimal128, group totals are adjusted with $inc and a
// partial unique index on (group_id, from, to) where status is PENDING keeps at
// most one pending settlement per key.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

// Collection name constants.
const (
	colExpenses    = "expenses"
	colGroups      = "groups"
	colSettlements = "settlements"
	colJournal     = "journal_lines"
)

// compile-time interface check
var _ storage.Store = (*Store)(nil)

// Store implements storage.Store using MongoDB.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials uri, verifies connectivity and creates indexes in database dbName.
func Connect(ctx context.Context, uri, dbName string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	s := &Store{client: client, db: client.Database(dbName)}
	if err := s.Migrate(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// Migrate creates indexes for all ledger collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create %s indexes: %w", col, err)
		}
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// ==================== Expenses ====================

func (s *Store) CreateExpense(ctx context.Context, e *models.Expense) error {
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	m, err := toExpenseModel(e)
	if err != nil {
		return err
	}
	m.Version = 1
	_, err = s.db.Collection(colExpenses).InsertOne(ctx, m)
	if mongo.IsDuplicateKeyError(err) {
		return storage.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert expense: %w", err)
	}
	e.Version = 1
	return nil
}

func (s *Store) GetExpense(ctx context.Context, expenseID string) (*models.Expense, error) {
	var m expenseModel
	err := s.db.Collection(colExpenses).FindOne(ctx, bson.M{"_id": expenseID}).Decode(&m)
	if isNoDocuments(err) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get expense: %w", err)
	}
	return fromExpenseModel(&m)
}

// UpdateExpense replaces the document only while its version is unchanged.
func (s *Store) UpdateExpense(ctx context.Context, e *models.Expense) error {
	now := time.Now().UTC()
	m, err := toExpenseModel(e)
	if err != nil {
		return err
	}
	m.Version = e.Version + 1
	m.UpdatedAt = now

	res, err := s.db.Collection(colExpenses).ReplaceOne(ctx, bson.M{"_id": e.ID, "version": e.Version}, m)
	if err != nil {
		return fmt.Errorf("failed to update expense: %w", err)
	}
	if res.MatchedCount == 0 {
		return s.missingOrConflict(ctx, colExpenses, e.ID)
	}

	e.Version++
	e.UpdatedAt = now
	return nil
}

func (s *Store) DeleteExpense(ctx context.Context, expenseID string) error {
	res, err := s.db.Collection(colExpenses).DeleteOne(ctx, bson.M{"_id": expenseID})
	if err != nil {
		return fmt.Errorf("failed to delete expense: %w", err)
	}
	if res.DeletedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListExpenses(ctx context.Context, groupID string) ([]*models.Expense, error) {
	filter := bson.M{}
	if groupID != "" {
		filter["group_id"] = groupID
	}
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: -1}, {Key: "_id", Value: -1}})

	var docs []expenseModel
	if err := s.findAll(ctx, colExpenses, filter, opts, &docs); err != nil {
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}

	expenses := make([]*models.Expense, 0, len(docs))
	for i := range docs {
		e, err := fromExpenseModel(&docs[i])
		if err != nil {
			return nil, err
		}
		expenses = append(expenses, e)
	}
	return expenses, nil
}

// ==================== Groups ====================

func (s *Store) CreateGroup(ctx context.Context, g *models.Group) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}

	m, err := toGroupModel(g)
	if err != nil {
		return err
	}
	_, err = s.db.Collection(colGroups).InsertOne(ctx, m)
	if mongo.IsDuplicateKeyError(err) {
		return storage.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert group: %w", err)
	}
	return nil
}

func (s *Store) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	var m groupModel
	err := s.db.Collection(colGroups).FindOne(ctx, bson.M{"_id": groupID}).Decode(&m)
	if isNoDocuments(err) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return fromGroupModel(&m)
}

func (s *Store) ListGroups(ctx context.Context, groupIDs ...string) ([]*models.Group, error) {
	filter := bson.M{}
	if len(groupIDs) > 0 {
		filter["_id"] = bson.M{"$in": groupIDs}
	}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})

	var docs []groupModel
	if err := s.findAll(ctx, colGroups, filter, opts, &docs); err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}

	groups := make([]*models.Group, 0, len(docs))
	for i := range docs {
		g, err := fromGroupModel(&docs[i])
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, nil
}

func (s *Store) UpdateGroup(ctx context.Context, g *models.Group) error {
	res, err := s.db.Collection(colGroups).UpdateOne(ctx,
		bson.M{"_id": g.ID},
		bson.M{"$set": bson.M{"name": g.Name, "description": g.Description, "category": g.Category}},
	)
	if err != nil {
		return fmt.Errorf("failed to update group: %w", err)
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// AdjustGroupTotal applies $inc on the Decimal128 total and returns the updated value.
func (s *Store) AdjustGroupTotal(ctx context.Context, groupID string, delta decimal.Decimal) (decimal.Decimal, error) {
	inc, err := toDecimal128(delta)
	if err != nil {
		return decimal.Zero, err
	}

	var m groupModel
	err = s.db.Collection(colGroups).FindOneAndUpdate(ctx,
		bson.M{"_id": groupID},
		bson.M{"$inc": bson.M{"total_expenses": inc}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if isNoDocuments(err) {
		return decimal.Zero, storage.ErrNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to adjust group total: %w", err)
	}
	return fromDecimal128(m.TotalExpenses)
}

// ==================== Settlements ====================

func (s *Store) CreateSettlement(ctx context.Context, st *models.Settlement) error {
	now := time.Now().UTC()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	if st.Date.IsZero() {
		st.Date = now
	}
	st.UpdatedAt = now

	m, err := toSettlementModel(st)
	if err != nil {
		return err
	}
	m.Version = 1
	_, err = s.db.Collection(colSettlements).InsertOne(ctx, m)
	if mongo.IsDuplicateKeyError(err) {
		return storage.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert settlement: %w", err)
	}
	st.Version = 1
	return nil
}

func (s *Store) GetSettlement(ctx context.Context, settlementID string) (*models.Settlement, error) {
	return s.findSettlement(ctx, bson.M{"_id": settlementID})
}

func (s *Store) FindPendingSettlement(ctx context.Context, key models.SettlementKey) (*models.Settlement, error) {
	return s.findSettlement(ctx, bson.M{
		"group_id": key.GroupID,
		"from":     key.From,
		"to":       key.To,
		"status":   string(models.StatusPending),
	})
}

func (s *Store) findSettlement(ctx context.Context, filter bson.M) (*models.Settlement, error) {
	var m settlementModel
	err := s.db.Collection(colSettlements).FindOne(ctx, filter).Decode(&m)
	if isNoDocuments(err) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settlement: %w", err)
	}
	return fromSettlementModel(&m)
}

// UpdateSettlement replaces the document only while its version is unchanged.
func (s *Store) UpdateSettlement(ctx context.Context, st *models.Settlement) error {
	now := time.Now().UTC()
	m, err := toSettlementModel(st)
	if err != nil {
		return err
	}
	m.Version = st.Version + 1
	m.UpdatedAt = now

	res, err := s.db.Collection(colSettlements).ReplaceOne(ctx, bson.M{"_id": st.ID, "version": st.Version}, m)
	if mongo.IsDuplicateKeyError(err) {
		return storage.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to update settlement: %w", err)
	}
	if res.MatchedCount == 0 {
		return s.missingOrConflict(ctx, colSettlements, st.ID)
	}

	st.Version++
	st.UpdatedAt = now
	return nil
}

func (s *Store) DeleteSettlement(ctx context.Context, settlementID string, version int64) error {
	res, err := s.db.Collection(colSettlements).DeleteOne(ctx, bson.M{"_id": settlementID, "version": version})
	if err != nil {
		return fmt.Errorf("failed to delete settlement: %w", err)
	}
	if res.DeletedCount == 0 {
		return s.missingOrConflict(ctx, colSettlements, settlementID)
	}
	return nil
}

func (s *Store) missingOrConflict(ctx context.Context, col, id string) error {
	n, err := s.db.Collection(col).CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to check %s document existence: %w", col, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return storage.ErrConflict
}

func (s *Store) ListSettlements(ctx context.Context, filter storage.SettlementFilter) ([]*models.Settlement, error) {
	q := bson.M{}
	if filter.GroupID != "" {
		q["group_id"] = filter.GroupID
	}
	if filter.UserID != "" {
		q["$or"] = bson.A{bson.M{"from": filter.UserID}, bson.M{"to": filter.UserID}}
	}
	if filter.Status != "" {
		q["status"] = string(filter.Status)
	}
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: -1}, {Key: "_id", Value: -1}})

	var docs []settlementModel
	if err := s.findAll(ctx, colSettlements, q, opts, &docs); err != nil {
		return nil, fmt.Errorf("failed to list settlements: %w", err)
	}

	settlements := make([]*models.Settlement, 0, len(docs))
	for i := range docs {
		st, err := fromSettlementModel(&docs[i])
		if err != nil {
			return nil, err
		}
		settlements = append(settlements, st)
	}
	return settlements, nil
}

// ==================== Journal ====================

func (s *Store) AppendJournalLine(ctx context.Context, l *models.JournalLine) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}

	m, err := toJournalModel(l)
	if err != nil {
		return err
	}
	_, err = s.db.Collection(colJournal).InsertOne(ctx, m)
	if mongo.IsDuplicateKeyError(err) {
		return storage.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert journal line: %w", err)
	}
	return nil
}

func (s *Store) GetJournalLine(ctx context.Context, lineID string) (*models.JournalLine, error) {
	var m journalModel
	err := s.db.Collection(colJournal).FindOne(ctx, bson.M{"_id": lineID}).Decode(&m)
	if isNoDocuments(err) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get journal line: %w", err)
	}
	return fromJournalModel(&m)
}

func (s *Store) DeleteJournalLine(ctx context.Context, lineID string) error {
	res, err := s.db.Collection(colJournal).DeleteOne(ctx, bson.M{"_id": lineID})
	if err != nil {
		return fmt.Errorf("failed to delete journal line: %w", err)
	}
	if res.DeletedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListJournalLines(ctx context.Context, filter storage.JournalFilter) ([]*models.JournalLine, error) {
	q := bson.M{}
	if filter.ExpenseID != "" {
		q["expense_id"] = filter.ExpenseID
	}
	if filter.GroupID != "" {
		q["group_id"] = filter.GroupID
	}
	if filter.SettlementID != "" {
		q["settlement_id"] = filter.SettlementID
	}
	if filter.UnsettledOnly {
		q["settled"] = false
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	var docs []journalModel
	if err := s.findAll(ctx, colJournal, q, opts, &docs); err != nil {
		return nil, fmt.Errorf("failed to list journal lines: %w", err)
	}

	lines := make([]*models.JournalLine, 0, len(docs))
	for i := range docs {
		l, err := fromJournalModel(&docs[i])
		if err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, nil
}

func (s *Store) SettleJournalLines(ctx context.Context, settlementID string) (int, error) {
	res, err := s.db.Collection(colJournal).UpdateMany(ctx,
		bson.M{"settlement_id": settlementID, "settled": false},
		bson.M{"$set": bson.M{"settled": true}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to settle journal lines: %w", err)
	}
	return int(res.ModifiedCount), nil
}

// ==================== Helpers ====================

func (s *Store) findAll(ctx context.Context, col string, filter any, opts *options.FindOptionsBuilder, out any) error {
	cursor, err := s.db.Collection(col).Find(ctx, filter, opts)
	if err != nil {
		return err
	}
	return cursor.All(ctx, out)
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colExpenses: {
			{Keys: bson.D{{Key: "group_id", Value: 1}, {Key: "date", Value: -1}}},
		},
		colSettlements: {
			{
				Keys: bson.D{{Key: "group_id", Value: 1}, {Key: "from", Value: 1}, {Key: "to", Value: 1}},
				Options: options.Index().
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"status": string(models.StatusPending)}),
			},
			{Keys: bson.D{{Key: "from", Value: 1}, {Key: "date", Value: -1}}},
			{Keys: bson.D{{Key: "to", Value: 1}, {Key: "date", Value: -1}}},
			{Keys: bson.D{{Key: "group_id", Value: 1}, {Key: "status", Value: 1}}},
		},
		colJournal: {
			{Keys: bson.D{{Key: "expense_id", Value: 1}}},
			{Keys: bson.D{{Key: "settlement_id", Value: 1}, {Key: "settled", Value: 1}}},
			{Keys: bson.D{{Key: "group_id", Value: 1}}},
		},
	}
}
