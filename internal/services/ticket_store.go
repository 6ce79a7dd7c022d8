package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/deskops/snowsync/internal/logging"
	"github.com/deskops/snowsync/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// UpsertOutcome classifies what a ticket upsert did
type UpsertOutcome int

const (
	UpsertCreated UpsertOutcome = iota
	UpsertUpdated
	UpsertConflict
)

func (o UpsertOutcome) String() string {
	switch o {
	case UpsertCreated:
		return "created"
	case UpsertUpdated:
		return "updated"
	case UpsertConflict:
		return "conflict"
	}
	return "unknown"
}

// TicketStore is the persistent ticket cache capability
type TicketStore interface {
	FindByID(ctx context.Context, table, sysID string) (*models.Ticket, error)
	Upsert(ctx context.Context, ticket *models.Ticket) (UpsertOutcome, error)
	Delete(ctx context.Context, table, sysID string) error
	CountByTable(ctx context.Context, table string) (int64, error)
}

// MongoTicketStore persists tickets in a single MongoDB collection keyed
// by (table, sys_id)
type MongoTicketStore struct {
	db         *mongo.Database
	collection string
	logger     *logging.SafeLogger
}

// NewMongoTicketStore creates a ticket store over the given collection
func NewMongoTicketStore(db *mongo.Database, collection string, logger *logging.SafeLogger) *MongoTicketStore {
	return &MongoTicketStore{db: db, collection: collection, logger: logger}
}

// FindByID looks up a cached ticket
func (s *MongoTicketStore) FindByID(ctx context.Context, table, sysID string) (*models.Ticket, error) {
	var ticket models.Ticket
	filter := bson.M{"table": table, "sys_id": sysID}
	err := s.db.Collection(s.collection).FindOne(ctx, filter).Decode(&ticket)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrTicketNotFound
		}
		return nil, fmt.Errorf("failed to read ticket from MongoDB: %w", err)
	}
	return &ticket, nil
}

// Upsert writes a ticket through the monotonic-timestamp gate. The
// update filter only matches a cached copy that is strictly older than
// the incoming record; when the copy is same-or-newer the update matches
// nothing, the upsert falls through to an insert, and the unique
// (table, sys_id) index rejects it with a duplicate key. That duplicate
// key IS the conflict signal, not an error.
func (s *MongoTicketStore) Upsert(ctx context.Context, ticket *models.Ticket) (UpsertOutcome, error) {
	filter := bson.M{
		"table":      ticket.Table,
		"sys_id":     ticket.SysID,
		"updated_at": bson.M{"$lt": ticket.UpdatedAt},
	}
	update := bson.M{"$set": ticket}
	opts := options.Update().SetUpsert(true)

	result, err := s.db.Collection(s.collection).UpdateOne(ctx, filter, update, opts)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			s.logger.Debug("ticket upsert skipped, cached copy is not older",
				zap.String("table", ticket.Table),
				zap.String("sys_id", ticket.SysID))
			return UpsertConflict, nil
		}
		return UpsertConflict, fmt.Errorf("failed to upsert ticket: %w", err)
	}

	if result.UpsertedCount > 0 {
		return UpsertCreated, nil
	}
	return UpsertUpdated, nil
}

// Delete removes a cached ticket
func (s *MongoTicketStore) Delete(ctx context.Context, table, sysID string) error {
	filter := bson.M{"table": table, "sys_id": sysID}
	_, err := s.db.Collection(s.collection).DeleteOne(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to delete ticket: %w", err)
	}
	return nil
}

// CountByTable counts cached tickets for one table
func (s *MongoTicketStore) CountByTable(ctx context.Context, table string) (int64, error) {
	count, err := s.db.Collection(s.collection).CountDocuments(ctx, bson.M{"table": table})
	if err != nil {
		return 0, fmt.Errorf("failed to count tickets: %w", err)
	}
	return count, nil
}
