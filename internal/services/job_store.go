package services

import (
	"context"
	"fmt"

	"github.com/deskops/snowsync/internal/logging"
	"github.com/deskops/snowsync/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// JobStore is the durable persistence capability for scheduler jobs
type JobStore interface {
	Save(ctx context.Context, job *models.SyncJob) error
	Delete(ctx context.Context, id string) error
	LoadAll(ctx context.Context) ([]*models.SyncJob, error)
}

// MongoJobStore persists one document per job, keyed by job id
type MongoJobStore struct {
	db         *mongo.Database
	collection string
	logger     *logging.SafeLogger
}

// NewMongoJobStore creates a job store over the given collection
func NewMongoJobStore(db *mongo.Database, collection string, logger *logging.SafeLogger) *MongoJobStore {
	return &MongoJobStore{db: db, collection: collection, logger: logger}
}

// Save writes the full job document, creating it if absent
func (s *MongoJobStore) Save(ctx context.Context, job *models.SyncJob) error {
	opts := options.Replace().SetUpsert(true)
	_, err := s.db.Collection(s.collection).ReplaceOne(ctx, bson.M{"_id": job.ID}, job, opts)
	if err != nil {
		return fmt.Errorf("failed to persist sync job %s: %w", job.Name, err)
	}
	return nil
}

// Delete removes a job's persisted state
func (s *MongoJobStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.Collection(s.collection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete sync job %s: %w", id, err)
	}
	return nil
}

// LoadAll returns every persisted job
func (s *MongoJobStore) LoadAll(ctx context.Context) ([]*models.SyncJob, error) {
	cursor, err := s.db.Collection(s.collection).Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to load sync jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var jobs []*models.SyncJob
	if err := cursor.All(ctx, &jobs); err != nil {
		return nil, fmt.Errorf("failed to decode sync jobs: %w", err)
	}
	return jobs, nil
}
