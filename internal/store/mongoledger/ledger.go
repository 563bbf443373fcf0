package mongoledger

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"folio/internal/models"
	"folio/internal/store"
)

// Collection name constants.
const (
	colJobs   = "jobs"
	colPoints = "points"
)

var (
	_ store.Ledger       = (*Store)(nil)
	_ store.PointsLedger = (*Store)(nil)
)

// Store is the durable job ledger and points ledger on MongoDB. It is the
// system of record once a Redis status entry has expired, and the audit
// trail for long-running multi-day jobs.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// New connects to MongoDB and verifies connectivity.
func New(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongoledger: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongoledger: ping: %w", err)
	}
	return &Store{client: client, db: client.Database(database)}, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping checks connectivity, for the doctor command.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) jobs() *mongo.Collection {
	return s.db.Collection(colJobs)
}

// InsertJob persists a newly accepted job.
func (s *Store) InsertJob(ctx context.Context, job *models.Job) error {
	_, err := s.jobs().InsertOne(ctx, job)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("mongoledger: insert job: %w", err)
	}
	return nil
}

var terminalStatuses = []string{
	models.JobStatusCompleted,
	models.JobStatusFailed,
	models.JobStatusCancelled,
}

// FinalizeJob replaces the stored record with the terminal snapshot. The
// filter excludes already-terminal records so a terminal job can never
// transition again, regardless of caller bugs or redeliveries.
func (s *Store) FinalizeJob(ctx context.Context, job *models.Job) error {
	filter := bson.M{
		"_id":    job.JobID,
		"status": bson.M{"$nin": terminalStatuses},
	}
	res, err := s.jobs().ReplaceOne(ctx, filter, job)
	if err != nil {
		return fmt.Errorf("mongoledger: finalize job %s: %w", job.JobID, err)
	}
	if res.MatchedCount == 0 {
		// Either missing or already terminal.
		count, cerr := s.jobs().CountDocuments(ctx, bson.M{"_id": job.JobID})
		if cerr == nil && count > 0 {
			return store.ErrConflict
		}
		return store.ErrNotFound
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	err := s.jobs().FindOne(ctx, bson.M{"_id": jobID}).Decode(&job)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("mongoledger: get job %s: %w", jobID, err)
	}
	return &job, nil
}

// ListUserJobs returns the user's jobs newest-first.
func (s *Store) ListUserJobs(ctx context.Context, userID string, limit, skip int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(skip))
	cur, err := s.jobs().Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongoledger: list jobs for %s: %w", userID, err)
	}
	defer cur.Close(ctx)

	var jobs []*models.Job
	if err := cur.All(ctx, &jobs); err != nil {
		return nil, fmt.Errorf("mongoledger: decode jobs for %s: %w", userID, err)
	}
	return jobs, nil
}

// EnsureIndexes creates the indexes the ledger queries rely on. Safe to
// call on every startup.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.jobs().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("mongoledger: ensure indexes: %w", err)
	}
	return nil
}
