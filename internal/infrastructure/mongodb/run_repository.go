package mongodb

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/iyyanarr/spp/internal/domain"
	apperrors "github.com/iyyanarr/spp/pkg/errors"
	"github.com/iyyanarr/spp/pkg/logging"
)

const runHistoryCollection = "run_history"

// MetricsRecorder receives per-operation metrics
type MetricsRecorder interface {
	RecordMongoDBOperation(collection, operation string, success bool, duration time.Duration)
}

// RunRepository persists completed run outcomes in MongoDB. It implements
// domain.RunHistoryRepository.
type RunRepository struct {
	collection *mongo.Collection
	logger     *logging.Logger
	metrics    MetricsRecorder
}

// NewRunRepository creates a run history repository
func NewRunRepository(db *mongo.Database, logger *logging.Logger, metrics MetricsRecorder) *RunRepository {
	return &RunRepository{
		collection: db.Collection(runHistoryCollection),
		logger:     logger.WithComponent("run-repository"),
		metrics:    metrics,
	}
}

// EnsureIndexes creates the indexes the repository queries rely on
func (r *RunRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "run_id", Value: 1}},
			Options: options.Index().SetUnique(false),
		},
		{
			Keys: bson.D{{Key: "created_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "lot_number", Value: 1}},
		},
	})
	return err
}

// Save appends one run outcome record
func (r *RunRepository) Save(ctx context.Context, record *domain.RunRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	start := time.Now()
	_, err := r.collection.InsertOne(ctx, record)
	r.observe(ctx, "insert", start, err)

	if err != nil {
		return apperrors.ErrInternal("failed to save run history").Wrap(err)
	}
	return nil
}

// FindByRunID returns the most recent record for a run
func (r *RunRepository) FindByRunID(ctx context.Context, runID string) (*domain.RunRecord, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})

	start := time.Now()
	var record domain.RunRecord
	err := r.collection.FindOne(ctx, bson.M{"run_id": runID}, opts).Decode(&record)
	r.observe(ctx, "find_one", start, err)

	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.ErrNotFoundWithID("run history", runID)
		}
		return nil, apperrors.ErrInternal("failed to load run history").Wrap(err)
	}
	return &record, nil
}

// FindByLotNumber returns up to limit records for a lot number, newest first
func (r *RunRepository) FindByLotNumber(ctx context.Context, lotNumber string, limit int) ([]*domain.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	start := time.Now()
	cursor, err := r.collection.Find(ctx, bson.M{"lot_number": lotNumber}, opts)
	if err != nil {
		r.observe(ctx, "find", start, err)
		return nil, apperrors.ErrInternal("failed to load run history").Wrap(err)
	}
	defer cursor.Close(ctx)

	records := make([]*domain.RunRecord, 0, limit)
	err = cursor.All(ctx, &records)
	r.observe(ctx, "find", start, err)

	if err != nil {
		return nil, apperrors.ErrInternal("failed to decode run history").Wrap(err)
	}
	return records, nil
}

// FindRecent returns up to limit records, newest first
func (r *RunRepository) FindRecent(ctx context.Context, limit int) ([]*domain.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	start := time.Now()
	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		r.observe(ctx, "find", start, err)
		return nil, apperrors.ErrInternal("failed to load run history").Wrap(err)
	}
	defer cursor.Close(ctx)

	records := make([]*domain.RunRecord, 0, limit)
	err = cursor.All(ctx, &records)
	r.observe(ctx, "find", start, err)

	if err != nil {
		return nil, apperrors.ErrInternal("failed to decode run history").Wrap(err)
	}
	return records, nil
}

func (r *RunRepository) observe(ctx context.Context, operation string, start time.Time, err error) {
	duration := time.Since(start)
	success := err == nil || errors.Is(err, mongo.ErrNoDocuments)

	if r.metrics != nil {
		r.metrics.RecordMongoDBOperation(runHistoryCollection, operation, success, duration)
	}
	r.logger.DatabaseQuery(ctx, runHistoryCollection, operation, duration, success)
}
