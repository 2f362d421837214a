package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/smap/stt-worker/internal/job/id"
	"github.com/smap/stt-worker/internal/stterr"
)

// jobsCollection is the MongoDB collection holding job documents.
const jobsCollection = "stt_jobs"

// Compile-time check that MongoStore implements Store.
var _ Store = (*MongoStore)(nil)

// MongoStore is a MongoDB-backed implementation of Store. Per-job atomicity
// comes from single-document updates; no cross-job locking is used.
type MongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore creates a MongoStore on the given database and ensures the
// indexes the pending scan and redelivery lookups rely on.
func NewMongoStore(ctx context.Context, db *mongo.Database) (*MongoStore, error) {
	s := &MongoStore{coll: db.Collection(jobsCollection)}

	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "job_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create job indexes: %w", err)
	}
	return s, nil
}

// Insert persists a new job, assigning a fresh ID when none is set.
func (s *MongoStore) Insert(ctx context.Context, j *Job) (string, error) {
	if j.ID == "" {
		j.ID = id.Generate()
	}
	now := time.Now().UTC()
	j.Status = StatusPending
	j.CreatedAt = now
	j.UpdatedAt = now
	if j.Chunks == nil {
		j.Chunks = []Chunk{}
	}

	if _, err := s.coll.InsertOne(ctx, j); err != nil {
		return "", storeErr("insert job", err)
	}
	return j.ID, nil
}

// Get retrieves a job by its ID.
func (s *MongoStore) Get(ctx context.Context, jobID string) (*Job, error) {
	var j Job
	err := s.coll.FindOne(ctx, bson.M{"job_id": jobID}).Decode(&j)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, storeErr("get job", err)
	}
	return &j, nil
}

// Update applies a partial update to the job. The same patch applied twice
// produces the same document, which keeps redelivered messages harmless.
func (s *MongoStore) Update(ctx context.Context, jobID string, patch Patch) error {
	set := bson.M{"updated_at": time.Now().UTC()}
	if patch.Status != nil {
		set["status"] = *patch.Status
	}
	if patch.AudioDurationSec != nil {
		set["audio_duration_sec"] = *patch.AudioDurationSec
	}
	if patch.Chunks != nil {
		set["chunks"] = patch.Chunks
	}
	if patch.ChunksTotal != nil {
		set["chunks_total"] = *patch.ChunksTotal
	}
	if patch.ChunksCompleted != nil {
		set["chunks_completed"] = *patch.ChunksCompleted
	}
	if patch.TranscriptionText != nil {
		set["transcription_text"] = *patch.TranscriptionText
	}
	if patch.ResultPath != nil {
		set["result_path"] = *patch.ResultPath
	}
	if patch.ErrorMessage != nil {
		set["error_message"] = *patch.ErrorMessage
	}
	if patch.StartedAt != nil {
		set["started_at"] = patch.StartedAt.UTC()
	}
	if patch.CompletedAt != nil {
		set["completed_at"] = patch.CompletedAt.UTC()
	}

	res, err := s.coll.UpdateOne(ctx, bson.M{"job_id": jobID}, bson.M{"$set": set})
	if err != nil {
		return storeErr("update job", err)
	}
	if res.MatchedCount == 0 {
		return ErrJobNotFound
	}
	return nil
}

// SetStatus transitions the job status and records lifecycle timestamps.
// Timestamps use $min so a redelivered transition keeps the original
// value. The transition table is enforced in the update filter, so a
// forbidden move is refused in the same atomic operation.
func (s *MongoStore) SetStatus(ctx context.Context, jobID string, status Status, errMsg string) error {
	now := time.Now().UTC()
	set := bson.M{"status": status, "updated_at": now}
	if errMsg != "" {
		set["error_message"] = errMsg
	}

	update := bson.M{"$set": set}
	switch status {
	case StatusProcessing:
		update["$min"] = bson.M{"started_at": now}
	case StatusCompleted, StatusFailed:
		update["$min"] = bson.M{"completed_at": now}
	}

	filter := bson.M{"job_id": jobID, "status": bson.M{"$in": transitionSources(status)}}
	res, err := s.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return storeErr("set job status", err)
	}
	if res.MatchedCount == 0 {
		// Missing job and forbidden transition both miss the filter;
		// look the job up to report the right error.
		current, getErr := s.Get(ctx, jobID)
		if getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, status)
	}
	return nil
}

// IncrementRetry atomically increments the job's retry count.
func (s *MongoStore) IncrementRetry(ctx context.Context, jobID string) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"job_id": jobID},
		bson.M{
			"$inc": bson.M{"retry_count": 1},
			"$set": bson.M{"updated_at": time.Now().UTC()},
		},
	)
	if err != nil {
		return storeErr("increment retry", err)
	}
	if res.MatchedCount == 0 {
		return ErrJobNotFound
	}
	return nil
}

// ListPending returns up to limit PENDING jobs, oldest first.
func (s *MongoStore) ListPending(ctx context.Context, limit int) ([]*Job, error) {
	return s.List(ctx, StatusPending, limit)
}

// List returns up to limit jobs, optionally filtered by status, oldest first.
func (s *MongoStore) List(ctx context.Context, status Status, limit int) ([]*Job, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}

	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, storeErr("list jobs", err)
	}
	defer cur.Close(ctx)

	var jobs []*Job
	if err := cur.All(ctx, &jobs); err != nil {
		return nil, storeErr("decode jobs", err)
	}
	return jobs, nil
}

// storeErr tags a MongoDB transport failure as transient so the consumer
// requeues rather than dead-letters.
func storeErr(op string, err error) error {
	return stterr.Transientf(stterr.KindJobStoreUnavailable, "%s: %v", op, err)
}
