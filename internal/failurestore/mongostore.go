package failurestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/Guillhermm/zenus-os-sub000/internal/errkind"
	"github.com/Guillhermm/zenus-os-sub000/internal/telemetry"
)

const (
	defaultCollection = "failures"
	defaultTimeout    = 5 * time.Second
)

// MongoOptions configures a Mongo-backed Store (spec.md §6: failures.db,
// "indices on signature_hash, tool, last_seen").
//
// Grounded on features/memory/mongo/clients/mongo.Client's Options shape:
// a pre-constructed *mongo.Client, database/collection names with
// documented defaults, and a per-call timeout.
type MongoOptions struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
	Logger     telemetry.Logger
}

type mongoStore struct {
	coll    *mongodriver.Collection
	timeout time.Duration
	logger  telemetry.Logger
}

// NewMongoStore wires a Store backed by the failures.db Mongo collection,
// ensuring the documented indices exist before returning.
func NewMongoStore(ctx context.Context, opts MongoOptions) (Store, error) {
	if opts.Client == nil {
		return nil, errors.New("failurestore: mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("failurestore: database name is required")
	}
	collection := opts.Collection
	if collection == "" {
		collection = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}

	coll := opts.Client.Database(opts.Database).Collection(collection)
	ictx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := ensureIndexes(ictx, coll); err != nil {
		return nil, fmt.Errorf("failurestore: ensure indexes: %w", err)
	}
	return &mongoStore{coll: coll, timeout: timeout, logger: logger}, nil
}

func ensureIndexes(ctx context.Context, coll *mongodriver.Collection) error {
	models := []mongodriver.IndexModel{
		{Keys: bson.D{{Key: "signature_hash", Value: 1}, {Key: "input_digest", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "tool", Value: 1}, {Key: "input_digest", Value: 1}}},
		{Keys: bson.D{{Key: "last_seen", Value: -1}}},
	}
	_, err := coll.Indexes().CreateMany(ctx, models)
	return err
}

func (s *mongoStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *mongoStore) RecordFailure(ctx context.Context, tool, userInput, errorMessage string, kind errkind.Kind) (Record, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	digest := InputDigest(tool, userInput)
	sig := SignatureHash(errorMessage)
	now := time.Now()

	filter := bson.M{"signature_hash": sig, "input_digest": digest}
	update := bson.M{
		"$setOnInsert": bson.M{
			"signature_hash": sig,
			"input_digest":   digest,
			"tool":           tool,
			"first_seen":     now,
		},
		"$set": bson.M{
			"last_seen":  now,
			"error_kind": string(kind),
		},
		"$inc": bson.M{
			"occurrences":          1,
			"occurrences_last_30d": 1,
		},
	}
	after := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var rec Record
	err := s.coll.FindOneAndUpdate(ctx, filter, update, after).Decode(&rec)
	if err != nil {
		return Record{}, fmt.Errorf("failurestore: record failure: %w", err)
	}
	s.logger.Debug(ctx, "failure recorded", "tool", tool, "signature_hash", sig, "error_kind", string(kind))
	return rec, nil
}

func (s *mongoStore) RecordRemedyAttempt(ctx context.Context, tool, userInput string, success bool) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	digest := InputDigest(tool, userInput)
	incr := bson.M{"remedy_attempt_count": 1}
	if success {
		incr["remedy_success_count"] = 1
	}
	opts := options.FindOneAndUpdate().SetSort(bson.D{{Key: "last_seen", Value: -1}})
	var rec Record
	err := s.coll.FindOneAndUpdate(ctx, bson.M{"input_digest": digest}, bson.M{"$inc": incr}, opts).Decode(&rec)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return nil
	}
	return err
}

func (s *mongoStore) Similar(ctx context.Context, tool, userInput string) ([]Record, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	digest := InputDigest(tool, userInput)
	cur, err := s.coll.Find(ctx, bson.M{"tool": tool, "input_digest": digest},
		options.Find().SetSort(bson.D{{Key: "occurrences", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failurestore: similar: %w", err)
	}
	defer cur.Close(ctx)

	var out []Record
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failurestore: similar: decode: %w", err)
	}
	return out, nil
}

func (s *mongoStore) SuccessProbability(ctx context.Context, tool, userInput string) (float64, error) {
	recs, err := s.Similar(ctx, tool, userInput)
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0.95, nil
	}
	return successProbability(recs, time.Now()), nil
}

func (s *mongoStore) Close(ctx context.Context) error {
	return s.coll.Database().Client().Disconnect(ctx)
}
