package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	defaultActionsCollection = "actions"
	defaultTxnCollection     = "transactions"
	defaultTimeout           = 5 * time.Second
)

// MongoOptions configures a Mongo-backed Repository (spec.md §6: actions.db).
//
// Grounded on features/memory/mongo/clients/mongo.Client's Options shape.
type MongoOptions struct {
	Client        *mongodriver.Client
	Database      string
	Collection    string
	TxnCollection string
	Timeout       time.Duration
}

type mongoRepository struct {
	actions *mongodriver.Collection
	txns    *mongodriver.Collection
	timeout time.Duration

	// seq is a process-local monotonic counter (spec.md §3: ActionRecord.id
	// "monotonically increasing within process"); Mongo's _id is a separate
	// concern (document identity), not the spec's sequence field.
	seq atomic.Int64
}

// NewMongoRepository wires a Repository backed by the actions.db collection,
// ensuring indices on txn_id/id exist before returning.
func NewMongoRepository(ctx context.Context, opts MongoOptions) (Repository, error) {
	if opts.Client == nil {
		return nil, errors.New("ledger: mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("ledger: database name is required")
	}
	coll := opts.Collection
	if coll == "" {
		coll = defaultActionsCollection
	}
	txnColl := opts.TxnCollection
	if txnColl == "" {
		txnColl = defaultTxnCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	db := opts.Client.Database(opts.Database)
	actions := db.Collection(coll)
	txns := db.Collection(txnColl)

	ictx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	models := []mongodriver.IndexModel{
		{Keys: bson.D{{Key: "txn_id", Value: 1}, {Key: "id", Value: -1}}},
		{Keys: bson.D{{Key: "id", Value: -1}}, Options: options.Index().SetUnique(true)},
	}
	if _, err := actions.Indexes().CreateMany(ictx, models); err != nil {
		return nil, fmt.Errorf("ledger: ensure indexes: %w", err)
	}

	r := &mongoRepository{actions: actions, txns: txns, timeout: timeout}

	// Seed the monotonic counter from the highest persisted id so restarts
	// don't reuse ids.
	var last ActionRecord
	err := actions.FindOne(ictx, bson.M{}, options.FindOne().SetSort(bson.D{{Key: "id", Value: -1}})).Decode(&last)
	if err != nil && !errors.Is(err, mongodriver.ErrNoDocuments) {
		return nil, fmt.Errorf("ledger: seed sequence: %w", err)
	}
	r.seq.Store(last.ID)

	return r, nil
}

func (r *mongoRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

func (r *mongoRepository) NextID(ctx context.Context) (int64, error) {
	return r.seq.Add(1), nil
}

func (r *mongoRepository) Append(ctx context.Context, rec ActionRecord) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	_, err := r.actions.InsertOne(ctx, rec)
	return err
}

func (r *mongoRepository) MarkRolledBack(ctx context.Context, id int64) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	_, err := r.actions.UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": bson.M{"rolled_back": true}})
	return err
}

func (r *mongoRepository) LastReversible(ctx context.Context, txnID string, n int) ([]ActionRecord, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"reversible": true, "rolled_back": false}
	if txnID != "" {
		filter["txn_id"] = txnID
	}
	findOpts := options.Find().SetSort(bson.D{{Key: "id", Value: -1}})
	if n > 0 {
		findOpts.SetLimit(int64(n))
	}
	cur, err := r.actions.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("ledger: last reversible: %w", err)
	}
	defer cur.Close(ctx)

	var out []ActionRecord
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("ledger: last reversible: decode: %w", err)
	}
	return out, nil
}

func (r *mongoRepository) Records(ctx context.Context, txnID string) ([]ActionRecord, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	filter := bson.M{}
	if txnID != "" {
		filter["txn_id"] = txnID
	}
	findOpts := options.Find().SetSort(bson.D{{Key: "id", Value: 1}})
	cur, err := r.actions.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("ledger: records: %w", err)
	}
	defer cur.Close(ctx)

	var out []ActionRecord
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("ledger: records: decode: %w", err)
	}
	return out, nil
}

func (r *mongoRepository) UpsertTransaction(ctx context.Context, txn Transaction) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	_, err := r.txns.UpdateOne(ctx, bson.M{"id": txn.ID}, bson.M{"$set": txn}, options.UpdateOne().SetUpsert(true))
	return err
}

func (r *mongoRepository) Close(ctx context.Context) error {
	return r.actions.Database().Client().Disconnect(ctx)
}
