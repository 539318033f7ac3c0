// Package mongo provides a MongoDB implementation of store.Backend and
// store.RowBackend.
package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/skedia/credvault/store"
)

// Compile-time checks
var (
	_ store.Backend    = (*Store)(nil)
	_ store.RowBackend = (*Store)(nil)
)

// Store implements store.Backend and store.RowBackend using MongoDB.
// Each record is one document keyed by its ID, with a unique index on the
// normalized email.
type Store struct {
	client     *mongo.Client
	db         *mongo.Database
	collection *mongo.Collection
	opts       *options
	connected  int32
	logger     *slog.Logger
}

// New creates a new MongoDB store with the provided client.
// Call Connect() to initialize the collection and indexes.
func New(client *mongo.Client, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		client: client,
		opts:   o,
		logger: o.logger,
	}
}

// Connect initializes the database, collection, and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if atomic.LoadInt32(&s.connected) == 1 {
		return store.ErrAlreadyConnected
	}

	if s.client == nil {
		return fmt.Errorf("mongo: client is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("%w: mongo ping: %v", store.ErrUnavailable, err)
	}

	s.db = s.client.Database(s.opts.database)
	s.collection = s.db.Collection(s.opts.collection)

	if err := s.ensureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}

	atomic.StoreInt32(&s.connected, 1)
	s.logger.Info("connected to MongoDB", "database", s.opts.database, "collection", s.opts.collection)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the MongoDB client.
func (s *Store) Close(ctx context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// ensureIndexes creates required indexes. Records arrive with their email
// already lowercased, so a plain unique index enforces the reconciliation
// key.
func (s *Store) ensureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{bson.E{Key: "email", Value: 1}},
			Options: mongoopts.Index().SetUnique(true),
		},
		{Keys: bson.D{bson.E{Key: "is_active", Value: 1}}},
		{Keys: bson.D{bson.E{Key: "updated_at", Value: -1}}},
	}

	_, err := s.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// checkConnected returns error if not connected.
func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// document is the stored shape of a record. The record ID doubles as the
// Mongo _id.
type document struct {
	ID           string    `bson:"_id"`
	Email        string    `bson:"email"`
	Password     string    `bson:"password"`
	ClientID     string    `bson:"client_id"`
	RefreshToken string    `bson:"refresh_token"`
	IsActive     bool      `bson:"is_active"`
	Source       string    `bson:"source"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func toDocument(rec *store.Record) document {
	return document{
		ID:           rec.ID,
		Email:        rec.Email,
		Password:     rec.Password,
		ClientID:     rec.ClientID,
		RefreshToken: rec.RefreshToken,
		IsActive:     rec.IsActive,
		Source:       rec.Source,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
}

func (d document) toRecord() store.Record {
	return store.Record{
		ID:           d.ID,
		Email:        d.Email,
		Password:     d.Password,
		ClientID:     d.ClientID,
		RefreshToken: d.RefreshToken,
		IsActive:     d.IsActive,
		Source:       d.Source,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

// LoadAll returns every record in the collection.
func (s *Store) LoadAll(ctx context.Context) (*store.LoadResult, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	cursor, err := s.collection.Find(ctx, bson.M{},
		mongoopts.Find().SetSort(bson.D{bson.E{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("%w: find records: %v", store.ErrUnavailable, err)
	}
	defer cursor.Close(ctx)

	var records []store.Record
	for cursor.Next(ctx) {
		var doc document
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: decode record: %v", store.ErrUnavailable, err)
		}
		records = append(records, doc.toRecord())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("%w: cursor: %v", store.ErrUnavailable, err)
	}

	return &store.LoadResult{Records: records, Origin: store.OriginData}, nil
}

// SaveAll replaces the entire record set.
func (s *Store) SaveAll(ctx context.Context, records []store.Record) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if _, err := s.collection.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("%w: clear collection: %v", store.ErrUnavailable, err)
	}
	if len(records) == 0 {
		return nil
	}

	docs := make([]any, 0, len(records))
	for i := range records {
		docs = append(docs, toDocument(&records[i]))
	}
	if _, err := s.collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("%w: insert records: %v", store.ErrUnavailable, err)
	}
	return nil
}

// InsertRecord inserts one record. A conflicting email maps to
// ErrDuplicateEntry.
func (s *Store) InsertRecord(ctx context.Context, rec store.Record) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if _, err := s.collection.InsertOne(ctx, toDocument(&rec)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: email %s", store.ErrDuplicateEntry, rec.Email)
		}
		return fmt.Errorf("%w: insert record: %v", store.ErrUnavailable, err)
	}
	return nil
}

// UpdateRecord updates all mutable fields of one record by ID.
func (s *Store) UpdateRecord(ctx context.Context, rec store.Record) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	update := bson.M{"$set": bson.M{
		"email":         rec.Email,
		"password":      rec.Password,
		"client_id":     rec.ClientID,
		"refresh_token": rec.RefreshToken,
		"is_active":     rec.IsActive,
		"source":        rec.Source,
		"updated_at":    rec.UpdatedAt,
	}}

	res, err := s.collection.UpdateOne(ctx, bson.M{"_id": rec.ID}, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: email %s", store.ErrDuplicateEntry, rec.Email)
		}
		return fmt.Errorf("%w: update record: %v", store.ErrUnavailable, err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SetActive flips the active flag of one record.
func (s *Store) SetActive(ctx context.Context, id string, active bool, updatedAt time.Time) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	update := bson.M{"$set": bson.M{"is_active": active, "updated_at": updatedAt}}
	res, err := s.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("%w: set active: %v", store.ErrUnavailable, err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteRecord removes one record by ID.
func (s *Store) DeleteRecord(ctx context.Context, id string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	res, err := s.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("%w: delete record: %v", store.ErrUnavailable, err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SaveBatch upserts a batch of records keyed by email.
func (s *Store) SaveBatch(ctx context.Context, records []store.Record) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	models := make([]mongo.WriteModel, 0, len(records))
	for i := range records {
		rec := &records[i]
		update := bson.M{
			"$set": bson.M{
				"password":      rec.Password,
				"client_id":     rec.ClientID,
				"refresh_token": rec.RefreshToken,
				"is_active":     rec.IsActive,
				"source":        rec.Source,
				"updated_at":    rec.UpdatedAt,
			},
			"$setOnInsert": bson.M{
				"_id":        rec.ID,
				"created_at": rec.CreatedAt,
			},
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"email": rec.Email}).
			SetUpdate(update).
			SetUpsert(true))
	}

	if _, err := s.collection.BulkWrite(ctx, models); err != nil {
		return fmt.Errorf("%w: bulk upsert: %v", store.ErrUnavailable, err)
	}

	s.logger.Debug("saved record batch", "records", len(records))
	return nil
}
