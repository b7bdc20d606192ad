// Package mongodb implements the storage interfaces using MongoDB.
package mongodb

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/openas4/msh/internal/storage"
)

// Store implements storage.Repository and storage.BodyStore using MongoDB.
// Message bodies go to GridFS, metadata documents stay small.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	gridfs *gridfs.Bucket

	outMessages *mongo.Collection
	inMessages  *mongo.Collection
	retries     *mongo.Collection
	exceptions  *mongo.Collection
}

// Config holds MongoDB connection settings.
type Config struct {
	URI            string `yaml:"uri"`
	Database       string `yaml:"database"`
	GridFSBucket   string `yaml:"gridfs_bucket"`
	ChunkSizeBytes int32  `yaml:"chunk_size_bytes"`
}

// NewStore connects to MongoDB and prepares collections and indexes.
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}

	db := client.Database(cfg.Database)

	bucketName := cfg.GridFSBucket
	if bucketName == "" {
		bucketName = "message_bodies"
	}
	chunkSize := cfg.ChunkSizeBytes
	if chunkSize == 0 {
		chunkSize = 261120 // 255KB
	}
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().
		SetName(bucketName).
		SetChunkSizeBytes(chunkSize))
	if err != nil {
		return nil, fmt.Errorf("creating GridFS bucket: %w", err)
	}

	s := &Store{
		client:      client,
		db:          db,
		gridfs:      bucket,
		outMessages: db.Collection("out_messages"),
		inMessages:  db.Collection("in_messages"),
		retries:     db.Collection("retry_records"),
		exceptions:  db.Collection("exceptions"),
	}

	if err := s.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("creating indexes: %w", err)
	}

	return s, nil
}

func (s *Store) createIndexes(ctx context.Context) error {
	_, err := s.outMessages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		// Serves the pull claim: equality on mpc and operation, range on
		// insertion order.
		{Keys: bson.D{{Key: "mpc", Value: 1}, {Key: "operation", Value: 1}, {Key: "inserted_at", Value: 1}}},
		{Keys: bson.D{{Key: "operation", Value: 1}}},
		{Keys: bson.D{{Key: "ref_to_message_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("creating out message indexes: %w", err)
	}

	_, err = s.inMessages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "operation", Value: 1}}},
		{Keys: bson.D{{Key: "ref_to_message_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("creating in message indexes: %w", err)
	}

	_, err = s.retries.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "next_retry_time", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("creating retry indexes: %w", err)
	}

	_, err = s.exceptions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "direction", Value: 1}, {Key: "operation", Value: 1}, {Key: "inserted_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("creating exception indexes: %w", err)
	}

	return nil
}

// Close closes the MongoDB connection.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Out messages

func (s *Store) InsertOutMessage(ctx context.Context, m *storage.OutMessage) error {
	now := time.Now().UTC()
	if m.InsertedAt.IsZero() {
		m.InsertedAt = now
	}
	m.ModifiedAt = now

	_, err := s.outMessages.InsertOne(ctx, m)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s", storage.ErrDuplicateMessage, m.EbmsMessageID)
	}
	return err
}

func (s *Store) GetOutMessage(ctx context.Context, ebmsMessageID string) (*storage.OutMessage, error) {
	var m storage.OutMessage
	err := s.outMessages.FindOne(ctx, bson.M{"_id": ebmsMessageID}).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("%w: out message %s", storage.ErrNotFound, ebmsMessageID)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) UpdateOutMessageOperation(ctx context.Context, ebmsMessageID string, op storage.Operation) error {
	res, err := s.outMessages.UpdateOne(ctx, bson.M{"_id": ebmsMessageID}, bson.M{
		"$set": bson.M{"operation": op, "modified_at": time.Now().UTC()},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: out message %s", storage.ErrNotFound, ebmsMessageID)
	}
	return nil
}

// ClaimOutMessage uses a single FindOneAndUpdate so that concurrent
// claimants can never see the same message in ToBeSent.
func (s *Store) ClaimOutMessage(ctx context.Context, mpc string) (*storage.OutMessage, error) {
	filter := bson.M{
		"mpc":       mpc,
		"operation": storage.OperationToBeSent,
	}
	update := bson.M{
		"$set": bson.M{
			"operation":   storage.OperationSending,
			"modified_at": time.Now().UTC(),
		},
	}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "inserted_at", Value: 1}}).
		SetReturnDocument(options.After)

	var m storage.OutMessage
	err := s.outMessages.FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return nil, storage.ErrNoMessageAvailable
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// In messages

func (s *Store) InsertInMessage(ctx context.Context, m *storage.InMessage) error {
	now := time.Now().UTC()
	if m.InsertedAt.IsZero() {
		m.InsertedAt = now
	}
	m.ModifiedAt = now

	_, err := s.inMessages.InsertOne(ctx, m)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s", storage.ErrDuplicateMessage, m.EbmsMessageID)
	}
	return err
}

func (s *Store) GetInMessage(ctx context.Context, ebmsMessageID string) (*storage.InMessage, error) {
	var m storage.InMessage
	err := s.inMessages.FindOne(ctx, bson.M{"_id": ebmsMessageID}).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("%w: in message %s", storage.ErrNotFound, ebmsMessageID)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) UpdateInMessageOperation(ctx context.Context, ebmsMessageID string, op storage.Operation) error {
	res, err := s.inMessages.UpdateOne(ctx, bson.M{"_id": ebmsMessageID}, bson.M{
		"$set": bson.M{"operation": op, "modified_at": time.Now().UTC()},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: in message %s", storage.ErrNotFound, ebmsMessageID)
	}
	return nil
}

func (s *Store) IsDuplicate(ctx context.Context, ebmsMessageID string) (bool, error) {
	count, err := s.inMessages.CountDocuments(ctx, bson.M{"_id": ebmsMessageID}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Retry records

func (s *Store) InsertRetryRecord(ctx context.Context, r *storage.RetryRecord) error {
	if r.InsertedAt.IsZero() {
		r.InsertedAt = time.Now().UTC()
	}
	_, err := s.retries.InsertOne(ctx, r)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s", storage.ErrDuplicateMessage, r.EbmsMessageID)
	}
	return err
}

func (s *Store) GetRetryRecord(ctx context.Context, ebmsMessageID string) (*storage.RetryRecord, error) {
	var r storage.RetryRecord
	err := s.retries.FindOne(ctx, bson.M{"_id": ebmsMessageID}).Decode(&r)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("%w: retry record %s", storage.ErrNotFound, ebmsMessageID)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) UpdateRetryRecord(ctx context.Context, r *storage.RetryRecord) error {
	res, err := s.retries.ReplaceOne(ctx, bson.M{"_id": r.EbmsMessageID}, r)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: retry record %s", storage.ErrNotFound, r.EbmsMessageID)
	}
	return nil
}

func (s *Store) DueRetries(ctx context.Context, now time.Time, limit int) ([]*storage.RetryRecord, error) {
	query := bson.M{
		"status":          storage.RetryStatusPending,
		"next_retry_time": bson.M{"$lte": now},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "next_retry_time", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := s.retries.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []*storage.RetryRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Exceptions

func (s *Store) InsertException(ctx context.Context, e *storage.Exception) error {
	if e.ID == "" {
		e.ID = primitive.NewObjectID().Hex()
	}
	if e.InsertedAt.IsZero() {
		e.InsertedAt = time.Now().UTC()
	}
	_, err := s.exceptions.InsertOne(ctx, e)
	return err
}

func (s *Store) ExceptionsToNotify(ctx context.Context, direction storage.ExceptionDirection, limit int) ([]*storage.Exception, error) {
	query := bson.M{
		"direction": direction,
		"operation": storage.OperationToBeNotified,
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "inserted_at", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := s.exceptions.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var exceptions []*storage.Exception
	if err := cursor.All(ctx, &exceptions); err != nil {
		return nil, err
	}
	return exceptions, nil
}

func (s *Store) UpdateExceptionOperation(ctx context.Context, id string, op storage.Operation) error {
	res, err := s.exceptions.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"operation": op},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: exception %s", storage.ErrNotFound, id)
	}
	return nil
}

// BodyStore implementation using GridFS

func (s *Store) SaveBody(ctx context.Context, name, contentType string, body io.Reader) (string, error) {
	uploadOpts := options.GridFSUpload().SetMetadata(bson.M{
		"content_type": contentType,
	})

	uploadStream, err := s.gridfs.OpenUploadStream(name, uploadOpts)
	if err != nil {
		return "", fmt.Errorf("opening upload stream: %w", err)
	}
	defer uploadStream.Close()

	if _, err := io.Copy(uploadStream, body); err != nil {
		return "", fmt.Errorf("writing body: %w", err)
	}

	return uploadStream.FileID.(primitive.ObjectID).Hex(), nil
}

func (s *Store) LoadBody(ctx context.Context, bodyID string) ([]byte, string, error) {
	objID, err := primitive.ObjectIDFromHex(bodyID)
	if err != nil {
		return nil, "", fmt.Errorf("invalid body id: %w", err)
	}

	downloadStream, err := s.gridfs.OpenDownloadStream(objID)
	if err != nil {
		if err == gridfs.ErrFileNotFound {
			return nil, "", fmt.Errorf("%w: body %s", storage.ErrNotFound, bodyID)
		}
		return nil, "", fmt.Errorf("opening download stream: %w", err)
	}
	defer downloadStream.Close()

	data, err := io.ReadAll(downloadStream)
	if err != nil {
		return nil, "", fmt.Errorf("reading body: %w", err)
	}

	contentType := ""
	if md := downloadStream.GetFile().Metadata; md != nil {
		contentType, _ = md.Lookup("content_type").StringValueOK()
	}
	return data, contentType, nil
}

func (s *Store) DeleteBody(ctx context.Context, bodyID string) error {
	objID, err := primitive.ObjectIDFromHex(bodyID)
	if err != nil {
		return fmt.Errorf("invalid body id: %w", err)
	}
	return s.gridfs.Delete(objID)
}
