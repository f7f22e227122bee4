package mongodb

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"grievance_server/core/port/out"
	"grievance_server/pkg/metrics"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// =============================================================================
// Raw Email Archive Adapter
// =============================================================================

const (
	collectionRawEmails = "raw_emails"

	// Only compress messages larger than this.
	compressionThreshold = 1024
)

var _ out.RawEmailStore = (*RawEmailAdapter)(nil)

// RawEmailAdapter keeps original .eml bytes keyed by file name.
type RawEmailAdapter struct {
	collection *mongo.Collection
}

func NewRawEmailAdapter(db *mongo.Database) *RawEmailAdapter {
	return &RawEmailAdapter{collection: db.Collection(collectionRawEmails)}
}

// EnsureIndexes creates the unique file name index.
func (a *RawEmailAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "file_name", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "email_id", Value: 1}},
		},
	}
	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

type rawEmailDocument struct {
	FileName     string    `bson:"file_name"`
	EmailID      string    `bson:"email_id"`
	Data         []byte    `bson:"data"`
	IsCompressed bool      `bson:"is_compressed"`
	OriginalSize int64     `bson:"original_size"`
	StoredAt     time.Time `bson:"stored_at"`
}

// Save upserts the raw message under fileName.
func (a *RawEmailAdapter) Save(ctx context.Context, fileName, emailID string, raw []byte) error {
	doc, err := toDocument(fileName, emailID, raw)
	if err != nil {
		return err
	}

	_, err = a.collection.ReplaceOne(ctx,
		bson.M{"file_name": fileName},
		doc,
		options.Replace().SetUpsert(true),
	)
	metrics.StorageOps.WithLabelValues("mongodb", "save", metrics.Result(err)).Inc()
	if err != nil {
		return fmt.Errorf("failed to save raw email: %w", err)
	}
	return nil
}

// Load returns the archived bytes or out.ErrObjectNotFound.
func (a *RawEmailAdapter) Load(ctx context.Context, fileName string) ([]byte, error) {
	var doc rawEmailDocument
	err := a.collection.FindOne(ctx, bson.M{"file_name": fileName}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, out.ErrObjectNotFound
	}
	metrics.StorageOps.WithLabelValues("mongodb", "load", metrics.Result(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("failed to load raw email: %w", err)
	}
	return fromDocument(&doc)
}

func toDocument(fileName, emailID string, raw []byte) (*rawEmailDocument, error) {
	doc := &rawEmailDocument{
		FileName:     fileName,
		EmailID:      emailID,
		Data:         raw,
		OriginalSize: int64(len(raw)),
		StoredAt:     time.Now().UTC(),
	}
	if len(raw) <= compressionThreshold {
		return doc, nil
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return nil, fmt.Errorf("compress raw email: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("compress raw email: %w", err)
	}
	if buf.Len() < len(raw) {
		doc.Data = buf.Bytes()
		doc.IsCompressed = true
	}
	return doc, nil
}

func fromDocument(doc *rawEmailDocument) ([]byte, error) {
	if !doc.IsCompressed {
		return doc.Data, nil
	}
	gz, err := gzip.NewReader(bytes.NewReader(doc.Data))
	if err != nil {
		return nil, fmt.Errorf("decompress raw email: %w", err)
	}
	defer gz.Close()
	return io.ReadAll(gz)
}
