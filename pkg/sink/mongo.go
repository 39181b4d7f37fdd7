package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Sternrassler/qbo-backfill/pkg/config"
	"github.com/Sternrassler/qbo-backfill/pkg/logging"
	"github.com/Sternrassler/qbo-backfill/pkg/record"
)

// namespaceExists is the server code for creating an existing collection.
const namespaceExists = 48

// MongoSink upserts records as documents keyed by _id. Transactions need a
// replica set or sharded cluster.
type MongoSink struct {
	client     *mongo.Client
	database   string
	collection string
	emitter    logging.Emitter
}

// OpenMongo connects to uri and targets database.collection.
func OpenMongo(ctx context.Context, uri, database, collection string, emitter logging.Emitter) (*MongoSink, error) {
	if database == "" {
		return nil, &config.ConfigError{Field: "sink.mongo_database", Err: errors.New("must be set")}
	}
	if err := ValidateTable(collection); err != nil {
		return nil, &config.ConfigError{Field: "sink.table", Err: err}
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, &SinkError{Op: "open", Err: err}
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, &SinkError{Op: "connect", Err: err}
	}

	if emitter == nil {
		emitter = logging.Nop{}
	}
	return &MongoSink{
		client:     client,
		database:   database,
		collection: collection,
		emitter:    emitter,
	}, nil
}

func (s *MongoSink) coll() *mongo.Collection {
	return s.client.Database(s.database).Collection(s.collection)
}

// EnsureSchema creates the collection and its window index.
func (s *MongoSink) EnsureSchema(ctx context.Context) error {
	err := s.client.Database(s.database).CreateCollection(ctx, s.collection)
	var cmdErr mongo.CommandError
	if err != nil && !(errors.As(err, &cmdErr) && cmdErr.Code == namespaceExists) {
		return &SinkError{Op: "create collection", Err: err}
	}

	_, err = s.coll().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "extract_window_start_utc", Value: 1}},
	})
	if err != nil {
		return &SinkError{Op: "create index", Err: err}
	}

	logging.Emit(s.emitter, logging.LevelInfo, logging.PhaseInit, "sink collection ready", map[string]any{
		"driver": config.DriverMongo,
		"table":  s.database + "." + s.collection,
	})
	return nil
}

// Upsert implements Sink.
func (s *MongoSink) Upsert(ctx context.Context, records []record.ExtractedRecord) (Result, error) {
	if len(records) == 0 {
		return noOp(s.emitter, config.DriverMongo, s.collection), nil
	}

	started := time.Now()
	logging.Emit(s.emitter, logging.LevelInfo, logging.PhaseDataProcess, "writing batch", map[string]any{
		"driver": config.DriverMongo,
		"table":  s.collection,
		"rows":   len(records),
	})

	docs := make([]bson.D, len(records))
	for i, r := range records {
		doc, err := mongoDocument(r)
		if err != nil {
			return Result{}, rolledBack(s.emitter, config.DriverMongo, &SinkError{Op: "upsert", RecordID: r.ID, Err: err})
		}
		docs[i] = doc
	}

	session, err := s.client.StartSession()
	if err != nil {
		return Result{}, rolledBack(s.emitter, config.DriverMongo, &SinkError{Op: "begin", Err: err})
	}
	defer session.EndSession(ctx)

	var failedID string
	coll := s.coll()
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		for i, r := range records {
			_, err := coll.ReplaceOne(sc, bson.D{{Key: "_id", Value: r.ID}}, docs[i], options.Replace().SetUpsert(true))
			if err != nil {
				failedID = r.ID
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return Result{}, rolledBack(s.emitter, config.DriverMongo, &SinkError{Op: "upsert", RecordID: failedID, Err: err})
	}

	res := Result{
		Driver:   config.DriverMongo,
		Table:    s.collection,
		Rows:     len(records),
		Duration: time.Since(started),
	}
	committed(s.emitter, res)
	return res, nil
}

// Close implements Sink.
func (s *MongoSink) Close() error {
	return s.client.Disconnect(context.Background())
}

// mongoDocument maps a record onto the stored document. The payload is
// stored as a sub-document so it stays queryable.
func mongoDocument(r record.ExtractedRecord) (bson.D, error) {
	var payload bson.D
	if err := bson.UnmarshalExtJSON(r.Payload, false, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return bson.D{
		{Key: "_id", Value: r.ID},
		{Key: "payload", Value: payload},
		{Key: "ingested_at_utc", Value: r.IngestedAtUTC.UTC()},
		{Key: "extract_window_start_utc", Value: r.WindowStart.UTC()},
		{Key: "extract_window_end_utc", Value: r.WindowEnd.UTC()},
		{Key: "page_number", Value: r.PageNumber},
		{Key: "page_size", Value: r.PageSize},
		{Key: "request_payload", Value: r.RequestPayload},
	}, nil
}
