package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/screa/vanity-miner/pkg/types"
)

const (
	connectTimeout = 10 * time.Second
	insertTimeout  = 5 * time.Second
)

// Mongo stores records in a MongoDB collection with a unique address index
type Mongo struct {
	client *mongo.Client
	coll   *mongo.Collection
	meta   Meta
}

// ConnectMongo connects, pings the primary and ensures the address index
func ConnectMongo(ctx context.Context, uri, dbName, collName string, meta Meta) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %w", types.ErrStorageUnavailable, err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("%w: ping: %w", types.ErrStorageUnavailable, err)
	}

	coll := client.Database(dbName).Collection(collName)
	index := mongo.IndexModel{
		Keys:    bson.D{{Key: "address", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := coll.Indexes().CreateOne(ctx, index); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("%w: create address index: %w", types.ErrStorageUnavailable, err)
	}

	return &Mongo{client: client, coll: coll, meta: meta}, nil
}

func (m *Mongo) Persist(ctx context.Context, kp types.Keypair) error {
	ctx, cancel := context.WithTimeout(ctx, insertTimeout)
	defer cancel()
	_, err := m.coll.InsertOne(ctx, newRecord(kp, m.meta, time.Now()))
	return classifyMongoError(err)
}

// Close disconnects the client
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func classifyMongoError(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %w", types.ErrDuplicateKey, err)
	}
	return fmt.Errorf("%w: %w", types.ErrStorageUnavailable, err)
}
