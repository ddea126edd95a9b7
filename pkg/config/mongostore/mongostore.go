package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andrej220/torito/pkg/config/configstore"
	"github.com/andrej220/torito/pkg/torrc"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Ensure MongoStore implements the ConfigStore interface
var _ configstore.ConfigStore = (*MongoStore)(nil)

var ErrNotFound = errors.New("torrc document not found")

const (
	opTimeout        = 10 * time.Second
	backupTimeLayout = "20060102150405"
)

// document is the stored form of a torrc.Config.
type document struct {
	ID        string       `bson:"_id"`
	Config    torrc.Config `bson:"config"`
	UpdatedAt time.Time    `bson:"updatedAt"`
}

// MongoStore keeps a torrc.Config as a single document. Backups are copies in
// a sibling "<collection>_backups" collection.
type MongoStore struct {
	Client     *mongo.Client
	Collection *mongo.Collection
	Backups    *mongo.Collection
	ID         string // document id, e.g. "torrc"
	backupID   string
	now        func() time.Time
}

func New(uri, dbName, collName, id string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	//  ping to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(dbName)
	store := NewWithCollections(db.Collection(collName), db.Collection(collName+"_backups"), id, time.Now)
	store.Client = client
	return store, nil
}

// NewWithCollections builds a store on already opened collections.
func NewWithCollections(coll, backups *mongo.Collection, id string, now func() time.Time) *MongoStore {
	return &MongoStore{
		Collection: coll,
		Backups:    backups,
		ID:         id,
		backupID:   id + "_" + now().Format(backupTimeLayout),
		now:        now,
	}
}

func (m *MongoStore) BackupID() string { return m.backupID }

func (m *MongoStore) find(ctx context.Context) (*document, error) {
	var doc document
	err := m.Collection.FindOne(ctx, bson.M{"_id": m.ID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, m.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("MongoDB FindOne failed: %w", err)
	}
	return &doc, nil
}

func (m *MongoStore) Load() (*torrc.Config, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	doc, err := m.find(ctx)
	if err != nil {
		return nil, err
	}
	if err := torrc.Validate(&doc.Config); err != nil {
		return nil, err
	}
	return &doc.Config, nil
}

func (m *MongoStore) Save(cfg *torrc.Config) error {
	if err := torrc.Validate(cfg); err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	doc := document{ID: m.ID, Config: *cfg, UpdatedAt: m.now().UTC()}
	_, err := m.Collection.ReplaceOne(ctx, bson.M{"_id": m.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("Save: MongoDB ReplaceOne failed: %w", err)
	}
	return nil
}

// Backup copies the current document to BackupID in the backups collection.
func (m *MongoStore) Backup() error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	doc, err := m.find(ctx)
	if err != nil {
		return fmt.Errorf("Backup: %w", err)
	}
	doc.ID = m.backupID
	_, err = m.Backups.ReplaceOne(ctx, bson.M{"_id": m.backupID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("Backup: MongoDB ReplaceOne failed: %w", err)
	}
	return nil
}

// Watch follows a change stream on the torrc document. The deployment must
// be a replica set or sharded cluster.
func (m *MongoStore) Watch(ctx context.Context, onChange func()) error {
	if onChange == nil {
		return fmt.Errorf("onChange callback cannot be nil")
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "documentKey._id", Value: m.ID}}}},
	}
	stream, err := m.Collection.Watch(ctx, pipeline)
	if err != nil {
		return fmt.Errorf("failed to open change stream: %w", err)
	}

	go func() {
		defer stream.Close(context.Background())
		for stream.Next(ctx) {
			onChange()
		}
	}()
	return nil
}

func (m *MongoStore) Close() error {
	if m.Client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return m.Client.Disconnect(ctx)
}
