package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoDB wraps the MongoDB client and database
type MongoDB struct {
	client   *mongo.Client
	database *mongo.Database
	dbName   string
}

// Collection names
const (
	CollectionMatchEntries = "matchEntries"
	CollectionRooms        = "rooms"
	CollectionMessages     = "messages"
	CollectionPairHistory  = "pairHistory"
	CollectionUserStates   = "userStates"

	// Metrics and operations collections
	CollectionMetricsDaily = "metricsDaily"
	CollectionMetricsRooms = "metricsRooms"
	CollectionVisitors     = "visitors"
	CollectionConfig       = "config"
	CollectionWeatherAudit = "weatherAudit"
)

// NewMongoDB creates a new MongoDB connection with connection pooling
func NewMongoDB(uri, dbName string) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Configure client options with connection pooling
	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(50).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(30 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping to verify connection
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	if dbName == "" {
		dbName = "amayadori"
	}

	db := &MongoDB{
		client:   client,
		database: client.Database(dbName),
		dbName:   dbName,
	}

	log.Printf("✅ Connected to MongoDB database: %s", dbName)

	return db, nil
}

// Initialize creates indexes for all collections.
//
// Lifecycle expiry is intentionally NOT delegated to Mongo TTL indexes for
// entries and rooms: the sweeper must observe expiry to run its state
// transitions and stats fallback. TTL indexes only back the pure-delete
// collections (pairHistory, weatherAudit).
func (m *MongoDB) Initialize(ctx context.Context) error {
	log.Println("📦 Initializing MongoDB indexes...")

	// Match entries: candidate scan is (queueKey, status, _id asc); sweeper
	// scans by expiresAt; bulk cancel by (uid, status).
	if err := m.createIndexes(ctx, CollectionMatchEntries, []mongo.IndexModel{
		{Keys: bson.D{{Key: "queueKey", Value: 1}, {Key: "status", Value: 1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "uid", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "expiresAt", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("failed to create matchEntries indexes: %w", err)
	}

	// Rooms: one expiresAt cursor drives the whole room sweep (closing a room
	// shortens its expiry to the grace cutoff).
	if err := m.createIndexes(ctx, CollectionRooms, []mongo.IndexModel{
		{Keys: bson.D{{Key: "expiresAt", Value: 1}}},
		{Keys: bson.D{{Key: "members", Value: 1}, {Key: "status", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("failed to create rooms indexes: %w", err)
	}

	// Messages: stream reads and age-based sweep.
	if err := m.createIndexes(ctx, CollectionMessages, []mongo.IndexModel{
		{Keys: bson.D{{Key: "roomId", Value: 1}, {Key: "createdAt", Value: 1}}},
		{Keys: bson.D{{Key: "createdAt", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("failed to create messages indexes: %w", err)
	}

	// Pair history rows carry their own expiresAt; TTL index deletes them.
	if err := m.createIndexes(ctx, CollectionPairHistory, []mongo.IndexModel{
		{Keys: bson.D{{Key: "uids", Value: 1}, {Key: "dayKey", Value: 1}}},
		{Keys: bson.D{{Key: "expiresAt", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
	}); err != nil {
		return fmt.Errorf("failed to create pairHistory indexes: %w", err)
	}

	if err := m.createIndexes(ctx, CollectionMetricsRooms, []mongo.IndexModel{
		{Keys: bson.D{{Key: "day", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("failed to create metricsRooms indexes: %w", err)
	}

	if err := m.createIndexes(ctx, CollectionVisitors, []mongo.IndexModel{
		{Keys: bson.D{{Key: "day", Value: 1}}},
		{Keys: bson.D{{Key: "createdAt", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(7 * 24 * 3600)},
	}); err != nil {
		return fmt.Errorf("failed to create visitors indexes: %w", err)
	}

	if err := m.createIndexes(ctx, CollectionWeatherAudit, []mongo.IndexModel{
		{Keys: bson.D{{Key: "createdAt", Value: 1}}},
		{Keys: bson.D{{Key: "uid", Value: 1}, {Key: "createdAt", Value: -1}}},
	}); err != nil {
		return fmt.Errorf("failed to create weatherAudit indexes: %w", err)
	}

	log.Println("✅ MongoDB indexes initialized successfully")
	return nil
}

// createIndexes creates indexes for a collection
func (m *MongoDB) createIndexes(ctx context.Context, collectionName string, indexes []mongo.IndexModel) error {
	collection := m.database.Collection(collectionName)
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// Collection returns a collection handle
func (m *MongoDB) Collection(name string) *mongo.Collection {
	return m.database.Collection(name)
}

// Client returns the underlying MongoDB client
func (m *MongoDB) Client() *mongo.Client {
	return m.client
}

// Database returns the underlying MongoDB database
func (m *MongoDB) Database() *mongo.Database {
	return m.database
}

// Close closes the MongoDB connection
func (m *MongoDB) Close(ctx context.Context) error {
	log.Println("🔌 Closing MongoDB connection...")
	return m.client.Disconnect(ctx)
}

// Ping checks if the database connection is alive
func (m *MongoDB) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

// WithTransaction executes a function within a transaction
func (m *MongoDB) WithTransaction(ctx context.Context, fn func(sessCtx mongo.SessionContext) error) error {
	session, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		return nil, fn(sessCtx)
	})
	return err
}
