package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"amayadori/internal/database"
	"amayadori/internal/models"
)

// MongoStore implements Store on the shared MongoDB wrapper. Methods act on
// whatever context they receive, so inside RunTransaction the session context
// makes every call part of the transaction.
type MongoStore struct {
	db *database.MongoDB
}

func NewMongoStore(db *database.MongoDB) *MongoStore {
	return &MongoStore{db: db}
}

func (s *MongoStore) entries() *mongo.Collection  { return s.db.Collection(database.CollectionMatchEntries) }
func (s *MongoStore) rooms() *mongo.Collection    { return s.db.Collection(database.CollectionRooms) }
func (s *MongoStore) messages() *mongo.Collection { return s.db.Collection(database.CollectionMessages) }
func (s *MongoStore) pairs() *mongo.Collection    { return s.db.Collection(database.CollectionPairHistory) }
func (s *MongoStore) daily() *mongo.Collection    { return s.db.Collection(database.CollectionMetricsDaily) }
func (s *MongoStore) roomStats() *mongo.Collection {
	return s.db.Collection(database.CollectionMetricsRooms)
}
func (s *MongoStore) userStates() *mongo.Collection {
	return s.db.Collection(database.CollectionUserStates)
}
func (s *MongoStore) visitors() *mongo.Collection { return s.db.Collection(database.CollectionVisitors) }
func (s *MongoStore) configs() *mongo.Collection  { return s.db.Collection(database.CollectionConfig) }
func (s *MongoStore) audits() *mongo.Collection {
	return s.db.Collection(database.CollectionWeatherAudit)
}

// --- entries ---

func (s *MongoStore) CreateEntry(ctx context.Context, e models.MatchEntry) error {
	_, err := s.entries().InsertOne(ctx, e)
	if mongo.IsDuplicateKeyError(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

func (s *MongoStore) GetEntry(ctx context.Context, id string) (*models.MatchEntry, error) {
	var e models.MatchEntry
	err := s.entries().FindOne(ctx, bson.M{"_id": id}).Decode(&e)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return &e, nil
}

func (s *MongoStore) QueuedCandidates(ctx context.Context, queueKey string, limit int) ([]models.MatchEntry, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(limit))
	cur, err := s.entries().Find(ctx, bson.M{
		"queueKey": queueKey,
		"status":   models.EntryStatusQueued,
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("find candidates: %w", err)
	}
	var out []models.MatchEntry
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode candidates: %w", err)
	}
	return out, nil
}

func (s *MongoStore) MarkEntriesMatched(ctx context.Context, ids []string, roomID string, at time.Time) error {
	for _, id := range ids {
		res, err := s.entries().UpdateOne(ctx,
			bson.M{"_id": id, "status": models.EntryStatusQueued},
			bson.M{
				"$set": bson.M{
					"status":    models.EntryStatusMatched,
					"roomId":    roomID,
					"matchedAt": at,
				},
				"$unset": bson.M{"info": ""},
			})
		if err != nil {
			return fmt.Errorf("mark matched %s: %w", id, err)
		}
		if res.ModifiedCount == 0 {
			return ErrConflict
		}
	}
	return nil
}

func (s *MongoStore) MarkEntryStale(ctx context.Context, id string) error {
	res, err := s.entries().UpdateOne(ctx,
		bson.M{"_id": id, "status": models.EntryStatusQueued},
		bson.M{"$set": bson.M{"status": models.EntryStatusStale}})
	if err != nil {
		return fmt.Errorf("mark stale: %w", err)
	}
	if res.ModifiedCount == 0 {
		return ErrConflict
	}
	return nil
}

func (s *MongoStore) MarkEntryExpired(ctx context.Context, id string) error {
	res, err := s.entries().UpdateOne(ctx,
		bson.M{"_id": id, "status": models.EntryStatusQueued},
		bson.M{"$set": bson.M{"status": models.EntryStatusExpired}})
	if err != nil {
		return fmt.Errorf("mark expired: %w", err)
	}
	if res.ModifiedCount == 0 {
		return ErrConflict
	}
	return nil
}

func (s *MongoStore) RearmEntry(ctx context.Context, id string, expiresAt time.Time, info string) error {
	res, err := s.entries().UpdateOne(ctx,
		bson.M{"_id": id, "status": models.EntryStatusQueued},
		bson.M{"$set": bson.M{"expiresAt": expiresAt, "info": info}})
	if err != nil {
		return fmt.Errorf("rearm entry: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrConflict
	}
	return nil
}

func (s *MongoStore) HeartbeatEntry(ctx context.Context, id string, at, expiresAt time.Time) (*models.MatchEntry, error) {
	var e models.MatchEntry
	err := s.entries().FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": models.EntryStatusQueued},
		bson.M{"$set": bson.M{"lastSeenAt": at, "expiresAt": expiresAt}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&e)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return s.entryConflictOrMissing(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("heartbeat entry: %w", err)
	}
	return &e, nil
}

func (s *MongoStore) CancelEntry(ctx context.Context, id string, at time.Time) (*models.MatchEntry, error) {
	var e models.MatchEntry
	err := s.entries().FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": models.EntryStatusQueued},
		bson.M{"$set": bson.M{
			"status":     models.EntryStatusCanceled,
			"canceledAt": at,
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&e)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return s.entryConflictOrMissing(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("cancel entry: %w", err)
	}
	return &e, nil
}

// entryConflictOrMissing disambiguates a failed guarded update: the entry
// either left the queued state (ErrConflict, entry returned) or never existed.
func (s *MongoStore) entryConflictOrMissing(ctx context.Context, id string) (*models.MatchEntry, error) {
	e, err := s.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	return e, ErrConflict
}

func (s *MongoStore) QueuedEntriesByUID(ctx context.Context, uid string, limit int) ([]models.MatchEntry, error) {
	opts := options.Find().SetLimit(int64(limit))
	cur, err := s.entries().Find(ctx, bson.M{
		"uid":    uid,
		"status": models.EntryStatusQueued,
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("find queued by uid: %w", err)
	}
	var out []models.MatchEntry
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode queued by uid: %w", err)
	}
	return out, nil
}

func (s *MongoStore) ExpiredEntriesPage(ctx context.Context, now time.Time, limit int) ([]models.MatchEntry, error) {
	opts := options.Find().SetLimit(int64(limit))
	cur, err := s.entries().Find(ctx, bson.M{"expiresAt": bson.M{"$lte": now}}, opts)
	if err != nil {
		return nil, fmt.Errorf("find expired entries: %w", err)
	}
	var out []models.MatchEntry
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode expired entries: %w", err)
	}
	return out, nil
}

func (s *MongoStore) DeleteEntries(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.entries().DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, fmt.Errorf("delete entries: %w", err)
	}
	return int(res.DeletedCount), nil
}

// --- rooms ---

func (s *MongoStore) CreateRoom(ctx context.Context, r models.Room) error {
	_, err := s.rooms().InsertOne(ctx, r)
	if mongo.IsDuplicateKeyError(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert room: %w", err)
	}
	return nil
}

func (s *MongoStore) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	var r models.Room
	err := s.rooms().FindOne(ctx, bson.M{"_id": id}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get room: %w", err)
	}
	return &r, nil
}

func (s *MongoStore) ReplaceRoom(ctx context.Context, r models.Room) error {
	res, err := s.rooms().ReplaceOne(ctx, bson.M{"_id": r.ID}, r)
	if err != nil {
		return fmt.Errorf("replace room: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) OpenRoomByMember(ctx context.Context, uid string) (*models.Room, error) {
	var r models.Room
	err := s.rooms().FindOne(ctx, bson.M{
		"members": uid,
		"status":  models.RoomStatusOpen,
	}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open room by member: %w", err)
	}
	return &r, nil
}

func (s *MongoStore) ExpiredRoomsPage(ctx context.Context, now time.Time, limit int) ([]models.Room, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "expiresAt", Value: 1}}).
		SetLimit(int64(limit))
	cur, err := s.rooms().Find(ctx, bson.M{"expiresAt": bson.M{"$lte": now}}, opts)
	if err != nil {
		return nil, fmt.Errorf("find expired rooms: %w", err)
	}
	var out []models.Room
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode expired rooms: %w", err)
	}
	return out, nil
}

func (s *MongoStore) DeleteRoom(ctx context.Context, id string) error {
	_, err := s.rooms().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	return nil
}

// --- messages ---

func (s *MongoStore) PutMessage(ctx context.Context, m models.Message) error {
	_, err := s.messages().ReplaceOne(ctx, bson.M{"_id": m.ID}, m,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("put message: %w", err)
	}
	return nil
}

func (s *MongoStore) CreateMessage(ctx context.Context, m models.Message) error {
	_, err := s.messages().InsertOne(ctx, m)
	if mongo.IsDuplicateKeyError(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *MongoStore) ListMessages(ctx context.Context, roomID string, after time.Time, limit int) ([]models.Message, error) {
	filter := bson.M{"roomId": roomID}
	if !after.IsZero() {
		filter["createdAt"] = bson.M{"$gt": after}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}}).
		SetLimit(int64(limit))
	cur, err := s.messages().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	var out []models.Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return out, nil
}

func (s *MongoStore) DeleteRoomMessagesPage(ctx context.Context, roomID string, limit int) (int, error) {
	return s.deletePage(ctx, s.messages(), bson.M{"roomId": roomID}, limit)
}

func (s *MongoStore) DeleteMessagesBeforePage(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	return s.deletePage(ctx, s.messages(), bson.M{"createdAt": bson.M{"$lte": cutoff}}, limit)
}

func (s *MongoStore) IncRoomMessageCount(ctx context.Context, roomID string) error {
	_, err := s.rooms().UpdateOne(ctx,
		bson.M{"_id": roomID},
		bson.M{"$inc": bson.M{"messageCount": 1}})
	if err != nil {
		return fmt.Errorf("inc message count: %w", err)
	}
	return nil
}

// --- pair history ---

func (s *MongoStore) CreatePairHistory(ctx context.Context, ph models.PairHistory) error {
	_, err := s.pairs().InsertOne(ctx, ph)
	if mongo.IsDuplicateKeyError(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert pair history: %w", err)
	}
	return nil
}

func (s *MongoStore) PairSeen(ctx context.Context, id string) (bool, error) {
	n, err := s.pairs().CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return false, fmt.Errorf("count pair history: %w", err)
	}
	return n > 0, nil
}

func (s *MongoStore) DeleteExpiredPairHistoryPage(ctx context.Context, now time.Time, limit int) (int, error) {
	return s.deletePage(ctx, s.pairs(), bson.M{"expiresAt": bson.M{"$lte": now}}, limit)
}

// --- stats ---

func (s *MongoStore) IncDaily(ctx context.Context, day string, fields map[string]int64, at time.Time) error {
	if len(fields) == 0 {
		return nil
	}
	inc := bson.M{}
	for k, v := range fields {
		inc[k] = v
	}
	_, err := s.daily().UpdateOne(ctx,
		bson.M{"_id": day},
		bson.M{"$inc": inc, "$set": bson.M{"updatedAt": at}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("inc daily %s: %w", day, err)
	}
	return nil
}

func (s *MongoStore) GetDaily(ctx context.Context, day string) (*models.DailyStats, error) {
	var raw bson.M
	err := s.daily().FindOne(ctx, bson.M{"_id": day}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get daily: %w", err)
	}
	return decodeDaily(day, raw), nil
}

// decodeDaily folds the flat counter document into the typed form. Counter
// fields are whatever $inc wrote, so numeric types vary.
func decodeDaily(day string, raw bson.M) *models.DailyStats {
	out := &models.DailyStats{Day: day, Counters: map[string]int64{}}
	for k, v := range raw {
		switch k {
		case "_id":
		case "updatedAt":
			if t, ok := v.(time.Time); ok {
				out.UpdatedAt = t
			}
		default:
			switch n := v.(type) {
			case int32:
				out.Counters[k] = int64(n)
			case int64:
				out.Counters[k] = n
			case float64:
				out.Counters[k] = int64(n)
			}
		}
	}
	return out
}

func (s *MongoStore) PutRoomStats(ctx context.Context, rs models.RoomStats) error {
	_, err := s.roomStats().ReplaceOne(ctx, bson.M{"_id": rs.RoomID}, rs,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("put room stats: %w", err)
	}
	return nil
}

func (s *MongoStore) ClaimStatsCommit(ctx context.Context, roomID string, at time.Time) (bool, error) {
	res, err := s.rooms().UpdateOne(ctx,
		bson.M{"_id": roomID, "statsCommittedAt": nil},
		bson.M{"$set": bson.M{"statsCommittedAt": at}})
	if err != nil {
		return false, fmt.Errorf("claim stats commit: %w", err)
	}
	return res.ModifiedCount == 1, nil
}

// --- user states ---

func (s *MongoStore) SetUserLastLeft(ctx context.Context, uid string, at time.Time) error {
	_, err := s.userStates().UpdateOne(ctx,
		bson.M{"_id": uid},
		bson.M{"$set": bson.M{"lastLeftAt": at, "updatedAt": at}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("set last left: %w", err)
	}
	return nil
}

func (s *MongoStore) GetUserState(ctx context.Context, uid string) (*models.UserState, error) {
	var st models.UserState
	err := s.userStates().FindOne(ctx, bson.M{"_id": uid}).Decode(&st)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user state: %w", err)
	}
	return &st, nil
}

// --- visitors ---

func (s *MongoStore) MarkVisitor(ctx context.Context, day, uid string, at time.Time) (bool, error) {
	_, err := s.visitors().InsertOne(ctx, models.Visitor{
		ID:        day + "_" + uid,
		UID:       uid,
		Day:       day,
		CreatedAt: at,
	})
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("mark visitor: %w", err)
	}
	return true, nil
}

// --- runtime config ---

func (s *MongoStore) GetRuntimeConfig(ctx context.Context) (models.RuntimeConfig, error) {
	var rc models.RuntimeConfig
	err := s.configs().FindOne(ctx, bson.M{"_id": "global"}).Decode(&rc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.DefaultRuntimeConfig(), nil
	}
	if err != nil {
		return models.RuntimeConfig{}, fmt.Errorf("get runtime config: %w", err)
	}
	return rc, nil
}

func (s *MongoStore) SetRuntimeConfig(ctx context.Context, rc models.RuntimeConfig) error {
	rc.ID = "global"
	_, err := s.configs().ReplaceOne(ctx, bson.M{"_id": "global"}, rc,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("set runtime config: %w", err)
	}
	return nil
}

// --- weather audit ---

func (s *MongoStore) PutWeatherAudit(ctx context.Context, wa models.WeatherAudit) error {
	_, err := s.audits().InsertOne(ctx, wa)
	if err != nil {
		return fmt.Errorf("insert weather audit: %w", err)
	}
	return nil
}

func (s *MongoStore) DeleteWeatherAuditBeforePage(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	return s.deletePage(ctx, s.audits(), bson.M{"createdAt": bson.M{"$lte": cutoff}}, limit)
}

// deletePage deletes up to limit documents matching filter. DeleteMany has no
// limit option, so collect ids first.
func (s *MongoStore) deletePage(ctx context.Context, coll *mongo.Collection, filter bson.M, limit int) (int, error) {
	opts := options.Find().
		SetLimit(int64(limit)).
		SetProjection(bson.M{"_id": 1})
	cur, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return 0, fmt.Errorf("find for delete: %w", err)
	}
	var docs []struct {
		ID interface{} `bson:"_id"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return 0, fmt.Errorf("decode for delete: %w", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}
	ids := make([]interface{}, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	res, err := coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, fmt.Errorf("delete page: %w", err)
	}
	return int(res.DeletedCount), nil
}

// --- lifecycle ---

func (s *MongoStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Ops) error) error {
	return s.db.WithTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		return fn(sessCtx, s)
	})
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.db.Close(ctx)
}
