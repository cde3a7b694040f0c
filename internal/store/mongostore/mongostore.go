// Package mongostore implements core.Store on MongoDB.
//
// Identities are kept in the users collection and role profiles in one
// collection per role (startups, investors, mentors), keyed by the shared
// ID. Audit records, with their row errors embedded, live in imports.
// Batch writes and deletes run inside a session transaction, so the server
// must be a replica set.
package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/JonMunkholm/onboard/internal/config"
	"github.com/JonMunkholm/onboard/internal/core"
)

// Collection names.
const (
	UsersCollection   = "users"
	ImportsCollection = "imports"
)

// MaxBatchSize keeps a batch within a single transaction's comfortable size.
const MaxBatchSize = 500

// Store is a core.Store backed by a MongoDB database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// New wraps a connected client.
func New(client *mongo.Client, database string) *Store {
	return &Store{client: client, db: client.Database(database)}
}

// Connect opens a client and pings it within cfg.ConnectTimeout.
func Connect(ctx context.Context, cfg config.MongoConfig) (*mongo.Client, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(timeoutCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(timeoutCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, nil
}

// EnsureIndexes creates the unique phone index and the history index.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.users().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "phoneNumber", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create phone index: %w", err)
	}
	_, err = s.imports().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "createdAt", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("create history index: %w", err)
	}
	return nil
}

func (s *Store) users() *mongo.Collection   { return s.db.Collection(UsersCollection) }
func (s *Store) imports() *mongo.Collection { return s.db.Collection(ImportsCollection) }

func (s *Store) profiles(role core.Role) *mongo.Collection {
	return s.db.Collection(role.ProfileCollection())
}

// ExistingPhones implements core.PhoneSource.
func (s *Store) ExistingPhones(ctx context.Context) ([]string, error) {
	cursor, err := s.users().Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"phoneNumber": 1, "_id": 0}))
	if err != nil {
		return nil, fmt.Errorf("query phones: %w", err)
	}
	defer cursor.Close(ctx)

	var phones []string
	for cursor.Next(ctx) {
		var doc struct {
			Phone string `bson:"phoneNumber"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode phone: %w", err)
		}
		phones = append(phones, doc.Phone)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate phones: %w", err)
	}
	return phones, nil
}

// MaxBatchSize implements core.PairWriter.
func (s *Store) MaxBatchSize() int { return MaxBatchSize }

// WritePairs implements core.PairWriter. Phones already present are read
// inside the transaction, so the conflict check and the inserts commit or
// abort together.
func (s *Store) WritePairs(ctx context.Context, pairs []core.ProvisionedPair) (core.WriteOutcome, error) {
	if len(pairs) == 0 {
		return core.WriteOutcome{}, nil
	}

	session, err := s.client.StartSession()
	if err != nil {
		return core.WriteOutcome{}, fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	res, err := session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return s.writeBatch(sc, pairs)
	})
	if err != nil {
		return core.WriteOutcome{}, fmt.Errorf("write batch: %w", err)
	}
	return res.(core.WriteOutcome), nil
}

func (s *Store) writeBatch(ctx mongo.SessionContext, pairs []core.ProvisionedPair) (core.WriteOutcome, error) {
	phones := make([]string, len(pairs))
	for i, p := range pairs {
		phones[i] = p.Identity.Phone
	}

	taken, err := s.phonesIn(ctx, phones)
	if err != nil {
		return core.WriteOutcome{}, err
	}

	var out core.WriteOutcome
	identities := make([]interface{}, 0, len(pairs))
	profilesByRole := make(map[core.Role][]interface{})
	for _, p := range pairs {
		if taken[p.Identity.Phone] {
			out.Conflicts = append(out.Conflicts, p)
			continue
		}
		taken[p.Identity.Phone] = true

		doc, err := profileDocument(p.Profile)
		if err != nil {
			return core.WriteOutcome{}, fmt.Errorf("encode profile line %d: %w", p.LineNumber, err)
		}
		identities = append(identities, p.Identity)
		profilesByRole[p.Profile.Role] = append(profilesByRole[p.Profile.Role], doc)
	}

	if len(identities) == 0 {
		return out, nil
	}
	if _, err := s.users().InsertMany(ctx, identities); err != nil {
		return core.WriteOutcome{}, fmt.Errorf("insert users: %w", err)
	}
	for role, docs := range profilesByRole {
		if _, err := s.profiles(role).InsertMany(ctx, docs); err != nil {
			return core.WriteOutcome{}, fmt.Errorf("insert %s: %w", role.ProfileCollection(), err)
		}
	}
	out.Written = len(identities)
	return out, nil
}

func (s *Store) phonesIn(ctx context.Context, phones []string) (map[string]bool, error) {
	cursor, err := s.users().Find(ctx,
		bson.M{"phoneNumber": bson.M{"$in": phones}},
		options.Find().SetProjection(bson.M{"phoneNumber": 1}),
	)
	if err != nil {
		return nil, fmt.Errorf("query taken phones: %w", err)
	}
	defer cursor.Close(ctx)

	taken := make(map[string]bool)
	for cursor.Next(ctx) {
		var doc struct {
			Phone string `bson:"phoneNumber"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode phone: %w", err)
		}
		taken[doc.Phone] = true
	}
	return taken, cursor.Err()
}

// profileDocument flattens the role payload into the profile document.
func profileDocument(p core.ProfileRecord) (bson.M, error) {
	doc := bson.M{}
	if p.Payload != nil {
		raw, err := bson.Marshal(p.Payload)
		if err != nil {
			return nil, err
		}
		if err := bson.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
	}
	doc["_id"] = p.ID
	doc["role"] = string(p.Role)
	doc["isBulkCreated"] = p.BulkCreated
	doc["hasCompletedBasicDetails"] = p.BasicDetailsComplete
	doc["createdAt"] = p.CreatedAt
	return doc, nil
}

// BulkCreatedIDs implements core.BulkDeleter.
func (s *Store) BulkCreatedIDs(ctx context.Context) ([]string, error) {
	opts := options.Find().
		SetProjection(bson.M{"_id": 1}).
		SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := s.users().Find(ctx, bson.M{"isBulkCreated": true}, opts)
	if err != nil {
		return nil, fmt.Errorf("query bulk users: %w", err)
	}
	defer cursor.Close(ctx)

	var ids []string
	for cursor.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode bulk user: %w", err)
		}
		ids = append(ids, doc.ID)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate bulk users: %w", err)
	}
	return ids, nil
}

// DeletePairs implements core.BulkDeleter.
func (s *Store) DeletePairs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	session, err := s.client.StartSession()
	if err != nil {
		return 0, fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	res, err := session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		filter := bson.M{"_id": bson.M{"$in": ids}, "isBulkCreated": true}
		for _, role := range core.Roles() {
			if _, err := s.profiles(role).DeleteMany(sc, filter); err != nil {
				return 0, fmt.Errorf("delete %s: %w", role.ProfileCollection(), err)
			}
		}
		del, err := s.users().DeleteMany(sc, filter)
		if err != nil {
			return 0, fmt.Errorf("delete users: %w", err)
		}
		return int(del.DeletedCount), nil
	})
	if err != nil {
		return 0, err
	}
	return res.(int), nil
}

// InsertImportRecord implements core.ImportRecordStore.
func (s *Store) InsertImportRecord(ctx context.Context, rec core.ImportRecord) error {
	if _, err := s.imports().InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("insert import record: %w", err)
	}
	return nil
}

// ListImportRecords implements core.ImportRecordStore, newest first,
// without row errors.
func (s *Store) ListImportRecords(ctx context.Context, limit int) ([]core.ImportRecord, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetProjection(bson.M{"errors": 0})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.imports().Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("query import records: %w", err)
	}
	defer cursor.Close(ctx)

	var out []core.ImportRecord
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode import records: %w", err)
	}
	return out, nil
}

// GetImportRecord implements core.ImportRecordStore.
func (s *Store) GetImportRecord(ctx context.Context, id string) (core.ImportRecord, error) {
	var rec core.ImportRecord
	err := s.imports().FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return core.ImportRecord{}, fmt.Errorf("%w: %s", core.ErrRecordNotFound, id)
	}
	if err != nil {
		return core.ImportRecord{}, fmt.Errorf("find import record: %w", err)
	}
	return rec, nil
}

var _ core.Store = (*Store)(nil)
