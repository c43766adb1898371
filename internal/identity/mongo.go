package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"sealdrop/internal/model"
)

// MongoStore persists identities in a mongo collection with unique indexes
// on uid, email and socialNumber.
type MongoStore struct {
	collection *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{collection: db.Collection("identities")}
}

// EnsureIndexes creates the uniqueness indexes the store relies on. Call once
// at startup.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "uid", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "socialNumber", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	return err
}

func (s *MongoStore) GetOrCreateByEmail(ctx context.Context, email string, nowMillis int64) (model.Identity, bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return model.Identity{}, false, errors.New("missing email")
	}

	var existing model.Identity
	err := s.collection.FindOne(ctx, bson.M{"email": email}).Decode(&existing)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return model.Identity{}, false, err
	}

	// Retry on social number collision; the unique index is the arbiter.
	for {
		sn, err := newSocialNumber()
		if err != nil {
			return model.Identity{}, false, err
		}
		id := model.Identity{
			UID:          uuid.NewString(),
			SocialNumber: sn,
			Email:        email,
			LastActiveAt: nowMillis,
			CreatedAt:    nowMillis,
		}
		_, err = s.collection.InsertOne(ctx, id)
		if err == nil {
			return id, true, nil
		}
		if mongo.IsDuplicateKeyError(err) {
			// Either a concurrent signup for the same email or a social
			// number clash. Re-read for the former, retry for the latter.
			var raced model.Identity
			if ferr := s.collection.FindOne(ctx, bson.M{"email": email}).Decode(&raced); ferr == nil {
				return raced, false, nil
			}
			continue
		}
		return model.Identity{}, false, err
	}
}

func (s *MongoStore) GetByUID(ctx context.Context, uid string) (model.Identity, error) {
	var id model.Identity
	err := s.collection.FindOne(ctx, bson.M{"uid": uid}).Decode(&id)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Identity{}, ErrNotFound
	}
	if err != nil {
		return model.Identity{}, err
	}
	return id, nil
}

func (s *MongoStore) GetBySocialNumber(ctx context.Context, socialNumber string) (model.Identity, error) {
	var id model.Identity
	err := s.collection.FindOne(ctx, bson.M{"socialNumber": socialNumber}).Decode(&id)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Identity{}, ErrNotFound
	}
	if err != nil {
		return model.Identity{}, err
	}
	return id, nil
}

func (s *MongoStore) SetSessionToken(ctx context.Context, uid, token string, nowMillis int64) error {
	return s.updateByUID(ctx, uid, bson.M{"sessionToken": token, "lastActiveAt": nowMillis})
}

func (s *MongoStore) Authenticate(ctx context.Context, uid, token string, nowMillis int64) (model.Identity, error) {
	id, err := s.GetByUID(ctx, uid)
	if errors.Is(err, ErrNotFound) {
		return model.Identity{}, ErrUnauthorized
	}
	if err != nil {
		return model.Identity{}, err
	}
	if err := checkSession(id, token, nowMillis); err != nil {
		return model.Identity{}, err
	}
	if err := s.updateByUID(ctx, uid, bson.M{"lastActiveAt": nowMillis}); err != nil {
		return model.Identity{}, err
	}
	id.LastActiveAt = nowMillis
	return id, nil
}

func (s *MongoStore) TouchActivity(ctx context.Context, uid string, nowMillis int64) error {
	return s.updateByUID(ctx, uid, bson.M{"lastActiveAt": nowMillis})
}

func (s *MongoStore) SetPublicKey(ctx context.Context, uid string, key []byte, nowMillis int64) error {
	if len(key) == 0 {
		return errors.New("missing public key")
	}
	return s.updateByUID(ctx, uid, bson.M{"publicKey": key, "lastActiveAt": nowMillis})
}

func (s *MongoStore) SetLogoutTimeout(ctx context.Context, uid string, hours int, nowMillis int64) error {
	if !model.ValidLogoutTimeout(hours) {
		return ErrInvalidTimeout
	}
	return s.updateByUID(ctx, uid, bson.M{"logoutTimeoutHours": hours, "lastActiveAt": nowMillis})
}

func (s *MongoStore) updateByUID(ctx context.Context, uid string, set bson.M) error {
	res, err := s.collection.UpdateOne(ctx, bson.M{"uid": uid}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
