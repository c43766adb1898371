package identity

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"sealdrop/internal/model"
)

// MemoryStore keeps identities in process memory. Used by tests and
// redis-less single-node deployments; MongoStore is the durable twin.
type MemoryStore struct {
	mu             sync.RWMutex
	byUID          map[string]model.Identity
	uidByEmail     map[string]string
	uidBySocialNum map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byUID:          make(map[string]model.Identity),
		uidByEmail:     make(map[string]string),
		uidBySocialNum: make(map[string]string),
	}
}

func (s *MemoryStore) GetOrCreateByEmail(ctx context.Context, email string, nowMillis int64) (model.Identity, bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return model.Identity{}, false, errors.New("missing email")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if uid, ok := s.uidByEmail[email]; ok {
		return s.byUID[uid], false, nil
	}

	var socialNumber string
	for {
		sn, err := newSocialNumber()
		if err != nil {
			return model.Identity{}, false, err
		}
		if _, taken := s.uidBySocialNum[sn]; !taken {
			socialNumber = sn
			break
		}
	}

	id := model.Identity{
		UID:          uuid.NewString(),
		SocialNumber: socialNumber,
		Email:        email,
		LastActiveAt: nowMillis,
		CreatedAt:    nowMillis,
	}
	s.byUID[id.UID] = id
	s.uidByEmail[email] = id.UID
	s.uidBySocialNum[socialNumber] = id.UID
	return id, true, nil
}

func (s *MemoryStore) GetByUID(ctx context.Context, uid string) (model.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUID[uid]
	if !ok {
		return model.Identity{}, ErrNotFound
	}
	return id, nil
}

func (s *MemoryStore) GetBySocialNumber(ctx context.Context, socialNumber string) (model.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uid, ok := s.uidBySocialNum[socialNumber]
	if !ok {
		return model.Identity{}, ErrNotFound
	}
	return s.byUID[uid], nil
}

func (s *MemoryStore) SetSessionToken(ctx context.Context, uid, token string, nowMillis int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byUID[uid]
	if !ok {
		return ErrNotFound
	}
	id.SessionToken = token
	id.LastActiveAt = nowMillis
	s.byUID[uid] = id
	return nil
}

func (s *MemoryStore) Authenticate(ctx context.Context, uid, token string, nowMillis int64) (model.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byUID[uid]
	if !ok {
		return model.Identity{}, ErrUnauthorized
	}
	if err := checkSession(id, token, nowMillis); err != nil {
		return model.Identity{}, err
	}
	id.LastActiveAt = nowMillis
	s.byUID[uid] = id
	return id, nil
}

func (s *MemoryStore) TouchActivity(ctx context.Context, uid string, nowMillis int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byUID[uid]
	if !ok {
		return ErrNotFound
	}
	id.LastActiveAt = nowMillis
	s.byUID[uid] = id
	return nil
}

func (s *MemoryStore) SetPublicKey(ctx context.Context, uid string, key []byte, nowMillis int64) error {
	if len(key) == 0 {
		return errors.New("missing public key")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byUID[uid]
	if !ok {
		return ErrNotFound
	}
	id.PublicKey = append([]byte(nil), key...)
	id.LastActiveAt = nowMillis
	s.byUID[uid] = id
	return nil
}

func (s *MemoryStore) SetLogoutTimeout(ctx context.Context, uid string, hours int, nowMillis int64) error {
	if !model.ValidLogoutTimeout(hours) {
		return ErrInvalidTimeout
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byUID[uid]
	if !ok {
		return ErrNotFound
	}
	id.LogoutTimeoutHours = hours
	id.LastActiveAt = nowMillis
	s.byUID[uid] = id
	return nil
}
