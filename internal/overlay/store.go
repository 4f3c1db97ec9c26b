package overlay

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"
)

const (
	idLength   = 6
	idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	maxIDTries = 10
)

var ErrNotFound = errors.New("overlay config not found")

// Store persists saved overlay configs under short ids
type Store interface {
	// Create saves cfg under a fresh id and returns the stored config
	Create(ctx context.Context, cfg Config) (Config, error)
	// Get returns the config saved under id, or ErrNotFound
	Get(ctx context.Context, id string) (Config, error)
}

// NewID returns a random 6-character lowercase alphanumeric id
func NewID() string {
	b := make([]byte, idLength)
	max := big.NewInt(int64(len(idAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(fmt.Sprintf("read random id: %v", err))
		}
		b[i] = idAlphabet[n.Int64()]
	}
	return string(b)
}

// assignID picks an id not yet taken, regenerating on collision
func assignID(ctx context.Context, newID func() string, exists func(context.Context, string) (bool, error)) (string, error) {
	for i := 0; i < maxIDTries; i++ {
		id := newID()
		taken, err := exists(ctx, id)
		if err != nil {
			return "", err
		}
		if !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("no free overlay id after %d attempts", maxIDTries)
}

// MemoryStore keeps configs in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	configs map[string]Config
	newID   func() string
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{configs: make(map[string]Config), newID: NewID, now: time.Now}
}

func (s *MemoryStore) Create(ctx context.Context, cfg Config) (Config, error) {
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := assignID(ctx, s.newID, func(_ context.Context, id string) (bool, error) {
		_, ok := s.configs[id]
		return ok, nil
	})
	if err != nil {
		return Config{}, err
	}
	cfg.ID = id
	cfg.CreatedAt = s.now().UTC()
	s.configs[id] = cfg
	return cfg, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[id]
	if !ok {
		return Config{}, ErrNotFound
	}
	return cfg, nil
}
