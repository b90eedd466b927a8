// Package profile stores the signup profile document for each user.
package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"goflare.io/storefront/models"
)

const usersCollection = "users"

var ErrNotFound = errors.New("profile: not found")

type Repository interface {
	Save(ctx context.Context, profile *models.Profile) error
	Get(ctx context.Context, uid string) (*models.Profile, error)
}

var _ Repository = (*FirestoreRepository)(nil)

// FirestoreRepository keeps profiles at users/{uid}.
type FirestoreRepository struct {
	client *firestore.Client
	logger *zap.Logger
}

func NewFirestoreRepository(client *firestore.Client, logger *zap.Logger) *FirestoreRepository {
	return &FirestoreRepository{client: client, logger: logger}
}

func (r *FirestoreRepository) Save(ctx context.Context, p *models.Profile) error {
	uid := strings.TrimSpace(p.UID)
	if uid == "" {
		return fmt.Errorf("failed to save profile: empty uid")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	if _, err := r.client.Collection(usersCollection).Doc(uid).Set(ctx, p); err != nil {
		r.logger.Error("Failed to save profile", zap.String("uid", uid), zap.Error(err))
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

func (r *FirestoreRepository) Get(ctx context.Context, uid string) (*models.Profile, error) {
	snap, err := r.client.Collection(usersCollection).Doc(uid).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	var p models.Profile
	if err = snap.DataTo(&p); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	p.UID = snap.Ref.ID
	return &p, nil
}

var _ Repository = (*MemoryRepository)(nil)

type MemoryRepository struct {
	mu       sync.RWMutex
	profiles map[string]models.Profile
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{profiles: make(map[string]models.Profile)}
}

func (m *MemoryRepository) Save(_ context.Context, p *models.Profile) error {
	if strings.TrimSpace(p.UID) == "" {
		return fmt.Errorf("failed to save profile: empty uid")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	m.profiles[p.UID] = *p
	m.mu.Unlock()
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, uid string) (*models.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[uid]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}
