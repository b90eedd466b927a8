package event

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	"goflare.io/storefront/driver"
	"goflare.io/storefront/models"
)

var ErrNotFound = errors.New("event: not found")

var _ Repository = (*repository)(nil)

type Repository interface {
	// Create records the event. It reports false when the id was already recorded.
	Create(ctx context.Context, event *models.Event) (bool, error)
	GetByID(ctx context.Context, id string) (*models.Event, error)
	MarkAsProcessed(ctx context.Context, id string) error
}

type repository struct {
	conn   driver.PostgresPool
	logger *zap.Logger
}

func NewRepository(conn driver.PostgresPool, logger *zap.Logger) Repository {
	return &repository{
		conn:   conn,
		logger: logger,
	}
}

func (r *repository) Create(ctx context.Context, event *models.Event) (bool, error) {
	tag, err := r.conn.Exec(ctx, `
		INSERT INTO events (id, type, processed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		event.ID, string(event.Type), event.Processed, event.CreatedAt, event.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create event", zap.String("event_id", event.ID), zap.Error(err))
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repository) GetByID(ctx context.Context, id string) (*models.Event, error) {
	var (
		e   models.Event
		typ string
	)
	err := r.conn.QueryRow(ctx,
		`SELECT id, type, processed, created_at, updated_at FROM events WHERE id = $1`, id,
	).Scan(&e.ID, &typ, &e.Processed, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Type = stripe.EventType(typ)
	return &e, nil
}

func (r *repository) MarkAsProcessed(ctx context.Context, id string) error {
	_, err := r.conn.Exec(ctx,
		`UPDATE events SET processed = true, updated_at = $2 WHERE id = $1`,
		id, time.Now().UTC(),
	)
	return err
}

var _ Repository = (*MemoryRepository)(nil)

type MemoryRepository struct {
	mu     sync.Mutex
	events map[string]models.Event
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{events: make(map[string]models.Event)}
}

func (m *MemoryRepository) Create(_ context.Context, event *models.Event) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.events[event.ID]; ok {
		return false, nil
	}
	m.events[event.ID] = *event
	return true, nil
}

func (m *MemoryRepository) GetByID(_ context.Context, id string) (*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (m *MemoryRepository) MarkAsProcessed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.events[id]
	if !ok {
		return ErrNotFound
	}
	e.Processed = true
	e.UpdatedAt = time.Now().UTC()
	m.events[id] = e
	return nil
}
