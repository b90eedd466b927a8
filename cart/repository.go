package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"goflare.io/storefront/driver"
	"goflare.io/storefront/models"
)

var _ Repository = (*repository)(nil)

// Repository stores encoded cart snapshots in Postgres, one row per device.
type Repository interface {
	GetSnapshot(ctx context.Context, tx pgx.Tx, deviceID string) ([]byte, error)
	UpsertSnapshot(ctx context.Context, tx pgx.Tx, deviceID string, payload []byte) error
	DeleteSnapshot(ctx context.Context, tx pgx.Tx, deviceID string) error
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

// GetSnapshot returns (nil, nil) when the device has no row.
func (r *repository) GetSnapshot(ctx context.Context, tx pgx.Tx, deviceID string) ([]byte, error) {
	var payload []byte
	err := driver.Conn(r.conn, tx).QueryRow(ctx,
		`SELECT payload FROM cart_snapshots WHERE device_id = $1`, deviceID,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get cart snapshot", zap.String("device_id", deviceID), zap.Error(err))
		return nil, err
	}
	return payload, nil
}

func (r *repository) UpsertSnapshot(ctx context.Context, tx pgx.Tx, deviceID string, payload []byte) error {
	_, err := driver.Conn(r.conn, tx).Exec(ctx, `
		INSERT INTO cart_snapshots (device_id, payload, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (device_id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`,
		deviceID, payload,
	)
	if err != nil {
		r.logger.Error("Failed to upsert cart snapshot", zap.String("device_id", deviceID), zap.Error(err))
		return err
	}
	return nil
}

func (r *repository) DeleteSnapshot(ctx context.Context, tx pgx.Tx, deviceID string) error {
	_, err := driver.Conn(r.conn, tx).Exec(ctx, `DELETE FROM cart_snapshots WHERE device_id = $1`, deviceID)
	if err != nil {
		r.logger.Error("Failed to delete cart snapshot", zap.String("device_id", deviceID), zap.Error(err))
		return err
	}
	return nil
}

var _ Persister = (*PostgresPersister)(nil)

// PostgresPersister adapts Repository to Persister for deployments without Redis.
type PostgresPersister struct {
	repo Repository
	tm   driver.Transactor
}

func NewPostgresPersister(repo Repository, tm driver.Transactor) *PostgresPersister {
	return &PostgresPersister{repo: repo, tm: tm}
}

func (p *PostgresPersister) Load(ctx context.Context, key string) (models.CartState, error) {
	payload, err := p.repo.GetSnapshot(ctx, nil, key)
	if err != nil {
		return models.NewCartState(), fmt.Errorf("failed to get cart snapshot: %w", err)
	}
	if payload == nil {
		return models.NewCartState(), nil
	}

	state, _, err := DecodeSnapshot(payload)
	return state, err
}

// Save upserts the snapshot. An empty cart deletes the row instead, since Load
// already treats a missing row as an empty cart.
func (p *PostgresPersister) Save(ctx context.Context, key string, state models.CartState) error {
	if state.IsEmpty() {
		return p.tm.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
			return p.repo.DeleteSnapshot(ctx, tx, key)
		})
	}

	payload, err := EncodeSnapshot(state)
	if err != nil {
		return err
	}

	return p.tm.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		return p.repo.UpsertSnapshot(ctx, tx, key, payload)
	})
}
