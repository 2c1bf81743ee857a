package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AkibHossainOmi/TutorMove-sub000/internal/apperr"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/models"
)

type APIKeyRepo struct {
	pool *pgxpool.Pool
}

func NewAPIKeyRepo(pool *pgxpool.Pool) *APIKeyRepo {
	return &APIKeyRepo{pool: pool}
}

func (r *APIKeyRepo) Create(ctx context.Context, k *models.APIKey) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO api_keys (id, service_name, key_hash, key_prefix, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, k.ID, k.ServiceName, k.KeyHash, k.KeyPrefix, k.IsActive).Scan(&k.CreatedAt)
}

// FindByKeyHash returns the active key with the given hash.
func (r *APIKeyRepo) FindByKeyHash(ctx context.Context, keyHash string) (*models.APIKey, error) {
	var k models.APIKey
	err := r.pool.QueryRow(ctx, `
		SELECT id, service_name, key_hash, key_prefix, is_active, created_at
		FROM api_keys WHERE key_hash = $1 AND is_active = TRUE
	`, keyHash).Scan(&k.ID, &k.ServiceName, &k.KeyHash, &k.KeyPrefix, &k.IsActive, &k.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}
