package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nerkean/gnizde.4ko/models"
)

const contentColumns = "id, key, type, data, draft, version, updated_by, created_at, updated_at"

type ContentStore struct {
	db *sql.DB
}

func NewContentStore(db *sql.DB) *ContentStore {
	return &ContentStore{db: db}
}

func scanContent(row scanner) (*models.ContentBlock, error) {
	var b models.ContentBlock
	var data []byte
	err := row.Scan(&b.ID, &b.Key, &b.Type, &data, &b.Draft, &b.Version, &b.UpdatedBy, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.Data = data
	return &b, nil
}

func (s *ContentStore) Get(ctx context.Context, key string) (*models.ContentBlock, error) {
	b, err := scanContent(s.db.QueryRowContext(ctx,
		"SELECT "+contentColumns+" FROM content_blocks WHERE key = $1", key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get content block: %w", err)
	}
	return b, nil
}

// Upsert creates the block or replaces every field of an existing one.
func (s *ContentStore) Upsert(ctx context.Context, b *models.ContentBlock) (*models.ContentBlock, error) {
	data := string(b.Data)
	if data == "" {
		data = "{}"
	}
	out, err := scanContent(s.db.QueryRowContext(ctx,
		"INSERT INTO content_blocks (key, type, data, draft, version, updated_by) VALUES ($1, $2, $3, $4, $5, $6) "+
			"ON CONFLICT (key) DO UPDATE SET type = EXCLUDED.type, data = EXCLUDED.data, draft = EXCLUDED.draft, version = EXCLUDED.version, updated_by = EXCLUDED.updated_by, updated_at = CURRENT_TIMESTAMP "+
			"RETURNING "+contentColumns,
		b.Key, b.Type, data, b.Draft, b.Version, b.UpdatedBy,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert content block: %w", err)
	}
	return out, nil
}
