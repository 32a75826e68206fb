package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/engramlabs/memstore/src/memory/model"
)

// PostgresRecordStore implements RecordStore on Postgres. One pool is shared
// across all calls.
type PostgresRecordStore struct {
	DB *pgxpool.Pool
}

var _ RecordStore = (*PostgresRecordStore)(nil)

// NewPostgresRecordStore connects to Postgres and returns the record store.
func NewPostgresRecordStore(ctx context.Context, connStr string) (*PostgresRecordStore, error) {
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	return &PostgresRecordStore{DB: db}, nil
}

// CreateSchema creates the memories table when absent.
func (ps *PostgresRecordStore) CreateSchema(ctx context.Context) error {
	_, err := ps.DB.Exec(ctx, `
                CREATE TABLE IF NOT EXISTS memories (
                        id         TEXT PRIMARY KEY,
                        type       TEXT NOT NULL,
                        content    TEXT NOT NULL,
                        workspace  TEXT NOT NULL DEFAULT '',
                        metadata   JSONB NOT NULL DEFAULT '{}'::jsonb,
                        created_at TIMESTAMPTZ NOT NULL,
                        updated_at TIMESTAMPTZ NOT NULL
                );
        `)
	return err
}

// Insert writes one durable row. A duplicate id fails on the primary key.
func (ps *PostgresRecordStore) Insert(ctx context.Context, m model.Memory) error {
	_, err := ps.DB.Exec(ctx, `
                INSERT INTO memories (id, type, content, workspace, metadata, created_at, updated_at)
                VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7);
        `, m.ID, string(m.Type), m.Content, m.Workspace, model.EncodeMetadata(m.Metadata), m.CreatedAt.UTC(), m.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("postgres insert %s: %w", m.ID, err)
	}
	return nil
}

// InsertBatch queues all inserts into a single pgx batch round trip.
func (ps *PostgresRecordStore) InsertBatch(ctx context.Context, ms []model.Memory) error {
	if len(ms) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range ms {
		batch.Queue(`
                        INSERT INTO memories (id, type, content, workspace, metadata, created_at, updated_at)
                        VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7);
                `, m.ID, string(m.Type), m.Content, m.Workspace, model.EncodeMetadata(m.Metadata), m.CreatedAt.UTC(), m.UpdatedAt.UTC())
	}
	results := ps.DB.SendBatch(ctx, batch)
	defer results.Close()
	for range ms {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("postgres batch insert (%d rows): %w", len(ms), err)
		}
	}
	return nil
}

// Update merges the changed fields into an existing row.
func (ps *PostgresRecordStore) Update(ctx context.Context, id string, u model.Update, updatedAt time.Time) error {
	sets := []string{"updated_at = $1"}
	args := []any{updatedAt.UTC()}
	idx := 2
	if u.Type != nil {
		sets = append(sets, fmt.Sprintf("type = $%d", idx))
		args = append(args, string(*u.Type))
		idx++
	}
	if u.Content != nil {
		sets = append(sets, fmt.Sprintf("content = $%d", idx))
		args = append(args, *u.Content)
		idx++
	}
	if u.Workspace != nil {
		sets = append(sets, fmt.Sprintf("workspace = $%d", idx))
		args = append(args, *u.Workspace)
		idx++
	}
	if u.Metadata != nil {
		sets = append(sets, fmt.Sprintf("metadata = $%d::jsonb", idx))
		args = append(args, model.EncodeMetadata(u.Metadata))
		idx++
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE memories SET %s WHERE id = $%d;", strings.Join(sets, ", "), idx)
	tag, err := ps.DB.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres update %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres update %s: %w", id, ErrNotFound)
	}
	return nil
}

// Get fetches one row; a missing id is (nil, nil).
func (ps *PostgresRecordStore) Get(ctx context.Context, id string) (*model.Memory, error) {
	row := ps.DB.QueryRow(ctx, `
                SELECT id, type, content, workspace, metadata::text, created_at, updated_at
                FROM memories WHERE id = $1;
        `, id)
	var m model.Memory
	var typ, metadata string
	if err := row.Scan(&m.ID, &typ, &m.Content, &m.Workspace, &metadata, &m.CreatedAt, &m.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres get %s: %w", id, err)
	}
	m.Type = model.MemoryType(typ)
	m.Metadata = model.DecodeMetadata(metadata)
	return &m, nil
}

// Delete removes one row. Deleting an absent row is not an error.
func (ps *PostgresRecordStore) Delete(ctx context.Context, id string) error {
	_, err := ps.DB.Exec(ctx, `DELETE FROM memories WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("postgres delete %s: %w", id, err)
	}
	return nil
}

// Count returns the total number of rows.
func (ps *PostgresRecordStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := ps.DB.QueryRow(ctx, `SELECT count(*) FROM memories;`).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres count: %w", err)
	}
	return count, nil
}

// Ping verifies pool connectivity.
func (ps *PostgresRecordStore) Ping(ctx context.Context) error {
	return ps.DB.Ping(ctx)
}

// Close releases the pool.
func (ps *PostgresRecordStore) Close(context.Context) error {
	ps.DB.Close()
	return nil
}
