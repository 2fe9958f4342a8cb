package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nidhogg/recall/internal/memory"
	"go.uber.org/zap"
)

// Postgres implements the store facade over PostgreSQL, one row per
// entry with JSONB metadata and an inline float4[] embedding.
type Postgres struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres creates a Postgres store with a pgx connection pool.
func NewPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("PostgreSQL connected")
	return &Postgres{db: pool, logger: logger}, nil
}

// Migrate reads and executes all .up.sql files from the migrations
// directory in lexical order.
func (s *Postgres) Migrate(ctx context.Context, migrationsDir string) error {
	dirEntries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range dirEntries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(migrationsDir, f))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		s.logger.Info("Migration applied", zap.String("file", f))
	}
	return nil
}

// Close shuts down the connection pool.
func (s *Postgres) Close() {
	s.db.Close()
}

const entryColumns = `id, owner_id, body, compressed_body, compressed,
	created_at, last_accessed_at, access_count, relevance_score, embedding, metadata`

// Insert persists a new entry row.
func (s *Postgres) Insert(ctx context.Context, e *memory.Entry) error {
	md, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO entries (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.OwnerID, e.Body, e.CompressedBody, e.Compressed,
		e.CreatedAt, e.LastAccessedAt, e.AccessCount, e.RelevanceScore,
		e.Embedding, md,
	)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

func scanEntry(row pgx.Row) (*memory.Entry, error) {
	var e memory.Entry
	var md []byte
	err := row.Scan(&e.ID, &e.OwnerID, &e.Body, &e.CompressedBody, &e.Compressed,
		&e.CreatedAt, &e.LastAccessedAt, &e.AccessCount, &e.RelevanceScore,
		&e.Embedding, &md)
	if err != nil {
		return nil, err
	}
	if len(md) > 0 {
		if err := json.Unmarshal(md, &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &e, nil
}

// GetByID fetches one entry, scoped by owner.
func (s *Postgres) GetByID(ctx context.Context, ownerID, id string) (*memory.Entry, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+entryColumns+` FROM entries WHERE id = $1 AND owner_id = $2`,
		id, ownerID)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find entry: %w", err)
	}
	return e, nil
}

// QueryByOwner returns the owner's entries, pushing the filters down
// into SQL.
func (s *Postgres) QueryByOwner(ctx context.Context, ownerID string, filters []memory.Filter) ([]*memory.Entry, error) {
	where := []string{"owner_id = $1"}
	args := []interface{}{ownerID}

	for _, f := range filters {
		switch f.Kind {
		case memory.FilterTimeRange:
			if !f.From.IsZero() {
				args = append(args, f.From)
				where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
			}
			if !f.To.IsZero() {
				args = append(args, f.To)
				where = append(where, fmt.Sprintf("created_at <= $%d", len(args)))
			}
		case memory.FilterCategories:
			args = append(args, f.Categories)
			where = append(where, fmt.Sprintf("metadata->>'category' = ANY($%d)", len(args)))
		case memory.FilterMinScore:
			args = append(args, f.MinScore)
			where = append(where, fmt.Sprintf("relevance_score >= $%d", len(args)))
		}
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+entryColumns+` FROM entries
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []*memory.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UpdateFields applies a partial update to one row.
func (s *Postgres) UpdateFields(ctx context.Context, ownerID, id string, upd memory.FieldUpdate) error {
	var set []string
	var args []interface{}

	add := func(col string, v interface{}) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if upd.Body != nil {
		add("body", *upd.Body)
	}
	if upd.CompressedBody != nil {
		add("compressed_body", upd.CompressedBody)
	}
	if upd.Compressed != nil {
		add("compressed", *upd.Compressed)
	}
	if upd.LastAccessedAt != nil {
		add("last_accessed_at", *upd.LastAccessedAt)
	}
	if upd.AccessCount != nil {
		add("access_count", *upd.AccessCount)
	}
	if upd.RelevanceScore != nil {
		add("relevance_score", *upd.RelevanceScore)
	}
	if len(set) == 0 {
		return nil
	}

	args = append(args, id)
	args = append(args, ownerID)
	tag, err := s.db.Exec(ctx, fmt.Sprintf(
		"UPDATE entries SET %s WHERE id = $%d AND owner_id = $%d",
		strings.Join(set, ", "), len(args)-1, len(args)), args...)
	if err != nil {
		return fmt.Errorf("update entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return memory.ErrNotFound
	}
	return nil
}

// Delete removes one entry row.
func (s *Postgres) Delete(ctx context.Context, ownerID, id string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM entries WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return memory.ErrNotFound
	}
	return nil
}

// InsertEmbedding sets the inline embedding of one row.
func (s *Postgres) InsertEmbedding(ctx context.Context, id string, vector []float32) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE entries SET embedding = $1 WHERE id = $2`, vector, id)
	if err != nil {
		return fmt.Errorf("insert embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return memory.ErrNotFound
	}
	return nil
}

// GetEmbedding fetches only the embedding of one row.
func (s *Postgres) GetEmbedding(ctx context.Context, id string) ([]float32, error) {
	var vec []float32
	err := s.db.QueryRow(ctx,
		`SELECT embedding FROM entries WHERE id = $1`, id).Scan(&vec)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get embedding: %w", err)
	}
	if vec == nil {
		return nil, memory.ErrNotFound
	}
	return vec, nil
}
