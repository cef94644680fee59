// Package pgstore is the server-mode VectorStore backend: Postgres with
// pgvector, a single vector_points table carrying a collection column
// rather than one table per collection (mirroring the teacher's single
// memories table with a domain column instead of one table per domain).
// Calls are wrapped in a circuit breaker so a down Postgres surfaces as
// StorageUnavailable after a bounded run of failures instead of
// blocking every caller on dial timeouts.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/scrypster/memoryanchor/internal/kernelerr"
	"github.com/scrypster/memoryanchor/internal/vectorstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS collections (
	name TEXT PRIMARY KEY,
	dim  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS vector_points (
	collection TEXT NOT NULL REFERENCES collections(name) ON DELETE CASCADE,
	id         TEXT NOT NULL,
	embedding  vector NOT NULL,
	payload    JSONB NOT NULL,
	PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS idx_vector_points_embedding
	ON vector_points USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
`

// Store is the Postgres-backed VectorStore. Every call that touches the
// network runs through a breaker, configured per-instance so dial
// failures trip fast instead of stacking up behind default client
// timeouts.
type Store struct {
	db      *sql.DB
	breaker *Breaker
}

// New opens dsn, applies the idempotent schema, and enables pgvector.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: open: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, vectorstore.Unavailable("pgstore: ping", err)
	}
	if _, err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgstore: enable pgvector: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgstore: apply schema: %w", err)
	}
	return &Store{db: db, breaker: NewBreaker()}, nil
}

// Ready implements vectorstore.VectorStore.
func (s *Store) Ready(ctx context.Context) error {
	_, err := s.breaker.Execute(ctx, func() (any, error) {
		return nil, s.db.PingContext(ctx)
	})
	return err
}

// EnsureCollection implements vectorstore.VectorStore.
func (s *Store) EnsureCollection(ctx context.Context, name string, dim int) error {
	_, err := s.breaker.Execute(ctx, func() (any, error) {
		var existing int
		err := s.db.QueryRowContext(ctx, `SELECT dim FROM collections WHERE name = $1`, name).Scan(&existing)
		switch {
		case err == sql.ErrNoRows:
			_, err := s.db.ExecContext(ctx, `INSERT INTO collections(name, dim) VALUES ($1, $2)`, name, dim)
			return nil, err
		case err != nil:
			return nil, err
		case existing != dim:
			return nil, fmt.Errorf("pgstore: collection %q dimension mismatch: have %d, want %d: %w", name, existing, dim, kernelerr.ErrDimensionMismatch)
		}
		return nil, nil
	})
	return err
}

// Upsert implements vectorstore.VectorStore.
func (s *Store) Upsert(ctx context.Context, name string, p vectorstore.Point) error {
	payloadJSON, err := json.Marshal(p.Payload)
	if err != nil {
		return fmt.Errorf("pgstore: marshal payload: %w", err)
	}
	vec := pgvector.NewVector(p.Vector)
	_, err = s.breaker.Execute(ctx, func() (any, error) {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO vector_points (collection, id, embedding, payload)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (collection, id) DO UPDATE
			SET embedding = EXCLUDED.embedding, payload = EXCLUDED.payload
		`, name, p.ID, vec, payloadJSON)
		return nil, err
	})
	return err
}

// BatchUpsert implements vectorstore.VectorStore.
func (s *Store) BatchUpsert(ctx context.Context, name string, points []vectorstore.Point) []error {
	errs := make([]error, len(points))
	for i, p := range points {
		errs[i] = s.Upsert(ctx, name, p)
	}
	return errs
}

// Search implements vectorstore.VectorStore.
func (s *Store) Search(ctx context.Context, name string, query []float32, k int, filter vectorstore.Filter) ([]vectorstore.SearchHit, error) {
	if k <= 0 {
		k = 1
	}
	vec := pgvector.NewVector(query)
	result, err := s.breaker.Execute(ctx, func() (any, error) {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, embedding, payload, 1 - (embedding <=> $1) AS score
			FROM vector_points
			WHERE collection = $2
			ORDER BY embedding <=> $1
			LIMIT $3
		`, vec, name, k*4) // overfetch; payload filter is applied client-side
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var hits []vectorstore.SearchHit
		for rows.Next() {
			var id string
			var embedding pgvector.Vector
			var payloadJSON []byte
			var score float64
			if err := rows.Scan(&id, &embedding, &payloadJSON, &score); err != nil {
				return nil, err
			}
			var payload map[string]any
			if err := json.Unmarshal(payloadJSON, &payload); err != nil {
				return nil, err
			}
			if !filter.Match(payload) {
				continue
			}
			hits = append(hits, vectorstore.SearchHit{
				Point: vectorstore.Point{ID: id, Vector: embedding.Slice(), Payload: payload},
				Score: score,
			})
		}
		return hits, rows.Err()
	})
	if err != nil {
		return nil, err
	}
	hits, _ := result.([]vectorstore.SearchHit)
	vectorstore.SortHitsDeterministic(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Scroll implements vectorstore.VectorStore.
func (s *Store) Scroll(ctx context.Context, name string, filter vectorstore.Filter, cursor string, pageSize int) (vectorstore.ScrollPage, error) {
	if pageSize <= 0 {
		pageSize = 50
	}
	after := cursor
	result, err := s.breaker.Execute(ctx, func() (any, error) {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, embedding, payload
			FROM vector_points
			WHERE collection = $1 AND id > $2
			ORDER BY id
			LIMIT $3
		`, name, after, pageSize*4)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var points []vectorstore.Point
		for rows.Next() {
			var id string
			var embedding pgvector.Vector
			var payloadJSON []byte
			if err := rows.Scan(&id, &embedding, &payloadJSON); err != nil {
				return nil, err
			}
			var payload map[string]any
			if err := json.Unmarshal(payloadJSON, &payload); err != nil {
				return nil, err
			}
			if !filter.Match(payload) {
				continue
			}
			points = append(points, vectorstore.Point{ID: id, Vector: embedding.Slice(), Payload: payload})
			if len(points) >= pageSize {
				break
			}
		}
		return points, rows.Err()
	})
	if err != nil {
		return vectorstore.ScrollPage{}, err
	}
	points, _ := result.([]vectorstore.Point)
	page := vectorstore.ScrollPage{Points: points}
	if len(points) == pageSize {
		page.Cursor = points[len(points)-1].ID
	}
	return page, nil
}

// UpdatePayload implements vectorstore.VectorStore.
func (s *Store) UpdatePayload(ctx context.Context, name, id string, partial map[string]any) error {
	_, err := s.breaker.Execute(ctx, func() (any, error) {
		var existing []byte
		if err := s.db.QueryRowContext(ctx,
			`SELECT payload FROM vector_points WHERE collection = $1 AND id = $2`, name, id,
		).Scan(&existing); err != nil {
			return nil, err
		}
		var payload map[string]any
		if err := json.Unmarshal(existing, &payload); err != nil {
			return nil, err
		}
		for k, v := range partial {
			payload[k] = v
		}
		merged, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		_, err = s.db.ExecContext(ctx,
			`UPDATE vector_points SET payload = $1 WHERE collection = $2 AND id = $3`, merged, name, id)
		return nil, err
	})
	return err
}

// Delete implements vectorstore.VectorStore.
func (s *Store) Delete(ctx context.Context, name, id string) error {
	_, err := s.breaker.Execute(ctx, func() (any, error) {
		_, err := s.db.ExecContext(ctx, `DELETE FROM vector_points WHERE collection = $1 AND id = $2`, name, id)
		return nil, err
	})
	return err
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	log.Printf("pgstore: closing, breaker state=%s", s.breaker.State())
	return s.db.Close()
}
