// Package chromemstore is the local-file/embedded VectorStore backend,
// adapted from a chromem-go wrapper used elsewhere in the corpus for
// per-user in-process vector storage. Here collections are keyed by the
// project-scoped collection name rather than by user id.
package chromemstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/scrypster/memoryanchor/internal/kernelerr"
	"github.com/scrypster/memoryanchor/internal/vectorstore"
)

// Store is the embedded VectorStore backend. It keeps everything
// in-process; Ready always succeeds once constructed.
type Store struct {
	db   *chromem.DB
	mu   sync.RWMutex
	cols map[string]*collection
}

type collection struct {
	col *chromem.Collection
	dim int
}

// New constructs a Store. persistPath is the on-disk directory for
// chromem's export/import snapshotting; an empty path keeps everything
// in memory only.
func New(persistPath string) (*Store, error) {
	var db *chromem.DB
	var err error
	if persistPath == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(persistPath, false)
		if err != nil {
			return nil, fmt.Errorf("chromemstore: open persistent db: %w", err)
		}
	}
	return &Store{db: db, cols: make(map[string]*collection)}, nil
}

// Ready implements vectorstore.VectorStore.
func (s *Store) Ready(_ context.Context) error { return nil }

// EnsureCollection implements vectorstore.VectorStore.
func (s *Store) EnsureCollection(_ context.Context, name string, dim int) error {
	s.mu.RLock()
	c, exists := s.cols[name]
	s.mu.RUnlock()
	if exists {
		if c.dim != dim {
			return fmt.Errorf("chromemstore: collection %q dimension mismatch: have %d, want %d: %w", name, c.dim, dim, kernelerr.ErrDimensionMismatch)
		}
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, exists := s.cols[name]; exists {
		if c.dim != dim {
			return fmt.Errorf("chromemstore: collection %q dimension mismatch: have %d, want %d: %w", name, c.dim, dim, kernelerr.ErrDimensionMismatch)
		}
		return nil
	}

	col, err := s.db.CreateCollection(name, nil, nil)
	if err != nil {
		return vectorstore.Unavailable("chromemstore: create collection", err)
	}
	s.cols[name] = &collection{col: col, dim: dim}
	return nil
}

func (s *Store) getCollection(name string) (*chromem.Collection, error) {
	s.mu.RLock()
	c, exists := s.cols[name]
	s.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("chromemstore: collection %q not ensured", name)
	}
	return c.col, nil
}

// Upsert implements vectorstore.VectorStore.
func (s *Store) Upsert(ctx context.Context, name string, p vectorstore.Point) error {
	col, err := s.getCollection(name)
	if err != nil {
		return err
	}
	doc, err := encodeDoc(p)
	if err != nil {
		return err
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return vectorstore.Unavailable("chromemstore: upsert", err)
	}
	return nil
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
	col, err := s.getCollection(name)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 1
	}

	// chromem-go requires nResults <= collection size; retry with a
	// shrinking limit until it succeeds or the collection is empty.
	var results []chromem.Result
	for limit := k; limit >= 1; limit-- {
		results, err = col.QueryEmbedding(ctx, query, limit, nil, nil)
		if err == nil {
			break
		}
		if isInsufficientDocsError(err) {
			if limit == 1 {
				return nil, nil
			}
			continue
		}
		return nil, vectorstore.Unavailable("chromemstore: search", err)
	}

	hits := make([]vectorstore.SearchHit, 0, len(results))
	for _, r := range results {
		payload, decErr := decodePayload(r.Metadata)
		if decErr != nil {
			continue
		}
		if !filter.Match(payload) {
			continue
		}
		hits = append(hits, vectorstore.SearchHit{
			Point: vectorstore.Point{
				ID:      r.ID,
				Vector:  r.Embedding,
				Payload: payload,
			},
			Score: float64(r.Similarity),
		})
	}
	vectorstore.SortHitsDeterministic(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Scroll implements vectorstore.VectorStore. chromem-go exposes no
// native enumeration API, so Scroll walks the collection's documents via
// a zero-vector query large enough to cover the whole collection and
// applies the filter and cursor client-side.
func (s *Store) Scroll(ctx context.Context, name string, filter vectorstore.Filter, cursor string, pageSize int) (vectorstore.ScrollPage, error) {
	s.mu.RLock()
	c, exists := s.cols[name]
	s.mu.RUnlock()
	if !exists {
		return vectorstore.ScrollPage{}, fmt.Errorf("chromemstore: collection %q not ensured", name)
	}
	col := c.col
	if pageSize <= 0 {
		pageSize = 50
	}

	count := col.Count()
	if count == 0 {
		return vectorstore.ScrollPage{}, nil
	}
	zero := make([]float32, c.dim)
	results, err := col.QueryEmbedding(ctx, zero, count, nil, nil)
	if err != nil && !isInsufficientDocsError(err) {
		return vectorstore.ScrollPage{}, vectorstore.Unavailable("chromemstore: scroll", err)
	}

	var matched []vectorstore.Point
	for _, r := range results {
		payload, decErr := decodePayload(r.Metadata)
		if decErr != nil {
			continue
		}
		if !filter.Match(payload) {
			continue
		}
		matched = append(matched, vectorstore.Point{ID: r.ID, Vector: r.Embedding, Payload: payload})
	}
	vectorstore.SortHitsDeterministic(wrapAsHits(matched))

	start := 0
	if cursor != "" {
		n, convErr := strconv.Atoi(cursor)
		if convErr == nil {
			start = n
		}
	}
	if start >= len(matched) {
		return vectorstore.ScrollPage{}, nil
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	page := vectorstore.ScrollPage{Points: matched[start:end]}
	if end < len(matched) {
		page.Cursor = strconv.Itoa(end)
	}
	return page, nil
}

func wrapAsHits(points []vectorstore.Point) []vectorstore.SearchHit {
	hits := make([]vectorstore.SearchHit, len(points))
	for i, p := range points {
		hits[i] = vectorstore.SearchHit{Point: p}
	}
	return hits
}

// UpdatePayload implements vectorstore.VectorStore. chromem-go has no
// partial-update primitive, so this reads the document back via a
// targeted query and re-adds it with merged metadata.
func (s *Store) UpdatePayload(ctx context.Context, name, id string, partial map[string]any) error {
	col, err := s.getCollection(name)
	if err != nil {
		return err
	}
	doc, err := col.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("chromemstore: update_payload: %w", err)
	}
	payload, err := decodePayload(doc.Metadata)
	if err != nil {
		return err
	}
	for k, v := range partial {
		payload[k] = v
	}
	return s.Upsert(ctx, name, vectorstore.Point{ID: id, Vector: doc.Embedding, Payload: payload})
}

// Delete implements vectorstore.VectorStore.
func (s *Store) Delete(ctx context.Context, name, id string) error {
	col, err := s.getCollection(name)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return vectorstore.Unavailable("chromemstore: delete", err)
	}
	return nil
}

func encodeDoc(p vectorstore.Point) (chromem.Document, error) {
	meta := make(map[string]string, len(p.Payload))
	for k, v := range p.Payload {
		meta[k] = encodeValue(v)
	}
	return chromem.Document{ID: p.ID, Embedding: p.Vector, Metadata: meta}, nil
}

func encodeValue(v any) string {
	if v == nil {
		return "\x00null"
	}
	switch t := v.(type) {
	case string:
		return t
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return "\x00json" + string(b)
}

func decodePayload(meta map[string]string) (map[string]any, error) {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		switch {
		case v == "\x00null":
			out[k] = nil
		case strings.HasPrefix(v, "\x00json"):
			var val any
			if err := json.Unmarshal([]byte(v[5:]), &val); err != nil {
				return nil, err
			}
			out[k] = val
		default:
			out[k] = v
		}
	}
	return out, nil
}

func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}
