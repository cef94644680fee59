package kernel

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/scrypster/memoryanchor/internal/project"
	"github.com/scrypster/memoryanchor/internal/vectorstore"
	"github.com/scrypster/memoryanchor/pkg/types"
)

// exportRecord is one JSON-line record: every persisted Memory field
// plus its embedding, base64-encoded as little-endian float32s.
type exportRecord struct {
	ID           string   `json:"id"`
	Content      string   `json:"content"`
	Layer        string   `json:"layer"`
	Category     string   `json:"category,omitempty"`
	Confidence   float64  `json:"confidence"`
	CreatedAt    string   `json:"created_at"`
	ValidAt      string   `json:"valid_at,omitempty"`
	ExpiresAt    string   `json:"expires_at,omitempty"`
	CreatedBy    string   `json:"created_by,omitempty"`
	SessionID    string   `json:"session_id,omitempty"`
	RelatedFiles []string `json:"related_files,omitempty"`
	IsActive     bool     `json:"is_active"`
	Vector       string   `json:"vector"`
}

// Export walks every point in projectID's collection via Scroll and
// writes one JSON line per memory. Records are order-independent: a
// caller may re-import them in any order.
func (k *Kernel) Export(ctx context.Context, projectID string) (io.Reader, error) {
	collection := project.CollectionName(projectID)
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	cursor := ""
	for {
		page, err := k.vectors.Scroll(ctx, collection, nil, cursor, 200)
		if err != nil {
			return nil, fmt.Errorf("kernel: export scroll: %w", err)
		}
		for _, pt := range page.Points {
			mem := fromPayload(pt)
			rec := exportRecord{
				ID: mem.ID, Content: mem.Content, Layer: string(mem.Layer), Category: string(mem.Category),
				Confidence: mem.Confidence, CreatedAt: mem.CreatedAt.UTC().Format(time.RFC3339Nano),
				CreatedBy: mem.CreatedBy, SessionID: mem.SessionID, RelatedFiles: mem.RelatedFiles,
				IsActive: mem.IsActive, Vector: encodeVector(pt.Vector),
			}
			if mem.ValidAt != nil {
				rec.ValidAt = mem.ValidAt.UTC().Format(time.RFC3339Nano)
			}
			if mem.ExpiresAt != nil {
				rec.ExpiresAt = mem.ExpiresAt.UTC().Format(time.RFC3339Nano)
			}
			line, err := json.Marshal(rec)
			if err != nil {
				return nil, fmt.Errorf("kernel: export marshal %s: %w", mem.ID, err)
			}
			line = append(line, '\n')
			if _, err := w.Write(line); err != nil {
				return nil, fmt.Errorf("kernel: export write: %w", err)
			}
		}
		if page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("kernel: export flush: %w", err)
	}
	return &buf, nil
}

// Import reads JSON-line records from r and upserts each into
// projectID's collection by id. Re-importing the same export (or the
// same record twice within one call) is a no-op beyond the final
// upsert winning: import(export(S)) reproduces S, and double-import
// yields no duplicates, since every write is keyed by id.
func (k *Kernel) Import(ctx context.Context, projectID string, r io.Reader) (int, error) {
	effCfg := k.resolver.Resolve(projectID)
	collection := project.CollectionName(projectID)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	count := 0
	ensured := false
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec exportRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return count, fmt.Errorf("kernel: import decode: %w", err)
		}
		vec, err := decodeVector(rec.Vector)
		if err != nil {
			return count, fmt.Errorf("kernel: import decode vector %s: %w", rec.ID, err)
		}

		if !ensured {
			if err := k.vectors.EnsureCollection(ctx, collection, effCfg.VectorDim); err != nil {
				return count, err
			}
			ensured = true
		}

		mem := types.Memory{
			ID: rec.ID, Content: rec.Content, Layer: types.Layer(rec.Layer), Category: types.Category(rec.Category),
			Confidence: rec.Confidence, CreatedBy: rec.CreatedBy, SessionID: rec.SessionID,
			RelatedFiles: rec.RelatedFiles, IsActive: rec.IsActive,
		}
		mem.CreatedAt, _ = time.Parse(time.RFC3339Nano, rec.CreatedAt)
		if rec.ValidAt != "" {
			if t, err := time.Parse(time.RFC3339Nano, rec.ValidAt); err == nil {
				mem.ValidAt = &t
			}
		}
		if rec.ExpiresAt != "" {
			if t, err := time.Parse(time.RFC3339Nano, rec.ExpiresAt); err == nil {
				mem.ExpiresAt = &t
			}
		}

		if err := k.vectors.Upsert(ctx, collection, vectorstore.Point{ID: mem.ID, Vector: vec, Payload: toPayload(mem)}); err != nil {
			return count, fmt.Errorf("kernel: import upsert %s: %w", mem.ID, err)
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("kernel: import scan: %w", err)
	}
	return count, nil
}

func encodeVector(v []float32) string {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func decodeVector(s string) ([]float32, error) {
	if s == "" {
		return nil, nil
	}
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("vector byte length %d not a multiple of 4", len(buf))
	}
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out, nil
}
